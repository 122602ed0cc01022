package graph

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

const opResolveLabel = "graph.resolve_label"

// Resolution is the outcome of mapping a label onto a node.
type Resolution struct {
	NodeID  string
	Created bool
}

// ResolveLabel maps a free-text label to a node, creating an AI-provenance node when nothing matches.
//
// Candidates are fetched with one disjunctive query over three tiers: exact case-insensitive
// equality, first and last token both contained (labels of two tokens or more), and first-token
// prefix. The best tier wins and ties go to the newest node. Lookup and creation are not
// serialized, so concurrent resolutions of an unseen label may each create a node.
func (s *Service) ResolveLabel(ctx context.Context, label string) (Resolution, error) {
	if err := s.ready(opResolveLabel); err != nil {
		return Resolution{}, err
	}
	trimmed := strings.TrimSpace(label)
	tokens := strings.Fields(trimmed)
	if len(tokens) == 0 {
		return Resolution{}, invalid(opResolveLabel, fmt.Errorf("%w: label is required", ErrValidation))
	}

	exact := NormalizeLabel(trimmed)
	first := "%" + escapeLike(tokens[0]) + "%"
	last := "%" + escapeLike(tokens[len(tokens)-1]) + "%"
	prefix := escapeLike(tokens[0]) + "%"

	conditions := []string{"label_key = ?"}
	args := []any{exact}
	rankSQL := "CASE WHEN label_key = ? THEN 0"
	rankArgs := []any{exact}
	if len(tokens) >= 2 {
		conditions = append(conditions, "(label_key LIKE ? ESCAPE ? AND label_key LIKE ? ESCAPE ?)")
		args = append(args, first, likeEscape, last, likeEscape)
		rankSQL += " WHEN label_key LIKE ? ESCAPE ? AND label_key LIKE ? ESCAPE ? THEN 1"
		rankArgs = append(rankArgs, first, likeEscape, last, likeEscape)
	}
	conditions = append(conditions, "label_key LIKE ? ESCAPE ?")
	args = append(args, prefix, likeEscape)
	rankSQL += " ELSE 2 END, created_at DESC"

	var matches []Node
	err := s.db.WithContext(ctx).
		Where(strings.Join(conditions, " OR "), args...).
		Order(clause.OrderBy{Expression: clause.Expr{SQL: rankSQL, Vars: rankArgs, WithoutParentheses: true}}).
		Limit(1).
		Find(&matches).Error
	if err != nil {
		return Resolution{}, s.failed(opResolveLabel, reasonQueryFailed, err, zap.String(fieldLabel, trimmed))
	}
	if len(matches) > 0 {
		return Resolution{NodeID: matches[0].ID}, nil
	}

	node, err := s.insertNode(ctx, opResolveLabel, trimmed, nil, nil, ProvenanceAI)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{NodeID: node.ID, Created: true}, nil
}
