package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	opCreateNode         = "graph.create_node"
	opUpdateNode         = "graph.update_node"
	opGetNode            = "graph.get_node"
	opListNodes          = "graph.list_nodes"
	opDeleteNode         = "graph.delete_node"
	opSearchNodes        = "graph.search_nodes"
	opArchiveNode        = "graph.archive_node"
	opSetNodeImage       = "graph.set_node_image"
	opUpdateNodeColors   = "graph.update_node_colors"
	opRecentAINodes      = "graph.recent_ai_nodes"
	opKnownOrganizations = "graph.known_organizations"
	opKnownFirstNames    = "graph.known_first_names"

	orderCreatedAtDesc = "created_at DESC"
	likeEscape         = "\\"
	defaultSearchLimit = 20
	maxListLimit       = 500
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(strings.ToLower(value))
}

// NodeInput describes a node to create.
type NodeInput struct {
	Label    string
	Type     string
	Metadata json.RawMessage
	AddedBy  Provenance
}

// NodeUpdate carries the mutable node fields; nil fields are left untouched.
type NodeUpdate struct {
	Label    *string
	Type     *string
	Metadata json.RawMessage
}

// CreateNode inserts a node with a palette-assigned color pair.
func (s *Service) CreateNode(ctx context.Context, input NodeInput) (Node, error) {
	if err := s.ready(opCreateNode); err != nil {
		return Node{}, err
	}
	label := strings.TrimSpace(input.Label)
	if label == "" {
		return Node{}, invalid(opCreateNode, fmt.Errorf("%w: label is required", ErrValidation))
	}
	nodeType, err := ParseNodeType(input.Type)
	if err != nil {
		return Node{}, invalid(opCreateNode, err)
	}
	metadata, err := metadataJSON(input.Metadata)
	if err != nil {
		return Node{}, invalid(opCreateNode, err)
	}
	addedBy := input.AddedBy
	if addedBy == "" {
		addedBy = ProvenanceUser
	}
	return s.insertNode(ctx, opCreateNode, label, nodeType, metadata, addedBy)
}

func (s *Service) insertNode(ctx context.Context, operation, label string, nodeType *NodeType, metadata datatypes.JSON, addedBy Provenance) (Node, error) {
	id, err := s.newID(operation)
	if err != nil {
		return Node{}, err
	}
	colors := s.palette.Pick()
	now := s.now()
	node := Node{
		ID:            id,
		Label:         label,
		LabelKey:      NormalizeLabel(label),
		Type:          nodeType,
		ColorHexLight: colors.Light,
		ColorHexDark:  colors.Dark,
		AddedBy:       addedBy,
		Metadata:      metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(&node).Error; err != nil {
		return Node{}, s.failed(operation, reasonInsertFailed, err, zap.String(fieldLabel, label))
	}
	return node, nil
}

// GetNode loads a node by id.
func (s *Service) GetNode(ctx context.Context, id string) (Node, error) {
	if err := s.ready(opGetNode); err != nil {
		return Node{}, err
	}
	nodeID, err := validateID("node", id)
	if err != nil {
		return Node{}, invalid(opGetNode, err)
	}
	return s.loadNode(s.db.WithContext(ctx), opGetNode, nodeID)
}

func (s *Service) loadNode(tx *gorm.DB, operation, nodeID string) (Node, error) {
	var node Node
	err := tx.Where("id = ?", nodeID).Take(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Node{}, notFound(operation, "node", nodeID)
	}
	if err != nil {
		return Node{}, s.failed(operation, reasonQueryFailed, err, zap.String(fieldNodeID, nodeID))
	}
	return node, nil
}

// UpdateNode renames a node, changes its type or replaces its metadata.
func (s *Service) UpdateNode(ctx context.Context, id string, update NodeUpdate) (Node, error) {
	if err := s.ready(opUpdateNode); err != nil {
		return Node{}, err
	}
	nodeID, err := validateID("node", id)
	if err != nil {
		return Node{}, invalid(opUpdateNode, err)
	}
	changes := map[string]any{}
	if update.Label != nil {
		label := strings.TrimSpace(*update.Label)
		if label == "" {
			return Node{}, invalid(opUpdateNode, fmt.Errorf("%w: label is required", ErrValidation))
		}
		changes["label"] = label
		changes["label_key"] = NormalizeLabel(label)
	}
	if update.Type != nil {
		nodeType, typeErr := ParseNodeType(*update.Type)
		if typeErr != nil {
			return Node{}, invalid(opUpdateNode, typeErr)
		}
		if nodeType == nil {
			changes["type"] = nil
		} else {
			changes["type"] = string(*nodeType)
		}
	}
	if update.Metadata != nil {
		metadata, metaErr := metadataJSON(update.Metadata)
		if metaErr != nil {
			return Node{}, invalid(opUpdateNode, metaErr)
		}
		changes["metadata"] = metadata
	}
	return s.updateNodeColumns(ctx, opUpdateNode, nodeID, changes)
}

func (s *Service) updateNodeColumns(ctx context.Context, operation, nodeID string, changes map[string]any) (Node, error) {
	var node Node
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, loadErr := s.loadNode(tx, operation, nodeID)
		if loadErr != nil {
			return loadErr
		}
		if len(changes) > 0 {
			changes["updated_at"] = s.now()
			if updateErr := tx.Model(&Node{}).Where("id = ?", nodeID).Updates(changes).Error; updateErr != nil {
				return s.failed(operation, reasonUpdateFailed, updateErr, zap.String(fieldNodeID, nodeID))
			}
			loaded, loadErr = s.loadNode(tx, operation, nodeID)
			if loadErr != nil {
				return loadErr
			}
		}
		node = loaded
		return nil
	})
	if err != nil {
		return Node{}, err
	}
	return node, nil
}

// ListNodes returns nodes newest first.
func (s *Service) ListNodes(ctx context.Context, includeArchived bool) ([]Node, error) {
	if err := s.ready(opListNodes); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Order(orderCreatedAtDesc)
	if !includeArchived {
		query = query.Where("archived = ?", false)
	}
	var nodes []Node
	if err := query.Find(&nodes).Error; err != nil {
		return nil, s.failed(opListNodes, reasonQueryFailed, err)
	}
	return nodes, nil
}

// SearchNodes matches labels by case-insensitive substring.
func (s *Service) SearchNodes(ctx context.Context, query string, limit int) ([]Node, error) {
	if err := s.ready(opSearchNodes); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return []Node{}, nil
	}
	var nodes []Node
	err := s.db.WithContext(ctx).
		Where("label_key LIKE ? ESCAPE ?", "%"+escapeLike(trimmed)+"%", likeEscape).
		Order(orderCreatedAtDesc).
		Limit(clampLimit(limit, defaultSearchLimit, maxListLimit)).
		Find(&nodes).Error
	if err != nil {
		return nil, s.failed(opSearchNodes, reasonQueryFailed, err)
	}
	return nodes, nil
}

// ArchiveNode toggles the archived flag.
func (s *Service) ArchiveNode(ctx context.Context, id string, archived bool) (Node, error) {
	if err := s.ready(opArchiveNode); err != nil {
		return Node{}, err
	}
	nodeID, err := validateID("node", id)
	if err != nil {
		return Node{}, invalid(opArchiveNode, err)
	}
	return s.updateNodeColumns(ctx, opArchiveNode, nodeID, map[string]any{"archived": archived})
}

// SetNodeImage assigns (or clears, with nil) the avatar media of a node.
func (s *Service) SetNodeImage(ctx context.Context, id string, mediaID *string) (Node, error) {
	if err := s.ready(opSetNodeImage); err != nil {
		return Node{}, err
	}
	nodeID, err := validateID("node", id)
	if err != nil {
		return Node{}, invalid(opSetNodeImage, err)
	}
	var value *string
	if mediaID != nil && strings.TrimSpace(*mediaID) != "" {
		trimmed, idErr := validateID("media", *mediaID)
		if idErr != nil {
			return Node{}, invalid(opSetNodeImage, idErr)
		}
		var count int64
		if countErr := s.db.WithContext(ctx).Model(&Media{}).Where("id = ?", trimmed).Count(&count).Error; countErr != nil {
			return Node{}, s.failed(opSetNodeImage, reasonQueryFailed, countErr, zap.String(fieldMediaID, trimmed))
		}
		if count == 0 {
			return Node{}, notFound(opSetNodeImage, "media", trimmed)
		}
		value = &trimmed
	}
	return s.updateNodeColumns(ctx, opSetNodeImage, nodeID, map[string]any{"image_media_id": value})
}

// UpdateNodeColors replaces both theme swatches.
func (s *Service) UpdateNodeColors(ctx context.Context, id string, colors ColorPair) (Node, error) {
	if err := s.ready(opUpdateNodeColors); err != nil {
		return Node{}, err
	}
	nodeID, err := validateID("node", id)
	if err != nil {
		return Node{}, invalid(opUpdateNodeColors, err)
	}
	if err := ValidateColorHex(colors.Light); err != nil {
		return Node{}, invalid(opUpdateNodeColors, err)
	}
	if err := ValidateColorHex(colors.Dark); err != nil {
		return Node{}, invalid(opUpdateNodeColors, err)
	}
	return s.updateNodeColumns(ctx, opUpdateNodeColors, nodeID, map[string]any{
		"color_hex_light": colors.Light,
		"color_hex_dark":  colors.Dark,
	})
}

// RecentAINodes lists nodes created by ingestion, newest first.
func (s *Service) RecentAINodes(ctx context.Context, limit int) ([]Node, error) {
	if err := s.ready(opRecentAINodes); err != nil {
		return nil, err
	}
	var nodes []Node
	err := s.db.WithContext(ctx).
		Where("added_by = ?", string(ProvenanceAI)).
		Order(orderCreatedAtDesc).
		Limit(clampLimit(limit, defaultSearchLimit, maxListLimit)).
		Find(&nodes).Error
	if err != nil {
		return nil, s.failed(opRecentAINodes, reasonQueryFailed, err)
	}
	return nodes, nil
}

// DeleteNode removes a node with its links, events, and any media left unreferenced.
func (s *Service) DeleteNode(ctx context.Context, id string) error {
	if err := s.ready(opDeleteNode); err != nil {
		return err
	}
	nodeID, err := validateID("node", id)
	if err != nil {
		return invalid(opDeleteNode, err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		node, loadErr := s.loadNode(tx, opDeleteNode, nodeID)
		if loadErr != nil {
			return loadErr
		}

		var linkIDs []string
		if err := tx.Model(&Link{}).Where("node_a_id = ? OR node_b_id = ?", nodeID, nodeID).Pluck("id", &linkIDs).Error; err != nil {
			return s.failed(opDeleteNode, reasonQueryFailed, err, zap.String(fieldNodeID, nodeID))
		}
		if len(linkIDs) > 0 {
			if err := tx.Exec("DELETE FROM "+linkRolesTable+" WHERE link_id IN ?", linkIDs).Error; err != nil {
				return s.failed(opDeleteNode, reasonDeleteFailed, err, zap.String(fieldNodeID, nodeID))
			}
			if err := tx.Where("id IN ?", linkIDs).Delete(&Link{}).Error; err != nil {
				return s.failed(opDeleteNode, reasonDeleteFailed, err, zap.String(fieldNodeID, nodeID))
			}
		}

		var eventIDs []string
		if err := tx.Model(&Event{}).Where("node_id = ?", nodeID).Pluck("id", &eventIDs).Error; err != nil {
			return s.failed(opDeleteNode, reasonQueryFailed, err, zap.String(fieldNodeID, nodeID))
		}
		candidates, err := s.deleteEventsTx(tx, opDeleteNode, eventIDs)
		if err != nil {
			return err
		}
		if node.ImageMediaID != nil {
			candidates = append(candidates, *node.ImageMediaID)
		}

		if err := tx.Where("id = ?", nodeID).Delete(&Node{}).Error; err != nil {
			return s.failed(opDeleteNode, reasonDeleteFailed, err, zap.String(fieldNodeID, nodeID))
		}
		return s.collectOrphanMediaTx(tx, opDeleteNode, candidates)
	})
}

// KnownOrganizations returns labels of company and group nodes, newest first.
func (s *Service) KnownOrganizations(ctx context.Context, limit int) ([]string, error) {
	if err := s.ready(opKnownOrganizations); err != nil {
		return nil, err
	}
	var labels []string
	err := s.db.WithContext(ctx).Model(&Node{}).
		Where("type IN ?", []string{string(NodeTypeCompany), string(NodeTypeGroup)}).
		Order(orderCreatedAtDesc).
		Limit(clampLimit(limit, maxListLimit, maxListLimit)).
		Pluck("label", &labels).Error
	if err != nil {
		return nil, s.failed(opKnownOrganizations, reasonQueryFailed, err)
	}
	result := make([]string, 0, len(labels))
	for _, label := range labels {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result, nil
}

// KnownFirstNames returns distinct first tokens (two characters or more) of person labels, newest first.
func (s *Service) KnownFirstNames(ctx context.Context, limit int) ([]string, error) {
	if err := s.ready(opKnownFirstNames); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, maxListLimit, maxListLimit)
	var labels []string
	err := s.db.WithContext(ctx).Model(&Node{}).
		Where("type = ?", string(NodeTypePerson)).
		Order(orderCreatedAtDesc).
		Pluck("label", &labels).Error
	if err != nil {
		return nil, s.failed(opKnownFirstNames, reasonQueryFailed, err)
	}
	seen := make(map[string]struct{}, len(labels))
	names := make([]string, 0, limit)
	for _, label := range labels {
		tokens := strings.Fields(label)
		if len(tokens) == 0 || utf8.RuneCountInString(tokens[0]) < 2 {
			continue
		}
		if _, ok := seen[tokens[0]]; ok {
			continue
		}
		seen[tokens[0]] = struct{}{}
		names = append(names, tokens[0])
		if len(names) == limit {
			break
		}
	}
	return names, nil
}

func metadataJSON(raw json.RawMessage) (datatypes.JSON, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: metadata is not valid JSON", ErrValidation)
	}
	return datatypes.JSON(raw), nil
}
