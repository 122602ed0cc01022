package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opEnsureLink   = "graph.ensure_link"
	opListLinks    = "graph.list_links"
	opDeleteLink   = "graph.delete_link"
	opLinksForNode = "graph.links_for_node"
	opListRoles    = "graph.list_roles"

	linkRolesTable = "link_roles"
)

// LinkRequest describes an undirected link between two nodes, optionally annotated with a role.
type LinkRequest struct {
	NodeIDs  [2]string
	RoleName string
}

// CanonicalPair validates two node ids and returns them in ascending order.
func CanonicalPair(first, second string) (string, string, error) {
	a, err := validateID("node", first)
	if err != nil {
		return "", "", err
	}
	b, err := validateID("node", second)
	if err != nil {
		return "", "", err
	}
	if a == b {
		return "", "", fmt.Errorf("%w: node ids must differ", ErrValidation)
	}
	if b < a {
		a, b = b, a
	}
	return a, b, nil
}

// EnsureLink creates the link between two nodes when absent and attaches the optional role.
// Calling it repeatedly with the same pair, in either order, leaves exactly one link.
func (s *Service) EnsureLink(ctx context.Context, request LinkRequest) (Link, error) {
	if err := s.ready(opEnsureLink); err != nil {
		return Link{}, err
	}
	nodeAID, nodeBID, err := CanonicalPair(request.NodeIDs[0], request.NodeIDs[1])
	if err != nil {
		return Link{}, invalid(opEnsureLink, err)
	}
	var roleSlug, roleName string
	if strings.TrimSpace(request.RoleName) != "" {
		roleSlug, roleName, err = slugAndName("role", request.RoleName)
		if err != nil {
			return Link{}, invalid(opEnsureLink, err)
		}
	}

	var link Link
	transactionErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, nodeID := range []string{nodeAID, nodeBID} {
			if _, loadErr := s.loadNode(tx, opEnsureLink, nodeID); loadErr != nil {
				return loadErr
			}
		}

		linkID, idErr := s.newID(opEnsureLink)
		if idErr != nil {
			return idErr
		}
		candidate := Link{ID: linkID, NodeAID: nodeAID, NodeBID: nodeBID, CreatedAt: s.now()}
		if createErr := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "node_a_id"}, {Name: "node_b_id"}},
			DoNothing: true,
		}).Create(&candidate).Error; createErr != nil {
			return s.failed(opEnsureLink, reasonInsertFailed, createErr,
				zap.String("node_a_id", nodeAID), zap.String("node_b_id", nodeBID))
		}

		if err := tx.Where("node_a_id = ? AND node_b_id = ?", nodeAID, nodeBID).Take(&link).Error; err != nil {
			return s.failed(opEnsureLink, reasonQueryFailed, err,
				zap.String("node_a_id", nodeAID), zap.String("node_b_id", nodeBID))
		}

		if roleSlug != "" {
			role, roleErr := s.upsertRoleTx(tx, roleSlug, roleName)
			if roleErr != nil {
				return roleErr
			}
			if err := tx.Exec(
				"INSERT INTO "+linkRolesTable+" (link_id, role_id) VALUES (?, ?) ON CONFLICT DO NOTHING",
				link.ID, role.ID,
			).Error; err != nil {
				return s.failed(opEnsureLink, reasonInsertFailed, err, zap.String(fieldLinkID, link.ID))
			}
		}

		return tx.Preload("Roles").Where("id = ?", link.ID).Take(&link).Error
	})
	if transactionErr != nil {
		return Link{}, transactionErr
	}
	return link, nil
}

func (s *Service) upsertRoleTx(tx *gorm.DB, slug, name string) (Role, error) {
	roleID, err := s.newID(opEnsureLink)
	if err != nil {
		return Role{}, err
	}
	candidate := Role{ID: roleID, Slug: slug, Name: name}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoNothing: true,
	}).Create(&candidate).Error; err != nil {
		return Role{}, s.failed(opEnsureLink, reasonInsertFailed, err, zap.String("role_slug", slug))
	}
	var role Role
	if err := tx.Where("slug = ?", slug).Take(&role).Error; err != nil {
		return Role{}, s.failed(opEnsureLink, reasonQueryFailed, err, zap.String("role_slug", slug))
	}
	return role, nil
}

// ListLinks returns every link with its roles.
func (s *Service) ListLinks(ctx context.Context) ([]Link, error) {
	if err := s.ready(opListLinks); err != nil {
		return nil, err
	}
	var links []Link
	if err := s.db.WithContext(ctx).Preload("Roles").Order(orderCreatedAtDesc).Find(&links).Error; err != nil {
		return nil, s.failed(opListLinks, reasonQueryFailed, err)
	}
	return links, nil
}

// LinksForNode returns the links touching a node.
func (s *Service) LinksForNode(ctx context.Context, nodeID string) ([]Link, error) {
	if err := s.ready(opLinksForNode); err != nil {
		return nil, err
	}
	id, err := validateID("node", nodeID)
	if err != nil {
		return nil, invalid(opLinksForNode, err)
	}
	var links []Link
	if err := s.db.WithContext(ctx).
		Preload("Roles").
		Where("node_a_id = ? OR node_b_id = ?", id, id).
		Order(orderCreatedAtDesc).
		Find(&links).Error; err != nil {
		return nil, s.failed(opLinksForNode, reasonQueryFailed, err, zap.String(fieldNodeID, id))
	}
	return links, nil
}

// DeleteLink removes a link and its role associations.
func (s *Service) DeleteLink(ctx context.Context, linkID string) error {
	if err := s.ready(opDeleteLink); err != nil {
		return err
	}
	id, err := validateID("link", linkID)
	if err != nil {
		return invalid(opDeleteLink, err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link Link
		loadErr := tx.Where("id = ?", id).Take(&link).Error
		if errors.Is(loadErr, gorm.ErrRecordNotFound) {
			return notFound(opDeleteLink, "link", id)
		}
		if loadErr != nil {
			return s.failed(opDeleteLink, reasonQueryFailed, loadErr, zap.String(fieldLinkID, id))
		}
		if err := tx.Exec("DELETE FROM "+linkRolesTable+" WHERE link_id = ?", id).Error; err != nil {
			return s.failed(opDeleteLink, reasonDeleteFailed, err, zap.String(fieldLinkID, id))
		}
		if err := tx.Where("id = ?", id).Delete(&Link{}).Error; err != nil {
			return s.failed(opDeleteLink, reasonDeleteFailed, err, zap.String(fieldLinkID, id))
		}
		return nil
	})
}

// ListRoles returns every known role ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	if err := s.ready(opListRoles); err != nil {
		return nil, err
	}
	var roles []Role
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&roles).Error; err != nil {
		return nil, s.failed(opListRoles, reasonQueryFailed, err)
	}
	return roles, nil
}
