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
	opCreateEvent    = "graph.create_event"
	opListEvents     = "graph.list_events"
	opDeleteEvent    = "graph.delete_event"
	opTouchEvent     = "graph.touch_event"
	opRecentAIEvents = "graph.recent_ai_events"
	opAddTags        = "graph.add_tags"
	opListTags       = "graph.list_tags"

	eventTagsTable  = "event_tags"
	eventMediaTable = "event_media"
)

// EventInput describes an event to attach to a node.
type EventInput struct {
	NodeID      string
	Type        string
	Description string
	AddedBy     Provenance
	Tags        []string
}

// CreateEvent records an event on an existing node.
func (s *Service) CreateEvent(ctx context.Context, input EventInput) (Event, error) {
	if err := s.ready(opCreateEvent); err != nil {
		return Event{}, err
	}
	nodeID, err := validateID("node", input.NodeID)
	if err != nil {
		return Event{}, invalid(opCreateEvent, err)
	}
	addedBy := input.AddedBy
	if addedBy == "" {
		addedBy = ProvenanceUser
	}
	description := strings.TrimSpace(input.Description)
	if description == "" && addedBy == ProvenanceUser {
		return Event{}, invalid(opCreateEvent, fmt.Errorf("%w: description is required", ErrValidation))
	}
	eventType := strings.TrimSpace(input.Type)
	if eventType == "" {
		eventType = EventTypeNote
	}
	tags, err := parseTagNames(input.Tags)
	if err != nil {
		return Event{}, invalid(opCreateEvent, err)
	}

	eventID, err := s.newID(opCreateEvent)
	if err != nil {
		return Event{}, err
	}
	now := s.now()
	event := Event{
		ID:        eventID,
		NodeID:    nodeID,
		Type:      eventType,
		AddedBy:   addedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if description != "" {
		event.Description = &description
	}

	transactionErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, loadErr := s.loadNode(tx, opCreateEvent, nodeID); loadErr != nil {
			return loadErr
		}
		if err := tx.Omit(clause.Associations).Create(&event).Error; err != nil {
			return s.failed(opCreateEvent, reasonInsertFailed, err, zap.String(fieldNodeID, nodeID))
		}
		if len(tags) > 0 {
			if err := s.associateTagsTx(tx, opCreateEvent, eventID, tags); err != nil {
				return err
			}
		}
		return tx.Preload("Tags").Where("id = ?", eventID).Take(&event).Error
	})
	if transactionErr != nil {
		return Event{}, transactionErr
	}
	return event, nil
}

// GetEvent loads an event with its tags.
func (s *Service) GetEvent(ctx context.Context, id string) (Event, error) {
	if err := s.ready(opListEvents); err != nil {
		return Event{}, err
	}
	eventID, err := validateID("event", id)
	if err != nil {
		return Event{}, invalid(opListEvents, err)
	}
	var event Event
	loadErr := s.db.WithContext(ctx).Preload("Tags").Where("id = ?", eventID).Take(&event).Error
	if errors.Is(loadErr, gorm.ErrRecordNotFound) {
		return Event{}, notFound(opListEvents, "event", eventID)
	}
	if loadErr != nil {
		return Event{}, s.failed(opListEvents, reasonQueryFailed, loadErr, zap.String(fieldEventID, eventID))
	}
	return event, nil
}

// ListEvents returns the events of a node, newest first.
func (s *Service) ListEvents(ctx context.Context, nodeID string) ([]Event, error) {
	if err := s.ready(opListEvents); err != nil {
		return nil, err
	}
	id, err := validateID("node", nodeID)
	if err != nil {
		return nil, invalid(opListEvents, err)
	}
	var events []Event
	if err := s.db.WithContext(ctx).
		Preload("Tags").
		Where("node_id = ?", id).
		Order(orderCreatedAtDesc).
		Find(&events).Error; err != nil {
		return nil, s.failed(opListEvents, reasonQueryFailed, err, zap.String(fieldNodeID, id))
	}
	return events, nil
}

// RecentAIEvents lists events created by ingestion, newest first.
func (s *Service) RecentAIEvents(ctx context.Context, limit int) ([]Event, error) {
	if err := s.ready(opRecentAIEvents); err != nil {
		return nil, err
	}
	var events []Event
	if err := s.db.WithContext(ctx).
		Preload("Tags").
		Where("added_by = ?", string(ProvenanceAI)).
		Order(orderCreatedAtDesc).
		Limit(clampLimit(limit, defaultSearchLimit, maxListLimit)).
		Find(&events).Error; err != nil {
		return nil, s.failed(opRecentAIEvents, reasonQueryFailed, err)
	}
	return events, nil
}

// DeleteEvent removes an event with its tag and media joins, then drops media nothing references anymore.
func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	if err := s.ready(opDeleteEvent); err != nil {
		return err
	}
	eventID, err := validateID("event", id)
	if err != nil {
		return invalid(opDeleteEvent, err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Event{}).Where("id = ?", eventID).Count(&count).Error; err != nil {
			return s.failed(opDeleteEvent, reasonQueryFailed, err, zap.String(fieldEventID, eventID))
		}
		if count == 0 {
			return notFound(opDeleteEvent, "event", eventID)
		}
		candidates, err := s.deleteEventsTx(tx, opDeleteEvent, []string{eventID})
		if err != nil {
			return err
		}
		return s.collectOrphanMediaTx(tx, opDeleteEvent, candidates)
	})
}

// deleteEventsTx removes the events and their joins and returns the media ids they referenced.
func (s *Service) deleteEventsTx(tx *gorm.DB, operation string, eventIDs []string) ([]string, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	var mediaIDs []string
	if err := tx.Model(&EventMedia{}).Where("event_id IN ?", eventIDs).Distinct().Pluck("media_id", &mediaIDs).Error; err != nil {
		return nil, s.failed(operation, reasonQueryFailed, err)
	}
	if err := tx.Exec("DELETE FROM "+eventMediaTable+" WHERE event_id IN ?", eventIDs).Error; err != nil {
		return nil, s.failed(operation, reasonDeleteFailed, err)
	}
	if err := tx.Exec("DELETE FROM "+eventTagsTable+" WHERE event_id IN ?", eventIDs).Error; err != nil {
		return nil, s.failed(operation, reasonDeleteFailed, err)
	}
	if err := tx.Where("id IN ?", eventIDs).Delete(&Event{}).Error; err != nil {
		return nil, s.failed(operation, reasonDeleteFailed, err)
	}
	return mediaIDs, nil
}

// TouchEvent bumps updated_at.
func (s *Service) TouchEvent(ctx context.Context, id string) error {
	if err := s.ready(opTouchEvent); err != nil {
		return err
	}
	eventID, err := validateID("event", id)
	if err != nil {
		return invalid(opTouchEvent, err)
	}
	result := s.db.WithContext(ctx).Model(&Event{}).Where("id = ?", eventID).Update("updated_at", s.now())
	if result.Error != nil {
		return s.failed(opTouchEvent, reasonUpdateFailed, result.Error, zap.String(fieldEventID, eventID))
	}
	if result.RowsAffected == 0 {
		return notFound(opTouchEvent, "event", eventID)
	}
	return nil
}

// AddTags upserts tags by slug and associates them with the event.
func (s *Service) AddTags(ctx context.Context, id string, names []string) (Event, error) {
	if err := s.ready(opAddTags); err != nil {
		return Event{}, err
	}
	eventID, err := validateID("event", id)
	if err != nil {
		return Event{}, invalid(opAddTags, err)
	}
	tags, err := parseTagNames(names)
	if err != nil {
		return Event{}, invalid(opAddTags, err)
	}
	var event Event
	transactionErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Event{}).Where("id = ?", eventID).Count(&count).Error; err != nil {
			return s.failed(opAddTags, reasonQueryFailed, err, zap.String(fieldEventID, eventID))
		}
		if count == 0 {
			return notFound(opAddTags, "event", eventID)
		}
		if err := s.associateTagsTx(tx, opAddTags, eventID, tags); err != nil {
			return err
		}
		return tx.Preload("Tags").Where("id = ?", eventID).Take(&event).Error
	})
	if transactionErr != nil {
		return Event{}, transactionErr
	}
	return event, nil
}

// ListTags returns every tag ordered by name.
func (s *Service) ListTags(ctx context.Context) ([]Tag, error) {
	if err := s.ready(opListTags); err != nil {
		return nil, err
	}
	var tags []Tag
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&tags).Error; err != nil {
		return nil, s.failed(opListTags, reasonQueryFailed, err)
	}
	return tags, nil
}

type tagName struct {
	slug string
	name string
}

func parseTagNames(names []string) ([]tagName, error) {
	seen := make(map[string]struct{}, len(names))
	tags := make([]tagName, 0, len(names))
	for _, raw := range names {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		slug, name, err := slugAndName("tag", raw)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[slug]; ok {
			continue
		}
		seen[slug] = struct{}{}
		tags = append(tags, tagName{slug: slug, name: name})
	}
	return tags, nil
}

func (s *Service) associateTagsTx(tx *gorm.DB, operation, eventID string, tags []tagName) error {
	for _, tag := range tags {
		tagID, err := s.newID(operation)
		if err != nil {
			return err
		}
		candidate := Tag{ID: tagID, Slug: tag.slug, Name: tag.name}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoNothing: true,
		}).Create(&candidate).Error; err != nil {
			return s.failed(operation, reasonInsertFailed, err, zap.String("tag_slug", tag.slug))
		}
		var stored Tag
		if err := tx.Where("slug = ?", tag.slug).Take(&stored).Error; err != nil {
			return s.failed(operation, reasonQueryFailed, err, zap.String("tag_slug", tag.slug))
		}
		if err := tx.Exec(
			"INSERT INTO "+eventTagsTable+" (event_id, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING",
			eventID, stored.ID,
		).Error; err != nil {
			return s.failed(operation, reasonInsertFailed, err, zap.String(fieldEventID, eventID))
		}
	}
	return nil
}
