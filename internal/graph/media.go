package graph

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opAttachMedia        = "graph.attach_media"
	opMediaForEvent      = "graph.media_for_event"
	opDetachMedia        = "graph.detach_media"
	opGetMedia           = "graph.get_media"
	opAssignNodeAvatar   = "graph.assign_node_avatar"
	opCollectOrphanMedia = "graph.collect_orphan_media"

	// DefaultMimeType is assumed when an upload or download does not declare one.
	DefaultMimeType = "image/jpeg"

	mediaKindImage = "image"
	mediaKindOther = "other"
)

// MediaUpload is a binary payload to attach to an event.
type MediaUpload struct {
	Data     []byte
	MimeType string
}

// AttachedMedia is a media record as seen through one event.
type AttachedMedia struct {
	Media
	Visible bool `json:"visible"`
}

// ContentHash returns the hex sha256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AttachMedia stores the payload once per content hash and joins it to the event as visible.
func (s *Service) AttachMedia(ctx context.Context, eventID string, upload MediaUpload) (Media, error) {
	if err := s.ready(opAttachMedia); err != nil {
		return Media{}, err
	}
	id, err := validateID("event", eventID)
	if err != nil {
		return Media{}, invalid(opAttachMedia, err)
	}
	if len(upload.Data) == 0 {
		return Media{}, invalid(opAttachMedia, fmt.Errorf("%w: media payload is empty", ErrValidation))
	}
	mimeType := normalizeMimeType(upload.MimeType)
	hash := ContentHash(upload.Data)

	var media Media
	transactionErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Event{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return s.failed(opAttachMedia, reasonQueryFailed, err, zap.String(fieldEventID, id))
		}
		if count == 0 {
			return notFound(opAttachMedia, "event", id)
		}

		mediaID, idErr := s.newID(opAttachMedia)
		if idErr != nil {
			return idErr
		}
		now := s.now()
		candidate := Media{
			ID:        mediaID,
			MimeType:  mimeType,
			Kind:      mediaKind(mimeType),
			ByteSize:  int64(len(upload.Data)),
			SHA256:    hash,
			Data:      upload.Data,
			CreatedAt: now,
		}
		if candidate.Kind == mediaKindImage {
			candidate.ImageWidth, candidate.ImageHeight = imageDimensions(upload.Data)
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sha256"}},
			DoNothing: true,
		}).Create(&candidate).Error; err != nil {
			return s.failed(opAttachMedia, reasonInsertFailed, err, zap.String(fieldEventID, id))
		}
		if err := tx.Omit("data").Where("sha256 = ?", hash).Take(&media).Error; err != nil {
			return s.failed(opAttachMedia, reasonQueryFailed, err, zap.String(fieldEventID, id))
		}

		join := EventMedia{EventID: id, MediaID: media.ID, Visible: true, CreatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "media_id"}},
			DoUpdates: clause.Assignments(map[string]any{"visible": true}),
		}).Create(&join).Error; err != nil {
			return s.failed(opAttachMedia, reasonInsertFailed, err,
				zap.String(fieldEventID, id), zap.String(fieldMediaID, media.ID))
		}
		return nil
	})
	if transactionErr != nil {
		return Media{}, transactionErr
	}
	return media, nil
}

// MediaForEvent lists the media joined to an event, without payloads.
func (s *Service) MediaForEvent(ctx context.Context, eventID string) ([]AttachedMedia, error) {
	if err := s.ready(opMediaForEvent); err != nil {
		return nil, err
	}
	id, err := validateID("event", eventID)
	if err != nil {
		return nil, invalid(opMediaForEvent, err)
	}
	var joins []EventMedia
	if err := s.db.WithContext(ctx).Where("event_id = ?", id).Order("created_at ASC").Find(&joins).Error; err != nil {
		return nil, s.failed(opMediaForEvent, reasonQueryFailed, err, zap.String(fieldEventID, id))
	}
	if len(joins) == 0 {
		return []AttachedMedia{}, nil
	}
	mediaIDs := make([]string, 0, len(joins))
	for _, join := range joins {
		mediaIDs = append(mediaIDs, join.MediaID)
	}
	var records []Media
	if err := s.db.WithContext(ctx).Omit("data").Where("id IN ?", mediaIDs).Find(&records).Error; err != nil {
		return nil, s.failed(opMediaForEvent, reasonQueryFailed, err, zap.String(fieldEventID, id))
	}
	byID := make(map[string]Media, len(records))
	for _, record := range records {
		byID[record.ID] = record
	}
	attached := make([]AttachedMedia, 0, len(joins))
	for _, join := range joins {
		record, ok := byID[join.MediaID]
		if !ok {
			continue
		}
		attached = append(attached, AttachedMedia{Media: record, Visible: join.Visible})
	}
	return attached, nil
}

// DetachMedia removes one event-media join and drops the media if nothing else references it.
func (s *Service) DetachMedia(ctx context.Context, eventID, mediaID string) error {
	if err := s.ready(opDetachMedia); err != nil {
		return err
	}
	eID, err := validateID("event", eventID)
	if err != nil {
		return invalid(opDetachMedia, err)
	}
	mID, err := validateID("media", mediaID)
	if err != nil {
		return invalid(opDetachMedia, err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("event_id = ? AND media_id = ?", eID, mID).Delete(&EventMedia{})
		if result.Error != nil {
			return s.failed(opDetachMedia, reasonDeleteFailed, result.Error,
				zap.String(fieldEventID, eID), zap.String(fieldMediaID, mID))
		}
		if result.RowsAffected == 0 {
			return notFound(opDetachMedia, "event media", eID+"/"+mID)
		}
		return s.collectOrphanMediaTx(tx, opDetachMedia, []string{mID})
	})
}

// GetMedia loads a media record including its payload.
func (s *Service) GetMedia(ctx context.Context, id string) (Media, error) {
	if err := s.ready(opGetMedia); err != nil {
		return Media{}, err
	}
	mediaID, err := validateID("media", id)
	if err != nil {
		return Media{}, invalid(opGetMedia, err)
	}
	var media Media
	loadErr := s.db.WithContext(ctx).Where("id = ?", mediaID).Take(&media).Error
	if errors.Is(loadErr, gorm.ErrRecordNotFound) {
		return Media{}, notFound(opGetMedia, "media", mediaID)
	}
	if loadErr != nil {
		return Media{}, s.failed(opGetMedia, reasonQueryFailed, loadErr, zap.String(fieldMediaID, mediaID))
	}
	return media, nil
}

// AssignNodeAvatarIfEmpty sets the media as avatar of the event's node unless the node already has one.
// It reports whether the avatar was assigned.
func (s *Service) AssignNodeAvatarIfEmpty(ctx context.Context, eventID, mediaID string) (bool, error) {
	if err := s.ready(opAssignNodeAvatar); err != nil {
		return false, err
	}
	eID, err := validateID("event", eventID)
	if err != nil {
		return false, invalid(opAssignNodeAvatar, err)
	}
	mID, err := validateID("media", mediaID)
	if err != nil {
		return false, invalid(opAssignNodeAvatar, err)
	}
	var nodeIDs []string
	if err := s.db.WithContext(ctx).Model(&Event{}).Where("id = ?", eID).Limit(1).Pluck("node_id", &nodeIDs).Error; err != nil {
		return false, s.failed(opAssignNodeAvatar, reasonQueryFailed, err, zap.String(fieldEventID, eID))
	}
	if len(nodeIDs) == 0 {
		return false, notFound(opAssignNodeAvatar, "event", eID)
	}
	nodeID := nodeIDs[0]
	result := s.db.WithContext(ctx).Model(&Node{}).
		Where("id = ? AND image_media_id IS NULL", nodeID).
		Updates(map[string]any{"image_media_id": mID, "updated_at": s.now()})
	if result.Error != nil {
		return false, s.failed(opAssignNodeAvatar, reasonUpdateFailed, result.Error,
			zap.String(fieldNodeID, nodeID), zap.String(fieldMediaID, mID))
	}
	return result.RowsAffected > 0, nil
}

// collectOrphanMediaTx deletes candidate media no event join and no node avatar references.
func (s *Service) collectOrphanMediaTx(tx *gorm.DB, operation string, candidates []string) error {
	unique := uniqueStrings(candidates)
	if len(unique) == 0 {
		return nil
	}
	result := tx.
		Where("id IN ?", unique).
		Where("id NOT IN (?)", tx.Model(&EventMedia{}).Select("media_id")).
		Where("id NOT IN (?)", tx.Model(&Node{}).Select("image_media_id").Where("image_media_id IS NOT NULL")).
		Delete(&Media{})
	if result.Error != nil {
		return s.failed(operation, reasonDeleteFailed, result.Error)
	}
	if result.RowsAffected > 0 {
		s.loggerOrDefault().Debug("collected orphan media",
			zap.String("operation", opCollectOrphanMedia),
			zap.Int64("count", result.RowsAffected))
	}
	return nil
}

func normalizeMimeType(raw string) string {
	mimeType := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	if mimeType == "" {
		return DefaultMimeType
	}
	return mimeType
}

func mediaKind(mimeType string) string {
	if strings.HasPrefix(mimeType, "image/") {
		return mediaKindImage
	}
	return mediaKindOther
}

// imageDimensions is best effort; formats without a registered decoder yield nil.
func imageDimensions(data []byte) (*int, *int) {
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, nil
	}
	width, height := config.Width, config.Height
	return &width, &height
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	unique := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		unique = append(unique, value)
	}
	return unique
}
