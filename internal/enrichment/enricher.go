// Package enrichment attaches social-media images to events whose text links to a profile or a post.
package enrichment

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/MarcoPoloResearchLab/orbit/backend/internal/graph"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/social"
	"go.uber.org/zap"
)

var (
	profileURLPattern = regexp.MustCompile(`(?i)@?https?://(?:x\.com|twitter\.com)/([A-Za-z0-9_]{1,15})(?:[/?].*)?`)
	postURLPattern    = regexp.MustCompile(`(?i)https?://(?:x\.com|twitter\.com)/[^/]+/status/(\d+)`)

	errMissingStore   = errors.New("enrichment: graph store is required")
	errMissingFetcher = errors.New("enrichment: social fetcher is required")
)

// Store is the slice of the graph service enrichment writes through.
type Store interface {
	AttachMedia(ctx context.Context, eventID string, upload graph.MediaUpload) (graph.Media, error)
	TouchEvent(ctx context.Context, eventID string) error
	AssignNodeAvatarIfEmpty(ctx context.Context, eventID, mediaID string) (bool, error)
}

// Config wires an Enricher.
type Config struct {
	Store      Store
	Fetcher    social.Fetcher
	Downloader Downloader
	Publisher  realtime.Publisher
	Logger     *zap.Logger
}

// Enricher performs best-effort asset attachment.
type Enricher struct {
	store      Store
	fetcher    social.Fetcher
	downloader Downloader
	publisher  realtime.Publisher
	logger     *zap.Logger
}

// NewEnricher validates the configuration.
func NewEnricher(cfg Config) (*Enricher, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Fetcher == nil {
		return nil, errMissingFetcher
	}
	downloader := cfg.Downloader
	if downloader == nil {
		downloader = NewHTTPDownloader(nil, DefaultMaxMediaBytes)
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = realtime.Discard{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		store:      cfg.Store,
		fetcher:    cfg.Fetcher,
		downloader: downloader,
		publisher:  publisher,
		logger:     logger,
	}, nil
}

// ProfileHandle returns the handle of the first profile URL in text.
func ProfileHandle(text string) (string, bool) {
	match := profileURLPattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return "", false
	}
	return match[1], true
}

// PostID returns the numeric id of the first post URL in text.
func PostID(text string) (string, bool) {
	match := postURLPattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return "", false
	}
	return match[1], true
}

// AttachAssets scans description for a profile URL and a post URL and attaches what it can fetch.
// The two scans are independent. Every failure is logged and dropped.
func (e *Enricher) AttachAssets(ctx context.Context, eventID, description string) {
	logger := e.logger.With(zap.String("event_id", eventID))
	var attached []string

	if handle, ok := ProfileHandle(description); ok {
		if mediaID, err := e.attachProfileAvatar(ctx, eventID, handle); err != nil {
			logger.Debug("profile avatar enrichment skipped", zap.String("handle", handle), zap.Error(err))
		} else {
			attached = append(attached, mediaID)
		}
	}

	if postID, ok := PostID(description); ok {
		urls, err := e.fetcher.FetchPostImageURLs(ctx, postID)
		if err != nil {
			logger.Debug("post image lookup failed", zap.String("post_id", postID), zap.Error(err))
		}
		for _, imageURL := range urls {
			media, attachErr := e.attachURL(ctx, eventID, imageURL)
			if attachErr != nil {
				logger.Debug("post image enrichment skipped", zap.String("url", imageURL), zap.Error(attachErr))
				continue
			}
			attached = append(attached, media.ID)
		}
	}

	if len(attached) == 0 {
		return
	}
	logger.Info("attached social assets", zap.Int("media", len(attached)))
	e.publisher.Publish(realtime.Message{
		EventType: realtime.EventMediaAttached,
		EventIDs:  []string{eventID},
		MediaIDs:  attached,
		Timestamp: time.Now().UTC(),
	})
}

func (e *Enricher) attachProfileAvatar(ctx context.Context, eventID, handle string) (string, error) {
	profile, err := e.fetcher.FetchProfile(ctx, handle)
	if err != nil {
		return "", err
	}
	if profile.AvatarURL == "" {
		return "", errors.New("enrichment: profile has no avatar")
	}
	media, err := e.attachURL(ctx, eventID, profile.AvatarURL)
	if err != nil {
		return "", err
	}
	if err := e.store.TouchEvent(ctx, eventID); err != nil {
		e.logger.Debug("touch event failed", zap.String("event_id", eventID), zap.Error(err))
	}
	if _, err := e.store.AssignNodeAvatarIfEmpty(ctx, eventID, media.ID); err != nil {
		e.logger.Debug("assign node avatar failed", zap.String("event_id", eventID), zap.Error(err))
	}
	return media.ID, nil
}

func (e *Enricher) attachURL(ctx context.Context, eventID, url string) (graph.Media, error) {
	download, err := e.downloader.Download(ctx, url)
	if err != nil {
		return graph.Media{}, err
	}
	return e.store.AttachMedia(ctx, eventID, graph.MediaUpload{Data: download.Data, MimeType: download.MimeType})
}
