// Package ingest turns a block of free text into resolved nodes, a clique of links and one note per node.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/orbit/backend/internal/extraction"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/graph"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/orbit/backend/internal/social"
	"go.uber.org/zap"
)

// BiasListLimit caps each bias list handed to the extractor.
const BiasListLimit = 200

var (
	// ErrEmptyText rejects blank input before any side effect.
	ErrEmptyText = fmt.Errorf("%w: ingest text is required", graph.ErrValidation)
	// ErrNoNames is returned when neither names nor a handle could be extracted.
	ErrNoNames = errors.New("ingest: could not determine any names")
	// ErrExtractionFailed wraps every extraction service failure.
	ErrExtractionFailed = errors.New("ingest: extraction failed")

	errMissingGraph     = errors.New("ingest: graph store is required")
	errMissingExtractor = errors.New("ingest: extractor is required")
)

// Graph is the slice of the entity store the pipeline drives.
type Graph interface {
	KnownOrganizations(ctx context.Context, limit int) ([]string, error)
	KnownFirstNames(ctx context.Context, limit int) ([]string, error)
	ResolveLabel(ctx context.Context, label string) (graph.Resolution, error)
	EnsureLink(ctx context.Context, request graph.LinkRequest) (graph.Link, error)
	CreateEvent(ctx context.Context, input graph.EventInput) (graph.Event, error)
}

// AssetDispatcher schedules enrichment without waiting for it.
type AssetDispatcher interface {
	Dispatch(eventID, description string)
}

// Config wires a Pipeline.
type Config struct {
	Graph      Graph
	Extractor  extraction.Extractor
	Profiles   social.ProfileFetcher
	Dispatcher AssetDispatcher
	Publisher  realtime.Publisher
	Logger     *zap.Logger
}

// Result lists what one ingestion touched.
type Result struct {
	NodeIDs        []string `json:"nodeIds"`
	EventIDs       []string `json:"eventIds"`
	CreatedNodeIDs []string `json:"createdNodes"`
}

// Pipeline runs ingestion steps strictly in order: resolution, then linking, then events.
// Nothing is rolled back when a later step fails.
type Pipeline struct {
	graph      Graph
	extractor  extraction.Extractor
	profiles   social.ProfileFetcher
	dispatcher AssetDispatcher
	publisher  realtime.Publisher
	logger     *zap.Logger
}

// NewPipeline validates the configuration.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Graph == nil {
		return nil, errMissingGraph
	}
	if cfg.Extractor == nil {
		return nil, errMissingExtractor
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = realtime.Discard{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		graph:      cfg.Graph,
		extractor:  cfg.Extractor,
		profiles:   cfg.Profiles,
		dispatcher: cfg.Dispatcher,
		publisher:  publisher,
		logger:     logger,
	}, nil
}

// Ingest processes one block of text.
func (p *Pipeline) Ingest(ctx context.Context, text string) (Result, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{}, ErrEmptyText
	}

	organizations, err := p.graph.KnownOrganizations(ctx, BiasListLimit)
	if err != nil {
		return Result{}, err
	}
	firstNames, err := p.graph.KnownFirstNames(ctx, BiasListLimit)
	if err != nil {
		return Result{}, err
	}

	extracted, err := p.extractor.Extract(ctx, extraction.Request{
		Text:               trimmed,
		KnownOrganizations: organizations,
		KnownFirstNames:    firstNames,
	})
	if err != nil {
		p.logger.Error("extraction failed", zap.Error(err))
		return Result{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	labels := p.candidateLabels(ctx, extracted)
	if len(labels) == 0 {
		return Result{}, ErrNoNames
	}

	result := Result{
		NodeIDs:        make([]string, 0, len(labels)),
		EventIDs:       make([]string, 0, len(labels)),
		CreatedNodeIDs: []string{},
	}
	seen := make(map[string]struct{}, len(labels))
	// Sequential on purpose: a node created for one label is visible to the next resolution.
	for _, label := range labels {
		resolution, resolveErr := p.graph.ResolveLabel(ctx, label)
		if resolveErr != nil {
			return Result{}, resolveErr
		}
		if resolution.Created {
			result.CreatedNodeIDs = append(result.CreatedNodeIDs, resolution.NodeID)
		}
		if _, ok := seen[resolution.NodeID]; ok {
			continue
		}
		seen[resolution.NodeID] = struct{}{}
		result.NodeIDs = append(result.NodeIDs, resolution.NodeID)
	}

	for i := 0; i < len(result.NodeIDs); i++ {
		for j := i + 1; j < len(result.NodeIDs); j++ {
			if _, linkErr := p.graph.EnsureLink(ctx, graph.LinkRequest{
				NodeIDs: [2]string{result.NodeIDs[i], result.NodeIDs[j]},
			}); linkErr != nil {
				return Result{}, linkErr
			}
		}
	}

	for _, nodeID := range result.NodeIDs {
		event, eventErr := p.graph.CreateEvent(ctx, graph.EventInput{
			NodeID:      nodeID,
			Type:        graph.EventTypeNote,
			Description: trimmed,
			AddedBy:     graph.ProvenanceAI,
		})
		if eventErr != nil {
			return Result{}, eventErr
		}
		result.EventIDs = append(result.EventIDs, event.ID)
		if p.dispatcher != nil {
			p.dispatcher.Dispatch(event.ID, trimmed)
		}
	}

	p.publisher.Publish(realtime.Message{
		EventType: realtime.EventGraphChanged,
		NodeIDs:   result.NodeIDs,
		EventIDs:  result.EventIDs,
		Timestamp: time.Now().UTC(),
	})
	p.logger.Info("ingested text",
		zap.Int("nodes", len(result.NodeIDs)),
		zap.Int("created_nodes", len(result.CreatedNodeIDs)),
		zap.Int("events", len(result.EventIDs)))
	return result, nil
}

// candidateLabels puts the handle's display name (or the handle itself) first, then the
// extracted names, dropping blanks and exact duplicates.
func (p *Pipeline) candidateLabels(ctx context.Context, extracted extraction.Extraction) []string {
	candidates := make([]string, 0, len(extracted.Names)+1)
	if handle := strings.TrimPrefix(strings.TrimSpace(extracted.Handle), "@"); handle != "" {
		candidates = append(candidates, p.displayName(ctx, handle))
	}
	candidates = append(candidates, extracted.Names...)

	seen := make(map[string]struct{}, len(candidates))
	labels := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		label := strings.TrimSpace(candidate)
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	return labels
}

func (p *Pipeline) displayName(ctx context.Context, handle string) string {
	if p.profiles == nil {
		return handle
	}
	profile, err := p.profiles.FetchProfile(ctx, handle)
	if err != nil {
		p.logger.Debug("profile lookup failed, using handle", zap.String("handle", handle), zap.Error(err))
		return handle
	}
	if name := strings.TrimSpace(profile.Name); name != "" {
		return name
	}
	return handle
}
