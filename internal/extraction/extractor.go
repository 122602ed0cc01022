// Package extraction turns free-form text into candidate entity names and an optional social handle.
package extraction

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured is returned when no language model is configured.
	ErrNotConfigured = errors.New("extraction: language model is not configured")
	// ErrMalformedResponse indicates the model answered with something other than the expected JSON object.
	ErrMalformedResponse = errors.New("extraction: malformed model response")
)

// Request carries the text to analyse and the bias lists drawn from the graph.
type Request struct {
	Text               string
	KnownOrganizations []string
	KnownFirstNames    []string
}

// Extraction is the structured result of one extraction call.
type Extraction struct {
	Names  []string
	Handle string
}

// Extractor maps text to an Extraction.
type Extractor interface {
	Extract(ctx context.Context, request Request) (Extraction, error)
}

// Disabled is the Extractor used when no model credentials are configured.
type Disabled struct{}

// Extract always fails with ErrNotConfigured.
func (Disabled) Extract(context.Context, Request) (Extraction, error) {
	return Extraction{}, ErrNotConfigured
}
