// Package social fetches profile and post metadata from X (formerly Twitter).
package social

import (
	"context"
	"errors"
)

var (
	// ErrMissingCredentials is returned when the bearer token, CSRF token or session cookie is absent.
	ErrMissingCredentials = errors.New("social: credentials are not configured")
	// ErrProfileNotFound indicates the upstream response carried no user.
	ErrProfileNotFound = errors.New("social: profile not found")
	// ErrInvalidHandle rejects handles outside [A-Za-z0-9_]{1,15}.
	ErrInvalidHandle = errors.New("social: invalid handle")
)

// Profile is the subset of an account that the graph cares about.
type Profile struct {
	Handle    string `json:"handle"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	Bio       string `json:"bio,omitempty"`
	Verified  bool   `json:"verified"`
	Followers int    `json:"followers"`
	Following int    `json:"following"`
}

// ProfileFetcher resolves a handle to a profile.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, handle string) (Profile, error)
}

// PostImageFetcher lists the photo URLs attached to a post.
type PostImageFetcher interface {
	FetchPostImageURLs(ctx context.Context, postID string) ([]string, error)
}

// Fetcher combines both lookups.
type Fetcher interface {
	ProfileFetcher
	PostImageFetcher
}
