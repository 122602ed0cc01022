package enrichment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultMaxMediaBytes caps a single downloaded asset.
	DefaultMaxMediaBytes int64 = 10 << 20

	defaultDownloadTimeout = 15 * time.Second
)

// ErrMediaTooLarge is returned when a download exceeds the configured cap.
var ErrMediaTooLarge = errors.New("enrichment: media exceeds size limit")

// Download is a fetched asset.
type Download struct {
	Data     []byte
	MimeType string
}

// Downloader fetches remote assets.
type Downloader interface {
	Download(ctx context.Context, url string) (Download, error)
}

type httpDownloader struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPDownloader fetches assets with a plain GET, refusing bodies larger than maxBytes.
func NewHTTPDownloader(client *http.Client, maxBytes int64) Downloader {
	if client == nil {
		client = &http.Client{Timeout: defaultDownloadTimeout}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMediaBytes
	}
	return &httpDownloader{client: client, maxBytes: maxBytes}
}

func (d *httpDownloader) Download(ctx context.Context, url string) (Download, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Download{}, fmt.Errorf("enrichment: build download request: %w", err)
	}
	response, err := d.client.Do(request)
	if err != nil {
		return Download{}, fmt.Errorf("enrichment: download failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return Download{}, fmt.Errorf("enrichment: download returned status %d", response.StatusCode)
	}
	if response.ContentLength > d.maxBytes {
		return Download{}, ErrMediaTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(response.Body, d.maxBytes+1))
	if err != nil {
		return Download{}, fmt.Errorf("enrichment: read download: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return Download{}, ErrMediaTooLarge
	}
	return Download{Data: data, MimeType: response.Header.Get("Content-Type")}, nil
}
