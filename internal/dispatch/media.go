package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MediaFetcher resolves a media reference into content. Fetched content is
// scoped to one dispatch call; there is no cross-campaign cache.
type MediaFetcher interface {
	Fetch(ctx context.Context, ref string) (data []byte, mime string, err error)
}

// HTTPMediaFetcher fetches media from a URL reference.
type HTTPMediaFetcher struct {
	client *http.Client

	// MaxBytes bounds the downloaded payload.
	MaxBytes int64
}

func NewHTTPMediaFetcher() *HTTPMediaFetcher {
	return &HTTPMediaFetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		MaxBytes: 16 << 20,
	}
}

func (f *HTTPMediaFetcher) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", fmt.Errorf("media request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("media fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media fetch: unexpected status %d", resp.StatusCode)
	}

	max := f.MaxBytes
	if max <= 0 {
		max = 16 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, max+1))
	if err != nil {
		return nil, "", fmt.Errorf("media read: %w", err)
	}
	if int64(len(data)) > max {
		return nil, "", fmt.Errorf("media fetch: payload exceeds %d bytes", max)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
