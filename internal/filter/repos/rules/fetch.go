package rules

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	logpkg "github.com/haukened/rr-filter/internal/filter/common/log"
)

// Fetcher retrieves one blocklist source payload.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// httpFetcher implements Fetcher over plain HTTP GET with a client timeout,
// so a source that never completes cannot hang an update cycle.
type httpFetcher struct {
	client *http.Client
	logger logpkg.Logger
}

// NewHTTPFetcher returns a Fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration, logger logpkg.Logger) Fetcher {
	return &httpFetcher{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}

	f.logger.Debug(map[string]any{"url": url, "bytes": len(body)}, "source_fetched")
	return body, nil
}
