package haproxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cuemby/cloner/pkg/events"
)

// DefaultTimeout bounds a stats request when no client is supplied
const DefaultTimeout = 10 * time.Second

// Options controls how a snapshot is loaded
type Options struct {
	// IncludeBackend keeps rows flagged as backend aggregates
	IncludeBackend bool

	// Client is used for URL sources (default: 10s timeout)
	Client *http.Client

	// Publisher receives snapshot.loaded and snapshot.failed events from monitors
	Publisher events.Publisher
}

func (o Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// LoadFile parses a stats CSV from disk
func LoadFile(path string, opts Options) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer f.Close()
	return Parse(f, opts)
}

// LoadURL fetches and parses a stats CSV. Transport errors and non-2xx
// responses are reported as ErrSourceUnavailable.
func LoadURL(ctx context.Context, url string, opts Options) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrSourceUnavailable, err)
	}

	resp, err := opts.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: HTTP %d %s", ErrSourceUnavailable, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return Parse(resp.Body, opts)
}

// Load dispatches on the source: http(s) URLs are fetched, anything else is a file path
func Load(ctx context.Context, source string, opts Options) (*Snapshot, error) {
	if IsURL(source) {
		return LoadURL(ctx, source, opts)
	}
	return LoadFile(source, opts)
}

// IsURL reports whether source is fetched over HTTP
func IsURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
