package tarball

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sandboxcdn/pkgcdn/internal/apperror"
	"github.com/sandboxcdn/pkgcdn/internal/metrics"
	"github.com/sandboxcdn/pkgcdn/internal/singleflight"
)

const (
	// fetchTimeout mirrors get_client(120): a 120-second request budget.
	fetchTimeout = 120 * time.Second
	// cellCapacity/cellIdleTTL mirror PackageContentFetcher's moka cache:
	// up to 50 distinct tarball URLs, evicted after a day of disuse.
	cellCapacity = 50
	cellIdleTTL  = 24 * time.Hour
	// refreshInterval mirrors PackageContentFetcher's refresh_interval:
	// once fetched, a tarball is assumed unchanged for a week (published
	// npm tarballs are immutable in practice).
	refreshInterval = 7 * 24 * time.Hour
)

// Fetcher downloads and decodes npm package tarballs, coalescing
// concurrent requests for the same URL (O1) and serving stale content
// while a background refresh runs (O2).
type Fetcher struct {
	http    *http.Client
	mu      sync.Mutex // makes the cells get-or-create step atomic
	cells   *lru.LRU[string, *singleflight.Cell[FileMap]]
	log     *log.Logger
	metrics *metrics.Metrics
}

// SetMetrics attaches m so each download is counted by outcome. Optional: a
// nil m leaves instrumentation off.
func (f *Fetcher) SetMetrics(m *metrics.Metrics) { f.metrics = m }

// New constructs a Fetcher with a retrying HTTP client (exponential
// backoff, up to 3 attempts), matching the original's reqwest_retry
// middleware.
func New() *Fetcher {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2 // one first try plus two retries
	retryClient.Logger = log.New(os.Stdout, "TARBALL-HTTP: ", log.Ldate|log.Ltime|log.Lshortfile)
	retryClient.HTTPClient.Timeout = fetchTimeout

	return &Fetcher{
		http:  retryClient.StandardClient(),
		cells: lru.NewLRU[string, *singleflight.Cell[FileMap]](cellCapacity, nil, cellIdleTTL),
		log:   log.New(os.Stdout, "TARBALL: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

// Get returns the decoded FileMap for the tarball at url, fetching and
// decoding it at most once per refresh window.
func (f *Fetcher) Get(ctx context.Context, url string) (FileMap, error) {
	f.mu.Lock()
	cell, ok := f.cells.Get(url)
	if !ok {
		cell = singleflight.NewCell[FileMap](refreshInterval)
	}
	// Re-adding on every use restarts the entry's TTL, so cellIdleTTL
	// counts from the last use rather than from insertion.
	f.cells.Add(url, cell)
	f.mu.Unlock()

	return cell.Get(ctx, func(ctx context.Context, _ *FileMap) (FileMap, error) {
		return f.download(ctx, url)
	})
}

func (f *Fetcher) download(ctx context.Context, url string) (files FileMap, err error) {
	defer func() {
		if f.metrics == nil {
			return
		}
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		f.metrics.TarballFetches.WithLabelValues(outcome).Inc()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apperror.TarballDownloadError{StatusCode: resp.StatusCode, URL: url}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	isPlainTar := strings.HasSuffix(url, ".tar")
	return Decode(raw, isPlainTar)
}
