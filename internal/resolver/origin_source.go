package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/sandboxcdn/pkgcdn/internal/apperror"
	"github.com/sandboxcdn/pkgcdn/internal/metrics"
	"github.com/sandboxcdn/pkgcdn/internal/npmdoc"
	"github.com/sandboxcdn/pkgcdn/internal/singleflight"
)

// staleAfter is the refresh interval of each per-name origin-fetch cell:
// concurrent resolutions of a package missing from the store share one
// origin fetch, and a successful result is reused for this long. A failed
// fetch is not cached, so the next resolution of a still-missing package
// fetches again. Arbitrary, not tuned — see SPEC_FULL.md §11.
const staleAfter = 60 * time.Second

// PackageStore is the read side of the KV Registry Store the resolver
// needs.
type PackageStore interface {
	GetPackage(name string) (*npmdoc.MinimalPackageData, error)
	WritePackage(*npmdoc.MinimalPackageData) error
}

// OriginFetcher fetches a package's manifest directly from the registry
// when the store has nothing for it yet.
type OriginFetcher interface {
	FetchManifest(ctx context.Context, name string) (*npmdoc.RegistryDocument, error)
}

// StoreOriginSource implements PackageSource: it prefers the replicated
// record in the KV store, falling back to a singly-flighted on-demand
// registry fetch (coalesced per package name via C3) when the store has
// nothing.
type StoreOriginSource struct {
	store    PackageStore
	origin   OriginFetcher
	mu       sync.Mutex
	inflight map[string]*singleflight.Cell[*npmdoc.MinimalPackageData]
	metrics  *metrics.Metrics
}

// NewStoreOriginSource constructs a PackageSource backed by store, falling
// back to origin on a miss.
func NewStoreOriginSource(store PackageStore, origin OriginFetcher) *StoreOriginSource {
	return &StoreOriginSource{
		store:    store,
		origin:   origin,
		inflight: map[string]*singleflight.Cell[*npmdoc.MinimalPackageData]{},
	}
}

// SetMetrics attaches m so origin fetches are counted by outcome. Optional:
// a nil m (the zero value) leaves instrumentation off.
func (s *StoreOriginSource) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// ResolvePackage satisfies PackageSource.
func (s *StoreOriginSource) ResolvePackage(ctx context.Context, name string) (*npmdoc.MinimalPackageData, error) {
	data, err := s.store.GetPackage(name)
	if err != nil {
		return nil, err
	}
	if data != nil {
		return data, nil
	}

	cell := s.cellFor(name)
	return cell.Get(ctx, func(ctx context.Context, _ *npmdoc.MinimalPackageData) (*npmdoc.MinimalPackageData, error) {
		doc, err := s.origin.FetchManifest(ctx, name)
		if err != nil {
			s.observe("error")
			return nil, err
		}
		data, tombstoned := npmdoc.FromRegistryDocument(doc)
		if tombstoned {
			s.observe("error")
			return nil, apperror.ErrPackageNotFound
		}
		// Persist so the replication worker's next pass (and subsequent
		// resolutions) see it without another origin round-trip.
		_ = s.store.WritePackage(data)
		s.observe("hit")
		return data, nil
	})
}

func (s *StoreOriginSource) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.OriginFetches.WithLabelValues(outcome).Inc()
	}
}

func (s *StoreOriginSource) cellFor(name string) *singleflight.Cell[*npmdoc.MinimalPackageData] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.inflight[name]; ok {
		return c
	}
	c := singleflight.NewCell[*npmdoc.MinimalPackageData](staleAfter)
	s.inflight[name] = c
	return c
}
