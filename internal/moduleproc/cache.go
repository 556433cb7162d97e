package moduleproc

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sandboxcdn/pkgcdn/internal/apperror"
	"github.com/sandboxcdn/pkgcdn/internal/cache"
	"github.com/sandboxcdn/pkgcdn/internal/npmdoc"
	"github.com/sandboxcdn/pkgcdn/internal/singleflight"
	"github.com/sandboxcdn/pkgcdn/internal/tarball"
	"github.com/sandboxcdn/pkgcdn/internal/transform"
)

// refreshInterval mirrors the tarball fetcher's own assumption: a
// published npm package version's tarball and transform output never
// change, so a processed (name, version) result is reused for a week
// before its singleflight cell runs the pipeline again; the cell mainly
// coalesces concurrent first requests.
const refreshInterval = 7 * 24 * time.Hour

// PackageStore is the read side of the KV Registry Store C6 needs: a
// version's tarball URL.
type PackageStore interface {
	GetPackage(name string) (*npmdoc.MinimalPackageData, error)
}

// TarballFetcher downloads and decodes a package tarball (C4).
type TarballFetcher interface {
	Get(ctx context.Context, url string) (tarball.FileMap, error)
}

// pipelineResult is what one (name, version) run of process_npm_package
// produces: the transformed module and its annotated dependency table.
type pipelineResult struct {
	Module       *MinimalCachedModule
	Dependencies ModuleDependenciesMap
}

// Cache is C6's public entry point: process_npm_package plus its two
// LayeredCache-backed caches (transform_module_cached,
// module_dependencies_cached), reimplemented here as a single
// singleflight-coalesced pipeline whose two outputs are cached under two
// separate keys, matching the original's dual get_transform_cache_key /
// get_dependencies_cache_key split.
//
// Grounded on original_source/src/package/process.rs
// (process_npm_package, transform_module_and_cache, transform_module_cached,
// module_dependencies_cached).
type Cache struct {
	store       PackageStore
	tarballs    TarballFetcher
	transformer transform.Transformer
	bytes       *cache.Layered

	mu       sync.Mutex
	inflight map[string]*singleflight.Cell[*pipelineResult]

	// pool bounds concurrent TransformPackage runs to GOMAXPROCS (archive
	// decoding happens earlier, inside the tarball fetcher, and is not
	// gated), so a burst of distinct-package requests can't starve
	// the process of CPU the way an unbounded goroutine-per-request
	// scheme would; it never blocks a request goroutine on I/O, only on
	// its turn at this CPU-bound stage.
	pool chan struct{}
}

// New constructs a Cache.
func New(store PackageStore, tarballs TarballFetcher, transformer transform.Transformer, bytes *cache.Layered) *Cache {
	return &Cache{
		store:       store,
		tarballs:    tarballs,
		transformer: transformer,
		bytes:       bytes,
		inflight:    map[string]*singleflight.Cell[*pipelineResult]{},
		pool:        make(chan struct{}, runtime.GOMAXPROCS(0)),
	}
}

func transformCacheKey(name, version string) string {
	return fmt.Sprintf("v1::transform::%s@%s", name, version)
}

func dependenciesCacheKey(name, version string) string {
	return fmt.Sprintf("v1::dependencies::%s@%s", name, version)
}

// TransformModuleCached returns a package specifier's transformed module,
// serving it out of the byte cache when present.
func (c *Cache) TransformModuleCached(ctx context.Context, packageSpecifier string) (*MinimalCachedModule, error) {
	name, version, err := ParsePackageSpecifier(packageSpecifier)
	if err != nil {
		return nil, err
	}

	key := transformCacheKey(name, version)
	if raw, ok := c.bytes.Get(ctx, key); ok {
		var cached MinimalCachedModule
		if err := msgpack.Unmarshal(raw, &cached); err == nil {
			return &cached, nil
		}
	}

	result, err := c.process(ctx, name, version)
	if err != nil {
		return nil, err
	}
	return result.Module, nil
}

// ModuleDependenciesCached returns a package version's annotated
// dependency table, serving it out of the byte cache when present.
func (c *Cache) ModuleDependenciesCached(ctx context.Context, name, version string) (ModuleDependenciesMap, error) {
	key := dependenciesCacheKey(name, version)
	if raw, ok := c.bytes.Get(ctx, key); ok {
		var deps ModuleDependenciesMap
		if err := msgpack.Unmarshal(raw, &deps); err == nil {
			return deps, nil
		}
	}

	result, err := c.process(ctx, name, version)
	if err != nil {
		return nil, err
	}
	return result.Dependencies, nil
}

// process runs (or joins an already-running) process_npm_package pipeline
// for name@version, then stores both cache entries before returning.
func (c *Cache) process(ctx context.Context, name, version string) (*pipelineResult, error) {
	cell := c.cellFor(name + "@" + version)
	return cell.Get(ctx, func(ctx context.Context, _ *pipelineResult) (*pipelineResult, error) {
		data, err := c.store.GetPackage(name)
		if err != nil {
			return nil, err
		}
		if data == nil {
			return nil, apperror.ErrPackageNotFound
		}
		record, ok := data.Versions[version]
		if !ok {
			return nil, &apperror.PackageVersionNotFoundError{Name: name, Range: version}
		}

		files, err := c.tarballs.Get(ctx, record.Tarball)
		if err != nil {
			return nil, err
		}

		select {
		case c.pool <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		module, deps, err := TransformPackage(c.transformer, name, version, files)
		<-c.pool
		if err != nil {
			return nil, err
		}

		result := &pipelineResult{Module: module, Dependencies: deps}

		if raw, err := msgpack.Marshal(module); err == nil {
			c.bytes.Store(ctx, transformCacheKey(name, version), raw)
		}
		if raw, err := msgpack.Marshal(deps); err == nil {
			c.bytes.Store(ctx, dependenciesCacheKey(name, version), raw)
		}

		return result, nil
	})
}

func (c *Cache) cellFor(key string) *singleflight.Cell[*pipelineResult] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cell, ok := c.inflight[key]; ok {
		return cell
	}
	cell := singleflight.NewCell[*pipelineResult](refreshInterval)
	c.inflight[key] = cell
	return cell
}
