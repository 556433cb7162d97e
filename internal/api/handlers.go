package api

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"

	"github.com/sandboxcdn/pkgcdn/internal/apperror"
	"github.com/sandboxcdn/pkgcdn/internal/metrics"
	"github.com/sandboxcdn/pkgcdn/internal/moduleproc"
	"github.com/sandboxcdn/pkgcdn/internal/resolver"
)

// TransformCache is the read side of C6 the API surface needs.
type TransformCache interface {
	TransformModuleCached(ctx context.Context, packageSpecifier string) (*moduleproc.MinimalCachedModule, error)
}

// SyncStatusStore exposes the replication cursor for /v2/npm_sync_status.
type SyncStatusStore interface {
	LastSyncSeq() (int64, error)
}

// Handler wires C8's decoders/envelopes to C5/C6. A fresh resolver.Resolver
// is constructed per request: the resolution/alias maps it accumulates are
// request-scoped, never shared across callers.
type Handler struct {
	source      resolver.PackageSource
	transformer TransformCache
	syncStatus  SyncStatusStore
	log         *log.Logger
	metrics     *metrics.Metrics
}

// NewHandler constructs a Handler. m may be nil, which leaves per-request
// resolver instrumentation off.
func NewHandler(source resolver.PackageSource, transformer TransformCache, syncStatus SyncStatusStore, m *metrics.Metrics) *Handler {
	return &Handler{
		source:      source,
		transformer: transformer,
		syncStatus:  syncStatus,
		log:         log.New(os.Stdout, "API: ", log.Ldate|log.Ltime|log.Lshortfile),
		metrics:     m,
	}
}

// newResolver builds a fresh, request-scoped resolver.Resolver wired to
// this handler's metrics sink.
func (h *Handler) newResolver() *resolver.Resolver {
	res := resolver.New(h.source)
	res.SetMetrics(h.metrics)
	return res
}

// Register wires every route onto router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/v2/mod/{specifier}", h.handleMod).Methods(http.MethodGet)
	router.HandleFunc("/v2/deps/{query}", h.handleDeps).Methods(http.MethodGet)
	router.HandleFunc("/v2/json/deps/{query}", h.handleJSONDeps).Methods(http.MethodGet)
	router.HandleFunc("/v2/npm_sync_status", h.handleSyncStatus).Methods(http.MethodGet)
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	// v1-compatibility surface, supplemented from
	// original_source/src/router/routes_v1/*: no version prefix, JSON only.
	router.HandleFunc("/package/{specifier}", h.handlePackageV1).Methods(http.MethodGet)
	router.HandleFunc("/dep_tree/{specifier}", h.handleDepTreeV1).Methods(http.MethodGet)
}

func (h *Handler) handleMod(w http.ResponseWriter, r *http.Request) {
	version, payload, err := DecodeSpecifier(mux.Vars(r)["specifier"])
	if err != nil {
		writeError(w, err)
		return
	}

	module, err := h.transformer.TransformModuleCached(r.Context(), payload)
	if err != nil {
		h.log.Printf("transform module %q: %v", payload, err)
		writeError(w, err)
		return
	}
	writeEnvelope(w, version, cacheControlModule, module)
}

// resolveResponse is the shape handed back for both /v2/deps and
// /v2/json/deps: the accumulated resolution map keyed "{name}@{major}",
// plus the dist-tag alias map.
type resolveResponse struct {
	Resolutions map[string]string `json:"resolutions" msgpack:"resolutions"`
	Aliases     map[string]string `json:"aliases" msgpack:"aliases"`
}

func (h *Handler) resolveQuery(ctx context.Context, payload string) (*resolveResponse, error) {
	initial, err := parseDepQuery(payload)
	if err != nil {
		return nil, err
	}

	res := h.newResolver()
	if err := res.ResolveTree(ctx, initial); err != nil {
		return nil, err
	}

	resolutions := make(map[string]string, len(res.Resolutions()))
	for key, v := range res.Resolutions() {
		resolutions[key] = v.String()
	}
	return &resolveResponse{Resolutions: resolutions, Aliases: res.Aliases()}, nil
}

func (h *Handler) handleDeps(w http.ResponseWriter, r *http.Request) {
	version, payload, err := DecodeSpecifier(mux.Vars(r)["query"])
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.resolveQuery(r.Context(), payload)
	if err != nil {
		h.log.Printf("resolve query %q: %v", payload, err)
		writeError(w, err)
		return
	}
	writeEnvelope(w, version, cacheControlResolve, result)
}

func (h *Handler) handleJSONDeps(w http.ResponseWriter, r *http.Request) {
	_, payload, err := DecodeSpecifier(mux.Vars(r)["query"])
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.resolveQuery(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, cacheControlResolve, result)
}

type syncStatusResponse struct {
	LastSeq int64 `json:"last_seq"`
}

func (h *Handler) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	seq, err := h.syncStatus.LastSyncSeq()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, cacheControlResolve, syncStatusResponse{LastSeq: seq})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handlePackageV1(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeBase64(mux.Vars(r)["specifier"])
	if err != nil {
		writeError(w, apperror.ErrInvalidQuery)
		return
	}

	module, err := h.transformer.TransformModuleCached(r.Context(), string(raw))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, cacheControlModule, module)
}

// depTreeEntry is one resolved package in the v1-compatibility dep_tree
// response: its picked version and how many resolution ticks away from the
// request it surfaced.
type depTreeEntry struct {
	Version string `json:"version"`
	Depth   int    `json:"depth"`
}

func (h *Handler) handleDepTreeV1(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeBase64(mux.Vars(r)["specifier"])
	if err != nil {
		writeError(w, apperror.ErrInvalidQuery)
		return
	}

	initial, err := parseDepQuery(string(raw))
	if err != nil {
		writeError(w, err)
		return
	}

	res := h.newResolver()
	if err := res.ResolveTree(r.Context(), initial); err != nil {
		writeError(w, err)
		return
	}

	depths := res.Depths()
	tree := make(map[string]depTreeEntry, len(res.Resolutions()))
	for key, v := range res.Resolutions() {
		tree[key] = depTreeEntry{Version: v.String(), Depth: depths[key]}
	}
	writeJSON(w, cacheControlModule, tree)
}

// parseDepQuery splits a decoded ";"-separated "name@range" query into
// DepRequests, handling scoped package names the same way
// resolver.NewDepRequest's npm: alias parsing does: split on the last "@".
func parseDepQuery(payload string) ([]resolver.DepRequest, error) {
	var requests []resolver.DepRequest
	for _, tuple := range strings.Split(payload, ";") {
		if tuple == "" {
			continue
		}
		name, rng, err := splitNameRange(tuple)
		if err != nil {
			return nil, err
		}
		req, err := resolver.NewDepRequest(name, rng)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// splitNameRange splits "name@range" on the last "@", so a scoped package
// ("@babel/core@^7.0.0") keeps its own leading "@" as part of the name.
func splitNameRange(tuple string) (name, rng string, err error) {
	idx := strings.LastIndex(tuple, "@")
	if idx <= 0 {
		return "", "", apperror.ErrInvalidPackageSpecifier
	}
	return tuple[:idx], tuple[idx+1:], nil
}
