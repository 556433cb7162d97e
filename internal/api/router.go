package api

import (
	"log"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sandboxcdn/pkgcdn/internal/metrics"
	"github.com/sandboxcdn/pkgcdn/internal/resolver"
)

// requestIDHeader carries a per-request correlation ID, handed to whatever
// external log-shipping collaborator spec.md §1 names (this service only
// stamps and logs it; it never ships logs itself).
const requestIDHeader = "X-Request-Id"

// NewRouter builds the full HTTP surface (C8's v2 envelope routes plus the
// supplemented v1-compatibility routes) on a fresh gorilla/mux.Router. m may
// be nil, which leaves per-request resolver instrumentation off.
func NewRouter(source resolver.PackageSource, transformer TransformCache, syncStatus SyncStatusStore, m *metrics.Metrics) http.Handler {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(recoverMiddleware)

	h := NewHandler(source, transformer, syncStatus, m)
	h.Register(router)

	return router
}

var panicLogger = log.New(os.Stdout, "PANIC: ", log.Ldate|log.Ltime|log.Lshortfile)

// requestIDMiddleware stamps every request with a unique ID (reused from the
// caller's own header when present), echoed back so the panic log line and
// the client can correlate the same request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware enforces spec.md §9's "no panics on the request path"
// rule: any panic reaching here is logged and turned into a 500 instead of
// crashing the server.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				panicLogger.Printf("recovered panic on %s [%s]: %v", r.URL.Path, w.Header().Get(requestIDHeader), rec)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Cache-Control", cacheControlError)
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal invariant violation"}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
