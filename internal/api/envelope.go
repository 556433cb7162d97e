package api

import (
	"encoding/json"
	"net/http"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sandboxcdn/pkgcdn/internal/apperror"
)

// Cache-Control values for the three response classes spec.md §4.8/§7
// names.
const (
	cacheControlModule  = "public, max-age=31536000"
	cacheControlResolve = "public, max-age=3600"
	cacheControlError   = "public, max-age=300"
)

// writeEnvelope serializes value per version (JSON for ≤4, MsgPack for
// ≥5) and writes it with the given Cache-Control header. The MsgPack path
// intentionally carries content-type: application/javascript rather than
// anything MsgPack-accurate — upstream CDNs only compress
// application/javascript responses, so the original abuses the header on
// purpose (spec.md §4.8).
func writeEnvelope(w http.ResponseWriter, version int, cacheControl string, value any) {
	var body []byte
	var err error
	contentType := "application/json"

	if version >= 5 {
		body, err = msgpack.Marshal(value)
		contentType = "application/javascript"
	} else {
		body, err = json.Marshal(value)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// writeJSON always responds JSON regardless of envelope version, for the
// v1-compatibility surface and /v2/json/deps.
func writeJSON(w http.ResponseWriter, cacheControl string, value any) {
	body, err := json.Marshal(value)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps err to its HTTP status class (apperror.StatusCode) and
// always responds JSON with the short error Cache-Control TTL, per
// spec.md §7.
func writeError(w http.ResponseWriter, err error) {
	status := apperror.StatusCode(err)
	body, _ := json.Marshal(errorBody{Error: err.Error()})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", cacheControlError)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
