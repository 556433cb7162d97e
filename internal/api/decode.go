// Package api implements C8: decoding base64/version-prefixed request
// specifiers, encoding response envelopes (JSON or MsgPack depending on
// the requested version), and wiring the HTTP surface onto a
// gorilla/mux.Router.
//
// Grounded on original_source/src/router/decoder.rs (version-prefix +
// base64 decode) and original_source/src/router/response.rs (envelope
// encoding/Cache-Control rules); routes themselves from
// original_source/src/router/routes_v2/* and routes_v1/*.
package api

import (
	"encoding/base64"
	"regexp"
	"strconv"

	"github.com/sandboxcdn/pkgcdn/internal/apperror"
)

// maxVersion is the highest request-envelope version this service
// understands (spec.md §4.8).
const maxVersion = 5

var versionPrefix = regexp.MustCompile(`^(\d+)\((.*)\)$`)

// DecodeSpecifier parses a raw path segment of the form "N(payload)" into
// its envelope version and base64-decoded payload. A segment with no
// recognized "N(...)" wrapper is treated as version 1 with the whole
// string as payload, matching the original decoder's default.
func DecodeSpecifier(raw string) (version int, payload string, err error) {
	version = 1
	body := raw

	if m := versionPrefix.FindStringSubmatch(raw); m != nil {
		version, err = strconv.Atoi(m[1])
		if err != nil {
			return 0, "", apperror.ErrInvalidCDNVersion
		}
		body = m[2]
	}

	if version < 1 || version > maxVersion {
		return 0, "", apperror.ErrInvalidCDNVersion
	}

	decoded, err := decodeBase64(body)
	if err != nil {
		return 0, "", apperror.ErrInvalidQuery
	}

	return version, string(decoded), nil
}

// decodeBase64 accepts both standard and URL-safe base64, with or without
// padding, since callers in the wild send both forms.
func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}
