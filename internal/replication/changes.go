// Package replication implements C2, the replication worker: a long-lived
// loop that long-polls a CouchDB-style _changes feed and applies each page
// of results to the KV Registry Store.
//
// Grounded on original_source/src/npm_replicator/changes.rs (ChangesStream)
// and replication_task.rs (sync loop). The one-time SQLite-to-RocksDB
// migration path in replication_task.rs is a historical artifact of the
// original's own storage-engine migration and has no Go equivalent to
// preserve — see DESIGN.md.
package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sandboxcdn/pkgcdn/internal/npmdoc"
)

// couchMaxTimeout is the largest long-poll timeout CouchDB's _changes feed
// supports, per https://docs.couchdb.org/en/stable/api/database/changes.html.
const couchMaxTimeout = 60000

// pageLimit bounds how many change entries a single long-poll request may
// return; the original uses 50.
const pageLimit = 50

// Change is one entry of a changes page.
type Change struct {
	Seq     int64                     `json:"seq"`
	ID      string                    `json:"id"`
	Deleted bool                      `json:"deleted"`
	Doc     *npmdoc.RegistryDocument  `json:"doc"`
}

// Page is the decoded response body of a _changes long-poll request.
type Page struct {
	Results []Change `json:"results"`
	LastSeq int64    `json:"last_seq"`
}

// ChangesStream pulls successive pages from a _changes feed, starting from
// a caller-supplied sequence cursor and advancing it as pages are fetched.
type ChangesStream struct {
	baseURL string
	client  *http.Client
	lastSeq int64
}

// NewChangesStream constructs a stream that will request baseURL (typically
// "https://replicate.npmjs.com/registry/_changes") starting at since.
func NewChangesStream(baseURL string, since int64, client *http.Client) *ChangesStream {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChangesStream{baseURL: baseURL, client: client, lastSeq: since}
}

// FetchNext issues one long-poll request and returns the resulting page,
// advancing the stream's cursor to page.LastSeq on success.
func (s *ChangesStream) FetchNext(ctx context.Context) (Page, error) {
	q := url.Values{}
	q.Set("feed", "longpoll")
	q.Set("include_docs", "true")
	q.Set("timeout", strconv.Itoa(couchMaxTimeout))
	q.Set("limit", strconv.Itoa(pageLimit))
	q.Set("since", strconv.FormatInt(s.lastSeq, 10))

	reqURL := s.baseURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Page{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{}, fmt.Errorf("changes feed request failed: status %d", resp.StatusCode)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return Page{}, fmt.Errorf("decode changes page: %w", err)
	}

	s.lastSeq = page.LastSeq
	return page, nil
}

// ShouldWait reports whether the feed appeared caught up: per spec.md §4.2
// step 5, only a page less than half of pageLimit is treated as "nothing
// more to fetch right now" — anything at or above half loops immediately,
// since a near-full page is a sign a backlog is still being drained.
func (s *ChangesStream) ShouldWait(resultCount int) bool {
	return resultCount < pageLimit/2
}
