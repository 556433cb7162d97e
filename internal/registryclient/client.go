// Package registryclient is the synchronous npm registry HTTP client used
// for on-demand package-metadata fetches (when the resolver finds a package
// missing from the KV store). It also offers FetchTarball; C4's
// tarball.Fetcher downloads tarballs with its own retrying client.
//
// Grounded on original_source/src/utils/request.rs's get_client, which
// wraps reqwest with reqwest_retry's ExponentialBackoff(max_retries=3).
// hashicorp/go-retryablehttp is the closest Go equivalent — a drop-in
// *http.Client replacement with the same exponential-backoff retry policy —
// and is an indirect dependency already present via
// _examples/evalgo-org-eve/go.mod.
package registryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/sandboxcdn/pkgcdn/internal/apperror"
	"github.com/sandboxcdn/pkgcdn/internal/npmdoc"
)

// defaultTimeout mirrors the original's tarball fetch timeout (~120s). It
// applies to each attempt, so a retried request can take longer in total;
// metadata fetches use the same client.
const defaultTimeout = 120 * time.Second

// Client fetches package manifests and tarballs from the npm registry.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client against baseURL (typically
// "https://registry.npmjs.org"), with a retrying transport: exponential
// backoff, up to 3 retries, matching reqwest_retry's policy.
func New(baseURL string) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = log.New(os.Stdout, "REGISTRY-HTTP: ", log.Ldate|log.Ltime|log.Lshortfile)
	retryClient.HTTPClient.Timeout = defaultTimeout

	return &Client{
		baseURL: baseURL,
		http:    retryClient.StandardClient(),
	}
}

// FetchManifest retrieves the full registry document for a package name.
func (c *Client) FetchManifest(ctx context.Context, name string) (*npmdoc.RegistryDocument, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.npm.install-v1+json, application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperror.ErrPackageNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apperror.NpmManifestDownloadError{StatusCode: resp.StatusCode, PackageName: name}
	}

	var doc npmdoc.RegistryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode manifest for %s: %w", name, err)
	}
	return &doc, nil
}

// FetchTarball downloads the raw bytes at url (a tarball dist URL taken
// from a VersionRecord).
func (c *Client) FetchTarball(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apperror.TarballDownloadError{StatusCode: resp.StatusCode, URL: url}
	}

	return io.ReadAll(resp.Body)
}
