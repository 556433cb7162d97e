package api_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxcdn/pkgcdn/internal/api"
	"github.com/sandboxcdn/pkgcdn/internal/moduleproc"
	"github.com/sandboxcdn/pkgcdn/internal/npmdoc"
)

type fakeSource struct {
	packages map[string]*npmdoc.MinimalPackageData
}

func (f *fakeSource) ResolvePackage(ctx context.Context, name string) (*npmdoc.MinimalPackageData, error) {
	data, ok := f.packages[name]
	if !ok {
		return nil, fmt.Errorf("package not found: %s", name)
	}
	return data, nil
}

type fakeTransformCache struct {
	module *moduleproc.MinimalCachedModule
	err    error
}

func (f *fakeTransformCache) TransformModuleCached(ctx context.Context, packageSpecifier string) (*moduleproc.MinimalCachedModule, error) {
	return f.module, f.err
}

type fakeSyncStatus struct {
	seq int64
}

func (f *fakeSyncStatus) LastSyncSeq() (int64, error) {
	return f.seq, nil
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestHealthEndpoint(t *testing.T) {
	handler := api.NewRouter(&fakeSource{}, &fakeTransformCache{}, &fakeSyncStatus{}, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestHealthEndpointSetsRequestIDHeader(t *testing.T) {
	handler := api.NewRouter(&fakeSource{}, &fakeTransformCache{}, &fakeSyncStatus{}, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestRequestIDHeaderIsEchoedBackWhenSupplied(t *testing.T) {
	handler := api.NewRouter(&fakeSource{}, &fakeTransformCache{}, &fakeSyncStatus{}, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "caller-supplied-id")

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "caller-supplied-id", resp.Header.Get("X-Request-Id"))
}

func TestModEndpointReturnsModuleAndSetsCacheHeaders(t *testing.T) {
	module := &moduleproc.MinimalCachedModule{
		Files:   map[string]moduleproc.MinimalFile{"index.js": {Kind: moduleproc.FileKindSource, Content: "x"}},
		Modules: []string{"left-pad"},
	}
	handler := api.NewRouter(&fakeSource{}, &fakeTransformCache{module: module}, &fakeSyncStatus{}, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/v2/mod/" + b64("left-pad@1.0.0"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000", resp.Header.Get("Cache-Control"))

	var decoded moduleproc.MinimalCachedModule
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Contains(t, decoded.Files, "index.js")
}

func TestModEndpointVersion5UsesMsgpackContentType(t *testing.T) {
	module := &moduleproc.MinimalCachedModule{Files: map[string]moduleproc.MinimalFile{}}
	handler := api.NewRouter(&fakeSource{}, &fakeTransformCache{module: module}, &fakeSyncStatus{}, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	specifier := fmt.Sprintf("5(%s)", b64("left-pad@1.0.0"))
	resp, err := server.Client().Get(server.URL + "/v2/mod/" + specifier)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/javascript", resp.Header.Get("Content-Type"))
}

func TestModEndpointUnsupportedVersionIsRejected(t *testing.T) {
	handler := api.NewRouter(&fakeSource{}, &fakeTransformCache{}, &fakeSyncStatus{}, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	specifier := fmt.Sprintf("99(%s)", b64("left-pad@1.0.0"))
	resp, err := server.Client().Get(server.URL + "/v2/mod/" + specifier)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func pkg(name string, versions map[string]string) *npmdoc.MinimalPackageData {
	recs := make(map[string]npmdoc.VersionRecord, len(versions))
	for v, deps := range versions {
		_ = deps
		recs[v] = npmdoc.VersionRecord{}
	}
	return &npmdoc.MinimalPackageData{Name: name, Versions: recs}
}

func TestDepsEndpointResolvesQuery(t *testing.T) {
	source := &fakeSource{packages: map[string]*npmdoc.MinimalPackageData{
		"left-pad": pkg("left-pad", map[string]string{"1.2.0": ""}),
	}}
	handler := api.NewRouter(source, &fakeTransformCache{}, &fakeSyncStatus{}, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/v2/deps/" + b64("left-pad@^1.0.0"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "public, max-age=3600", resp.Header.Get("Cache-Control"))

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	resolutions := decoded["resolutions"].(map[string]any)
	assert.Equal(t, "1.2.0", resolutions["left-pad@1"])
}

func TestSyncStatusEndpoint(t *testing.T) {
	handler := api.NewRouter(&fakeSource{}, &fakeTransformCache{}, &fakeSyncStatus{seq: 42}, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/v2/npm_sync_status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded struct {
		LastSeq int64 `json:"last_seq"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.EqualValues(t, 42, decoded.LastSeq)
}

func TestPackageV1EndpointIsJSONOnlyNoVersionPrefix(t *testing.T) {
	module := &moduleproc.MinimalCachedModule{Files: map[string]moduleproc.MinimalFile{}}
	handler := api.NewRouter(&fakeSource{}, &fakeTransformCache{module: module}, &fakeSyncStatus{}, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/package/" + b64("left-pad@1.0.0"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestDepTreeV1EndpointReportsDepth(t *testing.T) {
	source := &fakeSource{packages: map[string]*npmdoc.MinimalPackageData{
		"left-pad": pkg("left-pad", map[string]string{"1.2.0": ""}),
	}}
	handler := api.NewRouter(source, &fakeTransformCache{}, &fakeSyncStatus{}, nil)
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/dep_tree/" + b64("left-pad@^1.0.0"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]struct {
		Version string `json:"version"`
		Depth   int    `json:"depth"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	entry, ok := decoded["left-pad@1"]
	require.True(t, ok)
	assert.Equal(t, "1.2.0", entry.Version)
	assert.Equal(t, 0, entry.Depth)
}
