package tarball

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tarGzWithOneFile(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(content)), Mode: 0o644, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestFetcherCoalescesConcurrentRequests(t *testing.T) {
	var hits int32
	payload := tarGzWithOneFile(t, "package/index.js", "hello")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := New()
	url := srv.URL + "/left-pad-1.0.0.tgz"

	results := make(chan FileMap, 5)
	for i := 0; i < 5; i++ {
		go func() {
			fm, err := f.Get(context.Background(), url)
			require.NoError(t, err)
			results <- fm
		}()
	}
	for i := 0; i < 5; i++ {
		fm := <-results
		assert.Equal(t, "hello", string(fm["index.js"]))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetcherReturnsTarballDownloadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New()
	_, err := f.Get(context.Background(), srv.URL+"/missing.tgz")
	assert.Error(t, err)
}
