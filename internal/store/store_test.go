package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxcdn/pkgcdn/internal/npmdoc"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWriteThenGet(t *testing.T) {
	s := openTestStore(t)

	data := &npmdoc.MinimalPackageData{
		Name: "left-pad",
		Versions: map[string]npmdoc.VersionRecord{
			"1.0.0": {Dependencies: map[string]string{}, Tarball: "https://example.invalid/left-pad-1.0.0.tgz"},
		},
	}
	require.NoError(t, s.WritePackage(data))

	got, err := s.GetPackage("left-pad")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "left-pad", got.Name)
	assert.Contains(t, got.Versions, "1.0.0")
}

func TestGetMissingReturnsNilNoError(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetPackage("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestWriteInvalidatesLRUBeforeReturn exercises I4: a GetPackage call issued
// after WritePackage returns must never observe the pre-write value.
func TestWriteInvalidatesLRUBeforeReturn(t *testing.T) {
	s := openTestStore(t)

	v1 := &npmdoc.MinimalPackageData{Name: "pkg", Versions: map[string]npmdoc.VersionRecord{"1.0.0": {}}}
	require.NoError(t, s.WritePackage(v1))
	_, err := s.GetPackage("pkg") // populate the LRU
	require.NoError(t, err)

	v2 := &npmdoc.MinimalPackageData{Name: "pkg", Versions: map[string]npmdoc.VersionRecord{"1.0.0": {}, "2.0.0": {}}}
	require.NoError(t, s.WritePackage(v2))

	got, err := s.GetPackage("pkg")
	require.NoError(t, err)
	assert.Len(t, got.Versions, 2)
}

func TestDeletePackage(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.WritePackage(&npmdoc.MinimalPackageData{Name: "gone", Versions: map[string]npmdoc.VersionRecord{"1.0.0": {}}}))
	require.NoError(t, s.DeletePackage("gone"))

	got, err := s.GetPackage("gone")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLastSyncSeqRoundTrips(t *testing.T) {
	s := openTestStore(t)

	seq, err := s.LastSyncSeq()
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	require.NoError(t, s.UpdateLastSyncSeq(123456))

	seq, err = s.LastSyncSeq()
	require.NoError(t, err)
	assert.Equal(t, int64(123456), seq)
}

func TestCountExcludesCursorKey(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpdateLastSyncSeq(42))
	require.NoError(t, s.WritePackage(&npmdoc.MinimalPackageData{Name: "a", Versions: map[string]npmdoc.VersionRecord{"1.0.0": {}}}))
	require.NoError(t, s.WritePackage(&npmdoc.MinimalPackageData{Name: "b", Versions: map[string]npmdoc.VersionRecord{"1.0.0": {}}}))

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
