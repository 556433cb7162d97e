package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxcdn/pkgcdn/internal/npmdoc"
)

type fakeSource struct {
	packages map[string]*npmdoc.MinimalPackageData
}

func (f *fakeSource) ResolvePackage(ctx context.Context, name string) (*npmdoc.MinimalPackageData, error) {
	data, ok := f.packages[name]
	if !ok {
		return nil, nil
	}
	return data, nil
}

func pkg(name string, distTags map[string]string, versions map[string]map[string]string) *npmdoc.MinimalPackageData {
	vr := map[string]npmdoc.VersionRecord{}
	for v, deps := range versions {
		vr[v] = npmdoc.VersionRecord{Dependencies: deps}
	}
	return &npmdoc.MinimalPackageData{Name: name, DistTags: distTags, Versions: vr}
}

func TestResolveTreePicksHighestSatisfying(t *testing.T) {
	src := &fakeSource{packages: map[string]*npmdoc.MinimalPackageData{
		"leaf": pkg("leaf", nil, map[string]map[string]string{
			"1.0.0": {}, "1.2.0": {}, "2.0.0": {},
		}),
	}}

	r := New(src)
	req, err := NewDepRequest("leaf", "^1.0.0")
	require.NoError(t, err)

	require.NoError(t, r.ResolveTree(context.Background(), []DepRequest{req}))

	v, ok := r.Resolutions()["leaf@1"]
	require.True(t, ok)
	assert.Equal(t, "1.2.0", v.String())
}

func TestResolveTreeFollowsTransitiveDeps(t *testing.T) {
	src := &fakeSource{packages: map[string]*npmdoc.MinimalPackageData{
		"root-dep": pkg("root-dep", nil, map[string]map[string]string{
			"1.0.0": {"leaf": "^2.0.0"},
		}),
		"leaf": pkg("leaf", nil, map[string]map[string]string{
			"2.5.0": {},
		}),
	}}

	r := New(src)
	req, err := NewDepRequest("root-dep", "^1.0.0")
	require.NoError(t, err)
	require.NoError(t, r.ResolveTree(context.Background(), []DepRequest{req}))

	assert.Equal(t, "1.0.0", r.Resolutions()["root-dep@1"].String())
	assert.Equal(t, "2.5.0", r.Resolutions()["leaf@2"].String())
}

func TestMaxWinsTieBreak(t *testing.T) {
	src := &fakeSource{packages: map[string]*npmdoc.MinimalPackageData{
		"shared": pkg("shared", nil, map[string]map[string]string{
			"1.0.0": {}, "1.5.0": {},
		}),
		"a": pkg("a", nil, map[string]map[string]string{"1.0.0": {"shared": "^1.0.0"}}),
		"b": pkg("b", nil, map[string]map[string]string{"1.0.0": {"shared": "^1.5.0"}}),
	}}

	r := New(src)
	reqA, _ := NewDepRequest("a", "^1.0.0")
	reqB, _ := NewDepRequest("b", "^1.0.0")
	require.NoError(t, r.ResolveTree(context.Background(), []DepRequest{reqA, reqB}))

	assert.Equal(t, "1.5.0", r.Resolutions()["shared@1"].String())
}

func TestDistTagResolvesAndRecordsAlias(t *testing.T) {
	src := &fakeSource{packages: map[string]*npmdoc.MinimalPackageData{
		"tagged": pkg("tagged", map[string]string{"latest": "3.1.0"}, map[string]map[string]string{
			"3.1.0": {},
		}),
	}}

	r := New(src)
	req, err := NewDepRequest("tagged", "latest")
	require.NoError(t, err)
	require.NoError(t, r.ResolveTree(context.Background(), []DepRequest{req}))

	assert.Equal(t, "3.1.0", r.Resolutions()["tagged@3"].String())
	assert.Equal(t, "tagged@3", r.Aliases()["tagged@latest"])
}

func TestColonTagSilentlySkipped(t *testing.T) {
	src := &fakeSource{packages: map[string]*npmdoc.MinimalPackageData{
		"withgit": pkg("withgit", map[string]string{"latest": "1.0.0"}, map[string]map[string]string{
			"1.0.0": {"some-fork": "github:user/some-fork"},
		}),
	}}

	r := New(src)
	req, err := NewDepRequest("withgit", "latest")
	require.NoError(t, err)
	require.NoError(t, r.ResolveTree(context.Background(), []DepRequest{req}))

	_, ok := r.Resolutions()["some-fork@0"]
	assert.False(t, ok)
}

func TestNpmAliasPrefixRewritesTarget(t *testing.T) {
	req, err := NewDepRequest("my-local-name", "npm:real-package@^2.0.0")
	require.NoError(t, err)
	assert.Equal(t, "real-package", req.Name)
	assert.Equal(t, "^2.0.0", req.Range.Raw)
}

func TestNpmAliasPrefixHandlesScopedPackage(t *testing.T) {
	req, err := NewDepRequest("x", "npm:@babel/core@7.12.9")
	require.NoError(t, err)
	assert.Equal(t, "@babel/core", req.Name)
	assert.Equal(t, "7.12.9", req.Range.Raw)
}

func TestUnknownTagWithoutColonIsInvalidSpecifier(t *testing.T) {
	src := &fakeSource{packages: map[string]*npmdoc.MinimalPackageData{
		"pkg": pkg("pkg", map[string]string{}, map[string]map[string]string{"1.0.0": {}}),
	}}

	r := New(src)
	req, err := NewDepRequest("pkg", "nonexistent-tag")
	require.NoError(t, err)
	err = r.ResolveTree(context.Background(), []DepRequest{req})
	assert.Error(t, err)
}
