package pkgjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasicFields(t *testing.T) {
	raw := []byte(`{
		"name": "react",
		"version": "17.0.2",
		"jsnext:main": "index.next.js",
		"main": "index.cjs",
		"module": "index.mjs",
		"browser": "index.browser.js"
	}`)

	pkg, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "react", pkg.Name)
	assert.Equal(t, "17.0.2", pkg.Version)
	assert.Equal(t, "index.next.js", pkg.JSNextMain)
	assert.Equal(t, "index.cjs", pkg.Main)
	assert.Equal(t, "index.mjs", pkg.Module)
	require.NotNil(t, pkg.Browser)
	require.NotNil(t, pkg.Browser.str)
	assert.Equal(t, "index.browser.js", *pkg.Browser.str)
}

func TestMainEntryFallbackOrder(t *testing.T) {
	pkg, err := Parse([]byte(`{"name":"a","version":"1.0.0","main":"index.cjs"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"index.cjs"}, CollectPkgEntries(pkg, "a@1"))
}

func TestExportsStringEntry(t *testing.T) {
	pkg, err := Parse([]byte(`{"name":"a","version":"1.0.0","exports":"./dist/index.js"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"./dist/index.js"}, CollectPkgEntries(pkg, "a@1"))
}

func TestExportsDotMapWithConditions(t *testing.T) {
	pkg, err := Parse([]byte(`{
		"name": "a", "version": "1.0.0",
		"exports": {
			".": {"browser": "./dist/browser.js", "default": "./dist/index.js"},
			"./feature": "./dist/feature.js"
		}
	}`))
	require.NoError(t, err)
	entries := CollectPkgEntries(pkg, "a@1")
	assert.Contains(t, entries, "./dist/browser.js")
	assert.Contains(t, entries, "./dist/feature.js")
}

func TestReact17GetsAdditionalExports(t *testing.T) {
	pkg, err := Parse([]byte(`{"name":"react","version":"17.0.2","main":"index.js"}`))
	require.NoError(t, err)
	entries := CollectPkgEntries(pkg, "react@17")
	assert.Contains(t, entries, "jsx-runtime")
	assert.Contains(t, entries, "jsx-dev-runtime")
}

func TestEntriesAreSortedAndDeduped(t *testing.T) {
	pkg, err := Parse([]byte(`{
		"name": "a", "version": "1.0.0",
		"exports": {".": "./index.js", "./index": "./index.js"}
	}`))
	require.NoError(t, err)
	entries := CollectPkgEntries(pkg, "a@1")
	assert.Equal(t, []string{"./index.js"}, entries)
}
