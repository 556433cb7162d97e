// Package pkgjson parses package.json and implements C6's entry-point
// selection (spec.md §4.6): which files within a package's archive are the
// module's public entry points.
//
// Grounded on original_source/src/package/package_json.rs
// (PackageJSONExport, get_export_entry, get_main_entry, collect_pkg_entries)
// and src/package/additional_exports.rs.
package pkgjson

import (
	"encoding/json"
	"sort"
)

// conditionPriority is the export-condition resolution order: package.json
// "exports" maps are tried in this order when choosing among conditional
// entries (spec.md §4.6).
var conditionPriority = []string{"browser", "development", "default", "require", "import"}

// Export is package.json's untagged "exports"/"browser" field shape: a
// single string, a nested condition map, an array of fallbacks, or an
// explicit false/null meaning "no such export."
type Export struct {
	str    *string
	m      map[string]Export
	vec    []Export
	ignore bool
}

// UnmarshalJSON implements the untagged-enum decode
// PackageJSONExport::{Ignored, Value, Map, Vec} relied on.
func (e *Export) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.str = &s
		return nil
	}

	var m map[string]Export
	if err := json.Unmarshal(data, &m); err == nil {
		e.m = m
		return nil
	}

	var vec []Export
	if err := json.Unmarshal(data, &vec); err == nil {
		e.vec = vec
		return nil
	}

	// bool, null, or anything else we don't understand: ignored.
	e.ignore = true
	return nil
}

// GetExportEntry walks an Export value depth-first, applying
// conditionPriority at every condition map encountered, and returns the
// first concrete string entry found.
func GetExportEntry(e Export) (string, bool) {
	switch {
	case e.str != nil:
		return *e.str, true
	case e.m != nil:
		for _, key := range conditionPriority {
			if v, ok := e.m[key]; ok {
				if found, ok := GetExportEntry(v); ok {
					return found, true
				}
			}
		}
		return "", false
	case e.vec != nil:
		for _, v := range e.vec {
			if found, ok := GetExportEntry(v); ok {
				return found, true
			}
		}
		return "", false
	default:
		return "", false
	}
}

// PackageJSON is the subset of package.json fields C6 needs.
type PackageJSON struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Main         string            `json:"main"`
	Module       string            `json:"module"`
	JSNextMain   string            `json:"jsnext:main"`
	Browser      *Export           `json:"browser"`
	Exports      *Export           `json:"exports"`
	Dependencies map[string]string `json:"dependencies"`
}

// Parse decodes raw package.json bytes.
func Parse(content []byte) (*PackageJSON, error) {
	var pkg PackageJSON
	if err := json.Unmarshal(content, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// getMainEntry is the fallback entry-point selection used when "exports"
// doesn't name one: module -> browser (string form only) -> main ->
// jsnext:main -> "index".
func getMainEntry(pkg *PackageJSON) string {
	if pkg.Module != "" {
		return pkg.Module
	}
	if pkg.Browser != nil && pkg.Browser.str != nil {
		return *pkg.Browser.str
	}
	if pkg.Main != "" {
		return pkg.Main
	}
	if pkg.JSNextMain != "" {
		return pkg.JSNextMain
	}
	return "index"
}

// CollectPkgEntries returns every entry point a package exposes: its
// "exports" map (condition groups and/or per-path relative exports),
// falling back to getMainEntry when "exports" names nothing, plus any
// hardcoded additional exports for that package (e.g. react@17's
// jsx-runtime). Results are sorted and deduplicated.
func CollectPkgEntries(pkg *PackageJSON, packageSpecifier string) []string {
	var entries []string
	hasMainExport := false

	if pkg.Exports != nil {
		switch {
		case pkg.Exports.m != nil:
			for key, value := range pkg.Exports.m {
				if len(key) == 0 || key[0] != '.' {
					// Non-dot key: this whole map is actually a flat
					// condition group (no per-path exports at all).
					if found, ok := GetExportEntry(*pkg.Exports); ok {
						hasMainExport = true
						entries = append(entries, found)
					}
					goto doneExports
				}
				if found, ok := GetExportEntry(value); ok {
					entries = append(entries, found)
					if key == "." {
						hasMainExport = true
					}
				}
			}
		case pkg.Exports.str != nil:
			hasMainExport = true
			entries = append(entries, *pkg.Exports.str)
		case pkg.Exports.vec != nil:
			hasMainExport = true
			if found, ok := GetExportEntry(*pkg.Exports); ok {
				entries = append(entries, found)
			}
		}
	}
doneExports:

	if !hasMainExport {
		entries = append(entries, getMainEntry(pkg))
	}

	entries = append(entries, AdditionalExports(packageSpecifier)...)

	sort.Strings(entries)
	entries = dedupe(entries)
	return entries
}

func dedupe(sorted []string) []string {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
