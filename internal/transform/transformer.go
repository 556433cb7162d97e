package transform

import (
	"regexp"
	"sort"
)

// Result is the outcome of transforming a single file.
type Result struct {
	Code         string
	Dependencies []string
}

// Transformer is the C7 collaborator boundary: anything that can turn one
// source file's raw text into browser-runnable CommonJS plus its
// dependency set. Reference implements the observable contract described
// in SPEC_FULL.md §6.1; a real deployment could swap in an actual
// downleveling/minifying compiler behind the same interface.
type Transformer interface {
	Transform(filename, code string) (Result, error)
}

// Reference is the built-in Transformer: environment inlining, sourcemap
// comment stripping, and require() dependency collection, all applied
// directly over source text.
type Reference struct{}

// NewReference constructs the reference Transformer.
func NewReference() *Reference { return &Reference{} }

var sourceMapComment = regexp.MustCompile(`(?m)^\s*//[#@]\s*sourceMappingURL=.*$\n?`)

// Transform implements Transformer.
func (Reference) Transform(filename, code string) (Result, error) {
	code = ReplaceEnv(code)
	code = stripSourceMapComment(code)
	deps := CollectDependencies(code)

	return Result{Code: code, Dependencies: deps}, nil
}

// stripSourceMapComment removes a trailing "//# sourceMappingURL=..." (or
// the legacy "//@" form) comment line, matching
// transform/transformer.rs's remove_sourcemap_comment behavior.
func stripSourceMapComment(code string) string {
	return sourceMapComment.ReplaceAllString(code, "")
}

var (
	requireCall    = regexp.MustCompile(`(?:^|[^.\w$])require\s*\(\s*(['"])((?:[^'"\\]|\\.)*)\1\s*\)`)
	requireBinding = regexp.MustCompile(`\b(?:function|const|let|var)\s+require\b|\brequire\s*[,)]`)
)

// CollectDependencies returns the set of literal string arguments passed to
// require(...) calls in code, mirroring
// transform/dependency_collector.rs's DependencyCollector. A file that
// shadows the `require` identifier with a local binding (function param,
// var/let/const declaration) is treated as never calling the real
// `require`, so no dependencies are collected from it — the original makes
// the same call per-identifier via scope resolution; this reimplementation
// makes it per-file, which is coarser but preserves the same intent: never
// misattribute a shadowed `require` call as a real dependency edge.
func CollectDependencies(code string) []string {
	if requireBinding.MatchString(code) {
		return nil
	}

	seen := map[string]bool{}
	var deps []string
	for _, m := range requireCall.FindAllStringSubmatch(code, -1) {
		spec := m[2]
		if !seen[spec] {
			seen[spec] = true
			deps = append(deps, spec)
		}
	}
	sort.Strings(deps)
	return deps
}
