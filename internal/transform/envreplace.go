// Package transform implements C7's observable contract (SPEC_FULL.md
// §6.1): the four environment/dependency behaviors spec.md actually tests,
// reimplemented over source text rather than a JS AST — there's no Go
// equivalent of swc to port the original's full down-leveling/minification
// pipeline to, so only the contract is carried over.
//
// Grounded on original_source/src/transform/env_replacer.rs.
package transform

import "regexp"

// protectedMembers are Object.prototype method names that can be called
// directly on process.env (e.g. process.env.hasOwnProperty("X")); these
// must never be replaced by a value substitution, since doing so would
// turn a live method call into a literal.
var protectedMembers = map[string]bool{
	"hasOwnProperty":       true,
	"isPrototypeOf":        true,
	"propertyIsEnumerable": true,
	"toLocaleString":       true,
	"toSource":             true,
	"toString":             true,
	"valueOf":              true,
}

var processEnvMember = regexp.MustCompile(`process\.env\.([A-Za-z_$][A-Za-z0-9_$]*)`)
var processBrowser = regexp.MustCompile(`process\.browser\b`)

// ReplaceEnv substitutes process.env.NODE_ENV with the literal
// "development", process.browser with true, and any other process.env.X
// reference with undefined — except the Object.prototype method names in
// protectedMembers, which are left untouched.
func ReplaceEnv(code string) string {
	code = processEnvMember.ReplaceAllStringFunc(code, func(match string) string {
		name := processEnvMember.FindStringSubmatch(match)[1]
		if protectedMembers[name] {
			return match
		}
		if name == "NODE_ENV" {
			return `"development"`
		}
		return "undefined"
	})
	return processBrowser.ReplaceAllString(code, "true")
}
