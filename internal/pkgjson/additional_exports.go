package pkgjson

// additionalExports hardcodes subpath entries a package doesn't declare via
// "exports"/"main" but that consumers import directly anyway. Grounded on
// original_source/src/package/additional_exports.rs's EXPORTS_MAP.
var additionalExports = map[string][]string{
	"react@17": {"jsx-runtime", "jsx-dev-runtime"},
}

// AdditionalExports returns the hardcoded extra entry points for a
// "{name}@{major}"-shaped package specifier, if any.
func AdditionalExports(packageSpecifier string) []string {
	found, ok := additionalExports[packageSpecifier]
	if !ok {
		return nil
	}
	out := make([]string, len(found))
	copy(out, found)
	return out
}
