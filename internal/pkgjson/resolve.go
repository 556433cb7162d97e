// Part of C6's module-resolution-within-an-archive algorithm (spec.md
// §4.6.1), grounded on original_source/src/package/resolver.rs.
package pkgjson

import (
	"regexp"
	"strings"
)

// fixedExtensions is the extension search order applied when a bare module
// specifier (no extension, not found verbatim) needs to be resolved
// against the files actually present in an archive.
var fixedExtensions = []string{".js", ".mjs", ".cjs", ".css", ".sass", ".scss", ".less"}

// MakeModSpecifierAbsolute resolves modSpecifier against cwd the way a
// filesystem path would be, collapsing "." and ".." segments, without ever
// touching a real filesystem (everything here operates on archive-relative
// string keys).
func MakeModSpecifierAbsolute(cwd, modSpecifier string) string {
	full := cwd + "/" + modSpecifier
	parts := strings.Split(full, "/")

	result := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case ".", "":
			continue
		case "..":
			if len(result) > 0 {
				result = result[:len(result)-1]
			}
		default:
			result = append(result, part)
		}
	}
	return strings.Join(result, "/")
}

// FilePathToDirname returns the directory containing filePath.
func FilePathToDirname(filePath string) string {
	return MakeModSpecifierAbsolute(filePath, "..")
}

// ExtractFileExtension returns the last "."-delimited extension of
// filePath, or "" if it has none (a trailing dot, or a last dot that sits
// in a directory name rather than the file name, both count as "no
// extension"; a dot-file such as ".npmrc" yields its whole name).
func ExtractFileExtension(filePath string) string {
	idx := strings.LastIndex(filePath, ".")
	if idx < 0 {
		return ""
	}
	ext := filePath[idx:]
	if ext == "" || ext == "." || strings.Contains(ext, "/") {
		return ""
	}
	return ext
}

// CollectFiles resolves a module specifier (possibly a glob containing
// "*") against the set of archive paths in files, preferring currentExt
// (the extension of the file that's doing the importing) over the fixed
// extension search order.
func CollectFiles(absFilePattern string, files map[string][]byte, currentExt string) []string {
	if strings.Contains(absFilePattern, "*") {
		if re, ok := compileGlob(absFilePattern); ok {
			allowedExt := map[string]bool{}
			for _, e := range fixedExtensions {
				allowedExt[e] = true
			}

			var result []string
			for filePath := range files {
				ext := ExtractFileExtension(filePath)
				if ext != "" && allowedExt[ext] && re.MatchString(filePath) {
					result = append(result, filePath)
				}
			}
			return result
		}
	}

	if _, ok := files[absFilePattern]; ok {
		return []string{absFilePattern}
	}

	extensions := make([]string, 0, len(fixedExtensions)+1)
	if currentExt != "" {
		extensions = append(extensions, currentExt)
	}
	extensions = append(extensions, fixedExtensions...)

	for _, ext := range extensions {
		candidate := absFilePattern + ext
		if _, ok := files[candidate]; ok {
			return []string{candidate}
		}
	}

	for _, ext := range extensions {
		candidate := absFilePattern + "/index" + ext
		if _, ok := files[candidate]; ok {
			return []string{candidate}
		}
	}

	return nil
}

// compileGlob translates a shell-style "*" pattern into a regexp. This
// mirrors the Rust `glob` crate's default MatchOptions
// (require_literal_separator: false): "*" matches any run of characters,
// including "/", since these patterns match against plain archive-path
// strings rather than real filesystem paths.
func compileGlob(pattern string) (*regexp.Regexp, bool) {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, false
	}
	return re, true
}
