package moduleproc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/sandboxcdn/pkgcdn/internal/apperror"
	"github.com/sandboxcdn/pkgcdn/internal/pkgjson"
	"github.com/sandboxcdn/pkgcdn/internal/tarball"
	"github.com/sandboxcdn/pkgcdn/internal/transform"
)

// depsToFilesAndModules splits a file's collected require() specifiers
// into relative file specifiers (those starting with ".") and bare
// node_modules module specifiers, matching process.rs's
// deps_to_files_and_modules. A scoped module specifier ("@scope/name/sub")
// keeps its first two path segments as the module identity; an unscoped
// one ("lodash/fp") keeps only the first.
func depsToFilesAndModules(deps []string) (fileSpecifiers []string, modules []string) {
	seenFiles := map[string]bool{}
	seenModules := map[string]bool{}

	for _, dep := range deps {
		if strings.HasPrefix(dep, ".") {
			if !seenFiles[dep] {
				seenFiles[dep] = true
				fileSpecifiers = append(fileSpecifiers, dep)
			}
			continue
		}

		parts := strings.Split(dep, "/")
		if len(parts) == 0 {
			continue
		}
		module := parts[0]
		if strings.HasPrefix(module, "@") && len(parts) > 1 {
			module = module + "/" + parts[1]
		}
		if !seenModules[module] {
			seenModules[module] = true
			modules = append(modules, module)
		}
	}

	return fileSpecifiers, modules
}

// transformFiles walks specifiers (module/file specifiers referenced from
// currFile) resolving each against files, transforming every archive file
// found, and recursing into that file's own require() targets. Already
// visited files are never revisited, which also bounds the recursion (a
// require cycle terminates the moment every file in the cycle has been
// added to resultMap).
func transformFiles(tr transform.Transformer, specifiers []string, currFile string, resultMap map[string]MinimalFile, files tarball.FileMap, usedModules map[string]bool) {
	currDir := pkgjson.FilePathToDirname(currFile)
	currExt := pkgjson.ExtractFileExtension(currFile)

	for _, specifier := range specifiers {
		absSpecifier := pkgjson.MakeModSpecifierAbsolute(currDir, specifier)
		foundFiles := pkgjson.CollectFiles(absSpecifier, files, currExt)

		for _, foundFile := range foundFiles {
			if _, already := resultMap[foundFile]; already {
				continue
			}

			content, ok := files[foundFile]
			if !ok {
				resultMap[foundFile] = MinimalFile{Kind: FileKindFailed}
				continue
			}

			result, err := tr.Transform(foundFile, string(content))
			if err != nil {
				resultMap[foundFile] = MinimalFile{
					Kind:         FileKindSource,
					Content:      string(content),
					IsTranspiled: false,
				}
				continue
			}

			fileDeps, moduleDeps := depsToFilesAndModules(result.Dependencies)
			for _, m := range moduleDeps {
				usedModules[m] = true
			}

			resultMap[foundFile] = MinimalFile{
				Kind:         FileKindSource,
				Content:      result.Code,
				Dependencies: result.Dependencies,
				IsTranspiled: true,
			}

			// Keep this last: resultMap already holds foundFile, so a
			// cyclic require chain can't recurse forever.
			transformFiles(tr, fileDeps, foundFile, resultMap, files, usedModules)
		}
	}
}

// TransformPackage runs C6's full per-package pipeline over an already
// decoded tarball.FileMap: parse package.json, transform every reachable
// entry file (and its transitive require() graph), mark everything else
// ignored, and build the declared-dependencies table annotated with
// actual use.
func TransformPackage(tr transform.Transformer, packageName, packageVersion string, files tarball.FileMap) (*MinimalCachedModule, ModuleDependenciesMap, error) {
	pkgJSONRaw, ok := files["package.json"]
	if !ok {
		return nil, nil, apperror.ErrPackageNotFound
	}

	pkg, err := pkgjson.Parse(pkgJSONRaw)
	if err != nil {
		return nil, nil, err
	}

	moduleFiles := map[string]MinimalFile{
		"package.json": {Kind: FileKindSource, Content: string(pkgJSONRaw), IsTranspiled: false},
	}
	usedModules := map[string]bool{}

	entries := pkgjson.CollectPkgEntries(pkg, majorSpecifier(packageName, packageVersion))
	transformFiles(tr, entries, ".", moduleFiles, files, usedModules)

	for path, content := range files {
		if _, handled := moduleFiles[path]; !handled {
			moduleFiles[path] = MinimalFile{Kind: FileKindIgnored, Size: uint64(len(content))}
		}
	}

	dependencies := ModuleDependenciesMap{}
	for name, rng := range pkg.Dependencies {
		dependencies[name] = ModuleDependency{Version: rng, IsUsed: usedModules[name]}
	}

	modules := make([]string, 0, len(usedModules))
	for m := range usedModules {
		if m != packageName {
			modules = append(modules, m)
		}
	}
	sort.Strings(modules)

	return &MinimalCachedModule{Files: moduleFiles, Modules: modules}, dependencies, nil
}

// majorSpecifier builds the "{name}@{major}" form AdditionalExports keys
// on (e.g. "react@17"). A version that doesn't parse as semver (npm allows
// nearly anything in the wild) falls back to the raw version string, so a
// lookup simply misses rather than erroring.
func majorSpecifier(packageName, packageVersion string) string {
	v, err := semver.NewVersion(packageVersion)
	if err != nil {
		return fmt.Sprintf("%s@%s", packageName, packageVersion)
	}
	return fmt.Sprintf("%s@%d", packageName, v.Major())
}

// ParsePackageSpecifier splits a "name@version" specifier into its name and
// version parts, matching process.rs's parse_package_specifier: the last
// "@"-delimited segment is the version, so a scoped package name
// ("@babel/core@7.1.0") keeps its own leading "@" intact. A specifier with
// more than one extra "@" beyond the scope marker is rejected.
func ParsePackageSpecifier(packageSpecifier string) (name, version string, err error) {
	parts := strings.Split(packageSpecifier, "@")
	if len(parts) < 2 {
		return "", "", apperror.ErrInvalidPackageSpecifier
	}

	version = parts[len(parts)-1]
	nameParts := parts[:len(parts)-1]
	if len(nameParts) > 2 {
		return "", "", apperror.ErrInvalidPackageSpecifier
	}

	name = strings.Join(nameParts, "@")
	if name == "" || version == "" {
		return "", "", apperror.ErrInvalidPackageSpecifier
	}

	return name, version, nil
}
