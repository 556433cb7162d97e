// Package resolver implements C5, the dependency resolver: an iterative
// (not recursive) fixed-point SemVer resolution loop over a working set of
// dependency requests.
//
// Grounded on original_source/src/npm/dep_tree_builder.rs (DepTreeBuilder),
// the current/canonical resolver in the original — superseding the earlier
// package/collect_dep_tree.rs iteration. node_semver's Range/Version map to
// Masterminds/semver/v3's Constraints/Version, already used for this exact
// purpose in the teacher's api/api.go (highestCompatibleVersion).
package resolver

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/sandboxcdn/pkgcdn/internal/apperror"
	"github.com/sandboxcdn/pkgcdn/internal/metrics"
	"github.com/sandboxcdn/pkgcdn/internal/npmdoc"
)

// maxIterations is the fixed-point resolution safety cap. Hitting it is not
// an error: the loop simply stops and logs how many ticks it took, mirroring
// resolve_tree's "count < 200" loop condition.
const maxIterations = 200

// DepRange is either a concrete SemVer range/constraint, or an unresolved
// dist-tag (e.g. "latest", "next") to be looked up against a package's
// dist-tags map at resolution time.
type DepRange struct {
	Raw        string
	Constraint *semver.Constraints
}

// IsTag reports whether this range failed to parse as a SemVer constraint
// and must instead be resolved via a package's dist-tags.
func (r DepRange) IsTag() bool { return r.Constraint == nil }

func (r DepRange) String() string { return r.Raw }

// ParseDepRange mirrors DepRange::parse: "*" and "" mean "any version";
// anything else is tried as a SemVer constraint first, falling back to a
// bare tag string if it doesn't parse as one.
func ParseDepRange(value string) DepRange {
	if value == "*" || value == "" {
		c, _ := semver.NewConstraint("*")
		return DepRange{Raw: "*", Constraint: c}
	}
	if c, err := semver.NewConstraint(value); err == nil {
		return DepRange{Raw: value, Constraint: c}
	}
	return DepRange{Raw: value}
}

// DepRequest names one dependency edge to resolve: a package name plus the
// range or tag it was requested at.
type DepRequest struct {
	Name  string
	Range DepRange
}

// Key is used to deduplicate the per-tick working set. Two requests for the
// same package at the literal same range/tag string collapse into one;
// requests with different surface forms that happen to be semantically
// equivalent are not deduplicated — the 200-tick cap bounds the cost of
// that, exactly as the original's HashSet<DepRequest> would only dedupe on
// structural equality too.
func (r DepRequest) Key() string { return r.Name + "@" + r.Range.Raw }

// NewDepRequest parses a (name, version) dependency edge, resolving an
// "npm:<name>@<range>" alias prefix at construction time rather than during
// resolution, per spec.
func NewDepRequest(name, version string) (DepRequest, error) {
	parsed := ParseDepRange(version)
	if parsed.IsTag() && strings.Contains(parsed.Raw, ":") && strings.HasPrefix(parsed.Raw, "npm:") {
		aliasedName, aliasedVersion, err := splitTrailingVersion(parsed.Raw[len("npm:"):])
		if err != nil {
			return DepRequest{}, err
		}
		return DepRequest{Name: aliasedName, Range: ParseDepRange(aliasedVersion)}, nil
	}
	return DepRequest{Name: name, Range: parsed}, nil
}

// splitTrailingVersion splits "<name>@<version>" on the last '@', which
// correctly handles scoped package names such as "@babel/core@7.12.9"
// (whose own name starts with '@').
func splitTrailingVersion(specifier string) (name, version string, err error) {
	idx := strings.LastIndex(specifier, "@")
	if idx <= 0 {
		return "", "", apperror.ErrInvalidPackageSpecifier
	}
	return specifier[:idx], specifier[idx+1:], nil
}

// PackageSource resolves package metadata by name, fetching from origin on
// demand when the backing store has nothing for that name. A stored record
// is returned as is, whatever its age.
type PackageSource interface {
	ResolvePackage(ctx context.Context, name string) (*npmdoc.MinimalPackageData, error)
}

// Resolver runs the fixed-point resolution loop and accumulates the
// resolution and alias maps (spec.md §3's Resolution key / Alias entry).
type Resolver struct {
	source PackageSource

	// resolutions maps "{name}@{major}" -> the highest version picked for
	// that major line so far (I3: max(existing, new) wins).
	resolutions map[string]*semver.Version
	// aliases maps "{name}@{tag}" -> "{name}@{major}".
	aliases map[string]string
	// packages maps a package name to the set of concrete versions
	// resolved for it, used by hasDependency's already-satisfied check.
	packages map[string]map[string]*semver.Version
	// depths records the fixed-point tick each resolution key first
	// appeared on (0 = directly requested), for the v1-compatibility
	// dep_tree endpoint's depth-annotated response. Not present in the
	// original: depth isn't a spec.md concept, just a v1-compat display
	// detail, so it's tracked separately rather than folded into I3's
	// tie-break rule.
	depths map[string]int

	tick int
	log  *log.Logger

	metrics *metrics.Metrics
}

// New constructs a Resolver backed by source.
func New(source PackageSource) *Resolver {
	return &Resolver{
		source:      source,
		resolutions: map[string]*semver.Version{},
		aliases:     map[string]string{},
		packages:    map[string]map[string]*semver.Version{},
		depths:      map[string]int{},
		log:         log.New(os.Stdout, "RESOLVER: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

// SetMetrics attaches m so each ResolveTree run's iteration count is
// recorded. Optional: a nil m leaves instrumentation off.
func (r *Resolver) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// Resolutions returns the accumulated "{name}@{major}" -> version map.
func (r *Resolver) Resolutions() map[string]*semver.Version { return r.resolutions }

// Aliases returns the accumulated dist-tag alias map.
func (r *Resolver) Aliases() map[string]string { return r.aliases }

// Depths returns the fixed-point tick each "{name}@{major}" resolution key
// first appeared on (0 = directly requested, 1 = one dependency hop away,
// and so on).
func (r *Resolver) Depths() map[string]int { return r.depths }

func (r *Resolver) addDependency(name string, version *semver.Version) {
	key := fmt.Sprintf("%s@%d", name, version.Major())
	if existing, ok := r.resolutions[key]; ok && existing.Compare(version) >= 0 {
		return
	}
	r.resolutions[key] = version
	if _, ok := r.depths[key]; !ok {
		r.depths[key] = r.tick
	}

	if _, ok := r.packages[name]; !ok {
		r.packages[name] = map[string]*semver.Version{}
	}
	r.packages[name][version.String()] = version
}

func (r *Resolver) hasDependency(name string, constraint *semver.Constraints) bool {
	for _, v := range r.packages[name] {
		if constraint.Check(v) {
			return true
		}
	}
	return false
}

// ResolveTree drives the iterative fixed-point loop (resolve_tree): each
// tick resolves the current working set and collects whatever transient
// dependencies surfaced, feeding them into the next tick, until the set is
// empty or maxIterations ticks have run.
func (r *Resolver) ResolveTree(ctx context.Context, initial []DepRequest) error {
	deps := make(map[string]DepRequest, len(initial))
	for _, d := range initial {
		deps[d.Key()] = d
	}

	count := 0
	for len(deps) > 0 && count < maxIterations {
		r.tick = count
		next, err := r.resolveDependencies(ctx, deps)
		if err != nil {
			return err
		}
		deps = next
		count++
	}

	if len(deps) > 0 {
		r.log.Printf("warning: stopped at the %d-tick cap with %d requests unresolved", maxIterations, len(deps))
	}
	r.log.Printf("finished resolving in %d ticks", count)
	if r.metrics != nil {
		r.metrics.ResolverTicks.Observe(float64(count))
	}
	return nil
}

func (r *Resolver) resolveDependencies(ctx context.Context, deps map[string]DepRequest) (map[string]DepRequest, error) {
	transient := map[string]DepRequest{}
	for _, req := range deps {
		if !req.Range.IsTag() && r.hasDependency(req.Name, req.Range.Constraint) {
			continue
		}
		if err := r.resolveDependency(ctx, req, transient); err != nil {
			return nil, err
		}
	}
	return transient, nil
}

func (r *Resolver) resolveDependency(ctx context.Context, req DepRequest, transient map[string]DepRequest) error {
	data, err := r.source.ResolvePackage(ctx, req.Name)
	if err != nil {
		return err
	}
	if data == nil {
		if req.Range.IsTag() && strings.Contains(req.Range.Raw, ":") {
			// Special specifiers (git:, github:, ...) are skipped even
			// when no package of that name is known.
			return nil
		}
		return apperror.ErrPackageNotFound
	}

	constraint := req.Range.Constraint
	if req.Range.IsTag() {
		tag := req.Range.Raw
		foundVersion, ok := data.DistTags[tag]
		if !ok {
			if strings.Contains(tag, ":") {
				// A special specifier we don't understand (e.g. git:, github:);
				// silently skipped rather than failing the whole resolution.
				return nil
			}
			return apperror.ErrInvalidPackageSpecifier
		}

		c, err := semver.NewConstraint(foundVersion)
		if err != nil {
			return err
		}
		v, err := semver.NewVersion(foundVersion)
		if err != nil {
			return err
		}
		r.aliases[fmt.Sprintf("%s@%s", req.Name, tag)] = fmt.Sprintf("%s@%d", req.Name, v.Major())
		constraint = c
	}

	if r.hasDependency(req.Name, constraint) {
		return nil
	}

	resolved := highestSatisfying(data.Versions, constraint)
	if resolved == nil {
		return &apperror.PackageVersionNotFoundError{Name: req.Name, Range: req.Range.String()}
	}

	r.addDependency(req.Name, resolved)

	record := data.Versions[resolved.String()]
	for depName, depRange := range record.Dependencies {
		dr, err := NewDepRequest(depName, depRange)
		if err != nil {
			return err
		}
		transient[dr.Key()] = dr
	}
	return nil
}

// highestSatisfying returns the highest version in versions that satisfies
// constraint, mirroring resolve_dependency's descending iteration with
// first-match-wins semantics.
func highestSatisfying(versions map[string]npmdoc.VersionRecord, constraint *semver.Constraints) *semver.Version {
	parsed := make(semver.Collection, 0, len(versions))
	for v := range versions {
		pv, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		parsed = append(parsed, pv)
	}
	sort.Sort(sort.Reverse(parsed))

	for _, pv := range parsed {
		if constraint.Check(pv) {
			return pv
		}
	}
	return nil
}
