// Package npmdoc holds the wire and storage types shared by replication,
// resolution, and the module-transform cache: the raw registry document
// shape, and the minimized record actually persisted in the KV store.
//
// Grounded on original_source/src/npm_replicator/types/document.rs.
package npmdoc

// RegistryDocument is the (abbreviated) document shape returned by
// registry.npmjs.org and by the replicate.npmjs.com _changes feed's
// include_docs=true payloads.
type RegistryDocument struct {
	ID       string                            `json:"_id"`
	Deleted  bool                              `json:"_deleted"`
	DistTags map[string]string                 `json:"dist-tags"`
	Versions map[string]DocumentPackageVersion `json:"versions"`
}

// DocumentPackageVersion is one entry of RegistryDocument.Versions.
type DocumentPackageVersion struct {
	Dependencies         map[string]string `json:"dependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	Dist                 DocumentDist      `json:"dist"`
}

// DocumentDist carries the tarball URL for a single version.
type DocumentDist struct {
	Tarball string `json:"tarball"`
}

// VersionRecord is the minimized per-version record kept in
// MinimalPackageData.Versions. Optional dependencies are stripped out of
// Dependencies before storage (I1).
type VersionRecord struct {
	Dependencies map[string]string `msgpack:"d"`
	Tarball      string            `msgpack:"t"`
}

// MinimalPackageData is the record persisted in the KV store, keyed by
// package name.
type MinimalPackageData struct {
	Name     string                   `msgpack:"n"`
	DistTags map[string]string        `msgpack:"g"`
	Versions map[string]VersionRecord `msgpack:"v"`
}

// FromRegistryDocument translates a raw registry document into the minimal
// record stored in the KV store. Returns (nil, true) for tombstoned
// (deleted, or version-less) documents, matching
// MinimalPackageData::from_doc's delete-on-empty-versions behavior.
func FromRegistryDocument(doc *RegistryDocument) (*MinimalPackageData, bool) {
	if doc.Deleted || len(doc.Versions) == 0 {
		return nil, true
	}

	versions := make(map[string]VersionRecord, len(doc.Versions))
	for v, dv := range doc.Versions {
		deps := make(map[string]string, len(dv.Dependencies))
		for name, rng := range dv.Dependencies {
			if _, isOptional := dv.OptionalDependencies[name]; isOptional {
				continue
			}
			deps[name] = rng
		}
		versions[v] = VersionRecord{
			Dependencies: deps,
			Tarball:      dv.Dist.Tarball,
		}
	}

	return &MinimalPackageData{
		Name:     doc.ID,
		DistTags: doc.DistTags,
		Versions: versions,
	}, false
}
