package solver

import "context"

// CatalogEntry is one candidate version supplied by the version catalog.
// Entries are read-only to the resolver.
type CatalogEntry struct {
	Version string
	UID     string // build identifier; defaults to Version
	Hash    string // content digest of the package archive
	Tarball string // download URL, when the catalog knows it

	// PeerConstraints maps a toolchain name to the version range a candidate
	// requires of it. Candidates that declare nothing for the installed
	// toolchain are always eligible.
	PeerConstraints map[string]string

	Dependencies         map[string]string
	PeerDependencies     map[string]string
	OptionalDependencies map[string]string
}

// Catalog supplies the known versions of a package. The repository behind it
// is assumed to be synced before lookups; the resolver only ever reads.
type Catalog interface {
	Candidates(ctx context.Context, name string) ([]CatalogEntry, error)
}

// CatalogFunc adapts a function to the Catalog interface.
type CatalogFunc func(ctx context.Context, name string) ([]CatalogEntry, error)

func (f CatalogFunc) Candidates(ctx context.Context, name string) ([]CatalogEntry, error) {
	return f(ctx, name)
}
