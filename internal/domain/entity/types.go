// Package entity defines the wire and storage shapes of the registry's
// core data model: crates, versions, dependencies, users and search
// results.
package entity

import (
	"github.com/Masterminds/semver/v3"
)

// MetadataDependency is the dependency shape as received on the publish
// wire, before the explicit_name_in_toml / package rename is resolved.
type MetadataDependency struct {
	Name                string   `json:"name"`
	VersionReq          string   `json:"version_req"`
	Features            []string `json:"features"`
	Optional            bool     `json:"optional"`
	DefaultFeatures     bool     `json:"default_features"`
	Target              *string  `json:"target"`
	Kind                *string  `json:"kind"`
	Registry            *string  `json:"registry"`
	ExplicitNameInToml  *string  `json:"explicit_name_in_toml"`
}

// Dependency is the index-line dependency shape.
type Dependency struct {
	Name            string   `json:"name"`
	Req             string   `json:"req"`
	Features        []string `json:"features"`
	Optional        bool     `json:"optional"`
	DefaultFeatures bool     `json:"default_features"`
	Target          *string  `json:"target"`
	Kind            *string  `json:"kind"`
	Registry        *string  `json:"registry"`
	Package         *string  `json:"package"`
}

// ToDependency converts a MetadataDependency into its index-line shape.
// If ExplicitNameInToml is set, it becomes the dependency's name and the
// original name moves to Package; otherwise the name is unchanged and
// Package is left nil.
func (d MetadataDependency) ToDependency() Dependency {
	name := d.Name

	var pkg *string

	if d.ExplicitNameInToml != nil {
		original := d.Name
		name = *d.ExplicitNameInToml
		pkg = &original
	}

	return Dependency{
		Name:            name,
		Req:             d.VersionReq,
		Features:        d.Features,
		Optional:        d.Optional,
		DefaultFeatures: d.DefaultFeatures,
		Target:          d.Target,
		Kind:            d.Kind,
		Registry:        d.Registry,
		Package:         pkg,
	}
}

// Metadata is the publish payload: a superset of Dependency describing a
// single crate version.
type Metadata struct {
	Name        string                       `json:"name"`
	Vers        string                       `json:"vers"`
	Deps        []MetadataDependency         `json:"deps"`
	Features    map[string][]string          `json:"features"`
	Authors     []string                     `json:"authors"`
	Description *string                      `json:"description"`
	Documentation *string                    `json:"documentation"`
	Homepage    *string                      `json:"homepage"`
	Readme      *string                      `json:"readme"`
	ReadmeFile  *string                      `json:"readme_file"`
	Keywords    []string                     `json:"keywords"`
	Categories  []string                     `json:"categories"`
	License     *string                      `json:"license"`
	LicenseFile *string                      `json:"license_file"`
	Repository  *string                      `json:"repository"`
	Badges      map[string]map[string]string `json:"badges"`
	Links       *string                      `json:"links"`
	Yanked      bool                         `json:"yanked"`
}

// SemverVersion parses Vers as a semantic version.
func (m Metadata) SemverVersion() (*semver.Version, error) {
	return semver.NewVersion(m.Vers)
}

// ToPackage builds the index-line Package for this Metadata, given the
// tarball checksum. yanked is always forced to false: a freshly
// published version is never yanked.
func (m Metadata) ToPackage(checksum string) Package {
	deps := make([]Dependency, 0, len(m.Deps))
	for _, d := range m.Deps {
		deps = append(deps, d.ToDependency())
	}

	return Package{
		Name:     m.Name,
		Vers:     m.Vers,
		Deps:     deps,
		Cksum:    checksum,
		Features: m.Features,
		Yanked:   false,
		Links:    m.Links,
	}
}

// ToSearched projects Metadata down to a SearchedMetadata row.
func (m Metadata) ToSearched() SearchedMetadata {
	desc := ""
	if m.Description != nil {
		desc = *m.Description
	}

	return SearchedMetadata{
		Name:       m.Name,
		MaxVersion: m.Vers,
		Description: desc,
	}
}

// SearchedMetadata is a single row of a search response.
type SearchedMetadata struct {
	Name       string `json:"name"`
	MaxVersion string `json:"max_version"`
	Description string `json:"description"`
}

// Package is the index-line form of a published crate version.
type Package struct {
	Name     string                       `json:"name"`
	Vers     string                       `json:"vers"`
	Deps     []Dependency                 `json:"deps"`
	Cksum    string                       `json:"cksum"`
	Features map[string][]string          `json:"features"`
	Yanked   bool                         `json:"yanked"`
	Links    *string                      `json:"links"`
}

// User is a registered account.
type User struct {
	ID    uint32  `json:"id"`
	Login string  `json:"login"`
	Name  *string `json:"name"`
}

// NewUser builds a User.
func NewUser(id uint32, login string, name *string) User {
	return User{ID: id, Login: login, Name: name}
}

// Entry is the per-crate record: every published version keyed by its
// semver string, plus the ordered, deduplicated list of owner ids.
type Entry struct {
	Versions map[string]Metadata `json:"versions"`
	OwnerIDs []uint32            `json:"owner_ids"`
}

// NewEntry builds an empty Entry.
func NewEntry() Entry {
	return Entry{Versions: map[string]Metadata{}, OwnerIDs: []uint32{}}
}

// IsEmpty reports whether the entry has neither versions nor owners.
func (e Entry) IsEmpty() bool {
	return len(e.Versions) == 0 && len(e.OwnerIDs) == 0
}

// LatestVersion returns the greatest semver key present, or nil if the
// entry has no versions.
func (e Entry) LatestVersion() (*semver.Version, error) {
	var latest *semver.Version

	for raw := range e.Versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, err
		}

		if latest == nil || v.GreaterThan(latest) {
			latest = v
		}
	}

	return latest, nil
}

// Owners is the request body of an owners add/remove call.
type Owners struct {
	Logins []string `json:"users"`
}

// Query is a crate search request.
type Query struct {
	String string `query:"q"`
	Limit  int    `query:"per_page"`
}

// DefaultQueryLimit is the default per_page value when none is supplied.
const DefaultQueryLimit = 10

// Count wraps a total match count.
type Count struct {
	Total int `json:"total"`
}

// Search is a crate search response.
type Search struct {
	Crates []SearchedMetadata `json:"crates"`
	Meta   Count              `json:"meta"`
}

// NewSearch builds a Search response.
func NewSearch(crates []SearchedMetadata, total int) Search {
	return Search{Crates: crates, Meta: Count{Total: total}}
}

// Credential is the request body of new_user/login.
type Credential struct {
	Password string `json:"password"`
}

// ChangePassword is the request body of change_password.
type ChangePassword struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}
