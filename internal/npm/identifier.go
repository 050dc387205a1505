package npm

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ije/gox/utils"
	"github.com/webwriter-app/webwriter-sub004/internal/semver"
)

// Identifier identifies a package version, e.g. "@webwriter/slides@1.2.0".
// Two identifiers are equal iff scope, name and version match exactly.
type Identifier struct {
	Scope   string
	Name    string
	Version string
}

// PkgName returns the full package name including the scope.
func (id Identifier) PkgName() string {
	if id.Scope != "" {
		return "@" + id.Scope + "/" + id.Name
	}
	return id.Name
}

func (id Identifier) String() string {
	if id.Version == "" {
		return id.PkgName()
	}
	return id.PkgName() + "@" + id.Version
}

// IsLocal reports whether the identifier points to a local package.
func (id Identifier) IsLocal() bool {
	return semver.IsLocalString(id.Version)
}

// NewIdentifier creates an identifier from a full package name and a version.
func NewIdentifier(pkgName string, version string) Identifier {
	if strings.HasPrefix(pkgName, "@") {
		scope, name := utils.SplitByFirstByte(pkgName[1:], '/')
		return Identifier{Scope: scope, Name: name, Version: version}
	}
	return Identifier{Name: pkgName, Version: version}
}

// Specifier is a module specifier split into its package part and subpath,
// e.g. "@webwriter/slides@1.2.0/widgets/slides.js".
type Specifier struct {
	Identifier
	SubPath string
}

// Bare returns the specifier without the version segment.
func (s Specifier) Bare() string {
	if s.SubPath != "" {
		return s.PkgName() + "/" + s.SubPath
	}
	return s.PkgName()
}

// Versioned returns the specifier with the given version segment.
func (s Specifier) Versioned(version string) string {
	spec := s.PkgName() + "@" + version
	if s.SubPath != "" {
		spec += "/" + s.SubPath
	}
	return spec
}

func (s Specifier) String() string {
	if s.SubPath != "" {
		return s.Identifier.String() + "/" + s.SubPath
	}
	return s.Identifier.String()
}

// IsBareSpecifier reports whether s is a bare module specifier: neither a
// relative/absolute path nor a URL.
func IsBareSpecifier(s string) bool {
	if s == "" || strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || s == "." || s == ".." {
		return false
	}
	if i := strings.Index(s, "://"); i > 0 {
		return false
	}
	return !strings.HasPrefix(s, "data:") && !strings.HasPrefix(s, "blob:")
}

// ParseSpecifier parses a bare specifier of the form
// `[@scope/]name[@version][/subpath]`. The version is optional.
func ParseSpecifier(specifier string) (spec Specifier, err error) {
	s := strings.TrimPrefix(specifier, "/")
	if v, e := url.PathUnescape(s); e == nil {
		s = v
	}
	var scope string
	if strings.HasPrefix(s, "@") {
		scope, s = utils.SplitByFirstByte(s[1:], '/')
		if scope == "" || s == "" {
			err = fmt.Errorf("invalid specifier '%s'", specifier)
			return
		}
	}
	nameAndVersion, subPath := utils.SplitByFirstByte(s, '/')
	name, version := utils.SplitByFirstByte(nameAndVersion, '@')
	if name == "" || !Naming.Match(name) || (scope != "" && !Naming.Match(scope)) {
		err = fmt.Errorf("invalid package name in '%s'", specifier)
		return
	}
	if version != "" && !Versioning.Match(version) {
		err = fmt.Errorf("invalid package version in '%s'", specifier)
		return
	}
	spec = Specifier{
		Identifier: Identifier{Scope: scope, Name: name, Version: version},
		SubPath:    strings.TrimSuffix(subPath, "/"),
	}
	return
}

// ParseIdentifier parses `[@scope/]name@version`.
func ParseIdentifier(s string) (Identifier, error) {
	spec, err := ParseSpecifier(s)
	if err != nil {
		return Identifier{}, err
	}
	if spec.SubPath != "" {
		return Identifier{}, fmt.Errorf("unexpected subpath in package id '%s'", s)
	}
	if spec.Version == "" {
		return Identifier{}, fmt.Errorf("missing version in package id '%s'", s)
	}
	return spec.Identifier, nil
}

// UniqueIdentifiers returns the distinct package identifiers of the given
// specifiers in first-seen order.
func UniqueIdentifiers(specs []Specifier) []Identifier {
	seen := make(map[Identifier]bool, len(specs))
	ids := make([]Identifier, 0, len(specs))
	for _, s := range specs {
		if !seen[s.Identifier] {
			seen[s.Identifier] = true
			ids = append(ids, s.Identifier)
		}
	}
	return ids
}
