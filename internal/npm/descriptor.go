package npm

import (
	"encoding/json"
	"path"
	"sort"
	"strings"
)

// EntryKind is the kind of a typed entry point of a widget package.
type EntryKind uint8

const (
	// not a typed entry point
	OtherEntry EntryKind = iota
	// ./widgets/*, scripts
	WidgetEntry
	// ./snippets/*, markup
	SnippetEntry
	// ./themes/*, stylesheets
	ThemeEntry
)

func (k EntryKind) String() string {
	switch k {
	case WidgetEntry:
		return "widget"
	case SnippetEntry:
		return "snippet"
	case ThemeEntry:
		return "theme"
	default:
		return "other"
	}
}

var entryPrefixes = []struct {
	prefix string
	kind   EntryKind
	exts   []string
}{
	{"./widgets/", WidgetEntry, []string{".js", ".mjs"}},
	{"./snippets/", SnippetEntry, []string{".html"}},
	{"./themes/", ThemeEntry, []string{".css"}},
}

// Export is the target of an export key. In package.json it is either a path
// string or a conditions object like `{"default": "./dist/x.js"}`.
type Export struct {
	Path        string
	conditional bool
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (e *Export) UnmarshalJSON(data []byte) error {
	var s string
	if json.Unmarshal(data, &s) == nil {
		e.Path = s
		return nil
	}
	var conditions map[string]json.RawMessage
	if err := json.Unmarshal(data, &conditions); err != nil {
		return err
	}
	e.conditional = true
	for _, key := range []string{"browser", "import", "default"} {
		if raw, ok := conditions[key]; ok {
			var sub Export
			if sub.UnmarshalJSON(raw) == nil && sub.Path != "" {
				e.Path = sub.Path
				return nil
			}
		}
	}
	return nil
}

// MarshalJSON implements the json.Marshaler interface.
func (e Export) MarshalJSON() ([]byte, error) {
	if e.conditional {
		return json.Marshal(map[string]string{"default": e.Path})
	}
	return json.Marshal(e.Path)
}

// Exports maps export keys ("./widgets/x.js") to their targets.
type Exports map[string]Export

// UnmarshalJSON implements the json.Unmarshaler interface; a plain string
// `"exports": "./index.js"` is the "." export.
func (e *Exports) UnmarshalJSON(data []byte) error {
	var s string
	if json.Unmarshal(data, &s) == nil {
		*e = Exports{".": {Path: s}}
		return nil
	}
	var m map[string]Export
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*e = m
	return nil
}

// Descriptor is the package.json of a widget package, reduced to the fields
// the resolver needs.
type Descriptor struct {
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	Description      string            `json:"description,omitempty"`
	Keywords         []string          `json:"keywords,omitempty"`
	Main             string            `json:"main,omitempty"`
	Exports          Exports           `json:"exports,omitempty"`
	Dependencies     map[string]string `json:"dependencies,omitempty"`
	PeerDependencies map[string]string `json:"peerDependencies,omitempty"`
}

// ParseDescriptor decodes a package.json.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Identifier returns the identifier of the descriptor.
func (d *Descriptor) Identifier() Identifier {
	return NewIdentifier(d.Name, d.Version)
}

// Dependency returns the version the package declares for the named
// dependency, looking at peer dependencies as well.
func (d *Descriptor) Dependency(name string) (pkgName string, version string, ok bool) {
	v, ok := d.Dependencies[name]
	if !ok {
		v, ok = d.PeerDependencies[name]
	}
	if !ok {
		return "", "", false
	}
	pkgName, version, err := ResolveDependencyVersion(name, v)
	if err != nil {
		return "", "", false
	}
	return pkgName, version, true
}

// ResolveExport resolves a subpath of the package ("" for the package root)
// to a file path relative to the package directory.
func (d *Descriptor) ResolveExport(subPath string) (string, bool) {
	key := "."
	if subPath != "" {
		key = "./" + subPath
	}
	if len(d.Exports) == 0 {
		if subPath == "" {
			if d.Main != "" {
				return cleanTarget(d.Main), true
			}
			return "index.js", true
		}
		return subPath, true
	}
	if e, ok := d.Exports[key]; ok && e.Path != "" {
		return cleanTarget(e.Path), true
	}
	// pattern exports, longest prefix wins
	var bestKey string
	var bestMatch string
	for k, e := range d.Exports {
		prefix, suffix, ok := strings.Cut(k, "*")
		if !ok || e.Path == "" {
			continue
		}
		if strings.HasPrefix(key, prefix) && strings.HasSuffix(key, suffix) && len(key) >= len(prefix)+len(suffix) {
			if len(prefix) > len(bestKey) || bestKey == "" {
				bestKey = prefix
				bestMatch = strings.Replace(e.Path, "*", key[len(prefix):len(key)-len(suffix)], 1)
			}
		}
	}
	if bestMatch != "" {
		return cleanTarget(bestMatch), true
	}
	// directory exports, e.g. "./lib/": "./dist/lib/"
	for k, e := range d.Exports {
		if strings.HasSuffix(k, "/") && strings.HasPrefix(key, k) && strings.HasSuffix(e.Path, "/") {
			return cleanTarget(e.Path + key[len(k):]), true
		}
	}
	return "", false
}

// Entry is a typed entry point declared in the exports of a package.
type Entry struct {
	Key    string
	Target string
	Kind   EntryKind
}

// Wildcard reports whether the entry contains a `*` segment.
func (e Entry) Wildcard() bool {
	return strings.Contains(e.Key, "*")
}

// SubPath returns the export key without the leading "./".
func (e Entry) SubPath() string {
	return strings.TrimPrefix(e.Key, "./")
}

// EntryKindOf returns the kind of an export key, and whether its extension is
// allowed for that kind.
func EntryKindOf(key string) (EntryKind, bool) {
	for _, p := range entryPrefixes {
		if strings.HasPrefix(key, p.prefix) {
			ext := path.Ext(key)
			for _, e := range p.exts {
				if ext == e {
					return p.kind, true
				}
			}
			return p.kind, false
		}
	}
	return OtherEntry, true
}

// Entries returns the typed entry points of the package sorted by key.
// Entries whose extension does not match their kind are left out, and so are
// keys with more than one wildcard.
func (d *Descriptor) Entries() []Entry {
	entries := []Entry{}
	for _, entry := range d.ExportEntries() {
		if kind, ok := EntryKindOf(entry.Key); kind != OtherEntry && ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// ExportEntries returns every path export of the package as an entry sorted
// by key, untyped ones with the OtherEntry kind. The package root and
// conditional exports without a path are left out.
func (d *Descriptor) ExportEntries() []Entry {
	entries := make([]Entry, 0, len(d.Exports))
	for key, e := range d.Exports {
		if key == "." || e.Path == "" || strings.Count(key, "*") > 1 || strings.Count(e.Path, "*") != strings.Count(key, "*") {
			continue
		}
		kind, _ := EntryKindOf(key)
		entries = append(entries, Entry{Key: key, Target: cleanTarget(e.Path), Kind: kind})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// ExpandEntry expands a wildcard entry against the flat file list of the
// package. Non-wildcard entries are returned as they are.
func ExpandEntry(entry Entry, files []string) []Entry {
	if !entry.Wildcard() {
		return []Entry{entry}
	}
	prefix, suffix, _ := strings.Cut(entry.Target, "*")
	keyPrefix, keySuffix, _ := strings.Cut(entry.Key, "*")
	expanded := []Entry{}
	for _, file := range files {
		file = strings.TrimPrefix(file, "/")
		if len(file) <= len(prefix)+len(suffix) || !strings.HasPrefix(file, prefix) || !strings.HasSuffix(file, suffix) {
			continue
		}
		match := file[len(prefix) : len(file)-len(suffix)]
		// a wildcard stands for a single path segment
		if strings.Contains(match, "/") {
			continue
		}
		expanded = append(expanded, Entry{
			Key:    keyPrefix + match + keySuffix,
			Target: file,
			Kind:   entry.Kind,
		})
	}
	sort.Slice(expanded, func(i, j int) bool { return expanded[i].Key < expanded[j].Key })
	return expanded
}

func cleanTarget(p string) string {
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}
