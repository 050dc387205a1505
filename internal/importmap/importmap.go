package importmap

import (
	"bytes"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/ije/gox/utils"
)

// Imports represents a map of imports.
type Imports struct {
	lock    sync.RWMutex
	imports map[string]string
}

// Len returns the length of the imports map.
func (i *Imports) Len() int {
	i.lock.RLock()
	defer i.lock.RUnlock()
	return len(i.imports)
}

// Keys returns the sorted keys of the imports map.
func (i *Imports) Keys() []string {
	i.lock.RLock()
	defer i.lock.RUnlock()
	keys := make([]string, 0, len(i.imports))
	for key := range i.imports {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of the key in the imports map.
func (i *Imports) Get(specifier string) (string, bool) {
	i.lock.RLock()
	defer i.lock.RUnlock()
	url, ok := i.imports[specifier]
	return url, ok
}

// Set sets the value of the key in the imports map.
func (i *Imports) Set(specifier string, url string) {
	i.lock.Lock()
	defer i.lock.Unlock()
	i.imports[specifier] = url
}

// Delete deletes the value of the key in the imports map.
func (i *Imports) Delete(specifier string) {
	i.lock.Lock()
	defer i.lock.Unlock()
	delete(i.imports, specifier)
}

// Range ranges over the imports map in key order.
func (i *Imports) Range(fn func(specifier string, url string) bool) {
	for _, key := range i.Keys() {
		url, ok := i.Get(key)
		if ok && !fn(key, url) {
			break
		}
	}
}

func (i *Imports) copy() map[string]string {
	i.lock.RLock()
	defer i.lock.RUnlock()
	m := make(map[string]string, len(i.imports))
	for k, v := range i.imports {
		m[k] = v
	}
	return m
}

// ImportMapJson represents the JSON structure of an import map.
type ImportMapJson struct {
	Imports map[string]string            `json:"imports"`
	Scopes  map[string]map[string]string `json:"scopes,omitempty"`
}

// ImportMap represents an import map that follows the import maps specification:
// https://developer.mozilla.org/en-US/docs/Web/HTML/Reference/Elements/script/type/importmap
type ImportMap struct {
	Imports *Imports
	scopes  map[string]*Imports
	baseUrl *url.URL
	lock    sync.RWMutex
}

// Blank creates a new import map with empty imports and scopes.
func Blank() *ImportMap {
	return &ImportMap{
		Imports: newImports(nil),
		scopes:  make(map[string]*Imports),
	}
}

// Parse parses an import map from a JSON string.
func Parse(baseUrl *url.URL, data []byte) (im *ImportMap, err error) {
	var raw ImportMapJson
	if err = json.Unmarshal(data, &raw); err != nil {
		return
	}
	scopes := make(map[string]*Imports, len(raw.Scopes))
	for scope, imports := range raw.Scopes {
		scopes[scope] = newImports(imports)
	}
	im = &ImportMap{
		baseUrl: baseUrl,
		Imports: newImports(raw.Imports),
		scopes:  scopes,
	}
	return
}

// BaseURL returns the url used to resolve relative entries.
func (im *ImportMap) BaseURL() *url.URL {
	return im.baseUrl
}

// SetBaseURL sets the url used to resolve relative entries.
func (im *ImportMap) SetBaseURL(u *url.URL) {
	im.baseUrl = u
}

// Empty reports whether the import map has neither imports nor scopes.
func (im *ImportMap) Empty() bool {
	if im.Imports.Len() > 0 {
		return false
	}
	im.lock.RLock()
	defer im.lock.RUnlock()
	for _, imports := range im.scopes {
		if imports.Len() > 0 {
			return false
		}
	}
	return true
}

// GetScopeImports returns the imports of the given scope.
func (im *ImportMap) GetScopeImports(scope string) (*Imports, bool) {
	im.lock.RLock()
	imports, ok := im.scopes[scope]
	im.lock.RUnlock()
	return imports, ok
}

// SetScoped sets an import of the given scope, creating the scope if needed.
func (im *ImportMap) SetScoped(scope string, specifier string, url string) {
	im.lock.Lock()
	imports, ok := im.scopes[scope]
	if !ok {
		imports = newImports(nil)
		im.scopes[scope] = imports
	}
	im.lock.Unlock()
	imports.Set(specifier, url)
}

// RangeScopes ranges over the scopes of the import map in key order.
func (im *ImportMap) RangeScopes(fn func(scope string, imports *Imports) bool) {
	for _, scope := range im.scopeKeys() {
		imports, ok := im.GetScopeImports(scope)
		if ok && !fn(scope, imports) {
			break
		}
	}
}

func (im *ImportMap) scopeKeys() []string {
	im.lock.RLock()
	defer im.lock.RUnlock()
	keys := make([]string, 0, len(im.scopes))
	for key := range im.scopes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the import map.
func (im *ImportMap) Clone() *ImportMap {
	c := Blank()
	c.baseUrl = im.baseUrl
	c.Imports = newImports(im.Imports.copy())
	im.RangeScopes(func(scope string, imports *Imports) bool {
		c.scopes[scope] = newImports(imports.copy())
		return true
	})
	return c
}

// Merge returns a new import map with the entries of other layered over
// the entries of im. Scopes are merged key by key.
func (im *ImportMap) Merge(other *ImportMap) *ImportMap {
	merged := im.Clone()
	if other == nil {
		return merged
	}
	other.Imports.Range(func(specifier, url string) bool {
		merged.Imports.Set(specifier, url)
		return true
	})
	other.RangeScopes(func(scope string, imports *Imports) bool {
		imports.Range(func(specifier, url string) bool {
			merged.SetScoped(scope, specifier, url)
			return true
		})
		return true
	})
	return merged
}

// URLs returns all target urls of the import map.
func (im *ImportMap) URLs() []string {
	urls := []string{}
	collect := func(_ string, url string) bool {
		urls = append(urls, url)
		return true
	}
	im.Imports.Range(collect)
	im.RangeScopes(func(_ string, imports *Imports) bool {
		imports.Range(collect)
		return true
	})
	return urls
}

// Resolve resolves a specifier to a URL.
// It returns the URL and a boolean indicating if the specifier was resolved.
// This function follows the import maps specification:
// https://developer.mozilla.org/en-US/docs/Web/HTML/Reference/Elements/script/type/importmap
// Relative specifiers are resolved against the referrer (or the base url of
// the import map); URLs resolve to themselves unless they are remapped.
func (im *ImportMap) Resolve(specifier string, referrer *url.URL) (string, bool) {
	baseUrl := im.baseUrl
	if baseUrl == nil {
		baseUrl, _ = url.Parse("file:///")
	}

	var hash string
	specifier, hash = utils.SplitByFirstByte(specifier, '#')
	if hash != "" {
		hash = "#" + hash
	}

	var query string
	specifier, query = utils.SplitByFirstByte(specifier, '?')
	if query != "" {
		query = "?" + query
	}

	asURL := ""
	if isRelativeSpecifier(specifier) {
		base := baseUrl
		if referrer != nil {
			base = referrer
		}
		ref, err := url.Parse(specifier)
		if err != nil {
			return specifier + query + hash, false
		}
		asURL = base.ResolveReference(ref).String()
		specifier = asURL
	} else if isURL(specifier) {
		asURL = specifier
	}

	candidates := make([]*Imports, 0, 2)
	if referrer != nil {
		scopeKeys := ScopeKeys(im.scopeKeys())
		sort.Sort(scopeKeys)
		for _, scopeKey := range scopeKeys {
			if scopeKey == referrer.String() || (strings.HasSuffix(scopeKey, "/") && strings.HasPrefix(referrer.String(), scopeKey)) {
				imports, _ := im.GetScopeImports(scopeKey)
				candidates = append(candidates, imports)
			}
		}
	}
	candidates = append(candidates, im.Imports)

	for _, imports := range candidates {
		if url, ok := resolveImports(imports, baseUrl, specifier); ok {
			return url + query + hash, true
		}
	}

	if asURL != "" {
		return asURL + query + hash, true
	}
	return specifier + query + hash, false
}

// resolveImports matches the specifier exactly, then by the longest
// trailing-slash prefix.
func resolveImports(imports *Imports, baseUrl *url.URL, specifier string) (string, bool) {
	if url, ok := imports.Get(specifier); ok {
		return normalizeUrl(baseUrl, url), true
	}
	var matchKey, matchUrl string
	imports.Range(func(k string, v string) bool {
		if strings.HasSuffix(k, "/") && strings.HasPrefix(specifier, k) && len(k) > len(matchKey) {
			matchKey = k
			matchUrl = v
		}
		return true
	})
	if matchKey != "" && strings.HasSuffix(matchUrl, "/") {
		return normalizeUrl(baseUrl, matchUrl+specifier[len(matchKey):]), true
	}
	return "", false
}

// MarshalJSON implements the json.Marshaler interface.
func (im *ImportMap) MarshalJSON() ([]byte, error) {
	return []byte(im.FormatJSON(0)), nil
}

// FormatJSON formats the import map as a JSON string with sorted keys, the
// output is byte-stable for equal maps.
func (im *ImportMap) FormatJSON(indent int) string {
	buf := strings.Builder{}
	indentStr := bytes.Repeat([]byte{' ', ' '}, indent+1)
	buf.Write(indentStr[0 : 2*indent])
	buf.WriteString("{\n")
	buf.Write(indentStr)
	buf.WriteString("\"imports\": {")
	if im.Imports.Len() > 0 {
		buf.WriteByte('\n')
		formatImports(&buf, im.Imports, indent+2)
		buf.Write(indentStr)
	}
	buf.WriteByte('}')
	scopes := make([]string, 0)
	for _, key := range im.scopeKeys() {
		if imports, ok := im.GetScopeImports(key); ok && imports.Len() > 0 {
			scopes = append(scopes, key)
		}
	}
	if len(scopes) > 0 {
		buf.WriteString(",\n")
		buf.Write(indentStr)
		buf.WriteString("\"scopes\": {\n")
		for i, scope := range scopes {
			imports, _ := im.GetScopeImports(scope)
			buf.Write(indentStr)
			buf.WriteString("  ")
			writeString(&buf, scope)
			buf.WriteString(": {\n")
			formatImports(&buf, imports, indent+3)
			buf.Write(indentStr)
			buf.WriteString("  }")
			if i < len(scopes)-1 {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		buf.Write(indentStr)
		buf.WriteByte('}')
	}
	buf.WriteByte('\n')
	buf.Write(indentStr[0 : 2*indent])
	buf.WriteByte('}')
	return buf.String()
}

func formatImports(buf *strings.Builder, imports *Imports, indent int) {
	entries := imports.copy()
	keys := make([]string, 0, len(entries))
	for key, url := range entries {
		// ignore empty values
		if url != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	indentStr := bytes.Repeat([]byte{' ', ' '}, indent)
	for i, key := range keys {
		buf.Write(indentStr)
		writeString(buf, key)
		buf.WriteString(": ")
		writeString(buf, entries[key])
		if i < len(keys)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
}

func writeString(buf *strings.Builder, s string) {
	data, _ := json.Marshal(s)
	buf.Write(data)
}

func newImports(imports map[string]string) *Imports {
	if imports == nil {
		imports = map[string]string{}
	}
	return &Imports{imports: imports}
}

func normalizeUrl(baseUrl *url.URL, path string) string {
	if baseUrl != nil && (strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") || strings.HasPrefix(path, "/")) {
		if ref, err := url.Parse(path); err == nil {
			return baseUrl.ResolveReference(ref).String()
		}
	}
	return path
}

func isRelativeSpecifier(s string) bool {
	return strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") || strings.HasPrefix(s, "/") || s == "." || s == ".."
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "file://") || strings.HasPrefix(s, "data:")
}
