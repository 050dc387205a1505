package server

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/webwriter-app/webwriter-sub004/internal/npm"
)

type Collection string

const (
	Assets     Collection = "assets"
	ImportMaps Collection = "importmaps"
	Bundles    Collection = "bundles"
	Packages   Collection = "packages"
	Snippets   Collection = "snippets"
)

// Action is a classified request.
type Action struct {
	Collection Collection
	Method     string
	IDs        []string
	Args       map[string]string
	Content    []byte
}

// ParseAction classifies a request by its path prefix. Any path that is not
// one of the collections is a raw asset, `/{name}@{version}/{path}`.
func ParseAction(method string, u *url.URL, body []byte) (*Action, error) {
	if method == "" {
		method = http.MethodGet
	}
	query := u.Query()
	a := &Action{
		Method:  method,
		IDs:     query["id"],
		Args:    map[string]string{},
		Content: body,
	}
	for key, values := range query {
		if key != "id" && len(values) > 0 {
			a.Args[key] = values[0]
		}
	}

	pathname := u.Path
	switch {
	case pathname == "/_packages":
		a.Collection = Packages
	case pathname == "/_importmaps":
		a.Collection = ImportMaps
	case pathname == "/_bundles":
		a.Collection = Bundles
	case pathname == "/_snippets" || strings.HasPrefix(pathname, "/_snippets/"):
		a.Collection = Snippets
		if id := strings.Trim(strings.TrimPrefix(pathname, "/_snippets"), "/"); id != "" {
			a.IDs = []string{id}
		}
	default:
		a.Collection = Assets
		id := strings.TrimPrefix(pathname, "/")
		if id == "" {
			return nil, &badRequestError{"missing asset id"}
		}
		a.IDs = append([]string{id}, a.IDs...)
		if len(a.IDs) > 1 {
			return nil, &badRequestError{"only one asset can be requested at a time"}
		}
	}
	if a.Collection != Assets {
		// computation follows the order of the cache key
		sort.Strings(a.IDs)
	}
	if a.Collection != Snippets && method != http.MethodGet && method != http.MethodHead {
		return nil, &methodNotAllowedError{method}
	}
	return a, nil
}

// CanonicalURL is the cache key of the action: ids and args sorted.
func (a *Action) CanonicalURL() string {
	var sb strings.Builder
	if a.Collection == Assets {
		sb.WriteByte('/')
		if len(a.IDs) > 0 {
			sb.WriteString(a.IDs[0])
		}
	} else {
		sb.WriteString("/_")
		sb.WriteString(string(a.Collection))
	}

	query := make([]string, 0, len(a.IDs)+len(a.Args))
	if a.Collection != Assets {
		ids := append([]string(nil), a.IDs...)
		sort.Strings(ids)
		for _, id := range ids {
			query = append(query, "id="+url.QueryEscape(id))
		}
	}
	keys := make([]string, 0, len(a.Args))
	for key := range a.Args {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		query = append(query, url.QueryEscape(key)+"="+url.QueryEscape(a.Args[key]))
	}
	if len(query) > 0 {
		sb.WriteByte('?')
		sb.WriteString(strings.Join(query, "&"))
	}
	return sb.String()
}

// Flag reports whether a boolean arg is set, e.g. `?minify` or `?minify=true`.
func (a *Action) Flag(name string) bool {
	v, ok := a.Args[name]
	return ok && (v == "" || v == "1" || v == "true")
}

// Specifiers parses the ids as versioned package specifiers.
func (a *Action) Specifiers() ([]npm.Specifier, error) {
	specs := make([]npm.Specifier, 0, len(a.IDs))
	for _, id := range a.IDs {
		spec, err := npm.ParseSpecifier(id)
		if err != nil {
			return nil, &badRequestError{"invalid id '" + id + "': " + err.Error()}
		}
		if spec.Version == "" {
			return nil, &badRequestError{"invalid id '" + id + "': missing version"}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

type badRequestError struct {
	message string
}

func (e *badRequestError) Error() string {
	return e.message
}

type methodNotAllowedError struct {
	method string
}

func (e *methodNotAllowedError) Error() string {
	return "method " + e.method + " not allowed"
}
