package compiler

import (
	"strings"

	"github.com/webwriter-app/webwriter-sub004/internal/mime"
	"github.com/webwriter-app/webwriter-sub004/internal/npm"
)

// Type is the output type of a bundle.
type Type string

const (
	Script     Type = "js"
	Stylesheet Type = "css"
	Markup     Type = "html"
)

// ContentType returns the mime type of the bundle.
func (t Type) ContentType() string {
	switch t {
	case Stylesheet:
		return mime.CSS
	case Markup:
		return mime.HTML
	default:
		return mime.JavaScript
	}
}

// TypeOf returns the bundle type of an entry specifier. Specifiers without
// a stylesheet or markup extension are scripts, e.g. "@a/z@1.0.0".
func TypeOf(specifier string) Type {
	switch mime.KindOf(subPathOf(specifier)) {
	case mime.Stylesheet:
		return Stylesheet
	case mime.Markup:
		return Markup
	default:
		return Script
	}
}

// ClassifyEntries checks that all entries produce the same output type,
// and that it matches the requested type if one is given.
func ClassifyEntries(entries []string, requested string) (Type, error) {
	if len(entries) == 0 {
		return "", &ValidationError{Message: "missing ids"}
	}
	var t Type
	switch requested {
	case "":
	case "js", "mjs", "javascript":
		t = Script
	case "css":
		t = Stylesheet
	case "html":
		t = Markup
	default:
		return "", &ValidationError{Message: "invalid type '" + requested + "'"}
	}
	for _, entry := range entries {
		et := TypeOf(entry)
		if t == "" {
			t = et
		} else if et != t {
			return "", &ValidationError{Message: "can not bundle '" + entry + "' as " + string(t) + ": script, stylesheet and markup entries must not be mixed"}
		}
	}
	return t, nil
}

func subPathOf(specifier string) string {
	spec, err := npm.ParseSpecifier(specifier)
	if err != nil {
		return strings.TrimPrefix(specifier, "/")
	}
	return spec.SubPath
}
