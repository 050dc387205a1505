package mime

import (
	"path"
	"strings"
)

var mimeExts = map[string][]string{
	"application/javascript;": {"js", "mjs", "cjs"},
	"application/json;":       {"json", "map"},
	"application/wasm":        {"wasm"},
	"application/xml;":        {"xml"},
	"font/otf":                {"otf"},
	"font/ttf":                {"ttf"},
	"font/woff":               {"woff"},
	"font/woff2":              {"woff2"},
	"image/avif":              {"avif"},
	"image/gif":               {"gif"},
	"image/jpeg":              {"jpg", "jpeg"},
	"image/png":               {"png"},
	"image/svg+xml;":          {"svg"},
	"image/webp":              {"webp"},
	"image/x-icon":            {"ico"},
	"text/css":                {"css"},
	"text/html":               {"html", "htm"},
	"text/jsx":                {"jsx"},
	"text/markdown":           {"md", "markdown"},
	"text/plain":              {"txt"},
	"text/tsx":                {"tsx"},
	"text/typescript":         {"ts", "mts", "cts"},
	"text/yaml":               {"yaml", "yml"},
	"video/mp4":               {"mp4", "m4v"},
	"video/webm":              {"webm"},
}
var mineMap = map[string]string{}

func init() {
	for k, v := range mimeExts {
		if strings.HasSuffix(k, ";") || strings.HasPrefix(k, "text/") {
			k = strings.TrimSuffix(k, ";") + "; charset=utf-8"
		}
		for _, ext := range v {
			mineMap["."+ext] = k
		}
	}
	mimeExts = nil
}

const (
	JavaScript = "application/javascript; charset=utf-8"
	JSON       = "application/json; charset=utf-8"
	CSS        = "text/css; charset=utf-8"
	HTML       = "text/html; charset=utf-8"
	Binary     = "application/octet-stream"
)

// GetContentType returns the MIME type of the file with the given filename.
// Unknown extensions are served as binary.
func GetContentType(filename string) string {
	if ct, ok := mineMap[path.Ext(filename)]; ok {
		return ct
	}
	return Binary
}

// Kind is the source type of a module file.
type Kind uint8

const (
	Raw Kind = iota
	Script
	JSONData
	Markup
	Stylesheet
)

// KindOf returns the source type of the file by its extension.
func KindOf(filename string) Kind {
	switch path.Ext(filename) {
	case ".js", ".mjs", ".cjs", ".ts", ".mts", ".jsx", ".tsx":
		return Script
	case ".json":
		return JSONData
	case ".html", ".htm", ".svg":
		return Markup
	case ".css":
		return Stylesheet
	default:
		return Raw
	}
}
