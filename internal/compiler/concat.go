package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/webwriter-app/webwriter-sub004/internal/importmap"
)

// Concat joins stylesheet or markup entries as plain text, in the order
// given. Stylesheets are minified with the css loader of the bundler when
// opts.Minify is set; nothing is compiled otherwise.
func Concat(ctx context.Context, entries []string, im *importmap.ImportMap, t Type, opts Options) ([]byte, error) {
	if opts.Fetcher == nil {
		return nil, &InternalError{Err: errors.New("no fetcher")}
	}
	var diagnostics []Diagnostic
	buf := bytes.Buffer{}
	for _, entry := range entries {
		u, ok := im.Resolve(entry, nil)
		if !ok {
			diagnostics = append(diagnostics, Diagnostic{Text: fmt.Sprintf("Could not resolve %q: not in the import map", entry)})
			continue
		}
		data, err := opts.Fetcher.Fetch(ctx, u)
		if err != nil {
			var notFound *importmap.ModuleNotFoundError
			if errors.As(err, &notFound) {
				diagnostics = append(diagnostics, Diagnostic{Text: fmt.Sprintf("Could not load %q: module not found", u)})
				continue
			}
			return nil, &InternalError{Err: err}
		}
		if buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte{'\n'}) {
			buf.WriteByte('\n')
		}
		buf.Write(data)
	}
	if len(diagnostics) > 0 {
		return nil, &CompileError{Diagnostics: diagnostics}
	}
	if t == Stylesheet && opts.Minify {
		ret := api.Transform(buf.String(), api.TransformOptions{
			Loader:           api.LoaderCSS,
			MinifyWhitespace: true,
			MinifySyntax:     true,
			LegalComments:    api.LegalCommentsNone,
			LogLevel:         api.LogLevelSilent,
		})
		if len(ret.Errors) > 0 {
			return nil, newCompileError(ret.Errors)
		}
		return ret.Code, nil
	}
	return buf.Bytes(), nil
}
