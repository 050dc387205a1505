package localstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Bridge resolves files of local packages through their granted directories.
// No file is kept open between calls.
type Bridge struct {
	Registry Registry
}

func NewBridge(registry Registry) *Bridge {
	return &Bridge{Registry: registry}
}

// ResolveFile returns the contents of the file at relPath inside the
// directory of the named package.
func (b *Bridge) ResolveFile(ctx context.Context, name string, relPath string) ([]byte, error) {
	fs, err := b.Registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	segments := splitPath(relPath)
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, name, relPath)
	}
	dir := "/"
	for _, seg := range segments[:len(segments)-1] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir = path.Join(dir, seg)
		fi, err := fs.Stat(dir)
		if err != nil || !fi.IsDir() {
			return nil, fmt.Errorf("%w: %s%s", ErrNotFound, name, dir)
		}
	}
	filename := path.Join(dir, segments[len(segments)-1])
	f, err := fs.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s%s", ErrNotFound, name, filename)
		}
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s%s is a directory", ErrNotFound, name, filename)
	}
	return io.ReadAll(f)
}

// List returns the paths of all files under dir of the named package,
// relative to the package root and sorted.
func (b *Bridge) List(ctx context.Context, name string, dir string) ([]string, error) {
	fs, err := b.Registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	root := "/" + strings.Join(splitPath(dir), "/")
	files := []string{}
	err = afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "node_modules" || (p != root && strings.HasPrefix(info.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, strings.TrimPrefix(path.Clean(p), "/"))
		return ctx.Err()
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s%s", ErrNotFound, name, root)
		}
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func splitPath(p string) []string {
	segments := []string{}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segments) > 0 {
				segments = segments[:len(segments)-1]
			}
		default:
			segments = append(segments, seg)
		}
	}
	return segments
}
