package localstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrHandleMissing is returned when no directory has been granted for a package.
	ErrHandleMissing = errors.New("local package handle missing")
	// ErrNotFound is returned when a file of a local package does not exist.
	ErrNotFound = errors.New("local file not found")
)

var handlesBucket = []byte("handles")

// Registry maps package names to previously granted directories.
type Registry interface {
	Lookup(name string) (afero.Fs, error)
}

// BoltRegistry stores granted directories in a bolt database.
type BoltRegistry struct {
	db *bolt.DB
}

// OpenBoltRegistry opens (or creates) the handle database at the given path.
func OpenBoltRegistry(path string) (*BoltRegistry, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(handlesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltRegistry{db}, nil
}

// Grant records the directory of a local package.
func (r *BoltRegistry) Grant(name string, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(handlesBucket).Put([]byte(name), []byte(abs))
	})
}

// Revoke removes the handle of a package.
func (r *BoltRegistry) Revoke(name string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(handlesBucket).Delete([]byte(name))
	})
}

// Names returns the names of all packages with a granted directory.
func (r *BoltRegistry) Names() (names []string, err error) {
	err = r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(handlesBucket).ForEach(func(k, v []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return
}

// Lookup returns a read-only file system rooted at the granted directory.
func (r *BoltRegistry) Lookup(name string) (afero.Fs, error) {
	var dir string
	err := r.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(handlesBucket).Get([]byte(name)); v != nil {
			dir = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: %s", ErrHandleMissing, name)
	}
	return afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

func (r *BoltRegistry) Close() error {
	return r.db.Close()
}

// MemRegistry is a registry backed by in-process file systems.
type MemRegistry struct {
	lock sync.RWMutex
	fss  map[string]afero.Fs
}

func NewMemRegistry() *MemRegistry {
	return &MemRegistry{fss: map[string]afero.Fs{}}
}

// Grant registers fs as the directory of the named package.
func (r *MemRegistry) Grant(name string, fs afero.Fs) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.fss[name] = fs
}

// Revoke removes the file system of the named package.
func (r *MemRegistry) Revoke(name string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.fss, name)
}

func (r *MemRegistry) Lookup(name string) (afero.Fs, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	fs, ok := r.fss[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandleMissing, name)
	}
	return fs, nil
}
