package storage

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ije/gox/utils"
)

// Store is a flat record.
type Store map[string]string

type ListItem struct {
	ID      string
	Store   Store
	Modtime time.Time
}

// DBConn is a record store grouped by category.
// Put creates the record or replaces its fields and updates the modtime.
type DBConn interface {
	Get(id string) (store Store, modtime time.Time, err error)
	Put(id string, category string, store Store) error
	List(category string) ([]ListItem, error)
	Delete(id string) error
	Close() error
}

type DBDriver interface {
	Open(path string, options url.Values) (conn DBConn, err error)
}

var dbDrivers sync.Map

// OpenDB opens a record store by the driver url, e.g. `postdb:/var/widgetd/snippets.db`.
func OpenDB(dbUrl string) (DBConn, error) {
	name, addr := utils.SplitByFirstByte(dbUrl, ':')
	driver, ok := dbDrivers.Load(name)
	if !ok {
		return nil, fmt.Errorf("unregistered db '%s'", name)
	}
	path, options, err := parseConfigUrl(addr)
	if err != nil {
		return nil, err
	}
	return driver.(DBDriver).Open(path, options)
}

func RegisterDB(name string, driver DBDriver) error {
	_, ok := dbDrivers.Load(name)
	if ok {
		return fmt.Errorf("db '%s' has been registered", name)
	}

	dbDrivers.Store(name, driver)
	return nil
}
