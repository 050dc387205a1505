package storage

import (
	"errors"
	"net/url"
	"sort"
	"time"

	"github.com/ije/postdb"
	"github.com/ije/postdb/q"
)

// the record id is kept as a field too, so listings can report it
const postIDKey = "id"

type postDBDriver struct{}

func (driver *postDBDriver) Open(path string, options url.Values) (DBConn, error) {
	db, err := postdb.Open(path, 0644)
	if err != nil {
		return nil, err
	}
	return &postDB{db: db}, nil
}

type postDB struct {
	db *postdb.DB
}

func toStore(kv map[string][]byte) Store {
	store := Store{}
	for key, value := range kv {
		if key != postIDKey {
			store[key] = string(value)
		}
	}
	return store
}

func (i *postDB) Get(id string) (store Store, modtime time.Time, err error) {
	post, err := i.db.Get(q.Alias(id), q.Select("*"))
	if err != nil {
		if errors.Is(err, postdb.ErrNotFound) {
			err = ErrNotFound
		}
		return
	}
	store = toStore(post.KV)
	modtime = time.Unix(int64(post.Modtime), 0)
	return
}

func (i *postDB) Put(id string, category string, store Store) (err error) {
	kv := q.KV{postIDKey: []byte(id)}
	for key, value := range store {
		kv[key] = []byte(value)
	}
	_, err = i.db.Get(q.Alias(id))
	if err == nil {
		err = i.db.Update(q.Alias(id), kv)
	} else if errors.Is(err, postdb.ErrNotFound) {
		_, err = i.db.Put(q.Alias(id), kv, q.Tags(category))
	}
	return
}

func (i *postDB) List(category string) (list []ListItem, err error) {
	posts, err := i.db.List(q.Tags(category), q.Select("*"))
	if err != nil {
		return
	}
	for _, post := range posts {
		list = append(list, ListItem{
			ID:      string(post.KV[postIDKey]),
			Store:   toStore(post.KV),
			Modtime: time.Unix(int64(post.Modtime), 0),
		})
	}
	sort.Slice(list, func(a, b int) bool { return list[a].ID < list[b].ID })
	return
}

func (i *postDB) Delete(id string) error {
	_, err := i.db.Delete(q.Alias(id))
	if errors.Is(err, postdb.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (i *postDB) Close() error {
	return i.db.Close()
}

func init() {
	RegisterDB("postdb", &postDBDriver{})
}
