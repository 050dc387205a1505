package storage

import (
	"encoding/json"
	"net/url"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var recordsBucket = []byte("records")

type boltRecord struct {
	Category string `json:"category"`
	Store    Store  `json:"store"`
	Modtime  int64  `json:"modtime"`
}

type boltDBDriver struct{}

func (driver *boltDBDriver) Open(path string, options url.Values) (DBConn, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltDB{db}, nil
}

type boltDB struct {
	db *bolt.DB
}

func (i *boltDB) Get(id string) (store Store, modtime time.Time, err error) {
	var r boltRecord
	err = i.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(recordsBucket).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return
	}
	return r.Store, time.Unix(r.Modtime, 0), nil
}

func (i *boltDB) Put(id string, category string, store Store) error {
	return i.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)
		r := boltRecord{Category: category, Store: Store{}}
		if data := bucket.Get([]byte(id)); data != nil {
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
		}
		for key, value := range store {
			r.Store[key] = value
		}
		r.Modtime = time.Now().Unix()
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), data)
	})
}

func (i *boltDB) List(category string) (list []ListItem, err error) {
	err = i.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(k, v []byte) error {
			var r boltRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Category == category {
				list = append(list, ListItem{ID: string(k), Store: r.Store, Modtime: time.Unix(r.Modtime, 0)})
			}
			return nil
		})
	})
	sort.Slice(list, func(a, b int) bool { return list[a].ID < list[b].ID })
	return
}

func (i *boltDB) Delete(id string) error {
	return i.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)
		if bucket.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(id))
	})
}

func (i *boltDB) Close() error {
	return i.db.Close()
}

func init() {
	RegisterDB("bolt", &boltDBDriver{})
}
