//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package db

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

var (
	databasesBucket   = []byte("databases")
	collectionsBucket = []byte("collections")
)

type databaseRecord struct {
	ID   uint64 `msgpack:"id"`
	Name string `msgpack:"name"`
}

type collectionRecord struct {
	DatabaseID  uint64 `msgpack:"db"`
	ID          uint64 `msgpack:"id"`
	Name        string `msgpack:"name"`
	GUID        string `msgpack:"guid"`
	JournalSize uint32 `msgpack:"journalSize"`
	DoCompact   bool   `msgpack:"doCompact"`
	IsSystem    bool   `msgpack:"isSystem"`
}

/*
catalog persists the definitions of databases and collections.

Layout:
  - databases: big-endian database id -> databaseRecord
  - collections: big-endian database id | collection id -> collectionRecord

Collection keys are prefixed with their database id so that the collections
of one database form a contiguous key range.
*/
type catalog struct {
	logger logrus.FieldLogger
	db     *bolt.DB
}

func openCatalog(dir string, logger logrus.FieldLogger) (*catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create catalog directory %s", dir)
	}

	path := filepath.Join(dir, "catalog.db")
	boltDB, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open catalog %s", path)
	}

	err = boltDB.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{databasesBucket, collectionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		boltDB.Close()
		return nil, err
	}

	return &catalog{logger: logger, db: boltDB}, nil
}

func databaseKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func collectionKey(databaseID, id uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key, databaseID)
	binary.BigEndian.PutUint64(key[8:], id)
	return key
}

func put(b *bolt.Bucket, key []byte, v interface{}) error {
	value, err := msgpack.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode catalog record")
	}
	return b.Put(key, value)
}

func (c *catalog) putDatabase(rec databaseRecord) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(databasesBucket), databaseKey(rec.ID), rec)
	})
}

// deleteDatabase removes a database together with all of its collections.
func (c *catalog) deleteDatabase(id uint64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(databasesBucket).Delete(databaseKey(id)); err != nil {
			return err
		}

		b := tx.Bucket(collectionsBucket)
		prefix := databaseKey(id)
		var keys [][]byte
		cursor := b.Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *catalog) putCollection(rec collectionRecord) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(collectionsBucket), collectionKey(rec.DatabaseID, rec.ID), rec)
	})
}

func (c *catalog) deleteCollection(databaseID, id uint64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(collectionsBucket).Delete(collectionKey(databaseID, id))
	})
}

func (c *catalog) databases() ([]databaseRecord, error) {
	var out []databaseRecord
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(databasesBucket).ForEach(func(k, v []byte) error {
			var rec databaseRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return errors.Wrapf(err, "decode database record %x", k)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// collections returns the collections of a database in id order.
func (c *catalog) collections(databaseID uint64) ([]collectionRecord, error) {
	var out []collectionRecord
	err := c.db.View(func(tx *bolt.Tx) error {
		prefix := databaseKey(databaseID)
		cursor := tx.Bucket(collectionsBucket).Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var rec collectionRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return errors.Wrapf(err, "decode collection record %x", k)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (c *catalog) close() error {
	return c.db.Close()
}
