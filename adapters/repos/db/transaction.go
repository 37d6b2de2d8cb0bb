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
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/docstore/adapters/repos/db/collection"
	"github.com/weaviate/docstore/adapters/repos/db/marker"
)

// Transaction groups document operations over collections of one database.
// Operations are buffered and applied atomically by Commit. The log frames
// the transaction with begin and commit (or abort) markers.
type Transaction struct {
	db *Database
	id uint64

	mu          sync.Mutex
	finished    bool
	collections map[uint64]*collection.Collection
	ops         map[uint64][]collection.Operation
}

// Begin starts a transaction and logs its begin marker.
func (d *Database) Begin() (*Transaction, error) {
	t := &Transaction{
		db:          d,
		id:          d.engine.ticks.Next(),
		collections: map[uint64]*collection.Collection{},
		ops:         map[uint64][]collection.Operation{},
	}
	if err := t.logBoundary(marker.TypeBeginTransaction); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transaction) ID() uint64 {
	return t.id
}

func (t *Transaction) Insert(collectionName, key string, body map[string]interface{}) error {
	return t.add(collectionName, collection.Operation{Type: collection.OpInsert, Key: key, Body: body})
}

func (t *Transaction) Replace(collectionName, key string, body map[string]interface{}) error {
	return t.add(collectionName, collection.Operation{Type: collection.OpReplace, Key: key, Body: body})
}

func (t *Transaction) Remove(collectionName, key string) error {
	return t.add(collectionName, collection.Operation{Type: collection.OpRemove, Key: key})
}

func (t *Transaction) add(collectionName string, op collection.Operation) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return errors.Wrapf(ErrTransactionFinished, "transaction %d", t.id)
	}
	c, err := t.db.Collection(collectionName)
	if err != nil {
		return err
	}
	t.collections[c.ID()] = c
	t.ops[c.ID()] = append(t.ops[c.ID()], op)
	return nil
}

// Commit validates and applies all buffered operations. If validation
// fails nothing is applied, the transaction is aborted and the validation
// error is returned.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return errors.Wrapf(ErrTransactionFinished, "transaction %d", t.id)
	}
	t.finished = true

	cids := make([]uint64, 0, len(t.collections))
	for cid := range t.collections {
		cids = append(cids, cid)
	}
	sort.Slice(cids, func(i, j int) bool { return cids[i] < cids[j] })

	// collections are locked in id order
	for _, cid := range cids {
		c := t.collections[cid]
		c.BeginWrite()
		defer c.EndWrite()
	}

	for _, cid := range cids {
		if err := t.collections[cid].ValidateLocked(t.ops[cid]); err != nil {
			err = errors.Wrapf(err, "commit transaction %d", t.id)
			if abortErr := t.logBoundary(marker.TypeAbortTransaction); abortErr != nil {
				return multierror.Append(err, abortErr)
			}
			return err
		}
	}

	for _, cid := range cids {
		if _, err := t.collections[cid].ApplyLocked(t.id, t.ops[cid]); err != nil {
			t.db.logger.WithFields(logrus.Fields{
				"action":      "commit_transaction",
				"transaction": t.id,
				"collection":  t.collections[cid].Name(),
			}).WithError(err).Error("transaction partially applied")
			return errors.Wrapf(err, "commit transaction %d", t.id)
		}
	}

	return t.logBoundary(marker.TypeCommitTransaction)
}

// Abort discards the buffered operations.
func (t *Transaction) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return errors.Wrapf(ErrTransactionFinished, "transaction %d", t.id)
	}
	t.finished = true
	return t.logBoundary(marker.TypeAbortTransaction)
}

func (t *Transaction) logBoundary(typ marker.Type) error {
	if _, err := t.db.engine.wal.Append(t.db.id, 0, marker.Fields{
		Type:          typ,
		TransactionID: t.id,
	}); err != nil {
		return errors.Wrapf(err, "log %s of transaction %d", typ, t.id)
	}
	return nil
}
