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

package collection

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/docstore/adapters/repos/db/datafile"
	"github.com/weaviate/docstore/adapters/repos/db/ditch"
	"github.com/weaviate/docstore/adapters/repos/db/marker"
	"github.com/weaviate/docstore/adapters/repos/db/primaryindex"
	"github.com/weaviate/docstore/adapters/repos/db/stats"
	"github.com/weaviate/docstore/entities/storagestate"
)

type OperationType int

const (
	OpInsert OperationType = iota
	OpReplace
	OpRemove
)

func (t OperationType) String() string {
	switch t {
	case OpInsert:
		return "insert"
	case OpReplace:
		return "replace"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Operation is one document change. Body is ignored for removals.
type Operation struct {
	Type OperationType
	Key  string
	Body map[string]interface{}
}

func (c *Collection) Insert(key string, body map[string]interface{}) (uint64, error) {
	return c.single(Operation{Type: OpInsert, Key: key, Body: body})
}

func (c *Collection) Replace(key string, body map[string]interface{}) (uint64, error) {
	return c.single(Operation{Type: OpReplace, Key: key, Body: body})
}

func (c *Collection) Remove(key string) (uint64, error) {
	return c.single(Operation{Type: OpRemove, Key: key})
}

func (c *Collection) single(op Operation) (uint64, error) {
	revs, err := c.Execute(0, []Operation{op})
	if err != nil {
		return 0, err
	}
	return revs[0], nil
}

// Execute validates and applies ops under the exclusive collection lock and
// returns the new revision of every operation.
func (c *Collection) Execute(tid uint64, ops []Operation) ([]uint64, error) {
	c.BeginWrite()
	defer c.EndWrite()

	if err := c.ValidateLocked(ops); err != nil {
		return nil, err
	}
	return c.ApplyLocked(tid, ops)
}

// ValidateLocked checks ops against the current documents and against each
// other. The caller must hold the write lock.
func (c *Collection) ValidateLocked(ops []Operation) error {
	if status := c.Status(); !status.Writable() {
		return errors.Wrapf(storagestate.ErrStatusUnloaded, "collection %s is %s", c.Name(), status)
	}

	exists := map[string]bool{}
	present := func(key string) bool {
		if v, ok := exists[key]; ok {
			return v
		}
		_, ok := c.index.Lookup(key)
		return ok
	}

	for _, op := range ops {
		if op.Key == "" {
			return errors.Errorf("%s without document key", op.Type)
		}
		switch op.Type {
		case OpInsert:
			if present(op.Key) {
				return errors.Wrapf(ErrConflict, "insert %q", op.Key)
			}
			exists[op.Key] = true
		case OpReplace:
			if !present(op.Key) {
				return errors.Wrapf(ErrNotFound, "replace %q", op.Key)
			}
		case OpRemove:
			if !present(op.Key) {
				return errors.Wrapf(ErrNotFound, "remove %q", op.Key)
			}
			exists[op.Key] = false
		default:
			return errors.Errorf("unknown operation %d", op.Type)
		}
	}
	return nil
}

// ApplyLocked writes ops to the log and the journal and updates index and
// statistics. The caller must hold the write lock and must have validated
// ops.
func (c *Collection) ApplyLocked(tid uint64, ops []Operation) ([]uint64, error) {
	revs := make([]uint64, 0, len(ops))
	for _, op := range ops {
		rev, err := c.applyLocked(tid, op)
		if err != nil {
			return revs, errors.Wrapf(err, "%s %q", op.Type, op.Key)
		}
		revs = append(revs, rev)
	}
	return revs, nil
}

func (c *Collection) applyLocked(tid uint64, op Operation) (uint64, error) {
	rev := c.ticks.Next()
	typ := marker.TypeDocument
	doc := marker.Document{Key: op.Key, Revision: rev, Body: op.Body}
	if op.Type == OpRemove {
		typ = marker.TypeRemove
		doc.Body = nil
	}

	payload, err := marker.EncodeDocument(doc)
	if err != nil {
		return 0, err
	}

	m, err := c.log.Append(c.config.DatabaseID, c.config.ID, marker.Fields{
		Type:          typ,
		TransactionID: tid,
		Payload:       payload,
	})
	if err != nil {
		return 0, errors.Wrap(err, "append to log")
	}

	loc, err := c.writeLocked(m)
	if err != nil {
		return 0, err
	}

	size := int64(m.AlignedSize())
	if typ == marker.TypeDocument {
		old, existed := c.index.Insert(op.Key, primaryindex.Position{Revision: rev, Location: loc})
		c.addPending(loc.Fid(), stats.Container{NumberAlive: 1, SizeAlive: size})
		if existed {
			c.supersede(old)
		}
	} else {
		old, existed := c.index.Remove(op.Key)
		c.addPending(loc.Fid(), stats.Container{NumberDeletions: 1})
		if existed {
			c.supersede(old)
		}
	}

	return rev, nil
}

// supersede accounts for the marker at old becoming dead.
func (c *Collection) supersede(old primaryindex.Position) {
	var size int64
	if m, ok := old.Location.Marker(); ok {
		size = int64(m.AlignedSize())
	}
	c.addPending(old.Location.Fid(), stats.Container{
		NumberAlive: -1,
		SizeAlive:   -size,
		NumberDead:  1,
		SizeDead:    size,
	})
}

// writeLocked appends m to the journal, rotating it if m does not fit.
func (c *Collection) writeLocked(m marker.Marker) (datafile.Location, error) {
	j, err := c.journalFor(m.Size())
	if err != nil {
		return datafile.Location{}, err
	}

	loc, err := j.Write(m)
	if err != nil {
		return datafile.Location{}, errors.Wrapf(err, "write to journal %s", j.Name())
	}
	return loc, nil
}

func (c *Collection) journalFor(size uint32) (*datafile.Datafile, error) {
	c.filesLock.RLock()
	j := c.journal
	c.filesLock.RUnlock()
	if j != nil && j.Fits(size) {
		return j, nil
	}

	c.filesLock.Lock()
	defer c.filesLock.Unlock()

	if c.journal != nil {
		if err := c.sealJournalLocked(); err != nil {
			return nil, err
		}
	}

	capacity := c.JournalSize()
	if needed := marker.AlignedSize(size) + datafile.Overhead; needed > capacity {
		capacity = needed
	}
	j, err := c.createFileLocked(datafile.PrefixJournal, c.ticks.Next(), capacity)
	if err != nil {
		return nil, err
	}
	c.journal = j
	c.stats.Create(j.Fid())
	c.reportFilesLocked()

	return j, nil
}

// RotateJournal seals the current journal, if any. The next write creates a
// new one.
func (c *Collection) RotateJournal() error {
	c.BeginWrite()
	defer c.EndWrite()

	c.filesLock.Lock()
	defer c.filesLock.Unlock()

	if c.journal == nil {
		return nil
	}
	if err := c.sealJournalLocked(); err != nil {
		return err
	}
	c.reportFilesLocked()
	return nil
}

// sealJournalLocked turns the journal into a datafile. The caller holds
// filesLock.
func (c *Collection) sealJournalLocked() error {
	j := c.journal
	if err := j.Seal(c.ticks.Next()); err != nil {
		return errors.Wrapf(err, "seal journal %s", j.Name())
	}

	target := filepath.Join(c.config.Path, datafile.Name(datafile.PrefixDatafile, j.Fid()))
	if err := j.Rename(target); err != nil {
		return errors.Wrapf(err, "rename sealed journal %s", j.Name())
	}

	c.datafiles = append(c.datafiles, j)
	c.journal = nil

	c.logger.WithFields(logrus.Fields{
		"action": "journal_seal",
		"fid":    j.Fid(),
		"size":   j.CurrentSize(),
	}).Debug("sealed journal")
	return nil
}

// createFileLocked creates a file of the collection and writes the
// collection header marker.
func (c *Collection) createFileLocked(prefix datafile.Prefix, fid uint64, size uint32) (*datafile.Datafile, error) {
	path := filepath.Join(c.config.Path, datafile.Name(prefix, fid))
	d, err := datafile.Create(path, fid, size)
	if err != nil {
		return nil, err
	}

	header, err := marker.Encode(marker.Fields{
		Type:         marker.TypeCollectionHeader,
		Tick:         c.ticks.Next(),
		CollectionID: c.config.ID,
	})
	if err == nil {
		_, err = d.Write(header)
	}
	if err != nil {
		d.Close()
		return nil, errors.Wrapf(err, "write collection header to %s", d.Name())
	}
	return d, nil
}

// Read returns the current revision of the document stored under key.
func (c *Collection) Read(key string) (marker.Document, error) {
	h := c.ditches.Acquire(ditch.KindDocument)
	defer h.Release()

	pos, ok := c.index.Lookup(key)
	if !ok {
		return marker.Document{}, errors.Wrapf(ErrNotFound, "read %q", key)
	}
	m, ok := pos.Location.Marker()
	if !ok {
		return marker.Document{}, errors.Errorf("unresolvable location %s for %q", pos.Location, key)
	}
	return marker.DecodeDocument(m.Payload())
}

// Iterate calls fn with every live document until fn returns false. The
// visited documents are decoded copies.
func (c *Collection) Iterate(fn func(doc marker.Document) bool) error {
	h := c.ditches.Acquire(ditch.KindDocument)
	defer h.Release()

	var err error
	c.index.Range(func(key string, pos primaryindex.Position) bool {
		m, ok := pos.Location.Marker()
		if !ok {
			err = errors.Errorf("unresolvable location %s for %q", pos.Location, key)
			return false
		}
		doc, decodeErr := marker.DecodeDocument(m.Payload())
		if decodeErr != nil {
			err = decodeErr
			return false
		}
		return fn(doc)
	})
	return err
}
