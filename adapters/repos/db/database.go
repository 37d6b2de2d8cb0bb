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
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/docstore/adapters/repos/db/collection"
	"github.com/weaviate/docstore/adapters/repos/db/marker"
	"github.com/weaviate/docstore/entities/cyclemanager"
)

// CollectionOptions are the settings of a new collection. A zero
// JournalSize selects the engine default.
type CollectionOptions struct {
	JournalSize       uint32
	DisableCompaction bool
}

// CollectionProperties are the changeable settings of a collection. Nil
// fields are left alone.
type CollectionProperties struct {
	JournalSize *uint32
	DoCompact   *bool
}

// Database is a named set of collections.
type Database struct {
	engine *Engine
	id     uint64
	name   string
	path   string
	logger logrus.FieldLogger

	// ddlLock serializes structural changes of the database
	ddlLock     sync.Mutex
	lock        sync.RWMutex
	collections map[string]*collection.Collection
	byID        map[uint64]*collection.Collection

	compactionCallbacks cyclemanager.CycleCallbacks
	compactionCycle     cyclemanager.CycleManager
}

func (d *Database) ID() uint64 {
	return d.id
}

func (d *Database) Name() string {
	return d.name
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || len(name) > 256 {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return nil
}

// Collections returns the collections of the database in id order.
func (d *Database) Collections() []*collection.Collection {
	d.lock.RLock()
	defer d.lock.RUnlock()

	out := make([]*collection.Collection, 0, len(d.byID))
	for _, c := range d.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (d *Database) Collection(name string) (*collection.Collection, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	c, ok := d.collections[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCollection, "collection %q in database %q", name, d.name)
	}
	return c, nil
}

func (d *Database) collectionByID(id uint64) (*collection.Collection, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	c, ok := d.byID[id]
	return c, ok
}

func (d *Database) add(c *collection.Collection) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.collections[c.Name()] = c
	d.byID[c.ID()] = c
}

func (d *Database) remove(c *collection.Collection) {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.collections, c.Name())
	delete(d.byID, c.ID())
}

func (d *Database) openCollection(rec collectionRecord) (*collection.Collection, error) {
	e := d.engine
	return collection.Open(collection.Config{
		DatabaseID:   d.id,
		DatabaseName: d.name,
		ID:           rec.ID,
		Name:         rec.Name,
		GUID:         rec.GUID,
		Path:         filepath.Join(d.path, fmt.Sprintf("collection-%d", rec.ID)),
		JournalSize:  rec.JournalSize,
		DoCompact:    rec.DoCompact,
		IsSystem:     rec.IsSystem,
		Ticks:        e.ticks,
		Log:          e.wal,
		Metrics:      e.metrics,
	}, d.logger)
}

func (d *Database) recordOf(c *collection.Collection) collectionRecord {
	return collectionRecord{
		DatabaseID:  d.id,
		ID:          c.ID(),
		Name:        c.Name(),
		GUID:        c.GUID(),
		JournalSize: c.JournalSize(),
		DoCompact:   c.DoCompact(),
		IsSystem:    c.IsSystem(),
	}
}

func definitionOf(rec collectionRecord) marker.CollectionDefinition {
	return marker.CollectionDefinition{
		Name:        rec.Name,
		GUID:        rec.GUID,
		JournalSize: rec.JournalSize,
		DoCompact:   rec.DoCompact,
		IsSystem:    rec.IsSystem,
	}
}

// logDefinition writes a structural marker for the database or one of its
// collections to the log.
func (d *Database) logDefinition(typ marker.Type, collectionID uint64, def interface{}) error {
	payload, err := marker.EncodeDefinition(def)
	if err != nil {
		return err
	}
	if _, err := d.engine.wal.Append(d.id, collectionID, marker.Fields{
		Type:    typ,
		Payload: payload,
	}); err != nil {
		return errors.Wrapf(err, "log %s", typ)
	}
	return nil
}

// CreateCollection adds a collection. Names starting with an underscore
// denote system collections.
func (d *Database) CreateCollection(name string, opts CollectionOptions) (*collection.Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	d.ddlLock.Lock()
	defer d.ddlLock.Unlock()

	if _, err := d.Collection(name); err == nil {
		return nil, errors.Wrapf(ErrDuplicateName, "collection %q in database %q", name, d.name)
	}

	journalSize := opts.JournalSize
	if journalSize == 0 {
		journalSize = d.engine.config.JournalSize
	}
	rec := collectionRecord{
		DatabaseID:  d.id,
		ID:          d.engine.ticks.Next(),
		Name:        name,
		GUID:        uuid.New().String(),
		JournalSize: journalSize,
		DoCompact:   !opts.DisableCompaction,
		IsSystem:    strings.HasPrefix(name, "_"),
	}

	c, err := d.openCollection(rec)
	if err != nil {
		return nil, err
	}
	if err := d.engine.catalog.putCollection(rec); err != nil {
		c.Drop(context.Background())
		return nil, errors.Wrapf(err, "store collection %q", name)
	}
	if err := d.logDefinition(marker.TypeCreateCollection, rec.ID, definitionOf(rec)); err != nil {
		return nil, err
	}
	d.add(c)

	d.logger.WithFields(logrus.Fields{
		"action":     "create_collection",
		"collection": name,
		"id":         rec.ID,
	}).Debug("created collection")
	return c, nil
}

func (d *Database) DropCollection(ctx context.Context, name string) error {
	d.ddlLock.Lock()
	defer d.ddlLock.Unlock()

	c, err := d.Collection(name)
	if err != nil {
		return err
	}
	rec := d.recordOf(c)
	d.remove(c)

	d.engine.compactor.Forget(c)
	if err := c.Drop(ctx); err != nil {
		return err
	}
	if err := d.engine.catalog.deleteCollection(d.id, rec.ID); err != nil {
		return errors.Wrapf(err, "remove collection %q from catalog", name)
	}
	return d.logDefinition(marker.TypeDropCollection, rec.ID, definitionOf(rec))
}

func (d *Database) RenameCollection(name, newName string) error {
	if err := validateName(newName); err != nil {
		return err
	}

	d.ddlLock.Lock()
	defer d.ddlLock.Unlock()

	c, err := d.Collection(name)
	if err != nil {
		return err
	}
	if _, err := d.Collection(newName); err == nil {
		return errors.Wrapf(ErrDuplicateName, "collection %q in database %q", newName, d.name)
	}

	d.lock.Lock()
	delete(d.collections, name)
	c.SetName(newName)
	d.collections[newName] = c
	d.lock.Unlock()

	rec := d.recordOf(c)
	if err := d.engine.catalog.putCollection(rec); err != nil {
		return errors.Wrapf(err, "store collection %q", newName)
	}
	def := definitionOf(rec)
	def.OldName = name
	return d.logDefinition(marker.TypeRenameCollection, rec.ID, def)
}

func (d *Database) ChangeCollection(name string, props CollectionProperties) error {
	d.ddlLock.Lock()
	defer d.ddlLock.Unlock()

	c, err := d.Collection(name)
	if err != nil {
		return err
	}
	if props.JournalSize != nil {
		c.SetJournalSize(*props.JournalSize)
	}
	if props.DoCompact != nil {
		c.SetDoCompact(*props.DoCompact)
	}

	rec := d.recordOf(c)
	if err := d.engine.catalog.putCollection(rec); err != nil {
		return errors.Wrapf(err, "store collection %q", name)
	}
	return d.logDefinition(marker.TypeChangeCollection, rec.ID, definitionOf(rec))
}

// Insert stores a new document outside of a transaction.
func (d *Database) Insert(collectionName, key string, body map[string]interface{}) (uint64, error) {
	c, err := d.Collection(collectionName)
	if err != nil {
		return 0, err
	}
	return c.Insert(key, body)
}

func (d *Database) Replace(collectionName, key string, body map[string]interface{}) (uint64, error) {
	c, err := d.Collection(collectionName)
	if err != nil {
		return 0, err
	}
	return c.Replace(key, body)
}

func (d *Database) Remove(collectionName, key string) (uint64, error) {
	c, err := d.Collection(collectionName)
	if err != nil {
		return 0, err
	}
	return c.Remove(key)
}

func (d *Database) Read(collectionName, key string) (marker.Document, error) {
	c, err := d.Collection(collectionName)
	if err != nil {
		return marker.Document{}, err
	}
	return c.Read(key)
}

// close unregisters the database from the compactor and closes its
// collections.
func (d *Database) close(ctx context.Context) error {
	var result *multierror.Error
	if err := d.stopCompaction(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	for _, c := range d.Collections() {
		if err := c.Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// drop removes the files of all collections. The catalog is left to the
// caller.
func (d *Database) drop(ctx context.Context) error {
	var result *multierror.Error
	if err := d.stopCompaction(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	for _, c := range d.Collections() {
		d.remove(c)
		d.engine.compactor.Forget(c)
		if err := c.Drop(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// stopCompaction waits for a running compaction round of d to finish.
func (d *Database) stopCompaction(ctx context.Context) error {
	if d.compactionCycle == nil {
		return nil
	}
	if err := d.compactionCycle.StopAndWait(ctx); err != nil {
		return errors.Wrapf(err, "stop compaction of %q", d.name)
	}
	return nil
}
