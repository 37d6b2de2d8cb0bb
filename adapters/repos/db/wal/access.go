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

package wal

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/weaviate/docstore/adapters/repos/db/datafile"
	"github.com/weaviate/docstore/adapters/repos/db/marker"
	"github.com/weaviate/docstore/usecases/monitoring"
)

// Database is the handle events are delivered with.
type Database interface {
	ID() uint64
	Name() string
}

// Resolver maps database ids to open databases and collection ids to their
// current names and globally unique ids.
type Resolver interface {
	ResolveDatabase(databaseID uint64) (Database, bool)
	CollectionName(databaseID, collectionID uint64) (string, bool)
	CollectionGUID(databaseID, collectionID uint64) (string, bool)
}

// EventHandler receives one serialized Event per emitted marker along with
// the database the marker belongs to. db is nil if that database is not
// open, e.g. because it was dropped since. Returning an error ends the tail.
type EventHandler func(db Database, event []byte) error

// OpenTransactionHandler receives a transaction that began in the scanned
// range but did not finish in it.
type OpenTransactionHandler func(transactionID, startTick uint64)

// Result describes how far a scan got. FromTickIncluded tells whether the
// log still holds everything from the start of the requested range.
type Result struct {
	LastIncludedTick uint64
	HasMore          bool
	FromTickIncluded bool
}

// Access tails the write-ahead log for replication. It keeps no state
// between calls; the caller passes the tick to continue from.
type Access struct {
	manager  *Manager
	resolver Resolver
	logger   logrus.FieldLogger
	metrics  *monitoring.PrometheusMetrics
}

func NewAccess(manager *Manager, resolver Resolver, logger logrus.FieldLogger) *Access {
	return &Access{
		manager:  manager,
		resolver: resolver,
		logger:   logger,
		metrics:  manager.metrics,
	}
}

// scan calls fn with every usable marker of the logfiles covering
// [tickStart, tickEnd) in tick order until fn returns false. Unusable data
// at the end of a logfile ends the scan of that file.
func (a *Access) scan(files []*datafile.Datafile, logger logrus.FieldLogger,
	fn func(m marker.Marker) bool,
) {
	for _, d := range files {
		stopped := false
		err := d.Iterate(func(m marker.Marker, _ datafile.Location) bool {
			if !fn(m) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil {
			logger.WithField("fid", d.Fid()).WithError(err).
				Trace("stopped at unusable data in logfile")
		}
		if stopped {
			return
		}
	}
}

// Tail emits the replicated markers with ticks in [tickStart, tickEnd)
// that pass filter. It stops early once chunkSize bytes of events have been
// emitted and reports HasMore; LastIncludedTick is the tick of the last
// emitted marker.
func (a *Access) Tail(tickStart, tickEnd uint64, chunkSize int, filter Filter,
	fn EventHandler,
) (Result, error) {
	started := time.Now()
	logger := a.logger.WithField("action", "wal_tail")

	files, h, fromTickIncluded := a.manager.logfilesFor(tickStart, tickEnd)
	defer h.Release()

	tc := newTailContext(a.resolver, filter)
	res := Result{FromTickIncluded: fromTickIncluded}
	var (
		size, events int
		tailErr      error
	)

	a.scan(files, logger, func(m marker.Marker) bool {
		tc.observe(m)

		tick := m.Tick()
		if tick < tickStart {
			return true
		}
		if tick >= tickEnd {
			return false
		}

		db, cid := m.DatabaseID(), m.CollectionID()
		if m.Type().IsData() {
			db, cid = tc.lastDatabase, tc.lastCollection
		}
		if !tc.mustReplicate(m, db, cid) {
			return true
		}

		raw, err := tc.serialize(m, db, cid)
		if err == nil {
			err = fn(tc.database(db), raw)
		}
		if err != nil {
			tailErr = err
			return false
		}

		res.LastIncludedTick = tick
		events++
		size += len(raw)
		if size >= chunkSize {
			res.HasMore = true
			return false
		}
		return true
	})

	a.metrics.TailFinished("tail", events, time.Since(started))
	logger.WithFields(logrus.Fields{
		"from":     tickStart,
		"to":       tickEnd,
		"events":   events,
		"last":     res.LastIncludedTick,
		"has_more": res.HasMore,
	}).Trace("tailed write-ahead log")

	if tailErr != nil {
		return Result{}, tailErr
	}
	return res, nil
}

// OpenTransactions reports the transactions of the filtered database that
// began in [tickStart, tickEnd) without committing or aborting in it.
// LastIncludedTick is the last scanned tick, clamped to just before the
// earliest open transaction.
func (a *Access) OpenTransactions(tickStart, tickEnd uint64, filter Filter,
	fn OpenTransactionHandler,
) (Result, error) {
	started := time.Now()
	logger := a.logger.WithField("action", "wal_open_transactions")

	files, h, fromTickIncluded := a.manager.logfilesFor(tickStart, tickEnd)
	defer h.Release()

	open := map[uint64]uint64{}
	var last uint64

	a.scan(files, logger, func(m marker.Marker) bool {
		tick := m.Tick()
		if tick < tickStart {
			return true
		}
		if tick >= tickEnd {
			return false
		}
		if tick > last {
			last = tick
		}

		if !filter.isTransactionMarker(m) {
			return true
		}
		switch m.Type() {
		case marker.TypeBeginTransaction:
			open[m.TransactionID()] = tick
		default:
			delete(open, m.TransactionID())
		}
		return true
	})

	tids := make([]uint64, 0, len(open))
	for tid := range open {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })

	for _, tid := range tids {
		start := open[tid]
		if start-1 < last {
			last = start - 1
		}
		fn(tid, start)
	}

	a.metrics.TailFinished("open_transactions", len(tids), time.Since(started))
	logger.WithFields(logrus.Fields{
		"from": tickStart,
		"to":   tickEnd,
		"open": len(tids),
		"last": last,
	}).Trace("determined open transactions")

	return Result{LastIncludedTick: last, FromTickIncluded: fromTickIncluded}, nil
}

type collectionKey struct {
	database   uint64
	collection uint64
}

// tailContext is the state of one tail call.
type tailContext struct {
	resolver Resolver
	filter   Filter

	// set by prologues, reset at file boundaries
	lastDatabase   uint64
	lastCollection uint64

	names map[collectionKey]string
	guids map[collectionKey]string

	// nil values cache misses
	databases map[uint64]Database
}

func newTailContext(resolver Resolver, filter Filter) *tailContext {
	return &tailContext{
		resolver:  resolver,
		filter:    filter,
		names:     map[collectionKey]string{},
		guids:     map[collectionKey]string{},
		databases: map[uint64]Database{},
	}
}

// database resolves id once per tail call.
func (tc *tailContext) database(id uint64) Database {
	if db, ok := tc.databases[id]; ok {
		return db
	}
	var db Database
	if tc.resolver != nil && id != 0 {
		if resolved, ok := tc.resolver.ResolveDatabase(id); ok {
			db = resolved
		}
	}
	tc.databases[id] = db
	return db
}

// observe updates the context from structural markers. It runs for every
// scanned marker, also those before the requested range.
func (tc *tailContext) observe(m marker.Marker) {
	switch m.Type() {
	case marker.TypePrologue:
		tc.lastDatabase, tc.lastCollection = m.DatabaseID(), m.CollectionID()
	case marker.TypeHeader, marker.TypeFooter:
		tc.lastDatabase, tc.lastCollection = 0, 0
	case marker.TypeCreateCollection:
		tc.remember(m)
	case marker.TypeRenameCollection:
		tc.names = map[collectionKey]string{}
		tc.remember(m)
	}
}

func (tc *tailContext) remember(m marker.Marker) {
	db := m.DatabaseID()
	if tc.filter.DatabaseID != 0 && tc.filter.DatabaseID != db {
		return
	}
	def, err := marker.DecodeCollectionDefinition(m.Payload())
	if err != nil {
		return
	}
	key := collectionKey{db, m.CollectionID()}
	if def.Name != "" {
		tc.names[key] = def.Name
	}
	if def.GUID != "" {
		tc.guids[key] = def.GUID
	}
}

func (tc *tailContext) name(db, cid uint64) (string, bool) {
	key := collectionKey{db, cid}
	if name, ok := tc.names[key]; ok {
		return name, true
	}
	if tc.resolver == nil {
		return "", false
	}
	name, ok := tc.resolver.CollectionName(db, cid)
	if ok {
		tc.names[key] = name
	}
	return name, ok
}

func (tc *tailContext) guid(db, cid uint64) (string, bool) {
	key := collectionKey{db, cid}
	if guid, ok := tc.guids[key]; ok {
		return guid, true
	}
	if tc.resolver == nil {
		return "", false
	}
	guid, ok := tc.resolver.CollectionGUID(db, cid)
	if ok {
		tc.guids[key] = guid
	}
	return guid, ok
}

// mustReplicate is the eligibility policy of the main tail.
func (tc *tailContext) mustReplicate(m marker.Marker, db, cid uint64) bool {
	if _, ok := TranslateType(m.Type()); !ok {
		return false
	}
	f := tc.filter
	if f.DatabaseID != 0 && f.DatabaseID != db {
		return false
	}
	if cid != 0 {
		if name, ok := tc.name(db, cid); ok && ExcludeCollection(name, f.IncludeSystem) {
			return false
		}
	}
	if f.CollectionID != 0 && cid != f.CollectionID && !f.isTransactionMarker(m) {
		return false
	}

	// after the first regular tick all transactions are emitted
	if m.Tick() >= f.FirstRegularTick {
		return true
	}
	if len(f.TransactionIDs) > 0 {
		tid := m.TransactionID()
		if _, ok := f.TransactionIDs[tid]; tid == 0 || !ok {
			return false
		}
	}
	return true
}

func (tc *tailContext) serialize(m marker.Marker, db, cid uint64) ([]byte, error) {
	typ, _ := TranslateType(m.Type())
	e := Event{
		Tick: m.Tick(),
		Type: typ,
		Data: m.Payload(),
	}
	if m.Type().IsData() || m.Type().IsTransactionBoundary() {
		e.TransactionID = m.TransactionID()
	}
	if db > 0 {
		e.DatabaseID = db
		if cid > 0 {
			if guid, ok := tc.guid(db, cid); ok {
				e.CollectionGUID = guid
			}
		}
	}
	return encodeEvent(e)
}
