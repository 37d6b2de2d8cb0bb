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
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/docstore/adapters/repos/db/collection"
	"github.com/weaviate/docstore/adapters/repos/db/compactor"
	"github.com/weaviate/docstore/adapters/repos/db/marker"
	"github.com/weaviate/docstore/adapters/repos/db/tick"
	"github.com/weaviate/docstore/adapters/repos/db/wal"
	"github.com/weaviate/docstore/entities/cyclemanager"
	enterrors "github.com/weaviate/docstore/entities/errors"
	"github.com/weaviate/docstore/usecases/config"
	"github.com/weaviate/docstore/usecases/monitoring"
)

var (
	ErrUnknownDatabase     = errors.New("unknown database")
	ErrUnknownCollection   = errors.New("unknown collection")
	ErrDuplicateName       = errors.New("duplicate name")
	ErrInvalidName         = errors.New("invalid name")
	ErrTransactionFinished = errors.New("transaction already finished")
	ErrShutdown            = errors.New("engine shut down")
)

var (
	_ wal.Resolver         = (*Engine)(nil)
	_ collection.LogWriter = (*wal.Manager)(nil)
)

// Engine owns the catalog, the write-ahead log and all databases stored
// below one data path. Background work (compaction, statistics collection,
// logfile pruning) runs in cycle managers started by Start.
type Engine struct {
	config  config.Config
	logger  logrus.FieldLogger
	metrics *monitoring.PrometheusMetrics

	ticks     *tick.Server
	catalog   *catalog
	wal       *wal.Manager
	access    *wal.Access
	compactor *compactor.Compactor

	maintenanceCallbacks cyclemanager.CycleCallbacks
	maintenanceCycle     cyclemanager.CycleManager

	// ddlLock serializes creation and removal of databases
	ddlLock   sync.Mutex
	lock      sync.RWMutex
	databases map[string]*Database
	byID      map[uint64]*Database

	// guarded by lock
	started  bool
	shutdown atomic.Bool
}

// New opens the engine stored in cfg.DataPath. reg may be nil, in which
// case no metrics are recorded.
func New(cfg config.Config, logger logrus.FieldLogger, reg prometheus.Registerer) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data path %s", cfg.DataPath)
	}

	var metrics *monitoring.PrometheusMetrics
	if reg != nil {
		metrics = monitoring.NewPrometheusMetrics(reg)
	}

	e := &Engine{
		config:    cfg,
		logger:    logger,
		metrics:   metrics,
		ticks:     tick.New(0),
		compactor: compactor.New(cfg.Compaction, logger, metrics),
		databases: map[string]*Database{},
		byID:      map[uint64]*Database{},
	}

	var err error
	e.catalog, err = openCatalog(cfg.DataPath, logger)
	if err != nil {
		return nil, err
	}

	e.wal, err = wal.Open(wal.Config{
		Path:             filepath.Join(cfg.DataPath, "journals"),
		LogfileSize:      cfg.WAL.LogfileSize,
		HistoricLogfiles: cfg.WAL.HistoricLogfiles,
		SyncOnWrite:      cfg.WAL.SyncOnWrite,
		Ticks:            e.ticks,
		Metrics:          metrics,
	}, logger)
	if err != nil {
		e.catalog.close()
		return nil, err
	}
	e.access = wal.NewAccess(e.wal, e, logger)

	e.initCycles()

	if err := e.load(); err != nil {
		e.closeAll(context.Background())
		return nil, errors.Wrap(err, "load databases")
	}
	return e, nil
}

func (e *Engine) initCycles() {
	e.maintenanceCallbacks = cyclemanager.NewCycleCallbacks("maintenance", e.logger, 2)
	e.maintenanceCallbacks.Register("collector", e.collectStatistics)
	e.maintenanceCallbacks.Register("wal_prune", e.wal.PruneCallback())
	e.maintenanceCycle = cyclemanager.New(e.newTicker(), e.maintenanceCallbacks)
}

func (e *Engine) newTicker() cyclemanager.CycleTicker {
	return cyclemanager.NewWorkAwareTicker(e.config.Compaction.SleepTime,
		e.config.Compaction.WorkedSleepTime)
}

func (e *Engine) load() error {
	records, err := e.catalog.databases()
	if err != nil {
		return err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	for _, rec := range records {
		e.ticks.Observe(rec.ID)
		d := e.newDatabase(rec)

		collections, err := e.catalog.collections(rec.ID)
		if err != nil {
			return err
		}
		for _, crec := range collections {
			e.ticks.Observe(crec.ID)
			c, err := d.openCollection(crec)
			if err != nil {
				return err
			}
			d.add(c)
		}

		e.register(d)
	}
	return nil
}

func (e *Engine) newDatabase(rec databaseRecord) *Database {
	return &Database{
		engine:      e,
		id:          rec.ID,
		name:        rec.Name,
		path:        filepath.Join(e.config.DataPath, "databases", fmt.Sprintf("database-%d", rec.ID)),
		logger:      e.logger.WithField("database", rec.Name),
		collections: map[string]*collection.Collection{},
		byID:        map[uint64]*collection.Collection{},
	}
}

// register makes d visible and gives it its own compaction cycle, so that
// databases are compacted independently of each other.
func (e *Engine) register(d *Database) {
	d.compactionCallbacks = cyclemanager.NewCycleCallbacks("compaction/"+d.name, d.logger, 1)
	d.compactionCallbacks.Register("collections", e.compactor.CycleCallback(d.Collections))
	d.compactionCycle = cyclemanager.New(e.newTicker(), d.compactionCallbacks)

	e.lock.Lock()
	defer e.lock.Unlock()

	e.databases[d.name] = d
	e.byID[d.id] = d
	if e.started {
		d.compactionCycle.Start()
	}
}

// Start launches the background cycles. Databases created afterwards start
// their compaction cycle on creation.
func (e *Engine) Start() {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.started || e.shutdown.Load() {
		return
	}
	e.started = true
	e.maintenanceCycle.Start()
	for _, d := range e.byID {
		d.compactionCycle.Start()
	}
}

func (e *Engine) CreateDatabase(name string) (*Database, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if e.shutdown.Load() {
		return nil, ErrShutdown
	}

	e.ddlLock.Lock()
	defer e.ddlLock.Unlock()

	e.lock.RLock()
	_, exists := e.databases[name]
	e.lock.RUnlock()
	if exists {
		return nil, errors.Wrapf(ErrDuplicateName, "database %q", name)
	}

	rec := databaseRecord{ID: e.ticks.Next(), Name: name}
	if err := e.catalog.putDatabase(rec); err != nil {
		return nil, errors.Wrapf(err, "store database %q", name)
	}

	d := e.newDatabase(rec)
	if err := d.logDefinition(marker.TypeCreateDatabase, 0, marker.DatabaseDefinition{Name: name}); err != nil {
		return nil, err
	}
	e.register(d)

	e.logger.WithFields(logrus.Fields{
		"action":   "create_database",
		"database": name,
		"id":       rec.ID,
	}).Debug("created database")
	return d, nil
}

func (e *Engine) Database(name string) (*Database, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	d, ok := e.databases[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDatabase, "database %q", name)
	}
	return d, nil
}

// Databases returns all databases in id order.
func (e *Engine) Databases() []*Database {
	e.lock.RLock()
	defer e.lock.RUnlock()

	out := make([]*Database, 0, len(e.byID))
	for _, d := range e.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// DropDatabase removes a database and all of its collections.
func (e *Engine) DropDatabase(ctx context.Context, name string) error {
	e.ddlLock.Lock()
	defer e.ddlLock.Unlock()

	e.lock.Lock()
	d, ok := e.databases[name]
	if ok {
		delete(e.databases, name)
		delete(e.byID, d.id)
	}
	e.lock.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownDatabase, "database %q", name)
	}

	if err := d.drop(ctx); err != nil {
		return err
	}
	if err := e.catalog.deleteDatabase(d.id); err != nil {
		return errors.Wrapf(err, "remove database %q from catalog", name)
	}
	if err := d.logDefinition(marker.TypeDropDatabase, 0, marker.DatabaseDefinition{Name: name}); err != nil {
		return err
	}
	if err := os.RemoveAll(d.path); err != nil {
		return errors.Wrapf(err, "remove database directory %s", d.path)
	}
	return nil
}

func (e *Engine) databaseByID(id uint64) (*Database, bool) {
	e.lock.RLock()
	defer e.lock.RUnlock()
	d, ok := e.byID[id]
	return d, ok
}

// ResolveDatabase hands the open database with the given id to log tail
// consumers.
func (e *Engine) ResolveDatabase(id uint64) (wal.Database, bool) {
	d, ok := e.databaseByID(id)
	if !ok {
		return nil, false
	}
	return d, true
}

func (e *Engine) collectionByID(databaseID, id uint64) (*collection.Collection, bool) {
	d, ok := e.databaseByID(databaseID)
	if !ok {
		return nil, false
	}
	return d.collectionByID(id)
}

// CollectionName resolves a collection id for the log tailer.
func (e *Engine) CollectionName(databaseID, id uint64) (string, bool) {
	c, ok := e.collectionByID(databaseID, id)
	if !ok {
		return "", false
	}
	return c.Name(), true
}

// CollectionGUID resolves a collection id for the log tailer.
func (e *Engine) CollectionGUID(databaseID, id uint64) (string, bool) {
	c, ok := e.collectionByID(databaseID, id)
	if !ok {
		return "", false
	}
	return c.GUID(), true
}

// Tail emits the replicated log events in [tickStart, tickEnd).
func (e *Engine) Tail(tickStart, tickEnd uint64, chunkSize int, filter wal.Filter,
	fn wal.EventHandler,
) (wal.Result, error) {
	return e.access.Tail(tickStart, tickEnd, chunkSize, filter, fn)
}

// OpenTransactions reports the transactions left open by [tickStart, tickEnd).
func (e *Engine) OpenTransactions(tickStart, tickEnd uint64, filter wal.Filter,
	fn wal.OpenTransactionHandler,
) (wal.Result, error) {
	return e.access.OpenTransactions(tickStart, tickEnd, filter, fn)
}

// LastTick is the tick of the last marker written to the log.
func (e *Engine) LastTick() uint64 {
	return e.wal.LastTick()
}

func (e *Engine) WAL() *wal.Manager {
	return e.wal
}

func (e *Engine) Compactor() *compactor.Compactor {
	return e.compactor
}

// collectStatistics folds pending statistics of every collection.
func (e *Engine) collectStatistics(shouldAbort cyclemanager.ShouldAbortCallback) bool {
	collected := 0
	for _, d := range e.Databases() {
		for _, c := range d.Collections() {
			if shouldAbort() {
				return collected > 0
			}
			collected += c.CollectStatistics()
		}
	}

	if collected > 0 {
		e.logger.WithFields(logrus.Fields{
			"action":    "collector",
			"collected": collected,
		}).Trace("collected statistics")
	}
	return collected > 0
}

// Shutdown stops the background cycles and closes all databases, the log
// and the catalog.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	var result *multierror.Error
	if err := e.maintenanceCycle.StopAndWait(ctx); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "stop maintenance cycle"))
	}
	if err := e.closeAll(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (e *Engine) closeAll(ctx context.Context) error {
	var result *multierror.Error

	eg := enterrors.NewErrorGroupWrapper(e.logger)
	for _, d := range e.Databases() {
		d := d
		eg.Go(func() error {
			return d.close(ctx)
		})
	}
	if err := eg.Wait(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := e.wal.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := e.catalog.close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "close catalog"))
	}
	return result.ErrorOrNil()
}
