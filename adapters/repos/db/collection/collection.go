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
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/docstore/adapters/repos/db/datafile"
	"github.com/weaviate/docstore/adapters/repos/db/ditch"
	"github.com/weaviate/docstore/adapters/repos/db/marker"
	"github.com/weaviate/docstore/adapters/repos/db/primaryindex"
	"github.com/weaviate/docstore/adapters/repos/db/stats"
	"github.com/weaviate/docstore/adapters/repos/db/tick"
	"github.com/weaviate/docstore/entities/storagestate"
	"github.com/weaviate/docstore/usecases/monitoring"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrConflict    = errors.New("unique constraint violated")
	ErrLockTimeout = errors.New("timeout waiting for collection lock")
	errLockBusy    = errors.New("collection lock busy")
)

// LogWriter assigns ticks to markers and makes them durable before they are
// applied to a collection. The returned marker carries the final tick.
type LogWriter interface {
	Append(databaseID, collectionID uint64, f marker.Fields) (marker.Marker, error)
}

// stampWriter is the LogWriter of collections that run without a
// write-ahead log. It only assigns ticks.
type stampWriter struct {
	ticks *tick.Server
}

func (w stampWriter) Append(_, _ uint64, f marker.Fields) (marker.Marker, error) {
	f.Tick = w.ticks.Next()
	return marker.Encode(f)
}

type Config struct {
	DatabaseID   uint64
	DatabaseName string
	ID           uint64
	Name         string
	GUID         string
	// Path is the directory holding the collection's files.
	Path        string
	JournalSize uint32
	DoCompact   bool
	IsSystem    bool

	Ticks   *tick.Server
	Log     LogWriter
	Metrics *monitoring.PrometheusMetrics
}

// Collection is the physical store of one collection: its journal, sealed
// datafiles, compactor files, per-file statistics, primary index and ditches.
//
// Lock order: compactionLock, trxLock, filesLock. filesLock only guards the
// file lists and is never held while waiting for anything else.
type Collection struct {
	config Config
	logger logrus.FieldLogger
	ticks  *tick.Server
	log    LogWriter

	index   *primaryindex.Index
	stats   *stats.Statistics
	ditches *ditch.Ditches

	filesLock  sync.RWMutex
	datafiles  []*datafile.Datafile
	journal    *datafile.Datafile
	compactors []*datafile.Datafile

	// trxLock is held exclusively by writers and by the compactor's copy
	// pass, shared by the compactor's size pass.
	trxLock sync.RWMutex
	// compactionLock is held exclusively by a running compaction and shared
	// by callers that need the compactor to stay away.
	compactionLock sync.RWMutex

	pendingLock sync.Mutex
	pending     []pendingUpdate

	metaLock                 sync.Mutex
	name                     string
	journalSize              uint32
	doCompact                bool
	status                   storagestate.Status
	compactionStatus         string
	compactionStatusTime     time.Time
	lastCompactionStamp      time.Time
	nextCompactionStartIndex int

	closed atomic.Bool
}

// Open loads the collection stored in config.Path, creating the directory if
// necessary. Leftovers of interrupted compactions are resolved and the index
// and statistics are rebuilt from the datafiles.
func Open(config Config, logger logrus.FieldLogger) (*Collection, error) {
	if config.Ticks == nil {
		config.Ticks = tick.New(0)
	}
	if config.Log == nil {
		config.Log = stampWriter{ticks: config.Ticks}
	}
	if config.JournalSize < datafile.MinimalSize {
		config.JournalSize = datafile.MinimalSize
	}

	logger = logger.WithFields(logrus.Fields{
		"database":   config.DatabaseName,
		"collection": config.Name,
	})

	c := &Collection{
		config:      config,
		logger:      logger,
		ticks:       config.Ticks,
		log:         config.Log,
		index:       primaryindex.New(),
		stats:       stats.New(),
		ditches:     ditch.New(logger),
		name:        config.Name,
		journalSize: config.JournalSize,
		doCompact:   config.DoCompact,
		status:      storagestate.StatusUnloaded,
	}

	if err := os.MkdirAll(config.Path, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create collection directory %s", config.Path)
	}

	config.Metrics.NewUnloadedCollection()
	before := time.Now()
	if err := c.recover(); err != nil {
		c.closeFiles()
		config.Metrics.DropUnloadedCollection()
		return nil, errors.Wrapf(err, "open collection %s", config.Name)
	}

	c.setStatus(storagestate.StatusLoaded)
	config.Metrics.CollectionLoaded()
	c.reportFiles()
	c.logger.WithFields(logrus.Fields{
		"action":    "collection_open",
		"datafiles": len(c.datafiles),
		"documents": c.index.Size(),
		"took":      time.Since(before),
	}).Debug("opened collection")

	return c, nil
}

func (c *Collection) DatabaseID() uint64 {
	return c.config.DatabaseID
}

func (c *Collection) DatabaseName() string {
	return c.config.DatabaseName
}

func (c *Collection) ID() uint64 {
	return c.config.ID
}

func (c *Collection) GUID() string {
	return c.config.GUID
}

func (c *Collection) Path() string {
	return c.config.Path
}

func (c *Collection) IsSystem() bool {
	return c.config.IsSystem
}

func (c *Collection) Name() string {
	c.metaLock.Lock()
	defer c.metaLock.Unlock()
	return c.name
}

func (c *Collection) SetName(name string) {
	c.metaLock.Lock()
	defer c.metaLock.Unlock()
	c.name = name
}

func (c *Collection) JournalSize() uint32 {
	c.metaLock.Lock()
	defer c.metaLock.Unlock()
	return c.journalSize
}

// SetJournalSize changes the capacity of journals created from now on.
func (c *Collection) SetJournalSize(size uint32) {
	if size < datafile.MinimalSize {
		size = datafile.MinimalSize
	}
	c.metaLock.Lock()
	defer c.metaLock.Unlock()
	c.journalSize = size
}

func (c *Collection) DoCompact() bool {
	c.metaLock.Lock()
	defer c.metaLock.Unlock()
	return c.doCompact
}

func (c *Collection) SetDoCompact(doCompact bool) {
	c.metaLock.Lock()
	defer c.metaLock.Unlock()
	c.doCompact = doCompact
}

func (c *Collection) Status() storagestate.Status {
	c.metaLock.Lock()
	defer c.metaLock.Unlock()
	return c.status
}

func (c *Collection) setStatus(status storagestate.Status) {
	c.metaLock.Lock()
	defer c.metaLock.Unlock()
	c.status = status
}

func (c *Collection) Index() *primaryindex.Index {
	return c.index
}

func (c *Collection) Statistics() *stats.Statistics {
	return c.stats
}

func (c *Collection) Ditches() *ditch.Ditches {
	return c.ditches
}

func (c *Collection) Ticks() *tick.Server {
	return c.ticks
}

func (c *Collection) Logger() logrus.FieldLogger {
	return c.logger
}

// BeginWrite takes the exclusive collection lock used by writers.
func (c *Collection) BeginWrite() {
	c.trxLock.Lock()
}

func (c *Collection) EndWrite() {
	c.trxLock.Unlock()
}

// BeginReadTimed takes the shared collection lock, retrying until timeout
// expires. Writers are excluded while the lock is held.
func (c *Collection) BeginReadTimed(timeout time.Duration) error {
	if c.trxLock.TryRLock() {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = timeout

	err := backoff.Retry(func() error {
		if c.trxLock.TryRLock() {
			return nil
		}
		return errLockBusy
	}, b)
	if err != nil {
		return errors.Wrapf(ErrLockTimeout, "read lock on %s after %s", c.Name(), timeout)
	}
	return nil
}

func (c *Collection) EndRead() {
	c.trxLock.RUnlock()
}

// TryNumberOfDocuments returns the number of live documents if the shared
// collection lock can be taken immediately.
func (c *Collection) TryNumberOfDocuments() (int, bool) {
	if !c.trxLock.TryRLock() {
		return 0, false
	}
	defer c.trxLock.RUnlock()
	return c.index.Size(), true
}

func (c *Collection) NumberOfDocuments() int {
	return c.index.Size()
}

// TryCompactionLock takes the exclusive compaction lock without waiting.
func (c *Collection) TryCompactionLock() bool {
	return c.compactionLock.TryLock()
}

func (c *Collection) CompactionUnlock() {
	c.compactionLock.Unlock()
}

// PreventCompaction keeps the compactor away from the collection until the
// returned function is called. It waits for a running compaction to finish.
func (c *Collection) PreventCompaction() func() {
	c.compactionLock.RLock()
	var once sync.Once
	return func() {
		once.Do(c.compactionLock.RUnlock)
	}
}

// Close waits for outstanding ditches and a running compaction, then closes
// all files. The collection can not be used afterwards.
func (c *Collection) Close(ctx context.Context) error {
	if c.closed.Load() {
		return nil
	}

	c.setStatus(storagestate.StatusUnloading)
	c.config.Metrics.StartUnloadingCollection()

	c.compactionLock.Lock()
	defer c.compactionLock.Unlock()

	if err := c.ditches.Wait(ctx); err != nil {
		return errors.Wrapf(err, "wait for ditches of collection %s", c.Name())
	}

	c.trxLock.Lock()
	defer c.trxLock.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.CollectStatistics()
	err := c.closeFiles()
	c.setStatus(storagestate.StatusUnloaded)
	c.config.Metrics.FinishUnloadingCollection()
	c.config.Metrics.DeleteCollection(c.config.DatabaseName, c.Name())

	if err != nil {
		return errors.Wrapf(err, "close collection %s", c.Name())
	}
	return nil
}

// Drop closes the collection and removes its directory.
func (c *Collection) Drop(ctx context.Context) error {
	if err := c.Close(ctx); err != nil {
		return err
	}
	c.setStatus(storagestate.StatusDeleted)
	if err := os.RemoveAll(c.config.Path); err != nil {
		return errors.Wrapf(err, "remove collection directory %s", c.config.Path)
	}
	return nil
}

func (c *Collection) closeFiles() error {
	c.filesLock.Lock()
	defer c.filesLock.Unlock()

	var result *multierror.Error
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		c.journal = nil
	}
	for _, d := range c.datafiles {
		if err := d.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, d := range c.compactors {
		if err := d.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.datafiles = nil
	c.compactors = nil

	return result.ErrorOrNil()
}

func (c *Collection) reportFiles() {
	c.filesLock.RLock()
	defer c.filesLock.RUnlock()
	c.reportFilesLocked()
}

func (c *Collection) reportFilesLocked() {
	datafiles, compactors := len(c.datafiles), len(c.compactors)
	journals := 0
	if c.journal != nil {
		journals = 1
	}

	c.config.Metrics.SetDatafiles(c.config.DatabaseName, c.Name(), datafiles, journals, compactors)
	c.config.Metrics.SetDitchesPending(c.config.DatabaseName, c.Name(), c.ditches.Pending())
}
