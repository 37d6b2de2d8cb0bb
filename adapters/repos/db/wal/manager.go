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
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/docstore/adapters/repos/db/datafile"
	"github.com/weaviate/docstore/adapters/repos/db/ditch"
	"github.com/weaviate/docstore/adapters/repos/db/marker"
	"github.com/weaviate/docstore/adapters/repos/db/tick"
	"github.com/weaviate/docstore/entities/cyclemanager"
	"github.com/weaviate/docstore/usecases/monitoring"
)

// MaxMarkerSize is the largest marker the log accepts.
const MaxMarkerSize = 256 << 20

var (
	ErrMarkerTooLarge = errors.New("marker too large for write-ahead log")
	ErrClosed         = errors.New("write-ahead log closed")
)

type Config struct {
	// Path is the directory holding the logfiles.
	Path             string
	LogfileSize      uint32
	HistoricLogfiles int
	SyncOnWrite      bool

	Ticks   *tick.Server
	Metrics *monitoring.PrometheusMetrics
}

// Manager is the engine-wide append stream. Markers get their ticks under
// the append lock, so ticks are strictly increasing across logfiles.
type Manager struct {
	config  Config
	logger  logrus.FieldLogger
	ticks   *tick.Server
	metrics *monitoring.PrometheusMetrics
	ditches *ditch.Ditches

	appendLock sync.Mutex
	current    *datafile.Datafile
	// database and collection announced by the last prologue of current
	lastDatabase   uint64
	lastCollection uint64

	filesLock sync.RWMutex
	// logfiles are in fid order, current is the last one if set
	logfiles []*datafile.Datafile

	// prunedTick is the highest tick held by a pruned logfile
	prunedTick atomic.Uint64
	closed     atomic.Bool
}

// Open loads the logfiles found in cfg.Path. Logfiles left unsealed by a
// crash are sealed; appends always go to a new logfile.
func Open(cfg Config, logger logrus.FieldLogger) (*Manager, error) {
	if cfg.Ticks == nil {
		cfg.Ticks = tick.New(0)
	}
	if cfg.LogfileSize < datafile.MinimalSize {
		cfg.LogfileSize = datafile.MinimalSize
	}

	logger = logger.WithField("component", "wal")
	m := &Manager{
		config:  cfg,
		logger:  logger,
		ticks:   cfg.Ticks,
		metrics: cfg.Metrics,
		ditches: ditch.New(logger),
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create logfile directory %s", cfg.Path)
	}
	if err := m.load(); err != nil {
		m.closeFiles()
		return nil, err
	}
	m.metrics.SetWalLogfiles(len(m.logfiles))
	return m, nil
}

func (m *Manager) load() error {
	entries, err := os.ReadDir(m.config.Path)
	if err != nil {
		return errors.Wrapf(err, "read logfile directory %s", m.config.Path)
	}

	var fids []uint64
	for _, entry := range entries {
		prefix, fid, ok := datafile.ParseName(entry.Name())
		if !ok || entry.IsDir() {
			continue
		}
		if prefix == datafile.PrefixDeleted {
			if err := os.Remove(filepath.Join(m.config.Path, entry.Name())); err != nil {
				m.logger.WithError(err).WithField("path", entry.Name()).
					Warn("cannot remove leftover logfile")
			}
			continue
		}
		if prefix == datafile.PrefixLogfile {
			fids = append(fids, fid)
		}
	}
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })

	for _, fid := range fids {
		path := filepath.Join(m.config.Path, datafile.Name(datafile.PrefixLogfile, fid))
		d, err := datafile.Open(path)
		if err != nil {
			return err
		}
		m.logfiles = append(m.logfiles, d)
		m.ticks.Observe(fid)
		m.ticks.Observe(d.TickMax())
	}

	for _, d := range m.logfiles {
		if d.IsSealed() {
			continue
		}
		if err := d.Seal(m.ticks.Next()); err != nil {
			return errors.Wrapf(err, "seal logfile %s", d.Name())
		}
	}
	return nil
}

// Append assigns a tick to f and writes it to the log. Document and remove
// markers are preceded by a prologue marker whenever the database or
// collection they belong to differs from the previous one in the logfile.
// Other markers that carry database or collection ids get them from the
// arguments unless already set.
func (m *Manager) Append(databaseID, collectionID uint64, f marker.Fields) (marker.Marker, error) {
	m.appendLock.Lock()
	defer m.appendLock.Unlock()

	if m.closed.Load() {
		return nil, ErrClosed
	}

	if f.DatabaseID == 0 {
		f.DatabaseID = databaseID
	}
	if f.CollectionID == 0 {
		f.CollectionID = collectionID
	}

	// size is independent of the tick, so the marker can be sized first
	encoded, err := marker.Encode(f)
	if err != nil {
		return nil, err
	}
	if encoded.Size() > MaxMarkerSize {
		return nil, errors.Wrapf(ErrMarkerTooLarge, "%s marker of %d bytes", f.Type, encoded.Size())
	}

	needed := encoded.Size()
	withPrologue := f.Type.IsData()
	if withPrologue {
		needed += marker.AlignedSize(marker.HeaderSize + 16)
	}

	if err := m.ensureLogfileLocked(needed); err != nil {
		return nil, err
	}

	if withPrologue && (m.lastDatabase != databaseID || m.lastCollection != collectionID) {
		if err := m.writePrologueLocked(databaseID, collectionID); err != nil {
			return nil, err
		}
	}

	marker.Restamp(encoded, m.ticks.Next())
	if _, err := m.current.Write(encoded); err != nil {
		return nil, errors.Wrapf(err, "append to logfile %s", m.current.Name())
	}

	if m.config.SyncOnWrite {
		if err := m.current.Sync(); err != nil {
			return nil, err
		}
	}
	return encoded, nil
}

func (m *Manager) writePrologueLocked(databaseID, collectionID uint64) error {
	prologue, err := marker.Encode(marker.Fields{
		Type:         marker.TypePrologue,
		Tick:         m.ticks.Next(),
		DatabaseID:   databaseID,
		CollectionID: collectionID,
	})
	if err != nil {
		return err
	}
	if _, err := m.current.Write(prologue); err != nil {
		return errors.Wrapf(err, "write prologue to logfile %s", m.current.Name())
	}
	m.lastDatabase, m.lastCollection = databaseID, collectionID
	return nil
}

// ensureLogfileLocked makes sure the current logfile has room for size
// bytes, sealing it and starting a new one if not.
func (m *Manager) ensureLogfileLocked(size uint32) error {
	if m.current != nil && m.current.Fits(size) {
		return nil
	}

	if m.current != nil {
		if err := m.current.Seal(m.ticks.Next()); err != nil {
			return errors.Wrapf(err, "seal logfile %s", m.current.Name())
		}
		m.logger.WithFields(logrus.Fields{
			"action": "wal_rotate",
			"fid":    m.current.Fid(),
		}).Debug("sealed logfile")
		m.current = nil
	}

	capacity := m.config.LogfileSize
	if needed := marker.AlignedSize(size) + datafile.Overhead; needed > capacity {
		capacity = needed
	}

	fid := m.ticks.Next()
	path := filepath.Join(m.config.Path, datafile.Name(datafile.PrefixLogfile, fid))
	d, err := datafile.Create(path, fid, capacity)
	if err != nil {
		return errors.Wrap(err, "create logfile")
	}

	m.current = d
	m.lastDatabase, m.lastCollection = 0, 0

	m.filesLock.Lock()
	m.logfiles = append(m.logfiles, d)
	n := len(m.logfiles)
	m.filesLock.Unlock()

	m.metrics.SetWalLogfiles(n)
	return nil
}

// Rotate seals the current logfile. The next append starts a new one.
func (m *Manager) Rotate() error {
	m.appendLock.Lock()
	defer m.appendLock.Unlock()

	if m.current == nil {
		return nil
	}
	if err := m.current.Seal(m.ticks.Next()); err != nil {
		return errors.Wrapf(err, "seal logfile %s", m.current.Name())
	}
	m.current = nil
	return nil
}

// Logfiles returns the logfiles in fid order.
func (m *Manager) Logfiles() []*datafile.Datafile {
	m.filesLock.RLock()
	defer m.filesLock.RUnlock()
	return append([]*datafile.Datafile(nil), m.logfiles...)
}

// TickRange returns the smallest and largest tick held by the log.
func (m *Manager) TickRange() (uint64, uint64) {
	var lo, hi uint64
	for _, d := range m.Logfiles() {
		if min := d.TickMin(); min != 0 && (lo == 0 || min < lo) {
			lo = min
		}
		if max := d.TickMax(); max > hi {
			hi = max
		}
	}
	return lo, hi
}

func (m *Manager) LastTick() uint64 {
	_, hi := m.TickRange()
	return hi
}

// logfilesFor returns the logfiles that may hold ticks of [tickStart,
// tickEnd) together with an observer that keeps them from being disposed of.
// fromTickIncluded tells whether no tick at or after tickStart has been
// pruned.
func (m *Manager) logfilesFor(tickStart, tickEnd uint64) ([]*datafile.Datafile, *ditch.Handle, bool) {
	m.filesLock.RLock()
	defer m.filesLock.RUnlock()

	h := m.ditches.Acquire(ditch.KindDocument)

	var files []*datafile.Datafile
	for _, d := range m.logfiles {
		if max := d.TickMax(); max != 0 && max < tickStart {
			continue
		}
		if d.Fid() >= tickEnd {
			break
		}
		files = append(files, d)
	}

	pruned := m.prunedTick.Load()
	return files, h, pruned == 0 || pruned < tickStart
}

// Prune disposes of sealed logfiles beyond the configured number of
// historic ones. Logfiles still scanned by a tail are closed once the tail
// is done. It returns the number of logfiles pruned.
func (m *Manager) Prune() int {
	m.filesLock.Lock()
	var sealed []*datafile.Datafile
	for _, d := range m.logfiles {
		if d.IsSealed() {
			sealed = append(sealed, d)
		}
	}
	excess := len(sealed) - m.config.HistoricLogfiles
	if excess <= 0 {
		m.filesLock.Unlock()
		return 0
	}

	obsolete := sealed[:excess]
	drop := make(map[*datafile.Datafile]bool, len(obsolete))
	for _, d := range obsolete {
		drop[d] = true
		if max := d.TickMax(); max > m.prunedTick.Load() {
			m.prunedTick.Store(max)
		}
	}
	remaining := m.logfiles[:0:0]
	for _, d := range m.logfiles {
		if !drop[d] {
			remaining = append(remaining, d)
		}
	}
	m.logfiles = remaining
	n := len(remaining)
	m.filesLock.Unlock()

	for _, d := range obsolete {
		d := d
		m.ditches.Defer(ditch.KindDrop, d.Fid(), func() {
			m.dropLogfile(d)
		})
	}

	m.metrics.SetWalLogfiles(n)
	m.logger.WithFields(logrus.Fields{
		"action":    "wal_prune",
		"pruned":    len(obsolete),
		"remaining": n,
	}).Debug("pruned logfiles")
	return len(obsolete)
}

func (m *Manager) dropLogfile(d *datafile.Datafile) {
	logger := m.logger.WithFields(logrus.Fields{"action": "wal_prune", "fid": d.Fid()})

	deleted := filepath.Join(m.config.Path, datafile.Name(datafile.PrefixDeleted, d.Fid()))
	if err := d.Rename(deleted); err != nil {
		logger.WithError(err).Error("cannot rename obsolete logfile")
	}
	if err := d.Close(); err != nil {
		logger.WithError(err).Error("cannot close obsolete logfile")
		return
	}
	if err := os.Remove(d.Path()); err != nil {
		logger.WithError(err).Error("cannot remove obsolete logfile")
	}
}

// PruneCallback runs Prune from a cycle manager.
func (m *Manager) PruneCallback() cyclemanager.CycleCallback {
	return func(shouldAbort cyclemanager.ShouldAbortCallback) bool {
		if m.closed.Load() || shouldAbort() {
			return false
		}
		return m.Prune() > 0
	}
}

// Close waits for running tails and closes all logfiles.
func (m *Manager) Close(ctx context.Context) error {
	m.appendLock.Lock()
	defer m.appendLock.Unlock()

	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := m.ditches.Wait(ctx); err != nil {
		return errors.Wrap(err, "wait for write-ahead log readers")
	}
	m.current = nil
	return m.closeFiles()
}

func (m *Manager) closeFiles() error {
	m.filesLock.Lock()
	defer m.filesLock.Unlock()

	var result *multierror.Error
	for _, d := range m.logfiles {
		if err := d.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	m.logfiles = nil
	return result.ErrorOrNil()
}
