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

package compactor

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/docstore/adapters/repos/db/collection"
	"github.com/weaviate/docstore/adapters/repos/db/datafile"
	"github.com/weaviate/docstore/adapters/repos/db/ditch"
	"github.com/weaviate/docstore/adapters/repos/db/marker"
	"github.com/weaviate/docstore/adapters/repos/db/stats"
	"github.com/weaviate/docstore/entities/diskio"
	"github.com/weaviate/docstore/entities/interval"
	"github.com/weaviate/docstore/usecases/config"
	"github.com/weaviate/docstore/usecases/mmap"
	"github.com/weaviate/docstore/usecases/monitoring"
)

// FatalHandler receives errors after which the process must not continue,
// such as a failed write into a compactor file that was sized for exactly
// the data being copied.
type FatalHandler func(err error)

// Compactor merges the live contents of sealed datafiles into compactor
// files and retires the originals through ditches.
type Compactor struct {
	config  config.Compaction
	logger  logrus.FieldLogger
	metrics *monitoring.PrometheusMetrics
	fatal   FatalHandler

	backoffLock sync.Mutex
	backoffs    map[*collection.Collection]*interval.Backoff

	now func() time.Time
}

func New(cfg config.Compaction, logger logrus.FieldLogger,
	metrics *monitoring.PrometheusMetrics,
) *Compactor {
	logger = logger.WithField("action", "compaction")
	return &Compactor{
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		fatal: func(err error) {
			logger.WithError(err).Fatal("cannot write compactor file")
		},
		backoffs: map[*collection.Collection]*interval.Backoff{},
		now:      time.Now,
	}
}

// SetFatalHandler replaces the default handler, which exits the process.
func (cp *Compactor) SetFatalHandler(h FatalHandler) {
	cp.fatal = h
}

// candidate is a selected datafile resolved to its file.
type candidate struct {
	datafile      *datafile.Datafile
	keepDeletions bool
}

// CompactCollection inspects c and compacts one run of datafiles if the
// statistics call for it. worked reports whether files were compacted,
// wasBlocked whether the collection could not be inspected this time.
func (cp *Compactor) CompactCollection(c *collection.Collection) (worked, wasBlocked bool) {
	files, ok := c.TryFiles()
	if !ok {
		return false, true
	}

	if len(files.Compactors) > 0 {
		cp.setStatus(c, ReasonCompactionBlocked)
		return false, true
	}

	if len(files.Datafiles) == 0 {
		cp.setStatus(c, ReasonNoDatafiles)
		return false, false
	}

	numDocuments, ok := c.TryNumberOfDocuments()
	if !ok {
		numDocuments = assumedDocuments
	}

	infos := make([]FileInfo, len(files.Datafiles))
	for i, d := range files.Datafiles {
		infos[i] = FileInfo{
			Fid:         d.Fid(),
			MaximalSize: uint64(d.MaximalSize()),
			Stats:       c.Statistics().Get(d.Fid()),
		}
	}

	sel := Select(infos, c.NextCompactionStartIndex(), numDocuments,
		OptionsFromConfig(cp.config, c.JournalSize()))

	c.SetNextCompactionStartIndex(sel.NextStart)
	cp.setStatus(c, sel.Reason)
	if len(sel.Candidates) == 0 {
		return false, false
	}

	toCompact := make([]candidate, len(sel.Candidates))
	for i, cand := range sel.Candidates {
		toCompact[i] = candidate{
			datafile:      files.Datafiles[cand.Index],
			keepDeletions: cand.KeepDeletions,
		}
	}

	cp.compactDatafiles(c, toCompact, sel.Reason)
	return true, false
}

func (cp *Compactor) setStatus(c *collection.Collection, reason Reason) {
	c.SetCompactionStatus(reason.String())
	cp.logger.WithFields(logrus.Fields{
		"database":   c.DatabaseName(),
		"collection": c.Name(),
		"reason":     reason.Label(),
	}).Debug(reason.String())
	if !reason.Compacts() {
		cp.metrics.CompactionSkipped(c.DatabaseName(), c.Name(), reason.Label())
	}
}

// sizeContext is the result of the size pass.
type sizeContext struct {
	fid        uint64
	targetSize uint64
}

// calculateSize walks the candidates under the shared collection lock and
// sums up the space needed by the markers that will be copied.
func (cp *Compactor) calculateSize(c *collection.Collection, toCompact []candidate) (sizeContext, error) {
	ctx := sizeContext{
		fid:        toCompact[0].datafile.Fid(),
		targetSize: datafile.Overhead + 256,
	}

	for _, cand := range toCompact {
		df := cand.datafile
		cp.advise(df, mmap.AdviceSequential)
		cp.advise(df, mmap.AdviceWillNeed)

		keepDeletions := cand.keepDeletions
		var scanErr error
		err := c.BeginReadTimed(cp.config.ReadLockTimeout)
		if err == nil {
			err = df.Iterate(func(m marker.Marker, loc datafile.Location) bool {
				switch m.Type() {
				case marker.TypeDocument:
					key, _, keyErr := marker.DocumentKey(m)
					if keyErr != nil {
						scanErr = keyErr
						return false
					}
					if !c.Index().IsCurrent(key, loc) {
						return true
					}
					keepDeletions = true
					ctx.targetSize += uint64(m.AlignedSize())
				case marker.TypeRemove:
					if keepDeletions {
						ctx.targetSize += uint64(m.AlignedSize())
					}
				}
				return true
			})
			c.EndRead()
			if err == nil {
				err = scanErr
			}
		}

		cp.advise(df, mmap.AdviceRandom)

		if err != nil {
			return ctx, errors.Wrapf(err, "calculate compaction size of %s", df.Name())
		}
	}

	if ctx.targetSize > uint64(^uint32(0)) {
		return ctx, errors.Errorf("compaction target size %d too large", ctx.targetSize)
	}
	return ctx, nil
}

func (cp *Compactor) advise(df *datafile.Datafile, advice mmap.Advice) {
	if err := df.Advise(advice); err != nil {
		cp.logger.WithField("path", df.Path()).WithError(err).
			Trace("cannot advise kernel about datafile access")
	}
}

// compactDatafiles copies the live markers of toCompact into a new
// compactor file, relocates their index entries and retires the originals.
func (cp *Compactor) compactDatafiles(c *collection.Collection, toCompact []candidate, reason Reason) {
	started := cp.now()
	logger := cp.logger.WithFields(logrus.Fields{
		"database":   c.DatabaseName(),
		"collection": c.Name(),
	})

	sizes, err := cp.calculateSize(c, toCompact)
	if err != nil {
		logger.WithError(err).Error("cannot compact datafiles")
		cp.failed(c)
		return
	}

	compactor, err := c.CreateCompactor(sizes.fid, uint32(sizes.targetSize))
	if err != nil {
		logger.WithError(err).Error("cannot create compactor file")
		cp.failed(c)
		return
	}

	logger.WithFields(logrus.Fields{
		"fid":    sizes.fid,
		"files":  len(toCompact),
		"target": sizes.targetSize,
	}).Debug("created compactor file")

	dfi, ok := cp.copyLive(c, compactor, toCompact)
	if !ok {
		return
	}

	for _, cand := range toCompact[1:] {
		c.Statistics().Remove(cand.datafile.Fid())
	}

	if err := c.CloseCompactor(compactor); err != nil {
		logger.WithError(err).Error("cannot close compactor file")
		return
	}

	var inputSize uint64
	for _, cand := range toCompact {
		inputSize += uint64(cand.datafile.MaximalSize())
	}

	if dfi.NumberAlive == 0 && dfi.NumberDead == 0 && dfi.NumberDeletions == 0 {
		cp.finishEmpty(c, compactor, toCompact)
	} else {
		cp.finishSwap(c, compactor, toCompact)
		if size := uint64(compactor.MaximalSize()); size < inputSize {
			inputSize -= size
		} else {
			inputSize = 0
		}
	}

	cp.resetBackoff(c)
	cp.metrics.CompactionFinished(c.DatabaseName(), c.Name(), reason.Label(),
		cp.now().Sub(started), inputSize)
	logger.WithFields(logrus.Fields{
		"fid":    sizes.fid,
		"files":  len(toCompact),
		"alive":  dfi.NumberAlive,
		"dead":   dfi.NumberDead,
		"reason": reason.Label(),
		"took":   cp.now().Sub(started),
	}).Debug("compacted datafiles")
}

// copyLive is the copy pass. It runs under the exclusive collection lock so
// that liveness can not change while markers are copied and relocated.
func (cp *Compactor) copyLive(c *collection.Collection, compactor *datafile.Datafile,
	toCompact []candidate,
) (stats.Container, bool) {
	c.BeginWrite()
	// pending changes of the candidates would otherwise be applied on top of
	// the replacement statistics
	c.CollectStatistics()

	var dfi stats.Container
	var copyErr error

	for _, cand := range toCompact {
		df := cand.datafile
		keepDeletions := cand.keepDeletions

		err := df.Iterate(func(m marker.Marker, loc datafile.Location) bool {
			switch m.Type() {
			case marker.TypeDocument:
				key, _, err := marker.DocumentKey(m)
				if err != nil {
					copyErr = err
					return false
				}
				if !c.Index().IsCurrent(key, loc) {
					dfi.NumberDead++
					dfi.SizeDead += int64(m.AlignedSize())
					return true
				}

				keepDeletions = true
				to, err := compactor.Write(m)
				if err != nil {
					copyErr = errors.Wrapf(err, "copy document %q into %s", key, compactor.Name())
					return false
				}
				if !c.Index().Relocate(key, loc, to) {
					copyErr = errors.Errorf("relocate document %q from %s to %s", key, loc, to)
					return false
				}
				dfi.NumberAlive++
				dfi.SizeAlive += int64(m.AlignedSize())
			case marker.TypeRemove:
				if !keepDeletions {
					return true
				}
				if _, err := compactor.Write(m); err != nil {
					copyErr = errors.Wrapf(err, "copy removal into %s", compactor.Name())
					return false
				}
				dfi.NumberDeletions++
			}
			return true
		})
		if copyErr == nil && err != nil {
			copyErr = errors.Wrapf(err, "iterate %s", df.Name())
		}
		if copyErr != nil {
			break
		}
	}

	if copyErr != nil {
		c.EndWrite()
		cp.fatal(copyErr)
		return dfi, false
	}

	c.Statistics().Replace(compactor.Fid(), dfi)
	c.EndWrite()
	return dfi, true
}

// finishEmpty retires all candidates when nothing survived compaction.
func (cp *Compactor) finishEmpty(c *collection.Collection, compactor *datafile.Datafile, toCompact []candidate) {
	if len(toCompact) > 1 {
		for _, cand := range toCompact {
			cp.writeDeadMarker(cand.datafile)
		}
	}

	if err := c.RemoveCompactor(compactor); err != nil {
		cp.logger.WithField("path", compactor.Path()).WithError(err).
			Error("cannot remove empty compactor file")
	}

	for _, cand := range toCompact {
		cp.retire(c, cand.datafile)
	}
}

// finishSwap schedules the compactor to replace the first candidate and
// retires the others.
func (cp *Compactor) finishSwap(c *collection.Collection, compactor *datafile.Datafile, toCompact []candidate) {
	for _, cand := range toCompact[1:] {
		cp.writeDeadMarker(cand.datafile)
	}

	first := toCompact[0].datafile
	c.Ditches().Defer(ditch.KindRename, first.Fid(), func() {
		cp.renameDatafile(c, first, compactor)
	})

	for _, cand := range toCompact[1:] {
		cp.retire(c, cand.datafile)
	}
}

// retire takes df out of the collection and defers its disposal until no
// observer can reach it anymore.
func (cp *Compactor) retire(c *collection.Collection, df *datafile.Datafile) {
	if !c.RemoveDatafile(df) {
		cp.logger.WithField("fid", df.Fid()).Error("cannot locate datafile to remove")
		return
	}
	c.Statistics().Remove(df.Fid())
	c.Ditches().Defer(ditch.KindDrop, df.Fid(), func() {
		cp.dropDatafile(c, df)
	})
}

func (cp *Compactor) writeDeadMarker(df *datafile.Datafile) {
	path := datafile.DeadName(df.Path())
	if err := diskio.WriteEmptyFile(path); err != nil {
		cp.logger.WithField("path", path).WithError(err).Error("cannot write dead marker file")
	}
}

func (cp *Compactor) backoffFor(c *collection.Collection) *interval.Backoff {
	cp.backoffLock.Lock()
	defer cp.backoffLock.Unlock()

	b, ok := cp.backoffs[c]
	if !ok {
		b = interval.NewBackoff()
		cp.backoffs[c] = b
	}
	return b
}

func (cp *Compactor) failed(c *collection.Collection) {
	cp.backoffFor(c).Failed()
}

func (cp *Compactor) resetBackoff(c *collection.Collection) {
	cp.backoffFor(c).Reset()
}

// Forget drops the state kept for a collection that was unloaded.
func (cp *Compactor) Forget(c *collection.Collection) {
	cp.backoffLock.Lock()
	defer cp.backoffLock.Unlock()
	delete(cp.backoffs, c)
}
