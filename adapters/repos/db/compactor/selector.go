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
	"github.com/weaviate/docstore/adapters/repos/db/stats"
	"github.com/weaviate/docstore/usecases/config"
)

const (
	// minResultSize is the lower bound of the maximum result file size.
	minResultSize = 8 * config.MiB
	// assumedDocuments stands in for unknown liveness: of the files before
	// a resumed scan, and of the collection when its document count can
	// not be taken without waiting.
	assumedDocuments = 16384
)

// FileInfo is what the selector knows about one sealed datafile.
type FileInfo struct {
	Fid         uint64
	MaximalSize uint64
	Stats       stats.Container
}

// Options are the selection thresholds.
type Options struct {
	JournalSize         uint64
	MaxSizeFactor       float64
	MaxResultFilesize   uint64
	SmallDatafileSize   uint64
	DeadSizeThreshold   int64
	DeadShare           float64
	DeadNumberThreshold int64
	MaxFiles            int
}

func OptionsFromConfig(c config.Compaction, journalSize uint32) Options {
	return Options{
		JournalSize:         uint64(journalSize),
		MaxSizeFactor:       c.MaxSizeFactor,
		MaxResultFilesize:   c.MaxResultFilesize,
		SmallDatafileSize:   c.SmallDatafileSize,
		DeadSizeThreshold:   c.DeadSizeThreshold,
		DeadShare:           c.DeadShare,
		DeadNumberThreshold: c.DeadNumberThreshold,
		MaxFiles:            c.MaxFiles,
	}
}

// MaxResultSize is the size at which the selector stops adding files.
func (o Options) MaxResultSize() uint64 {
	maxSize := uint64(o.MaxSizeFactor * float64(o.JournalSize))
	if maxSize < minResultSize {
		maxSize = minResultSize
	}
	if maxSize >= o.MaxResultFilesize {
		maxSize = o.MaxResultFilesize
	}
	return maxSize
}

// Candidate is one selected datafile.
type Candidate struct {
	// Index is the position in the datafile list passed to Select.
	Index int
	Fid   uint64
	// Reason is why the file was selected. Files appended to a running
	// selection without a reason of their own inherit the previous one.
	Reason Reason
	// KeepDeletions tells whether removal markers of the file must survive.
	KeepDeletions bool
}

type Selection struct {
	Reason     Reason
	Candidates []Candidate
	// NextStart is where the next selection resumes.
	NextStart int
	TotalSize uint64
}

// Select chooses a run of consecutive datafiles to compact. files must be
// the sealed datafiles in fid order, start the resume index of the previous
// round and numDocuments the number of live documents of the collection.
func Select(files []FileInfo, start int, numDocuments int, opts Options) Selection {
	n := len(files)
	if n == 0 {
		return Selection{Reason: ReasonNoDatafiles}
	}

	maxSize := opts.MaxResultSize()
	if start >= n || start < 0 || numDocuments == 0 {
		start = 0
	}

	var numAlive int64
	if start > 0 {
		numAlive = assumedDocuments
	}

	var (
		sel       Selection
		doCompact bool
		reason    Reason
	)

	for i := start; i < n; i++ {
		f := files[i]
		dfi := f.Stats

		if dfi.NumberUncollected > 0 {
			// resume at this file once its statistics are complete
			start = i
			break
		}

		switch {
		case !doCompact && f.MaximalSize < opts.SmallDatafileSize && i < n-1:
			doCompact, reason = true, ReasonDatafileSmall
		case numDocuments == 0 &&
			(dfi.NumberAlive > 0 || dfi.NumberDead > 0 || dfi.NumberDeletions > 0):
			doCompact, reason = true, ReasonEmpty
		case numAlive == 0 && dfi.NumberAlive == 0 && dfi.NumberDeletions > 0:
			doCompact, reason = true, ReasonOnlyDeletions
		case dfi.SizeDead >= opts.DeadSizeThreshold:
			doCompact, reason = true, ReasonDeadSize
		case dfi.SizeDead > 0 && deadShare(dfi, f.MaximalSize) >= opts.DeadShare:
			doCompact, reason = true, ReasonDeadSizeShare
		case dfi.NumberDead >= opts.DeadNumberThreshold:
			doCompact, reason = true, ReasonDeadCount
		}

		if !doCompact {
			numAlive += dfi.NumberAlive
			continue
		}

		start = i + 1

		// deletions only shrink the result, so size limits do not apply
		if reason != ReasonOnlyDeletions {
			if len(sel.Candidates) > 0 &&
				sel.TotalSize+f.MaximalSize >= maxSize &&
				(len(sel.Candidates) != 1 || reason != ReasonDatafileSmall) {
				break
			}
		}

		sel.TotalSize += f.MaximalSize
		sel.Candidates = append(sel.Candidates, Candidate{
			Index:         i,
			Fid:           f.Fid,
			Reason:        reason,
			KeepDeletions: numAlive > 0 && i > 0,
		})

		if sel.TotalSize >= maxSize {
			break
		}
		if sel.TotalSize >= opts.SmallDatafileSize && len(sel.Candidates) >= opts.MaxFiles {
			break
		}

		numAlive += dfi.NumberAlive
	}

	if len(sel.Candidates) == 0 {
		sel.Reason = ReasonNothingToCompact
		sel.NextStart = 0
		return sel
	}

	sel.Reason = reason
	sel.NextStart = start
	return sel
}

// deadShare is the larger of the dead share of the file's objects and of its
// capacity.
func deadShare(dfi stats.Container, maximalSize uint64) float64 {
	share := float64(dfi.SizeDead) / (float64(dfi.SizeDead) + float64(dfi.SizeAlive))
	if maximalSize > 0 {
		if s := float64(dfi.SizeDead) / float64(maximalSize); s > share {
			share = s
		}
	}
	return share
}
