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
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/weaviate/docstore/adapters/repos/db/datafile"
)

// Files is a snapshot of the collection's file lists.
type Files struct {
	// Datafiles are the sealed datafiles in fid order.
	Datafiles  []*datafile.Datafile
	Journal    *datafile.Datafile
	Compactors []*datafile.Datafile
}

func (c *Collection) filesLocked() Files {
	f := Files{
		Datafiles:  make([]*datafile.Datafile, len(c.datafiles)),
		Journal:    c.journal,
		Compactors: make([]*datafile.Datafile, len(c.compactors)),
	}
	copy(f.Datafiles, c.datafiles)
	copy(f.Compactors, c.compactors)
	return f
}

func (c *Collection) Files() Files {
	c.filesLock.RLock()
	defer c.filesLock.RUnlock()
	return c.filesLocked()
}

// TryFiles is like Files but gives up instead of waiting for the file lists
// lock.
func (c *Collection) TryFiles() (Files, bool) {
	if !c.filesLock.TryRLock() {
		return Files{}, false
	}
	defer c.filesLock.RUnlock()
	return c.filesLocked(), true
}

// CreateCompactor creates the compactor file that the datafile with the
// given fid is compacted into.
func (c *Collection) CreateCompactor(fid uint64, size uint32) (*datafile.Datafile, error) {
	c.filesLock.Lock()
	defer c.filesLock.Unlock()

	d, err := c.createFileLocked(datafile.PrefixCompaction, fid, size)
	if err != nil {
		return nil, errors.Wrap(err, "create compactor")
	}
	c.compactors = append(c.compactors, d)
	c.reportFilesLocked()
	return d, nil
}

// CloseCompactor seals a compactor file once all markers have been copied.
func (c *Collection) CloseCompactor(d *datafile.Datafile) error {
	if err := d.Seal(c.ticks.Next()); err != nil {
		return errors.Wrapf(err, "seal compactor %s", d.Name())
	}
	return nil
}

// RemoveCompactor discards a compactor file.
func (c *Collection) RemoveCompactor(d *datafile.Datafile) error {
	c.filesLock.Lock()
	c.compactors = without(c.compactors, d)
	c.reportFilesLocked()
	c.filesLock.Unlock()

	path := d.Path()
	if err := d.Close(); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return errors.Wrapf(err, "remove compactor %s", path)
	}
	return nil
}

// RemoveDatafile takes d out of the datafile list. The file itself is left
// to the caller.
func (c *Collection) RemoveDatafile(d *datafile.Datafile) bool {
	c.filesLock.Lock()
	defer c.filesLock.Unlock()

	n := len(c.datafiles)
	c.datafiles = without(c.datafiles, d)
	c.reportFilesLocked()
	return len(c.datafiles) != n
}

// ReplaceDatafileWithCompactor puts compactor into the datafile list at the
// position of d.
func (c *Collection) ReplaceDatafileWithCompactor(d, compactor *datafile.Datafile) bool {
	c.filesLock.Lock()
	defer c.filesLock.Unlock()

	for i, df := range c.datafiles {
		if df == d {
			c.datafiles[i] = compactor
			c.compactors = without(c.compactors, compactor)
			c.reportFilesLocked()
			return true
		}
	}
	return false
}

func without(files []*datafile.Datafile, d *datafile.Datafile) []*datafile.Datafile {
	out := files[:0]
	for _, f := range files {
		if f != d {
			out = append(out, f)
		}
	}
	for i := len(out); i < len(files); i++ {
		files[i] = nil
	}
	return out
}

// CompactionStatus is the outcome of the last compaction round and when it
// was recorded.
func (c *Collection) CompactionStatus() (string, time.Time) {
	c.metaLock.Lock()
	defer c.metaLock.Unlock()
	return c.compactionStatus, c.compactionStatusTime
}

func (c *Collection) SetCompactionStatus(reason string) {
	c.metaLock.Lock()
	defer c.metaLock.Unlock()
	c.compactionStatus = reason
	c.compactionStatusTime = time.Now()
}

func (c *Collection) LastCompactionStamp() time.Time {
	c.metaLock.Lock()
	defer c.metaLock.Unlock()
	return c.lastCompactionStamp
}

func (c *Collection) SetLastCompactionStamp(t time.Time) {
	c.metaLock.Lock()
	defer c.metaLock.Unlock()
	c.lastCompactionStamp = t
}

// NextCompactionStartIndex is where the next selection resumes in the
// datafile list.
func (c *Collection) NextCompactionStartIndex() int {
	c.metaLock.Lock()
	defer c.metaLock.Unlock()
	return c.nextCompactionStartIndex
}

func (c *Collection) SetNextCompactionStartIndex(i int) {
	c.metaLock.Lock()
	defer c.metaLock.Unlock()
	c.nextCompactionStartIndex = i
}
