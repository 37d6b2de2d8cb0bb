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
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/weaviate/docstore/adapters/repos/db/datafile"
	"github.com/weaviate/docstore/adapters/repos/db/marker"
	"github.com/weaviate/docstore/adapters/repos/db/primaryindex"
	"github.com/weaviate/docstore/adapters/repos/db/stats"
	"github.com/weaviate/docstore/entities/diskio"
)

// fileSet groups the files found for one fid by their role.
type fileSet map[datafile.Prefix]string

// recover brings the collection directory into a consistent state and loads
// it:
//   - deleted-* files are leftovers of interrupted disposals and are removed
//   - a datafile with a .dead sibling has been subsumed by a compactor file
//     and is dropped, unless that compaction never got swapped in
//   - compaction-X next to datafile-X is an unfinished compaction, the
//     datafile wins
//   - compaction-X next to temp-X is an interrupted swap, the compactor wins
//   - journals are sealed
func (c *Collection) recover() error {
	entries, err := os.ReadDir(c.config.Path)
	if err != nil {
		return errors.Wrapf(err, "read collection directory %s", c.config.Path)
	}

	sets := map[uint64]fileSet{}
	dead := map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if orig, ok := datafile.IsDeadName(name); ok {
			dead[orig] = true
			continue
		}
		prefix, fid, ok := datafile.ParseName(name)
		if !ok {
			continue
		}
		if prefix == datafile.PrefixDeleted {
			c.removeLeftover(name)
			continue
		}
		if sets[fid] == nil {
			sets[fid] = fileSet{}
		}
		sets[fid][prefix] = name
	}

	fids := make([]uint64, 0, len(sets))
	for fid := range sets {
		fids = append(fids, fid)
	}
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })

	// compactions that were never swapped in, they roll back the .dead
	// markers of the files they would have subsumed
	var unfinished []uint64
	for _, fid := range fids {
		set := sets[fid]
		if _, ok := set[datafile.PrefixCompaction]; ok {
			if _, ok := set[datafile.PrefixDatafile]; ok {
				unfinished = append(unfinished, fid)
			}
		}
	}
	rolledBack := func(fid uint64) bool {
		for _, u := range unfinished {
			if u <= fid {
				return true
			}
		}
		return false
	}

	for _, fid := range fids {
		set := sets[fid]
		name, err := c.resolve(fid, set)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}

		deadName := datafile.DeadName(name)
		if dead[name] {
			if !rolledBack(fid) {
				c.removeLeftover(name)
				c.removeLeftover(deadName)
				continue
			}
			c.removeLeftover(deadName)
		}

		d, err := datafile.Open(filepath.Join(c.config.Path, name))
		if err != nil {
			return err
		}
		if d.Fid() != fid {
			d.Close()
			return errors.Wrapf(datafile.ErrCorrupt, "%s has fid %d in its header", name, d.Fid())
		}
		if !d.IsSealed() {
			if err := d.Seal(c.ticks.Next()); err != nil {
				d.Close()
				return errors.Wrapf(err, "seal %s", name)
			}
		}
		c.datafiles = append(c.datafiles, d)
	}

	// .dead markers without a file
	for orig := range dead {
		c.removeLeftover(datafile.DeadName(orig))
	}

	for _, d := range c.datafiles {
		if err := c.load(d); err != nil {
			return err
		}
	}
	return nil
}

// resolve settles the files of one fid and returns the name of the datafile
// to load, or "" if there is none.
func (c *Collection) resolve(fid uint64, set fileSet) (string, error) {
	target := datafile.Name(datafile.PrefixDatafile, fid)

	if _, ok := set[datafile.PrefixDatafile]; ok {
		// an unfinished compaction, or a completed swap whose old file was
		// not disposed of yet
		if name, ok := set[datafile.PrefixCompaction]; ok {
			c.removeLeftover(name)
		}
		if name, ok := set[datafile.PrefixTemp]; ok {
			c.removeLeftover(name)
		}
		return target, nil
	}

	if name, ok := set[datafile.PrefixCompaction]; ok {
		if err := c.promote(name, target); err != nil {
			return "", err
		}
		if name, ok := set[datafile.PrefixTemp]; ok {
			c.removeLeftover(name)
		}
		return target, nil
	}

	if name, ok := set[datafile.PrefixTemp]; ok {
		if err := c.promote(name, target); err != nil {
			return "", err
		}
		return target, nil
	}

	if name, ok := set[datafile.PrefixJournal]; ok {
		if err := c.promote(name, target); err != nil {
			return "", err
		}
		return target, nil
	}

	return "", nil
}

func (c *Collection) promote(name, target string) error {
	from := filepath.Join(c.config.Path, name)
	to := filepath.Join(c.config.Path, target)
	if err := os.Rename(from, to); err != nil {
		return errors.Wrapf(err, "rename %s to %s", name, target)
	}
	if err := diskio.SyncDir(c.config.Path); err != nil {
		return err
	}
	c.logger.WithFields(logrus.Fields{
		"action": "collection_open",
		"path":   to,
	}).Infof("recovered %s as %s", name, target)
	return nil
}

func (c *Collection) removeLeftover(name string) {
	path := filepath.Join(c.config.Path, name)
	if err := diskio.RemoveIfExists(path); err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "collection_open",
			"path":   path,
		}).WithError(err).Warn("cannot remove leftover file")
		return
	}
	c.logger.WithFields(logrus.Fields{
		"action": "collection_open",
		"path":   path,
	}).Debug("removed leftover file")
}

// load adds the markers of d to the index and the statistics.
func (c *Collection) load(d *datafile.Datafile) error {
	fid := d.Fid()
	c.stats.Create(fid)
	c.ticks.Observe(fid)

	var scanErr error
	err := d.Iterate(func(m marker.Marker, loc datafile.Location) bool {
		c.ticks.Observe(m.Tick())
		if !m.Type().IsData() {
			return true
		}

		key, rev, err := marker.DocumentKey(m)
		if err != nil {
			scanErr = errors.Wrapf(err, "datafile %s at %s", d.Name(), loc)
			return false
		}
		c.ticks.Observe(rev)

		var old primaryindex.Position
		var existed bool
		if m.Type() == marker.TypeDocument {
			old, existed = c.index.Insert(key, primaryindex.Position{Revision: rev, Location: loc})
			c.stats.Update(fid, stats.Container{NumberAlive: 1, SizeAlive: int64(m.AlignedSize())})
		} else {
			old, existed = c.index.Remove(key)
			c.stats.Update(fid, stats.Container{NumberDeletions: 1})
		}
		if existed {
			var size int64
			if om, ok := old.Location.Marker(); ok {
				size = int64(om.AlignedSize())
			}
			c.stats.Update(old.Location.Fid(), stats.Container{
				NumberAlive: -1,
				SizeAlive:   -size,
				NumberDead:  1,
				SizeDead:    size,
			})
		}
		return true
	})
	if err != nil {
		return err
	}
	return scanErr
}
