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
	"github.com/weaviate/docstore/adapters/repos/db/collection"
	"github.com/weaviate/docstore/adapters/repos/db/ditch"
	"github.com/weaviate/docstore/entities/cyclemanager"
)

// CollectionSource lists the collections of one database.
type CollectionSource func() []*collection.Collection

// CycleCallback returns the compaction round over all collections of a
// database, to be driven by a cycle manager. The round reports whether any
// collection was compacted so that the manager comes back quickly.
func (cp *Compactor) CycleCallback(collections CollectionSource) cyclemanager.CycleCallback {
	return func(shouldAbort cyclemanager.ShouldAbortCallback) bool {
		if cp.config.Disabled {
			return false
		}

		worked := false
		for _, c := range collections() {
			if shouldAbort() {
				break
			}
			if cp.compactRound(c) {
				worked = true
			}
		}
		return worked
	}
}

// compactRound runs one throttled compaction attempt on c.
func (cp *Compactor) compactRound(c *collection.Collection) bool {
	if !c.Status().Writable() || !c.DoCompact() {
		return false
	}

	if !c.TryCompactionLock() {
		// someone else is preventing compaction
		return false
	}
	defer c.CompactionUnlock()

	if !c.Status().Writable() {
		return false
	}

	now := cp.now()
	if last := c.LastCompactionStamp(); !last.IsZero() &&
		last.Add(cp.config.CollectionInterval).After(now) {
		return false
	}
	if !cp.backoffFor(c).Ready() {
		return false
	}

	h := c.Ditches().Acquire(ditch.KindCompaction)
	defer h.Release()

	worked, wasBlocked := cp.CompactCollection(c)
	if !worked && !wasBlocked {
		// only throttle collections that were actually inspected
		c.SetLastCompactionStamp(now)
	}
	return worked
}
