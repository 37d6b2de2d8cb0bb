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
	"github.com/sirupsen/logrus"

	"github.com/weaviate/docstore/adapters/repos/db/stats"
)

// pendingUpdate is a statistics change that has been announced to the
// file's container through NumberUncollected but not applied yet.
type pendingUpdate struct {
	fid   uint64
	delta stats.Container
}

func (c *Collection) addPending(fid uint64, delta stats.Container) {
	if fid == 0 {
		return
	}
	c.stats.Update(fid, stats.Container{NumberUncollected: 1})
	delta.NumberUncollected = -1

	c.pendingLock.Lock()
	c.pending = append(c.pending, pendingUpdate{fid: fid, delta: delta})
	c.pendingLock.Unlock()
}

// Uncollected is the number of statistics changes not folded yet.
func (c *Collection) Uncollected() int {
	c.pendingLock.Lock()
	defer c.pendingLock.Unlock()
	return len(c.pending)
}

// CollectStatistics folds all pending changes into the per-file statistics
// and returns how many were applied. Changes for files that no longer exist
// are discarded.
func (c *Collection) CollectStatistics() int {
	c.pendingLock.Lock()
	pending := c.pending
	c.pending = nil
	c.pendingLock.Unlock()

	dropped := 0
	for _, p := range pending {
		if !c.stats.Update(p.fid, p.delta) {
			dropped++
		}
	}

	if dropped > 0 {
		c.logger.WithFields(logrus.Fields{
			"action":  "collector",
			"dropped": dropped,
		}).Debug("discarded statistics of removed datafiles")
	}
	return len(pending)
}
