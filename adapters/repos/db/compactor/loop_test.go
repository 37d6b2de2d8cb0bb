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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/docstore/adapters/repos/db/collection"
	"github.com/weaviate/docstore/adapters/repos/db/datafile"
	"github.com/weaviate/docstore/usecases/config"
)

// supersededDatafile leaves c with a sealed datafile whose only document
// has been replaced in a later one.
func supersededDatafile(t *testing.T, c *collection.Collection) {
	_, err := c.Insert("a", body(1, 100))
	require.Nil(t, err)
	require.Nil(t, c.RotateJournal())
	_, err = c.Replace("a", body(2, 100))
	require.Nil(t, err)
	require.Nil(t, c.RotateJournal())
	c.CollectStatistics()
}

func TestCompactRoundThrottling(t *testing.T) {
	c := openCollection(t, t.TempDir(), datafile.MinimalSize)
	cp, _ := newTestCompactor(t, nil)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cp.now = func() time.Time { return now }

	_, err := c.Insert("seed", body(0, 10))
	require.Nil(t, err)
	require.Nil(t, c.RotateJournal())
	c.CollectStatistics()

	t.Run("inspected collection is stamped", func(t *testing.T) {
		assert.False(t, cp.compactRound(c))
		assert.Equal(t, now, c.LastCompactionStamp())
	})

	supersededDatafile(t, c)

	t.Run("stamp holds back the next inspection", func(t *testing.T) {
		assert.False(t, cp.compactRound(c))
		assert.Len(t, c.Files().Datafiles, 3)
	})

	now = now.Add(config.Default().Compaction.CollectionInterval + time.Second)

	t.Run("prevented compaction", func(t *testing.T) {
		release := c.PreventCompaction()
		assert.False(t, cp.compactRound(c))
		release()
		release()
	})

	t.Run("disabled for the collection", func(t *testing.T) {
		c.SetDoCompact(false)
		defer c.SetDoCompact(true)
		assert.False(t, cp.compactRound(c))
	})

	t.Run("backoff after failure", func(t *testing.T) {
		cp.failed(c)
		assert.False(t, cp.compactRound(c))
		cp.resetBackoff(c)
	})

	t.Run("elapsed interval compacts", func(t *testing.T) {
		stamp := c.LastCompactionStamp()
		assert.True(t, cp.compactRound(c))
		assert.Equal(t, stamp, c.LastCompactionStamp())

		files := c.Files()
		assert.Empty(t, files.Compactors)
		assert.Zero(t, c.Ditches().Pending())
		assert.Zero(t, c.Ditches().Outstanding())
	})

	t.Run("forget", func(t *testing.T) {
		cp.failed(c)
		assert.False(t, cp.backoffFor(c).Ready())
		cp.Forget(c)
		assert.True(t, cp.backoffFor(c).Ready())
	})
}

func TestCycleCallback(t *testing.T) {
	c := openCollection(t, t.TempDir(), datafile.MinimalSize)
	supersededDatafile(t, c)
	source := func() []*collection.Collection { return []*collection.Collection{c} }

	t.Run("disabled", func(t *testing.T) {
		cfg := config.Default().Compaction
		cfg.Disabled = true
		cp, _ := newTestCompactor(t, nil)
		cp.config = cfg
		assert.False(t, cp.CycleCallback(source)(func() bool { return false }))
		assert.Len(t, c.Files().Datafiles, 2)
	})

	t.Run("aborted", func(t *testing.T) {
		cp, _ := newTestCompactor(t, nil)
		assert.False(t, cp.CycleCallback(source)(func() bool { return true }))
		assert.Len(t, c.Files().Datafiles, 2)
	})

	t.Run("compacts", func(t *testing.T) {
		cp, _ := newTestCompactor(t, nil)
		assert.True(t, cp.CycleCallback(source)(func() bool { return false }))
		assert.Len(t, c.Files().Datafiles, 1)

		doc, err := c.Read("a")
		require.Nil(t, err)
		assert.EqualValues(t, 2, doc.Body["n"])
	})
}
