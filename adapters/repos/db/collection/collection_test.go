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
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/docstore/adapters/repos/db/datafile"
	"github.com/weaviate/docstore/adapters/repos/db/tick"
	"github.com/weaviate/docstore/entities/storagestate"
)

func openTestCollection(t *testing.T, dir string, ticks *tick.Server) *Collection {
	logger, _ := test.NewNullLogger()
	if ticks == nil {
		ticks = tick.New(0)
	}
	c, err := Open(Config{
		DatabaseID:   1,
		DatabaseName: "db",
		ID:           2,
		Name:         "things",
		Path:         dir,
		JournalSize:  datafile.MinimalSize,
		DoCompact:    true,
		Ticks:        ticks,
	}, logger)
	require.Nil(t, err)
	return c
}

func closeTestCollection(t *testing.T, c *Collection) {
	require.Nil(t, c.Close(context.Background()))
}

func TestDocumentOperations(t *testing.T) {
	c := openTestCollection(t, t.TempDir(), nil)
	defer closeTestCollection(t, c)

	t.Run("insert and read", func(t *testing.T) {
		rev, err := c.Insert("k1", map[string]interface{}{"name": "alice"})
		require.Nil(t, err)
		assert.NotZero(t, rev)

		doc, err := c.Read("k1")
		require.Nil(t, err)
		assert.Equal(t, "k1", doc.Key)
		assert.Equal(t, rev, doc.Revision)
		assert.Equal(t, "alice", doc.Body["name"])
	})

	t.Run("insert existing key", func(t *testing.T) {
		_, err := c.Insert("k1", nil)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("replace", func(t *testing.T) {
		before, _ := c.Index().Lookup("k1")
		rev, err := c.Replace("k1", map[string]interface{}{"name": "bob"})
		require.Nil(t, err)
		assert.Greater(t, rev, before.Revision)

		doc, err := c.Read("k1")
		require.Nil(t, err)
		assert.Equal(t, "bob", doc.Body["name"])
	})

	t.Run("replace missing key", func(t *testing.T) {
		_, err := c.Replace("nope", nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("remove", func(t *testing.T) {
		_, err := c.Remove("k1")
		require.Nil(t, err)

		_, err = c.Read("k1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 0, c.NumberOfDocuments())

		_, err = c.Remove("k1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := c.Insert("", nil)
		assert.NotNil(t, err)
	})
}

func TestExecuteValidatesBatch(t *testing.T) {
	c := openTestCollection(t, t.TempDir(), nil)
	defer closeTestCollection(t, c)

	t.Run("operations see earlier operations of the batch", func(t *testing.T) {
		revs, err := c.Execute(7, []Operation{
			{Type: OpInsert, Key: "a"},
			{Type: OpReplace, Key: "a", Body: map[string]interface{}{"v": 2}},
			{Type: OpRemove, Key: "a"},
			{Type: OpInsert, Key: "a", Body: map[string]interface{}{"v": 3}},
		})
		require.Nil(t, err)
		assert.Len(t, revs, 4)

		doc, err := c.Read("a")
		require.Nil(t, err)
		assert.EqualValues(t, 3, doc.Body["v"])
	})

	t.Run("a failing operation rejects the whole batch", func(t *testing.T) {
		_, err := c.Execute(8, []Operation{
			{Type: OpInsert, Key: "b"},
			{Type: OpInsert, Key: "b"},
		})
		assert.ErrorIs(t, err, ErrConflict)

		_, err = c.Read("b")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestJournalRotation(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, nil)

	for i := 0; i < 200; i++ {
		_, err := c.Insert(fmt.Sprintf("key-%03d", i), map[string]interface{}{"i": i})
		require.Nil(t, err)
	}

	files := c.Files()
	require.Greater(t, len(files.Datafiles), 1, "small journals must have been rotated")
	require.NotNil(t, files.Journal)

	for i := 1; i < len(files.Datafiles); i++ {
		assert.Less(t, files.Datafiles[i-1].Fid(), files.Datafiles[i].Fid())
		assert.Less(t, files.Datafiles[i-1].TickMax(), files.Datafiles[i].TickMin())
	}
	for _, d := range files.Datafiles {
		assert.True(t, d.IsSealed())
		assert.Equal(t, datafile.Name(datafile.PrefixDatafile, d.Fid()), d.Name())
	}

	t.Run("oversize document gets its own journal", func(t *testing.T) {
		big := string(make([]byte, 3*datafile.MinimalSize))
		_, err := c.Insert("big", map[string]interface{}{"blob": big})
		require.Nil(t, err)

		doc, err := c.Read("big")
		require.Nil(t, err)
		assert.Equal(t, big, doc.Body["blob"])
	})

	t.Run("explicit rotation", func(t *testing.T) {
		require.Nil(t, c.RotateJournal())
		assert.Nil(t, c.Files().Journal)
		require.Nil(t, c.RotateJournal())
	})

	closeTestCollection(t, c)

	t.Run("reopen restores all documents", func(t *testing.T) {
		reopened := openTestCollection(t, dir, nil)
		defer closeTestCollection(t, reopened)

		assert.Equal(t, 201, reopened.NumberOfDocuments())
		doc, err := reopened.Read("key-123")
		require.Nil(t, err)
		assert.EqualValues(t, 123, doc.Body["i"])
		assert.Greater(t, reopened.Ticks().Current(), uint64(200))
	})
}

func TestStatisticsCollector(t *testing.T) {
	c := openTestCollection(t, t.TempDir(), nil)
	defer closeTestCollection(t, c)

	_, err := c.Insert("a", nil)
	require.Nil(t, err)
	_, err = c.Insert("b", nil)
	require.Nil(t, err)
	_, err = c.Replace("a", map[string]interface{}{"v": 1})
	require.Nil(t, err)
	_, err = c.Remove("b")
	require.Nil(t, err)

	fid := c.Files().Journal.Fid()
	before := c.Statistics().Get(fid)
	assert.Equal(t, int64(6), before.NumberUncollected)
	assert.Equal(t, int64(0), before.NumberAlive)

	assert.Equal(t, 6, c.CollectStatistics())
	assert.Equal(t, 0, c.Uncollected())

	after := c.Statistics().Get(fid)
	assert.Equal(t, int64(0), after.NumberUncollected)
	assert.Equal(t, int64(1), after.NumberAlive)
	assert.Equal(t, int64(2), after.NumberDead)
	assert.Equal(t, int64(1), after.NumberDeletions)
	assert.Greater(t, after.SizeAlive, int64(0))
	assert.Greater(t, after.SizeDead, int64(0))
}

func TestRecoveryStatisticsMatchCollector(t *testing.T) {
	dir := t.TempDir()
	c := openTestCollection(t, dir, nil)

	for i := 0; i < 50; i++ {
		_, err := c.Insert(fmt.Sprintf("k%d", i), map[string]interface{}{"i": i})
		require.Nil(t, err)
	}
	for i := 0; i < 50; i += 2 {
		_, err := c.Remove(fmt.Sprintf("k%d", i))
		require.Nil(t, err)
	}
	require.Nil(t, c.RotateJournal())
	c.CollectStatistics()
	expected := c.Statistics().All()
	closeTestCollection(t, c)

	reopened := openTestCollection(t, dir, nil)
	defer closeTestCollection(t, reopened)

	assert.Equal(t, expected, reopened.Statistics().All())
	assert.Equal(t, 25, reopened.NumberOfDocuments())
}

// twoDatafiles creates a collection with documents "a..." in the first and
// "b..." in the second sealed datafile and closes it.
func twoDatafiles(t *testing.T, dir string) (first, second uint64) {
	c := openTestCollection(t, dir, nil)
	_, err := c.Insert("a1", nil)
	require.Nil(t, err)
	require.Nil(t, c.RotateJournal())
	_, err = c.Insert("b1", nil)
	require.Nil(t, err)
	require.Nil(t, c.RotateJournal())

	files := c.Files()
	require.Len(t, files.Datafiles, 2)
	first, second = files.Datafiles[0].Fid(), files.Datafiles[1].Fid()
	closeTestCollection(t, c)
	return first, second
}

func copyFile(t *testing.T, from, to string) {
	raw, err := os.ReadFile(from)
	require.Nil(t, err)
	require.Nil(t, os.WriteFile(to, raw, 0o644))
}

func exists(t *testing.T, path string) bool {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	require.Nil(t, err)
	return true
}

func TestRecoveryOfLeftovers(t *testing.T) {
	t.Run("deleted files are removed", func(t *testing.T) {
		dir := t.TempDir()
		twoDatafiles(t, dir)
		leftover := filepath.Join(dir, datafile.Name(datafile.PrefixDeleted, 99))
		require.Nil(t, os.WriteFile(leftover, []byte("junk"), 0o644))

		c := openTestCollection(t, dir, nil)
		defer closeTestCollection(t, c)
		assert.False(t, exists(t, leftover))
		assert.Equal(t, 2, c.NumberOfDocuments())
	})

	t.Run("dead datafile is dropped", func(t *testing.T) {
		dir := t.TempDir()
		_, second := twoDatafiles(t, dir)
		path := filepath.Join(dir, datafile.Name(datafile.PrefixDatafile, second))
		require.Nil(t, os.WriteFile(datafile.DeadName(path), nil, 0o644))

		c := openTestCollection(t, dir, nil)
		defer closeTestCollection(t, c)

		assert.False(t, exists(t, path))
		assert.False(t, exists(t, datafile.DeadName(path)))
		_, err := c.Read("b1")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = c.Read("a1")
		assert.Nil(t, err)
	})

	t.Run("unfinished compaction is rolled back", func(t *testing.T) {
		dir := t.TempDir()
		first, second := twoDatafiles(t, dir)
		firstPath := filepath.Join(dir, datafile.Name(datafile.PrefixDatafile, first))
		secondPath := filepath.Join(dir, datafile.Name(datafile.PrefixDatafile, second))
		compactor := filepath.Join(dir, datafile.Name(datafile.PrefixCompaction, first))
		copyFile(t, firstPath, compactor)
		require.Nil(t, os.WriteFile(datafile.DeadName(secondPath), nil, 0o644))

		c := openTestCollection(t, dir, nil)
		defer closeTestCollection(t, c)

		assert.False(t, exists(t, compactor))
		assert.False(t, exists(t, datafile.DeadName(secondPath)))
		assert.True(t, exists(t, secondPath))
		assert.Equal(t, 2, c.NumberOfDocuments())
	})

	t.Run("interrupted swap promotes the compactor", func(t *testing.T) {
		dir := t.TempDir()
		first, _ := twoDatafiles(t, dir)
		firstPath := filepath.Join(dir, datafile.Name(datafile.PrefixDatafile, first))
		temp := filepath.Join(dir, datafile.Name(datafile.PrefixTemp, first))
		compactor := filepath.Join(dir, datafile.Name(datafile.PrefixCompaction, first))
		copyFile(t, firstPath, compactor)
		require.Nil(t, os.Rename(firstPath, temp))

		c := openTestCollection(t, dir, nil)
		defer closeTestCollection(t, c)

		assert.True(t, exists(t, firstPath))
		assert.False(t, exists(t, temp))
		assert.False(t, exists(t, compactor))
		assert.Equal(t, 2, c.NumberOfDocuments())
	})

	t.Run("journal is sealed", func(t *testing.T) {
		dir := t.TempDir()
		c := openTestCollection(t, dir, nil)
		_, err := c.Insert("j1", nil)
		require.Nil(t, err)
		fid := c.Files().Journal.Fid()
		closeTestCollection(t, c)

		reopened := openTestCollection(t, dir, nil)
		defer closeTestCollection(t, reopened)

		files := reopened.Files()
		assert.Nil(t, files.Journal)
		require.Len(t, files.Datafiles, 1)
		assert.Equal(t, fid, files.Datafiles[0].Fid())
		assert.True(t, files.Datafiles[0].IsSealed())
		assert.False(t, exists(t, filepath.Join(dir, datafile.Name(datafile.PrefixJournal, fid))))
	})
}

func TestLocks(t *testing.T) {
	c := openTestCollection(t, t.TempDir(), nil)
	defer closeTestCollection(t, c)

	t.Run("timed read lock gives up", func(t *testing.T) {
		c.BeginWrite()
		err := c.BeginReadTimed(20 * time.Millisecond)
		c.EndWrite()
		assert.ErrorIs(t, err, ErrLockTimeout)

		_, ok := func() (int, bool) {
			c.BeginWrite()
			defer c.EndWrite()
			return c.TryNumberOfDocuments()
		}()
		assert.False(t, ok)
	})

	t.Run("timed read lock", func(t *testing.T) {
		require.Nil(t, c.BeginReadTimed(time.Second))
		c.EndRead()
	})

	t.Run("prevent compaction", func(t *testing.T) {
		allow := c.PreventCompaction()
		assert.False(t, c.TryCompactionLock())
		allow()
		allow()

		require.True(t, c.TryCompactionLock())
		c.CompactionUnlock()
	})
}

func TestClose(t *testing.T) {
	c := openTestCollection(t, t.TempDir(), nil)
	_, err := c.Insert("a", nil)
	require.Nil(t, err)

	t.Run("close waits for readers", func(t *testing.T) {
		h := c.Ditches().Acquire(0)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, c.Close(ctx), context.DeadlineExceeded)
		h.Release()
	})

	require.Nil(t, c.Close(context.Background()))
	assert.Equal(t, storagestate.StatusUnloaded, c.Status())
	require.Nil(t, c.Close(context.Background()))
}
