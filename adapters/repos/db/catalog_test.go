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

package db

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	dir := t.TempDir()
	logger, _ := test.NewNullLogger()

	c, err := openCatalog(dir, logger)
	require.Nil(t, err)

	require.Nil(t, c.putDatabase(databaseRecord{ID: 1, Name: "a"}))
	require.Nil(t, c.putDatabase(databaseRecord{ID: 2, Name: "b"}))
	for _, rec := range []collectionRecord{
		{DatabaseID: 1, ID: 12, Name: "second", GUID: "g12"},
		{DatabaseID: 1, ID: 11, Name: "first", GUID: "g11", DoCompact: true, JournalSize: 4096},
		{DatabaseID: 2, ID: 21, Name: "other", GUID: "g21", IsSystem: true},
	} {
		require.Nil(t, c.putCollection(rec))
	}

	collections, err := c.collections(1)
	require.Nil(t, err)
	require.Len(t, collections, 2)
	assert.Equal(t, collectionRecord{
		DatabaseID: 1, ID: 11, Name: "first", GUID: "g11", DoCompact: true, JournalSize: 4096,
	}, collections[0])
	assert.Equal(t, uint64(12), collections[1].ID)

	t.Run("records survive reopening", func(t *testing.T) {
		require.Nil(t, c.close())
		c, err = openCatalog(dir, logger)
		require.Nil(t, err)

		databases, err := c.databases()
		require.Nil(t, err)
		assert.Equal(t, []databaseRecord{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}, databases)
	})

	t.Run("delete collection", func(t *testing.T) {
		require.Nil(t, c.deleteCollection(1, 12))
		collections, err := c.collections(1)
		require.Nil(t, err)
		require.Len(t, collections, 1)
		assert.Equal(t, "first", collections[0].Name)
	})

	t.Run("delete database removes its collections", func(t *testing.T) {
		require.Nil(t, c.putCollection(collectionRecord{DatabaseID: 1, ID: 13, Name: "third"}))
		require.Nil(t, c.deleteDatabase(1))

		collections, err := c.collections(1)
		require.Nil(t, err)
		assert.Empty(t, collections)

		collections, err = c.collections(2)
		require.Nil(t, err)
		assert.Len(t, collections, 1)

		databases, err := c.databases()
		require.Nil(t, err)
		assert.Equal(t, []databaseRecord{{ID: 2, Name: "b"}}, databases)
	})

	require.Nil(t, c.close())
}
