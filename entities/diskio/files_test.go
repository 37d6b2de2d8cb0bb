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

package diskio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "datafile-1.db.dead")

	require.Nil(t, os.WriteFile(path, []byte("leftover"), 0o644))
	require.Nil(t, WriteEmptyFile(path))
	info, err := os.Stat(path)
	require.Nil(t, err)
	assert.Equal(t, int64(0), info.Size())

	require.Nil(t, SyncDir(dir))

	require.Nil(t, RemoveIfExists(path))
	require.Nil(t, RemoveIfExists(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.NotNil(t, SyncDir(filepath.Join(dir, "missing")))
}
