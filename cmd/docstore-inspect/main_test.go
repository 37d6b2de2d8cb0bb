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

package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/docstore/adapters/repos/db/datafile"
	"github.com/weaviate/docstore/adapters/repos/db/marker"
)

func runApp(t *testing.T, args ...string) (string, error) {
	logger, _ := test.NewNullLogger()
	app := newApp(logger)
	var out bytes.Buffer
	app.Writer = &out
	err := app.Run(append([]string{"docstore-inspect"}, args...))
	return out.String(), err
}

func TestMarkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), datafile.Name(datafile.PrefixLogfile, 1))
	d, err := datafile.Create(path, 1, 0)
	require.Nil(t, err)

	payload, err := marker.EncodeDocument(marker.Document{Key: "k1", Revision: 3})
	require.Nil(t, err)
	for _, f := range []marker.Fields{
		{Type: marker.TypePrologue, Tick: 2, DatabaseID: 7, CollectionID: 8},
		{Type: marker.TypeDocument, Tick: 3, TransactionID: 4, Payload: payload},
		{Type: marker.TypeCommitTransaction, Tick: 5, DatabaseID: 7, TransactionID: 4},
	} {
		m, err := marker.Encode(f)
		require.Nil(t, err)
		_, err = d.Write(m)
		require.Nil(t, err)
	}
	require.Nil(t, d.Seal(6))
	require.Nil(t, d.Close())

	out, err := runApp(t, "markers", path)
	require.Nil(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[0], "fid 1")
	assert.Contains(t, lines[0], "sealed: true")
	assert.Contains(t, lines[2], "db=7 cid=8")
	assert.Contains(t, lines[3], `key="k1" rev=3`)
	assert.Contains(t, lines[4], "db=7 tid=4")
	assert.NotContains(t, out, "CHECKSUM MISMATCH")

	_, err = runApp(t, "markers")
	assert.NotNil(t, err)
}

func TestConfig(t *testing.T) {
	out, err := runApp(t, "config")
	require.Nil(t, err)
	assert.Contains(t, out, "data_path: ./data")
	assert.Contains(t, out, "max_files: 3")
}
