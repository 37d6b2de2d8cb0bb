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

package wal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/docstore/adapters/repos/db/datafile"
	"github.com/weaviate/docstore/adapters/repos/db/marker"
	"github.com/weaviate/docstore/adapters/repos/db/tick"
	"github.com/weaviate/docstore/usecases/monitoring"
)

func openTestManager(t *testing.T, dir string, ticks *tick.Server, historic int) *Manager {
	logger, _ := test.NewNullLogger()
	m, err := Open(Config{
		Path:             dir,
		LogfileSize:      datafile.MinimalSize,
		HistoricLogfiles: historic,
		Ticks:            ticks,
	}, logger)
	require.Nil(t, err)
	t.Cleanup(func() {
		require.Nil(t, m.Close(context.Background()))
	})
	return m
}

func documentFields(t *testing.T, key string, tid uint64, padding int) marker.Fields {
	payload, err := marker.EncodeDocument(marker.Document{
		Key:  key,
		Body: map[string]interface{}{"pad": strings.Repeat("x", padding)},
	})
	require.Nil(t, err)
	return marker.Fields{Type: marker.TypeDocument, TransactionID: tid, Payload: payload}
}

func markerTypes(t *testing.T, d *datafile.Datafile) []marker.Type {
	var types []marker.Type
	require.Nil(t, d.Iterate(func(m marker.Marker, _ datafile.Location) bool {
		types = append(types, m.Type())
		return true
	}))
	return types
}

func TestAppendWritesPrologues(t *testing.T) {
	m := openTestManager(t, t.TempDir(), nil, 10)

	var ticks []uint64
	for _, target := range [][2]uint64{{1, 2}, {1, 2}, {1, 3}, {2, 3}} {
		mk, err := m.Append(target[0], target[1], documentFields(t, "k", 0, 1))
		require.Nil(t, err)
		ticks = append(ticks, mk.Tick())
	}
	_, err := m.Append(1, 0, marker.Fields{Type: marker.TypeBeginTransaction, TransactionID: 9})
	require.Nil(t, err)

	for i := 1; i < len(ticks); i++ {
		assert.Greater(t, ticks[i], ticks[i-1])
	}

	logfiles := m.Logfiles()
	require.Len(t, logfiles, 1)
	assert.Equal(t, []marker.Type{
		marker.TypeHeader,
		marker.TypePrologue, marker.TypeDocument, marker.TypeDocument,
		marker.TypePrologue, marker.TypeDocument,
		marker.TypePrologue, marker.TypeDocument,
		marker.TypeBeginTransaction,
	}, markerTypes(t, logfiles[0]))

	var begin marker.Marker
	require.Nil(t, logfiles[0].Iterate(func(mk marker.Marker, _ datafile.Location) bool {
		if mk.Type() == marker.TypeBeginTransaction {
			begin = marker.Clone(mk)
		}
		return true
	}))
	require.NotNil(t, begin)
	assert.Equal(t, uint64(1), begin.DatabaseID())
	assert.Equal(t, uint64(9), begin.TransactionID())
	assert.Equal(t, m.LastTick(), begin.Tick())
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	ticks := tick.New(0)
	m := openTestManager(t, dir, ticks, 10)

	for i := 0; i < 20; i++ {
		_, err := m.Append(1, 2, documentFields(t, "k", 0, 500))
		require.Nil(t, err)
	}

	logfiles := m.Logfiles()
	require.Greater(t, len(logfiles), 1)
	for i, d := range logfiles {
		types := markerTypes(t, d)
		require.GreaterOrEqual(t, len(types), 3)
		assert.Equal(t, marker.TypePrologue, types[1], "logfile %d starts with a prologue", i)
		if i < len(logfiles)-1 {
			assert.True(t, d.IsSealed())
			assert.Less(t, d.TickMax(), logfiles[i+1].TickMin())
		}
	}

	t.Run("oversize marker gets its own logfile", func(t *testing.T) {
		mk, err := m.Append(1, 2, documentFields(t, "big", 0, 3*datafile.MinimalSize))
		require.Nil(t, err)
		logfiles := m.Logfiles()
		last := logfiles[len(logfiles)-1]
		assert.Greater(t, last.MaximalSize(), uint32(3*datafile.MinimalSize))
		assert.Equal(t, mk.Tick(), last.TickMax())
	})

	t.Run("reopen seals and continues ticks", func(t *testing.T) {
		lastTick := m.LastTick()
		count := len(m.Logfiles())
		require.Nil(t, m.Close(context.Background()))

		reopened := openTestManager(t, dir, tick.New(0), 10)
		logfiles := reopened.Logfiles()
		require.Len(t, logfiles, count)
		for _, d := range logfiles {
			assert.True(t, d.IsSealed())
		}
		assert.Equal(t, lastTick, reopened.LastTick())

		mk, err := reopened.Append(1, 2, documentFields(t, "k", 0, 1))
		require.Nil(t, err)
		assert.Greater(t, mk.Tick(), lastTick)
		assert.Len(t, reopened.Logfiles(), count+1)
	})
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	metrics := monitoring.NewPrometheusMetrics(prometheus.NewRegistry())
	logger, _ := test.NewNullLogger()
	m, err := Open(Config{
		Path:             dir,
		LogfileSize:      datafile.MinimalSize,
		HistoricLogfiles: 1,
		Metrics:          metrics,
	}, logger)
	require.Nil(t, err)
	defer m.Close(context.Background())

	var lastTicks []uint64
	for i := 0; i < 3; i++ {
		mk, err := m.Append(1, 2, documentFields(t, "k", 0, 1))
		require.Nil(t, err)
		lastTicks = append(lastTicks, mk.Tick())
		require.Nil(t, m.Rotate())
	}
	logfiles := m.Logfiles()
	require.Len(t, logfiles, 3)

	_, h, fromTickIncluded := m.logfilesFor(0, m.LastTick()+1)
	assert.True(t, fromTickIncluded)

	assert.Equal(t, 2, m.Prune())
	assert.Len(t, m.Logfiles(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WalLogfiles))

	for _, d := range logfiles[:2] {
		_, err := os.Stat(d.Path())
		assert.Nil(t, err, "logfile %s is kept while it is scanned", d.Name())
	}

	h.Release()

	entries, err := os.ReadDir(dir)
	require.Nil(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(logfiles[2].Path()), entries[0].Name())

	_, h, fromTickIncluded = m.logfilesFor(0, m.LastTick()+1)
	h.Release()
	assert.False(t, fromTickIncluded)

	_, h, fromTickIncluded = m.logfilesFor(lastTicks[1]+1, m.LastTick()+1)
	h.Release()
	assert.True(t, fromTickIncluded)

	assert.Zero(t, m.Prune())
	assert.False(t, m.PruneCallback()(func() bool { return false }))
}
