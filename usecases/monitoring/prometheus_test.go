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

package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactionMetrics(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.CompactionFinished("db1", "users", "dead_size", 10*time.Millisecond, 4096)
	m.CompactionSkipped("db1", "users", "nothing_to_compact")
	m.CompactionSkipped("db1", "users", "nothing_to_compact")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CompactionsTotal.With(prometheus.Labels{
		"database": "db1", "collection": "users", "reason": "dead_size",
	})))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CompactionsTotal.With(prometheus.Labels{
		"database": "db1", "collection": "users", "reason": "nothing_to_compact",
	})))
	assert.Equal(t, float64(4096), testutil.ToFloat64(m.CompactionBytesReclaimed.With(prometheus.Labels{
		"database": "db1", "collection": "users",
	})))

	var nothingReclaimed uint64
	m.CompactionFinished("db1", "users", "dead_size", time.Millisecond, nothingReclaimed)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CompactionsTotal.With(prometheus.Labels{
		"database": "db1", "collection": "users", "reason": "dead_size",
	})))
	assert.Equal(t, float64(4096), testutil.ToFloat64(m.CompactionBytesReclaimed.With(prometheus.Labels{
		"database": "db1", "collection": "users",
	})))

	m.SetDatafiles("db1", "users", 3, 1, 0)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Datafiles.With(prometheus.Labels{
		"database": "db1", "collection": "users", "kind": "datafile",
	})))

	m.DeleteCollection("db1", "users")
	assert.Equal(t, 0, testutil.CollectAndCount(m.Datafiles))
	assert.Equal(t, 0, testutil.CollectAndCount(m.CompactionsTotal))
}

func TestCollectionStatusMetrics(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.NewUnloadedCollection()
	m.NewUnloadedCollection()
	m.CollectionLoaded()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CollectionsLoaded))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CollectionsUnloaded))

	m.StartUnloadingCollection()
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CollectionsLoaded))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CollectionsUnloading))

	m.FinishUnloadingCollection()
	m.DropUnloadedCollection()
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CollectionsUnloading))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CollectionsUnloaded))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *PrometheusMetrics
	require.NotPanics(t, func() {
		m.CompactionFinished("db", "c", "r", time.Second, 1)
		m.CompactionSkipped("db", "c", "r")
		m.SetDatafiles("db", "c", 1, 1, 1)
		m.SetDitchesPending("db", "c", 1)
		m.SetWalLogfiles(1)
		m.TailFinished("tail", 1, time.Second)
		m.DeleteCollection("db", "c")
		m.NewUnloadedCollection()
		m.CollectionLoaded()
	})
}

func TestNoopRegistry(t *testing.T) {
	require.NotPanics(t, func() {
		NewPrometheusMetrics(&NoopPrometheusRegistery{})
		NewPrometheusMetrics(&NoopPrometheusRegistery{})
	})
}
