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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusMetrics struct {
	CompactionsTotal         *prometheus.CounterVec
	CompactionDuration       *prometheus.HistogramVec
	CompactionBytesReclaimed *prometheus.CounterVec
	Datafiles                *prometheus.GaugeVec
	DitchesPending           *prometheus.GaugeVec

	CollectionsLoaded    prometheus.Gauge
	CollectionsUnloading prometheus.Gauge
	CollectionsUnloaded  prometheus.Gauge

	WalLogfiles  prometheus.Gauge
	TailEvents   *prometheus.CounterVec
	TailDuration *prometheus.HistogramVec
}

// NewPrometheusMetrics registers all metrics with reg. Pass a
// NoopPrometheusRegistry to create unregistered metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		CompactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docstore_compactions_total",
			Help: "Number of compaction passes by outcome reason",
		}, []string{"database", "collection", "reason"}),
		CompactionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docstore_compaction_duration_seconds",
			Help:    "Duration of compaction passes that merged files",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"database", "collection"}),
		CompactionBytesReclaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docstore_compaction_bytes_reclaimed_total",
			Help: "Bytes of datafile capacity released by compaction",
		}, []string{"database", "collection"}),
		Datafiles: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docstore_datafiles",
			Help: "Number of files of a collection by kind",
		}, []string{"database", "collection", "kind"}),
		DitchesPending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docstore_ditches_pending",
			Help: "Disposal callbacks waiting for observers to be released",
		}, []string{"database", "collection"}),

		CollectionsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docstore_collections_loaded",
			Help: "Number of loaded collections",
		}),
		CollectionsUnloading: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docstore_collections_unloading",
			Help: "Number of collections being unloaded",
		}),
		CollectionsUnloaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docstore_collections_unloaded",
			Help: "Number of unloaded collections",
		}),

		WalLogfiles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docstore_wal_logfiles",
			Help: "Number of write-ahead logfiles on disk",
		}),
		TailEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docstore_tail_events_total",
			Help: "Events emitted by the WAL tailing reader",
		}, []string{"mode"}),
		TailDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docstore_tail_duration_seconds",
			Help:    "Duration of WAL tailing calls",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"mode"}),
	}
}

func (pm *PrometheusMetrics) CompactionFinished(database, collection, reason string,
	took time.Duration, reclaimed uint64,
) {
	if pm == nil {
		return
	}

	pm.CompactionsTotal.With(prometheus.Labels{
		"database":   database,
		"collection": collection,
		"reason":     reason,
	}).Inc()

	labels := prometheus.Labels{"database": database, "collection": collection}
	pm.CompactionDuration.With(labels).Observe(took.Seconds())
	if reclaimed > 0 {
		pm.CompactionBytesReclaimed.With(labels).Add(float64(reclaimed))
	}
}

// CompactionSkipped counts a pass that ended without merging files.
func (pm *PrometheusMetrics) CompactionSkipped(database, collection, reason string) {
	if pm == nil {
		return
	}

	pm.CompactionsTotal.With(prometheus.Labels{
		"database":   database,
		"collection": collection,
		"reason":     reason,
	}).Inc()
}

func (pm *PrometheusMetrics) SetDatafiles(database, collection string, datafiles, journals, compactors int) {
	if pm == nil {
		return
	}

	for kind, n := range map[string]int{
		"datafile":  datafiles,
		"journal":   journals,
		"compactor": compactors,
	} {
		pm.Datafiles.With(prometheus.Labels{
			"database":   database,
			"collection": collection,
			"kind":       kind,
		}).Set(float64(n))
	}
}

func (pm *PrometheusMetrics) SetDitchesPending(database, collection string, n int) {
	if pm == nil {
		return
	}

	pm.DitchesPending.With(prometheus.Labels{
		"database":   database,
		"collection": collection,
	}).Set(float64(n))
}

func (pm *PrometheusMetrics) SetWalLogfiles(n int) {
	if pm == nil {
		return
	}

	pm.WalLogfiles.Set(float64(n))
}

func (pm *PrometheusMetrics) TailFinished(mode string, events int, took time.Duration) {
	if pm == nil {
		return
	}

	labels := prometheus.Labels{"mode": mode}
	pm.TailEvents.With(labels).Add(float64(events))
	pm.TailDuration.With(labels).Observe(took.Seconds())
}

// DeleteCollection drops all series of a collection.
func (pm *PrometheusMetrics) DeleteCollection(database, collection string) {
	if pm == nil {
		return
	}

	labels := prometheus.Labels{"database": database, "collection": collection}
	pm.CompactionsTotal.DeletePartialMatch(labels)
	pm.CompactionDuration.DeletePartialMatch(labels)
	pm.CompactionBytesReclaimed.DeletePartialMatch(labels)
	pm.Datafiles.DeletePartialMatch(labels)
	pm.DitchesPending.DeletePartialMatch(labels)
}
