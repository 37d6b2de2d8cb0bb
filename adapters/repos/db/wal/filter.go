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
	"strings"

	"github.com/weaviate/docstore/adapters/repos/db/marker"
)

// Filter restricts which markers a tail emits.
type Filter struct {
	// DatabaseID restricts the output to one database, 0 for all.
	DatabaseID uint64
	// CollectionID restricts the output to one collection, 0 for all.
	// Transaction framing is emitted regardless.
	CollectionID uint64
	// TransactionIDs, if set, restricts markers before FirstRegularTick to
	// the given transactions.
	TransactionIDs   map[uint64]struct{}
	FirstRegularTick uint64
	IncludeSystem    bool
}

// neverReplicated are system collections whose contents are local to a
// server.
var neverReplicated = map[string]bool{
	"_statistics":    true,
	"_statistics15":  true,
	"_statisticsRaw": true,
	"_jobs":          true,
	"_queues":        true,
}

// ExcludeCollection reports whether a collection is left out of replication.
func ExcludeCollection(name string, includeSystem bool) bool {
	if !strings.HasPrefix(name, "_") {
		return false
	}
	if !includeSystem {
		return true
	}
	return neverReplicated[name]
}

// isTransactionMarker reports whether m frames a transaction of the
// filtered database.
func (f Filter) isTransactionMarker(m marker.Marker) bool {
	if !m.Type().IsTransactionBoundary() {
		return false
	}
	return f.DatabaseID == 0 || f.DatabaseID == m.DatabaseID()
}
