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

// Reason is the outcome of inspecting a collection for compaction. It is an
// expected result, never an error.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNoDatafiles
	ReasonCompactionBlocked
	ReasonDatafileSmall
	ReasonEmpty
	ReasonOnlyDeletions
	ReasonDeadSize
	ReasonDeadSizeShare
	ReasonDeadCount
	ReasonNothingToCompact
)

var reasonMessages = map[Reason]string{
	ReasonNoDatafiles:       "skipped compaction because collection has no datafiles",
	ReasonCompactionBlocked: "skipped compaction because existing compactor file is in the way and waits to be processed",
	ReasonDatafileSmall:     "compacting datafile because it's small and will be merged with next",
	ReasonEmpty:             "compacting datafile because collection is empty",
	ReasonOnlyDeletions:     "compacting datafile because it contains only deletion markers",
	ReasonDeadSize:          "compacting datafile because it contains much dead object space",
	ReasonDeadSizeShare:     "compacting datafile because it contains high share of dead objects",
	ReasonDeadCount:         "compacting datafile because it contains many dead objects",
	ReasonNothingToCompact:  "checked datafiles, but no compaction opportunity found",
}

var reasonLabels = map[Reason]string{
	ReasonNoDatafiles:       "no_datafiles",
	ReasonCompactionBlocked: "compaction_blocked",
	ReasonDatafileSmall:     "datafile_small",
	ReasonEmpty:             "empty",
	ReasonOnlyDeletions:     "only_deletions",
	ReasonDeadSize:          "dead_size",
	ReasonDeadSizeShare:     "dead_size_share",
	ReasonDeadCount:         "dead_count",
	ReasonNothingToCompact:  "nothing_to_compact",
}

// String is the status message recorded on the collection.
func (r Reason) String() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return ""
}

// Label is the short form used in metrics and log fields.
func (r Reason) Label() string {
	if label, ok := reasonLabels[r]; ok {
		return label
	}
	return "none"
}

// Compacts reports whether r selects files for compaction.
func (r Reason) Compacts() bool {
	switch r {
	case ReasonDatafileSmall, ReasonEmpty, ReasonOnlyDeletions, ReasonDeadSize,
		ReasonDeadSizeShare, ReasonDeadCount:
		return true
	default:
		return false
	}
}
