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

package datafile

import (
	"fmt"
	"strconv"
	"strings"
)

// Prefix is the role a file plays, encoded in the first part of its name.
type Prefix string

const (
	PrefixJournal    Prefix = "journal"
	PrefixDatafile   Prefix = "datafile"
	PrefixCompaction Prefix = "compaction"
	PrefixTemp       Prefix = "temp"
	PrefixDeleted    Prefix = "deleted"
	PrefixLogfile    Prefix = "logfile"

	fileSuffix = ".db"
	deadSuffix = ".dead"
)

// Name returns the file name for a file with the given role and fid.
func Name(prefix Prefix, fid uint64) string {
	return fmt.Sprintf("%s-%d%s", prefix, fid, fileSuffix)
}

// DeadName returns the name of the zero-byte marker file which records that
// the contents of path have been subsumed by a compactor file.
func DeadName(path string) string {
	return path + deadSuffix
}

// IsDeadName reports whether name is a subsumption marker and returns the
// name of the file it refers to.
func IsDeadName(name string) (string, bool) {
	if !strings.HasSuffix(name, fileSuffix+deadSuffix) {
		return "", false
	}
	return strings.TrimSuffix(name, deadSuffix), true
}

// ParseName splits a file name produced by Name into its parts.
func ParseName(name string) (Prefix, uint64, bool) {
	if !strings.HasSuffix(name, fileSuffix) {
		return "", 0, false
	}
	base := strings.TrimSuffix(name, fileSuffix)
	pos := strings.LastIndexByte(base, '-')
	if pos <= 0 {
		return "", 0, false
	}

	fid, err := strconv.ParseUint(base[pos+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}

	prefix := Prefix(base[:pos])
	switch prefix {
	case PrefixJournal, PrefixDatafile, PrefixCompaction, PrefixTemp,
		PrefixDeleted, PrefixLogfile:
		return prefix, fid, true
	default:
		return "", 0, false
	}
}
