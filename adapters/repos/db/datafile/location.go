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

	"github.com/weaviate/docstore/adapters/repos/db/marker"
)

// Location is an opaque handle naming one marker in one datafile. Two
// locations are equal only if they name the same marker in the same file
// instance; a compactor file and the datafile it replaces share a fid but
// never a Location.
type Location struct {
	file   *Datafile
	offset uint32
}

func (l Location) IsZero() bool {
	return l.file == nil
}

// Fid is the logical id of the file holding the marker.
func (l Location) Fid() uint64 {
	if l.file == nil {
		return 0
	}
	return l.file.fid
}

func (l Location) Offset() uint32 {
	return l.offset
}

func (l Location) Datafile() *Datafile {
	return l.file
}

// Marker resolves the location. The caller must make sure the file stays
// open while the marker is in use.
func (l Location) Marker() (marker.Marker, bool) {
	if l.file == nil {
		return nil, false
	}
	return l.file.MarkerAt(l.offset)
}

func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Fid(), l.offset)
}
