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

package storagestate

import "errors"

// Status is the lifecycle state of a collection.
type Status string

const (
	StatusLoaded    Status = "LOADED"
	StatusUnloading Status = "UNLOADING"
	StatusUnloaded  Status = "UNLOADED"
	StatusDeleted   Status = "DELETED"
)

var ErrStatusUnloaded = errors.New("collection is not loaded")

func (s Status) String() string {
	return string(s)
}

// Writable reports whether documents may be written and background work
// may start on a collection in this status.
func (s Status) Writable() bool {
	return s == StatusLoaded
}
