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
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/weaviate/docstore/adapters/repos/db/marker"
)

// EventType is the replication code of a tailed marker.
type EventType uint16

const (
	EventCreateDatabase EventType = 1100
	EventDropDatabase   EventType = 1101

	EventCreateCollection EventType = 2000
	EventDropCollection   EventType = 2001
	EventRenameCollection EventType = 2002
	EventChangeCollection EventType = 2003

	EventCreateIndex EventType = 2100
	EventDropIndex   EventType = 2101

	EventCreateView EventType = 2110
	EventDropView   EventType = 2111
	EventChangeView EventType = 2112

	EventStartTransaction  EventType = 2200
	EventCommitTransaction EventType = 2201
	EventAbortTransaction  EventType = 2202

	EventDocument EventType = 2300
	EventRemove   EventType = 2302
)

var eventTypes = map[marker.Type]EventType{
	marker.TypeCreateDatabase:    EventCreateDatabase,
	marker.TypeDropDatabase:      EventDropDatabase,
	marker.TypeCreateCollection:  EventCreateCollection,
	marker.TypeDropCollection:    EventDropCollection,
	marker.TypeRenameCollection:  EventRenameCollection,
	marker.TypeChangeCollection:  EventChangeCollection,
	marker.TypeCreateIndex:       EventCreateIndex,
	marker.TypeDropIndex:         EventDropIndex,
	marker.TypeCreateView:        EventCreateView,
	marker.TypeDropView:          EventDropView,
	marker.TypeChangeView:        EventChangeView,
	marker.TypeBeginTransaction:  EventStartTransaction,
	marker.TypeCommitTransaction: EventCommitTransaction,
	marker.TypeAbortTransaction:  EventAbortTransaction,
	marker.TypeDocument:          EventDocument,
	marker.TypeRemove:            EventRemove,
}

// TranslateType returns the replication code of a marker type. Only
// replicated types have one.
func TranslateType(t marker.Type) (EventType, bool) {
	e, ok := eventTypes[t]
	return e, ok
}

// Event is the serialized form of a tailed marker.
type Event struct {
	Tick          uint64    `msgpack:"tick"`
	Type          EventType `msgpack:"type"`
	TransactionID uint64    `msgpack:"tid,omitempty"`
	DatabaseID    uint64    `msgpack:"db,omitempty"`
	// CollectionGUID is the globally unique id of the collection the marker
	// belongs to, if it could be resolved.
	CollectionGUID string             `msgpack:"cuid,omitempty"`
	Data           msgpack.RawMessage `msgpack:"data,omitempty"`
}

// Document decodes the data of a document or remove event.
func (e Event) Document() (marker.Document, error) {
	if e.Type != EventDocument && e.Type != EventRemove {
		return marker.Document{}, errors.Errorf("event of type %d carries no document", e.Type)
	}
	return marker.DecodeDocument(e.Data)
}

func encodeEvent(e Event) ([]byte, error) {
	b, err := msgpack.Marshal(&e)
	if err != nil {
		return nil, errors.Wrapf(err, "encode event at tick %d", e.Tick)
	}
	return b, nil
}

func DecodeEvent(b []byte) (Event, error) {
	var e Event
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return e, errors.Wrap(err, "decode event")
	}
	return e, nil
}
