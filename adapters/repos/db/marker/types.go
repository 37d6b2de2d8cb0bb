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

package marker

import "fmt"

// Type identifies the kind of a marker. Numeric values are part of the
// on-disk format and must never change.
type Type uint8

const (
	TypeMin Type = 0

	TypeHeader           Type = 10
	TypeFooter           Type = 11
	TypeCollectionHeader Type = 20
	TypePrologue         Type = 25

	TypeDocument Type = 30
	TypeRemove   Type = 31

	TypeCreateCollection Type = 40
	TypeDropCollection   Type = 41
	TypeRenameCollection Type = 42
	TypeChangeCollection Type = 43

	TypeCreateIndex Type = 50
	TypeDropIndex   Type = 51

	TypeCreateView Type = 55
	TypeDropView   Type = 56
	TypeChangeView Type = 57

	TypeCreateDatabase Type = 60
	TypeDropDatabase   Type = 61

	TypeBeginTransaction  Type = 70
	TypeCommitTransaction Type = 71
	TypeAbortTransaction  Type = 72

	TypeMax Type = 73
)

var typeNames = map[Type]string{
	TypeHeader:            "header",
	TypeFooter:            "footer",
	TypeCollectionHeader:  "collection_header",
	TypePrologue:          "prologue",
	TypeDocument:          "document",
	TypeRemove:            "remove",
	TypeCreateCollection:  "create_collection",
	TypeDropCollection:    "drop_collection",
	TypeRenameCollection:  "rename_collection",
	TypeChangeCollection:  "change_collection",
	TypeCreateIndex:       "create_index",
	TypeDropIndex:         "drop_index",
	TypeCreateView:        "create_view",
	TypeDropView:          "drop_view",
	TypeChangeView:        "change_view",
	TypeCreateDatabase:    "create_database",
	TypeDropDatabase:      "drop_database",
	TypeBeginTransaction:  "begin_transaction",
	TypeCommitTransaction: "commit_transaction",
	TypeAbortTransaction:  "abort_transaction",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Valid reports whether t lies strictly inside the (TypeMin, TypeMax) range
// and names a known marker type.
func (t Type) Valid() bool {
	if t <= TypeMin || t >= TypeMax {
		return false
	}
	_, ok := layouts[t]
	return ok
}

// IsTransactionBoundary reports whether t frames a transaction.
func (t Type) IsTransactionBoundary() bool {
	return t == TypeBeginTransaction || t == TypeCommitTransaction ||
		t == TypeAbortTransaction
}

// IsData reports whether t is a document write or a removal.
func (t Type) IsData() bool {
	return t == TypeDocument || t == TypeRemove
}

// IsStructural reports whether t is a file-level framing marker.
func (t Type) IsStructural() bool {
	return t == TypeHeader || t == TypeFooter || t == TypeCollectionHeader ||
		t == TypePrologue
}

// layout describes where the fixed fields of a marker type live. A negative
// offset means the field is absent.
type layout struct {
	database    int
	collection  int
	transaction int
	// payload is the offset of the variable part, negative if the marker
	// carries none.
	payload int
	// min is the smallest legal size of the marker.
	min int
}

const (
	off16 = HeaderSize
	off24 = HeaderSize + 8
	off32 = HeaderSize + 16
)

var layouts = map[Type]layout{
	TypeHeader:           {database: -1, collection: -1, transaction: -1, payload: -1, min: off32},
	TypeFooter:           {database: -1, collection: -1, transaction: -1, payload: -1, min: HeaderSize},
	TypeCollectionHeader: {database: -1, collection: off16, transaction: -1, payload: -1, min: off24},
	TypePrologue:         {database: off16, collection: off24, transaction: -1, payload: -1, min: off32},

	TypeDocument: {database: -1, collection: -1, transaction: off16, payload: off24, min: off24},
	TypeRemove:   {database: -1, collection: -1, transaction: off16, payload: off24, min: off24},

	TypeCreateCollection: {database: off16, collection: off24, transaction: -1, payload: off32, min: off32},
	TypeDropCollection:   {database: off16, collection: off24, transaction: -1, payload: off32, min: off32},
	TypeRenameCollection: {database: off16, collection: off24, transaction: -1, payload: off32, min: off32},
	TypeChangeCollection: {database: off16, collection: off24, transaction: -1, payload: off32, min: off32},
	TypeCreateIndex:      {database: off16, collection: off24, transaction: -1, payload: off32, min: off32},
	TypeDropIndex:        {database: off16, collection: off24, transaction: -1, payload: off32, min: off32},
	TypeCreateView:       {database: off16, collection: off24, transaction: -1, payload: off32, min: off32},
	TypeDropView:         {database: off16, collection: off24, transaction: -1, payload: off32, min: off32},
	TypeChangeView:       {database: off16, collection: off24, transaction: -1, payload: off32, min: off32},

	TypeCreateDatabase: {database: off16, collection: -1, transaction: -1, payload: off24, min: off24},
	TypeDropDatabase:   {database: off16, collection: -1, transaction: -1, payload: off24, min: off24},

	TypeBeginTransaction:  {database: off16, collection: -1, transaction: off24, payload: -1, min: off32},
	TypeCommitTransaction: {database: off16, collection: -1, transaction: off24, payload: -1, min: off32},
	TypeAbortTransaction:  {database: off16, collection: -1, transaction: off24, payload: -1, min: off32},
}
