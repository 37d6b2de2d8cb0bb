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

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFields(t *testing.T) {
	type test struct {
		name   string
		fields Fields
		size   uint32
		db     uint64
		cid    uint64
		tid    uint64
	}

	tests := []test{
		{
			name:   "prologue",
			fields: Fields{Type: TypePrologue, Tick: 7, DatabaseID: 1, CollectionID: 2},
			size:   32, db: 1, cid: 2,
		},
		{
			name:   "document",
			fields: Fields{Type: TypeDocument, Tick: 8, TransactionID: 3, Payload: []byte("abc")},
			size:   27, tid: 3,
		},
		{
			name:   "commit",
			fields: Fields{Type: TypeCommitTransaction, Tick: 9, DatabaseID: 4, TransactionID: 5},
			size:   32, db: 4, tid: 5,
		},
		{
			name:   "create collection",
			fields: Fields{Type: TypeCreateCollection, Tick: 10, DatabaseID: 4, CollectionID: 6, Payload: []byte{1}},
			size:   33, db: 4, cid: 6,
		},
		{
			name:   "footer",
			fields: Fields{Type: TypeFooter, Tick: 11},
			size:   HeaderSize,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m, err := Encode(test.fields)
			require.Nil(t, err)

			assert.Equal(t, test.size, m.Size())
			assert.Equal(t, AlignedSize(test.size), uint32(cap(m)))
			assert.Equal(t, test.fields.Type, m.Type())
			assert.Equal(t, test.fields.Tick, m.Tick())
			assert.Equal(t, test.db, m.DatabaseID())
			assert.Equal(t, test.cid, m.CollectionID())
			assert.Equal(t, test.tid, m.TransactionID())
			assert.True(t, m.Verify())
		})
	}
}

func TestEncodeHeader(t *testing.T) {
	m, err := Encode(Fields{Type: TypeHeader, Tick: 42, FileID: 42, MaximalSize: 4096})
	require.Nil(t, err)

	assert.Equal(t, uint64(42), m.FileID())
	assert.Equal(t, uint32(4096), m.MaximalSize())
	assert.Nil(t, m.Payload())
}

func TestEncodeRejectsUnknownType(t *testing.T) {
	_, err := Encode(Fields{Type: Type(99)})
	require.ErrorIs(t, err, ErrInvalidType)
}

func TestRestamp(t *testing.T) {
	m, err := Encode(Fields{Type: TypeRemove, Payload: []byte("k")})
	require.Nil(t, err)

	Restamp(m, 1234)
	assert.Equal(t, uint64(1234), m.Tick())
	assert.Equal(t, TypeRemove, m.Type())
	assert.True(t, m.Verify())

	m[len(m)-1] ^= 0xff
	assert.False(t, m.Verify())
}

func TestAlignedSize(t *testing.T) {
	assert.Equal(t, uint32(0), AlignedSize(0))
	assert.Equal(t, uint32(8), AlignedSize(1))
	assert.Equal(t, uint32(16), AlignedSize(16))
	assert.Equal(t, uint32(24), AlignedSize(17))
}

func region(t *testing.T, fields ...Fields) []byte {
	var data []byte
	for _, f := range fields {
		m, err := Encode(f)
		require.Nil(t, err)
		data = append(data, Padded(m)...)
	}
	return data
}

func TestCursor(t *testing.T) {
	data := region(t,
		Fields{Type: TypeHeader, Tick: 1, FileID: 1, MaximalSize: 1024},
		Fields{Type: TypeDocument, Tick: 2, Payload: []byte("first")},
		Fields{Type: TypeRemove, Tick: 3, Payload: []byte("x")},
	)

	t.Run("reads all markers in order", func(t *testing.T) {
		c := NewCursor(data, 0)
		var ticks []uint64
		for {
			m, _, ok := c.Next()
			if !ok {
				break
			}
			ticks = append(ticks, m.Tick())
		}
		assert.Equal(t, []uint64{1, 2, 3}, ticks)
		assert.Equal(t, len(data), c.Offset())
		assert.Nil(t, c.Err())
	})

	t.Run("stops at zeroed tail", func(t *testing.T) {
		padded := append(append([]byte{}, data...), make([]byte, 64)...)
		c := NewCursor(padded, 0)
		n := 0
		for _, _, ok := c.Next(); ok; _, _, ok = c.Next() {
			n++
		}
		assert.Equal(t, 3, n)
		assert.Nil(t, c.Err())
	})

	t.Run("stops at out of range type", func(t *testing.T) {
		broken := append([]byte{}, data...)
		last := len(region(t, Fields{Type: TypeHeader, Tick: 1, FileID: 1, MaximalSize: 1024}))
		binary.LittleEndian.PutUint64(broken[last+8:], uint64(TypeMax)<<56|2)

		c := NewCursor(broken, 0)
		_, _, ok := c.Next()
		require.True(t, ok)
		_, _, ok = c.Next()
		assert.False(t, ok)
		assert.ErrorIs(t, c.Err(), ErrInvalidType)
	})

	t.Run("stops at truncated marker", func(t *testing.T) {
		c := NewCursor(data[:len(data)-4], 0)
		n := 0
		for _, _, ok := c.Next(); ok; _, _, ok = c.Next() {
			n++
		}
		assert.Equal(t, 2, n)
		assert.ErrorIs(t, c.Err(), ErrTooShort)
	})

	t.Run("verifying cursor stops at corrupted marker", func(t *testing.T) {
		broken := append([]byte{}, data...)
		broken[len(broken)-8] ^= 0x01

		c := NewVerifyingCursor(broken, 0)
		n := 0
		for _, _, ok := c.Next(); ok; _, _, ok = c.Next() {
			n++
		}
		assert.Equal(t, 2, n)
		assert.ErrorIs(t, c.Err(), ErrChecksum)
	})
}

func TestDocumentPayload(t *testing.T) {
	payload, err := EncodeDocument(Document{Key: "k1", Revision: 17, Body: map[string]interface{}{"name": "alice"}})
	require.Nil(t, err)

	m, err := Encode(Fields{Type: TypeDocument, Tick: 17, Payload: payload})
	require.Nil(t, err)

	key, rev, err := DocumentKey(m)
	require.Nil(t, err)
	assert.Equal(t, "k1", key)
	assert.Equal(t, uint64(17), rev)

	doc, err := DecodeDocument(m.Payload())
	require.Nil(t, err)
	assert.Equal(t, "alice", doc.Body["name"])

	_, err = EncodeDocument(Document{})
	assert.NotNil(t, err)
}
