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
	"hash/crc32"

	"github.com/pkg/errors"
)

const (
	// HeaderSize is the size of the fixed prefix shared by all markers:
	// size (u32), crc (u32) and type+tick (u64).
	HeaderSize = 16
	// Alignment of every marker inside a file.
	Alignment = 8
	// MaxTick is the largest tick that fits into the 56 bits reserved for it.
	MaxTick = uint64(1)<<56 - 1
	// Version of the file header format.
	Version uint32 = 1
)

var (
	ErrTooShort    = errors.New("marker too short")
	ErrInvalidType = errors.New("invalid marker type")
	ErrChecksum    = errors.New("marker checksum mismatch")
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// AlignedSize rounds size up to the marker alignment.
func AlignedSize(size uint32) uint32 {
	return (size + Alignment - 1) &^ (Alignment - 1)
}

// Marker is a read-only view of a single encoded marker. The slice spans
// exactly Size() bytes and may alias a memory-mapped file, so it must not be
// modified or retained after the owning file is closed.
type Marker []byte

func (m Marker) Size() uint32 {
	return binary.LittleEndian.Uint32(m[0:4])
}

func (m Marker) AlignedSize() uint32 {
	return AlignedSize(m.Size())
}

func (m Marker) CRC() uint32 {
	return binary.LittleEndian.Uint32(m[4:8])
}

func (m Marker) Type() Type {
	return Type(binary.LittleEndian.Uint64(m[8:16]) >> 56)
}

func (m Marker) Tick() uint64 {
	return binary.LittleEndian.Uint64(m[8:16]) & MaxTick
}

func (m Marker) DatabaseID() uint64 {
	return m.field(layouts[m.Type()].database)
}

func (m Marker) CollectionID() uint64 {
	return m.field(layouts[m.Type()].collection)
}

func (m Marker) TransactionID() uint64 {
	return m.field(layouts[m.Type()].transaction)
}

// FileID returns the fid recorded in a file header marker.
func (m Marker) FileID() uint64 {
	if m.Type() != TypeHeader {
		return 0
	}
	return binary.LittleEndian.Uint64(m[24:32])
}

// MaximalSize returns the file capacity recorded in a file header marker.
func (m Marker) MaximalSize() uint32 {
	if m.Type() != TypeHeader {
		return 0
	}
	return binary.LittleEndian.Uint32(m[20:24])
}

// Payload returns the variable part of the marker, nil if it has none.
func (m Marker) Payload() []byte {
	off := layouts[m.Type()].payload
	if off < 0 || off >= len(m) {
		return nil
	}
	return m[off:]
}

func (m Marker) field(off int) uint64 {
	if off < 0 || off+8 > len(m) {
		return 0
	}
	return binary.LittleEndian.Uint64(m[off : off+8])
}

// Verify checks the checksum of the marker.
func (m Marker) Verify() bool {
	return checksum(m) == m.CRC()
}

func checksum(m []byte) uint32 {
	var zero [4]byte
	crc := crc32.Update(0, crcTable, m[0:4])
	crc = crc32.Update(crc, crcTable, zero[:])
	return crc32.Update(crc, crcTable, m[8:])
}

// Fields holds everything needed to encode a marker. Fields that the type's
// layout does not carry are ignored.
type Fields struct {
	Type          Type
	Tick          uint64
	DatabaseID    uint64
	CollectionID  uint64
	TransactionID uint64
	// FileID and MaximalSize are only used by file headers.
	FileID      uint64
	MaximalSize uint32
	Payload     []byte
}

// Encode serializes f into a freshly allocated, alignment-padded buffer.
// The returned marker's Size() is the unpadded length.
func Encode(f Fields) (Marker, error) {
	l, ok := layouts[f.Type]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidType, "encode %s", f.Type)
	}
	if f.Tick > MaxTick {
		return nil, errors.Errorf("tick %d exceeds maximum", f.Tick)
	}

	size := l.min
	if l.payload >= 0 {
		size = l.payload + len(f.Payload)
	}
	buf := make([]byte, AlignedSize(uint32(size)))

	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(f.Type)<<56|f.Tick)

	if f.Type == TypeHeader {
		binary.LittleEndian.PutUint32(buf[16:20], Version)
		binary.LittleEndian.PutUint32(buf[20:24], f.MaximalSize)
		binary.LittleEndian.PutUint64(buf[24:32], f.FileID)
	}
	if l.database >= 0 {
		binary.LittleEndian.PutUint64(buf[l.database:], f.DatabaseID)
	}
	if l.collection >= 0 {
		binary.LittleEndian.PutUint64(buf[l.collection:], f.CollectionID)
	}
	if l.transaction >= 0 {
		binary.LittleEndian.PutUint64(buf[l.transaction:], f.TransactionID)
	}
	if l.payload >= 0 {
		copy(buf[l.payload:], f.Payload)
	}

	m := Marker(buf[:size])
	binary.LittleEndian.PutUint32(buf[4:8], checksum(m))
	return m, nil
}

// Restamp assigns a new tick to an encoded marker in place and updates its
// checksum. It must only be used on markers that have not been published.
func Restamp(m Marker, tick uint64) {
	typ := m.Type()
	binary.LittleEndian.PutUint64(m[8:16], uint64(typ)<<56|(tick&MaxTick))
	binary.LittleEndian.PutUint32(m[4:8], checksum(m))
}

// Padded returns the marker followed by its alignment padding, which is what
// gets written to a file. m must have been produced by Encode or sliced from
// a file so that the padding bytes exist in the backing array.
func Padded(m Marker) []byte {
	return m[:m.AlignedSize():m.AlignedSize()]
}

// Clone copies m into memory that is independent of any mapped file.
func Clone(m Marker) Marker {
	buf := make([]byte, m.AlignedSize())
	copy(buf, m)
	return Marker(buf[:m.Size()])
}
