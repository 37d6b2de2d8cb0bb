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

import "encoding/binary"

// Cursor walks the markers of a byte region in order. It never reads past
// the region and stops at the first position that does not hold a complete,
// well-formed marker: a short remainder, a zero size, an out-of-range type or
// a marker that would overrun the region. Reaching such a position is the
// regular end of usable data, not an error.
type Cursor struct {
	data   []byte
	offset int
	verify bool
	err    error
}

// NewCursor returns a cursor over data starting at offset.
func NewCursor(data []byte, offset int) *Cursor {
	return &Cursor{data: data, offset: offset}
}

// NewVerifyingCursor is like NewCursor but also stops at the first marker
// whose checksum does not match. Used when recovering files from disk.
func NewVerifyingCursor(data []byte, offset int) *Cursor {
	return &Cursor{data: data, offset: offset, verify: true}
}

// Next returns the next marker and its offset. ok is false once the end of
// usable data has been reached.
func (c *Cursor) Next() (m Marker, offset int, ok bool) {
	if c.err != nil || c.offset < 0 || len(c.data)-c.offset < HeaderSize {
		return nil, c.offset, false
	}

	rest := c.data[c.offset:]
	size := binary.LittleEndian.Uint32(rest[0:4])
	if size == 0 {
		return nil, c.offset, false
	}
	if size < HeaderSize {
		c.err = ErrTooShort
		return nil, c.offset, false
	}

	typ := Type(binary.LittleEndian.Uint64(rest[8:16]) >> 56)
	if !typ.Valid() {
		c.err = ErrInvalidType
		return nil, c.offset, false
	}
	if int(size) < layouts[typ].min {
		c.err = ErrTooShort
		return nil, c.offset, false
	}

	aligned := int(AlignedSize(size))
	if aligned > len(rest) {
		c.err = ErrTooShort
		return nil, c.offset, false
	}

	m = Marker(rest[:size])
	if c.verify && !m.Verify() {
		c.err = ErrChecksum
		return nil, c.offset, false
	}

	offset = c.offset
	c.offset += aligned
	return m, offset, true
}

// Offset is the position of the next marker to be read. After Next returned
// false it is the end of the usable data.
func (c *Cursor) Offset() int {
	return c.offset
}

// Err reports why the cursor stopped early, nil if it stopped at a zero
// size or the end of the region.
func (c *Cursor) Err() error {
	return c.err
}
