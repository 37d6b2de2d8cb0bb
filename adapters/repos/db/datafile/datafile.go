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
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/weaviate/docstore/adapters/repos/db/marker"
	"github.com/weaviate/docstore/usecases/mmap"
)

var (
	ErrFull    = errors.New("datafile full")
	ErrSealed  = errors.New("datafile sealed")
	ErrClosed  = errors.New("datafile closed")
	ErrCorrupt = errors.New("datafile corrupt")
)

const (
	headerMarkerSize = marker.HeaderSize + 16
	footerMarkerSize = marker.HeaderSize

	// Overhead is the space taken by the framing markers of a collection
	// datafile: file header, collection header and footer.
	Overhead = headerMarkerSize + marker.HeaderSize + 8 + footerMarkerSize

	// MinimalSize is the smallest capacity a datafile is created with.
	MinimalSize = 4096
)

// Datafile is a fixed-capacity, append-only file of markers. Its whole
// capacity is allocated and mapped at creation time. Appends are serialized
// by the datafile. Readers access the mapped bytes without locking and see
// everything up to the atomically published write position.
//
// A datafile serves as journal, sealed datafile, compactor file or WAL
// logfile. Which of those it is, is decided by its owner.
type Datafile struct {
	fid         uint64
	maximalSize uint32

	mu     sync.Mutex
	path   string
	file   *os.File
	data   mmap.MMap
	closed bool

	currentSize atomic.Uint32
	sealed      atomic.Bool
	tickMin     atomic.Uint64
	tickMax     atomic.Uint64
}

// Create allocates a new datafile of the given capacity at path and writes
// its header marker. The capacity is raised to MinimalSize and aligned.
func Create(path string, fid uint64, maximalSize uint32) (*Datafile, error) {
	if maximalSize < MinimalSize {
		maximalSize = MinimalSize
	}
	maximalSize = marker.AlignedSize(maximalSize)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "create datafile %s", path)
	}

	cleanup := func(err error) (*Datafile, error) {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	if err := f.Truncate(int64(maximalSize)); err != nil {
		return cleanup(errors.Wrapf(err, "allocate %d bytes for datafile %s", maximalSize, path))
	}

	data, err := mmap.MapRegion(f, int(maximalSize), mmap.RDWR, 0, 0)
	if err != nil {
		return cleanup(errors.Wrapf(err, "mmap datafile %s", path))
	}

	d := &Datafile{
		fid:         fid,
		maximalSize: maximalSize,
		path:        path,
		file:        f,
		data:        data,
	}

	header, err := marker.Encode(marker.Fields{
		Type:        marker.TypeHeader,
		Tick:        fid,
		FileID:      fid,
		MaximalSize: maximalSize,
	})
	if err != nil {
		data.Unmap()
		return cleanup(err)
	}
	n := copy(d.data, marker.Padded(header))
	d.currentSize.Store(uint32(n))

	return d, nil
}

// Open maps an existing datafile and finds the end of its valid data by
// scanning it. Scanning stops at the first marker that is incomplete or fails
// its checksum. A file ending in a footer marker is opened sealed.
func Open(path string) (*Datafile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open datafile %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat datafile %s", path)
	}
	if info.Size() < headerMarkerSize || info.Size() > int64(^uint32(0)) {
		f.Close()
		return nil, errors.Wrapf(ErrCorrupt, "datafile %s has size %d", path, info.Size())
	}

	data, err := mmap.MapRegion(f, int(info.Size()), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "mmap datafile %s", path)
	}

	cursor := marker.NewVerifyingCursor(data, 0)
	header, _, ok := cursor.Next()
	if !ok || header.Type() != marker.TypeHeader {
		data.Unmap()
		f.Close()
		return nil, errors.Wrapf(ErrCorrupt, "datafile %s has no header", path)
	}

	d := &Datafile{
		fid:         header.FileID(),
		maximalSize: uint32(info.Size()),
		path:        path,
		file:        f,
		data:        data,
	}

	for {
		m, _, ok := cursor.Next()
		if !ok {
			break
		}
		if m.Type() == marker.TypeFooter {
			d.sealed.Store(true)
			break
		}
		d.trackTick(m.Tick())
	}
	d.currentSize.Store(uint32(cursor.Offset()))

	return d, nil
}

func (d *Datafile) Fid() uint64 {
	return d.fid
}

func (d *Datafile) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

func (d *Datafile) Name() string {
	return filepath.Base(d.Path())
}

// MaximalSize is the capacity the file was created with.
func (d *Datafile) MaximalSize() uint32 {
	return d.maximalSize
}

// CurrentSize is the number of bytes occupied by published markers.
func (d *Datafile) CurrentSize() uint32 {
	return d.currentSize.Load()
}

func (d *Datafile) IsSealed() bool {
	return d.sealed.Load()
}

// TickMin and TickMax bound the ticks of the markers written to the file,
// header and footer excluded. Both are zero for a file without such markers.
func (d *Datafile) TickMin() uint64 {
	return d.tickMin.Load()
}

func (d *Datafile) TickMax() uint64 {
	return d.tickMax.Load()
}

// Fits reports whether a marker of the given size can still be appended
// while leaving room for the footer.
func (d *Datafile) Fits(size uint32) bool {
	return uint64(d.currentSize.Load())+uint64(marker.AlignedSize(size))+footerMarkerSize <=
		uint64(d.maximalSize)
}

// Write appends m and publishes it to readers. It returns ErrFull if the
// marker does not fit in front of the reserved footer space.
func (d *Datafile) Write(m marker.Marker) (Location, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Location{}, ErrClosed
	}
	if d.sealed.Load() {
		return Location{}, ErrSealed
	}
	if !d.Fits(m.Size()) {
		return Location{}, ErrFull
	}

	offset := d.currentSize.Load()
	n := copy(d.data[offset:], marker.Padded(m))
	d.trackTick(m.Tick())
	d.currentSize.Store(offset + uint32(n))

	return Location{file: d, offset: offset}, nil
}

// Seal appends the footer marker and flushes the file. No further writes are
// accepted afterwards.
func (d *Datafile) Seal(tick uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.sealed.Load() {
		return nil
	}

	footer, err := marker.Encode(marker.Fields{Type: marker.TypeFooter, Tick: tick})
	if err != nil {
		return err
	}

	offset := d.currentSize.Load()
	if uint64(offset)+footerMarkerSize > uint64(d.maximalSize) {
		return errors.Wrapf(ErrFull, "no room for footer in %s", d.path)
	}
	n := copy(d.data[offset:], marker.Padded(footer))
	d.currentSize.Store(offset + uint32(n))
	d.sealed.Store(true)

	if err := d.data.Flush(); err != nil {
		return errors.Wrapf(err, "flush datafile %s", d.path)
	}
	return nil
}

func (d *Datafile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if err := d.data.Flush(); err != nil {
		return errors.Wrapf(err, "flush datafile %s", d.path)
	}
	return nil
}

// Iterate calls fn for every published marker in file order until fn
// returns false. Markers alias the mapped file.
func (d *Datafile) Iterate(fn func(m marker.Marker, loc Location) bool) error {
	return d.IterateFrom(0, fn)
}

// IterateFrom is like Iterate but starts at the given offset, which must be
// the offset of a marker.
func (d *Datafile) IterateFrom(offset uint32, fn func(m marker.Marker, loc Location) bool) error {
	end := d.currentSize.Load()
	cursor := marker.NewCursor(d.data[:end], int(offset))
	for {
		m, off, ok := cursor.Next()
		if !ok {
			break
		}
		if !fn(m, Location{file: d, offset: uint32(off)}) {
			return nil
		}
	}
	if err := cursor.Err(); err != nil {
		return errors.Wrapf(err, "iterate datafile %s at offset %d", d.Path(), cursor.Offset())
	}
	return nil
}

// MarkerAt returns the marker starting at offset.
func (d *Datafile) MarkerAt(offset uint32) (marker.Marker, bool) {
	end := d.currentSize.Load()
	if uint64(offset)+marker.HeaderSize > uint64(end) {
		return nil, false
	}
	size := binary.LittleEndian.Uint32(d.data[offset:])
	if size < marker.HeaderSize || uint64(offset)+uint64(size) > uint64(end) {
		return nil, false
	}
	return marker.Marker(d.data[offset : offset+size]), true
}

// Advise hints the kernel about the upcoming access pattern.
func (d *Datafile) Advise(advice mmap.Advice) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	return mmap.Advise(d.data, advice)
}

// Rename moves the file to newPath. The mapping stays valid.
func (d *Datafile) Rename(newPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.Rename(d.path, newPath); err != nil {
		return errors.Wrapf(err, "rename %s to %s", d.path, newPath)
	}
	d.path = newPath
	return nil
}

// Close unmaps and closes the file. Markers obtained from it must not be
// accessed afterwards.
func (d *Datafile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var result *multierror.Error
	if err := d.data.Flush(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "flush"))
	}
	if err := d.data.Unmap(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "unmap"))
	}
	if err := d.file.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "close"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return errors.Wrapf(err, "close datafile %s", d.path)
	}
	return nil
}

func (d *Datafile) trackTick(tick uint64) {
	if tick == 0 {
		return
	}
	if min := d.tickMin.Load(); min == 0 || tick < min {
		d.tickMin.Store(tick)
	}
	if tick > d.tickMax.Load() {
		d.tickMax.Store(tick)
	}
}
