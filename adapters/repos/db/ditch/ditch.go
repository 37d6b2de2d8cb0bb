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

package ditch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Kind distinguishes the purpose of a ditch.
type Kind int

const (
	// KindDocument is held by readers that dereference markers: document
	// lookups, tailing scans and read transactions.
	KindDocument Kind = iota
	// KindCompaction is held by the compactor for one pass and keeps the
	// collection from being unloaded.
	KindCompaction
	// KindDrop defers unlinking a retired file.
	KindDrop
	// KindRename defers swapping a datafile for its compactor file.
	KindRename
)

func (k Kind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindCompaction:
		return "compaction"
	case KindDrop:
		return "drop"
	case KindRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Handle is an outstanding observer. Every handle must be released exactly
// once; further releases are ignored.
type Handle struct {
	ditches  *Ditches
	seq      uint64
	kind     Kind
	released atomic.Bool
}

func (h *Handle) Kind() Kind {
	return h.kind
}

func (h *Handle) Release() {
	h.ditches.Release(h)
}

// Deferred is a disposal callback waiting for the observers that existed
// when it was created.
type Deferred struct {
	seq   uint64
	kind  Kind
	fid   uint64
	refs  atomic.Int64
	fired atomic.Bool
	fn    func()
}

func (d *Deferred) Kind() Kind {
	return d.kind
}

func (d *Deferred) Fid() uint64 {
	return d.fid
}

// Done reports whether the callback has run.
func (d *Deferred) Done() bool {
	return d.fired.Load()
}

// Ditches orders observers and disposal callbacks of one collection. A
// callback is held back until every observer that was outstanding at the
// time the callback was registered has been released. Observers acquired
// later cannot see the retired file and are not waited for.
type Ditches struct {
	logger logrus.FieldLogger

	mu        sync.Mutex
	seq       uint64
	observers map[uint64]*Handle
	pending   []*Deferred
	changed   chan struct{}
}

func New(logger logrus.FieldLogger) *Ditches {
	return &Ditches{
		logger:    logger,
		observers: map[uint64]*Handle{},
		changed:   make(chan struct{}),
	}
}

// Acquire registers a new observer.
func (d *Ditches) Acquire(kind Kind) *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	h := &Handle{ditches: d, seq: d.seq, kind: kind}
	d.observers[h.seq] = h
	d.notifyLocked()
	return h
}

// Release ends an observer and runs every callback that was only waiting
// for it. Callbacks run on the calling goroutine, in registration order,
// after the internal lock has been dropped.
func (d *Ditches) Release(h *Handle) {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}

	d.mu.Lock()
	delete(d.observers, h.seq)

	var ready []*Deferred
	remaining := d.pending[:0]
	for _, def := range d.pending {
		if def.seq > h.seq && def.refs.Add(-1) == 0 {
			ready = append(ready, def)
			continue
		}
		remaining = append(remaining, def)
	}
	for i := len(remaining); i < len(d.pending); i++ {
		d.pending[i] = nil
	}
	d.pending = remaining
	d.notifyLocked()
	d.mu.Unlock()

	d.run(ready)
}

// Defer registers fn to run once all currently outstanding observers have
// been released. Without outstanding observers fn runs immediately.
func (d *Ditches) Defer(kind Kind, fid uint64, fn func()) *Deferred {
	d.mu.Lock()
	d.seq++
	def := &Deferred{seq: d.seq, kind: kind, fid: fid, fn: fn}
	def.refs.Store(int64(len(d.observers)))
	if len(d.observers) == 0 {
		d.mu.Unlock()
		d.run([]*Deferred{def})
		return def
	}
	d.pending = append(d.pending, def)
	d.notifyLocked()
	d.mu.Unlock()

	return def
}

func (d *Ditches) run(ready []*Deferred) {
	for _, def := range ready {
		if !def.fired.CompareAndSwap(false, true) {
			continue
		}
		d.call(def)
	}
}

func (d *Ditches) call(def *Deferred) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"action": "ditch_" + def.kind.String(),
				"fid":    def.fid,
			}).Errorf("disposal callback panic: %v", r)
		}
	}()
	def.fn()
}

// Outstanding is the number of unreleased observers.
func (d *Ditches) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers)
}

// OutstandingOf counts unreleased observers of the given kind.
func (d *Ditches) OutstandingOf(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, h := range d.observers {
		if h.kind == kind {
			n++
		}
	}
	return n
}

// Pending is the number of callbacks still waiting for observers.
func (d *Ditches) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// PendingFor reports whether a callback for fid is still waiting.
func (d *Ditches) PendingFor(fid uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, def := range d.pending {
		if def.fid == fid {
			return true
		}
	}
	return false
}

// Wait blocks until there are neither observers nor pending callbacks, or
// ctx expires.
func (d *Ditches) Wait(ctx context.Context) error {
	for {
		d.mu.Lock()
		if len(d.observers) == 0 && len(d.pending) == 0 {
			d.mu.Unlock()
			return nil
		}
		changed := d.changed
		d.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Ditches) notifyLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
}
