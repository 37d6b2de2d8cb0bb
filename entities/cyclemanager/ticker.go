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

package cyclemanager

import (
	"sync"
	"time"
)

// CycleTicker decides when the next cycle of a CycleManager starts.
type CycleTicker interface {
	Start()
	Stop()
	C() <-chan time.Time
	// CycleExecuted re-arms the ticker once a cycle has finished. executed
	// tells whether the cycle did useful work.
	CycleExecuted(executed bool)
	// Wake requests an immediate cycle.
	Wake()
}

// NewFixedTicker ticks every interval regardless of the cycle outcome.
func NewFixedTicker(interval time.Duration) CycleTicker {
	return newTicker(interval, interval)
}

// NewWorkAwareTicker ticks after idle when the previous cycle found nothing
// to do and after worked when it did work, so that work left over by a busy
// cycle is picked up quickly.
func NewWorkAwareTicker(idle, worked time.Duration) CycleTicker {
	return newTicker(idle, worked)
}

type ticker struct {
	sync.Mutex

	idle    time.Duration
	worked  time.Duration
	running bool
	timer   *time.Timer
	ticks   chan time.Time
}

func newTicker(idle, worked time.Duration) *ticker {
	if idle <= 0 {
		idle = time.Second
	}
	if worked <= 0 {
		worked = idle
	}
	return &ticker{
		idle:   idle,
		worked: worked,
		ticks:  make(chan time.Time, 1),
	}
}

func (t *ticker) Start() {
	t.Lock()
	defer t.Unlock()

	if t.running {
		return
	}
	t.running = true
	t.timer = time.AfterFunc(t.idle, t.fire)
}

func (t *ticker) Stop() {
	t.Lock()
	defer t.Unlock()

	if !t.running {
		return
	}
	t.running = false
	t.timer.Stop()
	select {
	case <-t.ticks:
	default:
	}
}

func (t *ticker) C() <-chan time.Time {
	return t.ticks
}

func (t *ticker) CycleExecuted(executed bool) {
	t.Lock()
	defer t.Unlock()

	if !t.running {
		return
	}
	next := t.idle
	if executed {
		next = t.worked
	}
	t.timer.Stop()
	t.timer.Reset(next)
}

func (t *ticker) Wake() {
	t.Lock()
	running := t.running
	t.Unlock()

	if running {
		t.fire()
	}
}

func (t *ticker) fire() {
	select {
	case t.ticks <- time.Now():
	default:
	}
}
