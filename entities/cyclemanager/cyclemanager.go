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
	"context"
	"sync"

	"github.com/pkg/errors"
)

// CycleManager runs a set of callbacks in a background loop paced by a
// CycleTicker.
type CycleManager interface {
	Start()
	// StopAndWait aborts the running cycle and waits until the loop has
	// exited or ctx expires.
	StopAndWait(ctx context.Context) error
	Running() bool
	// Wake starts the next cycle without waiting for the ticker interval.
	Wake()
}

type cycleManager struct {
	mu sync.Mutex

	callbacks CycleCallbacks
	ticker    CycleTicker

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a manager that runs callbacks whenever ticker ticks.
func New(ticker CycleTicker, callbacks CycleCallbacks) CycleManager {
	return &cycleManager{
		callbacks: callbacks,
		ticker:    ticker,
	}
}

// Start launches the loop. It does nothing if the loop is already running.
func (c *cycleManager) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	// a loop stopped without waiting still owns the ticker
	if c.done != nil {
		<-c.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.loop(ctx, c.done)
}

func (c *cycleManager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	c.ticker.Start()
	defer c.ticker.Stop()

	shouldAbort := func() bool { return ctx.Err() != nil }
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ticker.C():
		}
		if shouldAbort() {
			return
		}
		c.ticker.CycleExecuted(c.callbacks.CycleCallback(shouldAbort))
	}
}

func (c *cycleManager) StopAndWait(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.cancel()
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for cycle to stop")
	}
}

func (c *cycleManager) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *cycleManager) Wake() {
	c.ticker.Wake()
}
