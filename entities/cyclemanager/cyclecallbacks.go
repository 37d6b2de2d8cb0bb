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
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type (
	// ShouldAbortCallback reports whether the manager was asked to stop, so
	// that long running callbacks can return early.
	ShouldAbortCallback func() bool
	// CycleCallback does one round of background work. The return value
	// tells whether any work was done.
	CycleCallback func(shouldAbort ShouldAbortCallback) bool
)

var ErrCallbackNotFound = errors.New("callback not found")

// CycleCallbacks is a container of callbacks that acts as a single callback
// towards a CycleManager.
type CycleCallbacks interface {
	Register(id string, cycleCallback CycleCallback) CycleCallbackCtrl
	CycleCallback(shouldAbort ShouldAbortCallback) bool
}

// CycleCallbackCtrl controls a registered callback.
type CycleCallbackCtrl interface {
	IsActive() bool
	Activate() error
	// Deactivate and Unregister wait for a running invocation to finish or
	// ctx to expire.
	Deactivate(ctx context.Context) error
	Unregister(ctx context.Context) error
}

type cycleCallbacks struct {
	sync.Mutex

	logger        logrus.FieldLogger
	customId      string
	routinesLimit int
	nextId        uint32
	order         []uint32
	callbacks     map[uint32]*callbackMeta
}

type callbackMeta struct {
	customId string
	callback CycleCallback
	active   bool
	// closed once the current invocation is over, nil while idle
	running chan struct{}
}

// NewCycleCallbacks returns a container running up to routinesLimit
// callbacks in parallel.
func NewCycleCallbacks(id string, logger logrus.FieldLogger, routinesLimit int) CycleCallbacks {
	if routinesLimit < 1 {
		routinesLimit = 1
	}
	return &cycleCallbacks{
		logger:        logger,
		customId:      id,
		routinesLimit: routinesLimit,
		callbacks:     map[uint32]*callbackMeta{},
	}
}

func (c *cycleCallbacks) Register(id string, cycleCallback CycleCallback) CycleCallbackCtrl {
	c.Lock()
	defer c.Unlock()

	callbackId := c.nextId
	c.nextId++
	c.order = append(c.order, callbackId)
	c.callbacks[callbackId] = &callbackMeta{
		customId: id,
		callback: cycleCallback,
		active:   true,
	}

	return &cycleCallbackCtrl{callbacks: c, callbackId: callbackId, customId: id}
}

func (c *cycleCallbacks) CycleCallback(shouldAbort ShouldAbortCallback) bool {
	eg := &errgroup.Group{}
	eg.SetLimit(c.routinesLimit)

	lock := new(sync.Mutex)
	executed := false

	c.Lock()
	ids := make([]uint32, len(c.order))
	copy(ids, c.order)
	c.Unlock()

	for _, callbackId := range ids {
		if shouldAbort() {
			break
		}

		callbackId := callbackId
		eg.Go(func() error {
			// conditions may have changed while waiting for a free routine
			if shouldAbort() {
				return nil
			}

			c.Lock()
			meta, ok := c.callbacks[callbackId]
			if !ok || !meta.active {
				c.Unlock()
				return nil
			}
			running := make(chan struct{})
			meta.running = running
			c.Unlock()

			defer c.finish(meta, running)
			ex := meta.callback(shouldAbort)

			lock.Lock()
			executed = ex || executed
			lock.Unlock()
			return nil
		})
	}

	eg.Wait()
	return executed
}

func (c *cycleCallbacks) finish(meta *callbackMeta, running chan struct{}) {
	if r := recover(); r != nil {
		c.logger.WithFields(logrus.Fields{
			"action":       "cyclemanager",
			"callback_id":  meta.customId,
			"callbacks_id": c.customId,
		}).Errorf("callback panic: %v", r)
	}

	c.Lock()
	if meta.running == running {
		meta.running = nil
	}
	c.Unlock()
	close(running)
}

// mutate applies fn once the callback is not running.
func (c *cycleCallbacks) mutate(ctx context.Context, callbackId uint32,
	fn func(meta *callbackMeta),
) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.Lock()
		meta, ok := c.callbacks[callbackId]
		if !ok {
			c.Unlock()
			return ErrCallbackNotFound
		}
		running := meta.running
		if running == nil {
			fn(meta)
			c.Unlock()
			return nil
		}
		c.Unlock()

		select {
		case <-running:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type cycleCallbackCtrl struct {
	callbacks  *cycleCallbacks
	callbackId uint32
	customId   string
}

func (ctrl *cycleCallbackCtrl) IsActive() bool {
	c := ctrl.callbacks
	c.Lock()
	defer c.Unlock()

	meta, ok := c.callbacks[ctrl.callbackId]
	return ok && meta.active
}

func (ctrl *cycleCallbackCtrl) Activate() error {
	c := ctrl.callbacks
	c.Lock()
	defer c.Unlock()

	meta, ok := c.callbacks[ctrl.callbackId]
	if !ok {
		return errors.Wrapf(ErrCallbackNotFound, "activate callback %q of %q", ctrl.customId, c.customId)
	}
	meta.active = true
	return nil
}

func (ctrl *cycleCallbackCtrl) Deactivate(ctx context.Context) error {
	err := ctrl.callbacks.mutate(ctx, ctrl.callbackId, func(meta *callbackMeta) {
		meta.active = false
	})
	if err != nil {
		return errors.Wrapf(err, "deactivate callback %q of %q", ctrl.customId, ctrl.callbacks.customId)
	}
	return nil
}

func (ctrl *cycleCallbackCtrl) Unregister(ctx context.Context) error {
	c := ctrl.callbacks
	err := c.mutate(ctx, ctrl.callbackId, func(meta *callbackMeta) {
		delete(c.callbacks, ctrl.callbackId)
		for i, id := range c.order {
			if id == ctrl.callbackId {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	})
	if errors.Is(err, ErrCallbackNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "unregister callback %q of %q", ctrl.customId, c.customId)
	}
	return nil
}
