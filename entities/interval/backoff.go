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

package interval

import (
	"sort"
	"sync"
	"time"
)

// defaultSteps are the pauses after the first, second, ... consecutive
// failure of a background task. The last step repeats.
var defaultSteps = []time.Duration{
	time.Second,
	10 * time.Second,
	time.Minute,
	5 * time.Minute,
}

// Backoff gates a periodically polled task after failures. It does not
// schedule anything itself; the poller asks Ready before each attempt.
type Backoff struct {
	mu        sync.Mutex
	steps     []time.Duration
	failures  int
	notBefore time.Time
	now       func() time.Time
}

// NewBackoff returns a Backoff with the given steps, sorted ascending, or
// defaultSteps when none are given.
func NewBackoff(steps ...time.Duration) *Backoff {
	if len(steps) == 0 {
		steps = defaultSteps
	} else {
		steps = append([]time.Duration(nil), steps...)
		sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })
	}
	return &Backoff{steps: steps, now: time.Now}
}

// Failed records a failed attempt. The next attempt is allowed once the
// step for the current number of failures has passed.
func (b *Backoff) Failed() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < len(b.steps) {
		b.failures++
	}
	b.notBefore = b.now().Add(b.steps[b.failures-1])
}

// Ready reports whether an attempt may be made now.
func (b *Backoff) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.notBefore)
}

// Failures is the number of failures since the last reset, capped at the
// number of steps.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset clears the failure history after a successful attempt.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.notBefore = time.Time{}
}
