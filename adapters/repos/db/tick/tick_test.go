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

package tick

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServer(t *testing.T) {
	s := New(10)
	assert.Equal(t, uint64(11), s.Next())
	assert.Equal(t, uint64(11), s.Current())

	s.Observe(5)
	assert.Equal(t, uint64(11), s.Current())
	s.Observe(100)
	assert.Equal(t, uint64(101), s.Next())
}

func TestServerConcurrentUnique(t *testing.T) {
	s := New(0)
	seen := make([]uint64, 0, 800)
	lock := sync.Mutex{}
	wg := sync.WaitGroup{}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tick := s.Next()
				lock.Lock()
				seen = append(seen, tick)
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	unique := map[uint64]struct{}{}
	for _, tick := range seen {
		unique[tick] = struct{}{}
	}
	assert.Len(t, unique, 800)
	assert.Equal(t, uint64(800), s.Current())
}
