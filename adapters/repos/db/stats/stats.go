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

package stats

import (
	"fmt"
	"sort"
	"sync"
)

// Container holds the liveness counters of one datafile. Its values are only
// trustworthy once NumberUncollected is zero.
type Container struct {
	NumberAlive       int64
	NumberDead        int64
	NumberDeletions   int64
	NumberUncollected int64
	SizeAlive         int64
	SizeDead          int64
}

// Add applies delta to c.
func (c *Container) Add(delta Container) {
	c.NumberAlive += delta.NumberAlive
	c.NumberDead += delta.NumberDead
	c.NumberDeletions += delta.NumberDeletions
	c.NumberUncollected += delta.NumberUncollected
	c.SizeAlive += delta.SizeAlive
	c.SizeDead += delta.SizeDead
}

// IsEmpty reports whether the file holds nothing worth keeping track of.
func (c Container) IsEmpty() bool {
	return c.NumberAlive == 0 && c.NumberDead == 0 && c.NumberDeletions == 0
}

func (c Container) String() string {
	return fmt.Sprintf("alive=%d/%dB dead=%d/%dB deletions=%d uncollected=%d",
		c.NumberAlive, c.SizeAlive, c.NumberDead, c.SizeDead, c.NumberDeletions,
		c.NumberUncollected)
}

// Statistics maps file ids to their counters.
type Statistics struct {
	sync.RWMutex
	containers map[uint64]*Container
}

func New() *Statistics {
	return &Statistics{containers: map[uint64]*Container{}}
}

// Create registers an empty container for fid, keeping an existing one.
func (s *Statistics) Create(fid uint64) {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.containers[fid]; !ok {
		s.containers[fid] = &Container{}
	}
}

// Get returns a copy of the counters of fid. Unknown files report zero.
func (s *Statistics) Get(fid uint64) Container {
	s.RLock()
	defer s.RUnlock()

	if c, ok := s.containers[fid]; ok {
		return *c
	}
	return Container{}
}

func (s *Statistics) Exists(fid uint64) bool {
	s.RLock()
	defer s.RUnlock()

	_, ok := s.containers[fid]
	return ok
}

// Update adds delta to the counters of fid. It reports false and changes
// nothing if fid is unknown, which happens when the file was removed in the
// meantime.
func (s *Statistics) Update(fid uint64, delta Container) bool {
	s.Lock()
	defer s.Unlock()

	c, ok := s.containers[fid]
	if !ok {
		return false
	}
	c.Add(delta)
	return true
}

// Replace installs c as the counters of fid, discarding previous values.
func (s *Statistics) Replace(fid uint64, c Container) {
	s.Lock()
	defer s.Unlock()

	s.containers[fid] = &c
}

func (s *Statistics) Remove(fid uint64) {
	s.Lock()
	defer s.Unlock()

	delete(s.containers, fid)
}

// Fids returns all registered file ids in ascending order.
func (s *Statistics) Fids() []uint64 {
	s.RLock()
	defer s.RUnlock()

	fids := make([]uint64, 0, len(s.containers))
	for fid := range s.containers {
		fids = append(fids, fid)
	}
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })
	return fids
}

// All sums up the counters of all files.
func (s *Statistics) All() Container {
	s.RLock()
	defer s.RUnlock()

	var total Container
	for _, c := range s.containers {
		total.Add(*c)
	}
	return total
}
