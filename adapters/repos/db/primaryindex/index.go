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

package primaryindex

import (
	"sync"
	"sync/atomic"

	"github.com/spaolacci/murmur3"

	"github.com/weaviate/docstore/adapters/repos/db/datafile"
)

const shardCount = 64

// Position is where the current revision of a document lives.
type Position struct {
	Revision uint64
	Location datafile.Location
}

type entry struct {
	pos atomic.Pointer[Position]
}

type shard struct {
	sync.RWMutex
	entries map[string]*entry
}

// Index maps document keys to the position of their current marker. Entry
// positions are swapped atomically, so a reader resolving a key observes
// either the old or the new location of a relocated marker, never a mix.
type Index struct {
	shards [shardCount]*shard
	size   atomic.Int64
}

func New() *Index {
	idx := &Index{}
	for i := range idx.shards {
		idx.shards[i] = &shard{entries: map[string]*entry{}}
	}
	return idx
}

func (idx *Index) shardFor(key string) *shard {
	h := murmur3.New32()
	h.Write([]byte(key))
	return idx.shards[h.Sum32()%shardCount]
}

func (idx *Index) Lookup(key string) (Position, bool) {
	s := idx.shardFor(key)
	s.RLock()
	e, ok := s.entries[key]
	s.RUnlock()
	if !ok {
		return Position{}, false
	}
	return *e.pos.Load(), true
}

// Insert points key at pos and returns the previous position, if any.
func (idx *Index) Insert(key string, pos Position) (Position, bool) {
	s := idx.shardFor(key)
	s.Lock()
	defer s.Unlock()

	p := pos
	if e, ok := s.entries[key]; ok {
		old := e.pos.Swap(&p)
		return *old, true
	}

	e := &entry{}
	e.pos.Store(&p)
	s.entries[key] = e
	idx.size.Add(1)
	return Position{}, false
}

// Remove deletes key and returns its last position.
func (idx *Index) Remove(key string) (Position, bool) {
	s := idx.shardFor(key)
	s.Lock()
	defer s.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Position{}, false
	}
	delete(s.entries, key)
	idx.size.Add(-1)
	return *e.pos.Load(), true
}

// Relocate moves key from one physical location to another, keeping its
// revision. It is a no-op returning false unless key currently points at
// from.
func (idx *Index) Relocate(key string, from, to datafile.Location) bool {
	s := idx.shardFor(key)
	s.RLock()
	e, ok := s.entries[key]
	s.RUnlock()
	if !ok {
		return false
	}

	for {
		cur := e.pos.Load()
		if cur.Location != from {
			return false
		}
		next := &Position{Revision: cur.Revision, Location: to}
		if e.pos.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// IsCurrent reports whether key resolves to exactly the marker at loc.
func (idx *Index) IsCurrent(key string, loc datafile.Location) bool {
	pos, ok := idx.Lookup(key)
	return ok && pos.Location == loc
}

func (idx *Index) Size() int {
	return int(idx.size.Load())
}

// Range calls fn for every entry until fn returns false. Entries inserted
// or removed concurrently may or may not be visited.
func (idx *Index) Range(fn func(key string, pos Position) bool) {
	for _, s := range idx.shards {
		s.RLock()
		keys := make([]string, 0, len(s.entries))
		positions := make([]Position, 0, len(s.entries))
		for key, e := range s.entries {
			keys = append(keys, key)
			positions = append(positions, *e.pos.Load())
		}
		s.RUnlock()

		for i := range keys {
			if !fn(keys[i], positions[i]) {
				return
			}
		}
	}
}
