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

import "sync/atomic"

// Server hands out strictly increasing ticks. Ticks order markers across all
// files of an engine and double as file ids and revision ids.
type Server struct {
	current atomic.Uint64
}

// New returns a server whose first tick is start+1.
func New(start uint64) *Server {
	s := &Server{}
	s.current.Store(start)
	return s
}

// Next allocates a new tick.
func (s *Server) Next() uint64 {
	return s.current.Add(1)
}

// Current returns the last tick handed out.
func (s *Server) Current() uint64 {
	return s.current.Load()
}

// Observe raises the server to at least tick, used when ticks are found on
// disk during startup.
func (s *Server) Observe(tick uint64) {
	for {
		cur := s.current.Load()
		if tick <= cur || s.current.CompareAndSwap(cur, tick) {
			return
		}
	}
}
