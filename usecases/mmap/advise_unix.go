//go:build darwin || linux

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

package mmap

import "golang.org/x/sys/unix"

// Advise passes an access pattern hint for m to the kernel.
func Advise(m MMap, advice Advice) error {
	if len(m) == 0 {
		return nil
	}
	return unix.Madvise(m, toMadvise(advice))
}

func toMadvise(advice Advice) int {
	switch advice {
	case AdviceSequential:
		return unix.MADV_SEQUENTIAL
	case AdviceRandom:
		return unix.MADV_RANDOM
	case AdviceWillNeed:
		return unix.MADV_WILLNEED
	default:
		return unix.MADV_NORMAL
	}
}
