// Package keylock serialises work on the same key while letting unrelated keys
// proceed in parallel. Keys are hashed onto a fixed set of mutex stripes.
package keylock

import (
	"hash/fnv"
	"sort"
	"sync"
)

// DefaultStripes is used when New is given a non-positive count.
const DefaultStripes = 256

// Striped is a fixed-size array of mutexes indexed by key hash.
type Striped struct {
	stripes []sync.Mutex
}

// New creates a Striped lock with n stripes.
func New(n int) *Striped {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

func (s *Striped) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s.stripes)))
}

// Lock locks the stripe for key and returns its unlock function.
func (s *Striped) Lock(key string) func() {
	m := &s.stripes[s.index(key)]
	m.Lock()
	return m.Unlock
}

// LockAll locks the stripes of every key in ascending stripe order, so two
// callers locking overlapping key sets cannot deadlock.
func (s *Striped) LockAll(keys ...string) func() {
	seen := make(map[int]bool, len(keys))
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		i := s.index(k)
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		s.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			s.stripes[idx[j]].Unlock()
		}
	}
}
