// Package organic runs a validator's organic scoring loop: user
// requests enter through an axon route, wait in a queue and get
// replayed against miners at a rate that adapts to the backlog.
package organic

import (
	"math/rand"
	"sync"
	"time"
)

// OrganicQueue holds samples waiting to be scored.
type OrganicQueue interface {
	Add(sample interface{})
	// Sample removes and returns a random sample, nil when empty.
	Sample() interface{}
	Size() int
}

// MemoryQueue is a bounded in-memory queue that drops its oldest
// sample when full.
type MemoryQueue struct {
	mu    sync.Mutex
	max   int
	items []interface{}
	rand  *rand.Rand
}

func NewMemoryQueue(max int) *MemoryQueue {
	if max <= 0 {
		max = 1000
	}
	return &MemoryQueue{
		max:  max,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (self *MemoryQueue) Add(sample interface{}) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if len(self.items) >= self.max {
		self.items = self.items[1:]
	}
	self.items = append(self.items, sample)
}

func (self *MemoryQueue) Sample() interface{} {
	self.mu.Lock()
	defer self.mu.Unlock()
	n := len(self.items)
	if n == 0 {
		return nil
	}
	i := self.rand.Intn(n)
	sample := self.items[i]
	self.items[i] = self.items[n-1]
	self.items = self.items[:n-1]
	return sample
}

func (self *MemoryQueue) Size() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.items)
}
