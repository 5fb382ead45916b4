// Package metagraph mirrors the registered neurons of one subnet and
// keeps the mirror fresh against the chain.
package metagraph

import (
	"sync"

	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/wallet"
)

// Neuron is one registered slot as last synced.
type Neuron struct {
	UID     common.UID
	Hotkey  string
	Account common.AccountID
	Stake   uint64
	Axon    *common.AxonInfo
}

// Metagraph is a point-in-time copy of the subnet registry. All reads
// take the read lock; Service swaps the whole content under the write
// lock, so returned neurons are safe to keep.
type Metagraph struct {
	netuid common.NetUID
	prefix uint16

	mu      sync.RWMutex
	block   uint64
	neurons []Neuron
	permits []bool
	byKey   map[common.AccountID]common.UID
	bySS58  map[string]common.UID
}

func New(netuid common.NetUID, ss58Prefix uint16) *Metagraph {
	return &Metagraph{
		netuid: netuid,
		prefix: ss58Prefix,
		byKey:  make(map[common.AccountID]common.UID),
		bySS58: make(map[string]common.UID),
	}
}

func (self *Metagraph) NetUID() common.NetUID {
	return self.netuid
}

// Block reports the chain height of the last completed sync, zero
// before the first one.
func (self *Metagraph) Block() uint64 {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.block
}

func (self *Metagraph) N() int {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return len(self.neurons)
}

// Neurons copies the current registry.
func (self *Metagraph) Neurons() []Neuron {
	self.mu.RLock()
	defer self.mu.RUnlock()
	out := make([]Neuron, len(self.neurons))
	copy(out, self.neurons)
	return out
}

func (self *Metagraph) ByUID(uid common.UID) (Neuron, bool) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	if int(uid) >= len(self.neurons) {
		return Neuron{}, false
	}
	return self.neurons[uid], true
}

// ByHotkey resolves an ss58 hotkey to its neuron.
func (self *Metagraph) ByHotkey(ss58 string) (Neuron, bool) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	uid, ok := self.bySS58[ss58]
	if !ok {
		return Neuron{}, false
	}
	return self.neurons[uid], true
}

func (self *Metagraph) ByAccount(key common.AccountID) (Neuron, bool) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	uid, ok := self.byKey[key]
	if !ok {
		return Neuron{}, false
	}
	return self.neurons[uid], true
}

// StakeFor reports the stake behind an ss58 hotkey, zero when the
// hotkey is not registered.
func (self *Metagraph) StakeFor(ss58 string) uint64 {
	n, ok := self.ByHotkey(ss58)
	if !ok {
		return 0
	}
	return n.Stake
}

// PermitForUID reports whether the slot holds a validator permit.
func (self *Metagraph) PermitForUID(uid common.UID) bool {
	self.mu.RLock()
	defer self.mu.RUnlock()
	if int(uid) >= len(self.permits) {
		return false
	}
	return self.permits[uid]
}

// WithMinStake lists neurons whose stake reaches min.
func (self *Metagraph) WithMinStake(min uint64) []Neuron {
	self.mu.RLock()
	defer self.mu.RUnlock()
	var out []Neuron
	for _, n := range self.neurons {
		if n.Stake >= min {
			out = append(out, n)
		}
	}
	return out
}

// Served lists neurons that announce an axon endpoint.
func (self *Metagraph) Served() []Neuron {
	self.mu.RLock()
	defer self.mu.RUnlock()
	var out []Neuron
	for _, n := range self.neurons {
		if n.Axon != nil {
			out = append(out, n)
		}
	}
	return out
}

func (self *Metagraph) update(block uint64, neurons []Neuron, permits []bool) {
	byKey := make(map[common.AccountID]common.UID, len(neurons))
	bySS58 := make(map[string]common.UID, len(neurons))
	for i := range neurons {
		neurons[i].Hotkey = wallet.EncodeSS58(neurons[i].Account, self.prefix)
		byKey[neurons[i].Account] = neurons[i].UID
		bySS58[neurons[i].Hotkey] = neurons[i].UID
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	self.block = block
	self.neurons = neurons
	self.permits = permits
	self.byKey = byKey
	self.bySS58 = bySS58
}
