// Package mock provides deterministic identities and an in-memory
// chain so neurons can be exercised without a subtensor endpoint.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/wallet"
	"github.com/pkg/errors"
)

// Neuron is one registered slot on the mock subnet.
type Neuron struct {
	Account common.AccountID
	Stake   uint64
	Axon    *common.AxonInfo
	Permit  bool
}

// WeightsCall records one SetWeights submission.
type WeightsCall struct {
	Signer     common.AccountID
	NetUID     common.NetUID
	UIDs       []common.UID
	Weights    []uint16
	VersionKey uint64
}

// AxonCall records one ServeAxon submission.
type AxonCall struct {
	Signer common.AccountID
	NetUID common.NetUID
	Axon   common.AxonInfo
}

// Chain keeps an in-memory subnet. The reader half of face.ChainRw is
// implemented here; writers go through Bind so every submission has a
// signer, the way a real client signs with its hotkey. The block
// height only moves through ManualTick, keeping tests deterministic.
type Chain struct {
	mu      sync.Mutex
	netuid  common.NetUID
	block   uint64
	tempo   uint16
	neurons []*Neuron

	weights []WeightsCall
	axons   []AxonCall
	nonce   uint32
}

func NewChain(netuid common.NetUID) *Chain {
	return &Chain{netuid: netuid, block: 1, tempo: 100}
}

// ManualTick advances the chain by n blocks.
func (self *Chain) ManualTick(n uint64) uint64 {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.block += n
	return self.block
}

func (self *Chain) NetUID() common.NetUID {
	return self.netuid
}

// Register appends a neuron slot for the hotkey and returns its uid.
func (self *Chain) Register(account common.AccountID, stake uint64) common.UID {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.neurons = append(self.neurons, &Neuron{Account: account, Stake: stake})
	return common.UID(len(self.neurons) - 1)
}

func (self *Chain) SetStake(account common.AccountID, stake uint64) {
	self.mu.Lock()
	defer self.mu.Unlock()
	for _, n := range self.neurons {
		if n.Account == account {
			n.Stake = stake
		}
	}
}

func (self *Chain) SetPermit(uid common.UID, permit bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if int(uid) < len(self.neurons) {
		self.neurons[uid].Permit = permit
	}
}

// Replace swaps the hotkey behind a uid, as recycling a slot does.
func (self *Chain) Replace(uid common.UID, account common.AccountID, stake uint64) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if int(uid) < len(self.neurons) {
		self.neurons[uid] = &Neuron{Account: account, Stake: stake}
	}
}

func (self *Chain) SetTempo(tempo uint16) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.tempo = tempo
}

// WeightsCalls snapshots every recorded SetWeights submission.
func (self *Chain) WeightsCalls() []WeightsCall {
	self.mu.Lock()
	defer self.mu.Unlock()
	out := make([]WeightsCall, len(self.weights))
	copy(out, self.weights)
	return out
}

func (self *Chain) AxonCalls() []AxonCall {
	self.mu.Lock()
	defer self.mu.Unlock()
	out := make([]AxonCall, len(self.axons))
	copy(out, self.axons)
	return out
}

func (self *Chain) checkNetuid(netuid common.NetUID) error {
	if netuid != self.netuid {
		return errors.Errorf("mock chain serves netuid %d, not %d", self.netuid, netuid)
	}
	return nil
}

func (self *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.block, nil
}

func (self *Chain) SubnetworkN(ctx context.Context, netuid common.NetUID) (uint16, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := self.checkNetuid(netuid); err != nil {
		return 0, err
	}
	return uint16(len(self.neurons)), nil
}

func (self *Chain) KeyForUID(ctx context.Context, netuid common.NetUID, uid common.UID) (common.AccountID, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := self.checkNetuid(netuid); err != nil {
		return common.AccountID{}, err
	}
	if int(uid) >= len(self.neurons) {
		return common.AccountID{}, common.ErrNotFound
	}
	return self.neurons[uid].Account, nil
}

func (self *Chain) UIDForKey(ctx context.Context, netuid common.NetUID, key common.AccountID) (common.UID, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := self.checkNetuid(netuid); err != nil {
		return 0, err
	}
	for uid, n := range self.neurons {
		if n.Account == key {
			return common.UID(uid), nil
		}
	}
	return 0, common.ErrNotFound
}

func (self *Chain) AxonFor(ctx context.Context, netuid common.NetUID, key common.AccountID) (*common.AxonInfo, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := self.checkNetuid(netuid); err != nil {
		return nil, err
	}
	for _, n := range self.neurons {
		if n.Account == key {
			if n.Axon == nil {
				return nil, common.ErrNotFound
			}
			axon := *n.Axon
			return &axon, nil
		}
	}
	return nil, common.ErrNotFound
}

func (self *Chain) StakeFor(ctx context.Context, key common.AccountID) (uint64, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	for _, n := range self.neurons {
		if n.Account == key {
			return n.Stake, nil
		}
	}
	return 0, nil
}

func (self *Chain) Tempo(ctx context.Context, netuid common.NetUID) (uint16, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := self.checkNetuid(netuid); err != nil {
		return 0, err
	}
	return self.tempo, nil
}

func (self *Chain) ValidatorPermits(ctx context.Context, netuid common.NetUID) ([]bool, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := self.checkNetuid(netuid); err != nil {
		return nil, err
	}
	permits := make([]bool, len(self.neurons))
	for i, n := range self.neurons {
		permits[i] = n.Permit
	}
	return permits, nil
}

// Bind returns a view of the chain that signs as the given hotkey.
// The result satisfies face.ChainRw.
func (self *Chain) Bind(account common.AccountID) *Bound {
	return &Bound{Chain: self, account: account}
}

// Bound is a Chain plus a signing identity.
type Bound struct {
	*Chain
	account common.AccountID
}

func (self *Bound) SetWeights(ctx context.Context, netuid common.NetUID, uids []common.UID, weights []uint16, versionKey uint64) (string, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := self.checkNetuid(netuid); err != nil {
		return "", err
	}
	if len(uids) == 0 || len(uids) != len(weights) {
		return "", errors.Errorf("mock chain rejects %d uids with %d weights", len(uids), len(weights))
	}
	self.weights = append(self.weights, WeightsCall{
		Signer:     self.account,
		NetUID:     netuid,
		UIDs:       append([]common.UID(nil), uids...),
		Weights:    append([]uint16(nil), weights...),
		VersionKey: versionKey,
	})
	self.nonce++
	return fmt.Sprintf("0xmock%08x", self.nonce), nil
}

func (self *Bound) ServeAxon(ctx context.Context, netuid common.NetUID, axon *common.AxonInfo) (string, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := self.checkNetuid(netuid); err != nil {
		return "", err
	}
	found := false
	for _, n := range self.neurons {
		if n.Account == self.account {
			served := *axon
			n.Axon = &served
			found = true
		}
	}
	if !found {
		return "", errors.Errorf("hotkey %x is not registered on netuid %d", self.account[:4], netuid)
	}
	self.axons = append(self.axons, AxonCall{Signer: self.account, NetUID: netuid, Axon: *axon})
	self.nonce++
	return fmt.Sprintf("0xmock%08x", self.nonce), nil
}

// Keypairs derives n deterministic sr25519 identities.
func Keypairs(n int) ([]wallet.Keypair, error) {
	kps := make([]wallet.Keypair, n)
	for i := range kps {
		var seed [32]byte
		copy(seed[:], []byte("atom mock identity 32 byte seed "))
		seed[31] = byte(i + 1)
		kp, err := wallet.NewKeypair(wallet.KeyTypeSr25519, seed)
		if err != nil {
			return nil, err
		}
		kps[i] = kp
	}
	return kps, nil
}
