package common

import (
	"encoding/hex"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// NetUID identifies a subnetwork on the chain.
type NetUID uint16

// UID identifies a neuron slot inside one subnetwork.
type UID uint16

// AccountID is a raw 32-byte public key as the chain stores it.
type AccountID [32]byte

func (self AccountID) Hex() string {
	return "0x" + hex.EncodeToString(self[:])
}

func (self AccountID) Bytes() []byte {
	return self[:]
}

func (self AccountID) IsZero() bool {
	return self == AccountID{}
}

func HexToAccountID(s string) (AccountID, error) {
	var id AccountID
	s = strings.TrimPrefix(s, "0x")
	byt, err := hex.DecodeString(s)
	if err != nil {
		return id, errors.Wrap(err, "decode account id")
	}
	if len(byt) != 32 {
		return id, errors.Errorf("account id must be 32 bytes, got %d", len(byt))
	}
	copy(id[:], byt)
	return id, nil
}

// BlockPoint names one position of the chain.
type BlockPoint struct {
	Height uint64
	Hash   string
}

func (self *BlockPoint) String() string {
	return strconv.FormatUint(self.Height, 10) + "," + self.Hash
}

// AxonInfo is a served endpoint as announced on chain.
type AxonInfo struct {
	Block    uint64
	Version  uint32
	IP       string
	Port     uint16
	IPType   uint8
	Protocol uint8
}

func (self *AxonInfo) Addr() string {
	return self.IP + ":" + strconv.Itoa(int(self.Port))
}

// BlockTime is the target block interval of the chain.
const BlockTime = 12 * time.Second

// RaoPerTao converts between the chain's integer stake unit and tao.
const RaoPerTao = 1_000_000_000

/**

0->1->2->3->4->5->6->7->8
		 ^|_______\
*/
// 0:origin 1:initing 2:inited 3:starting 4:started 5:stopping 6:stopped 7:destroying 8:destroyed
type LifecycleStatus struct {
	Status int32
}

func (self *LifecycleStatus) PreInit() bool {
	return atomic.CompareAndSwapInt32(&self.Status, 0, 1)
}

func (self *LifecycleStatus) PostInit() bool {
	return atomic.CompareAndSwapInt32(&self.Status, 1, 2)
}

func (self *LifecycleStatus) PreStart() bool {
	return atomic.CompareAndSwapInt32(&self.Status, 2, 3) || atomic.CompareAndSwapInt32(&self.Status, 6, 3)
}

func (self *LifecycleStatus) PostStart() bool {
	return atomic.CompareAndSwapInt32(&self.Status, 3, 4)
}

func (self *LifecycleStatus) PreStop() bool {
	return atomic.CompareAndSwapInt32(&self.Status, 4, 5)
}

func (self *LifecycleStatus) PostStop() bool {
	return atomic.CompareAndSwapInt32(&self.Status, 5, 6)
}

func (self *LifecycleStatus) Started() bool {
	return atomic.LoadInt32(&self.Status) == 4
}

// Event topics published on the node bus.
const (
	SyncDone         = "node:sync:done"
	MetagraphUpdated = "metagraph:updated"
	WeightsSet       = "validator:weights:set"
	ChainHead        = "chain:head"
	ChainReorg       = "chain:reorg"
)
