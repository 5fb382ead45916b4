package metagraph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/wallet"
)

type fakeNeuron struct {
	account common.AccountID
	stake   uint64
	axon    *common.AxonInfo
	permit  bool
}

type fakeReader struct {
	mu      sync.Mutex
	block   uint64
	neurons []fakeNeuron
	fails   int
	syncs   int
}

func (self *fakeReader) failNext(n int) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.fails = n
}

func (self *fakeReader) BlockNumber(ctx context.Context) (uint64, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.fails > 0 {
		self.fails--
		return 0, common.StrError{E: "node unavailable"}
	}
	self.syncs++
	return self.block, nil
}

func (self *fakeReader) SubnetworkN(ctx context.Context, netuid common.NetUID) (uint16, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return uint16(len(self.neurons)), nil
}

func (self *fakeReader) KeyForUID(ctx context.Context, netuid common.NetUID, uid common.UID) (common.AccountID, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if int(uid) >= len(self.neurons) {
		return common.AccountID{}, common.ErrNotFound
	}
	return self.neurons[uid].account, nil
}

func (self *fakeReader) UIDForKey(ctx context.Context, netuid common.NetUID, key common.AccountID) (common.UID, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	for uid, n := range self.neurons {
		if n.account == key {
			return common.UID(uid), nil
		}
	}
	return 0, common.ErrNotFound
}

func (self *fakeReader) AxonFor(ctx context.Context, netuid common.NetUID, key common.AccountID) (*common.AxonInfo, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	for _, n := range self.neurons {
		if n.account == key {
			if n.axon == nil {
				return nil, common.ErrNotFound
			}
			axon := *n.axon
			return &axon, nil
		}
	}
	return nil, common.ErrNotFound
}

func (self *fakeReader) StakeFor(ctx context.Context, key common.AccountID) (uint64, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	for _, n := range self.neurons {
		if n.account == key {
			return n.stake, nil
		}
	}
	return 0, nil
}

func (self *fakeReader) Tempo(ctx context.Context, netuid common.NetUID) (uint16, error) {
	return 100, nil
}

func (self *fakeReader) ValidatorPermits(ctx context.Context, netuid common.NetUID) ([]bool, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	permits := make([]bool, len(self.neurons))
	for i, n := range self.neurons {
		permits[i] = n.permit
	}
	return permits, nil
}

func account(b byte) common.AccountID {
	var id common.AccountID
	id[0] = b
	return id
}

func genReader() *fakeReader {
	return &fakeReader{
		block: 100,
		neurons: []fakeNeuron{
			{account: account(1), stake: 5000, permit: true,
				axon: &common.AxonInfo{IP: "10.0.0.1", Port: 8091, IPType: 4, Protocol: 4}},
			{account: account(2), stake: 100},
			{account: account(3), stake: 0,
				axon: &common.AxonInfo{IP: "10.0.0.3", Port: 8091, IPType: 4, Protocol: 4}},
		},
	}
}

func TestSyncPopulates(t *testing.T) {
	reader := genReader()
	mg := New(2, 42)
	svc := NewService(mg, reader, EventBus.New(), 0)

	if err := svc.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if mg.Block() != 100 {
		t.Fatalf("expected block 100, got %d", mg.Block())
	}
	if mg.N() != 3 {
		t.Fatalf("expected 3 neurons, got %d", mg.N())
	}

	n, ok := mg.ByUID(0)
	if !ok || n.Stake != 5000 {
		t.Fatalf("unexpected uid 0 neuron %+v", n)
	}
	if n.Axon == nil || n.Axon.Addr() != "10.0.0.1:8091" {
		t.Fatalf("unexpected axon %+v", n.Axon)
	}
	ss58 := wallet.EncodeSS58(account(2), 42)
	if n, ok := mg.ByHotkey(ss58); !ok || n.UID != 1 {
		t.Fatalf("hotkey lookup failed: %+v %v", n, ok)
	}
	if got := mg.StakeFor(ss58); got != 100 {
		t.Fatalf("expected stake 100, got %d", got)
	}
	if mg.StakeFor("unknown") != 0 {
		t.Fatal("unknown hotkey must report zero stake")
	}
	if !mg.PermitForUID(0) || mg.PermitForUID(1) {
		t.Fatal("permit bits out of order")
	}
	if served := mg.Served(); len(served) != 2 {
		t.Fatalf("expected 2 served neurons, got %d", len(served))
	}
	if staked := mg.WithMinStake(100); len(staked) != 2 {
		t.Fatalf("expected 2 staked neurons, got %d", len(staked))
	}
}

func TestSyncPublishesOnce(t *testing.T) {
	reader := genReader()
	mg := New(2, 42)
	bus := EventBus.New()
	svc := NewService(mg, reader, bus, 0)

	updated := 0
	done := 0
	bus.Subscribe(common.MetagraphUpdated, func(block uint64) { updated++ })
	bus.Subscribe(common.SyncDone, func() { done++ })

	if err := svc.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !svc.Done() {
		t.Fatal("first sync must mark the service done")
	}
	if err := svc.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 update events, got %d", updated)
	}
	if done != 1 {
		t.Fatalf("SyncDone must fire exactly once, got %d", done)
	}
}

func TestServiceResyncOnHead(t *testing.T) {
	reader := genReader()
	mg := New(2, 42)
	bus := EventBus.New()
	svc := NewService(mg, reader, bus, 10)

	updates := make(chan uint64, 8)
	bus.Subscribe(common.MetagraphUpdated, func(block uint64) { updates <- block })

	svc.Init()
	svc.Start()
	defer svc.Stop()

	select {
	case <-updates:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for first sync")
	}

	// A head below the resync interval must not trigger anything.
	bus.Publish(common.ChainHead, common.BlockPoint{Height: 105, Hash: "h105"})
	select {
	case block := <-updates:
		t.Fatalf("unexpected resync at block %d", block)
	case <-time.After(200 * time.Millisecond):
	}

	reader.mu.Lock()
	reader.block = 110
	reader.neurons[1].stake = 9000
	reader.mu.Unlock()

	bus.Publish(common.ChainHead, common.BlockPoint{Height: 110, Hash: "h110"})
	select {
	case block := <-updates:
		if block != 110 {
			t.Fatalf("expected resync at block 110, got %d", block)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for resync")
	}
	ss58 := wallet.EncodeSS58(account(2), 42)
	if got := mg.StakeFor(ss58); got != 9000 {
		t.Fatalf("expected refreshed stake 9000, got %d", got)
	}
}

func TestServiceRetriesFirstSync(t *testing.T) {
	reader := genReader()
	reader.failNext(1)
	mg := New(2, 42)
	bus := EventBus.New()
	svc := NewService(mg, reader, bus, 10)

	done := make(chan struct{}, 1)
	bus.Subscribe(common.SyncDone, func() { done <- struct{}{} })

	svc.Init()
	svc.Start()
	defer svc.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for retried first sync")
	}
	if mg.N() != 3 {
		t.Fatalf("expected 3 neurons after retry, got %d", mg.N())
	}
}

func TestServiceResyncOnReorg(t *testing.T) {
	reader := genReader()
	mg := New(2, 42)
	bus := EventBus.New()
	svc := NewService(mg, reader, bus, 10)

	updates := make(chan uint64, 8)
	bus.Subscribe(common.MetagraphUpdated, func(block uint64) { updates <- block })

	svc.Init()
	svc.Start()
	defer svc.Stop()

	select {
	case <-updates:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for first sync")
	}

	bus.Publish(common.ChainReorg,
		common.BlockPoint{Height: 100, Hash: "a"},
		common.BlockPoint{Height: 100, Hash: "b"})
	select {
	case <-updates:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reorg resync")
	}
}

func TestHotkeyReplacementReindexes(t *testing.T) {
	reader := genReader()
	mg := New(2, 42)
	svc := NewService(mg, reader, EventBus.New(), 0)
	ctx := context.Background()

	if err := svc.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	oldKey := wallet.EncodeSS58(account(2), 42)

	reader.mu.Lock()
	reader.neurons[1] = fakeNeuron{account: account(9), stake: 777}
	reader.mu.Unlock()
	if err := svc.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	if _, ok := mg.ByHotkey(oldKey); ok {
		t.Fatal("replaced hotkey must drop out of the index")
	}
	n, ok := mg.ByAccount(account(9))
	if !ok || n.UID != 1 || n.Stake != 777 {
		t.Fatalf("replacement neuron not indexed: %+v %v", n, ok)
	}
}
