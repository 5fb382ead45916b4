// Package miner implements the serving side of a subnet neuron: it
// waits for the first metagraph sync, serves the axon and keeps the
// endpoint announced on chain.
package miner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/grigorimaxim422/atom/axon"
	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/grigorimaxim422/atom/common/face"
	"github.com/grigorimaxim422/atom/common/log"
	"github.com/grigorimaxim422/atom/metagraph"
	"github.com/grigorimaxim422/atom/monitor"
	"github.com/grigorimaxim422/atom/wallet"
)

type MinerLifecycle struct {
	common.LifecycleStatus
}

func (self *MinerLifecycle) PreDestroy() bool {
	return atomic.CompareAndSwapInt32(&self.Status, 6, 7)
}
func (self *MinerLifecycle) PostDestroy() bool {
	return atomic.CompareAndSwapInt32(&self.Status, 7, 8)
}

type Miner interface {
	Init()
	Start()
	Stop()
}

type miner struct {
	MinerLifecycle
	cfg    config.Miner
	netuid common.NetUID
	hotkey wallet.Keypair
	chain  face.ChainRw
	mg     *metagraph.Service
	axon   *axon.Axon
	bus    EventBus.Bus

	syncCh   chan struct{}
	syncOnce sync.Once

	mu     sync.Mutex
	closed chan struct{}
	wg     sync.WaitGroup
}

func NewMiner(cfg config.Miner, netuid common.NetUID, hotkey wallet.Keypair,
	chain face.ChainRw, mg *metagraph.Service, ax *axon.Axon, bus EventBus.Bus) Miner {
	return &miner{
		cfg:    cfg,
		netuid: netuid,
		hotkey: hotkey,
		chain:  chain,
		mg:     mg,
		axon:   ax,
		bus:    bus,
		syncCh: make(chan struct{}),
	}
}

func (self *miner) Init() {
	self.PreInit()
	defer self.PostInit()
	self.bus.SubscribeOnce(common.SyncDone, self.onSyncDone)
	if self.mg.Done() {
		self.onSyncDone()
	}
}

func (self *miner) onSyncDone() {
	self.syncOnce.Do(func() {
		log.Info("metagraph sync done, miner may serve")
		close(self.syncCh)
	})
}

func (self *miner) Start() {
	if !self.PreStart() {
		return
	}
	defer self.PostStart()

	self.mu.Lock()
	self.closed = make(chan struct{})
	closed := self.closed
	self.mu.Unlock()

	self.wg.Add(1)
	go self.work(closed)
}

func (self *miner) Stop() {
	if !self.PreStop() {
		return
	}
	defer self.PostStop()

	self.mu.Lock()
	if self.closed != nil {
		close(self.closed)
		self.closed = nil
	}
	self.mu.Unlock()
	self.wg.Wait()
	self.axon.Stop()
	log.Info("miner stopped")
}

func (self *miner) Destroy() {
	self.PreDestroy()
	defer self.PostDestroy()
}

// work gates serving on the first metagraph sync and the hotkey being
// registered, then keeps the axon announced.
func (self *miner) work(closed chan struct{}) {
	defer self.wg.Done()

	select {
	case <-self.syncCh:
	case <-closed:
		return
	}

	uid, ok := self.waitRegistered(closed)
	if !ok {
		return
	}
	log.Info("miner serving as uid %d on netuid %d", uid, self.netuid)

	if err := self.axon.Start(); err != nil {
		log.Error("start axon: %v", err)
		monitor.LogEvent("miner", "axon_error")
		return
	}
	self.announce()

	ticker := time.NewTicker(time.Duration(self.cfg.EpochLength) * common.BlockTime)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			self.announce()
		case <-closed:
			return
		}
	}
}

// waitRegistered polls the metagraph until the hotkey holds a slot.
// The lookup is local, so polling faster than the sync cadence is
// cheap and picks a fresh registration up right away.
func (self *miner) waitRegistered(closed chan struct{}) (common.UID, bool) {
	account := self.hotkey.PublicKey()
	warned := false
	for {
		if n, ok := self.mg.Metagraph().ByAccount(account); ok {
			return n.UID, true
		}
		if !warned {
			log.Warn("hotkey %s is not registered on netuid %d, waiting",
				account.Hex(), self.netuid)
			warned = true
		}
		select {
		case <-time.After(time.Second):
		case <-closed:
			return 0, false
		}
	}
}

func (self *miner) announce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := self.axon.Announce(ctx, self.chain, self.netuid); err != nil {
		log.Error("announce axon: %v", err)
		monitor.LogEvent("miner", "announce_error")
	}
}
