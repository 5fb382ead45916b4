// Package node assembles one subnet participant out of the configured
// parts: wallet, chain client, head tracker, metagraph service and the
// optional miner and validator backbones. Subnet-specific behavior
// comes in through Hooks, everything else is generic plumbing.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/grigorimaxim422/atom/axon"
	"github.com/grigorimaxim422/atom/chain"
	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/grigorimaxim422/atom/common/log"
	"github.com/grigorimaxim422/atom/dendrite"
	"github.com/grigorimaxim422/atom/metagraph"
	"github.com/grigorimaxim422/atom/miner"
	"github.com/grigorimaxim422/atom/organic"
	"github.com/grigorimaxim422/atom/validator"
	"github.com/grigorimaxim422/atom/wallet"
	"github.com/pkg/errors"
)

// Hooks carry the subnet author's callbacks into the node. Every field
// is optional; a nil hook leaves the matching component with its
// defaults.
type Hooks struct {
	// Routes are attached to the miner axon before it starts.
	Routes []axon.Route
	// Challenger builds the synthetic query of one validator epoch.
	Challenger validator.Challenger
	// Scorer grades one miner response.
	Scorer validator.Scorer

	// OrganicForward scores one queued organic sample. Required for
	// the organic engine, the engine is skipped when nil.
	OrganicForward organic.Forward
	// OrganicDatasets supply synthetic samples while the queue is
	// empty.
	OrganicDatasets []organic.SynthDataset
	// OrganicEntryPath attaches the queue entry route to the miner
	// axon at this path. Empty keeps the queue internal.
	OrganicEntryPath string
}

type Node interface {
	Init()
	Start()
	Stop()
	StartMiner()
	StopMiner()
	StartValidator()
	StopValidator()
	SyncMetagraph(ctx context.Context) error
	Wallet() wallet.Wallet
	Chain() *chain.Client
	Metagraph() *metagraph.Metagraph
	Bus() EventBus.Bus
}

// NewNode loads the hotkey and builds every component the config
// enables. It fails only on wallet errors, an unreachable chain is
// retried after Start.
func NewNode(cfg config.Node, hooks Hooks) (Node, error) {
	self := &node{cfg: cfg, hooks: hooks}
	self.wallet = wallet.New(cfg.WalletCfg, cfg.ChainCfg.SS58Prefix)
	if err := self.wallet.EnsureHotkey(); err != nil {
		return nil, errors.Wrap(err, "node wallet")
	}
	self.client = chain.NewClient(cfg.ChainCfg, self.wallet.Hotkey())
	self.bus = EventBus.New()
	self.heads = chain.NewHeadTracker(self.client, self.bus)
	self.mg = metagraph.New(self.netuid(), cfg.ChainCfg.SS58Prefix)
	self.svc = metagraph.NewService(self.mg, self.client, self.bus, 0)

	if cfg.MinerCfg.Enabled {
		self.buildMiner()
	}
	if cfg.ValidatorCfg.Enabled {
		self.buildValidator()
	}
	if cfg.OrganicCfg.Enabled && hooks.OrganicForward != nil {
		self.buildOrganic()
	}
	return self, nil
}

type node struct {
	cfg   config.Node
	hooks Hooks

	wallet wallet.Wallet
	client *chain.Client
	bus    EventBus.Bus
	heads  *chain.HeadTracker
	mg     *metagraph.Metagraph
	svc    *metagraph.Service

	axon      *axon.Axon
	miner     miner.Miner
	den       *dendrite.Dendrite
	validator validator.Validator

	// engine is owned by the validator when one exists, otherwise the
	// node starts and stops it itself.
	engine    *organic.Engine
	ownEngine bool

	mu      sync.Mutex
	started bool
}

func (self *node) netuid() common.NetUID {
	return common.NetUID(self.cfg.ChainCfg.NetUID)
}

func (self *node) buildMiner() {
	self.axon = axon.New(self.cfg.AxonCfg, self.cfg.MinerCfg, self.cfg.EpistulaCfg,
		self.wallet.HotkeySS58(), self.mg)
	for _, route := range self.hooks.Routes {
		self.axon.Attach(route)
	}
	self.miner = miner.NewMiner(self.cfg.MinerCfg, self.netuid(), self.wallet.Hotkey(),
		self.client, self.svc, self.axon, self.bus)
}

func (self *node) buildValidator() {
	self.den = dendrite.New(self.wallet.Hotkey(), self.cfg.DendriteCfg, self.cfg.ChainCfg.SS58Prefix)
	self.validator = validator.NewValidator(self.cfg.ValidatorCfg, self.netuid(), self.wallet.Hotkey(),
		self.client, self.svc, self.den, self.bus, self.hooks.Challenger, self.hooks.Scorer)
}

func (self *node) buildOrganic() {
	self.engine = organic.NewEngine(self.cfg.OrganicCfg, nil,
		self.hooks.OrganicForward, self.hooks.OrganicDatasets...)
	if self.hooks.OrganicEntryPath != "" && self.axon != nil {
		self.axon.Attach(self.engine.EntryRoute(self.hooks.OrganicEntryPath))
	}
	if self.validator != nil {
		self.validator.AttachOrganic(self.engine)
	} else {
		self.ownEngine = true
	}
}

// Init wires the event subscriptions. Must run once before Start so no
// component can miss the first SyncDone.
func (self *node) Init() {
	self.svc.Init()
	if self.miner != nil {
		self.miner.Init()
	}
	if self.validator != nil {
		self.validator.Init()
	}
}

func (self *node) Start() {
	self.mu.Lock()
	if self.started {
		self.mu.Unlock()
		return
	}
	self.started = true
	self.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(self.cfg.ChainCfg.DialTimeoutSec)*time.Second)
	if err := self.client.Connect(ctx); err != nil {
		log.Warn("chain %s not reachable yet: %v", self.cfg.ChainCfg.Endpoint, err)
	}
	cancel()

	self.heads.Start()
	self.svc.Start()
	if self.miner != nil {
		self.miner.Start()
	}
	if self.validator != nil {
		self.validator.Start()
	}
	if self.ownEngine {
		self.engine.Start()
	}
	log.Info("node started on netuid %d as %s", self.cfg.ChainCfg.NetUID, self.wallet.HotkeySS58())
}

// Stop tears the components down in reverse start order. A node runs
// once, build a new one to restart.
func (self *node) Stop() {
	self.mu.Lock()
	if !self.started {
		self.mu.Unlock()
		return
	}
	self.started = false
	self.mu.Unlock()

	if self.ownEngine {
		self.engine.Stop()
	}
	if self.validator != nil {
		self.validator.Stop()
	}
	if self.miner != nil {
		self.miner.Stop()
	}
	self.svc.Stop()
	self.heads.Stop()
	self.client.Close()
	log.Info("node stopped")
}

func (self *node) StartMiner() {
	if self.miner == nil {
		self.buildMiner()
		self.miner.Init()
	}
	self.miner.Start()
	log.Info("miner started")
}

func (self *node) StopMiner() {
	if self.miner == nil {
		return
	}
	self.miner.Stop()
}

func (self *node) StartValidator() {
	if self.validator == nil {
		self.buildValidator()
		self.validator.Init()
	}
	self.validator.Start()
	log.Info("validator started")
}

func (self *node) StopValidator() {
	if self.validator == nil {
		return
	}
	self.validator.Stop()
}

// SyncMetagraph pulls the registry right now instead of waiting for
// the next cadence.
func (self *node) SyncMetagraph(ctx context.Context) error {
	return self.svc.Sync(ctx)
}

func (self *node) Wallet() wallet.Wallet {
	return self.wallet
}

func (self *node) Chain() *chain.Client {
	return self.client
}

func (self *node) Metagraph() *metagraph.Metagraph {
	return self.mg
}

func (self *node) Bus() EventBus.Bus {
	return self.bus
}
