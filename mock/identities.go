package mock

import (
	"github.com/asaskevich/EventBus"
	"github.com/grigorimaxim422/atom/axon"
	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/grigorimaxim422/atom/dendrite"
	"github.com/grigorimaxim422/atom/metagraph"
	"github.com/grigorimaxim422/atom/miner"
	"github.com/grigorimaxim422/atom/validator"
	"github.com/grigorimaxim422/atom/wallet"
)

// mockPrefix is the ss58 prefix every mock identity encodes with.
const mockPrefix = 42

// Identity is one neuron wired onto a mock chain with its own bus and
// metagraph service, the way a separate process would run it.
type Identity struct {
	Keypair   wallet.Keypair
	UID       common.UID
	Chain     *Chain
	Bus       EventBus.Bus
	Service   *metagraph.Service
	Metagraph *metagraph.Metagraph
}

// MinerIdentity is a ready-to-serve miner neuron.
type MinerIdentity struct {
	Identity
	Axon  *axon.Axon
	Miner miner.Miner
}

// ValidatorIdentity is a ready-to-score validator neuron.
type ValidatorIdentity struct {
	Identity
	Dendrite  *dendrite.Dendrite
	Validator validator.Validator
}

func genIdentity(chain *Chain, kp wallet.Keypair, stake uint64) Identity {
	uid := chain.Register(kp.PublicKey(), stake)
	bus := EventBus.New()
	mg := metagraph.New(chain.NetUID(), mockPrefix)
	svc := metagraph.NewService(mg, chain, bus, 1)
	return Identity{Keypair: kp, UID: uid, Chain: chain, Bus: bus, Service: svc, Metagraph: mg}
}

// NewMiner registers the hotkey on the chain and wires a miner around
// it: a loopback axon on a free port with fwd behind /forward, a
// metagraph service and the serving backbone. Start it with Start.
func NewMiner(chain *Chain, kp wallet.Keypair, policy config.Miner, fwd axon.Forward) *MinerIdentity {
	policy.Enabled = true
	if policy.EpochLength == 0 {
		policy.EpochLength = 100
	}

	id := genIdentity(chain, kp, 0)
	ax := axon.New(
		config.Axon{Host: "127.0.0.1", Port: 0, MaxBodyBytes: 1 << 20},
		policy,
		config.Epistula{AllowedDeltaMS: 8000},
		kp.SS58(mockPrefix),
		id.Metagraph,
	)
	ax.Attach(axon.Route{Path: "/forward", Forward: fwd})

	m := miner.NewMiner(policy, chain.NetUID(), kp, chain.Bind(kp.PublicKey()), id.Service, ax, id.Bus)
	return &MinerIdentity{Identity: id, Axon: ax, Miner: m}
}

// Start brings the miner up: backbone first so it cannot miss the
// sync signal, then the metagraph service that emits it.
func (self *MinerIdentity) Start() {
	self.Miner.Init()
	self.Service.Init()
	self.Service.Start()
	self.Miner.Start()
}

func (self *MinerIdentity) Stop() {
	self.Miner.Stop()
	self.Service.Stop()
}

// NewValidator registers a staked, permit-holding hotkey and wires the
// scoring backbone around it. Scores are kept in memory only unless
// cfg names a state path.
func NewValidator(chain *Chain, kp wallet.Keypair, cfg config.Validator,
	challenger validator.Challenger, scorer validator.Scorer) *ValidatorIdentity {
	cfg.Enabled = true
	if cfg.Alpha == 0 {
		cfg.Alpha = 0.1
	}
	if cfg.SampleSize == 0 {
		cfg.SampleSize = 16
	}

	id := genIdentity(chain, kp, 100*common.RaoPerTao)
	chain.SetPermit(id.UID, true)

	den := dendrite.New(kp, config.Dendrite{TimeoutSec: 2, MaxConcurrency: 8}, mockPrefix)
	val := validator.NewValidator(cfg, chain.NetUID(), kp, chain.Bind(kp.PublicKey()),
		id.Service, den, id.Bus, challenger, scorer)
	return &ValidatorIdentity{Identity: id, Dendrite: den, Validator: val}
}

func (self *ValidatorIdentity) Start() {
	self.Validator.Init()
	self.Service.Init()
	self.Service.Start()
	self.Validator.Start()
}

func (self *ValidatorIdentity) Stop() {
	self.Validator.Stop()
	self.Service.Stop()
}

// Tick advances the chain n blocks and tells the identity's loops, the
// way a live head tracker would.
func (self *Identity) Tick(n uint64) uint64 {
	block := self.Chain.ManualTick(n)
	self.Bus.Publish(common.ChainHead, common.BlockPoint{Height: block})
	return block
}
