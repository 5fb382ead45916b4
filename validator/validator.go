// Package validator implements the scoring side of a subnet neuron:
// each epoch it challenges a sample of miners, folds the scores into a
// moving average and submits the result as weights.
package validator

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/grigorimaxim422/atom/common/face"
	"github.com/grigorimaxim422/atom/common/log"
	"github.com/grigorimaxim422/atom/dendrite"
	"github.com/grigorimaxim422/atom/metagraph"
	"github.com/grigorimaxim422/atom/monitor"
	"github.com/grigorimaxim422/atom/organic"
	"github.com/grigorimaxim422/atom/tools"
	"github.com/grigorimaxim422/atom/version"
	"github.com/grigorimaxim422/atom/wallet"
	"github.com/pkg/errors"
)

// maxWeight is the largest weight the chain accepts in one slot.
const maxWeight = 65535

// fallbackEpoch is used when neither config nor chain yield a cadence.
const fallbackEpoch = 100

// Challenge is one request fanned out to the sampled miners.
type Challenge struct {
	Path string
	Body []byte
}

// Challenger builds the next challenge. Returning an error skips the
// round.
type Challenger func(ctx context.Context) (Challenge, error)

// Scorer rates one miner response in [0, 1]. An error counts as zero.
type Scorer func(ctx context.Context, resp *dendrite.Response) (float64, error)

type ValidatorLifecycle struct {
	common.LifecycleStatus
}

func (self *ValidatorLifecycle) PreDestroy() bool {
	return atomic.CompareAndSwapInt32(&self.Status, 6, 7)
}
func (self *ValidatorLifecycle) PostDestroy() bool {
	return atomic.CompareAndSwapInt32(&self.Status, 7, 8)
}

// Validator drives the epoch loop. UpdateScore is exposed so organic
// forwards can fold their own results into the same moving average.
type Validator interface {
	Init()
	Start()
	Stop()
	AttachOrganic(engine *organic.Engine)
	UpdateScore(uid common.UID, score float64)
	Scores() []float64
}

type validator struct {
	ValidatorLifecycle
	cfg        config.Validator
	netuid     common.NetUID
	hotkey     wallet.Keypair
	chain      face.ChainRw
	mg         *metagraph.Service
	den        *dendrite.Dendrite
	bus        EventBus.Bus
	challenger Challenger
	scorer     Scorer
	engine     *organic.Engine
	rand       *rand.Rand

	// scoreMu guards scores, hotkeys and lastBlock. lastRound is the
	// in-memory epoch cursor; lastBlock persists only weight updates
	// the chain accepted.
	scoreMu   sync.Mutex
	scores    []float64
	hotkeys   []string
	lastBlock uint64
	lastRound uint64

	syncCh   chan struct{}
	syncOnce sync.Once
	headCh   chan common.BlockPoint

	mu     sync.Mutex
	closed chan struct{}
	wg     sync.WaitGroup
}

func NewValidator(cfg config.Validator, netuid common.NetUID, hotkey wallet.Keypair,
	chain face.ChainRw, mg *metagraph.Service, den *dendrite.Dendrite, bus EventBus.Bus,
	challenger Challenger, scorer Scorer) Validator {
	return &validator{
		cfg:        cfg,
		netuid:     netuid,
		hotkey:     hotkey,
		chain:      chain,
		mg:         mg,
		den:        den,
		bus:        bus,
		challenger: challenger,
		scorer:     scorer,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
		syncCh:     make(chan struct{}),
		headCh:     make(chan common.BlockPoint, 1),
	}
}

// AttachOrganic hands the validator an organic engine whose lifetime
// follows its own and whose step counter advances once per epoch. Call
// before Start.
func (self *validator) AttachOrganic(engine *organic.Engine) {
	self.engine = engine
}

func (self *validator) Init() {
	self.PreInit()
	defer self.PostInit()

	if err := self.loadState(); err != nil {
		log.Debug("no validator state restored: %v", err)
	} else {
		log.Info("validator state restored from %s, last update at block %d",
			self.cfg.StatePath, self.lastBlock)
	}

	self.bus.SubscribeOnce(common.SyncDone, self.onSyncDone)
	self.bus.Subscribe(common.ChainHead, self.onHead)
	if self.mg.Done() {
		self.onSyncDone()
	}
}

func (self *validator) onSyncDone() {
	self.syncOnce.Do(func() {
		log.Info("metagraph sync done, validator may score")
		close(self.syncCh)
	})
}

func (self *validator) onHead(point common.BlockPoint) {
	select {
	case self.headCh <- point:
	default:
	}
}

func (self *validator) Start() {
	if !self.PreStart() {
		return
	}
	defer self.PostStart()

	self.mu.Lock()
	self.closed = make(chan struct{})
	closed := self.closed
	self.mu.Unlock()

	if self.engine != nil {
		self.engine.Start()
	}
	self.wg.Add(1)
	go self.work(closed)
}

func (self *validator) Stop() {
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
	if self.engine != nil {
		self.engine.Stop()
	}
	if err := self.saveState(); err != nil {
		log.Error("save validator state: %v", err)
	}
	log.Info("validator stopped")
}

func (self *validator) Destroy() {
	self.PreDestroy()
	defer self.PostDestroy()
	self.bus.Unsubscribe(common.ChainHead, self.onHead)
}

// work waits out the first metagraph sync, then runs one epoch every
// epochBlocks blocks. Head events wake it early; the ticker covers
// chains whose head feed is down.
func (self *validator) work(closed chan struct{}) {
	defer self.wg.Done()

	select {
	case <-self.syncCh:
	case <-closed:
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-closed
		cancel()
	}()

	epoch := self.epochBlocks(ctx)
	log.Info("validator loop started on netuid %d, epoch %d blocks", self.netuid, epoch)

	ticker := time.NewTicker(common.BlockTime)
	defer ticker.Stop()
	for {
		var block uint64
		select {
		case point := <-self.headCh:
			block = point.Height
		case <-ticker.C:
			var err error
			block, err = self.chain.BlockNumber(ctx)
			if err != nil {
				log.Warn("block number: %v", err)
				continue
			}
		case <-closed:
			return
		}

		self.scoreMu.Lock()
		due := block >= self.lastRound+epoch
		self.scoreMu.Unlock()
		if !due {
			continue
		}
		self.runEpoch(ctx, block)

		select {
		case <-closed:
			return
		default:
		}
	}
}

// epochBlocks resolves the weight-setting cadence: explicit config
// first, then the subnet tempo reported by the chain.
func (self *validator) epochBlocks(ctx context.Context) uint64 {
	if self.cfg.EpochLength > 0 {
		return self.cfg.EpochLength
	}
	tempo, err := self.chain.Tempo(ctx, self.netuid)
	if err != nil {
		log.Warn("tempo for netuid %d unavailable, using %d blocks: %v",
			self.netuid, fallbackEpoch, err)
		return fallbackEpoch
	}
	if tempo == 0 {
		return fallbackEpoch
	}
	return uint64(tempo)
}

// runEpoch performs one full round: reconcile scores with the current
// registry, challenge a sample of miners, fold the results in and push
// weights to the chain.
func (self *validator) runEpoch(ctx context.Context, block uint64) {
	start := time.Now()
	self.scoreMu.Lock()
	self.lastRound = block
	self.scoreMu.Unlock()

	neurons := self.mg.Metagraph().Neurons()
	if len(neurons) == 0 {
		log.Warn("metagraph still empty on netuid %d, skipping epoch", self.netuid)
		return
	}
	self.reconcile(neurons)

	if self.challenger != nil {
		self.challengeRound(ctx, neurons)
	}
	if self.engine != nil {
		self.engine.IncrementStep()
	}

	self.setWeights(ctx, block)
	if err := self.saveState(); err != nil {
		log.Error("save validator state: %v", err)
	}
	monitor.LogTime("validator", "epoch", start)
}

// challengeRound queries a sample of miners and feeds every response
// through the scorer.
func (self *validator) challengeRound(ctx context.Context, neurons []metagraph.Neuron) {
	targets := self.sample(neurons)
	if len(targets) == 0 {
		log.Warn("no miners to query on netuid %d", self.netuid)
		monitor.LogEvent("validator", "no_miners")
		return
	}

	challenge, err := self.challenger(ctx)
	if err != nil {
		log.Error("build challenge: %v", err)
		monitor.LogEvent("validator", "challenge_error")
		return
	}

	responses := self.den.QueryAll(ctx, targets, challenge.Path, challenge.Body)
	for _, resp := range responses {
		score := 0.0
		if resp.OK() {
			score, err = self.scorer(ctx, resp)
			if err != nil {
				log.Debug("score uid %d: %v", resp.Target.UID, err)
				score = 0
			}
		} else if resp.Err != nil {
			log.Debug("query uid %d: %v", resp.Target.UID, resp.Err)
		}
		self.UpdateScore(resp.Target.UID, score)
	}
	log.Info("scored %d miners on netuid %d", len(responses), self.netuid)
}

// sample picks up to SampleSize miners that serve an axon, skipping our
// own slot and permit holders, which answer no challenges.
func (self *validator) sample(neurons []metagraph.Neuron) []dendrite.Target {
	own := self.hotkey.PublicKey()
	mg := self.mg.Metagraph()
	var candidates []dendrite.Target
	for _, n := range neurons {
		if n.Axon == nil || n.Account == own || mg.PermitForUID(n.UID) {
			continue
		}
		candidates = append(candidates, dendrite.Target{
			UID:    n.UID,
			Hotkey: n.Hotkey,
			Addr:   n.Axon.Addr(),
		})
	}
	if self.cfg.SampleSize <= 0 || len(candidates) <= self.cfg.SampleSize {
		return candidates
	}
	self.rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	return candidates[:self.cfg.SampleSize]
}

// reconcile resizes the score vector to the registry and zeroes slots
// whose hotkey changed since the last round.
func (self *validator) reconcile(neurons []metagraph.Neuron) {
	self.scoreMu.Lock()
	defer self.scoreMu.Unlock()
	for _, n := range neurons {
		for int(n.UID) >= len(self.scores) {
			self.scores = append(self.scores, 0)
			self.hotkeys = append(self.hotkeys, "")
		}
		if self.hotkeys[n.UID] != "" && self.hotkeys[n.UID] != n.Hotkey {
			log.Info("uid %d hotkey replaced, score reset", n.UID)
			self.scores[n.UID] = 0
		}
		self.hotkeys[n.UID] = n.Hotkey
	}
}

// UpdateScore folds one observation into the moving average for uid.
func (self *validator) UpdateScore(uid common.UID, score float64) {
	self.scoreMu.Lock()
	defer self.scoreMu.Unlock()
	for int(uid) >= len(self.scores) {
		self.scores = append(self.scores, 0)
		self.hotkeys = append(self.hotkeys, "")
	}
	self.scores[uid] = self.cfg.Alpha*score + (1-self.cfg.Alpha)*self.scores[uid]
}

// Scores copies the current moving averages, indexed by uid.
func (self *validator) Scores() []float64 {
	self.scoreMu.Lock()
	defer self.scoreMu.Unlock()
	out := make([]float64, len(self.scores))
	copy(out, self.scores)
	return out
}

// setWeights converts scores to chain weights and submits them. The
// largest score maps to the full u16 range; zero slots are left out.
func (self *validator) setWeights(ctx context.Context, block uint64) {
	uids, weights := self.weights()
	if len(uids) == 0 {
		log.Debug("all scores zero on netuid %d, weights not set", self.netuid)
		return
	}

	key := self.cfg.VersionKey
	if key == 0 {
		key = version.Spec()
	}
	hash, err := self.chain.SetWeights(ctx, self.netuid, uids, weights, key)
	if err != nil {
		log.Error("set weights: %v", err)
		monitor.LogEvent("validator", "weights_error")
		return
	}

	self.scoreMu.Lock()
	self.lastBlock = block
	self.scoreMu.Unlock()
	log.Info("weights set for %d uids on netuid %d at block %d: %s",
		len(uids), self.netuid, block, hash)
	monitor.LogEvent("validator", "weights_set")
	self.bus.Publish(common.WeightsSet, block)
}

func (self *validator) weights() ([]common.UID, []uint16) {
	self.scoreMu.Lock()
	defer self.scoreMu.Unlock()
	max := 0.0
	for _, s := range self.scores {
		if s > max {
			max = s
		}
	}
	if max <= 0 {
		return nil, nil
	}
	var uids []common.UID
	var weights []uint16
	for uid, s := range self.scores {
		if s <= 0 {
			continue
		}
		uids = append(uids, common.UID(uid))
		weights = append(weights, uint16(math.Round(s/max*maxWeight)))
	}
	return uids, weights
}

// validatorState is the on-disk shape of the scoring memory.
type validatorState struct {
	Block   uint64    `json:"block"`
	Scores  []float64 `json:"scores"`
	Hotkeys []string  `json:"hotkeys"`
}

func (self *validator) loadState() error {
	if self.cfg.StatePath == "" {
		return errors.New("no state path configured")
	}
	var st validatorState
	if err := tools.ReadJSON(self.cfg.StatePath, &st); err != nil {
		return err
	}
	if len(st.Scores) != len(st.Hotkeys) {
		return errors.Errorf("state %s corrupt: %d scores, %d hotkeys",
			self.cfg.StatePath, len(st.Scores), len(st.Hotkeys))
	}
	self.scoreMu.Lock()
	defer self.scoreMu.Unlock()
	self.scores = st.Scores
	self.hotkeys = st.Hotkeys
	self.lastBlock = st.Block
	self.lastRound = st.Block
	return nil
}

func (self *validator) saveState() error {
	if self.cfg.StatePath == "" {
		return nil
	}
	self.scoreMu.Lock()
	st := validatorState{
		Block:   self.lastBlock,
		Scores:  append([]float64(nil), self.scores...),
		Hotkeys: append([]string(nil), self.hotkeys...),
	}
	self.scoreMu.Unlock()
	return tools.WriteJSON(self.cfg.StatePath, &st, 0644)
}
