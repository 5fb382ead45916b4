package metagraph

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/face"
	"github.com/grigorimaxim422/atom/common/log"
	"github.com/grigorimaxim422/atom/monitor"
	"github.com/pkg/errors"
)

// DefaultSyncInterval is how many blocks may pass before a resync.
const DefaultSyncInterval = 10

// Service keeps a Metagraph current. It syncs once at start, then
// resyncs whenever the head advances by the configured interval, with
// a wall-clock ticker as fallback while the head feed is down. Every
// completed sync publishes MetagraphUpdated; the first one also
// publishes SyncDone, which gates the miner and validator loops.
type Service struct {
	mg       *Metagraph
	reader   face.ChainReader
	bus      EventBus.Bus
	interval uint64

	headCh  chan common.BlockPoint
	forceCh chan struct{}
	synced  int32

	onHead  func(p common.BlockPoint)
	onReorg func(from, to common.BlockPoint)

	closed chan struct{}
	wg     sync.WaitGroup
}

func NewService(mg *Metagraph, reader face.ChainReader, bus EventBus.Bus, intervalBlocks uint64) *Service {
	if intervalBlocks == 0 {
		intervalBlocks = DefaultSyncInterval
	}
	return &Service{
		mg:       mg,
		reader:   reader,
		bus:      bus,
		interval: intervalBlocks,
		headCh:   make(chan common.BlockPoint, 1),
		forceCh:  make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

func (self *Service) Metagraph() *Metagraph {
	return self.mg
}

// Done reports whether the first sync has completed.
func (self *Service) Done() bool {
	return atomic.LoadInt32(&self.synced) == 1
}

func (self *Service) Init() {
	self.onHead = func(p common.BlockPoint) {
		select {
		case self.headCh <- p:
		default:
		}
	}
	self.onReorg = func(from, to common.BlockPoint) {
		select {
		case self.forceCh <- struct{}{}:
		default:
		}
	}
	self.bus.Subscribe(common.ChainHead, self.onHead)
	self.bus.Subscribe(common.ChainReorg, self.onReorg)
}

func (self *Service) Start() {
	self.wg.Add(1)
	go self.loop()
}

func (self *Service) Stop() {
	close(self.closed)
	self.wg.Wait()
	self.bus.Unsubscribe(common.ChainHead, self.onHead)
	self.bus.Unsubscribe(common.ChainReorg, self.onReorg)
}

func (self *Service) loop() {
	defer self.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-self.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	backoff := time.Second
	for !self.Done() {
		err := self.Sync(ctx)
		if err == nil {
			break
		}
		select {
		case <-self.closed:
			return
		default:
		}
		log.Warn("metagraph sync: %v, retry in %s", err, backoff)
		select {
		case <-time.After(backoff):
			if backoff < 30*time.Second {
				backoff *= 2
			}
		case <-self.closed:
			return
		}
	}

	staleAfter := time.Duration(self.interval) * common.BlockTime
	ticker := time.NewTicker(staleAfter)
	defer ticker.Stop()
	lastAt := time.Now()
	for {
		select {
		case p := <-self.headCh:
			if p.Height < self.mg.Block()+self.interval {
				continue
			}
		case <-self.forceCh:
		case <-ticker.C:
			if time.Since(lastAt) < staleAfter {
				continue
			}
		case <-self.closed:
			return
		}
		if err := self.Sync(ctx); err != nil {
			select {
			case <-self.closed:
				return
			default:
			}
			log.Warn("metagraph resync: %v", err)
			continue
		}
		lastAt = time.Now()
	}
}

// Sync pulls the full registry and swaps it in.
func (self *Service) Sync(ctx context.Context) error {
	start := time.Now()
	netuid := self.mg.NetUID()

	block, err := self.reader.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "block number")
	}
	n, err := self.reader.SubnetworkN(ctx, netuid)
	if err != nil {
		return errors.Wrap(err, "subnetwork n")
	}
	permits, err := self.reader.ValidatorPermits(ctx, netuid)
	if err != nil {
		return errors.Wrap(err, "validator permits")
	}

	neurons := make([]Neuron, 0, n)
	for uid := common.UID(0); uid < common.UID(n); uid++ {
		account, err := self.reader.KeyForUID(ctx, netuid, uid)
		if err != nil {
			return errors.Wrapf(err, "key for uid %d", uid)
		}
		stake, err := self.reader.StakeFor(ctx, account)
		if err != nil {
			return errors.Wrapf(err, "stake for uid %d", uid)
		}
		axon, err := self.reader.AxonFor(ctx, netuid, account)
		if err != nil && errors.Cause(err) != common.ErrNotFound {
			return errors.Wrapf(err, "axon for uid %d", uid)
		}
		neurons = append(neurons, Neuron{UID: uid, Account: account, Stake: stake, Axon: axon})
	}

	self.mg.update(block, neurons, permits)
	monitor.LogTime("metagraph", "sync", start)
	self.bus.Publish(common.MetagraphUpdated, block)
	if atomic.CompareAndSwapInt32(&self.synced, 0, 1) {
		log.Info("metagraph ready: %d neurons on netuid %d at block %d", len(neurons), netuid, block)
		self.bus.Publish(common.SyncDone)
	} else {
		log.Debug("metagraph resynced: %d neurons at block %d", len(neurons), block)
	}
	return nil
}
