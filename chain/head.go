package chain

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/golang-collections/collections/stack"
	"github.com/grigorimaxim422/atom/chain/rpc"
	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/log"
	"github.com/grigorimaxim422/atom/monitor"
)

// maxRecentPoints bounds the rollback window kept in memory.
const maxRecentPoints = 256

// BlocksSince converts elapsed wall time into block counts at the
// chain's 12s target interval.
func BlocksSince(t time.Time) uint64 {
	return uint64(time.Since(t) / common.BlockTime)
}

// HeadTracker follows chain_subscribeNewHeads, keeps a stack of recent
// canonical block points and publishes ChainHead and ChainReorg events
// on the node bus. A pushed header whose parent does not match the
// stack top pops back to the fork point.
type HeadTracker struct {
	client *Client
	bus    EventBus.Bus

	mu     sync.Mutex
	points *stack.Stack

	closed chan struct{}
	wg     sync.WaitGroup
}

func NewHeadTracker(client *Client, bus EventBus.Bus) *HeadTracker {
	return &HeadTracker{
		client: client,
		bus:    bus,
		points: stack.New(),
		closed: make(chan struct{}),
	}
}

func (self *HeadTracker) Start() {
	self.wg.Add(1)
	go self.loop()
}

func (self *HeadTracker) Stop() {
	close(self.closed)
	self.wg.Wait()
}

// Head is the latest accepted point, ok=false before the first push.
func (self *HeadTracker) Head() (common.BlockPoint, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.peek()
}

func (self *HeadTracker) peek() (common.BlockPoint, bool) {
	p := self.points.Peek()
	if p == nil {
		return common.BlockPoint{}, false
	}
	return p.(common.BlockPoint), true
}

func (self *HeadTracker) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(),
		time.Duration(self.client.cfg.CallTimeoutSec)*time.Second)
}

// loop keeps one live subscription, redialing with backoff when the
// connection or the subscription dies.
func (self *HeadTracker) loop() {
	defer self.wg.Done()
	backoff := time.Second
	for {
		select {
		case <-self.closed:
			return
		default:
		}
		ctx, cancel := self.callCtx()
		sub, err := self.client.SubscribeHeads(ctx)
		cancel()
		if err != nil {
			log.Warn("subscribe heads: %v, retry in %s", err, backoff)
			select {
			case <-time.After(backoff):
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			case <-self.closed:
				return
			}
		}
		backoff = time.Second
		self.consume(sub)
	}
}

func (self *HeadTracker) consume(sub *rpc.Subscription) {
	defer sub.Unsubscribe()
	for {
		select {
		case raw, ok := <-sub.Chan():
			if !ok {
				return
			}
			header := &Header{}
			if err := json.Unmarshal(raw, header); err != nil {
				log.Error("bad head push: %v", err)
				continue
			}
			self.onHeader(header)
		case <-self.closed:
			return
		}
	}
}

// onHeader resolves the canonical hash for the pushed height, then
// applies the point. Resolving through chain_getBlockHash keeps the
// tracker on the node's canonical chain even right after a reorg.
func (self *HeadTracker) onHeader(header *Header) {
	height, err := header.Height()
	if err != nil {
		log.Error("head push: %v", err)
		return
	}
	ctx, cancel := self.callCtx()
	hash, err := self.client.BlockHash(ctx, height)
	cancel()
	if err != nil {
		log.Warn("resolve hash at %d: %v", height, err)
		return
	}
	self.apply(common.BlockPoint{Height: height, Hash: hash}, header.ParentHash)
}

// apply pushes a point, first popping every stored point that cannot
// be an ancestor of it. popped > 0 means the chain forked under us.
func (self *HeadTracker) apply(point common.BlockPoint, parentHash string) {
	self.mu.Lock()
	popped := 0
	var from common.BlockPoint
	for {
		top, ok := self.peek()
		if !ok {
			break
		}
		if top.Height+1 < point.Height {
			// Gap from missed pushes, linkage unknown. Accept.
			break
		}
		if top.Height+1 == point.Height && hashEqual(top.Hash, parentHash) {
			break
		}
		if popped == 0 {
			from = top
		}
		self.points.Pop()
		popped++
	}
	self.points.Push(point)
	self.trim()
	self.mu.Unlock()

	if popped > 0 {
		log.Warn("chain reorg at %d: dropped %d points behind %s", point.Height, popped, from.String())
		monitor.LogEvent("chain", "reorg")
		self.bus.Publish(common.ChainReorg, from, point)
	}
	self.bus.Publish(common.ChainHead, point)
}

// trim rebuilds the stack once it doubles the window, keeping the
// newest points.
func (self *HeadTracker) trim() {
	if self.points.Len() <= maxRecentPoints*2 {
		return
	}
	keep := make([]common.BlockPoint, 0, maxRecentPoints)
	for i := 0; i < maxRecentPoints; i++ {
		keep = append(keep, self.points.Pop().(common.BlockPoint))
	}
	self.points = stack.New()
	for i := len(keep) - 1; i >= 0; i-- {
		self.points.Push(keep[i])
	}
}
