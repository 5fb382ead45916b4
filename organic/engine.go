package organic

import (
	"context"
	"sync"
	"time"

	"github.com/grigorimaxim422/atom/axon"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/grigorimaxim422/atom/common/log"
	"github.com/grigorimaxim422/atom/monitor"
)

// SynthDataset supplies synthetic samples while no organic traffic is
// queued.
type SynthDataset interface {
	Sample() (interface{}, error)
}

// Forward scores one sample. The engine measures its duration and
// subtracts it from the next delay in seconds mode.
type Forward func(ctx context.Context, sample interface{}) error

// Engine drains the organic queue on a trigger. In seconds mode one
// iteration runs every dynamic-delay seconds; in steps mode the
// caller feeds IncrementStep and an iteration runs once enough steps
// accumulated. The delay anneals as the queue grows:
// max(frequency - size/scaling, min).
type Engine struct {
	cfg   config.Organic
	queue OrganicQueue
	fwd   Forward
	synth []SynthDataset

	// Entry converts a verified axon request into a queue sample.
	// When nil the raw body is queued. Set before Start.
	Entry func(req *axon.Request) (interface{}, error)

	stepMu sync.Mutex
	steps  int

	closed chan struct{}
	wg     sync.WaitGroup
}

// NewEngine wires a scoring callback to a queue. queue may be nil, a
// MemoryQueue of the configured size is used then.
func NewEngine(cfg config.Organic, queue OrganicQueue, fwd Forward, synth ...SynthDataset) *Engine {
	if queue == nil {
		queue = NewMemoryQueue(cfg.QueueSize)
	}
	return &Engine{
		cfg:    cfg,
		queue:  queue,
		fwd:    fwd,
		synth:  synth,
		closed: make(chan struct{}),
	}
}

func (self *Engine) Queue() OrganicQueue {
	return self.queue
}

// IncrementStep feeds the steps trigger, a no-op in seconds mode.
func (self *Engine) IncrementStep() {
	self.stepMu.Lock()
	defer self.stepMu.Unlock()
	if self.cfg.Trigger == "steps" {
		self.steps++
	}
}

func (self *Engine) SetStep(n int) {
	self.stepMu.Lock()
	defer self.stepMu.Unlock()
	if self.cfg.Trigger == "steps" {
		self.steps = n
	}
}

// EntryRoute builds the axon route that feeds the queue. Callers may
// set Blacklist, Priority or Verify hooks on the result before
// attaching it.
func (self *Engine) EntryRoute(path string) axon.Route {
	return axon.Route{
		Path: path,
		Forward: func(ctx context.Context, req *axon.Request) ([]byte, error) {
			sample := interface{}(req.Body)
			if self.Entry != nil {
				converted, err := self.Entry(req)
				if err != nil {
					return nil, err
				}
				sample = converted
			}
			self.queue.Add(sample)
			monitor.LogEvent("organic", "entry")
			return []byte(`{"queued":true}`), nil
		},
	}
}

func (self *Engine) Start() {
	self.wg.Add(1)
	go self.loop()
}

func (self *Engine) Stop() {
	close(self.closed)
	self.wg.Wait()
}

func (self *Engine) loop() {
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

	for {
		if self.cfg.Trigger == "steps" {
			if !self.consumeSteps() {
				return
			}
		}
		select {
		case <-self.closed:
			return
		default:
		}

		start := time.Now()
		sample := self.next()
		if sample != nil {
			if err := self.fwd(ctx, sample); err != nil {
				select {
				case <-self.closed:
					return
				default:
				}
				log.Error("organic forward: %v", err)
				monitor.LogEvent("organic", "forward_error")
				if !self.sleep(time.Second) {
					return
				}
				continue
			}
			monitor.LogTime("organic", "forward", start)
		}

		if self.cfg.Trigger == "seconds" {
			delay := time.Duration(self.dynamicDelay() * float64(time.Second))
			if wait := delay - time.Since(start); wait > 0 {
				if !self.sleep(wait) {
					return
				}
			}
		}
	}
}

// next prefers organic traffic and falls back to synthetic datasets.
func (self *Engine) next() interface{} {
	if sample := self.queue.Sample(); sample != nil {
		return sample
	}
	for _, ds := range self.synth {
		sample, err := ds.Sample()
		if err != nil {
			log.Warn("synth sample: %v", err)
			continue
		}
		if sample != nil {
			return sample
		}
	}
	return nil
}

// consumeSteps blocks until enough steps accumulated, then spends
// them. Returns false when the engine stopped while waiting.
func (self *Engine) consumeSteps() bool {
	need := int(self.dynamicDelay())
	if need < 1 {
		need = 1
	}
	for {
		self.stepMu.Lock()
		if self.steps >= need {
			self.steps -= need
			self.stepMu.Unlock()
			return true
		}
		self.stepMu.Unlock()
		if !self.sleep(100 * time.Millisecond) {
			return false
		}
	}
}

// dynamicDelay anneals the trigger with the queue backlog.
func (self *Engine) dynamicDelay() float64 {
	delay := self.cfg.TriggerFrequency - float64(self.queue.Size())/self.cfg.ScalingFactor
	if delay < self.cfg.TriggerMin {
		delay = self.cfg.TriggerMin
	}
	return delay
}

func (self *Engine) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-self.closed:
		return false
	}
}
