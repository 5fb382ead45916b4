package organic

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grigorimaxim422/atom/axon"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/pkg/errors"
)

type staticDataset struct {
	sample interface{}
}

func (self *staticDataset) Sample() (interface{}, error) {
	return self.sample, nil
}

func TestMemoryQueueSampleRemoves(t *testing.T) {
	q := NewMemoryQueue(10)
	if q.Size() != 0 {
		t.Fatal("fresh queue must be empty")
	}
	q.Add(map[string]int{"a": 1})
	if q.Size() != 1 {
		t.Fatalf("expected size 1, got %d", q.Size())
	}
	sample, ok := q.Sample().(map[string]int)
	if !ok || sample["a"] != 1 {
		t.Fatalf("unexpected sample %v", sample)
	}
	if q.Size() != 0 {
		t.Fatal("sampling must remove the entry")
	}
	if q.Sample() != nil {
		t.Fatal("empty queue must sample nil")
	}
}

func TestMemoryQueueDropsOldest(t *testing.T) {
	q := NewMemoryQueue(3)
	for i := 1; i <= 4; i++ {
		q.Add(i)
	}
	if q.Size() != 3 {
		t.Fatalf("expected size 3, got %d", q.Size())
	}
	seen := map[int]bool{}
	for q.Size() > 0 {
		seen[q.Sample().(int)] = true
	}
	if seen[1] {
		t.Fatal("oldest entry must have been dropped")
	}
	if !seen[2] || !seen[3] || !seen[4] {
		t.Fatalf("unexpected remaining entries %v", seen)
	}
}

func TestDynamicDelayAnneals(t *testing.T) {
	q := NewMemoryQueue(2000)
	cfg := config.Organic{Trigger: "seconds", TriggerFrequency: 60, TriggerMin: 5, ScalingFactor: 5}
	e := NewEngine(cfg, q, func(ctx context.Context, sample interface{}) error { return nil })

	if got := e.dynamicDelay(); got != 60 {
		t.Fatalf("empty queue delay must be the frequency, got %v", got)
	}
	for i := 0; i < 100; i++ {
		q.Add(i)
	}
	if got := e.dynamicDelay(); got != 40 {
		t.Fatalf("expected annealed delay 40, got %v", got)
	}
	for i := 0; i < 300; i++ {
		q.Add(i)
	}
	if got := e.dynamicDelay(); got != 5 {
		t.Fatalf("delay must not drop below the minimum, got %v", got)
	}
}

func TestEngineSecondsModeDrainsQueue(t *testing.T) {
	q := NewMemoryQueue(10)
	for i := 0; i < 3; i++ {
		q.Add(i)
	}
	forwards := make(chan interface{}, 8)
	cfg := config.Organic{Trigger: "seconds", TriggerFrequency: 0.01, TriggerMin: 0.01, ScalingFactor: 5}
	e := NewEngine(cfg, q, func(ctx context.Context, sample interface{}) error {
		forwards <- sample
		return nil
	})
	e.Start()
	defer e.Stop()

	for i := 0; i < 3; i++ {
		select {
		case <-forwards:
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for forward %d", i)
		}
	}
	select {
	case sample := <-forwards:
		t.Fatalf("unexpected extra forward %v", sample)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineStepsMode(t *testing.T) {
	var calls int32
	forwards := make(chan struct{}, 4)
	cfg := config.Organic{Trigger: "steps", TriggerFrequency: 3, TriggerMin: 1, ScalingFactor: 5}
	e := NewEngine(cfg, nil, func(ctx context.Context, sample interface{}) error {
		atomic.AddInt32(&calls, 1)
		forwards <- struct{}{}
		return nil
	}, &staticDataset{sample: "synthetic"})
	e.Start()
	defer e.Stop()

	e.IncrementStep()
	e.IncrementStep()
	select {
	case <-forwards:
		t.Fatal("two steps must not trigger a three-step engine")
	case <-time.After(400 * time.Millisecond):
	}

	e.IncrementStep()
	select {
	case <-forwards:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for step-triggered forward")
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one forward, got %d", got)
	}
}

func TestEngineSetStep(t *testing.T) {
	forwards := make(chan struct{}, 4)
	cfg := config.Organic{Trigger: "steps", TriggerFrequency: 5, TriggerMin: 1, ScalingFactor: 5}
	e := NewEngine(cfg, nil, func(ctx context.Context, sample interface{}) error {
		forwards <- struct{}{}
		return nil
	}, &staticDataset{sample: 1})
	e.Start()
	defer e.Stop()

	e.SetStep(5)
	select {
	case <-forwards:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for forward after SetStep")
	}
}

func TestEngineForwardErrorsThrottled(t *testing.T) {
	q := NewMemoryQueue(20)
	for i := 0; i < 10; i++ {
		q.Add(i)
	}
	var calls int32
	cfg := config.Organic{Trigger: "seconds", TriggerFrequency: 0.01, TriggerMin: 0.01, ScalingFactor: 5}
	e := NewEngine(cfg, q, func(ctx context.Context, sample interface{}) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("scoring broke")
	})
	e.Start()
	time.Sleep(2500 * time.Millisecond)
	e.Stop()

	got := atomic.LoadInt32(&calls)
	if got < 2 || got > 4 {
		t.Fatalf("errors must throttle to about one forward per second, got %d", got)
	}
}

func TestEntryRouteQueues(t *testing.T) {
	q := NewMemoryQueue(10)
	cfg := config.Organic{Trigger: "seconds", TriggerFrequency: 60, TriggerMin: 5, ScalingFactor: 5}
	e := NewEngine(cfg, q, func(ctx context.Context, sample interface{}) error { return nil })

	route := e.EntryRoute("/organic")
	if route.Path != "/organic" {
		t.Fatalf("unexpected route path %s", route.Path)
	}
	out, err := route.Forward(context.Background(), &axon.Request{Body: []byte(`{"prompt":"hi"}`)})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"queued":true}` {
		t.Fatalf("unexpected response %s", out)
	}
	if q.Size() != 1 {
		t.Fatalf("expected 1 queued sample, got %d", q.Size())
	}

	e.Entry = func(req *axon.Request) (interface{}, error) {
		return nil, errors.New("malformed")
	}
	if _, err := route.Forward(context.Background(), &axon.Request{Body: []byte("x")}); err == nil {
		t.Fatal("entry conversion errors must propagate")
	}
	if q.Size() != 1 {
		t.Fatal("failed entries must not be queued")
	}
}
