package chain

import (
	"testing"

	"github.com/asaskevich/EventBus"
	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
)

func testTracker(t *testing.T) (*HeadTracker, *[]common.BlockPoint, *[]common.BlockPoint) {
	t.Helper()
	bus := EventBus.New()
	tracker := NewHeadTracker(NewClient(config.Chain{CallTimeoutSec: 1}, nil), bus)

	var heads, reorgs []common.BlockPoint
	bus.Subscribe(common.ChainHead, func(p common.BlockPoint) {
		heads = append(heads, p)
	})
	bus.Subscribe(common.ChainReorg, func(from, to common.BlockPoint) {
		reorgs = append(reorgs, to)
	})
	return tracker, &heads, &reorgs
}

func TestApplyExtendsChain(t *testing.T) {
	tracker, heads, reorgs := testTracker(t)

	tracker.apply(common.BlockPoint{Height: 1, Hash: "a1"}, "a0")
	tracker.apply(common.BlockPoint{Height: 2, Hash: "a2"}, "a1")
	tracker.apply(common.BlockPoint{Height: 3, Hash: "a3"}, "a2")

	head, ok := tracker.Head()
	if !ok || head.Height != 3 || head.Hash != "a3" {
		t.Error("head", head, ok)
	}
	if len(*heads) != 3 {
		t.Error("head events", len(*heads))
	}
	if len(*reorgs) != 0 {
		t.Error("unexpected reorg", *reorgs)
	}
	if tracker.points.Len() != 3 {
		t.Error("points kept", tracker.points.Len())
	}
}

func TestApplyReorgSameHeight(t *testing.T) {
	tracker, _, reorgs := testTracker(t)

	tracker.apply(common.BlockPoint{Height: 1, Hash: "a1"}, "a0")
	tracker.apply(common.BlockPoint{Height: 2, Hash: "a2"}, "a1")
	// Competing block at height 2 wins.
	tracker.apply(common.BlockPoint{Height: 2, Hash: "b2"}, "a1")

	head, _ := tracker.Head()
	if head.Hash != "b2" {
		t.Error("head after reorg", head)
	}
	if len(*reorgs) != 1 || (*reorgs)[0].Hash != "b2" {
		t.Error("reorg events", *reorgs)
	}
	if tracker.points.Len() != 2 {
		t.Error("points after rollback", tracker.points.Len())
	}
}

func TestApplyDeepReorg(t *testing.T) {
	tracker, _, reorgs := testTracker(t)

	tracker.apply(common.BlockPoint{Height: 1, Hash: "a1"}, "a0")
	tracker.apply(common.BlockPoint{Height: 2, Hash: "a2"}, "a1")
	tracker.apply(common.BlockPoint{Height: 3, Hash: "a3"}, "a2")
	// Fork from height 1: replacement for height 2 descends from a1.
	tracker.apply(common.BlockPoint{Height: 2, Hash: "b2"}, "a1")

	head, _ := tracker.Head()
	if head.Hash != "b2" {
		t.Error("head after deep reorg", head)
	}
	if tracker.points.Len() != 2 {
		t.Error("points after rollback", tracker.points.Len())
	}
	if len(*reorgs) != 1 {
		t.Error("reorg events", len(*reorgs))
	}

	// The rollback never runs below the fork point.
	if top, _ := tracker.Head(); top.Height != 2 {
		t.Error("top", top)
	}
	tracker.points.Pop()
	bottom, ok := tracker.peek()
	if !ok || bottom.Hash != "a1" {
		t.Error("fork point", bottom, ok)
	}
}

func TestApplyGapAccepted(t *testing.T) {
	tracker, _, reorgs := testTracker(t)

	tracker.apply(common.BlockPoint{Height: 1, Hash: "a1"}, "a0")
	// Pushes 2..4 were missed while resubscribing.
	tracker.apply(common.BlockPoint{Height: 5, Hash: "a5"}, "a4")

	head, _ := tracker.Head()
	if head.Height != 5 {
		t.Error("head", head)
	}
	if len(*reorgs) != 0 {
		t.Error("gap must not count as reorg")
	}
	if tracker.points.Len() != 2 {
		t.Error("points", tracker.points.Len())
	}
}

func TestTrimBoundsMemory(t *testing.T) {
	tracker, _, _ := testTracker(t)
	for i := uint64(1); i <= maxRecentPoints*2+1; i++ {
		tracker.apply(common.BlockPoint{Height: i, Hash: "h"}, "h")
	}
	if tracker.points.Len() > maxRecentPoints {
		t.Error("trim kept", tracker.points.Len())
	}
	head, _ := tracker.Head()
	if head.Height != maxRecentPoints*2+1 {
		t.Error("head after trim", head)
	}
}
