package monitor

import (
	"testing"
	"time"
)

func TestLogTime(t *testing.T) {
	Reset()
	LogTime("axon", "forward", time.Now().Add(-30*time.Millisecond))
	LogTime("axon", "forward", time.Now().Add(-50*time.Millisecond))
	LogEvent("axon", "blacklisted")

	stat := Stat()
	if len(stat) != 2 {
		t.Fatal("stat entries", len(stat))
	}
	if stat[0].Name != "blacklisted" || stat[0].Cnt != 1 {
		t.Error("event counter", stat[0])
	}
	timed := stat[1]
	if timed.Name != "forward" || timed.Cnt != 2 {
		t.Error("timed counter", timed)
	}
	if timed.Sum < 80 || timed.Sum > 200 {
		t.Error("summed ms", timed.Sum)
	}
}

func TestStatSorted(t *testing.T) {
	Reset()
	LogEvent("validator", "epoch")
	LogEvent("chain", "reorg")
	LogEvent("chain", "call")

	stat := Stat()
	if len(stat) != 3 {
		t.Fatal("stat entries", len(stat))
	}
	if stat[0].Type != "chain" || stat[0].Name != "call" {
		t.Error("order", stat[0])
	}
	if stat[2].Type != "validator" {
		t.Error("order", stat[2])
	}
}

func TestLogTimeConcurrent(t *testing.T) {
	Reset()
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				LogEvent("dendrite", "query")
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	stat := Stat()
	if len(stat) != 1 || stat[0].Cnt != 400 {
		t.Error("concurrent count", stat)
	}
}
