package main

import (
	"os"

	"github.com/grigorimaxim422/atom/common/log"
	"github.com/grigorimaxim422/atom/examples"
)

// Runs the echo subnet demo end to end: one miner, one validator and a
// weight submission on a mock chain. The operator entry point is
// cmd/subnet.
func main() {
	call, err := examples.RunEcho()
	if err != nil {
		log.Error("echo demo: %v", err)
		os.Exit(1)
	}
	log.Info("echo demo done: uids %v weights %v on netuid %d",
		call.UIDs, call.Weights, call.NetUID)
}
