package config

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// Chain points at the substrate endpoint this node talks to.
type Chain struct {
	Endpoint       string `yaml:"endpoint"`
	NetUID         uint16 `yaml:"netuid"`
	SS58Prefix     uint16 `yaml:"ss58_prefix"`
	DialTimeoutSec int    `yaml:"dial_timeout"`
	CallTimeoutSec int    `yaml:"call_timeout"`

	// GenesisHash pins the expected chain. Empty trusts whatever the
	// endpoint reports.
	GenesisHash string `yaml:"genesis_hash"`

	// Call index overrides as hex, e.g. "0x0708". Empty keeps the
	// builtin table for the stock subtensor runtime.
	SetWeightsCall string `yaml:"set_weights_call"`
	ServeAxonCall  string `yaml:"serve_axon_call"`

	// Set when the runtime includes the CheckMetadataHash extension.
	CheckMetadataHash bool `yaml:"check_metadata_hash"`
}

func (self *Chain) Check(cfg *Base) error {
	if self.Endpoint == "" {
		return errors.New("chain endpoint must be set")
	}
	if !strings.HasPrefix(self.Endpoint, "ws://") && !strings.HasPrefix(self.Endpoint, "wss://") {
		return errors.Errorf("chain endpoint must be a websocket url, got %s", self.Endpoint)
	}
	if _, err := self.callIndex(self.SetWeightsCall); err != nil {
		return errors.Wrap(err, "set_weights_call")
	}
	if _, err := self.callIndex(self.ServeAxonCall); err != nil {
		return errors.Wrap(err, "serve_axon_call")
	}
	if self.GenesisHash != "" {
		raw := strings.TrimPrefix(self.GenesisHash, "0x")
		if _, err := hex.DecodeString(raw); err != nil || len(raw) != 64 {
			return errors.Errorf("genesis_hash must be a 32-byte hex string, got %s", self.GenesisHash)
		}
	}
	return nil
}

func (self *Chain) fill(cfg *Base) {
	if self.Endpoint == "" {
		self.Endpoint = "ws://127.0.0.1:9944"
	}
	if self.SS58Prefix == 0 {
		self.SS58Prefix = 42
	}
	if self.DialTimeoutSec == 0 {
		self.DialTimeoutSec = 10
	}
	if self.CallTimeoutSec == 0 {
		self.CallTimeoutSec = 30
	}
}

// SetWeightsIndex returns the configured override, or ok=false to keep
// the builtin call index.
func (self *Chain) SetWeightsIndex() (idx [2]byte, ok bool) {
	idx, err := self.callIndex(self.SetWeightsCall)
	return idx, err == nil && self.SetWeightsCall != ""
}

func (self *Chain) ServeAxonIndex() (idx [2]byte, ok bool) {
	idx, err := self.callIndex(self.ServeAxonCall)
	return idx, err == nil && self.ServeAxonCall != ""
}

func (self *Chain) callIndex(s string) ([2]byte, error) {
	var idx [2]byte
	if s == "" {
		return idx, nil
	}
	byt, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return idx, errors.Wrap(err, "decode call index")
	}
	if len(byt) != 2 {
		return idx, errors.Errorf("call index must be 2 bytes, got %d", len(byt))
	}
	copy(idx[:], byt)
	return idx, nil
}
