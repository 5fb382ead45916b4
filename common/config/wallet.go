package config

import (
	"github.com/pkg/errors"
)

// Wallet names the key pair used for signing requests and extrinsics.
type Wallet struct {
	Path    string `yaml:"path"`
	Name    string `yaml:"name"`
	Hotkey  string `yaml:"hotkey"`
	KeyType string `yaml:"key_type"`
}

func (self *Wallet) Check(cfg *Base) error {
	if self.Name == "" {
		return errors.New("wallet name must be set")
	}
	if self.Hotkey == "" {
		return errors.New("wallet hotkey must be set")
	}
	if self.KeyType != "sr25519" && self.KeyType != "ed25519" {
		return errors.Errorf("unknown key type %s", self.KeyType)
	}
	return nil
}

func (self *Wallet) fill(cfg *Base) {
	if self.Path == "" {
		self.Path = cfg.DataDir + "/wallets"
	}
	if self.Name == "" {
		self.Name = "default"
	}
	if self.Hotkey == "" {
		self.Hotkey = "default"
	}
	if self.KeyType == "" {
		self.KeyType = "sr25519"
	}
}
