package config

import (
	"github.com/pkg/errors"
)

// Miner configures the serving side of a neuron.
type Miner struct {
	Enabled bool `yaml:"enabled"`

	// Metagraph resync cadence in blocks.
	EpochLength uint64 `yaml:"epoch_length"`

	// Blacklist policy for incoming requests. BlacklistMinStake is
	// denominated in tao.
	ForceValidatorPermit bool    `yaml:"force_validator_permit"`
	BlacklistMinStake    float64 `yaml:"blacklist_min_stake"`
	AllowNonRegistered   bool    `yaml:"allow_non_registered"`
}

func (self *Miner) Check(cfg *Base) error {
	if !self.Enabled {
		return nil
	}
	if self.EpochLength == 0 {
		return errors.New("miner epoch_length must be set when miner enabled")
	}
	if self.BlacklistMinStake < 0 {
		return errors.New("blacklist_min_stake must not be negative")
	}
	return nil
}

func (self *Miner) fill(cfg *Base) {
	if self.EpochLength == 0 {
		self.EpochLength = 100
	}
}
