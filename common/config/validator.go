package config

import (
	"github.com/pkg/errors"
)

// Validator configures the scoring side of a neuron.
type Validator struct {
	Enabled bool `yaml:"enabled"`

	// Weight-setting cadence in blocks. Zero means follow the subnet
	// tempo reported by the chain.
	EpochLength uint64 `yaml:"epoch_length"`

	// Moving-average smoothing for scores, in (0, 1].
	Alpha float64 `yaml:"alpha"`

	// How many miners a single forward pass queries.
	SampleSize int `yaml:"sample_size"`

	// VersionKey overrides the weights version key. Zero means the
	// spec version built into the binary.
	VersionKey uint64 `yaml:"version_key"`

	// StatePath is where scores survive restarts.
	StatePath string `yaml:"state_path"`
}

func (self *Validator) Check(cfg *Base) error {
	if !self.Enabled {
		return nil
	}
	if self.Alpha <= 0 || self.Alpha > 1 {
		return errors.Errorf("validator alpha must be in (0, 1], got %v", self.Alpha)
	}
	return nil
}

func (self *Validator) fill(cfg *Base) {
	if self.Alpha == 0 {
		self.Alpha = 0.1
	}
	if self.SampleSize == 0 {
		self.SampleSize = 16
	}
	if self.StatePath == "" {
		self.StatePath = cfg.DataDir + "/validator_state.json"
	}
}

// Organic configures the organic scoring loop of a validator.
type Organic struct {
	Enabled bool `yaml:"enabled"`

	// Trigger is "seconds" or "steps".
	Trigger          string  `yaml:"trigger"`
	TriggerFrequency float64 `yaml:"trigger_frequency"`
	TriggerMin       float64 `yaml:"trigger_min"`
	ScalingFactor    float64 `yaml:"scaling_factor"`
	QueueSize        int     `yaml:"queue_size"`
}

func (self *Organic) Check(cfg *Base) error {
	if !self.Enabled {
		return nil
	}
	if self.Trigger != "seconds" && self.Trigger != "steps" {
		return errors.Errorf("organic trigger must be seconds or steps, got %s", self.Trigger)
	}
	if self.TriggerFrequency <= 0 {
		return errors.New("organic trigger_frequency must be positive")
	}
	return nil
}

func (self *Organic) fill(cfg *Base) {
	if self.Trigger == "" {
		self.Trigger = "seconds"
	}
	if self.TriggerFrequency == 0 {
		self.TriggerFrequency = 60
	}
	if self.TriggerMin == 0 {
		self.TriggerMin = 5
	}
	if self.ScalingFactor == 0 {
		self.ScalingFactor = 5
	}
	if self.QueueSize == 0 {
		self.QueueSize = 1000
	}
}
