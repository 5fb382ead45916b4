package config

import (
	"github.com/pkg/errors"
)

// Axon configures the HTTP server a miner exposes to validators.
type Axon struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ExternalIP   string `yaml:"external_ip"`
	ExternalPort int    `yaml:"external_port"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

func (self *Axon) Check(cfg *Base) error {
	if self.Port <= 0 || self.Port > 65535 {
		return errors.Errorf("axon port out of range: %d", self.Port)
	}
	if self.ExternalPort < 0 || self.ExternalPort > 65535 {
		return errors.Errorf("axon external port out of range: %d", self.ExternalPort)
	}
	return nil
}

func (self *Axon) fill(cfg *Base) {
	if self.Host == "" {
		self.Host = "0.0.0.0"
	}
	if self.Port == 0 {
		self.Port = 8091
	}
	if self.ExternalPort == 0 {
		self.ExternalPort = self.Port
	}
	if self.MaxBodyBytes == 0 {
		self.MaxBodyBytes = 16 << 20
	}
}

// Dendrite configures the client side validators use to reach axons.
type Dendrite struct {
	TimeoutSec     int `yaml:"timeout"`
	MaxConcurrency int `yaml:"max_concurrency"`
}

func (self *Dendrite) Check(cfg *Base) error {
	if self.MaxConcurrency < 1 {
		return errors.New("dendrite max_concurrency must be at least 1")
	}
	return nil
}

func (self *Dendrite) fill(cfg *Base) {
	if self.TimeoutSec == 0 {
		self.TimeoutSec = 12
	}
	if self.MaxConcurrency == 0 {
		self.MaxConcurrency = 16
	}
}

// Epistula tunes verification of signed requests.
type Epistula struct {
	AllowedDeltaMS int64 `yaml:"allowed_delta_ms"`
}

func (self *Epistula) Check(cfg *Base) error {
	if self.AllowedDeltaMS < 0 {
		return errors.New("allowed_delta_ms must not be negative")
	}
	return nil
}

func (self *Epistula) fill(cfg *Base) {
	if self.AllowedDeltaMS == 0 {
		self.AllowedDeltaMS = 8000
	}
}
