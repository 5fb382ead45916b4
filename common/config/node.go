package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Node is the full configuration of one subnet participant.
type Node struct {
	BaseCfg      Base      `yaml:"base"`
	WalletCfg    Wallet    `yaml:"wallet"`
	ChainCfg     Chain     `yaml:"chain"`
	AxonCfg      Axon      `yaml:"axon"`
	DendriteCfg  Dendrite  `yaml:"dendrite"`
	EpistulaCfg  Epistula  `yaml:"epistula"`
	MinerCfg     Miner     `yaml:"miner"`
	ValidatorCfg Validator `yaml:"validator"`
	OrganicCfg   Organic   `yaml:"organic"`
	S3Cfg        S3        `yaml:"s3"`
	GithubCfg    Github    `yaml:"github"`
}

type section interface {
	Check(cfg *Base) error
	fill(cfg *Base)
}

func (self *Node) sections() []section {
	return []section{
		&self.WalletCfg,
		&self.ChainCfg,
		&self.AxonCfg,
		&self.DendriteCfg,
		&self.EpistulaCfg,
		&self.MinerCfg,
		&self.ValidatorCfg,
		&self.OrganicCfg,
		&self.S3Cfg,
		&self.GithubCfg,
	}
}

// Fill applies defaults to every empty field.
func (self *Node) Fill() {
	self.BaseCfg.fill()
	for _, s := range self.sections() {
		s.fill(&self.BaseCfg)
	}
}

// Check validates every section against the base paths.
func (self *Node) Check() error {
	if err := self.BaseCfg.Check(); err != nil {
		return err
	}
	for _, s := range self.sections() {
		if err := s.Check(&self.BaseCfg); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a filled configuration without reading any file.
func Default() Node {
	var cfg Node
	cfg.Fill()
	return cfg
}

// Load reads a yaml config file, fills defaults and validates it.
func Load(path string) (Node, error) {
	var cfg Node
	byt, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(byt, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	cfg.Fill()
	if err := cfg.Check(); err != nil {
		return cfg, errors.Wrapf(err, "check config %s", path)
	}
	return cfg, nil
}
