package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Check(); err != nil {
		t.Error("default config must pass check", err)
	}
	if cfg.ChainCfg.SS58Prefix != 42 {
		t.Error("default ss58 prefix", cfg.ChainCfg.SS58Prefix)
	}
	if cfg.EpistulaCfg.AllowedDeltaMS != 8000 {
		t.Error("default allowed delta", cfg.EpistulaCfg.AllowedDeltaMS)
	}
	if cfg.AxonCfg.Port != 8091 {
		t.Error("default axon port", cfg.AxonCfg.Port)
	}
	if cfg.AxonCfg.ExternalPort != cfg.AxonCfg.Port {
		t.Error("external port should follow port", cfg.AxonCfg.ExternalPort)
	}
	if cfg.WalletCfg.KeyType != "sr25519" {
		t.Error("default key type", cfg.WalletCfg.KeyType)
	}
	if cfg.GithubCfg.Branch != "main" {
		t.Error("default github branch", cfg.GithubCfg.Branch)
	}
	if cfg.GithubCfg.WorkDir != filepath.Join(cfg.BaseCfg.DataDir, "github") {
		t.Error("github work dir should derive from data dir", cfg.GithubCfg.WorkDir)
	}
}

func TestCheckRejects(t *testing.T) {
	cfg := Default()
	cfg.ChainCfg.Endpoint = "http://127.0.0.1:9944"
	if err := cfg.Check(); err == nil {
		t.Error("non-websocket endpoint must fail")
	}

	cfg = Default()
	cfg.ValidatorCfg.Enabled = true
	cfg.ValidatorCfg.Alpha = 1.5
	if err := cfg.Check(); err == nil {
		t.Error("alpha above 1 must fail")
	}

	cfg = Default()
	cfg.OrganicCfg.Enabled = true
	cfg.OrganicCfg.Trigger = "minutes"
	if err := cfg.Check(); err == nil {
		t.Error("unknown trigger must fail")
	}

	cfg = Default()
	cfg.ChainCfg.SetWeightsCall = "0x07"
	if err := cfg.Check(); err == nil {
		t.Error("one-byte call index must fail")
	}

	cfg = Default()
	cfg.GithubCfg.RepoURL = "not-a-repo"
	if err := cfg.Check(); err == nil {
		t.Error("malformed github repo url must fail")
	}
}

func TestCallIndexOverride(t *testing.T) {
	cfg := Default()
	if _, ok := cfg.ChainCfg.SetWeightsIndex(); ok {
		t.Error("no override expected by default")
	}
	cfg.ChainCfg.SetWeightsCall = "0x0708"
	idx, ok := cfg.ChainCfg.SetWeightsIndex()
	if !ok {
		t.Error("override expected")
	}
	if idx != [2]byte{0x07, 0x08} {
		t.Error("wrong index", idx)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	body := `
base:
  data_dir: ` + dir + `
wallet:
  name: test
  hotkey: hk0
chain:
  endpoint: ws://10.0.0.1:9944
  netuid: 19
miner:
  enabled: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal("load failed", err)
	}
	if cfg.ChainCfg.NetUID != 19 {
		t.Error("netuid", cfg.ChainCfg.NetUID)
	}
	if cfg.WalletCfg.Hotkey != "hk0" {
		t.Error("hotkey", cfg.WalletCfg.Hotkey)
	}
	if !cfg.MinerCfg.Enabled {
		t.Error("miner should be enabled")
	}
	if cfg.MinerCfg.EpochLength != 100 {
		t.Error("epoch length default", cfg.MinerCfg.EpochLength)
	}
	if cfg.WalletCfg.Path != dir+"/wallets" {
		t.Error("wallet path should derive from data dir", cfg.WalletCfg.Path)
	}
}
