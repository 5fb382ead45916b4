package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Base holds paths shared by every other section.
type Base struct {
	DataDir string `yaml:"data_dir"`
	LogDir  string `yaml:"log_dir"`
}

func (self *Base) Check() error {
	if self.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	return nil
}

func (self *Base) fill() {
	if self.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		self.DataDir = filepath.Join(home, ".atom")
	}
	if self.LogDir == "" {
		self.LogDir = filepath.Join(self.DataDir, "logs")
	}
}
