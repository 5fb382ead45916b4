package config

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Github configures the git-backed artifact handler. The section is
// inert until repo_url is set.
type Github struct {
	RepoURL string `yaml:"repo_url"`
	Branch  string `yaml:"branch"`
	WorkDir string `yaml:"work_dir"`
}

func (self *Github) Check(cfg *Base) error {
	if self.RepoURL == "" {
		return nil
	}
	if !strings.Contains(self.RepoURL, "/") {
		return errors.Errorf("github repo_url %s does not look like a repository", self.RepoURL)
	}
	return nil
}

func (self *Github) fill(cfg *Base) {
	if self.Branch == "" {
		self.Branch = "main"
	}
	if self.WorkDir == "" {
		self.WorkDir = filepath.Join(cfg.DataDir, "github")
	}
}
