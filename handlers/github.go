package handlers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/grigorimaxim422/atom/common/log"
	"github.com/grigorimaxim422/atom/tools"
	"github.com/pkg/errors"
)

// GithubHandler stores artifacts as files in a git repository. Every
// operation works on a throwaway clone under workDir that is removed
// when the operation finishes, success or failure.
type GithubHandler struct {
	repoURL string
	branch  string
	workDir string
	name    string
}

// NewGithubHandler serves one branch of one repository. An empty
// branch means main, an empty work dir clones under the system temp
// directory.
func NewGithubHandler(cfg config.Github) *GithubHandler {
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	name := strings.TrimSuffix(filepath.Base(cfg.RepoURL), ".git")
	return &GithubHandler{repoURL: cfg.RepoURL, branch: branch, workDir: workDir, name: name}
}

// withClone clones the repository, runs fn inside it and removes the
// clone afterwards no matter how fn fared.
func (self *GithubHandler) withClone(ctx context.Context, fn func(dir string) error) error {
	dir := filepath.Join(self.workDir, self.name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		log.Info("cloning %s", self.repoURL)
		if _, err := tools.RunCommandContext(ctx, self.workDir, "git", "clone", self.repoURL); err != nil {
			return errors.Wrap(err, "clone")
		}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Error("remove clone %s: %v", dir, err)
		}
	}()
	return fn(dir)
}

// Get fetches one file into dst. The key is "<ref>:<path>" where ref
// is a commit hash or branch name; a bare path reads the head of the
// configured branch. A path absent from that revision is
// common.ErrNotFound.
func (self *GithubHandler) Get(ctx context.Context, key, dst string) error {
	ref, path, ok := strings.Cut(key, ":")
	if !ok {
		ref, path = self.branch, key
	}
	return self.withClone(ctx, func(dir string) error {
		data, err := self.readAt(ctx, dir, ref, path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return errors.Wrapf(err, "mkdir for %s", dst)
		}
		return errors.Wrapf(os.WriteFile(dst, data, 0644), "write %s", dst)
	})
}

// GetJSON checks out ref and decodes the file at path into out. An
// empty ref reads the head of the configured branch.
func (self *GithubHandler) GetJSON(ctx context.Context, ref, path string, out interface{}) error {
	if ref == "" {
		ref = self.branch
	}
	return self.withClone(ctx, func(dir string) error {
		data, err := self.readAt(ctx, dir, ref, path)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrapf(err, "parse %s at %s", path, ref)
		}
		return nil
	})
}

func (self *GithubHandler) readAt(ctx context.Context, dir, ref, path string) ([]byte, error) {
	if _, err := tools.RunCommandContext(ctx, dir, "git", "fetch", "--all"); err != nil {
		return nil, errors.Wrap(err, "fetch")
	}
	log.Debug("checking out %s", ref)
	if _, err := tools.RunCommandContext(ctx, dir, "git", "checkout", ref); err != nil {
		return nil, errors.Wrapf(err, "checkout %s", ref)
	}
	data, err := os.ReadFile(filepath.Join(dir, path))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(common.ErrNotFound, "%s at %s", path, ref)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return data, nil
}

// Put copies the local file at src into location on the configured
// branch, pushes and returns the remote head commit. Committing an
// unchanged file is tolerated; the remote head still comes back.
func (self *GithubHandler) Put(ctx context.Context, src, location string) (string, error) {
	content, err := os.ReadFile(src)
	if err != nil {
		return "", errors.Wrapf(err, "read %s", src)
	}
	return self.PutContent(ctx, content, location, filepath.Base(src))
}

// PutFor writes content as {hotkey}.{ext} under folder, the layout
// validators use to publish per-identity artifacts.
func (self *GithubHandler) PutFor(ctx context.Context, content []byte, folder, ext, hotkey string) (string, error) {
	return self.PutContent(ctx, content, folder, hotkey+"."+ext)
}

// PutContent commits content as one file and returns the remote head.
func (self *GithubHandler) PutContent(ctx context.Context, content []byte, folder, filename string) (string, error) {
	var remote string
	err := self.withClone(ctx, func(dir string) error {
		if _, err := tools.RunCommandContext(ctx, dir, "git", "checkout", self.branch); err != nil {
			return errors.Wrapf(err, "checkout %s", self.branch)
		}
		if _, err := tools.RunCommandContext(ctx, dir, "git", "pull", "origin", self.branch); err != nil {
			return errors.Wrapf(err, "pull %s", self.branch)
		}

		if err := os.MkdirAll(filepath.Join(dir, folder), 0755); err != nil {
			return errors.Wrapf(err, "mkdir %s", folder)
		}
		rel := filepath.Join(folder, filename)
		log.Info("writing %s to %s", rel, self.name)
		if err := os.WriteFile(filepath.Join(dir, rel), content, 0644); err != nil {
			return errors.Wrapf(err, "write %s", rel)
		}

		if _, err := tools.RunCommandContext(ctx, dir, "git", "add", rel); err != nil {
			return errors.Wrap(err, "add")
		}
		if _, err := tools.RunCommandContext(ctx, dir, "git", "commit", "-m", filename+" added file"); err != nil {
			log.Warn("nothing new to commit for %s, keeping the last commit", rel)
		}
		if _, err := tools.RunCommandContext(ctx, dir, "git", "push", "origin", self.branch); err != nil {
			return errors.Wrapf(err, "push %s", self.branch)
		}

		local, err := tools.RunCommandContext(ctx, dir, "git", "rev-parse", "HEAD")
		if err != nil {
			return errors.Wrap(err, "rev-parse")
		}
		if _, err := tools.RunCommandContext(ctx, dir, "git", "fetch", "origin", self.branch); err != nil {
			return errors.Wrap(err, "fetch")
		}
		remote, err = tools.RunCommandContext(ctx, dir, "git", "rev-parse", "origin/"+self.branch)
		if err != nil {
			return errors.Wrap(err, "rev-parse remote")
		}
		if local != remote {
			log.Warn("local commit %s differs from remote %s after push", local, remote)
		}
		return nil
	})
	return remote, err
}
