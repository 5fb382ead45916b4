package handlers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/grigorimaxim422/atom/tools"
	"github.com/pkg/errors"
)

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := tools.RunCommand(dir, args[0], args[1:]...)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// genRemote builds a bare repository seeded with two commits of
// scores/alpha.json on main and returns its path plus both hashes.
func genRemote(t *testing.T) (string, string, string) {
	t.Setenv("GIT_AUTHOR_NAME", "tester")
	t.Setenv("GIT_AUTHOR_EMAIL", "tester@localhost")
	t.Setenv("GIT_COMMITTER_NAME", "tester")
	t.Setenv("GIT_COMMITTER_EMAIL", "tester@localhost")

	base := t.TempDir()
	remote := filepath.Join(base, "remote.git")
	run(t, base, "git", "init", "--bare", "remote.git")
	run(t, remote, "git", "symbolic-ref", "HEAD", "refs/heads/main")

	seed := filepath.Join(base, "seed")
	run(t, base, "git", "clone", remote, "seed")
	run(t, seed, "git", "checkout", "-B", "main")

	writeSeed := func(content string) string {
		if err := os.MkdirAll(filepath.Join(seed, "scores"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(seed, "scores", "alpha.json"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		run(t, seed, "git", "add", "-A")
		run(t, seed, "git", "commit", "-m", "seed")
		run(t, seed, "git", "push", "origin", "main")
		return run(t, seed, "git", "rev-parse", "HEAD")
	}
	first := writeSeed(`{"v":1}`)
	second := writeSeed(`{"v":2}`)
	return remote, first, second
}

func genHandler(t *testing.T, remote string) (*GithubHandler, string) {
	workDir := t.TempDir()
	cfg := config.Github{RepoURL: remote, Branch: "main", WorkDir: workDir}
	return NewGithubHandler(cfg), workDir
}

func assertCloneGone(t *testing.T, workDir string) {
	t.Helper()
	entries, err := os.ReadDir(workDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("clone must be removed, found %v", entries)
	}
}

func TestGithubGetJSONAtCommit(t *testing.T) {
	remote, first, _ := genRemote(t)
	h, workDir := genHandler(t, remote)

	var out struct {
		V int `json:"v"`
	}
	if err := h.GetJSON(context.Background(), first, "scores/alpha.json", &out); err != nil {
		t.Fatal(err)
	}
	if out.V != 1 {
		t.Fatalf("content at first commit: %+v", out)
	}
	assertCloneGone(t, workDir)

	// Empty ref reads the branch head.
	if err := h.GetJSON(context.Background(), "", "scores/alpha.json", &out); err != nil {
		t.Fatal(err)
	}
	if out.V != 2 {
		t.Fatalf("content at head: %+v", out)
	}
}

func TestGithubGetMissingFile(t *testing.T) {
	remote, first, _ := genRemote(t)
	h, workDir := genHandler(t, remote)

	var out map[string]int
	err := h.GetJSON(context.Background(), first, "scores/ghost.json", &out)
	if errors.Cause(err) != common.ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	assertCloneGone(t, workDir)
}

func TestGithubGetRefAndPathKey(t *testing.T) {
	remote, first, _ := genRemote(t)
	gh, _ := genHandler(t, remote)
	var h Handler = gh

	dst := filepath.Join(t.TempDir(), "fetched", "alpha.json")
	if err := h.Get(context.Background(), first+":scores/alpha.json", dst); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"v":1}` {
		t.Fatalf("fetched %s", data)
	}
}

func TestGithubPutPushes(t *testing.T) {
	remote, _, second := genRemote(t)
	h, workDir := genHandler(t, remote)

	src := genFile(t, "hot1.json", `{"score":0.7}`)
	hash, err := h.Put(context.Background(), src, "scores")
	if err != nil {
		t.Fatal(err)
	}
	if hash == second {
		t.Fatal("push must advance the remote head")
	}
	if got := run(t, remote, "git", "rev-parse", "main"); got != hash {
		t.Fatalf("returned %s but remote head is %s", hash, got)
	}
	assertCloneGone(t, workDir)

	var out struct {
		Score float64 `json:"score"`
	}
	if err := h.GetJSON(context.Background(), hash, "scores/hot1.json", &out); err != nil {
		t.Fatal(err)
	}
	if out.Score != 0.7 {
		t.Fatalf("round trip %+v", out)
	}
}

func TestGithubPutUnchangedContent(t *testing.T) {
	remote, _, _ := genRemote(t)
	h, _ := genHandler(t, remote)

	src := genFile(t, "hot1.json", `{"score":0.7}`)
	first, err := h.Put(context.Background(), src, "scores")
	if err != nil {
		t.Fatal(err)
	}
	again, err := h.Put(context.Background(), src, "scores")
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Fatalf("no-op put moved the head from %s to %s", first, again)
	}
}

func TestGithubPutFor(t *testing.T) {
	remote, _, _ := genRemote(t)
	h, _ := genHandler(t, remote)

	hotkey := "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"
	if _, err := h.PutFor(context.Background(), []byte(`{"ok":true}`), "scores", "json", hotkey); err != nil {
		t.Fatal(err)
	}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := h.GetJSON(context.Background(), "", "scores/"+hotkey+".json", &out); err != nil {
		t.Fatal(err)
	}
	if !out.OK {
		t.Fatal("published file must read back")
	}
}
