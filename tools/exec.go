package tools

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/grigorimaxim422/atom/common/log"
	"github.com/pkg/errors"
)

// RunCommand runs one command in dir and returns its trimmed stdout.
// Stderr rides along in the error on failure.
func RunCommand(dir string, name string, args ...string) (string, error) {
	return RunCommandContext(context.Background(), dir, name, args...)
}

// RunCommandContext is RunCommand with the process bound to ctx.
func RunCommandContext(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Debug("run: %s %s", name, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
