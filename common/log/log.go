package log

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/inconshreveable/log15"
)

var root = log15.New("module", "atom")

func Debug(msg string, ctx ...interface{}) {
	root.Debug(fmt.Sprintf(msg, ctx...))
}

func Info(msg string, ctx ...interface{}) {
	root.Info(fmt.Sprintf(msg, ctx...))
}

func Warn(msg string, ctx ...interface{}) {
	root.Warn(fmt.Sprintf(msg, ctx...))
}

func Error(msg string, ctx ...interface{}) {
	root.Error(fmt.Sprintf(msg, ctx...))
}

func Fatal(msg string, ctx ...interface{}) {
	root.Crit(fmt.Sprintf(msg, ctx...))
	os.Exit(1)
}

// New returns a scoped log15 logger sharing the root handler.
func New(ctx ...interface{}) log15.Logger {
	return root.New(ctx...)
}

// InitPath mirrors everything at info level and above into a JSON log
// file under dir, keeping stderr output for the terminal.
func InitPath(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	file := filepath.Join(dir, "atom.log")
	root.SetHandler(log15.MultiHandler(
		log15.LvlFilterHandler(log15.LvlInfo, log15.Must.FileHandler(file, log15.JsonFormat())),
		log15.StderrHandler,
	))
	return nil
}
