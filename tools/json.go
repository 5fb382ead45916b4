package tools

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ReadJSON loads a json file into out.
func ReadJSON(path string, out interface{}) error {
	byt, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(byt, out); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	return nil
}

// WriteJSON writes out as indented json, creating parent dirs first.
func WriteJSON(path string, in interface{}, perm os.FileMode) error {
	byt, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "mkdir for %s", path)
	}
	if err := os.WriteFile(path, byt, perm); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}
