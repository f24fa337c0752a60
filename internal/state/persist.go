// SPDX-License-Identifier: MIT

package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// loadSnapshot reads and parses the State snapshot at path. A missing or
// empty file is not an error — it yields a fresh, empty State. Any
// other read or parse failure is returned as-is so the caller can treat
// it as a fatal boot condition.
func loadSnapshot(path string) (State, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is an administrator-supplied CLI flag
	if errors.Is(err, os.ErrNotExist) {
		return State{Version: 1}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	if len(data) == 0 {
		return State{Version: 1}, nil
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	if s.Version == 0 {
		s.Version = 1
	}
	return s, nil
}

// saveSnapshot durably writes s to path via a tempfile-plus-atomic-rename,
// using renameio so a crash mid-write can never leave a partially written
// snapshot on disk.
func saveSnapshot(path string, s State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}
