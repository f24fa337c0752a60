// SPDX-License-Identifier: MIT

package srsconfig

import (
	"fmt"
	"syscall"

	"github.com/google/renameio/v2"

	"github.com/restreamerd/restreamerd/internal/state"
)

// WriteAndReload renders s to path via atomic tempfile-plus-rename (so SRS
// never observes a partially written config) and, if pid is non-zero,
// signals the running SRS process with SIGHUP to pick it up, following
// the same renameio.WriteFile crash-safety pattern as
// internal/state.saveSnapshot.
func WriteAndReload(path string, pid int, s state.State, opts Options) error {
	if err := renameio.WriteFile(path, []byte(Render(s, opts)), 0o640); err != nil {
		return fmt.Errorf("write srs config %s: %w", path, err)
	}
	if pid == 0 {
		return nil
	}
	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		return fmt.Errorf("reload srs (pid %d): %w", pid, err)
	}
	return nil
}
