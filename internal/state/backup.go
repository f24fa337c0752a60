// SPDX-License-Identifier: MIT

package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MaxSnapshotBackups bounds how many prior snapshots backupSnapshot keeps
// around, giving an operator a way back from a bad mutation even though
// the Store itself has no undo.
const MaxSnapshotBackups = 5

const backupTimestampFormat = "2006-01-02T15-04-05"

// backupSnapshot copies the current state.json aside before a
// successful mutation overwrites it, keeping the last MaxSnapshotBackups.
func backupSnapshot(path, backupDir string, now time.Time) error {
	if backupDir == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil // nothing to back up yet
		}
		return fmt.Errorf("stat snapshot for backup: %w", err)
	}

	if err := os.MkdirAll(backupDir, 0o750); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is the store's own configured snapshot path
	if err != nil {
		return fmt.Errorf("read snapshot for backup: %w", err)
	}

	name := fmt.Sprintf("%s.%s.bak", filepath.Base(path), now.UTC().Format(backupTimestampFormat))
	dst := filepath.Join(backupDir, name)
	if err := os.WriteFile(dst, data, 0o640); err != nil { // #nosec G306 -- backups mirror the snapshot's own permissions
		return fmt.Errorf("write backup: %w", err)
	}

	return pruneBackups(backupDir, filepath.Base(path), MaxSnapshotBackups)
}

func pruneBackups(backupDir, snapshotBase string, keep int) error {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return fmt.Errorf("read backup dir: %w", err)
	}

	var names []string
	prefix := snapshotBase + "."
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".bak") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // timestamp format sorts lexicographically == chronologically

	if len(names) <= keep {
		return nil
	}
	for _, n := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(backupDir, n)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("prune backup %s: %w", n, err)
		}
	}
	return nil
}
