// SPDX-License-Identifier: MIT

package state

import (
	"sync"
	"time"
)

// Mutation is a pure function over a State value: it receives the current
// value and returns a new value, or an error. The mutations in this
// package edit their argument in place and return it; Store.Apply always
// hands a Mutation an already-cloned State, so the Store's current value
// is untouched until the result is accepted.
type Mutation func(State) (State, error)

// Config configures a Store.
type Config struct {
	// SnapshotPath is the file the State tree is durably mirrored to.
	SnapshotPath string
	// BackupDir, if non-empty, receives a timestamped copy of the
	// snapshot before every successful overwrite.
	BackupDir string
	// KDFCost parameterizes password hashing (see password.go).
	KDFCost KDFCost
	// OnChange, if set, is called with the merged (status-populated)
	// View after every successful mutation or status write. Typically
	// bus.Bus[state.State].Publish.
	OnChange func(State)
}

// Store is the single-writer, many-reader Persisted State Store
// (spec.md §4.1).
type Store struct {
	mu  sync.Mutex // serializes all writers: mutations and status updates
	cfg Config

	data State
	live liveStatus
}

// NewStore loads the snapshot at cfg.SnapshotPath (or starts empty if it
// does not exist) and returns a ready Store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.KDFCost == (KDFCost{}) {
		cfg.KDFCost = DefaultKDFCost
	}
	data, err := loadSnapshot(cfg.SnapshotPath)
	if err != nil {
		return nil, err
	}
	s := &Store{cfg: cfg, data: data}
	s.live.init()
	return s, nil
}

// View returns a deep copy of the current State with live Status fields
// merged in from supervisor/handler writebacks.
func (s *Store) View() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Store) viewLocked() State {
	v := s.data.Clone()
	s.live.mergeInto(&v)
	return v
}

func (s *Store) notify() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(s.viewLocked())
	}
}

// Apply runs mutate against the current State. On success the result is
// validated, persisted, and becomes the new current State; on any failure
// the Store is left completely unchanged (spec.md §8: "apply returns an
// error and S is unchanged").
func (s *Store) Apply(mutate Mutation) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := s.data.Clone()
	next, err := mutate(clone)
	if err != nil {
		return State{}, err
	}

	if err := validate(&next); err != nil {
		return State{}, err
	}

	next.Version = s.data.Version + 1

	if s.cfg.SnapshotPath != "" {
		if err := backupSnapshot(s.cfg.SnapshotPath, s.cfg.BackupDir, time.Now()); err != nil {
			return State{}, internalErrf(err, "backup snapshot before write")
		}
		if err := saveSnapshot(s.cfg.SnapshotPath, next); err != nil {
			return State{}, internalErrf(err, "persist snapshot")
		}
	}

	s.data = next
	view := s.viewLocked()
	s.notify()
	return view, nil
}

// SetEndpointStatus records the live Status of an InputEndpoint, writing
// through latest-observation-wins (spec.md §5), and republishes to the
// change notifier if it changed anything.
func (s *Store) SetEndpointStatus(endpointID string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live.setEndpoint(endpointID, status) {
		s.notify()
	}
}

// SetOutputStatus records the live Status of an Output.
func (s *Store) SetOutputStatus(outputID string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live.setOutput(outputID, status) {
		s.notify()
	}
}

// EndpointStatus returns the last recorded Status for an endpoint id, or
// StatusOffline if none has been recorded (matching the reset-on-restart
// invariant).
func (s *Store) EndpointStatus(endpointID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.endpointStatus(endpointID)
}

// Authorize verifies candidate against the configured password, if any.
// An unprotected instance (no password set) authorizes every candidate,
// including an empty one.
func (s *Store) Authorize(candidate string) error {
	s.mu.Lock()
	hash := s.data.Settings.PasswordHash
	s.mu.Unlock()

	if hash == "" {
		return nil
	}
	ok, err := verifyPassword(candidate, hash)
	if err != nil {
		return internalErrf(err, "verify password")
	}
	if !ok {
		return unauthorizedErrf("invalid password")
	}
	return nil
}

// HasPassword reports whether an API password is currently configured.
func (s *Store) HasPassword() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Settings.PasswordHash != ""
}

// SetPassword implements the setPassword mutation (spec.md §6): setting a
// password on an unprotected instance requires no proof; changing or
// removing one requires the previous password.
func (s *Store) SetPassword(oldPassword, newPassword string) (State, error) {
	return s.Apply(func(cur State) (State, error) {
		if cur.Settings.PasswordHash != "" {
			ok, err := verifyPassword(oldPassword, cur.Settings.PasswordHash)
			if err != nil {
				return State{}, internalErrf(err, "verify old password")
			}
			if !ok {
				return State{}, unauthorizedErrf("old password does not match")
			}
		}

		if newPassword == "" {
			cur.Settings.PasswordHash = ""
			return cur, nil
		}

		hash, err := hashPassword(newPassword, s.cfg.KDFCost)
		if err != nil {
			return State{}, internalErrf(err, "hash new password")
		}
		cur.Settings.PasswordHash = hash
		return cur, nil
	})
}

