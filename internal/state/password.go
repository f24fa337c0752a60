// SPDX-License-Identifier: MIT

package state

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// KDFCost parameterizes the Argon2id hash. The zero value is not usable;
// callers get one from DefaultKDFCost or a tuned preset from
// internal/config (--password-kdf-cost).
type KDFCost struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDFCost targets roughly 100ms on modern server hardware, per
// spec.md §4.1.
var DefaultKDFCost = KDFCost{Time: 1, Memory: 64 * 1024, Threads: 4}

const (
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// hashPassword returns an encoded Argon2id hash in the conventional
// "$argon2id$v=19$m=...,t=...,p=...$salt$hash" form.
func hashPassword(password string, cost KDFCost) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, cost.Time, cost.Memory, cost.Threads, argon2KeyLen)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, cost.Memory, cost.Time, cost.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
	return encoded, nil
}

// verifyPassword checks candidate against an encoded hash produced by
// hashPassword, using a constant-time comparison.
func verifyPassword(candidate, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("unrecognized password hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, err
	}
	var mem uint32
	var timeCost uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &timeCost, &threads); err != nil {
		return false, err
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}

	got := argon2.IDKey([]byte(candidate), salt, timeCost, mem, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
