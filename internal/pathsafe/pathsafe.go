// SPDX-License-Identifier: MIT

// Package pathsafe validates the URL-safe identifiers and filesystem
// paths that flow from the API facade into the state tree and onto disk:
// Restream keys (must match ^[A-Za-z0-9_-]{1,20}$), Mixin-generated
// TeamSpeak display names, and DVR file paths (characters restricted to
// [A-Za-z0-9._/-]).
package pathsafe

import (
	"fmt"
	"regexp"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,20}$`)

// ValidKey reports whether key is a valid Restream key.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// ValidateKey returns an error describing why key is invalid, or nil.
func ValidateKey(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("key %q must match ^[A-Za-z0-9_-]{1,20}$", key)
	}
	return nil
}

var dvrPathCharset = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// ValidDVRPath reports whether path contains only the character class the
// DVR file-naming invariant allows: letters, digits, dot, underscore,
// slash, and hyphen. It does not resolve the path; callers must still
// confine it under the configured DVR root.
func ValidDVRPath(path string) bool {
	if path == "" {
		return false
	}
	return dvrPathCharset.MatchString(path)
}

// ValidateDVRPath returns an error describing why path is invalid, or nil.
func ValidateDVRPath(path string) error {
	if !ValidDVRPath(path) {
		return fmt.Errorf("dvr path %q contains characters outside [A-Za-z0-9._/-]", path)
	}
	return nil
}

var namePattern = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// GeneratedMixinName derives a deterministic, safe `name=` value for a
// ts:// Mixin URL that omitted one, from the Mixin's stable id. It is a
// pure function of an already-valid UUID and therefore never needs a
// fallback branch for unrecoverable input.
func GeneratedMixinName(mixinID string) string {
	sanitized := namePattern.ReplaceAllString(mixinID, "_")
	if len(sanitized) > 20 {
		sanitized = sanitized[:20]
	}
	return "mixin_" + sanitized
}
