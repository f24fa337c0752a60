// SPDX-License-Identifier: MIT

package util

import (
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// SafeGo runs fn in a goroutine with panic recovery, logging any panic
// through logger with its stack trace instead of crashing the process.
func SafeGo(name string, logger zerolog.Logger, fn func(), onPanic func(any, []byte)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.Error().Str("goroutine", name).Interface("panic", r).Bytes("stack", stack).Msg("recovered panic")
				if onPanic != nil {
					onPanic(r, stack)
				}
			}
		}()
		fn()
	}()
}

// SafeGoWithRecover is SafeGo for a goroutine whose outcome is reported
// on errCh, which is always closed exactly once when the goroutine ends
// (whether by panic, error, or success) so callers can range over it.
func SafeGoWithRecover(name string, logger zerolog.Logger, fn func() error, errCh chan<- error, onPanic func(any, []byte)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.Error().Str("goroutine", name).Interface("panic", r).Bytes("stack", stack).Msg("recovered panic")
				if onPanic != nil {
					onPanic(r, stack)
				}
				if errCh != nil {
					errCh <- fmt.Errorf("panic in %s: %v", name, r)
					close(errCh)
				}
			}
		}()

		err := fn()
		if errCh != nil {
			if err != nil {
				errCh <- err
			}
			close(errCh)
		}
	}()
}

// RecoverToError converts a panic raised by fn into a returned error.
func RecoverToError(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
