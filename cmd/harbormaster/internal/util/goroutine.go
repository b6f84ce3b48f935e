// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"context"
	"runtime/debug"
)

// =============================================================================
// Goroutine Safety
// =============================================================================

// PanicReport captures a panic recovered in a background goroutine.
//
// # Description
//
// Contains the panic value and the full stack trace at panic time.
// Monitors, the dispatcher, and the status server hand these to a
// logging callback instead of letting a panic end the daemon.
//
// # Thread Safety
//
// PanicReport is immutable after creation and safe for concurrent reads.
type PanicReport struct {
	// PanicValue is the value passed to panic().
	PanicValue interface{}

	// Stack is the full stack trace formatted by runtime/debug.Stack().
	Stack string
}

// SafeGo runs fn in a goroutine with panic recovery.
//
// # Description
//
// A panic inside fn is caught and passed to onPanic rather than
// crashing the process. A monitoring daemon must outlive any single
// misbehaving check; every long-lived goroutine in the daemon starts
// through this function.
//
// # Inputs
//
//   - fn: The function to execute in the goroutine
//   - onPanic: Callback invoked if fn panics (may be nil to silently recover)
//
// # Limitations
//
//   - onPanic is called synchronously in the recovered goroutine
//   - If onPanic itself panics, the application will crash
func SafeGo(fn func(), onPanic func(PanicReport)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				report := PanicReport{
					PanicValue: r,
					Stack:      string(debug.Stack()),
				}
				if onPanic != nil {
					onPanic(report)
				}
			}
		}()
		fn()
	}()
}

// SafeGoWithContext is like SafeGo but skips fn entirely when ctx is
// already cancelled. Long-running fns must still watch ctx.Done()
// themselves.
func SafeGoWithContext(ctx context.Context, fn func(), onPanic func(PanicReport)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				report := PanicReport{
					PanicValue: r,
					Stack:      string(debug.Stack()),
				}
				if onPanic != nil {
					onPanic(report)
				}
			}
		}()

		select {
		case <-ctx.Done():
			return
		default:
			fn()
		}
	}()
}

// RecoverPanic returns a deferred function that recovers panics in the
// calling goroutine.
//
// # Example
//
//	func handleEvent(ev Event) {
//	    defer RecoverPanic(logPanic)()
//	    // ... handler body
//	}
//
// # Limitations
//
//   - Must be called with () after defer
func RecoverPanic(onPanic func(PanicReport)) func() {
	return func() {
		if r := recover(); r != nil {
			report := PanicReport{
				PanicValue: r,
				Stack:      string(debug.Stack()),
			}
			if onPanic != nil {
				onPanic(report)
			}
		}
	}
}
