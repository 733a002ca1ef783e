// Package panics wraps the goroutines spawned by the data plane so that
// a panic in one of them is reported with the stack trace of both the
// panicking goroutine and its spawner before it propagates. The package
// never terminates the process itself: the data plane is a library, and
// whether a panic is fatal belongs to the embedding application.
package panics

import (
	"runtime/debug"
	"time"

	"github.com/btcsuite/btclog"
)

// HandlePanic logs a recovered panic together with the stack trace
// captured at spawn time, then re-raises it so the failure propagates to
// the embedding application's own handler.
func HandlePanic(log btclog.Logger, goroutineStackTrace []byte) {
	err := recover()
	if err == nil {
		return
	}

	log.Criticalf("Fatal error: %+v", err)
	if goroutineStackTrace != nil {
		log.Criticalf("Goroutine stack trace: %s", goroutineStackTrace)
	}
	log.Criticalf("Stack trace: %s", debug.Stack())

	panic(err)
}

// GoroutineWrapperFunc returns a goroutine spawner that captures the
// caller's stack at spawn time and reports panics through HandlePanic.
func GoroutineWrapperFunc(log btclog.Logger) func(func()) {
	return func(f func()) {
		stackTrace := debug.Stack()
		go func() {
			defer HandlePanic(log, stackTrace)
			f()
		}()
	}
}

// AfterFuncWrapperFunc returns a time.AfterFunc variant whose callback
// reports panics through HandlePanic.
func AfterFuncWrapperFunc(log btclog.Logger) func(d time.Duration, f func()) *time.Timer {
	return func(d time.Duration, f func()) *time.Timer {
		stackTrace := debug.Stack()
		return time.AfterFunc(d, func() {
			defer HandlePanic(log, stackTrace)
			f()
		})
	}
}
