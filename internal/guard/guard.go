// Package guard provides the execution lock that blocks reentrant calls into
// a family of state-mutating operations while one of them is in flight.
package guard

import "errors"

// ErrReentrantCall is returned when a guarded entry point is re-entered.
var ErrReentrantCall = errors.New("guard: reentrant call")

// Lock is held for the duration of a guarded call. The zero value is unlocked.
// It is not a mutex: the engine already guarantees a single writer, and the
// lock only detects re-entry from the same logical call stack.
type Lock struct {
	entered bool
}

// Enter acquires the lock and returns the function that releases it. Callers
// defer the release so it runs on every exit path.
func (l *Lock) Enter() (func(), error) {
	if l.entered {
		return nil, ErrReentrantCall
	}
	l.entered = true
	return func() { l.entered = false }, nil
}

// Held reports whether a guarded call is in flight.
func (l *Lock) Held() bool {
	return l.entered
}
