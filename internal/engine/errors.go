package engine

import "errors"

var (
	// ErrNoStore rejects engine construction without persistence.
	ErrNoStore = errors.New("engine requires a store")

	// ErrAlreadyRunning is returned by Run when the record's status
	// guard shows another execution in flight.
	ErrAlreadyRunning = errors.New("task already running")

	// ErrSealed is returned by Schedule once Ready has latched the
	// startup barrier.
	ErrSealed = errors.New("engine already started; cannot register tasks")

	// ErrStartupFailed wraps every registration failure surfaced by
	// Ready, so callers can tell a dead engine from a missing task.
	ErrStartupFailed = errors.New("startup registration failed")
)
