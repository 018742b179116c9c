package maintenance

import "errors"

var (
	// ErrAlreadyStarted is returned by Start on a running sweeper.
	ErrAlreadyStarted = errors.New("maintenance: sweeper already running")

	// ErrNotStarted is returned by Stop on a sweeper that is not running.
	ErrNotStarted = errors.New("maintenance: sweeper not running")
)
