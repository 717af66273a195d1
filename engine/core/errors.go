package core

import "github.com/pkg/errors"

// ErrExitRequested is returned from a frame or update hook to stop the run loop cleanly.
var ErrExitRequested = errors.New("exit requested")
