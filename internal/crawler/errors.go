package crawler

import "errors"

// Sentinel errors shared across the control plane. Callers branch on them with
// errors.Is; wrapping layers add context with %w.
var (
	ErrBusy                = errors.New("crawler is already running")
	ErrInvalidRequest      = errors.New("invalid crawl request")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrNotRunning          = errors.New("no crawler is running")
	ErrStopTimeout         = errors.New("crawler did not exit within grace period")
	ErrNotFound            = errors.New("not found")
)
