package order

import "errors"

var (
	ErrInvalidSize     = errors.New("invalid size")
	ErrMissingID       = errors.New("order id not initialized")
	ErrPoolExhausted   = errors.New("order pool exhausted")
	ErrQueueFull       = errors.New("order queue full")
	ErrNothingToClose  = errors.New("no position to close")
	ErrMissingSignalID = errors.New("deferred stop needs a signal id")
	ErrUnknownOrder    = errors.New("unknown order")
	ErrNotRunning      = errors.New("order manager not running")
)
