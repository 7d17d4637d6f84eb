package notify

import "errors"

var (
	ErrChannelNotImplemented = errors.New("notification channel not implemented")
	ErrNoAddress             = errors.New("recipient has no address for channel")
	ErrQueueFull             = errors.New("notification queue is full")
	ErrQueueClosed           = errors.New("notification queue is closed")
)
