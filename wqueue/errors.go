package wqueue

import "errors"

// ErrClosed is returned by Put/Get once the queue has been closed and (for
// Get) fully drained.
var ErrClosed = errors.New("wqueue: closed")
