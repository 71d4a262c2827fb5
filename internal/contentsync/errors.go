package contentsync

import (
	"errors"
	"fmt"
)

var (
	ErrWatchTimeout     = errors.New("no qualifying file appeared before the watch timeout")
	ErrRetriesExhausted = errors.New("content sync retries exhausted")
)

// IOError is a filesystem failure inside one lifecycle attempt. It restarts the lifecycle.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// PublishError is a failed metadata write. It restarts the lifecycle.
type PublishError struct {
	ItemID string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.ItemID, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
