package kasplex

import (
	"errors"
	"fmt"
)

// ErrNotFound means the API does not know the requested ticker or address.
var ErrNotFound = errors.New("not found")

// FetchError reports a failed call to the Kasplex API. StatusCode is zero
// when no HTTP response was received.
type FetchError struct {
	Op         string
	Key        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("kasplex %s for '%s': status %d: %v", e.Op, e.Key, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("kasplex %s for '%s': %v", e.Op, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the key is unknown to the API, as
// opposed to a transient failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
