package hitstore

import (
	"errors"
	"fmt"
)

// ErrCannotOpenStore is matched by errors returned from New when the backing
// database cannot be created or opened.
var ErrCannotOpenStore = errors.New("hitstore: cannot open store")

// ErrStoreClosed is returned by operations on a store that has been shut down.
var ErrStoreClosed = errors.New("hitstore: store is shut down")

// OpenError describes a failure to open the store's location. It matches
// [ErrCannotOpenStore] as well as the underlying cause.
type OpenError struct {
	Location string
	Err      error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("hitstore: cannot open store at %q: %v", e.Location, e.Err)
}

func (e *OpenError) Unwrap() []error {
	return []error{ErrCannotOpenStore, e.Err}
}
