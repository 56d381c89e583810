package persist

import "errors"

var (
	// ErrConflict is returned by Backend.SaveIf when the stored version is
	// not the expected one.
	ErrConflict = errors.New("world state changed concurrently")
	// ErrNoState is returned by Backend.Load before the first save.
	ErrNoState = errors.New("no world state stored")
)
