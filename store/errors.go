package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("tig not found")
	ErrReadOnly         = errors.New("store is open read-only")
	ErrCapacityExceeded = errors.New("store capacity exceeded")
	ErrNoStore          = errors.New("no tig store found")
	ErrStoreExists      = errors.New("a tig store already exists")
	ErrNoVersion        = errors.New("version doesn't exist")
	ErrLocked           = errors.New("store is locked by another writer")
	ErrVersionInUse     = errors.New("version is still referenced")
	ErrCorrupt          = errors.New("corrupt store file")
	ErrWrongVersion     = errors.New("wrong manifest version")
)

// An IOError records a failed read or write of a tig payload, along with
// where in the store it happened.
type IOError struct {
	Op      string
	TigID   uint32
	Version uint32
	Offset  uint64
	Err     error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s tig %d (version %d, offset %d): %s", e.Op, e.TigID, e.Version, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
