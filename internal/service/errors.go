package service

import (
	"github.com/pkg/errors"
)

var (
	ErrNoIdentity     = errors.New("no authenticated identity")
	ErrSessionNotLive = errors.New("session not live")
	ErrIdentityChange = errors.New("identity does not match the initialized one")
)

// FetchError reports a failed full fetch. Prior list state is kept.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return "fetch bookmarks: " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// WriteError reports an insert or delete the store rejected.
type WriteError struct {
	Op  string
	ID  string
	Err error
}

func (e *WriteError) Error() string {
	if e.ID != "" {
		return e.Op + " bookmark " + e.ID + ": " + e.Err.Error()
	}
	return e.Op + " bookmark: " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
