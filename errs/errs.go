// Package errs holds the error taxonomy shared by every notary component.
// Components wrap these sentinels with context; callers test with errors.Is.
package errs

import (
	"errors"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrAlreadyClaimed    = errors.New("already claimed")
	ErrIntegrity         = errors.New("integrity error")
	ErrUnknownBatch      = errors.New("unknown batch")
	ErrUnknownChunk      = errors.New("unknown chunk")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrStaleContent      = errors.New("stale content")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrResourceExhausted = errors.New("resource exhausted")
)

var all = []error{
	ErrNotFound,
	ErrAlreadyExists,
	ErrAlreadyClaimed,
	ErrIntegrity,
	ErrUnknownBatch,
	ErrUnknownChunk,
	ErrUnauthorized,
	ErrStaleContent,
	ErrInvalidArgument,
	ErrResourceExhausted,
}

// remoteError is an error received over the wire whose text names a known
// sentinel. It unwraps to that sentinel.
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.sentinel }

// position returns where sentinel text s starts in msg, or -1. The text must
// open msg or follow a ": " context separator, and must end msg or be
// followed by ':'.
func position(msg, s string) int {
	for from := 0; from <= len(msg); {
		i := strings.Index(msg[from:], s)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(s)
		opens := i == 0 || strings.HasSuffix(msg[:i], ": ")
		closes := end == len(msg) || msg[end] == ':'
		if opens && closes {
			return i
		}
		from = i + 1
	}
	return -1
}

// FromRemote maps an error that lost its identity in transit (only the text
// survived) back onto the taxonomy. Context added in front of the sentinel
// with "...: %w" is allowed; the sentinel named first wins. Errors that
// match no sentinel are returned unchanged.
func FromRemote(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var found error
	best := -1
	for _, s := range all {
		if i := position(msg, s.Error()); i >= 0 && (best < 0 || i < best) {
			found, best = s, i
		}
	}
	if found == nil {
		return err
	}
	return &remoteError{msg: msg, sentinel: found}
}
