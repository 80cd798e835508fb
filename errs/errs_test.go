package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRemote(t *testing.T) {
	for _, s := range all {
		wrapped := fmt.Errorf("%w: asset %q", s, "/index.html")
		remote := FromRemote(errors.New(wrapped.Error()))
		assert.ErrorIs(t, remote, s)
		assert.Equal(t, wrapped.Error(), remote.Error())
	}

	bare := FromRemote(errors.New("unknown batch"))
	assert.ErrorIs(t, bare, ErrUnknownBatch)

	other := errors.New("connection is shut down")
	assert.Same(t, other, FromRemote(other))
	assert.NoError(t, FromRemote(nil))

	// A sentinel name that is only a prefix of a longer word must not match.
	assert.NotErrorIs(t, FromRemote(errors.New("not foundation")), ErrNotFound)

	assert.NotErrorIs(t, FromRemote(errors.New("lookup: not foundation")), ErrNotFound)
}

func TestFromRemoteAfterContext(t *testing.T) {
	for _, s := range all {
		wrapped := fmt.Errorf("operation %d: %w", 1, fmt.Errorf("%w: chunk 12345", s))
		remote := FromRemote(errors.New(wrapped.Error()))
		assert.ErrorIs(t, remote, s, wrapped.Error())
		assert.Equal(t, wrapped.Error(), remote.Error())
	}

	// The outermost sentinel names the kind; later text is detail.
	remote := FromRemote(errors.New("operation 0: not found: asset \"/a\": already exists"))
	assert.ErrorIs(t, remote, ErrNotFound)
	assert.NotErrorIs(t, remote, ErrAlreadyExists)

	// Sentinel words inside free text are not kinds.
	assert.NotErrorIs(t, FromRemote(errors.New("rpc: method not found")), ErrNotFound)
}
