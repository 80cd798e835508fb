package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notary/datamodel/grant"
	"notary/datastore/leveldb"
	"notary/errs"
	"notary/principal"
)

func newGate(t *testing.T, admins ...principal.Principal) *Gate {
	t.Helper()

	index, err := leveldb.NewGrantIndex(leveldb.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	g, err := New(index, admins)
	require.NoError(t, err)
	return g
}

func TestRoles(t *testing.T) {
	g := newGate(t, "root")

	require.NoError(t, g.Check("root", grant.RoleAdmin))
	require.NoError(t, g.Check("root", grant.RoleWriter))

	require.ErrorIs(t, g.Check("w", grant.RoleWriter), errs.ErrUnauthorized)
	require.NoError(t, g.Authorize("w", grant.RoleWriter))
	require.NoError(t, g.Check("w", grant.RoleWriter))
	require.ErrorIs(t, g.Check("w", grant.RoleAdmin), errs.ErrUnauthorized)

	assert.True(t, IsAuthorized(g, "w", grant.RoleWriter))
	assert.False(t, IsAuthorized(g, "w", grant.RoleAdmin))
}

func TestAnonymousIsNeverAuthorized(t *testing.T) {
	g := newGate(t, "root")

	require.ErrorIs(t, g.Authorize(principal.Anonymous, grant.RoleWriter), errs.ErrInvalidArgument)
	require.ErrorIs(t, g.Check(principal.Anonymous, grant.RoleWriter), errs.ErrUnauthorized)

	_, err := New(g.index, []principal.Principal{principal.Anonymous})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestLastAdminStays(t *testing.T) {
	g := newGate(t, "root")

	require.ErrorIs(t, g.Deauthorize("root"), errs.ErrInvalidArgument)
	require.ErrorIs(t, g.Authorize("root", grant.RoleWriter), errs.ErrInvalidArgument)

	require.NoError(t, g.Authorize("second", grant.RoleAdmin))
	require.NoError(t, g.Deauthorize("root"))
	require.ErrorIs(t, g.Check("root", grant.RoleWriter), errs.ErrUnauthorized)

	require.ErrorIs(t, g.Deauthorize("root"), errs.ErrNotFound)

	all, err := g.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, principal.Principal("second"), all[0].Principal)
}

func TestInitialAdminsAreIdempotent(t *testing.T) {
	g := newGate(t, "a", "b")
	g2, err := New(g.index, []principal.Principal{"a", "b"})
	require.NoError(t, err)

	all, err := g2.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
