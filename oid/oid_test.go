package oid

import (
	"crypto/sha256"
	"encoding/json"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func TestEncodeParse(t *testing.T) {
	sum := sha256.Sum256([]byte("ABCD"))
	o := Encode(OidTypeDatum, sum)

	parsed, err := FromString(o.String())
	require.NoError(t, err)
	require.True(t, o.Equal(parsed))
	require.Equal(t, OidType(OidTypeDatum), parsed.Type())
	require.Equal(t, sum, parsed.Hash())
	require.True(t, FromData(OidTypeDatum, []byte("ABCD")).Equal(o))
}

func TestTypeChangesAddress(t *testing.T) {
	a := FromData(OidTypeDatum, []byte("x"))
	b := FromData(OidTypeRawBlock, []byte("x"))
	require.False(t, a.Equal(b))
	require.NotEqual(t, a.String(), b.String())
}

func TestFromHash(t *testing.T) {
	_, err := FromHash(OidTypeDatum, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrorHashNot32Bytes)

	sum := sha256.Sum256([]byte("y"))
	o, err := FromHash(OidTypeDatum, sum[:])
	require.NoError(t, err)
	require.Equal(t, sum, o.Hash())
}

func TestInvalidStrings(t *testing.T) {
	_, err := FromString("not base32!")
	require.Error(t, err)

	// Valid base32 but wrong length.
	_, err = FromString("AE======")
	require.Error(t, err)
}

func TestCBORAndJSON(t *testing.T) {
	o, err := Random(OidTypeNode)
	require.NoError(t, err)

	raw, err := cbor.Marshal(o)
	require.NoError(t, err)
	var back Oid
	require.NoError(t, cbor.Unmarshal(raw, &back))
	require.True(t, o.Equal(&back))

	js, err := json.Marshal(o)
	require.NoError(t, err)
	var fromJSON Oid
	require.NoError(t, json.Unmarshal(js, &fromJSON))
	require.Equal(t, o.String(), fromJSON.String())

	var empty Oid
	require.NoError(t, json.Unmarshal([]byte(`""`), &empty))
	require.True(t, empty.IsZero())
}
