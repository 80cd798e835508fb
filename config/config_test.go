package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notary/oid"
)

func TestSaveAndLoad(t *testing.T) {
	for _, name := range []string{"notary.json", "notary.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			id, err := oid.Random(oid.OidTypeNode)
			require.NoError(t, err)

			cfg := NewEmptyConfig(path)
			cfg.Node.NodeID = id
			cfg.Node.Admins = append(cfg.Node.Admins, "operator")
			cfg.Mirror.PollInterval = Duration(45 * time.Second)
			require.NoError(t, cfg.Save())

			loaded, err := NewConfigFromFile(path)
			require.NoError(t, err)
			require.NotNil(t, loaded.Node.NodeID)
			assert.True(t, loaded.Node.NodeID.Equal(id))
			assert.Equal(t, 45*time.Second, loaded.Mirror.PollInterval.D())
			assert.Equal(t, cfg.Network, loaded.Network)
			assert.Equal(t, cfg.Upload, loaded.Upload)
			assert.Len(t, loaded.Node.Admins, 1)
		})
	}
}

func TestMissingSettingsKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yml")
	require.NoError(t, os.WriteFile(path, []byte("mirror:\n  clock_skew: 3s\n"), 0644))

	cfg, err := NewConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Mirror.ClockSkew.D())
	assert.Equal(t, 30*time.Second, cfg.Mirror.PollInterval.D())
	assert.Equal(t, "0.0.0.0:5001", cfg.Network.RPCListenAddress)
}

func TestRejectsBadValues(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"timers": {"reap": "soon"}}`), 0644))
	_, err := NewConfigFromFile(bad)
	assert.Error(t, err)

	admin := filepath.Join(dir, "admin.json")
	require.NoError(t, os.WriteFile(admin, []byte(`{"node": {"admins": ["has space"]}}`), 0644))
	_, err = NewConfigFromFile(admin)
	assert.Error(t, err)
}
