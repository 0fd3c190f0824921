package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policy: RMS\ntickInterval: 2ms\n"), 0o600))

	cfg, err := LoadYAML(path)
	require.NoError(t, err)
	require.Equal(t, "RMS", cfg.Policy)
	require.Equal(t, 2*time.Millisecond, cfg.TickInterval)
	require.Equal(t, DefaultConfig().ShutdownGrace, cfg.ShutdownGrace)
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("policy = \"FIXED\"\nrestart_rate_per_minute = 10\n"), 0o600))

	cfg, err := LoadTOML(path)
	require.NoError(t, err)
	require.Equal(t, "FIXED", cfg.Policy)
	require.Equal(t, 10, cfg.RestartRatePerMinute)
}

func TestConfigPolicyRejectsUnknownValue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = "BOGUS"
	_, err := New(cfg)
	require.ErrorIs(t, err, ErrInvalidPolicy)
}
