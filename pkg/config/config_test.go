package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitpay/keeper/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := config.Load()
	assert.Equal(t, "http://localhost:8545", cfg.GatewayURL)
	assert.Equal(t, 15*time.Second, cfg.Cadence)
	assert.Equal(t, time.Second, cfg.ExecPause)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, uint64(500_000), cfg.GasCeiling)
	assert.Equal(t, "8080", cfg.Port)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("KEEPER_CADENCE", "5s")
	t.Setenv("KEEPER_MAX_RETRIES", "7")
	t.Setenv("KEEPER_WATCH_ACCOUNTS", "0xabc, 0xdef")

	cfg := config.Load()
	assert.Equal(t, 5*time.Second, cfg.Cadence)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, []string{"0xabc", "0xdef"}, cfg.WatchAccounts)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("KEEPER_CADENCE", "soon")
	t.Setenv("KEEPER_MAX_RETRIES", "many")

	cfg := config.Load()
	assert.Equal(t, 15*time.Second, cfg.Cadence)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	profile := `
name: testnet
chain_id: 31337
cadence: 5s
exec_pause: 250ms
max_retries: 5
gas_ceiling: 800000
confirmation_depth: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_testnet.yaml"), []byte(profile), 0o600))

	p, err := config.LoadProfile(dir, "TESTNET")
	require.NoError(t, err)
	assert.Equal(t, "testnet", p.Name)
	assert.Equal(t, 5*time.Second, p.Cadence.Std())
	assert.Equal(t, uint64(800_000), p.GasCeiling)

	cfg := config.Load()
	p.Apply(cfg)
	assert.Equal(t, 5*time.Second, cfg.Cadence)
	assert.Equal(t, 250*time.Millisecond, cfg.ExecPause)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestLoadProfile_Invalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_bad.yaml"),
		[]byte("name: bad\ncadence: 5s\n"), 0o600))

	_, err := config.LoadProfile(dir, "bad")
	assert.Error(t, err, "missing gas ceiling must be rejected")
}

func TestLoadProfile_Missing(t *testing.T) {
	_, err := config.LoadProfile(t.TempDir(), "nope")
	assert.Error(t, err)
}
