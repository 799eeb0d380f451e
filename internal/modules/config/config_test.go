package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
okx:
  simulated: true
  primary:
    api_key: k
    api_secret: s
    passphrase: p
ladder:
  weights: [0.7, 0.1, 0.1, 0.1]
telegram:
  chats:
    primary: 100
    mirror: 200
scheduler:
  max_sleep: 10s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.True(t, cfg.OKX.Simulated)
	assert.Equal(t, "k", cfg.OKX.Primary.APIKey)
	assert.Equal(t, []float64{0.7, 0.1, 0.1, 0.1}, cfg.Ladder.Weights)
	assert.Equal(t, int64(200), cfg.Telegram.Chats["mirror"])
	assert.Equal(t, 10*time.Second, cfg.Scheduler.MaxSleep)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.MinSleep)
	assert.Equal(t, BackendFile, cfg.Persistence.Backend)
	assert.Equal(t, "https://www.okx.com", cfg.OKX.BaseURL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LADDER_OKX_MIRROR_API_KEY", "mk")
	t.Setenv("LADDER_OKX_MIRROR_API_SECRET", "ms")
	t.Setenv("LADDER_OKX_MIRROR_PASSPHRASE", "mp")
	t.Setenv("LADDER_MIRROR_ENABLED", "true")
	t.Setenv("LADDER_RECOVERY_INTERVAL", "90s")
	t.Setenv("TELEGRAM_TOKEN", "tg")
	t.Setenv("DATABASE_DSN", "postgres://x")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.True(t, cfg.Mirror.Enabled)
	assert.Equal(t, "mk", cfg.OKX.Mirror.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Recovery.Interval)
	assert.Equal(t, "tg", cfg.Telegram.Token)
	assert.Equal(t, "postgres://x", cfg.DB)
}

func TestLoad_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("LADDER_OKX_PRIMARY_API_KEY", "k")
	t.Setenv("LADDER_OKX_PRIMARY_API_SECRET", "s")
	t.Setenv("LADDER_OKX_PRIMARY_PASSPHRASE", "p")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.OKX.Primary.APIKey)
}

func TestValidate(t *testing.T) {
	_, err := Load(writeConfig(t, "ladder:\n  weights: [1]\n"))
	assert.ErrorContains(t, err, "okx.primary")

	for name, extra := range map[string]string{
		"mirror creds":     "mirror:\n  enabled: true\n",
		"bad weight":       "ladder:\n  weights: [1, 0]\n",
		"bad stop type":    "ladder:\n  stop_type: bid\n",
		"bad backend":      "persistence:\n  backend: s3\n",
		"redis addr":       "persistence:\n  backend: redis\n",
		"postgres dsn":     "persistence:\n  backend: postgres\n",
		"ratio mode":       "mirror:\n  ratio_mode: auto\n",
		"inverted sleeps":  "scheduler:\n  min_sleep: 1m\n  max_sleep: 1s\n",
		"negative min qty": "ladder:\n  tolerance_min_qty: -1\n",
	} {
		body := "okx:\n  primary: {api_key: k, api_secret: s, passphrase: p}\n" + extra
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}
}

func TestLoad_LadderDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, 7.5, cfg.Ladder.DefaultSLPct)
	assert.Equal(t, 1.0, cfg.Ladder.TolerancePct)
	assert.Equal(t, 0.0, cfg.Ladder.ToleranceMinQty)
	assert.Equal(t, "last", cfg.Ladder.StopType)
}
