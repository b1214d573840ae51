package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.7, cfg.Trading.ConfidenceFloor)
	assert.Equal(t, 0.15, cfg.Risk.MaxDrawdown)
	assert.Equal(t, 24*time.Hour, cfg.Trading.MaxHolding.Duration)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Trading.Symbols = nil
	cfg.Risk.MaxDrawdown = 0
	cfg.Engine.RiskInterval = duration{}
	cfg.Signals.Fallback = "redis"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"unknown mode", "symbols must not be empty", "max_drawdown", "risk_interval", "unknown fallback"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hedgebot.toml")
	body := `
mode = "trade"

[trading]
symbols = ["BTCUSDT"]
stop_loss_pct = 0.03

[engine]
decision_interval = "2m"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("HEDGEBOT_RISK_MAX_DRAWDOWN", "0.2")
	t.Setenv("HEDGEBOT_TRADING_SYMBOLS", "ETHUSDT, SOLUSDT")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, 0.03, cfg.Trading.StopLossPct)
	assert.Equal(t, 2*time.Minute, cfg.Engine.DecisionInterval.Duration)
	assert.Equal(t, 0.2, cfg.Risk.MaxDrawdown)
	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, cfg.Trading.Symbols)
	// untouched values keep their defaults
	assert.Equal(t, 0.04, cfg.Trading.TakeProfitPct)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.SecretKey = "secret"
	cfg.Postgres.DSN = "postgres://u:p@h/db"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Exchange.APIKey)
	assert.Equal(t, "***", out.Exchange.SecretKey)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "", out.Redis.Password)
	assert.Equal(t, "key", cfg.Exchange.APIKey)

	out.Trading.Symbols[0] = "XXX"
	assert.Equal(t, "BTCUSDT", cfg.Trading.Symbols[0])
}
