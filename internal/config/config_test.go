package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REBALANCER_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "EUR", cfg.BaseCurrency)
	assert.Equal(t, 20*time.Second, cfg.Exchange.Timeout)
	assert.Equal(t, 3, cfg.Exchange.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Scheduler.TickInterval)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.False(t, cfg.Backup.Enabled)
	assert.InDelta(t, 0.0026, cfg.EstimatedFeeRate, 1e-12)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REBALANCER_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("BASE_CURRENCY", "usd")
	t.Setenv("GATEWAY_TIMEOUT", "15")
	t.Setenv("SCHEDULER_TICK_INTERVAL", "30s")
	t.Setenv("KRAKEN_API_KEY", "key")
	t.Setenv("KRAKEN_API_SECRET", "c2VjcmV0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "USD", cfg.BaseCurrency)
	assert.Equal(t, 15*time.Second, cfg.Exchange.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
	assert.True(t, cfg.HasExchangeCredentials())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:             8080,
			BaseCurrency:     "EUR",
			EstimatedFeeRate: 0.0026,
			Exchange:         ExchangeConfig{Timeout: time.Second, MaxAttempts: 3},
			Scheduler:        SchedulerConfig{TickInterval: time.Minute},
			Backup:           &BackupConfig{},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Port = 0 }, true},
		{"fee rate too high", func(c *Config) { c.EstimatedFeeRate = 1 }, true},
		{"zero attempts", func(c *Config) { c.Exchange.MaxAttempts = 0 }, true},
		{"negative retention", func(c *Config) { c.History.RetentionDays = -1 }, true},
		{"backup without bucket", func(c *Config) { c.Backup.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
