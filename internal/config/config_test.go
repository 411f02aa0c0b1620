package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/carauction/internal/fraud"
	"github.com/xtrntr/carauction/internal/rules"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsMatchDomainDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	want := rules.DefaultConfig()
	got := cfg.Rules()
	assert.True(t, want.Increment.Percent.Equal(got.Increment.Percent))
	assert.True(t, want.Increment.Absolute.Equal(got.Increment.Absolute))
	assert.True(t, want.BuyerFeePercent.Equal(got.BuyerFeePercent))
	assert.Equal(t, want.AntiSnipingWindowMinutes, got.AntiSnipingWindowMinutes)
	assert.Equal(t, want.MaxExtensions, got.MaxExtensions)
	assert.Equal(t, want.PaymentDueBusinessDays, got.PaymentDueBusinessDays)
	assert.Equal(t, want.DefaultCurrency, got.DefaultCurrency)

	wantF := fraud.DefaultThresholds()
	gotF := cfg.FraudThresholds()
	assert.Equal(t, wantF.VelocityPerHour, gotF.VelocityPerHour)
	assert.Equal(t, wantF.RapidBidInterval, gotF.RapidBidInterval)
	assert.Equal(t, wantF.NewAccountAge, gotF.NewAccountAge)
	assert.Equal(t, wantF.SellerIPLookback, gotF.SellerIPLookback)
	assert.True(t, wantF.HighValueAmount.Equal(gotF.HighValueAmount))
	assert.Equal(t, 30*time.Second, cfg.SweepInterval())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = ":9090"

[log]
level = "debug"
format = "json"

[auction]
min_increment_percent = 2.5
min_increment_absolute = 25
buyer_fee_percent = 4
default_currency = "GBP"

[fraud]
velocity_threshold = 50
`)
	t.Setenv("AUCTION_DATABASE_URL", "postgres://example/db")
	t.Setenv("AUCTION_REQUIRE_DEPOSIT", "true")
	t.Setenv("AUCTION_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "postgres://example/db", cfg.DB.URL)
	assert.True(t, cfg.Auction.RequireDeposit)
	assert.Equal(t, 50, cfg.FraudThresholds().VelocityPerHour)

	r := cfg.Rules()
	assert.True(t, r.Increment.Percent.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, r.Increment.Absolute.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, "GBP", r.DefaultCurrency)
	// untouched keys keep defaults
	assert.Equal(t, 10, r.MaxExtensions)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "bad toml", body: "[server\naddr="},
		{name: "zero window", body: "[auction]\nanti_sniping_window_minutes = 0"},
		{name: "bad log format", body: "[log]\nformat = \"xml\""},
		{name: "bad currency", body: "[auction]\ndefault_currency = \"EURO\""},
		{name: "negative fee", body: "[auction]\nbuyer_fee_percent = -1"},
		{name: "bad deposit flag", env: map[string]string{"AUCTION_REQUIRE_DEPOSIT": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
