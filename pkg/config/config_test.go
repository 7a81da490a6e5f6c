package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	require.NotNil(t, cfg)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, time.Minute, cfg.Sessions.MinDuration)
	assert.Equal(t, 120*time.Minute, cfg.Sessions.MaxDuration)
	assert.Equal(t, 15*time.Minute, cfg.Sessions.DefaultDuration)
	assert.Equal(t, 121*time.Minute, cfg.QR.MaxAge)
	assert.Empty(t, cfg.QR.SigningSecret)
	assert.Empty(t, cfg.Ledger.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Ledger.ResponseWait)
	assert.Equal(t, 4, cfg.Ledger.Workers)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("SESSION_MAX_DURATION", "30s")
	v.Set("LEDGER_BASE_URL", "http://ledger.local/")
	v.Set("LEDGER_TIMEOUT", "not-a-duration")
	v.Set("ALLOWED_ORIGINS", " http://a.test , ,http://b.test")

	cfg := fromViper(v)
	assert.Equal(t, time.Minute, cfg.Sessions.MaxDuration, "max is clamped up to min")
	assert.Equal(t, "http://ledger.local", cfg.Ledger.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
}
