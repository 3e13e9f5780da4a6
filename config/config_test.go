package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// unsetEnv clears keys for the test and restores them afterwards, including
// values an env file loaded.
func unsetEnv(t *testing.T, keys ...string) {
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load("testdata/config.yaml")
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, PlatformPlay, cfg.Platform)
	require.Equal(t, 16, cfg.EventBufferSize)
	require.Equal(t, 250*time.Millisecond, cfg.EventNotifyTimeout)
	require.Equal(t, 2*time.Hour, cfg.FinishedTTL)
	require.Equal(t, time.Hour, cfg.CountryCodeTTL)
	require.Equal(t, "/tmp/iap-journal.db", cfg.JournalPath)
	require.Equal(t, []string{"coins_100", "coins_1000"}, cfg.ConsumableProducts)

	level, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, zapcore.DebugLevel, level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("IAP_PLATFORM", PlatformStoreKit)
	t.Setenv("IAP_EVENT_BUFFER_SIZE", "8")
	t.Setenv("IAP_FINISHED_TTL", "90s")
	t.Setenv("IAP_CONSUMABLE_PRODUCTS", " gems , ,coins ")

	cfg, err := Load("testdata/config.yaml")
	require.NoError(t, err)
	require.Equal(t, PlatformStoreKit, cfg.Platform)
	require.Equal(t, 8, cfg.EventBufferSize)
	require.Equal(t, 90*time.Second, cfg.FinishedTTL)
	require.Equal(t, []string{"gems", "coins"}, cfg.ConsumableProducts)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_EnvFile(t *testing.T) {
	unsetEnv(t, "IAP_BUNDLE_ID", "IAP_COUNTRY_CODE_TTL")

	cfg, err := Load("", "testdata/test.env")
	require.NoError(t, err)
	require.Equal(t, "com.example.fromenv", cfg.BundleID)
	require.Equal(t, 30*time.Minute, cfg.CountryCodeTTL)
}

func TestLoad_EnvFileDoesNotOverrideEnvironment(t *testing.T) {
	unsetEnv(t, "IAP_COUNTRY_CODE_TTL")
	t.Setenv("IAP_BUNDLE_ID", "com.example.fromprocess")

	cfg, err := Load("", "testdata/test.env")
	require.NoError(t, err)
	require.Equal(t, "com.example.fromprocess", cfg.BundleID)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load("testdata/missing.yaml")
	require.Error(t, err)

	_, err = Load("", "testdata/missing.env")
	require.Error(t, err)

	for key, value := range map[string]string{
		"IAP_PLATFORM":          "windows-phone",
		"IAP_LOG_LEVEL":         "loud",
		"IAP_EVENT_BUFFER_SIZE": "many",
		"IAP_FINISHED_TTL":      "forever",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load("")
			require.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.EventBufferSize = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.BundleID = ""
	require.Error(t, cfg.Validate())

	cfg.Platform = PlatformPlay
	require.NoError(t, cfg.Validate())

	cfg.CountryCodeTTL = 0
	require.Error(t, cfg.Validate())
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"

	log, err := cfg.Logger()
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(zapcore.InfoLevel))
	require.True(t, log.Core().Enabled(zapcore.WarnLevel))
}
