package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv("CHAT_SERVICE_STORE_TIMEOUT", "PT15S")
	t.Setenv("CHAT_SERVICE_CACHE_USER_TTL", "2m")
	t.Setenv("CHAT_SERVICE_FANOUT_MAX_ATTEMPTS", "7")
	t.Setenv("CHAT_SERVICE_CORS_ENABLED", "true")
	t.Setenv("CLERK_WEBHOOK_SECRET", "whsec_abc")
	t.Setenv("CLOUDINARY_URL", "cloudinary://k:s@demo")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	require.Equal(t, 15*time.Second, cfg.StoreTimeout)
	require.Equal(t, 2*time.Minute, cfg.CacheUserTTL)
	require.Equal(t, 7, cfg.FanoutMaxAttempts)
	require.True(t, cfg.CORSEnabled)
	require.Equal(t, "whsec_abc", cfg.WebhookSecret)
	require.Equal(t, "cloudinary://k:s@demo", cfg.CloudinaryURL)
}

func TestApplyEnv_ProviderFallbackDoesNotOverride(t *testing.T) {
	t.Setenv("CLERK_WEBHOOK_SECRET", "whsec_env")

	cfg := DefaultConfig()
	cfg.WebhookSecret = "whsec_flag"
	require.NoError(t, cfg.ApplyEnv())
	require.Equal(t, "whsec_flag", cfg.WebhookSecret)
}

func TestApplyEnv_InvalidDuration(t *testing.T) {
	t.Setenv("CHAT_SERVICE_STORE_TIMEOUT", "soon")

	cfg := DefaultConfig()
	err := cfg.ApplyEnv()
	require.Error(t, err)
	require.Contains(t, err.Error(), "CHAT_SERVICE_STORE_TIMEOUT")
}

func TestCursorKey(t *testing.T) {
	var empty Config
	key, err := empty.CursorKey()
	require.NoError(t, err)
	require.Nil(t, key)

	cfg := Config{CursorSecret: strings.Repeat("ab", 16)}
	k1, err := cfg.CursorKey()
	require.NoError(t, err)
	require.Len(t, k1, 32)

	k2, err := cfg.CursorKey()
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	other := Config{CursorSecret: strings.Repeat("cd", 16)}
	k3, err := other.CursorKey()
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}

func TestDecodeSecret_TooShort(t *testing.T) {
	_, err := DecodeSecret("short")
	require.Error(t, err)
}
