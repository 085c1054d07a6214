package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv reads environment variables that have no dedicated CLI flag in the serve
// command, plus the conventional names used by the identity and media providers.
func (c *Config) ApplyEnv() error {
	if c == nil {
		return nil
	}

	var err error
	if err = applyDurationEnv("CHAT_SERVICE_STORE_TIMEOUT", &c.StoreTimeout); err != nil {
		return err
	}
	if err = applyDurationEnv("CHAT_SERVICE_CACHE_USER_TTL", &c.CacheUserTTL); err != nil {
		return err
	}
	if err = applyInt64Env("CHAT_SERVICE_CACHE_LOCAL_MAX_COST", &c.LocalCacheMaxCost); err != nil {
		return err
	}
	if err = applyIntEnv("CHAT_SERVICE_FANOUT_MAX_ATTEMPTS", &c.FanoutMaxAttempts); err != nil {
		return err
	}
	if err = applyDurationEnv("CHAT_SERVICE_FANOUT_RETRY_BACKOFF", &c.FanoutRetryBackoff); err != nil {
		return err
	}
	if err = applyDurationEnv("CHAT_SERVICE_FANOUT_PUBLISH_TIMEOUT", &c.FanoutPublishTimeout); err != nil {
		return err
	}
	if err = applyIntEnv("CHAT_SERVICE_USER_SEARCH_LIMIT", &c.UserSearchLimit); err != nil {
		return err
	}
	if err = applyBoolEnv("CHAT_SERVICE_CORS_ENABLED", &c.CORSEnabled); err != nil {
		return err
	}
	applyStringEnv("CHAT_SERVICE_CORS_ORIGINS", &c.CORSOrigins)

	// Provider-conventional fallbacks, only when not already configured.
	if c.WebhookSecret == "" {
		applyStringEnv("CLERK_WEBHOOK_SECRET", &c.WebhookSecret)
	}
	if c.CloudinaryURL == "" {
		applyStringEnv("CLOUDINARY_URL", &c.CloudinaryURL)
	}
	return nil
}

func applyStringEnv(key string, dest *string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	*dest = raw
}

func applyIntEnv(key string, dest *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyInt64Env(key string, dest *int64) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyBoolEnv(key string, dest *bool) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyDurationEnv(key string, dest *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := parseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

// parseDuration accepts Go durations (30s, 5m) and ISO-8601 PT#H#M#S.
func parseDuration(raw string) (time.Duration, error) {
	v := strings.TrimSpace(strings.ToUpper(raw))
	if v == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(strings.ToLower(v)); err == nil {
		return d, nil
	}
	if !strings.HasPrefix(v, "PT") {
		return 0, fmt.Errorf("unsupported format %q", raw)
	}
	rest := strings.TrimPrefix(v, "PT")
	if rest == "" {
		return 0, fmt.Errorf("invalid format %q", raw)
	}
	total := time.Duration(0)
	for len(rest) > 0 {
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 || i >= len(rest) {
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		switch rest[i] {
		case 'H':
			total += time.Duration(n) * time.Hour
		case 'M':
			total += time.Duration(n) * time.Minute
		case 'S':
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		rest = rest[i+1:]
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return total, nil
}
