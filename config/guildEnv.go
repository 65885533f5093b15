package config

import (
	"os"
	"strings"
	"time"
)

// Guild sync settings, all env-driven. Defaults match what the worker needs
// to run against a single guild.

func GetGuildId() string {
	return strings.TrimSpace(os.Getenv("GUILD_ID"))
}

func GetGuildBotToken() string {
	return strings.TrimSpace(os.Getenv("GUILD_BOT_TOKEN"))
}

// GetFallbackParentId is the category resource used as parent when a zone's
// own category has no resolvable remote id.
func GetFallbackParentId() string {
	return strings.TrimSpace(os.Getenv("GUILD_FALLBACK_PARENT_ID"))
}

func GetGuildAPIBaseURL() string {
	v := strings.TrimSpace(os.Getenv("GUILD_API_BASE_URL"))
	if v == "" {
		v = "https://discord.com/api/v10"
	}
	return strings.TrimRight(v, "/")
}

func GetSyncRetryMaxAttempts() int {
	return intFromEnv("SYNC_RETRY_MAX_ATTEMPTS", 3)
}

func GetSyncRetryBaseDelay() time.Duration {
	return time.Duration(intFromEnv("SYNC_RETRY_BASE_DELAY_MS", 500)) * time.Millisecond
}

func GetSyncMaxOutstanding() int {
	return intFromEnv("SYNC_MAX_OUTSTANDING_MESSAGES", 10)
}

func GetSyncTopic() string {
	v := strings.TrimSpace(os.Getenv("GUILD_SYNC_TOPIC"))
	if v == "" {
		v = "guild-sync"
	}
	return v
}

func GetSyncSubscription() string {
	v := strings.TrimSpace(os.Getenv("GUILD_SYNC_SUBSCRIPTION"))
	if v == "" {
		v = "guild-sync-worker"
	}
	return v
}

func GetSyncScheduleInterval() time.Duration {
	return time.Duration(intFromEnv("SYNC_SCHEDULE_INTERVAL_SECONDS", 15)) * time.Second
}

func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
