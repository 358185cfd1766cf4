package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the engagement core.
type Config struct {
	Signaling  SignalingConfig
	Engagement EngagementConfig
	UI         UIConfig
	Log        LogConfig
}

type SignalingConfig struct {
	APIBaseURL  string
	SiteID      string
	APIKey      string
	Environment string
}

type EngagementConfig struct {
	QueueIDs          []string
	OfferTimeout      time.Duration
	ConnectingTimeout time.Duration
	StrictTransitions bool
	SiteCacheSize     int
}

type UIConfig struct {
	NoticeDuration time.Duration
	BubbleX        int
	BubbleY        int
}

type LogConfig struct {
	Level  string
	Format string
}

// Load resolves configuration from a .env file, environment variables and
// sensible defaults. Variables already set in the environment win over .env.
func Load() (Config, error) {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := Config{
		Signaling: SignalingConfig{
			APIBaseURL:  envOrDefault("ENGAGE_API_BASE", "https://api.engagekit.io/v1"),
			SiteID:      strings.TrimSpace(os.Getenv("ENGAGE_SITE_ID")),
			APIKey:      strings.TrimSpace(os.Getenv("ENGAGE_API_KEY")),
			Environment: envOrDefault("ENGAGE_ENVIRONMENT", "production"),
		},
		Engagement: EngagementConfig{
			QueueIDs:          envList("ENGAGE_QUEUE_IDS"),
			OfferTimeout:      time.Duration(envOrDefaultInt("ENGAGE_OFFER_TIMEOUT_MS", 20000)) * time.Millisecond,
			ConnectingTimeout: time.Duration(envOrDefaultInt("ENGAGE_CONNECTING_TIMEOUT_MS", 30000)) * time.Millisecond,
			StrictTransitions: envOrDefaultBool("ENGAGE_STRICT_TRANSITIONS", false),
			SiteCacheSize:     envOrDefaultInt("ENGAGE_SITE_CACHE_SIZE", 32),
		},
		UI: UIConfig{
			NoticeDuration: time.Duration(envOrDefaultInt("ENGAGE_NOTICE_DURATION_MS", 4000)) * time.Millisecond,
			BubbleX:        envOrDefaultInt("ENGAGE_BUBBLE_X", 16),
			BubbleY:        envOrDefaultInt("ENGAGE_BUBBLE_Y", 16),
		},
		Log: LogConfig{
			Level:  envOrDefault("ENGAGE_LOG_LEVEL", "info"),
			Format: envOrDefault("ENGAGE_LOG_FORMAT", "json"),
		},
	}

	if cfg.Engagement.OfferTimeout <= 0 {
		cfg.Engagement.OfferTimeout = 20 * time.Second
	}
	if cfg.Engagement.ConnectingTimeout <= 0 {
		cfg.Engagement.ConnectingTimeout = 30 * time.Second
	}
	if cfg.Engagement.SiteCacheSize <= 0 {
		cfg.Engagement.SiteCacheSize = 32
	}
	if cfg.UI.NoticeDuration <= 0 {
		cfg.UI.NoticeDuration = 4 * time.Second
	}
	if cfg.UI.BubbleX < 0 {
		cfg.UI.BubbleX = 0
	}
	if cfg.UI.BubbleY < 0 {
		cfg.UI.BubbleY = 0
	}

	return cfg, nil
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
