package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type DiscordConfig struct {
	BotToken string
	// APIURL is the REST base URL, overridable for tests and proxies
	APIURL string
}

type AlertConfig struct {
	WebhookURL string
}

// IsConfigured returns true if alerts should be delivered to a webhook
func (c AlertConfig) IsConfigured() bool {
	return c.WebhookURL != ""
}

type AppConfig struct {
	// Core configuration (always required)
	DatabaseURL    string
	DatabaseSchema string
	Environment    string
	LogLevel       zerolog.Level

	// Dispatch tuning
	HandlerTimeout  time.Duration
	ReminderWorkers int

	// InstanceLockDir holds the lock file that keeps a second process from starting
	InstanceLockDir string

	DiscordConfig DiscordConfig
	AlertConfig   AlertConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DATABASE_SCHEMA", "public")
	v.SetDefault("ENVIRONMENT", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HANDLER_TIMEOUT", "10s")
	v.SetDefault("REMINDER_WORKERS", 4)
	v.SetDefault("DISCORD_API_URL", strings.TrimSuffix(discordgo.EndpointAPI, "/"))
	v.SetDefault("INSTANCE_LOCK_DIR", "")
}

func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("⚠️ Could not load .env file, continuing with system env vars")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return loadFrom(v)
}

func loadFrom(v *viper.Viper) (*AppConfig, error) {
	botToken, err := getRequired(v, "DISCORD_TOKEN")
	if err != nil {
		return nil, err
	}

	databaseURL, err := getRequired(v, "DATABASE_URL")
	if err != nil {
		return nil, err
	}

	logLevel, err := zerolog.ParseLevel(strings.ToLower(v.GetString("LOG_LEVEL")))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	handlerTimeout, err := time.ParseDuration(v.GetString("HANDLER_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid HANDLER_TIMEOUT: %w", err)
	}
	if handlerTimeout <= 0 {
		return nil, fmt.Errorf("HANDLER_TIMEOUT must be positive, got %s", handlerTimeout)
	}

	reminderWorkers := v.GetInt("REMINDER_WORKERS")
	if reminderWorkers < 1 {
		return nil, fmt.Errorf("REMINDER_WORKERS must be at least 1, got %d", reminderWorkers)
	}

	config := &AppConfig{
		DatabaseURL:     databaseURL,
		DatabaseSchema:  v.GetString("DATABASE_SCHEMA"),
		Environment:     v.GetString("ENVIRONMENT"),
		LogLevel:        logLevel,
		HandlerTimeout:  handlerTimeout,
		ReminderWorkers: reminderWorkers,
		InstanceLockDir: v.GetString("INSTANCE_LOCK_DIR"),

		DiscordConfig: DiscordConfig{
			BotToken: botToken,
			APIURL:   strings.TrimSuffix(v.GetString("DISCORD_API_URL"), "/"),
		},

		AlertConfig: AlertConfig{
			WebhookURL: v.GetString("ALERT_WEBHOOK_URL"),
		},
	}

	if config.AlertConfig.IsConfigured() {
		log.Info().Msg("✅ Error alert webhook configured")
	} else {
		log.Info().Msg("⚠️ Error alert webhook not configured - alerts will only be logged")
	}

	return config, nil
}

func getRequired(v *viper.Viper, key string) (string, error) {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return "", fmt.Errorf("%s is not set", key)
	}
	return value, nil
}
