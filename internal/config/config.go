package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the messaging API.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	JWTSecret              string
	EncryptionKey          string
	ChannelBase            string
	PushSubject            string
	ModerationWordlist     []string
	OpenAIAPIKey           string
	ModerationTimeout      time.Duration
	DeliveryInterval       time.Duration
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	MaxAttachmentMB        int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("FITVERSAL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "FitVersal Messaging API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("channel.base", "fitversal:messaging")
	v.SetDefault("push.subject", "fitversal.push.jobs")
	v.SetDefault("moderation.timeout", "3s")
	v.SetDefault("delivery.interval", "30s")
	v.SetDefault("cloudinary.folder", "fitversal/attachments")
	v.SetDefault("max_attachment_mb", 10)

	moderationTimeout, err := time.ParseDuration(v.GetString("moderation.timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid moderation timeout: %w", err)
	}

	deliveryInterval, err := time.ParseDuration(v.GetString("delivery.interval"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid delivery interval: %w", err)
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		JWTSecret:              v.GetString("jwt.secret"),
		EncryptionKey:          v.GetString("encryption.key"),
		ChannelBase:            v.GetString("channel.base"),
		PushSubject:            v.GetString("push.subject"),
		ModerationWordlist:     splitWordlist(v.GetString("moderation.wordlist")),
		OpenAIAPIKey:           v.GetString("openai_api_key"),
		ModerationTimeout:      moderationTimeout,
		DeliveryInterval:       deliveryInterval,
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		MaxAttachmentMB:        v.GetInt("max_attachment_mb"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.EncryptionKey == "" {
		return Config{}, fmt.Errorf("encryption key must be provided")
	}

	if cfg.MaxAttachmentMB <= 0 {
		cfg.MaxAttachmentMB = 10
	}

	return cfg, nil
}

func splitWordlist(raw string) []string {
	parts := strings.Split(raw, ",")
	words := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed != "" {
			words = append(words, trimmed)
		}
	}
	return words
}
