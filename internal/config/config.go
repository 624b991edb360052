/**
 * @description
 * This file handles the configuration management for the access service. It
 * uses the 'viper' library to load configuration from environment variables,
 * providing a centralized and consistent way to manage application settings.
 */
package config

import (
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort          string `mapstructure:"SERVER_PORT"`
	DatabaseURL         string `mapstructure:"DATABASE_URL"`
	RedisURL            string `mapstructure:"REDIS_URL"`
	RabbitMQURL         string `mapstructure:"RABBITMQ_URL"`
	StripeAPIBaseURL    string `mapstructure:"STRIPE_API_BASE_URL"`
	StripeAPIKey        string `mapstructure:"STRIPE_API_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	UserServiceURL      string `mapstructure:"USER_SERVICE_URL"`
	InternalAPIKey      string `mapstructure:"INTERNAL_API_KEY"`
	JWKSURL             string `mapstructure:"JWKS_URL"`
	AccessLinkBaseURL   string `mapstructure:"ACCESS_LINK_BASE_URL"`
	AllowedOrigins      string `mapstructure:"ALLOWED_ORIGINS"`
	SyncSchedule        string `mapstructure:"SYNC_SCHEDULE"`
	SyncWindowDays      int    `mapstructure:"SYNC_WINDOW_DAYS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8090")
	viper.SetDefault("STRIPE_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("ALLOWED_ORIGINS", "*")
	viper.SetDefault("SYNC_SCHEDULE", "")
	viper.SetDefault("SYNC_WINDOW_DAYS", 30)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("STRIPE_API_BASE_URL")
	_ = viper.BindEnv("STRIPE_API_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("USER_SERVICE_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("ACCESS_LINK_BASE_URL")
	_ = viper.BindEnv("ALLOWED_ORIGINS")
	_ = viper.BindEnv("SYNC_SCHEDULE")
	_ = viper.BindEnv("SYNC_WINDOW_DAYS")

	err = viper.Unmarshal(&config)
	return
}
