/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the wallet-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	ExperienceEventQueue    string `mapstructure:"EXPERIENCE_EVENT_QUEUE"`
	JWTSecret               string `mapstructure:"JWT_SECRET"`
	SessionTTLMinutes       int    `mapstructure:"SESSION_TTL_MINUTES"`
	LoginRateLimitPerMinute int    `mapstructure:"LOGIN_RATE_LIMIT_PER_MINUTE"`
	LoanDueJobSchedule      string `mapstructure:"LOAN_DUE_JOB_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "wallet:rate_limit")
	viper.SetDefault("EXPERIENCE_EVENT_QUEUE", "wallet_service.experience_updates")
	viper.SetDefault("SESSION_TTL_MINUTES", 1440)
	viper.SetDefault("LOGIN_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("LOAN_DUE_JOB_SCHEDULE", "0 8 * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "WALLET_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EXPERIENCE_EVENT_QUEUE")
	_ = viper.BindEnv("JWT_SECRET", "JWT_SECRET", "WALLET_SERVICE_JWT_SECRET")
	_ = viper.BindEnv("SESSION_TTL_MINUTES")
	_ = viper.BindEnv("LOGIN_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("LOAN_DUE_JOB_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.JWTSecret) == "" {
		config.JWTSecret = strings.TrimSpace(os.Getenv("WALLET_SERVICE_JWT_SECRET"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "wallet:rate_limit"
	}

	if config.SessionTTLMinutes <= 0 {
		config.SessionTTLMinutes = 1440
	}
	if config.LoginRateLimitPerMinute <= 0 {
		config.LoginRateLimitPerMinute = 10
	}
	if strings.TrimSpace(config.LoanDueJobSchedule) == "" {
		config.LoanDueJobSchedule = "0 8 * * *"
	}

	return
}
