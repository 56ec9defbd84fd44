package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	Port        string `mapstructure:"port"`

	// Auth
	JWTSecret string `mapstructure:"jwt_secret"`

	// Mail gateway used for escalation notices
	MailGatewayURL   string `mapstructure:"mail_gateway_url"`
	MailGatewayToken string `mapstructure:"mail_gateway_token"`
	MailFrom         string `mapstructure:"mail_from"`

	// Push notifications
	FCMCredentialsFile string `mapstructure:"fcm_credentials_file"`

	// Sweep cadence of the breach/escalation poller
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`

	// Data storage
	DataDir string `mapstructure:"data_dir"`
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// Auto-load .env file if present so 'go run' works without manually
	// exporting env vars; absence is not an error.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	v := viper.New()

	// Set default values
	v.SetDefault("port", "8080")
	v.SetDefault("mail_from", "sla-noreply@localhost")
	v.SetDefault("sweep_interval_seconds", 60)
	v.SetDefault("data_dir", "./data")

	// Config file settings
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("dev.config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("sla")

	// Bind standard environment variables (Docker/deploy compatibility)
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("mail_gateway_url", "MAIL_GATEWAY_URL")
	_ = v.BindEnv("mail_gateway_token", "MAIL_GATEWAY_TOKEN")
	_ = v.BindEnv("mail_from", "MAIL_FROM")
	_ = v.BindEnv("fcm_credentials_file", "FCM_CREDENTIALS_FILE")
	_ = v.BindEnv("sweep_interval_seconds", "SWEEP_INTERVAL_SECONDS")
	_ = v.BindEnv("data_dir", "DATA_DIR")

	v.AutomaticEnv()

	// 1. Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Printf("Loaded config from: %s", v.ConfigFileUsed())
	}

	// 2. Unmarshal into struct
	if err := v.Unmarshal(&App); err != nil {
		return err
	}

	// 3. Backfill environment variables for code that still reads os.Getenv()
	setEnvIfEmpty("DATABASE_URL", App.DatabaseURL)
	setEnvIfEmpty("REDIS_URL", App.RedisURL)
	setEnvIfEmpty("PORT", App.Port)
	setEnvIfEmpty("JWT_SECRET", App.JWTSecret)
	setEnvIfEmpty("MAIL_GATEWAY_URL", App.MailGatewayURL)
	setEnvIfEmpty("MAIL_GATEWAY_TOKEN", App.MailGatewayToken)
	setEnvIfEmpty("DATA_DIR", App.DataDir)

	return nil
}

func setEnvIfEmpty(key, value string) {
	if value != "" && os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}
