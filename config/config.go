package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultWelcomeText is shown on /start until an admin commits another one
const DefaultWelcomeText = "Привет! Это реферальный бот. Выберите банк ниже, чтобы получить свою ссылку."

// DatabaseConfig selects the relational store
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// MongoConfig enables the event journal when URI is set
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// SheetsConfig enables referral export to Google Sheets when both fields are set
type SheetsConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	Sheet           string `mapstructure:"sheet"`
}

// Enabled reports whether the export is configured
func (s SheetsConfig) Enabled() bool {
	return s.CredentialsFile != "" && s.SpreadsheetID != ""
}

// ReferralConfig controls how strictly deep-link attributions are checked
type ReferralConfig struct {
	RequireKnownReferrer bool `mapstructure:"require_known_referrer"`
	RequireKnownBank     bool `mapstructure:"require_known_bank"`
}

// TelegramConfig tunes the long polling client
type TelegramConfig struct {
	Debug   bool `mapstructure:"debug"`
	Timeout int  `mapstructure:"timeout"`
}

// LoggingConfig selects log level and encoder
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config stores bot configuration
type Config struct {
	BotToken    string         `mapstructure:"bot_token"`
	BotUsername string         `mapstructure:"bot_username"`
	Admins      []int64        `mapstructure:"admins"`
	WelcomeText string         `mapstructure:"welcome_text"`
	SessionTTL  time.Duration  `mapstructure:"session_ttl"`
	Database    DatabaseConfig `mapstructure:"database"`
	Mongo       MongoConfig    `mapstructure:"mongo"`
	Sheets      SheetsConfig   `mapstructure:"sheets"`
	Referral    ReferralConfig `mapstructure:"referral"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	Logging     LoggingConfig  `mapstructure:"logging"`

	admins map[int64]bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot_token", "")
	v.SetDefault("bot_username", "")
	v.SetDefault("admins", []int64{})
	v.SetDefault("welcome_text", DefaultWelcomeText)
	v.SetDefault("session_ttl", 15*time.Minute)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "db/referral.db")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "referral_bot")
	v.SetDefault("sheets.credentials_file", "")
	v.SetDefault("sheets.token_file", "config/token.json")
	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.sheet", "Referrals")
	v.SetDefault("referral.require_known_referrer", true)
	v.SetDefault("referral.require_known_bank", true)
	v.SetDefault("telegram.debug", false)
	v.SetDefault("telegram.timeout", 60)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// LoadConfig loads configuration from a JSON file, a .env file and environment variables.
// A missing JSON file is not an error: everything can come from the environment.
// Nested keys map to env vars with '.' replaced by '_', e.g. DATABASE_DSN.
func LoadConfig(path string) (*Config, error) {
	// .env is optional, real environment variables take precedence
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.admins = make(map[int64]bool, len(cfg.Admins))
	for _, id := range cfg.Admins {
		cfg.admins[id] = true
	}

	return &cfg, nil
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.BotToken == "" || c.BotToken == "YOUR_BOT_TOKEN_HERE" {
		return errors.New("bot_token is not set")
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is not set")
	}
	if strings.TrimSpace(c.WelcomeText) == "" {
		return errors.New("welcome_text is empty")
	}
	if c.SessionTTL < 0 {
		return errors.New("session_ttl is negative")
	}
	return nil
}

// IsAdmin checks if the Telegram user ID is in the admins list
func (c *Config) IsAdmin(id int64) bool {
	if c.admins == nil {
		for _, admin := range c.Admins {
			if admin == id {
				return true
			}
		}
		return false
	}
	return c.admins[id]
}
