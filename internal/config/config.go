// /internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

func init() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, falling back to system environment variables")
	}
}

type Config struct {
	DiscordToken    string `env:"DISCORD_TOKEN"`
	CommandCacheDir string `env:"COMMAND_CACHE_DIR" envDefault:"data/commands"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseDSN    string `env:"DATABASE_DSN" envDefault:"data/wowsync.db"`

	BnetClientID     string `env:"BNET_CLIENT_ID"`
	BnetClientSecret string `env:"BNET_CLIENT_SECRET"`
	BnetScope        string `env:"BNET_SCOPE" envDefault:"wow.profile"`
	BnetRedirectURL  string `env:"BNET_REDIRECT_URL"`
	BnetNumRetries   int    `env:"BNET_NUM_RETRIES" envDefault:"3"`
	BnetOAuthURL     string `env:"BNET_OAUTH_URL" envDefault:"https://oauth.battle.net"`
	// BnetAPIURL overrides the per-region API host when set.
	BnetAPIURL string `env:"BNET_API_URL"`

	KeepNewAccountsWithoutGuildDays int `env:"KEEP_NEW_ACCOUNTS_WITHOUT_GUILD_DAYS" envDefault:"7"`
	KeepCharactersWithoutGuildDays  int `env:"KEEP_CHARACTERS_WITHOUT_GUILD_DAYS" envDefault:"30"`

	RootURL     string `env:"ROOT_URL" envDefault:"http://localhost:8080"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	StylePath   string `env:"STYLE_PATH"`
	SessionPath string `env:"SESSION_PATH" envDefault:"data/sessions.json"`
	CronToken   string `env:"CRON_TOKEN"`

	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"0s"`
	LogFile      string        `env:"LOG_FILE"`

	// Style is the CSS read from StylePath, empty when no path is set.
	Style string
}

// Load reads the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.RootURL = strings.TrimRight(cfg.RootURL, "/")
	if cfg.BnetRedirectURL == "" {
		cfg.BnetRedirectURL = cfg.RootURL + "/auth/finish"
	}

	if cfg.BnetNumRetries < 1 {
		return nil, fmt.Errorf("BNET_NUM_RETRIES must be at least 1, got %d", cfg.BnetNumRetries)
	}
	if cfg.KeepNewAccountsWithoutGuildDays < 1 {
		return nil, fmt.Errorf("KEEP_NEW_ACCOUNTS_WITHOUT_GUILD_DAYS must be at least 1, got %d", cfg.KeepNewAccountsWithoutGuildDays)
	}
	if cfg.KeepCharactersWithoutGuildDays < 1 {
		return nil, fmt.Errorf("KEEP_CHARACTERS_WITHOUT_GUILD_DAYS must be at least 1, got %d", cfg.KeepCharactersWithoutGuildDays)
	}
	switch cfg.DatabaseDriver {
	case "sqlite", "mysql":
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}

	if cfg.StylePath != "" {
		data, err := os.ReadFile(cfg.StylePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read style %s: %w", cfg.StylePath, err)
		}
		cfg.Style = string(data)
	}

	return &cfg, nil
}

// RequireDiscord reports a missing bot token.
func (c *Config) RequireDiscord() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_TOKEN is not set")
	}
	return nil
}

// RequireBnet reports missing Battle.net client credentials.
func (c *Config) RequireBnet() error {
	if c.BnetClientID == "" || c.BnetClientSecret == "" {
		return fmt.Errorf("BNET_CLIENT_ID and BNET_CLIENT_SECRET must be set")
	}
	return nil
}

func (c *Config) KeepNewAccounts() time.Duration {
	return time.Duration(c.KeepNewAccountsWithoutGuildDays) * 24 * time.Hour
}

func (c *Config) KeepCharacters() time.Duration {
	return time.Duration(c.KeepCharactersWithoutGuildDays) * 24 * time.Hour
}
