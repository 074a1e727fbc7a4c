package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MinTokenSkew is the smallest refresh lead time accepted for access tokens.
const MinTokenSkew = 60 * time.Second

type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	Discord struct {
		Token   string `yaml:"token"`
		GuildID string `yaml:"guild_id"`
		APIURL  string `yaml:"api_url"`
	} `yaml:"discord"`

	DB struct {
		DSN         string `yaml:"dsn"`
		AutoMigrate bool   `yaml:"auto_migrate"`
	} `yaml:"db"`

	Google struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		// TokenURL overrides the Google token endpoint (tests, proxies).
		TokenURL   string `yaml:"token_url"`
		CalendarID string `yaml:"calendar_id"`
		// Endpoint overrides the Calendar API base URL.
		Endpoint string `yaml:"endpoint"`
	} `yaml:"google"`

	// Timezone is the IANA zone written on calendar entries and used to split
	// time-of-day from date when diffing.
	Timezone    string        `yaml:"timezone"`
	TokenSkew   time.Duration `yaml:"token_skew"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	Sync struct {
		Secret string `yaml:"secret"`
	} `yaml:"sync"`

	PrometheusEnabled bool     `yaml:"prometheus_enabled"`
	PushgatewayURL    string   `yaml:"pushgateway_url"`
	LogLevel          string   `yaml:"log_level"`
	TrustedProxies    []string `yaml:"trusted_proxies"`
}

// Load reads an optional .env file, an optional YAML file at path and then
// the GUILDCAL_* environment, which wins over the file.
func Load(path string) (*Config, error) {
	// A missing .env is normal in production.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.ListenAddr = ":8080"
	cfg.Discord.APIURL = "https://discord.com/api/v10"
	cfg.Google.CalendarID = "primary"
	cfg.Timezone = "Asia/Tokyo"
	cfg.TokenSkew = MinTokenSkew
	cfg.HTTPTimeout = 15 * time.Second
	cfg.LogLevel = "info"
	return cfg
}

func applyEnv(cfg *Config) error {
	cfg.ListenAddr = getenvDefault("GUILDCAL_LISTEN_ADDR", cfg.ListenAddr)

	cfg.Discord.Token = getenvDefault("GUILDCAL_DISCORD_TOKEN", cfg.Discord.Token)
	cfg.Discord.GuildID = getenvDefault("GUILDCAL_GUILD_ID", cfg.Discord.GuildID)
	cfg.Discord.APIURL = strings.TrimRight(getenvDefault("GUILDCAL_DISCORD_API_URL", cfg.Discord.APIURL), "/")

	cfg.DB.DSN = getenvDefault("GUILDCAL_DB_DSN", cfg.DB.DSN)
	if cfg.DB.DSN == "" {
		host := os.Getenv("GUILDCAL_DB_HOST")
		name := os.Getenv("GUILDCAL_DB_NAME")
		user := os.Getenv("GUILDCAL_DB_USER")
		password := os.Getenv("GUILDCAL_DB_PASSWORD")
		port := getenvDefault("GUILDCAL_DB_PORT", "5432")
		sslmode := getenvDefault("GUILDCAL_DB_SSLMODE", "require")

		if host != "" && name != "" && user != "" && password != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}
	cfg.DB.AutoMigrate = getenvBool("GUILDCAL_AUTO_MIGRATE", cfg.DB.AutoMigrate)

	cfg.Google.ClientID = getenvDefault("GUILDCAL_GOOGLE_CLIENT_ID", cfg.Google.ClientID)
	cfg.Google.ClientSecret = getenvDefault("GUILDCAL_GOOGLE_CLIENT_SECRET", cfg.Google.ClientSecret)
	cfg.Google.TokenURL = getenvDefault("GUILDCAL_GOOGLE_TOKEN_URL", cfg.Google.TokenURL)
	cfg.Google.CalendarID = getenvDefault("GUILDCAL_CALENDAR_ID", cfg.Google.CalendarID)
	cfg.Google.Endpoint = getenvDefault("GUILDCAL_GOOGLE_ENDPOINT", cfg.Google.Endpoint)

	cfg.Timezone = getenvDefault("GUILDCAL_TIMEZONE", cfg.Timezone)

	var err error
	if cfg.TokenSkew, err = getenvDuration("GUILDCAL_TOKEN_SKEW", cfg.TokenSkew); err != nil {
		return err
	}
	if cfg.HTTPTimeout, err = getenvDuration("GUILDCAL_HTTP_TIMEOUT", cfg.HTTPTimeout); err != nil {
		return err
	}

	cfg.Sync.Secret = getenvDefault("GUILDCAL_SYNC_SECRET", cfg.Sync.Secret)
	cfg.PrometheusEnabled = getenvBool("GUILDCAL_PROMETHEUS_ENDPOINT_ENABLED", cfg.PrometheusEnabled)
	cfg.PushgatewayURL = getenvDefault("GUILDCAL_PUSHGATEWAY_URL", cfg.PushgatewayURL)
	cfg.LogLevel = getenvDefault("GUILDCAL_LOG_LEVEL", cfg.LogLevel)
	if proxies := getenvList("GUILDCAL_TRUSTED_PROXIES"); proxies != nil {
		cfg.TrustedProxies = proxies
	}
	return nil
}

// Validate reports the first missing or malformed setting.
func (c *Config) Validate() error {
	if c.Discord.Token == "" || c.Discord.GuildID == "" {
		return errors.New("GUILDCAL_DISCORD_TOKEN and GUILDCAL_GUILD_ID are required")
	}
	if c.DB.DSN == "" {
		return errors.New("GUILDCAL_DB_DSN is required (or set GUILDCAL_DB_HOST, GUILDCAL_DB_NAME, GUILDCAL_DB_USER, and GUILDCAL_DB_PASSWORD)")
	}
	if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
		return fmt.Errorf("google oauth configuration is required: client id and secret")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("GUILDCAL_TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.TokenSkew < MinTokenSkew {
		return fmt.Errorf("GUILDCAL_TOKEN_SKEW must be at least %s (got %s)", MinTokenSkew, c.TokenSkew)
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("GUILDCAL_HTTP_TIMEOUT must be positive")
	}
	return nil
}

// Location returns the configured zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}

// getenvDuration accepts Go durations ("90s") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
