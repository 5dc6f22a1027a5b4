// Package config loads service settings from an optional .env file, an
// optional TOML file and the process environment, in that order of
// increasing precedence.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Database holds PostgreSQL connection settings.
type Database struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	SSLMode  string `toml:"sslmode"`
}

// DSN builds a libpq-compatible connection string.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// URL builds the postgres:// form used by the migration runner.
func (d Database) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// Config is the full runtime configuration.
type Config struct {
	Port              string
	Storage           string
	Database          Database
	NATSURL           string
	Currency          string
	CurrencyDecimals  int32
	CreationMargin    time.Duration
	FinalizeBuffer    time.Duration
	RailTimeout       time.Duration
	CheckInSecret     string
	EphemeralSecret   bool
	Faucet            bool
	ReconcileInterval time.Duration
	Locale            string
}

// fileConfig mirrors the TOML layout. Durations are strings such as "5m".
type fileConfig struct {
	Port     string   `toml:"port"`
	Storage  string   `toml:"storage"`
	Locale   string   `toml:"locale"`
	NATSURL  string   `toml:"nats_url"`
	Database Database `toml:"database"`
	Escrow   struct {
		Currency          string `toml:"currency"`
		CurrencyDecimals  *int32 `toml:"currency_decimals"`
		CreationMargin    string `toml:"creation_margin"`
		FinalizeBuffer    string `toml:"finalize_buffer"`
		RailTimeout       string `toml:"rail_timeout"`
		CheckInSecret     string `toml:"checkin_secret"`
		Faucet            *bool  `toml:"faucet"`
		ReconcileInterval string `toml:"reconcile_interval"`
	} `toml:"escrow"`
}

// Defaults returns the local-development configuration.
func Defaults() Config {
	return Config{
		Port:    "8080",
		Storage: StoragePostgres,
		Database: Database{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			Name:     "eventescrow",
			SSLMode:  "disable",
		},
		Currency:          "USDC",
		CurrencyDecimals:  6,
		CreationMargin:    5 * time.Minute,
		RailTimeout:       10 * time.Second,
		ReconcileInterval: time.Minute,
		Locale:            "en",
	}
}

// Load reads configuration and validates it.
func Load() (*Config, error) {
	// .env is optional when variables come from the environment (Docker, CI).
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("ESCROW_CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := cfg.applyTOML(raw); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyTOML(raw []byte) error {
	var f fileConfig
	if err := toml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("config: parse toml: %w", err)
	}
	setString(&c.Port, f.Port)
	setString(&c.Storage, f.Storage)
	setString(&c.Locale, f.Locale)
	setString(&c.NATSURL, f.NATSURL)
	setString(&c.Database.Host, f.Database.Host)
	setString(&c.Database.Port, f.Database.Port)
	setString(&c.Database.User, f.Database.User)
	setString(&c.Database.Password, f.Database.Password)
	setString(&c.Database.Name, f.Database.Name)
	setString(&c.Database.SSLMode, f.Database.SSLMode)
	setString(&c.Currency, f.Escrow.Currency)
	setString(&c.CheckInSecret, f.Escrow.CheckInSecret)
	if f.Escrow.CurrencyDecimals != nil {
		c.CurrencyDecimals = *f.Escrow.CurrencyDecimals
	}
	if f.Escrow.Faucet != nil {
		c.Faucet = *f.Escrow.Faucet
	}
	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{f.Escrow.CreationMargin, &c.CreationMargin},
		{f.Escrow.FinalizeBuffer, &c.FinalizeBuffer},
		{f.Escrow.RailTimeout, &c.RailTimeout},
		{f.Escrow.ReconcileInterval, &c.ReconcileInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString(&c.Port, getenv("PORT"))
	setString(&c.Storage, getenv("ESCROW_STORAGE"))
	setString(&c.Locale, getenv("ESCROW_LOCALE"))
	setString(&c.NATSURL, getenv("ESCROW_NATS_URL"))
	setString(&c.Database.Host, getenv("DB_HOST"))
	setString(&c.Database.Port, getenv("DB_PORT"))
	setString(&c.Database.User, getenv("DB_USER"))
	setString(&c.Database.Password, getenv("DB_PASSWORD"))
	setString(&c.Database.Name, getenv("DB_NAME"))
	setString(&c.Database.SSLMode, getenv("DB_SSLMODE"))
	setString(&c.Currency, getenv("ESCROW_CURRENCY"))
	setString(&c.CheckInSecret, getenv("ESCROW_CHECKIN_SECRET"))

	if v := getenv("ESCROW_CURRENCY_DECIMALS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("config: ESCROW_CURRENCY_DECIMALS must be an integer: %w", err)
		}
		c.CurrencyDecimals = int32(n)
	}
	if v := getenv("ESCROW_FAUCET"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: ESCROW_FAUCET must be a boolean: %w", err)
		}
		c.Faucet = b
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"ESCROW_CREATION_MARGIN", &c.CreationMargin},
		{"ESCROW_FINALIZE_BUFFER", &c.FinalizeBuffer},
		{"ESCROW_RAIL_TIMEOUT", &c.RailTimeout},
		{"ESCROW_RECONCILE_INTERVAL", &c.ReconcileInterval},
	}
	for _, d := range durations {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s invalid (%q): %w", d.key, v, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate checks cross-field rules. In memory mode a missing check-in
// secret is replaced by a random one that lives as long as the process.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("config: ESCROW_STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage)
	}
	if strings.TrimSpace(c.Currency) == "" {
		return fmt.Errorf("config: ESCROW_CURRENCY is required")
	}
	if c.CurrencyDecimals < 0 || c.CurrencyDecimals > 18 {
		return fmt.Errorf("config: ESCROW_CURRENCY_DECIMALS must be within [0,18], got %d", c.CurrencyDecimals)
	}
	if c.CreationMargin < 0 || c.FinalizeBuffer < 0 {
		return fmt.Errorf("config: creation margin and finalize buffer must not be negative")
	}
	if c.RailTimeout <= 0 {
		return fmt.Errorf("config: ESCROW_RAIL_TIMEOUT must be positive")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("config: ESCROW_RECONCILE_INTERVAL must be positive")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("config: PORT invalid (%q)", c.Port)
	}
	if c.NATSURL != "" {
		u, err := url.Parse(c.NATSURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: ESCROW_NATS_URL invalid (%q)", c.NATSURL)
		}
	}
	if c.CheckInSecret == "" {
		if c.Storage == StoragePostgres {
			return fmt.Errorf("config: ESCROW_CHECKIN_SECRET is required with postgres storage")
		}
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("config: generate check-in secret: %w", err)
		}
		c.CheckInSecret = hex.EncodeToString(buf)
		c.EphemeralSecret = true
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
