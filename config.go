package postxfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/labstack/gommon/log"

	"github.com/eringen/postxfer/transfer"
)

// SiteConfig holds all configuration for a postxfer site. It can be built
// in code or loaded from a YAML/TOML file and the environment with LoadConfig.
type SiteConfig struct {
	Name string `yaml:"site_name" toml:"site_name" env:"SITE_NAME" env-description:"Site name shown in the admin"`
	URL  string `yaml:"site_url" toml:"site_url" env:"SITE_URL" env-description:"Canonical site URL, used to rewrite imported links"`

	Addr         string `yaml:"addr" toml:"addr" env:"ADDR" env-description:"Listen address"`
	DatabasePath string `yaml:"database_path" toml:"database_path" env:"DATABASE_PATH" env-description:"SQLite database path"`
	StaticDir    string `yaml:"static_dir" toml:"static_dir" env:"STATIC_DIR" env-description:"Directory served under /public; media lives in its uploads/ subdirectory"`

	AdminPassword string `yaml:"admin_password" toml:"admin_password" env:"ADMIN_PASSWORD" env-description:"Admin login password (required)"`
	SessionSecret string `yaml:"session_secret" toml:"session_secret" env:"SESSION_SECRET" env-description:"Secret for session cookies and action tokens (required)"`
	CookieSecure  bool   `yaml:"cookie_secure" toml:"cookie_secure" env:"COOKIE_SECURE" env-description:"Mark cookies Secure (set behind HTTPS)"`

	ImageFetchTimeout time.Duration `yaml:"image_fetch_timeout" toml:"image_fetch_timeout" env:"IMAGE_FETCH_TIMEOUT" env-description:"Timeout of one remote image download"`
	MaxImportBytes    int64         `yaml:"max_import_bytes" toml:"max_import_bytes" env:"MAX_IMPORT_BYTES" env-description:"Largest accepted import file"`
	MaxImageBytes     int64         `yaml:"max_image_bytes" toml:"max_image_bytes" env:"MAX_IMAGE_BYTES" env-description:"Largest downloaded or uploaded image"`

	LogLevel string `yaml:"log_level" toml:"log_level" env:"LOG_LEVEL" env-description:"debug, info, warn, error or off"`
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Site"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/site.db"
	}
	if c.StaticDir == "" {
		c.StaticDir = "public"
	}
	if c.ImageFetchTimeout == 0 {
		c.ImageFetchTimeout = 30 * time.Second
	}
	if c.MaxImportBytes == 0 {
		c.MaxImportBytes = 10 << 20
	}
	if c.MaxImageBytes == 0 {
		c.MaxImageBytes = 10 << 20
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Media returns where the media library lives for this configuration.
func (c SiteConfig) Media() MediaLibrary {
	return MediaLibrary{
		Dir:     filepath.Join(c.StaticDir, uploadsSubdir),
		BaseURL: BuildURL(c.URL, "public", uploadsSubdir),
	}
}

// LoadConfig reads configuration from the file at path, if any, and then
// from the environment. Unset keys get their defaults.
func LoadConfig(path string) (SiteConfig, error) {
	var cfg SiteConfig
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return SiteConfig{}, fmt.Errorf("postxfer: load config: %w", err)
	}
	cfg.setDefaults()
	return cfg, nil
}

// ConfigHelp describes the environment variables LoadConfig understands.
func ConfigHelp() string {
	text, err := cleanenv.GetDescription(&SiteConfig{}, nil)
	if err != nil {
		return ""
	}
	return text
}

// NewLogger returns a stderr logger at the configured level, for use
// outside the HTTP server.
func (c SiteConfig) NewLogger(prefix string) *log.Logger {
	l := log.New(prefix)
	l.SetOutput(os.Stderr)
	l.SetHeader("${time_rfc3339} ${level} ${prefix}")
	l.SetLevel(logLevel(c.LogLevel))
	return l
}

func logLevel(name string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}

// Option configures additional App behavior.
type Option func(*App)

// WithFetcher replaces the HTTP client used to download imported images.
func WithFetcher(f transfer.Fetcher) Option {
	return func(a *App) {
		a.fetcher = f
	}
}
