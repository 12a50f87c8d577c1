package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "BOOTH"

type ServerConfig struct {
	Port    string `mapstructure:"port"`
	BaseURL string `mapstructure:"base_url"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthConfig struct {
	CountryCode string        `mapstructure:"country_code"`
	OTPTTL      time.Duration `mapstructure:"otp_ttl"`
	SessionTTL  time.Duration `mapstructure:"session_ttl"`
}

type WatchdogConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type ExportConfig struct {
	Timezone string `mapstructure:"timezone"`
}

type SMSConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	SenderID string `mapstructure:"sender_id"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type ArchiveConfig struct {
	S3            S3Config `mapstructure:"s3"`
	Passphrase    string   `mapstructure:"passphrase"`
	Hour          int      `mapstructure:"hour"`
	RetentionDays int      `mapstructure:"retention_days"`
}

// Enabled reports whether scheduled archives can run.
func (a ArchiveConfig) Enabled() bool {
	return a.S3.Bucket != "" && a.S3.AccessKey != "" && a.S3.SecretKey != "" && a.Passphrase != ""
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Export   ExportConfig   `mapstructure:"export"`
	SMS      SMSConfig      `mapstructure:"sms"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.base_url", "")
	v.SetDefault("database.path", "boothsurvey.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("auth.country_code", "+91")
	v.SetDefault("auth.otp_ttl", 5*time.Minute)
	v.SetDefault("auth.session_ttl", 30*24*time.Hour)
	v.SetDefault("watchdog.timeout", 3*time.Hour)
	v.SetDefault("export.timezone", "Asia/Kolkata")
	v.SetDefault("sms.endpoint", "")
	v.SetDefault("sms.api_key", "")
	v.SetDefault("sms.sender_id", "BOOTHS")
	v.SetDefault("archive.s3.endpoint", "")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.region", "auto")
	v.SetDefault("archive.s3.access_key", "")
	v.SetDefault("archive.s3.secret_key", "")
	v.SetDefault("archive.passphrase", "")
	v.SetDefault("archive.hour", 2)
	v.SetDefault("archive.retention_days", 30)
	v.SetDefault("redis.url", "")
}

// Load reads configuration from defaults, an optional YAML file and BOOTH_*
// environment variables, in increasing precedence. Nested keys map to env
// names with dots replaced by underscores, e.g. BOOTH_WATCHDOG_TIMEOUT=90m.
// An empty path looks for boothsurvey.yaml in the working directory and
// tolerates its absence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("boothsurvey")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:" + c.Server.Port
	}
	return &c, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Watchdog.Timeout <= 0 {
		return fmt.Errorf("watchdog.timeout must be positive, got %s", c.Watchdog.Timeout)
	}
	if c.Archive.Hour < 0 || c.Archive.Hour > 23 {
		return fmt.Errorf("archive.hour must be 0-23, got %d", c.Archive.Hour)
	}
	if c.Archive.RetentionDays < 0 {
		return fmt.Errorf("archive.retention_days must not be negative, got %d", c.Archive.RetentionDays)
	}
	if _, err := time.LoadLocation(c.Export.Timezone); err != nil {
		return fmt.Errorf("export.timezone: %w", err)
	}
	return nil
}

// Location returns the export timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Export.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
