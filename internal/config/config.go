package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "CURRICULUM"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = DriverSQLite
	defaultDatabasePath   = "curriculum.db"
	defaultLogLevel       = "info"
	defaultCookieName     = "app_session"
	defaultIssuer         = "curriculum"
	defaultRedisChannel   = "curriculum.changes"
	defaultServerURL      = "http://localhost:8080"
	defaultSourcePath     = "curriculum/source.yaml"
	defaultManifestPath   = "curriculum/manifest.json"
	defaultExportPath     = "curriculum/manifest.export.json"
	defaultTimeoutSeconds = 60
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string
	LogLevel       string
	SigningSecret  string
	SessionIssuer  string
	CookieName     string
	RedisAddress   string
	RedisChannel   string
}

// SyncConfig captures configuration for the manifest sync CLI.
type SyncConfig struct {
	ServerURL    string
	Token        string
	SourcePath   string
	ManifestPath string
	ExportPath   string
	Timeout      time.Duration
	LogLevel     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultIssuer)
	configViper.SetDefault("redis.channel", defaultRedisChannel)
	configViper.SetDefault("sync.server_url", defaultServerURL)
	configViper.SetDefault("sync.source", defaultSourcePath)
	configViper.SetDefault("sync.manifest", defaultManifestPath)
	configViper.SetDefault("sync.export_path", defaultExportPath)
	configViper.SetDefault("sync.timeout_seconds", defaultTimeoutSeconds)
}

// Load parses server configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("session.signing_secret"),
		SessionIssuer:  configViper.GetString("session.issuer"),
		CookieName:     configViper.GetString("session.cookie_name"),
		RedisAddress:   strings.TrimSpace(configViper.GetString("redis.address")),
		RedisChannel:   configViper.GetString("redis.channel"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.RedisAddress != "" && strings.TrimSpace(c.RedisChannel) == "" {
		return fmt.Errorf("redis.channel is required when redis.address is set")
	}
	return nil
}

// LoadSync parses sync CLI configuration from viper. Remote settings are checked by the commands
// that need them.
func LoadSync(configViper *viper.Viper) (SyncConfig, error) {
	cfg := SyncConfig{
		ServerURL:    strings.TrimRight(strings.TrimSpace(configViper.GetString("sync.server_url")), "/"),
		Token:        strings.TrimSpace(configViper.GetString("sync.token")),
		SourcePath:   configViper.GetString("sync.source"),
		ManifestPath: configViper.GetString("sync.manifest"),
		ExportPath:   configViper.GetString("sync.export_path"),
		Timeout:      time.Duration(configViper.GetInt("sync.timeout_seconds")) * time.Second,
		LogLevel:     configViper.GetString("log.level"),
	}
	if strings.TrimSpace(cfg.ManifestPath) == "" {
		return SyncConfig{}, fmt.Errorf("sync.manifest is required")
	}
	if cfg.Timeout <= 0 {
		return SyncConfig{}, fmt.Errorf("sync.timeout_seconds must be positive")
	}
	return cfg, nil
}
