// Package config holds devicecore's runtime configuration tree, loaded by
// the process embedding the library (cmd/deviced in this repository, or a
// platform integrator's own bootstrap).
package config

import "time"

// Config is the top-level configuration tree for a devicecore-embedding
// process.
type Config struct {
	Pairing  PairingConfig  `mapstructure:"pairing"`
	Cloud    CloudConfig    `mapstructure:"cloud"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

// PairingConfig configures the local pairing surface (C3/C4).
type PairingConfig struct {
	Modes             []string      `mapstructure:"modes"`               // "embeddedCode", "pinCode"
	EmbeddedCode      string        `mapstructure:"embedded_code"`       // required iff embeddedCode is enabled
	SecurityDisabled  bool          `mapstructure:"security_disabled"`   // dev-only escape hatch, enables the "none" crypto type
	PairingTTL        time.Duration `mapstructure:"pairing_ttl"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BlockDuration     time.Duration `mapstructure:"block_duration"`
	AccessTokenTTL    time.Duration `mapstructure:"access_token_ttl"`
}

// CloudConfig holds registration defaults (spec §3 "Registration settings").
// Endpoint-like fields are the defaults a registration request may only
// override when AllowEndpointsOverride is true.
type CloudConfig struct {
	OAuthURL                string `mapstructure:"oauth_url"`
	ServiceURL              string `mapstructure:"service_url"`
	APIKey                  string `mapstructure:"api_key"`
	ClientID                string `mapstructure:"client_id"`
	ClientSecret            string `mapstructure:"client_secret"`
	XMPPEndpoint            string `mapstructure:"xmpp_endpoint"`
	AllowEndpointsOverride  bool   `mapstructure:"allow_endpoints_override"`
	ModelID                 string `mapstructure:"model_id"`
	DeviceID                string `mapstructure:"device_id"`
	RefreshGuardSeconds     int    `mapstructure:"refresh_guard_seconds"`
}

// StorageConfig selects and configures the ConfigStore backend.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"` // "memory", "redis", "postgres", "sqlite"
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// VaultConfig configures the optional Vault-backed device secret provider.
type VaultConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	MountPath string `mapstructure:"mount_path"`
	SecretKey string `mapstructure:"secret_key"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	JaegerURL   string `mapstructure:"jaeger_url"`
	ServiceName string `mapstructure:"service_name"`
}

// NotifyConfig configures the notification channel used for revocation and
// command-push fan-out on hub/fleet deployments.
type NotifyConfig struct {
	Backend      string   `mapstructure:"backend"` // "noop", "kafka"
	Brokers      []string `mapstructure:"brokers"`
	RevokeTopic  string   `mapstructure:"revoke_topic"`
}

// HTTPConfig configures the local pairing HTTP front-end.
type HTTPConfig struct {
	Addr        string `mapstructure:"addr"`
	EnablePprof bool   `mapstructure:"enable_pprof"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Default returns a Config populated with the same defaults Load
// installs into viper, useful for tests that construct a Config directly.
func Default() *Config {
	return &Config{
		Pairing: PairingConfig{
			Modes:          []string{"embeddedCode", "pinCode"},
			PairingTTL:     5 * time.Minute,
			SessionTTL:     5 * time.Minute,
			MaxAttempts:    3,
			BlockDuration:  1 * time.Minute,
			AccessTokenTTL: 24 * time.Hour,
		},
		Cloud: CloudConfig{
			OAuthURL:            "https://accounts.example.com/o/oauth2/",
			ServiceURL:          "https://www.example.com/api/v1/",
			RefreshGuardSeconds: 60,
		},
		Storage: StorageConfig{Backend: "memory"},
		Log:     LogConfig{Level: "info"},
		Notify:  NotifyConfig{Backend: "noop"},
		HTTP:    HTTPConfig{Addr: ":8781"},
	}
}
