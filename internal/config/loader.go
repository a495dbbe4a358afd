package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/edgeweave/devicecore/pkg/errors"
	"github.com/edgeweave/devicecore/pkg/logger"
)

// Load reads configuration from (in increasing precedence) built-in
// defaults, an optional config file, and DEVICECORE_-prefixed environment
// variables, the way the teacher's loader layers viper sources.
func Load(log logger.Logger) (*Config, error) {
	v := viper.New()
	installDefaults(v)

	v.SetConfigName("devicecore")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/devicecore/")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, errors.InvalidParams, "reading config file")
		}
	}

	v.SetEnvPrefix("DEVICECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.InvalidParams, "unmarshaling config")
	}

	// Only the non-secret pairing knobs are safe to hot-reload; secrets
	// (embedded code, client secret, vault token) are read once at boot.
	v.OnConfigChange(func(e fsnotify.Event) {
		var reloaded Config
		if err := v.Unmarshal(&reloaded); err != nil {
			log.Warn("config reload failed", logger.Err(err))
			return
		}
		cfg.Pairing.Modes = reloaded.Pairing.Modes
		cfg.Pairing.MaxAttempts = reloaded.Pairing.MaxAttempts
		cfg.Pairing.BlockDuration = reloaded.Pairing.BlockDuration
		log.Info("pairing config hot-reloaded", logger.String("file", e.Name))
	})
	v.WatchConfig()

	return &cfg, nil
}

func installDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("pairing.modes", d.Pairing.Modes)
	v.SetDefault("pairing.pairing_ttl", d.Pairing.PairingTTL)
	v.SetDefault("pairing.session_ttl", d.Pairing.SessionTTL)
	v.SetDefault("pairing.max_attempts", d.Pairing.MaxAttempts)
	v.SetDefault("pairing.block_duration", d.Pairing.BlockDuration)
	v.SetDefault("pairing.access_token_ttl", d.Pairing.AccessTokenTTL)
	v.SetDefault("cloud.oauth_url", d.Cloud.OAuthURL)
	v.SetDefault("cloud.service_url", d.Cloud.ServiceURL)
	v.SetDefault("cloud.refresh_guard_seconds", d.Cloud.RefreshGuardSeconds)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("notify.backend", d.Notify.Backend)
	v.SetDefault("http.addr", d.HTTP.Addr)
}
