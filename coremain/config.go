package coremain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/neardns/neardns/pkg/kvstore"
	"github.com/neardns/neardns/pkg/mlog"
)

type Config struct {
	Log   mlog.LogConfig `yaml:"log"`
	Store kvstore.Args   `yaml:"store"`
	API   APIConfig      `yaml:"api"`
}

type APIConfig struct {
	HTTP string `yaml:"http"`
	// WriteRate is writes per second accepted by the API. 0 means unlimited.
	WriteRate  float64 `yaml:"write_rate"`
	WriteBurst int     `yaml:"write_burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.production", false)
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.address", "neardns.db")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.key_prefix", "neardns")
	v.SetDefault("api.http", "127.0.0.1:8080")
	v.SetDefault("api.write_rate", 50)
	v.SetDefault("api.write_burst", 100)
}

// loadConfig reads filePath, or ./config.yaml if filePath is empty. A missing
// default file is not an error, defaults and NEARDNS_* variables apply.
// It returns the file actually used, if any.
func loadConfig(filePath string) (*Config, string, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("NEARDNS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if len(filePath) > 0 {
		v.SetConfigFile(filePath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if len(filePath) > 0 || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
	}

	decoderOpt := func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
		cfg.TagName = "yaml"
		cfg.WeaklyTypedInput = true
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg, decoderOpt); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}

func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory", "sqlite", "mysql", "redis":
	default:
		return fmt.Errorf("store.type %q: %w", c.Store.Type, kvstore.ErrUnsupportedType)
	}
	if c.Store.Type != "memory" && c.Store.Address == "" {
		return errors.New("store.address is required")
	}
	if c.API.WriteRate < 0 {
		return errors.New("api.write_rate must not be negative")
	}
	return nil
}
