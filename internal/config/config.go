package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. GIVEAWAY_DATABASE_PATH.
const EnvPrefix = "GIVEAWAY"

// Config mirrors config.yaml.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig configures the HTTP admin surface.
type ServerConfig struct {
	Mode            string        `mapstructure:"mode"`
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	Cors            CorsConfig    `mapstructure:"cors"`
}

// CorsConfig lists the origins allowed to call the API. Empty disables CORS.
type CorsConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// DatabaseConfig locates the sqlite file and bounds lock waits.
type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busyTimeout"`
	OpTimeout   time.Duration `mapstructure:"opTimeout"`
}

// LogConfig controls google/logger verbosity and the optional log file.
type LogConfig struct {
	Verbose bool   `mapstructure:"verbose"`
	File    string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdownTimeout", 15*time.Second)
	v.SetDefault("server.cors.allowedOrigins", []string{})
	v.SetDefault("database.path", "giveaway.db")
	v.SetDefault("database.busyTimeout", 5*time.Second)
	v.SetDefault("database.opTimeout", 5*time.Second)
	v.SetDefault("log.verbose", false)
	v.SetDefault("log.file", "")
}

// Load reads config.yaml from the given directories (./config and . when none
// are given) and applies environment overrides. A missing file is not an
// error; defaults are used. A .env file in the working directory is loaded
// into the environment first if present.
func Load(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Database.Path) == "" {
		return nil, errors.New("database.path must not be empty")
	}
	return &cfg, nil
}
