package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"projectmanager/store"
)

type Config struct {
	Mongo MongoConfig `koanf:"mongo"`
	HTTP  HTTPConfig  `koanf:"http"`
	Log   LogConfig   `koanf:"log"`
}

type MongoConfig struct {
	URL          string        `koanf:"url"`
	Database     string        `koanf:"database"`
	AuthDatabase string        `koanf:"auth_database"` // users live apart from project collections
	Attempts     int           `koanf:"attempts"`
	Timeout      time.Duration `koanf:"timeout"`
	Pause        time.Duration `koanf:"pause"`
}

type HTTPConfig struct {
	Port           string   `koanf:"port"`
	JWTSecret      string   `koanf:"jwt_secret"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json | console
}

// envKeys maps the session variables onto config keys. Unlisted and empty
// variables are ignored.
var envKeys = map[string]string{
	"AVALON_MONGO":          "mongo.url",
	"AVALON_DB":             "mongo.database",
	"AVALON_AUTH_DB":        "mongo.auth_database",
	"AVALON_MONGO_ATTEMPTS": "mongo.attempts",
	"AVALON_MONGO_TIMEOUT":  "mongo.timeout",
	"AVALON_MONGO_PAUSE":    "mongo.pause",
	"PORT":                  "http.port",
	"JWT_SECRET":            "http.jwt_secret",
	"CORS_ORIGINS":          "http.allowed_origins",
	"LOG_LEVEL":             "log.level",
	"LOG_FORMAT":            "log.format",
}

// loadConfig reads the optional YAML file at path, then the environment,
// then fills defaults for whatever is still unset.
func loadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		name := envKeys[key]
		if value == "" {
			return "", nil
		}
		if name == "http.allowed_origins" {
			return name, strings.Split(value, ",")
		}
		return name, value
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = store.DefaultDatabase
	}
	if cfg.Mongo.AuthDatabase == "" {
		cfg.Mongo.AuthDatabase = cfg.Mongo.Database + "_auth"
	}
	if cfg.Mongo.Attempts <= 0 {
		cfg.Mongo.Attempts = 3
	}
	if cfg.Mongo.Timeout <= 0 {
		cfg.Mongo.Timeout = time.Second
	}
	if cfg.Mongo.Pause <= 0 {
		cfg.Mongo.Pause = time.Second
	}
	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = "8080"
	}
	if cfg.HTTP.JWTSecret == "" {
		cfg.HTTP.JWTSecret = "change_me"
	}
	if len(cfg.HTTP.AllowedOrigins) == 0 {
		cfg.HTTP.AllowedOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173", "http://localhost:3000"}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func (c MongoConfig) storeConfig() store.Config {
	return store.Config{
		URL:      c.URL,
		Database: c.Database,
		Attempts: c.Attempts,
		Timeout:  c.Timeout,
		Pause:    c.Pause,
	}
}
