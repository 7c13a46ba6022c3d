// Package config loads the pgcrud configuration from a YAML file, PGCRUD_*
// environment variables and per-environment .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/edgeflare/pgcrud/pkg/httputil/middleware"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/edgeflare/pgcrud/pkg/registry"
	"github.com/edgeflare/pgcrud/pkg/rest"
	"github.com/edgeflare/pgcrud/pkg/util"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X github.com/edgeflare/pgcrud/pkg/config.Version=...".
var Version = "dev"

// EnvPrefix prefixes environment overrides, e.g. PGCRUD_SERVER_LISTENADDR.
const EnvPrefix = "PGCRUD"

// Config holds application-wide configuration
type Config struct {
	Server       ServerConfig           `mapstructure:"server"`
	Log          LogConfig              `mapstructure:"log"`
	Environments []EnvironmentConfig    `mapstructure:"environments" validate:"required,min=1,unique=Name,unique=Prefix,dive"`
	Registry     RegistryConfig         `mapstructure:"registry"`
	Limits       query.Limits           `mapstructure:"limits"`
	Metrics      MetricsConfig          `mapstructure:"metrics"`
	Events       EventsConfig           `mapstructure:"events"`
	CORS         middleware.CORSOptions `mapstructure:"cors"`
	Static       []rest.StaticMount     `mapstructure:"static" validate:"dive"`
}

type ServerConfig struct {
	ListenAddr        string        `mapstructure:"listenAddr" validate:"required"`
	Debug             bool          `mapstructure:"debug"`
	ReadHeaderTimeout time.Duration `mapstructure:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdownTimeout"`
	TLS               TLSConfig     `mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	CertFile string   `mapstructure:"certFile"`
	KeyFile  string   `mapstructure:"keyFile"`
	Hosts    []string `mapstructure:"hosts"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error none"`
}

// EnvironmentConfig is one database environment and the route prefix it is
// served under. The connection comes from ConnString or, when empty, from
// the POSTGRES_* keys of EnvFile.
type EnvironmentConfig struct {
	Name           string        `mapstructure:"name" validate:"required"`
	Prefix         string        `mapstructure:"prefix" validate:"required,startswith=/"`
	ConnString     string        `mapstructure:"connString" validate:"required_without=EnvFile"`
	EnvFile        string        `mapstructure:"envFile" validate:"required_without=ConnString"`
	CRUD           bool          `mapstructure:"crud"`
	ConnectRetries uint64        `mapstructure:"connectRetries"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
}

// RegistryConfig selects the tables served. Definitions, when given, are
// used as-is and the catalog is not read.
type RegistryConfig struct {
	Schema       string            `mapstructure:"schema"`
	Tables       []string          `mapstructure:"tables"`
	IndexColumns map[string]string `mapstructure:"indexColumns"`
	MaxDepth     int               `mapstructure:"maxDepth" validate:"gte=0"`
	Definitions  []registry.Table  `mapstructure:"definitions" validate:"dive"`
}

// CatalogOptions converts the selection for registry.LoadCatalog.
func (c RegistryConfig) CatalogOptions(schema string) registry.CatalogOptions {
	if c.Schema != "" {
		schema = c.Schema
	}
	return registry.CatalogOptions{
		Schema:       schema,
		Tables:       c.Tables,
		IndexColumns: c.IndexColumns,
	}
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

type EventsConfig struct {
	events.Options `mapstructure:",squash"`
	Sinks          []events.SinkConfig `mapstructure:"sinks" validate:"dive"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listenAddr", ":8080")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.readHeaderTimeout", "5s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("limits.default", query.DefaultLimits.Default)
	v.SetDefault("limits.max", query.DefaultLimits.Max)
	v.SetDefault("registry.schema", "")
	v.SetDefault("registry.maxDepth", 16)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("events.buffer", 256)
	v.SetDefault("events.connectRetries", 3)
	v.SetDefault("events.publishTimeout", "5s")

	cors := middleware.DefaultCORSOptions()
	v.SetDefault("cors.allowedOrigins", cors.AllowedOrigins)
	v.SetDefault("cors.allowedMethods", cors.AllowedMethods)
	v.SetDefault("cors.allowedHeaders", cors.AllowedHeaders)
	v.SetDefault("cors.allowCredentials", cors.AllowCredentials)
	v.SetDefault("cors.maxAge", 0)

	// production on /api, development with CRUD on /api-dev
	v.SetDefault("environments", []map[string]any{
		{"name": "prod", "prefix": "/api", "envFile": "db/.env"},
		{"name": "dev", "prefix": "/api-dev", "envFile": "db/.env.dev", "crud": true},
	})
	v.SetDefault("static", []map[string]any{})
}

// Load reads config from file or environment. Without cfgFile it looks for
// pgcrud.yaml in $HOME/.config and the working directory; a missing file is
// not an error.
func Load(cfgFile string) (*Config, error) {
	return load(viper.GetViper(), cfgFile)
}

func load(v *viper.Viper, cfgFile string) (*Config, error) {
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgcrud")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// DEBUG is honoured without the prefix
	if debug, ok := os.LookupEnv("DEBUG"); ok {
		cfg.Server.Debug = util.ReadBoolean(debug)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// File returns the config file in use, or "".
func File() string {
	return viper.ConfigFileUsed()
}

// Validate checks the struct constraints of c.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s fails %s%s", fe.Namespace(), fe.Tag(), param(fe.Param()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func param(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// Environment returns the named environment.
func (c *Config) Environment(name string) (EnvironmentConfig, bool) {
	for _, e := range c.Environments {
		if e.Name == name {
			return e, true
		}
	}
	return EnvironmentConfig{}, false
}
