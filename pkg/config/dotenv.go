package config

import (
	"fmt"
	"net"
	"net/url"

	"github.com/spf13/viper"
)

// DotEnv is the database connection described by an environment file.
type DotEnv struct {
	User     string `validate:"required"`
	Password string `validate:"required"`
	Host     string
	Port     string
	DB       string
	Schema   string
}

// ReadDotEnv parses a KEY=value file. Host, port, database and schema
// default to postgres, 5432, postgres and public.
func ReadDotEnv(path string) (DotEnv, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.SetDefault("POSTGRES_HOST", "postgres")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_DB", "postgres")
	v.SetDefault("POSTGRES_SCHEMA", "public")

	if err := v.ReadInConfig(); err != nil {
		return DotEnv{}, fmt.Errorf("read env file %s: %w", path, err)
	}

	env := DotEnv{
		User:     v.GetString("POSTGRES_USER"),
		Password: v.GetString("POSTGRES_PASSWORD"),
		Host:     v.GetString("POSTGRES_HOST"),
		Port:     v.GetString("POSTGRES_PORT"),
		DB:       v.GetString("POSTGRES_DB"),
		Schema:   v.GetString("POSTGRES_SCHEMA"),
	}
	if err := validate.Struct(env); err != nil {
		return DotEnv{}, fmt.Errorf("env file %s: %w", path, err)
	}
	return env, nil
}

// ConnString renders e as a postgres URL whose options set the search_path
// to e.Schema.
func (e DotEnv) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(e.User, e.Password),
		Host:   net.JoinHostPort(e.Host, e.Port),
		Path:   "/" + e.DB,
	}
	q := url.Values{}
	q.Set("options", "-c search_path="+e.Schema)
	u.RawQuery = q.Encode()
	return u.String()
}

// Connection resolves the connection string of env and the schema its
// tables live in.
func (env EnvironmentConfig) Connection() (connString, schema string, err error) {
	if env.ConnString != "" {
		return env.ConnString, "", nil
	}
	dot, err := ReadDotEnv(env.EnvFile)
	if err != nil {
		return "", "", err
	}
	return dot.ConnString(), dot.Schema, nil
}
