// Package webhook POSTs change events as JSON to one or more HTTP endpoints.
package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"go.uber.org/zap"
)

type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeAPIKey AuthType = "apikey"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeBasic  AuthType = "basic"
)

type AuthConfig struct {
	Type       AuthType `json:"type"`
	APIKey     string   `json:"apiKey,omitempty"`
	APIKeyName string   `json:"apiKeyName,omitempty"`
	Username   string   `json:"username,omitempty"`
	Password   string   `json:"password,omitempty"`
	Token      string   `json:"token,omitempty"`
	TokenFile  string   `json:"tokenFile,omitempty"`
}

type RetryConfig struct {
	MaxRetries  uint64 `json:"maxRetries"`
	InitialWait string `json:"initialWait"`
	MaxWait     string `json:"maxWait"`
}

type Endpoint struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type Config struct {
	Endpoints []Endpoint  `json:"endpoints"`
	Auth      AuthConfig  `json:"auth"`
	Timeout   string      `json:"timeout"`
	Retry     RetryConfig `json:"retry"`
}

type Sink struct {
	client      *http.Client
	logger      *zap.Logger
	endpoints   []Endpoint
	auth        AuthConfig
	maxRetries  uint64
	initialWait time.Duration
	maxWait     time.Duration
}

func (s *Sink) Connect(raw json.RawMessage, logger *zap.Logger) error {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("unmarshal webhook config: %w", err)
	}
	if len(cfg.Endpoints) == 0 {
		return errors.New("no endpoints configured")
	}
	s.logger = logger
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	timeout, err := parseDuration(cfg.Timeout, 30*time.Second)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if s.initialWait, err = parseDuration(cfg.Retry.InitialWait, time.Second); err != nil {
		return fmt.Errorf("invalid retry.initialWait: %w", err)
	}
	if s.maxWait, err = parseDuration(cfg.Retry.MaxWait, 30*time.Second); err != nil {
		return fmt.Errorf("invalid retry.maxWait: %w", err)
	}
	s.maxRetries = cfg.Retry.MaxRetries
	if s.maxRetries == 0 {
		s.maxRetries = 3
	}

	for i := range cfg.Endpoints {
		if cfg.Endpoints[i].URL == "" {
			return fmt.Errorf("endpoint %d has no url", i)
		}
		if cfg.Endpoints[i].Method == "" {
			cfg.Endpoints[i].Method = http.MethodPost
		}
	}

	s.auth = cfg.Auth
	if err := s.loadAuth(); err != nil {
		return err
	}
	s.client = &http.Client{Timeout: timeout}
	s.endpoints = cfg.Endpoints

	s.logger.Info("webhook sink initialized",
		zap.Int("endpoints", len(cfg.Endpoints)),
		zap.String("auth_type", string(s.auth.Type)),
		zap.Duration("timeout", timeout))
	return nil
}

func (s *Sink) loadAuth() error {
	switch s.auth.Type {
	case "", AuthTypeNone:
		s.auth.Type = AuthTypeNone
	case AuthTypeAPIKey:
		if s.auth.APIKey == "" {
			return errors.New("API key authentication requires an API key")
		}
		if s.auth.APIKeyName == "" {
			s.auth.APIKeyName = "X-API-Key"
		}
	case AuthTypeBasic:
		if s.auth.Username == "" || s.auth.Password == "" {
			return errors.New("basic authentication requires both username and password")
		}
	case AuthTypeBearer:
		if s.auth.Token == "" && s.auth.TokenFile != "" {
			token, err := os.ReadFile(s.auth.TokenFile)
			if err != nil {
				return fmt.Errorf("read token file: %w", err)
			}
			s.auth.Token = strings.TrimSpace(string(token))
		}
		if s.auth.Token == "" {
			return errors.New("bearer authentication requires either token or token file")
		}
	default:
		return fmt.Errorf("unsupported auth type %q", s.auth.Type)
	}
	return nil
}

// Publish sends e to every endpoint. A failing endpoint does not stop
// delivery to the others; all failures are returned joined.
func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var errs []error
	for _, endpoint := range s.endpoints {
		config := httputil.DefaultRequestConfig(endpoint.Method, endpoint.URL)
		config.Client = s.client
		config.Logger = s.logger
		config.Headers = s.headers(endpoint, e)
		config.MaxRetries = s.maxRetries
		config.InitialBackoff = s.initialWait
		config.MaxBackoff = s.maxWait

		if _, err := httputil.Request(ctx, config, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", endpoint.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) Close() error {
	if s.client != nil {
		s.client.CloseIdleConnections()
	}
	return nil
}

func (s *Sink) headers(endpoint Endpoint, e events.Event) map[string][]string {
	headers := make(map[string][]string, len(endpoint.Headers)+3)
	for key, value := range endpoint.Headers {
		headers[key] = []string{value}
	}
	headers["X-Event-Id"] = []string{e.ID.String()}
	headers["X-Event-Op"] = []string{string(e.Op)}

	switch s.auth.Type {
	case AuthTypeAPIKey:
		headers[s.auth.APIKeyName] = []string{s.auth.APIKey}
	case AuthTypeBasic:
		headers["Authorization"] = []string{"Basic " + base64.StdEncoding.EncodeToString([]byte(s.auth.Username+":"+s.auth.Password))}
	case AuthTypeBearer:
		headers["Authorization"] = []string{"Bearer " + s.auth.Token}
	}
	return headers
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

func init() {
	events.Register(events.SinkWebhook, func() events.Sink { return &Sink{} })
}
