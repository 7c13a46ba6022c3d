// Package mqtt publishes change events to MQTT topics of the form
// <prefix>/<env>/<table>/<op>.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	Servers     []string `json:"servers"`
	ClientID    string   `json:"clientID,omitempty"`
	Username    string   `json:"username,omitempty"`
	Password    string   `json:"password,omitempty"`
	TopicPrefix string   `json:"topicPrefix"`
	QoS         byte     `json:"qos"`
	Retained    bool     `json:"retained,omitempty"`
	// ConnectTimeout in seconds.
	ConnectTimeout int         `json:"connectTimeout,omitempty"`
	TLS            *TLSOptions `json:"tls,omitempty"`
}

type TLSOptions struct {
	InsecureSkipVerify bool   `json:"insecureSkipVerify"`
	ServerName         string `json:"serverName,omitempty"`
	CAFile             string `json:"caFile,omitempty"`
	CertFile           string `json:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty"`
}

type Sink struct {
	client mqtt.Client
	config Config
	logger *zap.Logger
}

var errNotConnected = errors.New("mqtt: not connected")

func (s *Sink) Connect(raw json.RawMessage, logger *zap.Logger) error {
	if err := json.Unmarshal(raw, &s.config); err != nil {
		return fmt.Errorf("unmarshal MQTT config: %w", err)
	}
	s.logger = logger
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	opts, err := clientOptions(&s.config, s.logger)
	if err != nil {
		return err
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return fmt.Errorf("broker connection timed out after %s", opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker connection error: %w", err)
	}
	s.client = client
	return nil
}

func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	if s.client == nil {
		return errNotConnected
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	topic := e.Subject(s.config.TopicPrefix, "/")

	token := s.client.Publish(topic, s.config.QoS, s.config.Retained, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	s.logger.Debug("published event", zap.String("topic", topic))
	return nil
}

func (s *Sink) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

func clientOptions(c *Config, logger *zap.Logger) (*mqtt.ClientOptions, error) {
	if len(c.Servers) == 0 {
		c.Servers = []string{"tcp://127.0.0.1:1883"}
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "pgcrud"
	}
	if c.ClientID == "" {
		c.ClientID = "pgcrud-" + uuid.NewString()[:8]
	}
	if c.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS %d", c.QoS)
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10
	}

	opts := mqtt.NewClientOptions()
	for _, server := range c.Servers {
		opts.AddBroker(server)
	}
	opts.SetClientID(c.ClientID)
	opts.SetUsername(c.Username)
	opts.SetPassword(c.Password)
	opts.SetConnectTimeout(time.Duration(c.ConnectTimeout) * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("connected to broker", zap.Strings("servers", c.Servers))
	})

	if c.TLS != nil {
		tlsConfig, err := c.TLS.config()
		if err != nil {
			return nil, fmt.Errorf("create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}
	return opts, nil
}

func (t *TLSOptions) config() (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: t.InsecureSkipVerify, // #nosec G402 -- opt-in
		ServerName:         t.ServerName,
	}

	if t.CAFile != "" {
		caCert, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates found in %s", t.CAFile)
		}
		cfg.RootCAs = pool
	}

	if t.CertFile != "" && t.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func init() {
	events.Register(events.SinkMQTT, func() events.Sink { return &Sink{} })
}
