package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/IBM/sarama"
)

type Config struct {
	Brokers     []string `json:"brokers"`
	TopicPrefix string   `json:"topicPrefix"`
	Version     string   `json:"version,omitempty"`
	SASL        *SASL    `json:"sasl,omitempty"`
	TLS         *TLS     `json:"tls,omitempty"`
	// Topics that do not exist yet are created with these settings.
	Partitions  int32 `json:"partitions,omitempty"`
	Replicas    int16 `json:"replicas,omitempty"`
	RetentionMS int64 `json:"retentionMs,omitempty"`
}

type SASL struct {
	Enable   bool   `json:"enable"`
	Username string `json:"username"`
	Password string `json:"password"`
	// Algorithm is sha256, sha512 or plain.
	Algorithm string `json:"algorithm"`
}

type TLS struct {
	Enable     bool   `json:"enable"`
	CertFile   string `json:"certFile,omitempty"`
	KeyFile    string `json:"keyFile,omitempty"`
	CAFile     string `json:"caFile,omitempty"`
	SkipVerify bool   `json:"skipVerify,omitempty"`
}

func (c *Config) setDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "pgcrud"
	}
	if c.Version == "" {
		c.Version = "2.1.1"
	}
	if c.Partitions == 0 {
		c.Partitions = 1
	}
	if c.Replicas == 0 {
		c.Replicas = 1
	}
	if c.RetentionMS == 0 {
		c.RetentionMS = 7 * 24 * 60 * 60 * 1000
	}
}

func (c *Config) saramaConfig() (*sarama.Config, error) {
	conf := sarama.NewConfig()

	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid Kafka version: %w", err)
	}
	conf.Version = version
	conf.ClientID = "pgcrud"

	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Retry.Max = 5
	conf.Producer.Retry.Backoff = time.Second
	conf.Producer.Return.Successes = true
	conf.Producer.Return.Errors = true
	// events for the same row land on the same partition
	conf.Producer.Partitioner = sarama.NewHashPartitioner

	if c.SASL != nil && c.SASL.Enable {
		conf.Net.SASL.Enable = true
		conf.Net.SASL.User = c.SASL.Username
		conf.Net.SASL.Password = c.SASL.Password
		conf.Net.SASL.Handshake = true

		switch c.SASL.Algorithm {
		case "sha512":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &scramClient{HashGeneratorFcn: SHA512} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		case "sha256":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &scramClient{HashGeneratorFcn: SHA256} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "", "plain":
			conf.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		default:
			return nil, fmt.Errorf("invalid SASL algorithm: %s", c.SASL.Algorithm)
		}
	}

	if c.TLS != nil && c.TLS.Enable {
		tlsConfig, err := c.TLS.config()
		if err != nil {
			return nil, err
		}
		conf.Net.TLS.Enable = true
		conf.Net.TLS.Config = tlsConfig
	}

	return conf, nil
}

func (t *TLS) config() (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: t.SkipVerify} // #nosec G402 -- opt-in

	if t.CertFile != "" && t.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
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

	return cfg, nil
}
