// Package nats publishes change events to NATS subjects of the form
// <prefix>.<env>.<table>.<op>, optionally persisted in a JetStream stream.
package nats

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Config struct {
	Servers       []string `json:"servers"`
	SubjectPrefix string   `json:"subjectPrefix"`
	// JetStream publishes into Stream, creating or updating it as needed.
	JetStream bool   `json:"jetstream"`
	Stream    string `json:"stream"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	TLS       struct {
		Enabled  bool   `json:"enabled"`
		CertFile string `json:"certFile,omitempty"`
		KeyFile  string `json:"keyFile,omitempty"`
		CAFile   string `json:"caFile,omitempty"`
	} `json:"tls,omitempty"`
}

type Sink struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger *zap.Logger
}

var errNotConnected = errors.New("nats: not connected")

func (s *Sink) Connect(raw json.RawMessage, logger *zap.Logger) error {
	if err := json.Unmarshal(raw, &s.config); err != nil {
		return fmt.Errorf("unmarshal NATS config: %w", err)
	}
	s.logger = cmp.Or(logger, zap.NewNop())

	if len(s.config.Servers) == 0 {
		s.config.Servers = []string{nats.DefaultURL}
	}
	s.config.SubjectPrefix = cmp.Or(s.config.SubjectPrefix, "pgcrud")
	s.config.Stream = cmp.Or(s.config.Stream, s.config.SubjectPrefix+"-changes")

	var err error
	for _, server := range s.config.Servers {
		if s.nc, err = nats.Connect(server, options(s.config)...); err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("connect to NATS server: %w", err)
	}

	if !s.config.JetStream {
		return nil
	}

	if s.js, err = s.nc.JetStream(); err != nil {
		s.nc.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}
	if err := s.ensureStream(); err != nil {
		s.nc.Close()
		return fmt.Errorf("ensure stream: %w", err)
	}
	return nil
}

func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	if s.nc == nil {
		return errNotConnected
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := e.Subject(s.config.SubjectPrefix, ".")

	if s.js != nil {
		_, err = s.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(e.ID.String()))
		if err != nil {
			return fmt.Errorf("publish to %s: %w", subject, err)
		}
		return nil
	}

	if err := s.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return s.nc.FlushWithContext(ctx)
}

func (s *Sink) Close() error {
	if s.nc != nil {
		return s.nc.Drain()
	}
	return nil
}

func (s *Sink) ensureStream() error {
	want := &nats.StreamConfig{
		Name:     s.config.Stream,
		Subjects: []string{s.config.SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		Replicas: 1,
	}

	info, err := s.js.StreamInfo(want.Name)
	switch {
	case err == nil:
		if info.Config.Storage != want.Storage || !slices.Equal(info.Config.Subjects, want.Subjects) {
			if _, err := s.js.UpdateStream(want); err != nil {
				return fmt.Errorf("update stream: %w", err)
			}
			s.logger.Info("updated stream", zap.String("stream", want.Name))
		}
		return nil
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := s.js.AddStream(want); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		s.logger.Info("created stream", zap.String("stream", want.Name))
		return nil
	default:
		return fmt.Errorf("get stream info: %w", err)
	}
}

func options(c Config) []nats.Option {
	opts := []nats.Option{
		nats.Name("pgcrud"),
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.MaxReconnects(-1),
	}

	if c.Username != "" && c.Password != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}

	if c.TLS.Enabled {
		if c.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(c.TLS.CAFile))
		}
		if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
			opts = append(opts, nats.ClientCert(c.TLS.CertFile, c.TLS.KeyFile))
		}
	}
	return opts
}

func init() {
	events.Register(events.SinkNATS, func() events.Sink { return &Sink{} })
}
