package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/pgcrud/pkg/metrics"
	"go.uber.org/zap"
)

// SinkConfig enables one sink instance.
type SinkConfig struct {
	// Name identifies the instance in logs and metrics.
	Name string `mapstructure:"name" validate:"required"`
	// Sink is the registered sink type, e.g. nats or kafka.
	Sink string `mapstructure:"sink" validate:"required"`
	// Config is passed to Sink.Connect as JSON.
	Config map[string]any `mapstructure:"config"`
}

// Options tunes a Manager.
type Options struct {
	// Buffer is the number of events queued before new ones are dropped.
	Buffer int `mapstructure:"buffer"`
	// ConnectRetries is how many times a failed sink connect is retried.
	ConnectRetries uint64 `mapstructure:"connectRetries"`
	// PublishTimeout bounds delivery of one event to one sink.
	PublishTimeout time.Duration `mapstructure:"publishTimeout"`
}

type namedSink struct {
	name string
	sink Sink
}

// Manager fans committed changes out to every connected sink. Publish never
// blocks the caller; delivery happens on a background goroutine.
type Manager struct {
	logger *zap.Logger
	opts   Options
	sinks  []namedSink
	queue  chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewManager returns a manager with no sinks. Call Init to connect sinks.
func NewManager(logger *zap.Logger, opts Options) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	m := &Manager{
		logger: logger.With(zap.String("component", "events")),
		opts:   opts,
		queue:  make(chan Event, opts.Buffer),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// Init connects every configured sink, retrying with exponential backoff.
// When a sink fails, the sinks connected by this call are closed again.
func (m *Manager) Init(ctx context.Context, configs []SinkConfig) (err error) {
	added := len(m.sinks)
	defer func() {
		if err == nil {
			return
		}
		for _, s := range m.sinks[added:] {
			if cerr := s.sink.Close(); cerr != nil {
				m.logger.Warn("close sink", zap.String("sink", s.name), zap.Error(cerr))
			}
		}
		m.sinks = m.sinks[:added]
	}()

	for _, c := range configs {
		sink, err := newSink(c.Sink)
		if err != nil {
			return fmt.Errorf("sink %s: %w", c.Name, err)
		}

		raw, err := json.Marshal(c.Config)
		if err != nil {
			return fmt.Errorf("marshal config for sink %s: %w", c.Name, err)
		}

		logger := m.logger.With(zap.String("sink", c.Name), zap.String("type", c.Sink))
		connect := func() error {
			err := sink.Connect(raw, logger)
			if err != nil {
				logger.Warn("connect failed", zap.Error(err))
			}
			return err
		}
		b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.opts.ConnectRetries), ctx)
		if err := backoff.Retry(connect, b); err != nil {
			return fmt.Errorf("connect sink %s: %w", c.Name, err)
		}

		logger.Info("sink connected")
		m.Add(c.Name, sink)
	}
	return nil
}

// Add registers an already connected sink. It must be called before the
// first Publish.
func (m *Manager) Add(name string, s Sink) {
	m.sinks = append(m.sinks, namedSink{name: name, sink: s})
}

// Len reports the number of sinks.
func (m *Manager) Len() int {
	return len(m.sinks)
}

// Publish queues e for delivery. When the queue is full the event is dropped
// and counted as a publish error.
func (m *Manager) Publish(_ context.Context, e Event) {
	if len(m.sinks) == 0 {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- e:
	default:
		metrics.PublishErrors.WithLabelValues("queue").Inc()
		m.logger.Warn("event queue full, dropping event",
			zap.String("table", e.Table),
			zap.String("op", string(e.Op)),
			zap.String("id", e.ID.String()))
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for e := range m.queue {
		for _, s := range m.sinks {
			m.deliver(s, e)
		}
	}
}

func (m *Manager) deliver(s namedSink, e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.PublishTimeout)
	defer cancel()

	if err := s.sink.Publish(ctx, e); err != nil {
		metrics.PublishErrors.WithLabelValues(s.name).Inc()
		m.logger.Error("publish failed",
			zap.String("sink", s.name),
			zap.String("table", e.Table),
			zap.String("op", string(e.Op)),
			zap.Error(err))
		return
	}
	metrics.PublishedEvents.WithLabelValues(s.name).Inc()
}

// Close drains the queue, waiting at most until ctx is done, then closes
// every sink.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	select {
	case <-m.done:
	case <-ctx.Done():
		m.logger.Warn("event queue not drained before shutdown")
	}

	var errs []error
	for _, s := range m.sinks {
		if err := s.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
