package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type recordingSink struct {
	mu         sync.Mutex
	config     map[string]any
	events     []Event
	publishErr error
	connectErr error
	connects   int
	closed     bool
}

func (s *recordingSink) Connect(raw json.RawMessage, _ *zap.Logger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.connectErr != nil {
		return s.connectErr
	}
	return json.Unmarshal(raw, &s.config)
}

func (s *recordingSink) Publish(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.publishErr
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

var testSink = &recordingSink{}

func init() {
	Register("recording", func() Sink { return testSink })
}

func TestManagerDeliversToEverySink(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), Options{})
	a, b := &recordingSink{}, &recordingSink{publishErr: errors.New("down")}
	m.Add("a", a)
	m.Add("b", b)
	require.Equal(t, 2, m.Len())

	first := New(OpCreate, "public", "orders", "1", nil, map[string]any{"id": 1})
	second := New(OpDelete, "public", "orders", "1", map[string]any{"id": 1}, nil)
	m.Publish(context.Background(), first)
	m.Publish(context.Background(), second)

	require.NoError(t, m.Close(context.Background()))

	for _, s := range []*recordingSink{a, b} {
		got := s.received()
		require.Len(t, got, 2)
		assert.Equal(t, first.ID, got[0].ID)
		assert.Equal(t, second.ID, got[1].ID)
		assert.True(t, s.closed)
	}
}

func TestManagerIgnoresPublishAfterClose(t *testing.T) {
	m := NewManager(nil, Options{})
	s := &recordingSink{}
	m.Add("s", s)
	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Close(context.Background()))

	assert.NotPanics(t, func() {
		m.Publish(context.Background(), New(OpCreate, "public", "t", "1", nil, nil))
	})
	assert.Empty(t, s.received())
}

func TestManagerInit(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), Options{ConnectRetries: 0})
	defer m.Close(context.Background())

	err := m.Init(context.Background(), []SinkConfig{
		{Name: "rec", Sink: "recording", Config: map[string]any{"url": "x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, "x", testSink.config["url"])

	err = m.Init(context.Background(), []SinkConfig{{Name: "nope", Sink: "does-not-exist"}})
	assert.ErrorIs(t, err, ErrUnknownSink)
}

func TestManagerInitRetriesConnect(t *testing.T) {
	testSink.mu.Lock()
	testSink.connectErr = errors.New("refused")
	testSink.connects = 0
	testSink.mu.Unlock()
	defer func() {
		testSink.mu.Lock()
		testSink.connectErr = nil
		testSink.mu.Unlock()
	}()

	m := NewManager(zaptest.NewLogger(t), Options{ConnectRetries: 2})
	defer m.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := m.Init(ctx, []SinkConfig{{Name: "rec", Sink: "recording"}})
	require.Error(t, err)
	assert.Equal(t, 3, testSink.connects)
	assert.Zero(t, m.Len())
}

func TestManagerInitClosesConnectedSinksOnFailure(t *testing.T) {
	testSink.mu.Lock()
	testSink.closed = false
	testSink.mu.Unlock()

	m := NewManager(zaptest.NewLogger(t), Options{ConnectRetries: 0})
	defer m.Close(context.Background())

	err := m.Init(context.Background(), []SinkConfig{
		{Name: "rec", Sink: "recording"},
		{Name: "nope", Sink: "does-not-exist"},
	})
	require.ErrorIs(t, err, ErrUnknownSink)
	assert.Zero(t, m.Len())

	testSink.mu.Lock()
	defer testSink.mu.Unlock()
	assert.True(t, testSink.closed)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register("recording", func() Sink { return &recordingSink{} })
	})
	assert.Contains(t, Sinks(), "recording")
}

func TestSubject(t *testing.T) {
	e := New(OpUpdate, "public", "orders", "1", nil, nil)
	assert.Equal(t, "pgcrud.orders.update", e.Subject("pgcrud", "."))

	e.Env = "dev"
	assert.Equal(t, "pgcrud/dev/orders/update", e.Subject("pgcrud", "/"))
	assert.Equal(t, "dev.orders.update", e.Subject("", "."))
}
