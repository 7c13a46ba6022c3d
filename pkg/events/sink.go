package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Sink delivers events to one destination.
type Sink interface {
	// Connect initialises the sink from its raw JSON settings.
	Connect(config json.RawMessage, logger *zap.Logger) error
	// Publish delivers one event.
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Predefined sink names.
const (
	SinkDebug   = "debug"
	SinkNATS    = "nats"
	SinkKafka   = "kafka"
	SinkMQTT    = "mqtt"
	SinkWebhook = "webhook"
)

var (
	ErrUnknownSink = errors.New("unknown sink")

	sinksMu sync.RWMutex
	sinks   = make(map[string]func() Sink)
)

// Register makes a sink constructor available under name. It panics on a
// duplicate name.
func Register(name string, factory func() Sink) {
	sinksMu.Lock()
	defer sinksMu.Unlock()
	if _, dup := sinks[name]; dup {
		panic("events: sink registered twice: " + name)
	}
	sinks[name] = factory
}

// Sinks returns the sorted names of the registered sinks.
func Sinks() []string {
	sinksMu.RLock()
	defer sinksMu.RUnlock()
	return slices.Sorted(maps.Keys(sinks))
}

func newSink(name string) (Sink, error) {
	sinksMu.RLock()
	factory, ok := sinks[name]
	sinksMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownSink, name, Sinks())
	}
	return factory(), nil
}
