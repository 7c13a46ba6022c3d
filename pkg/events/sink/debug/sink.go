// Package debug logs every event at info level.
package debug

import (
	"context"
	"encoding/json"

	"github.com/edgeflare/pgcrud/pkg/events"
	"go.uber.org/zap"
)

type Sink struct {
	logger *zap.Logger
}

func (s *Sink) Connect(_ json.RawMessage, logger *zap.Logger) error {
	s.logger = logger
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return nil
}

func (s *Sink) Publish(_ context.Context, e events.Event) error {
	s.logger.Info("change",
		zap.String("id", e.ID.String()),
		zap.String("env", e.Env),
		zap.String("table", e.Table),
		zap.String("op", string(e.Op)),
		zap.String("key", e.Key),
		zap.Any("before", e.Before),
		zap.Any("after", e.After))
	return nil
}

func (s *Sink) Close() error {
	return nil
}

func init() {
	events.Register(events.SinkDebug, func() events.Sink { return &Sink{} })
}
