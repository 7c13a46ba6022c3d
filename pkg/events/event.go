// Package events publishes row changes to external sinks after the
// transaction that made them has committed.
//
// Sinks register themselves by name, the way database/sql drivers do:
//
//	import _ "github.com/edgeflare/pgcrud/pkg/events/sink/nats"
//
// and are then enabled from configuration.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Op is the kind of change.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event describes one committed change to one row.
type Event struct {
	ID     uuid.UUID      `json:"id"`
	Env    string         `json:"env,omitempty"`
	Schema string         `json:"schema"`
	Table  string         `json:"table"`
	Op     Op             `json:"op"`
	Key    string         `json:"key"`
	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`
	Time   time.Time      `json:"ts"`
}

// New returns an event with a fresh id and the current time.
func New(op Op, schema, table, key string, before, after map[string]any) Event {
	return Event{
		ID:     uuid.New(),
		Schema: schema,
		Table:  table,
		Op:     op,
		Key:    key,
		Before: before,
		After:  after,
		Time:   time.Now().UTC(),
	}
}

// Subject joins prefix, env, table and op with sep, skipping empty parts,
// e.g. pgcrud.dev.orders.create.
func (e Event) Subject(prefix, sep string) string {
	s := prefix
	for _, part := range []string{e.Env, e.Table, string(e.Op)} {
		if part == "" {
			continue
		}
		if s != "" {
			s += sep
		}
		s += part
	}
	return s
}
