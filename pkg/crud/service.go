package crud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/edgeflare/pgcrud/pkg/registry"
	"go.uber.org/zap"
)

// Publisher receives committed changes.
type Publisher interface {
	Publish(ctx context.Context, e events.Event)
}

// Service executes CRUD operations over the tables of one registry.
type Service struct {
	registry  *registry.Registry
	logger    *zap.Logger
	publisher Publisher
	maxDepth  int
	env       string
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPublisher sends an event for every committed mutation.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMaxDepth bounds verbose expansion.
func WithMaxDepth(depth int) Option {
	return func(s *Service) { s.maxDepth = depth }
}

// WithEnv tags published events with the environment name.
func WithEnv(env string) Option {
	return func(s *Service) { s.env = env }
}

func NewService(reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		logger:   zap.NewNop(),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Table looks up a registered table.
func (s *Service) Table(name string) (*registry.Table, error) {
	return s.registry.Lookup(name)
}

// Result is the outcome of a retrieval. Entities holds whole rows, Tuples
// holds projected or grouped rows; only the one matching Shape is set.
type Result struct {
	Shape    query.Shape
	Columns  []string
	Entities []registry.Row
	Tuples   [][]any
}

// Len reports the number of rows.
func (r *Result) Len() int {
	if r.Shape == query.ShapeTuple {
		return len(r.Tuples)
	}
	return len(r.Entities)
}

// One returns the first row as a JSON object or array.
func (r *Result) One() any {
	if r.Len() == 0 {
		return nil
	}
	if r.Shape == query.ShapeTuple {
		return r.Tuples[0]
	}
	return r.Entities[0]
}

// MarshalJSON encodes entities as an array of objects and tuples as an
// array of arrays. An empty result is [].
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.Shape == query.ShapeTuple {
		if r.Tuples == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(r.Tuples)
	}
	if r.Entities == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Entities)
}

// RetrieveMany runs d against table. Entity rows are serialized with the
// flat variant, or the verbose one when d.Verbose is set; tuple rows are
// returned as produced. An empty result is not an error.
func (s *Service) RetrieveMany(ctx context.Context, tx Tx, table string, d *query.Directives) (res *Result, err error) {
	start := time.Now()
	t, err := s.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	defer func() { metrics.ObserveOperation(t.Name, "list", start, err) }()
	if d == nil {
		d = &query.Directives{Limit: query.DefaultLimits.Default}
	}
	return s.retrieve(ctx, tx, t, d)
}

// RetrieveOne returns the single row of table whose index column equals
// index and which also satisfies the filters of d. No match is ErrNotFound;
// more than one is ErrAmbiguousMatch.
func (s *Service) RetrieveOne(ctx context.Context, tx Tx, table, index string, d *query.Directives) (res *Result, err error) {
	start := time.Now()
	t, err := s.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	defer func() { metrics.ObserveOperation(t.Name, "get", start, err) }()
	key, err := indexValue(t, index)
	if err != nil {
		return nil, err
	}

	var one query.Directives
	if d != nil {
		one = *d
	}
	one.Filters = append([]query.Filter{{Column: t.Index(), Value: key}}, one.Filters...)
	one.Offset, one.Limit = 0, 2

	res, err = s.retrieve(ctx, tx, t, &one)
	if err != nil {
		return nil, err
	}
	switch res.Len() {
	case 0:
		return nil, fmt.Errorf("%w: %s %s=%s", ErrNotFound, t.Name, t.IndexColumn, index)
	case 1:
		return res, nil
	default:
		return nil, fmt.Errorf("%w: %s %s=%s", ErrAmbiguousMatch, t.Name, t.IndexColumn, index)
	}
}

func (s *Service) retrieve(ctx context.Context, tx Tx, t *registry.Table, d *query.Directives) (*Result, error) {
	stmt, err := query.Build(t, d)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("query", zap.String("table", t.Name), zap.String("sql", stmt.SQL), zap.Any("args", stmt.Args))

	res := &Result{Shape: stmt.Shape, Columns: stmt.Columns}
	if stmt.Shape == query.ShapeTuple {
		res.Tuples, err = queryTuples(ctx, tx, stmt)
		return res, err
	}

	rows, err := queryEntities(ctx, tx, stmt)
	if err != nil {
		return nil, err
	}
	variant := registry.VariantTable
	var x registry.Expander
	if d.Verbose {
		variant = registry.VariantVerbose
		x = NewExpander(s.registry, tx, s.maxDepth)
	}
	res.Entities = make([]registry.Row, 0, len(rows))
	for _, row := range rows {
		out, err := t.Serialize(ctx, variant, x, row)
		if err != nil {
			return nil, err
		}
		res.Entities = append(res.Entities, out)
	}
	return res, nil
}

// Create inserts payload into table and commits. Keys must be declared
// columns; every column that is neither nullable nor server generated must
// be present and non-null.
func (s *Service) Create(ctx context.Context, tx Tx, table string, payload map[string]any) (row registry.Row, err error) {
	start := time.Now()
	t, err := s.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	defer func() { metrics.ObserveOperation(t.Name, "create", start, err) }()
	values, err := bindPayload(t, payload)
	if err != nil {
		return nil, err
	}
	for i := range t.Columns {
		col := &t.Columns[i]
		if col.Required() && values[col.Name] == nil {
			return nil, fmt.Errorf("%w: %s.%s is required", ErrValidation, t.Name, col.Name)
		}
	}

	stmt, err := query.Insert(t, values)
	if err != nil {
		return nil, err
	}
	after, err := s.mutate(ctx, tx, t, stmt)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, tx); err != nil {
		return nil, err
	}

	out, err := t.Serialize(ctx, registry.VariantTable, nil, after)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.OpCreate, t, nil, out)
	return out, nil
}

// Update sets the payload columns of the row of table identified by index
// and commits. Only present keys change; an explicit null clears a nullable
// column. An empty payload changes nothing and returns the current row.
func (s *Service) Update(ctx context.Context, tx Tx, table, index string, payload map[string]any) (row registry.Row, err error) {
	start := time.Now()
	t, err := s.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	defer func() { metrics.ObserveOperation(t.Name, "update", start, err) }()
	key, err := indexValue(t, index)
	if err != nil {
		return nil, err
	}
	values, err := bindPayload(t, payload)
	if err != nil {
		return nil, err
	}
	for name, v := range values {
		if col, _ := t.Column(name); v == nil && !col.Nullable {
			return nil, fmt.Errorf("%w: %s.%s cannot be null", ErrValidation, t.Name, name)
		}
	}

	before, err := s.one(ctx, tx, t, key, index)
	if err != nil {
		return nil, err
	}
	beforeOut, err := t.Serialize(ctx, registry.VariantTable, nil, before)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return beforeOut, nil
	}

	stmt, err := query.Update(t, key, values)
	if err != nil {
		return nil, err
	}
	after, err := s.mutate(ctx, tx, t, stmt)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, tx); err != nil {
		return nil, err
	}

	out, err := t.Serialize(ctx, registry.VariantTable, nil, after)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.OpUpdate, t, beforeOut, out)
	return out, nil
}

// Delete removes the row of table identified by index, commits, and returns
// the row as it was before deletion.
func (s *Service) Delete(ctx context.Context, tx Tx, table, index string) (row registry.Row, err error) {
	start := time.Now()
	t, err := s.registry.Lookup(table)
	if err != nil {
		return nil, err
	}
	defer func() { metrics.ObserveOperation(t.Name, "delete", start, err) }()
	key, err := indexValue(t, index)
	if err != nil {
		return nil, err
	}

	before, err := s.one(ctx, tx, t, key, index)
	if err != nil {
		return nil, err
	}

	stmt, err := query.Delete(t, key)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("exec", zap.String("table", t.Name), zap.String("sql", stmt.SQL), zap.Any("args", stmt.Args))
	if _, err := tx.Exec(ctx, stmt.SQL, stmt.Args...); err != nil {
		return nil, s.abort(ctx, tx, classify(err))
	}
	if err := s.commit(ctx, tx); err != nil {
		return nil, err
	}

	out, err := t.Serialize(ctx, registry.VariantTable, nil, before)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.OpDelete, t, out, nil)
	return out, nil
}

// one fetches the whole row of t whose index equals key.
func (s *Service) one(ctx context.Context, tx Tx, t *registry.Table, key any, index string) (registry.Row, error) {
	stmt, err := query.Lookup(t, t.Index(), key)
	if err != nil {
		return nil, err
	}
	rows, err := queryEntities(ctx, tx, stmt)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("%w: %s %s=%s", ErrNotFound, t.Name, t.IndexColumn, index)
	case 1:
		return rows[0], nil
	default:
		return nil, fmt.Errorf("%w: %s %s=%s", ErrAmbiguousMatch, t.Name, t.IndexColumn, index)
	}
}

// mutate runs an INSERT or UPDATE ... RETURNING * and returns the one row
// it produced. Any failure rolls tx back.
func (s *Service) mutate(ctx context.Context, tx Tx, t *registry.Table, stmt query.Statement) (registry.Row, error) {
	s.logger.Debug("exec", zap.String("table", t.Name), zap.String("sql", stmt.SQL), zap.Any("args", stmt.Args))
	rows, err := queryEntities(ctx, tx, stmt)
	if err != nil {
		return nil, s.abort(ctx, tx, err)
	}
	if len(rows) != 1 {
		return nil, s.abort(ctx, tx, fmt.Errorf("%w: %s returned %d rows", ErrAmbiguousMatch, t.Name, len(rows)))
	}
	return rows[0], nil
}

func (s *Service) commit(ctx context.Context, tx Tx) error {
	if err := tx.Commit(ctx); err != nil {
		return s.abort(ctx, tx, classify(err))
	}
	return nil
}

// abort rolls tx back and returns err.
func (s *Service) abort(ctx context.Context, tx Tx, err error) error {
	if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
		s.logger.Warn("rollback failed", zap.Error(rbErr), zap.NamedError("cause", err))
	}
	return err
}

func (s *Service) publish(ctx context.Context, op events.Op, t *registry.Table, before, after registry.Row) {
	if s.publisher == nil {
		return
	}
	src := after
	if src == nil {
		src = before
	}
	e := events.New(op, t.Schema, t.Name, fmt.Sprint(src[t.IndexColumn]), before, after)
	e.Env = s.env
	s.publisher.Publish(ctx, e)
}

// indexValue coerces a raw index path segment to the index column's type.
func indexValue(t *registry.Table, raw string) (any, error) {
	v, err := query.Coerce(t.Index(), raw)
	if err != nil {
		return nil, &query.Error{Family: query.FamilyIndex, Err: err}
	}
	return v, nil
}

// bindPayload checks that every key of payload is a declared column and
// converts JSON numbers for binding.
func bindPayload(t *registry.Table, payload map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(payload))
	var errs []error
	for k, v := range payload {
		col, err := t.Column(k)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrValidation, err))
			continue
		}
		if values[k], err = bindValue(col, v); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return values, nil
}
