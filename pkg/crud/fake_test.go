package crud

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/edgeflare/pgcrud/pkg/registry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// result is one scripted response of fakeTx.
type result struct {
	cols []string
	rows [][]any
	tag  string
	err  error
}

type call struct {
	sql  string
	args []any
}

// fakeTx answers queries from a queue of scripted results, in order.
type fakeTx struct {
	t         *testing.T
	queue     []result
	calls     []call
	commitErr error
	committed bool
	rolled    bool
}

func newFakeTx(t *testing.T, results ...result) *fakeTx {
	return &fakeTx{t: t, queue: results}
}

func (f *fakeTx) next(sql string, args []any) result {
	f.calls = append(f.calls, call{sql: sql, args: args})
	if len(f.queue) == 0 {
		f.t.Fatalf("unexpected statement: %s %v", sql, args)
	}
	r := f.queue[0]
	f.queue = f.queue[1:]
	return r
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r := f.next(sql, args)
	return pgconn.NewCommandTag(r.tag), r.err
}

func (f *fakeTx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	r := f.next(sql, args)
	if r.err != nil {
		return nil, r.err
	}
	fields := make([]pgconn.FieldDescription, len(r.cols))
	for i, c := range r.cols {
		fields[i] = pgconn.FieldDescription{Name: c}
	}
	return &fakeRows{fields: fields, data: r.rows}, nil
}

func (f *fakeTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.next(sql, args)
	return errRow{}
}

func (f *fakeTx) Commit(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) sql(i int) string {
	require.Greater(f.t, len(f.calls), i)
	return f.calls[i].sql
}

type errRow struct{}

func (errRow) Scan(...any) error { return errors.New("not supported") }

type fakeRows struct {
	fields []pgconn.FieldDescription
	data   [][]any
	i      int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.i < len(r.data) {
		r.i++
		return true
	}
	return false
}

// Scan supports only pgx.RowScanner destinations, which is what
// pgx.RowToMap passes.
func (r *fakeRows) Scan(dest ...any) error {
	if len(dest) == 1 {
		if rs, ok := dest[0].(pgx.RowScanner); ok {
			return rs.ScanRow(r)
		}
	}
	return errors.New("not supported")
}

func (r *fakeRows) Values() ([]any, error) {
	return slices.Clone(r.data[r.i-1]), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

var (
	customerCols = []string{"id", "name", "referrer_id"}
	orderCols    = []string{"id", "customer_id", "status", "note", "total", "created_at"}
)

// shopRegistry has customers, which may refer to another customer, and
// orders, which belong to a customer.
func shopRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(
		registry.Table{
			Name: "customers",
			Columns: []registry.Column{
				{Name: "id", DataType: "integer", PrimaryKey: true, HasDefault: true},
				{Name: "name", DataType: "text"},
				{Name: "referrer_id", DataType: "integer", Nullable: true,
					References: &registry.ForeignKey{Table: "customers", Column: "id"}},
			},
		},
		registry.Table{
			Name: "orders",
			Columns: []registry.Column{
				{Name: "id", DataType: "integer", PrimaryKey: true, HasDefault: true},
				{Name: "customer_id", DataType: "integer",
					References: &registry.ForeignKey{Table: "customers", Column: "id"}},
				{Name: "status", DataType: "text"},
				{Name: "note", DataType: "text", Nullable: true},
				{Name: "total", DataType: "numeric", Nullable: true},
				{Name: "created_at", DataType: "timestamp with time zone", HasDefault: true},
			},
		},
	)
	require.NoError(t, err)
	return reg
}
