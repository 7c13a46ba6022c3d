package rest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/edgeflare/pgcrud/pkg/crud"
	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/edgeflare/pgcrud/pkg/registry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// result is one scripted response of fakeTx.
type result struct {
	cols []string
	rows [][]any
	tag  string
	err  error
}

// fakeDB hands out one scripted transaction per Begin.
type fakeDB struct {
	t          *testing.T
	mu         sync.Mutex
	scripts    [][]result
	txs        []*fakeTx
	beginErr   error
	execErr    error
	statements []string
}

func (db *fakeDB) script(results ...result) *fakeDB {
	db.scripts = append(db.scripts, results)
	return db
}

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	var queue []result
	if len(db.scripts) > 0 {
		queue, db.scripts = db.scripts[0], db.scripts[1:]
	}
	tx := &fakeTx{t: db.t, queue: queue}
	db.txs = append(db.txs, tx)
	return tx, nil
}

func (db *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	db.statements = append(db.statements, sql)
	return pgconn.NewCommandTag("SELECT 1"), db.execErr
}

func (db *fakeDB) tx(i int) *fakeTx {
	require.Greater(db.t, len(db.txs), i)
	return db.txs[i]
}

type fakeTx struct {
	pgx.Tx
	t         *testing.T
	queue     []result
	sqls      []string
	committed bool
	rolled    bool
}

func (f *fakeTx) next(sql string) result {
	f.sqls = append(f.sqls, sql)
	if len(f.queue) == 0 {
		f.t.Fatalf("unexpected statement: %s", sql)
	}
	r := f.queue[0]
	f.queue = f.queue[1:]
	return r
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r := f.next(sql)
	return pgconn.NewCommandTag(r.tag), r.err
}

func (f *fakeTx) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	r := f.next(sql)
	if r.err != nil {
		return nil, r.err
	}
	fields := make([]pgconn.FieldDescription, len(r.cols))
	for i, c := range r.cols {
		fields[i] = pgconn.FieldDescription{Name: c}
	}
	return &fakeRows{fields: fields, data: r.rows}, nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

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

var orderCols = []string{"id", "customer_id", "status", "total"}

func shopService(t *testing.T, pub crud.Publisher) *crud.Service {
	t.Helper()
	reg, err := registry.New(
		registry.Table{
			Name: "customers",
			Columns: []registry.Column{
				{Name: "id", DataType: "integer", PrimaryKey: true, HasDefault: true},
				{Name: "name", DataType: "text"},
			},
		},
		registry.Table{
			Name: "orders",
			Columns: []registry.Column{
				{Name: "id", DataType: "integer", PrimaryKey: true, HasDefault: true},
				{Name: "customer_id", DataType: "integer",
					References: &registry.ForeignKey{Table: "customers", Column: "id"}},
				{Name: "status", DataType: "text"},
				{Name: "total", DataType: "numeric", Nullable: true},
			},
		},
	)
	require.NoError(t, err)
	return crud.NewService(reg, crud.WithLogger(zaptest.NewLogger(t)), crud.WithPublisher(pub), crud.WithEnv("dev"))
}
