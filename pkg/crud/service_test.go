package crud

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/edgeflare/pgcrud/pkg/events"
	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/edgeflare/pgcrud/pkg/registry"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newService(t *testing.T, pub Publisher) *Service {
	return NewService(shopRegistry(t), WithLogger(zaptest.NewLogger(t)), WithPublisher(pub), WithEnv("dev"))
}

func parse(t *testing.T, s *Service, table string, raw query.Raw) *query.Directives {
	t.Helper()
	tbl, err := s.Table(table)
	require.NoError(t, err)
	d, err := raw.Parse(tbl, query.DefaultLimits)
	require.NoError(t, err)
	return d
}

func orderRow(id int32, status string) []any {
	return []any{id, int32(1), status, nil, "12.50", "2024-01-01T00:00:00Z"}
}

func TestRetrieveMany(t *testing.T) {
	s := newService(t, nil)
	tx := newFakeTx(t, result{cols: orderCols, rows: [][]any{orderRow(1, "new"), orderRow(2, "paid")}})

	d := parse(t, s, "orders", query.Raw{FilterBy: []string{"status"}, FilterValue: []string{"new"}})
	res, err := s.RetrieveMany(context.Background(), tx, "orders", d)
	require.NoError(t, err)

	assert.Equal(t, query.ShapeEntity, res.Shape)
	require.Len(t, res.Entities, 2)
	assert.Equal(t, "paid", res.Entities[1]["status"])
	assert.Contains(t, tx.sql(0), `WHERE "status" = $1 LIMIT 10 OFFSET 0`)
	assert.False(t, tx.committed)
}

func TestRetrieveManyEmpty(t *testing.T) {
	s := newService(t, nil)
	tx := newFakeTx(t, result{cols: orderCols})

	res, err := s.RetrieveMany(context.Background(), tx, "orders", nil)
	require.NoError(t, err)
	assert.Zero(t, res.Len())

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(b))
}

func TestRetrieveManyTuples(t *testing.T) {
	s := newService(t, nil)
	tx := newFakeTx(t, result{cols: []string{"status", "total", "total_sum"}, rows: [][]any{{"new", "12.50", "25.00"}, {"paid", "12.50", "12.50"}}})

	d := parse(t, s, "orders", query.Raw{
		Column:    []string{"status"},
		GroupBy:   []string{"total"},
		GroupAggr: []string{"sum"},
		Verbose:   true,
	})
	res, err := s.RetrieveMany(context.Background(), tx, "orders", d)
	require.NoError(t, err)
	assert.Equal(t, query.ShapeTuple, res.Shape)

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `[["new","12.50","25.00"],["paid","12.50","12.50"]]`, string(b))
	assert.Equal(t, []string{"status", "total", "total_sum"}, res.Columns)
	require.Len(t, tx.calls, 1)
}

func TestRetrieveManyVerbose(t *testing.T) {
	s := newService(t, nil)
	tx := newFakeTx(t,
		result{cols: orderCols, rows: [][]any{orderRow(1, "new")}},
		result{cols: customerCols, rows: [][]any{{int32(1), "ada", nil}}},
	)

	d := parse(t, s, "orders", query.Raw{Verbose: true})
	res, err := s.RetrieveMany(context.Background(), tx, "orders", d)
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, registry.Row{"id": int32(1), "name": "ada", "customers": nil}, res.Entities[0]["customers"])
}

func TestRetrieveManyUnknownTable(t *testing.T) {
	s := newService(t, nil)
	_, err := s.RetrieveMany(context.Background(), newFakeTx(t), "invoices", nil)
	assert.ErrorIs(t, err, registry.ErrUnknownTable)
}

func TestUnknownTablesAddNoMetricSeries(t *testing.T) {
	s := newService(t, nil)
	ctx := context.Background()
	ops := testutil.CollectAndCount(metrics.Operations)
	durations := testutil.CollectAndCount(metrics.OperationDuration)

	for i := range 50 {
		table := fmt.Sprintf("junk%d", i)
		_, err := s.RetrieveMany(ctx, nil, table, nil)
		assert.ErrorIs(t, err, registry.ErrUnknownTable)
		_, err = s.RetrieveOne(ctx, nil, table, "1", nil)
		assert.ErrorIs(t, err, registry.ErrUnknownTable)
		_, err = s.Create(ctx, nil, table, map[string]any{})
		assert.ErrorIs(t, err, registry.ErrUnknownTable)
		_, err = s.Update(ctx, nil, table, "1", map[string]any{})
		assert.ErrorIs(t, err, registry.ErrUnknownTable)
		_, err = s.Delete(ctx, nil, table, "1")
		assert.ErrorIs(t, err, registry.ErrUnknownTable)
	}

	assert.Equal(t, ops, testutil.CollectAndCount(metrics.Operations))
	assert.Equal(t, durations, testutil.CollectAndCount(metrics.OperationDuration))
}

func TestRetrieveOne(t *testing.T) {
	s := newService(t, nil)
	d := parse(t, s, "orders", query.Raw{FilterBy: []string{"status"}, FilterValue: []string{"new"}})

	tx := newFakeTx(t, result{cols: orderCols, rows: [][]any{orderRow(7, "new")}})
	res, err := s.RetrieveOne(context.Background(), tx, "orders", "7", d)
	require.NoError(t, err)
	assert.Equal(t, int32(7), res.One().(registry.Row)["id"])
	assert.Contains(t, tx.sql(0), `WHERE "id" = $1 AND "status" = $2 LIMIT 2 OFFSET 0`)
	assert.Equal(t, []any{int64(7), "new"}, tx.calls[0].args)

	tx = newFakeTx(t, result{cols: orderCols})
	_, err = s.RetrieveOne(context.Background(), tx, "orders", "7", d)
	assert.ErrorIs(t, err, ErrNotFound)

	tx = newFakeTx(t, result{cols: orderCols, rows: [][]any{orderRow(7, "new"), orderRow(7, "new")}})
	_, err = s.RetrieveOne(context.Background(), tx, "orders", "7", d)
	assert.ErrorIs(t, err, ErrAmbiguousMatch)

	_, err = s.RetrieveOne(context.Background(), newFakeTx(t), "orders", "seven", d)
	assert.ErrorIs(t, err, query.ErrMalformedQuery)
}

func TestCreate(t *testing.T) {
	pub := &recordingPublisher{}
	s := newService(t, pub)
	tx := newFakeTx(t, result{cols: orderCols, rows: [][]any{orderRow(3, "new")}})

	payload := map[string]any{"customer_id": json.Number("1"), "status": "new", "total": json.Number("12.50")}
	row, err := s.Create(context.Background(), tx, "orders", payload)
	require.NoError(t, err)

	assert.Equal(t, int32(3), row["id"])
	assert.True(t, tx.committed)
	assert.Equal(t, `INSERT INTO "public"."orders" ("customer_id","status","total") VALUES ($1,$2,$3) RETURNING *`, tx.sql(0))
	assert.Equal(t, []any{int64(1), "new", "12.50"}, tx.calls[0].args)

	require.Len(t, pub.events, 1)
	e := pub.events[0]
	assert.Equal(t, events.OpCreate, e.Op)
	assert.Equal(t, "dev", e.Env)
	assert.Equal(t, "orders", e.Table)
	assert.Equal(t, "3", e.Key)
	assert.Nil(t, e.Before)
	assert.Equal(t, row, registry.Row(e.After))
}

func TestCreateValidation(t *testing.T) {
	s := newService(t, nil)
	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"unknown column", map[string]any{"customer_id": 1, "status": "new", "colour": "red"}},
		{"missing required", map[string]any{"customer_id": 1}},
		{"null required", map[string]any{"customer_id": 1, "status": nil}},
		{"fractional integer", map[string]any{"customer_id": json.Number("1.5"), "status": "new"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newFakeTx(t)
			_, err := s.Create(context.Background(), tx, "orders", tt.payload)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, tx.calls)
			assert.False(t, tx.committed)
		})
	}
}

func TestCreateConstraintViolation(t *testing.T) {
	pub := &recordingPublisher{}
	s := newService(t, pub)
	tx := newFakeTx(t, result{err: &pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"}})

	_, err := s.Create(context.Background(), tx, "orders", map[string]any{"customer_id": 99, "status": "new"})
	assert.ErrorIs(t, err, ErrConstraintViolation)
	assert.True(t, tx.rolled)
	assert.False(t, tx.committed)
	assert.Empty(t, pub.events)
}

func TestUpdate(t *testing.T) {
	pub := &recordingPublisher{}
	s := newService(t, pub)
	tx := newFakeTx(t,
		result{cols: orderCols, rows: [][]any{orderRow(5, "new")}},
		result{cols: orderCols, rows: [][]any{{int32(5), int32(1), "paid", nil, "12.50", "2024-01-01T00:00:00Z"}}},
	)

	row, err := s.Update(context.Background(), tx, "orders", "5", map[string]any{"status": "paid", "note": nil})
	require.NoError(t, err)
	assert.Equal(t, "paid", row["status"])
	assert.True(t, tx.committed)
	assert.Equal(t, `UPDATE "public"."orders" SET "status" = $1, "note" = $2 WHERE "id" = $3 RETURNING *`, tx.sql(1))
	assert.Equal(t, []any{"paid", nil, int64(5)}, tx.calls[1].args)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.OpUpdate, pub.events[0].Op)
	assert.Equal(t, "new", pub.events[0].Before["status"])
	assert.Equal(t, "paid", pub.events[0].After["status"])
}

func TestUpdateEmptyPayload(t *testing.T) {
	pub := &recordingPublisher{}
	s := newService(t, pub)
	tx := newFakeTx(t, result{cols: orderCols, rows: [][]any{orderRow(5, "new")}})

	row, err := s.Update(context.Background(), tx, "orders", "5", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "new", row["status"])
	assert.Len(t, tx.calls, 1)
	assert.False(t, tx.committed)
	assert.Empty(t, pub.events)
}

func TestUpdateErrors(t *testing.T) {
	s := newService(t, nil)

	_, err := s.Update(context.Background(), newFakeTx(t, result{cols: orderCols}), "orders", "5", map[string]any{"status": "paid"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Update(context.Background(), newFakeTx(t), "orders", "5", map[string]any{"status": nil})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Update(context.Background(), newFakeTx(t), "orders", "5", map[string]any{"colour": "red"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, registry.ErrUnknownColumn)
}

func TestDelete(t *testing.T) {
	pub := &recordingPublisher{}
	s := newService(t, pub)
	tx := newFakeTx(t,
		result{cols: orderCols, rows: [][]any{orderRow(9, "cancelled")}},
		result{tag: "DELETE 1"},
	)

	row, err := s.Delete(context.Background(), tx, "orders", "9")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", row["status"])
	assert.Equal(t, `DELETE FROM "public"."orders" WHERE "id" = $1`, tx.sql(1))
	assert.True(t, tx.committed)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.OpDelete, pub.events[0].Op)
	assert.Equal(t, "9", pub.events[0].Key)
	assert.Nil(t, pub.events[0].After)
}

func TestDeleteCommitFailure(t *testing.T) {
	pub := &recordingPublisher{}
	s := newService(t, pub)
	tx := newFakeTx(t,
		result{cols: orderCols, rows: [][]any{orderRow(9, "cancelled")}},
		result{tag: "DELETE 1"},
	)
	tx.commitErr = &pgconn.PgError{Code: "57P01", Message: "terminating connection due to administrator command"}

	_, err := s.Delete(context.Background(), tx, "orders", "9")
	assert.ErrorIs(t, err, ErrDatabaseUnavailable)
	assert.True(t, tx.rolled)
	assert.Empty(t, pub.events)
}
