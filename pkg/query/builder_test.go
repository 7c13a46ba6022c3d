package query

import (
	"testing"

	"github.com/edgeflare/pgcrud/pkg/registry"
	pg_query "github.com/pganalyze/pg_query_go/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireParses(t *testing.T, sql string) {
	t.Helper()
	_, err := pg_query.Parse(sql)
	require.NoError(t, err, sql)
}

func build(t *testing.T, rawQuery string) Statement {
	t.Helper()
	d, err := parse(t, rawQuery)
	require.NoError(t, err)
	stmt, err := Build(ordersTable(t), d)
	require.NoError(t, err)
	requireParses(t, stmt.SQL)
	return stmt
}

func TestBuildAllColumns(t *testing.T) {
	stmt := build(t, "")
	assert.Equal(t,
		`SELECT "id", "customer_id", "status", "total", "paid", "token", "created_at" FROM "public"."orders" LIMIT 10 OFFSET 0`,
		stmt.SQL)
	assert.Empty(t, stmt.Args)
	assert.Equal(t, ShapeEntity, stmt.Shape)
	assert.Equal(t, []string{"id", "customer_id", "status", "total", "paid", "token", "created_at"}, stmt.Columns)
}

func TestBuildFilterAndOrder(t *testing.T) {
	stmt := build(t, "filter_by=status&filter_value=shipped&order_by=created_at&order_ascending=false")
	assert.Equal(t,
		`SELECT "id", "customer_id", "status", "total", "paid", "token", "created_at" FROM "public"."orders" WHERE "status" = $1 ORDER BY "created_at" DESC LIMIT 10 OFFSET 0`,
		stmt.SQL)
	assert.Equal(t, []any{"shipped"}, stmt.Args)
}

func TestBuildFiltersAreANDedInOrder(t *testing.T) {
	stmt := build(t, "filter_by=status&filter_value=shipped&filter_by=customer_id&filter_value=7&offset=30&limit=15")
	assert.Contains(t, stmt.SQL, `WHERE "status" = $1 AND "customer_id" = $2`)
	assert.Contains(t, stmt.SQL, `LIMIT 15 OFFSET 30`)
	assert.Equal(t, []any{"shipped", int64(7)}, stmt.Args)
}

func TestBuildOrderPrecedence(t *testing.T) {
	stmt := build(t, "order_by=status&order_ascending=true&order_by=created_at&order_ascending=false")
	assert.Contains(t, stmt.SQL, `ORDER BY "status" ASC, "created_at" DESC`)
}

func TestBuildProjection(t *testing.T) {
	stmt := build(t, "column=status&column=id")
	assert.Equal(t, `SELECT "status", "id" FROM "public"."orders" LIMIT 10 OFFSET 0`, stmt.SQL)
	assert.Equal(t, ShapeTuple, stmt.Shape)
	assert.Equal(t, []string{"status", "id"}, stmt.Columns)
}

// Grouping groups by the raw column and projects the aggregate beside it.
func TestBuildGroupsByRawColumn(t *testing.T) {
	stmt := build(t, "column=status&group_by=total&group_aggr=sum&group_by=total&group_aggr=avg")
	assert.Equal(t,
		`SELECT "status", "total", sum("total") AS "total_sum", avg("total") AS "total_avg" FROM "public"."orders" GROUP BY "status", "total" LIMIT 10 OFFSET 0`,
		stmt.SQL)
	assert.Equal(t, ShapeTuple, stmt.Shape)
	assert.Equal(t, []string{"status", "total", "total_sum", "total_avg"}, stmt.Columns)
}

func TestBuildGroupWithoutSelection(t *testing.T) {
	stmt := build(t, "group_by=status&group_aggr=count&order_by=status&order_ascending=true")
	assert.Equal(t,
		`SELECT "status", count("status") AS "status_count" FROM "public"."orders" GROUP BY "status" ORDER BY "status" ASC LIMIT 10 OFFSET 0`,
		stmt.SQL)
}

func TestBuildAggregationExpressions(t *testing.T) {
	tests := map[string]string{
		"count":  `count("total") AS "total_count"`,
		"avg":    `avg("total") AS "total_avg"`,
		"var":    `variance("total") AS "total_var"`,
		"stddev": `stddev("total") AS "total_stddev"`,
		"sum":    `sum("total") AS "total_sum"`,
		"max":    `max("total") AS "total_max"`,
		"min":    `min("total") AS "total_min"`,
		"median": `percentile_cont(0.5) WITHIN GROUP (ORDER BY "total") AS "total_median"`,
		"mode":   `mode() WITHIN GROUP (ORDER BY "total") AS "total_mode"`,
	}
	for agg, want := range tests {
		stmt := build(t, "group_by=total&group_aggr="+agg)
		assert.Contains(t, stmt.SQL, want, agg)
		assert.Contains(t, stmt.SQL, `GROUP BY "total"`, agg)
	}
}

func TestBuildRejectsOrderOnUngroupedColumn(t *testing.T) {
	d, err := parse(t, "group_by=status&group_aggr=count&order_by=created_at&order_ascending=true")
	require.NoError(t, err)
	_, err = Build(ordersTable(t), d)
	assert.ErrorIs(t, err, ErrMalformedQuery)
}

func TestBuildQuotesIdentifiers(t *testing.T) {
	r, err := registry.New(registry.Table{
		Schema: "Sales",
		Name:   `odd"name`,
		Columns: []registry.Column{
			{Name: "id", PrimaryKey: true},
			{Name: "select"},
		},
	})
	require.NoError(t, err)
	odd, err := r.Lookup(`odd"name`)
	require.NoError(t, err)

	stmt, err := Build(odd, &Directives{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "select" FROM "Sales"."odd""name" LIMIT 1 OFFSET 0`, stmt.SQL)
	requireParses(t, stmt.SQL)
}

func TestBuildKeepsQuestionMarksInIdentifiers(t *testing.T) {
	r, err := registry.New(registry.Table{
		Name: "q",
		Columns: []registry.Column{
			{Name: "id", DataType: "integer", PrimaryKey: true},
			{Name: "ok?", DataType: "text"},
		},
	})
	require.NoError(t, err)
	q, err := r.Lookup("q")
	require.NoError(t, err)
	col, err := q.Column("ok?")
	require.NoError(t, err)

	stmt, err := Build(q, &Directives{Filters: []Filter{{Column: col, Value: "yes"}}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "ok?" FROM "public"."q" WHERE "ok?" = $1 LIMIT 1 OFFSET 0`, stmt.SQL)
	assert.Equal(t, []any{"yes"}, stmt.Args)
	requireParses(t, stmt.SQL)

	stmt, err = Build(q, &Directives{Groups: []Group{{Column: col, Aggregation: Count}}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "ok?", count("ok?") AS "ok?_count" FROM "public"."q" GROUP BY "ok?" LIMIT 1 OFFSET 0`, stmt.SQL)

	stmt, err = Update(q, int64(1), map[string]any{"ok?": "no"})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "public"."q" SET "ok?" = $1 WHERE "id" = $2 RETURNING *`, stmt.SQL)
	requireParses(t, stmt.SQL)
}

func TestLookup(t *testing.T) {
	orders := ordersTable(t)
	stmt, err := Lookup(orders, orders.Index(), int64(3))
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `WHERE "id" = $1 LIMIT 2 OFFSET 0`)
	assert.Equal(t, []any{int64(3)}, stmt.Args)
	assert.Equal(t, ShapeEntity, stmt.Shape)
	requireParses(t, stmt.SQL)
}

func TestInsert(t *testing.T) {
	orders := ordersTable(t)
	stmt, err := Insert(orders, map[string]any{"status": "new", "customer_id": int64(7), "total": "9.50"})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "public"."orders" ("customer_id","status","total") VALUES ($1,$2,$3) RETURNING *`,
		stmt.SQL)
	assert.Equal(t, []any{int64(7), "new", "9.50"}, stmt.Args)
	requireParses(t, stmt.SQL)

	stmt, err = Insert(orders, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "public"."orders" DEFAULT VALUES RETURNING *`, stmt.SQL)
	requireParses(t, stmt.SQL)
}

func TestUpdate(t *testing.T) {
	orders := ordersTable(t)
	stmt, err := Update(orders, int64(3), map[string]any{"token": nil, "status": "shipped"})
	require.NoError(t, err)
	assert.Equal(t,
		`UPDATE "public"."orders" SET "status" = $1, "token" = $2 WHERE "id" = $3 RETURNING *`,
		stmt.SQL)
	assert.Equal(t, []any{"shipped", nil, int64(3)}, stmt.Args)
	requireParses(t, stmt.SQL)

	_, err = Update(orders, int64(3), map[string]any{"nope": 1})
	assert.ErrorIs(t, err, registry.ErrUnknownColumn)
}

func TestDelete(t *testing.T) {
	orders := ordersTable(t)
	stmt, err := Delete(orders, int64(3))
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "public"."orders" WHERE "id" = $1`, stmt.SQL)
	assert.Equal(t, []any{int64(3)}, stmt.Args)
	requireParses(t, stmt.SQL)
}
