package query

import (
	"fmt"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/edgeflare/pgcrud/pkg/registry"
	"github.com/jackc/pgx/v5"
)

// Shape tells callers how to read the rows of a Statement.
type Shape int

const (
	// ShapeEntity rows are whole table rows, keyed by column name.
	ShapeEntity Shape = iota
	// ShapeTuple rows are positional values of a projection or grouping.
	ShapeTuple
)

func (s Shape) String() string {
	if s == ShapeTuple {
		return "tuple"
	}
	return "entity"
}

// Statement is a parameterised SQL statement ready to execute.
type Statement struct {
	SQL     string
	Args    []any
	Shape   Shape
	Columns []string // output names, in order
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// escape doubles every ? in quoted identifiers so squirrel's placeholder
// pass leaves them literal.
func escape(ident string) string {
	return strings.ReplaceAll(ident, "?", "??")
}

func colIdent(col *registry.Column) string { return escape(col.Identifier()) }

func tableIdent(t *registry.Table) string { return escape(t.Identifier()) }

func eq(col *registry.Column, v any) sq.Sqlizer {
	return sq.Expr(colIdent(col)+" = ?", v)
}

// Build composes a SELECT over t from d. Filters are ANDed equality
// predicates; ordering follows directive order; LIMIT and OFFSET are always
// present.
//
// With groups, the projection is the selected columns, then each grouped
// column, then agg(column) AS column_agg; GROUP BY lists the selected and
// grouped columns once each.
func Build(t *registry.Table, d *Directives) (Statement, error) {
	var (
		projection []string
		names      []string
		groupBy    []string
		grouped    = map[string]bool{}
	)

	switch {
	case len(d.Groups) > 0:
		addGrouped := func(col *registry.Column) {
			if grouped[col.Name] {
				return
			}
			grouped[col.Name] = true
			projection = append(projection, colIdent(col))
			names = append(names, col.Name)
			groupBy = append(groupBy, colIdent(col))
		}
		for _, col := range d.Selection {
			addGrouped(col)
		}
		for _, g := range d.Groups {
			addGrouped(g.Column)
		}
		for _, g := range d.Groups {
			alias := g.Alias()
			projection = append(projection, g.Aggregation.Expr(colIdent(g.Column))+" AS "+escape(pgx.Identifier{alias}.Sanitize()))
			names = append(names, alias)
		}
	case d.Selection != nil:
		for _, col := range d.Selection {
			projection = append(projection, colIdent(col))
			names = append(names, col.Name)
		}
	default:
		for i := range t.Columns {
			projection = append(projection, colIdent(&t.Columns[i]))
			names = append(names, t.Columns[i].Name)
		}
	}

	b := psql.Select(projection...).From(tableIdent(t))
	for _, f := range d.Filters {
		b = b.Where(eq(f.Column, f.Value))
	}
	if len(groupBy) > 0 {
		b = b.GroupBy(groupBy...)
	}
	for _, o := range d.Orders {
		if len(groupBy) > 0 && !grouped[o.Column.Name] {
			return Statement{}, malformed(FamilyOrder, "%s is not grouped", o.Column.Name)
		}
		b = b.OrderBy(colIdent(o.Column) + " " + o.Direction.String())
	}
	b = b.Limit(d.Limit).Offset(d.Offset)

	sql, args, err := b.ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("build select on %s: %w", t.Name, err)
	}

	shape := ShapeEntity
	if d.Projected() {
		shape = ShapeTuple
	}
	return Statement{SQL: sql, Args: args, Shape: shape, Columns: names}, nil
}

// Lookup selects the whole rows of t where column = value. It fetches at
// most two rows, enough to tell a unique match from an ambiguous one.
func Lookup(t *registry.Table, column *registry.Column, value any) (Statement, error) {
	return Build(t, &Directives{
		Filters: []Filter{{Column: column, Value: value}},
		Limit:   2,
	})
}

// Insert builds INSERT ... RETURNING * with the payload columns in
// definition order.
func Insert(t *registry.Table, payload map[string]any) (Statement, error) {
	var cols []string
	var vals []any
	for i := range t.Columns {
		c := &t.Columns[i]
		if v, ok := payload[c.Name]; ok {
			cols = append(cols, colIdent(c))
			vals = append(vals, v)
		}
	}

	if len(cols) == 0 {
		return Statement{
			SQL:     "INSERT INTO " + t.Identifier() + " DEFAULT VALUES RETURNING *",
			Columns: t.ColumnNames(),
		}, nil
	}

	sql, args, err := psql.Insert(tableIdent(t)).Columns(cols...).Values(vals...).Suffix("RETURNING *").ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("build insert on %s: %w", t.Name, err)
	}
	return Statement{SQL: sql, Args: args, Columns: t.ColumnNames()}, nil
}

// Update builds UPDATE ... SET ... WHERE index = value RETURNING *, setting
// only the payload keys. Nil values set NULL.
func Update(t *registry.Table, index any, payload map[string]any) (Statement, error) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	order := t.ColumnNames()
	slices.SortFunc(keys, func(a, b string) int {
		return slices.Index(order, a) - slices.Index(order, b)
	})

	b := psql.Update(tableIdent(t))
	for _, k := range keys {
		col, err := t.Column(k)
		if err != nil {
			return Statement{}, err
		}
		b = b.Set(colIdent(col), payload[k])
	}

	sql, args, err := b.Where(eq(t.Index(), index)).Suffix("RETURNING *").ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("build update on %s: %w", t.Name, err)
	}
	return Statement{SQL: sql, Args: args, Columns: t.ColumnNames()}, nil
}

// Delete builds DELETE FROM ... WHERE index = value.
func Delete(t *registry.Table, index any) (Statement, error) {
	sql, args, err := psql.Delete(tableIdent(t)).Where(eq(t.Index(), index)).ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("build delete on %s: %w", t.Name, err)
	}
	return Statement{SQL: sql, Args: args}, nil
}
