package crud

import (
	"context"
	"fmt"

	"github.com/edgeflare/pgcrud/pkg/metrics"
	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/edgeflare/pgcrud/pkg/registry"
)

// DefaultMaxDepth bounds how many references deep verbose expansion goes.
const DefaultMaxDepth = 16

type visit struct {
	table string
	index string
}

// Expander replaces each foreign key of a row with the row it references,
// recursively. It reads through one transaction and keeps the chain of rows
// currently being expanded, so it must not be shared between goroutines.
type Expander struct {
	registry *registry.Registry
	q        pg.Querier
	maxDepth int
	path     map[visit]struct{}
}

// NewExpander returns an expander reading through q. A maxDepth of zero or
// less means DefaultMaxDepth.
func NewExpander(reg *registry.Registry, q pg.Querier, maxDepth int) *Expander {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Expander{
		registry: reg,
		q:        q,
		maxDepth: maxDepth,
		path:     make(map[visit]struct{}),
	}
}

// Expand returns a copy of row in which every foreign-key column is replaced
// by the referenced row, itself expanded. The nested document is keyed by the
// target table name, or by the column name when that would be ambiguous. A
// NULL reference yields a nil nested value without a lookup.
func (x *Expander) Expand(ctx context.Context, t *registry.Table, row registry.Row) (registry.Row, error) {
	key := visit{table: t.Name, index: fmt.Sprint(row[t.IndexColumn])}
	if _, seen := x.path[key]; seen {
		return nil, fmt.Errorf("%w: %s %s=%s is already being expanded", ErrCyclicReference, t.Name, t.IndexColumn, key.index)
	}
	if len(x.path) >= x.maxDepth {
		return nil, fmt.Errorf("%w: expansion deeper than %d at %s", ErrCyclicReference, x.maxDepth, t.Name)
	}
	x.path[key] = struct{}{}
	defer delete(x.path, key)

	out := make(registry.Row, len(t.Columns))
	for i := range t.Columns {
		col := &t.Columns[i]
		v, ok := row[col.Name]
		if !ok {
			continue
		}
		if !col.IsForeignKey() {
			out[col.Name] = v
			continue
		}

		target, targetCol, err := x.registry.ResolveForeignKeyTarget(t.Name, col.Name)
		if err != nil {
			return nil, err
		}
		name := nestedKey(t, col)
		if v == nil {
			out[name] = nil
			continue
		}

		nested, err := x.lookup(ctx, target, targetCol, v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, col.Name, err)
		}
		if out[name], err = target.Serialize(ctx, registry.VariantVerbose, x, nested); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (x *Expander) lookup(ctx context.Context, t *registry.Table, col *registry.Column, value any) (registry.Row, error) {
	stmt, err := query.Lookup(t, col, value)
	if err != nil {
		return nil, err
	}
	metrics.VerboseLookups.WithLabelValues(t.Name).Inc()

	rows, err := queryEntities(ctx, x.q, stmt)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("%w: no %s with %s=%v", ErrReferencedRowMissing, t.Name, col.Name, value)
	case 1:
		return rows[0], nil
	default:
		return nil, fmt.Errorf("%w: %s has several rows with %s=%v", ErrAmbiguousReference, t.Name, col.Name, value)
	}
}

// nestedKey is the target table name unless the table already has a column
// of that name or several of its foreign keys point at the same table.
func nestedKey(t *registry.Table, col *registry.Column) string {
	target := col.References.Table
	if t.HasColumn(target) {
		return col.Name
	}
	for _, other := range t.ForeignKeyColumns() {
		if other != col && other.References.Table == target {
			return col.Name
		}
	}
	return target
}
