package crud

import (
	"context"
	"encoding/json"
	"fmt"

	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/edgeflare/pgcrud/pkg/registry"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// queryEntities runs stmt and returns whole rows keyed by column name.
func queryEntities(ctx context.Context, q pg.Querier, stmt query.Statement) ([]registry.Row, error) {
	rows, err := q.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, classify(err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, classify(err)
	}
	for _, row := range out {
		for k, v := range row {
			row[k] = normalize(v)
		}
	}
	return out, nil
}

// queryTuples runs stmt and returns positional rows.
func queryTuples(ctx context.Context, q pg.Querier, stmt query.Statement) ([][]any, error) {
	rows, err := q.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, classify(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) ([]any, error) {
		values, err := row.Values()
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		return values, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// normalize turns driver values that do not encode sensibly as JSON into
// plain ones.
func normalize(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	default:
		return v
	}
}

// bindValue converts a decoded JSON body value into a value pgx can encode
// for col.
func bindValue(col *registry.Column, v any) (any, error) {
	n, ok := v.(json.Number)
	if !ok {
		return v, nil
	}
	switch col.Type {
	case registry.TypeInteger:
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects an integer, got %s", ErrValidation, col.Name, n)
		}
		return i, nil
	case registry.TypeNumeric, registry.TypeText, registry.TypeUnknown, registry.TypeJSON:
		return n.String(), nil
	default:
		return nil, fmt.Errorf("%w: %s does not accept a number", ErrValidation, col.Name)
	}
}
