package registry

import (
	"context"
	"fmt"
	"slices"

	pg "github.com/edgeflare/pgcrud/pkg/pgx"
)

// CatalogOptions restricts which tables LoadCatalog reads.
type CatalogOptions struct {
	// Schema to read; defaults to public.
	Schema string
	// Tables is an allow-list of table names. Empty means every base table.
	Tables []string
	// IndexColumns overrides the lookup column of individual tables.
	IndexColumns map[string]string
}

// LoadCatalog reads table definitions from information_schema. Tables without
// a primary key and without an IndexColumns override are skipped and their
// names returned so the caller can report them.
func LoadCatalog(ctx context.Context, conn pg.Conn, opts CatalogOptions) ([]Table, []string, error) {
	schema := opts.Schema
	if schema == "" {
		schema = "public"
	}

	names, err := queryTables(ctx, conn, schema)
	if err != nil {
		return nil, nil, fmt.Errorf("query tables: %w", err)
	}

	var tables []Table
	var skipped []string
	for _, name := range names {
		if len(opts.Tables) > 0 && !slices.Contains(opts.Tables, name) {
			continue
		}

		cols, err := queryColumns(ctx, conn, schema, name)
		if err != nil {
			return nil, nil, fmt.Errorf("query columns %s.%s: %w", schema, name, err)
		}

		fkeys, err := queryForeignKeys(ctx, conn, schema, name)
		if err != nil {
			return nil, nil, fmt.Errorf("query foreign keys %s.%s: %w", schema, name, err)
		}
		for i := range cols {
			if ref, ok := fkeys[cols[i].Name]; ok {
				cols[i].References = &ref
			}
		}

		t := Table{
			Schema:      schema,
			Name:        name,
			Columns:     cols,
			IndexColumn: opts.IndexColumns[name],
		}
		if t.IndexColumn == "" && !slices.ContainsFunc(cols, func(c Column) bool { return c.PrimaryKey }) {
			skipped = append(skipped, name)
			continue
		}
		tables = append(tables, t)
	}

	return tables, skipped, nil
}

func queryTables(ctx context.Context, conn pg.Conn, schema string) ([]string, error) {
	rows, err := conn.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func queryColumns(ctx context.Context, conn pg.Conn, schema, table string) ([]Column, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			c.column_default IS NOT NULL OR c.is_identity = 'YES' OR c.is_generated = 'ALWAYS',
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = $1
					AND tc.table_name = $2
					AND kcu.column_name = c.column_name
			)
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable, &col.HasDefault, &col.PrimaryKey); err != nil {
			return nil, err
		}
		col.Type = TypeOf(col.DataType)
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func queryForeignKeys(ctx context.Context, conn pg.Conn, schema, table string) (map[string]ForeignKey, error) {
	// conkey and confkey are positionally paired, one entry per column of
	// a (possibly composite) key
	rows, err := conn.Query(ctx, `
		SELECT
			a.attname,
			rt.relname,
			ra.attname
		FROM pg_constraint c
		JOIN pg_class t ON t.oid = c.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_class rt ON rt.oid = c.confrelid
		CROSS JOIN LATERAL unnest(c.conkey, c.confkey) AS k(attnum, fattnum)
		JOIN pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = k.attnum
		JOIN pg_attribute ra ON ra.attrelid = c.confrelid AND ra.attnum = k.fattnum
		WHERE c.contype = 'f'
			AND n.nspname = $1
			AND t.relname = $2`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fkeys := make(map[string]ForeignKey)
	for rows.Next() {
		var column string
		var fk ForeignKey
		if err := rows.Scan(&column, &fk.Table, &fk.Column); err != nil {
			return nil, err
		}
		fkeys[column] = fk
	}
	return fkeys, rows.Err()
}
