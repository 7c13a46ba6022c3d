// Package registry holds the table definitions the CRUD layer serves.
//
// A Registry is built once at startup, either from static definitions or from
// the PostgreSQL catalog (see LoadCatalog), and is read-only afterwards. It is
// safe for concurrent use by any number of request handlers.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrUnknownTable      = errors.New("unknown table")
	ErrUnknownColumn     = errors.New("unknown column")
	ErrInvalidForeignKey = errors.New("invalid foreign key")
	ErrUnknownVariant    = errors.New("unknown schema variant")
	ErrInvalidDefinition = errors.New("invalid table definition")
)

// Registry maps table names to their definitions.
type Registry struct {
	tables map[string]*Table
	names  []string

	// fkChecks memoises the lazy foreign-key validation of each table.
	fkChecks map[string]*fkCheck
}

type fkCheck struct {
	once sync.Once
	err  error
}

// New builds a registry from the given definitions. Structural problems local
// to a single table (duplicate names, missing index column, foreign keys on
// undeclared columns) are reported here; cross-table foreign-key targets are
// checked lazily on first use of each table.
func New(tables ...Table) (*Registry, error) {
	r := &Registry{
		tables:   make(map[string]*Table, len(tables)),
		fkChecks: make(map[string]*fkCheck, len(tables)),
	}

	for i := range tables {
		t := tables[i]
		if t.Name == "" {
			return nil, fmt.Errorf("%w: table #%d has no name", ErrInvalidDefinition, i)
		}
		if _, dup := r.tables[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate table %q", ErrInvalidDefinition, t.Name)
		}
		if err := t.init(); err != nil {
			return nil, err
		}
		r.tables[t.Name] = &t
		r.fkChecks[t.Name] = &fkCheck{}
		r.names = append(r.names, t.Name)
	}
	slices.Sort(r.names)

	return r, nil
}

// Lookup returns the definition of the named table. The table's foreign keys
// are validated against the rest of the registry the first time it is looked up.
func (r *Registry) Lookup(name string) (*Table, error) {
	t, ok := r.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	if err := r.checkForeignKeys(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Tables returns the sorted names of every registered table.
func (r *Registry) Tables() []string {
	return slices.Clone(r.names)
}

// Len reports the number of registered tables.
func (r *Registry) Len() int {
	return len(r.tables)
}

// PrimaryKeyColumns returns the primary-key columns of the named table.
func (r *Registry) PrimaryKeyColumns(table string) ([]*Column, error) {
	t, ok := r.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return t.PrimaryKeyColumns(), nil
}

// ForeignKeyColumns returns the foreign-key columns of the named table.
func (r *Registry) ForeignKeyColumns(table string) ([]*Column, error) {
	t, ok := r.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return t.ForeignKeyColumns(), nil
}

// ResolveForeignKeyTarget returns the table and column referenced by
// table.column. It fails with ErrInvalidForeignKey when the column is not a
// declared foreign key, when the target table is not registered, or when the
// target column is not part of the target's primary key.
func (r *Registry) ResolveForeignKeyTarget(table, column string) (*Table, *Column, error) {
	t, ok := r.tables[table]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	col, err := t.Column(column)
	if err != nil {
		return nil, nil, err
	}
	return r.resolve(t, col)
}

func (r *Registry) resolve(t *Table, col *Column) (*Table, *Column, error) {
	if col.References == nil {
		return nil, nil, fmt.Errorf("%w: %s.%s is not a foreign key", ErrInvalidForeignKey, t.Name, col.Name)
	}
	ref := col.References
	target, ok := r.tables[ref.Table]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s.%s references unregistered table %q",
			ErrInvalidForeignKey, t.Name, col.Name, ref.Table)
	}
	targetCol, ok := target.columnIndex[ref.Column]
	if !ok || !targetCol.PrimaryKey {
		return nil, nil, fmt.Errorf("%w: %s.%s references %s.%s which is not part of its primary key",
			ErrInvalidForeignKey, t.Name, col.Name, ref.Table, ref.Column)
	}
	return target, targetCol, nil
}

func (r *Registry) checkForeignKeys(t *Table) error {
	check := r.fkChecks[t.Name]
	check.once.Do(func() {
		var errs []error
		for _, col := range t.foreignKeys {
			if _, _, err := r.resolve(t, col); err != nil {
				errs = append(errs, err)
			}
		}
		check.err = errors.Join(errs...)
	})
	return check.err
}
