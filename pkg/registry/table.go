package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ColumnType is the semantic type of a column, used to coerce raw query
// values and to describe the column in generated documents.
type ColumnType string

const (
	TypeUnknown ColumnType = "unknown"
	TypeText    ColumnType = "text"
	TypeInteger ColumnType = "integer"
	TypeNumeric ColumnType = "numeric"
	TypeBool    ColumnType = "bool"
	TypeTime    ColumnType = "time"
	TypeUUID    ColumnType = "uuid"
	TypeJSON    ColumnType = "json"
)

// TypeOf maps a PostgreSQL data type name (as reported by
// information_schema.columns.data_type) to a semantic type.
func TypeOf(dataType string) ColumnType {
	d := strings.ToLower(dataType)
	switch {
	case strings.Contains(d, "range"), strings.Contains(d, "interval"):
		return TypeText
	case strings.Contains(d, "point"):
		return TypeUnknown
	case strings.Contains(d, "int"), strings.HasSuffix(d, "serial"):
		return TypeInteger
	case strings.Contains(d, "numeric"), strings.Contains(d, "decimal"),
		strings.Contains(d, "real"), strings.Contains(d, "double"), strings.Contains(d, "money"):
		return TypeNumeric
	case strings.Contains(d, "bool"):
		return TypeBool
	case strings.Contains(d, "time"), strings.Contains(d, "date"):
		return TypeTime
	case strings.Contains(d, "uuid"):
		return TypeUUID
	case strings.Contains(d, "json"):
		return TypeJSON
	case strings.Contains(d, "char"), strings.Contains(d, "text"):
		return TypeText
	default:
		return TypeUnknown
	}
}

// ForeignKey names the table and column a foreign-key column references.
type ForeignKey struct {
	Table  string `json:"table" mapstructure:"table" validate:"required"`
	Column string `json:"column" mapstructure:"column" validate:"required"`
}

type Column struct {
	Name       string      `json:"name" mapstructure:"name" validate:"required"`
	DataType   string      `json:"data_type" mapstructure:"dataType"`
	Type       ColumnType  `json:"type" mapstructure:"type"`
	Nullable   bool        `json:"nullable" mapstructure:"nullable"`
	HasDefault bool        `json:"has_default" mapstructure:"hasDefault"`
	PrimaryKey bool        `json:"primary_key" mapstructure:"primaryKey"`
	References *ForeignKey `json:"references,omitempty" mapstructure:"references"`
}

// IsForeignKey reports whether the column references another table.
func (c *Column) IsForeignKey() bool {
	return c.References != nil
}

// Required reports whether a value must be supplied on insert.
func (c *Column) Required() bool {
	return !c.Nullable && !c.HasDefault
}

// Identifier returns the quoted column identifier.
func (c *Column) Identifier() string {
	return pgx.Identifier{c.Name}.Sanitize()
}

// Row is one retrieved record keyed by column name.
type Row = map[string]any

// Variant names an output shape of a table.
type Variant string

const (
	// VariantTable is the flat shape: every declared column, as stored.
	VariantTable Variant = "table"
	// VariantConcise is reserved; no table registers it yet.
	VariantConcise Variant = "concise"
	// VariantVerbose replaces each foreign key with the referenced row.
	VariantVerbose Variant = "verbose"
)

// Expander resolves the foreign keys of a row into nested documents.
type Expander interface {
	Expand(ctx context.Context, t *Table, row Row) (Row, error)
}

// SerializeFunc shapes a retrieved row into one output variant.
type SerializeFunc func(ctx context.Context, x Expander, t *Table, row Row) (Row, error)

// Table is the definition of one registered table.
type Table struct {
	Schema      string   `json:"schema" mapstructure:"schema"`
	Name        string   `json:"name" mapstructure:"name" validate:"required"`
	Columns     []Column `json:"columns" mapstructure:"columns" validate:"required,min=1,dive"`
	IndexColumn string   `json:"index_column" mapstructure:"indexColumn"`

	Variants map[Variant]SerializeFunc `json:"-" mapstructure:"-"`

	columnIndex map[string]*Column
	primaryKeys []*Column
	foreignKeys []*Column
}

func (t *Table) init() error {
	if t.Schema == "" {
		t.Schema = "public"
	}

	// copy so the registry never shares column storage with the caller
	cols := make([]Column, len(t.Columns))
	copy(cols, t.Columns)
	t.Columns = cols

	t.columnIndex = make(map[string]*Column, len(t.Columns))
	t.primaryKeys = nil
	t.foreignKeys = nil
	for i := range t.Columns {
		c := &t.Columns[i]
		if c.Name == "" {
			return fmt.Errorf("%w: %s has an unnamed column", ErrInvalidDefinition, t.Name)
		}
		if _, dup := t.columnIndex[c.Name]; dup {
			return fmt.Errorf("%w: %s has duplicate column %q", ErrInvalidDefinition, t.Name, c.Name)
		}
		if c.Type == "" {
			c.Type = TypeOf(c.DataType)
		}
		t.columnIndex[c.Name] = c
		if c.PrimaryKey {
			t.primaryKeys = append(t.primaryKeys, c)
		}
		if c.References != nil {
			t.foreignKeys = append(t.foreignKeys, c)
		}
	}

	if t.IndexColumn == "" && len(t.primaryKeys) > 0 {
		t.IndexColumn = t.primaryKeys[0].Name
	}
	if t.IndexColumn == "" {
		return fmt.Errorf("%w: %s has no primary key and no index column", ErrInvalidDefinition, t.Name)
	}
	if _, ok := t.columnIndex[t.IndexColumn]; !ok {
		return fmt.Errorf("%w: %s index column %q is not declared", ErrInvalidDefinition, t.Name, t.IndexColumn)
	}

	variants := map[Variant]SerializeFunc{
		VariantTable:   SerializeFlat,
		VariantVerbose: SerializeVerbose,
	}
	for v, fn := range t.Variants {
		variants[v] = fn
	}
	t.Variants = variants
	return nil
}

// Column returns the named column or ErrUnknownColumn.
func (t *Table) Column(name string) (*Column, error) {
	c, ok := t.columnIndex[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, name)
	}
	return c, nil
}

// HasColumn reports whether name is a declared column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.columnIndex[name]
	return ok
}

// Index returns the column used for single-value lookups.
func (t *Table) Index() *Column {
	return t.columnIndex[t.IndexColumn]
}

func (t *Table) PrimaryKeyColumns() []*Column { return t.primaryKeys }

func (t *Table) ForeignKeyColumns() []*Column { return t.foreignKeys }

// ColumnNames returns the declared column names in definition order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i := range t.Columns {
		names[i] = t.Columns[i].Name
	}
	return names
}

// Identifier returns the quoted, schema-qualified table identifier.
func (t *Table) Identifier() string {
	return pgx.Identifier{t.Schema, t.Name}.Sanitize()
}

func (t *Table) FullName() string {
	return fmt.Sprintf("%s.%s", t.Schema, t.Name)
}

// Serialize shapes row with the serializer registered for variant.
func (t *Table) Serialize(ctx context.Context, variant Variant, x Expander, row Row) (Row, error) {
	fn, ok := t.Variants[variant]
	if !ok || fn == nil {
		return nil, fmt.Errorf("%w: %s has no %q variant", ErrUnknownVariant, t.Name, variant)
	}
	return fn(ctx, x, t, row)
}

// SerializeFlat keeps every declared column of row and drops anything else.
func SerializeFlat(_ context.Context, _ Expander, t *Table, row Row) (Row, error) {
	out := make(Row, len(t.Columns))
	for i := range t.Columns {
		name := t.Columns[i].Name
		if v, ok := row[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

// SerializeVerbose delegates to the expander.
func SerializeVerbose(ctx context.Context, x Expander, t *Table, row Row) (Row, error) {
	if x == nil {
		return nil, fmt.Errorf("%w: %s verbose variant needs an expander", ErrUnknownVariant, t.Name)
	}
	return x.Expand(ctx, t, row)
}
