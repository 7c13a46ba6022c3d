package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/registry"
	"github.com/google/uuid"
)

// Direction of an ORDER BY term.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// ParseDirection maps the boolean-like order_ascending tokens to a direction.
func ParseDirection(token string) (Direction, error) {
	switch strings.ToLower(token) {
	case "true":
		return Ascending, nil
	case "false":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("%w: %q", ErrInvalidDirection, token)
	}
}

// Aggregation is an aggregate function applied to a grouped column.
type Aggregation string

const (
	Count  Aggregation = "count"
	Avg    Aggregation = "avg"
	Var    Aggregation = "var"
	Stddev Aggregation = "stddev"
	Sum    Aggregation = "sum"
	Max    Aggregation = "max"
	Min    Aggregation = "min"
	Median Aggregation = "median"
	Mode   Aggregation = "mode"
)

var aggregations = map[Aggregation]func(col string) string{
	Count:  func(col string) string { return "count(" + col + ")" },
	Avg:    func(col string) string { return "avg(" + col + ")" },
	Var:    func(col string) string { return "variance(" + col + ")" },
	Stddev: func(col string) string { return "stddev(" + col + ")" },
	Sum:    func(col string) string { return "sum(" + col + ")" },
	Max:    func(col string) string { return "max(" + col + ")" },
	Min:    func(col string) string { return "min(" + col + ")" },
	Median: func(col string) string { return "percentile_cont(0.5) WITHIN GROUP (ORDER BY " + col + ")" },
	Mode:   func(col string) string { return "mode() WITHIN GROUP (ORDER BY " + col + ")" },
}

// ParseAggregation accepts one of the nine aggregation names.
func ParseAggregation(token string) (Aggregation, error) {
	a := Aggregation(token)
	if _, ok := aggregations[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidAggregation, token)
	}
	return a, nil
}

// Expr returns the SQL aggregate expression over an already quoted column.
func (a Aggregation) Expr(quotedColumn string) string {
	return aggregations[a](quotedColumn)
}

// Filter is an equality predicate on a column of the queried table.
type Filter struct {
	Column *registry.Column
	Value  any
}

type Order struct {
	Column    *registry.Column
	Direction Direction
}

type Group struct {
	Column      *registry.Column
	Aggregation Aggregation
}

// Alias is the output name of the aggregate, e.g. price_avg.
func (g Group) Alias() string {
	return g.Column.Name + "_" + string(g.Aggregation)
}

// Directives is a validated, typed query over one table.
type Directives struct {
	// Selection is nil when every column is requested.
	Selection []*registry.Column
	Filters   []Filter
	Orders    []Order
	Groups    []Group
	Offset    uint64
	Limit     uint64
	Verbose   bool
}

// Projected reports whether the result is a tuple projection rather than
// whole rows.
func (d *Directives) Projected() bool {
	return d.Selection != nil || len(d.Groups) > 0
}

// Coerce converts a raw string into the Go value bound for col.
func Coerce(col *registry.Column, raw string) (any, error) {
	switch col.Type {
	case registry.TypeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s expects an integer, got %q", col.Name, raw)
		}
		return n, nil
	case registry.TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s expects a boolean, got %q", col.Name, raw)
		}
		return b, nil
	case registry.TypeUUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%s expects a uuid, got %q", col.Name, raw)
		}
		return id.String(), nil
	default:
		return raw, nil
	}
}
