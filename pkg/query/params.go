package query

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/edgeflare/pgcrud/pkg/registry"
	"github.com/edgeflare/pgcrud/pkg/util"
	"github.com/go-playground/validator/v10"
)

// Query-string keys.
const (
	KeyColumn         = "column"
	KeyFilterBy       = "filter_by"
	KeyFilterValue    = "filter_value"
	KeyOrderBy        = "order_by"
	KeyOrderAscending = "order_ascending"
	KeyGroupBy        = "group_by"
	KeyGroupAggr      = "group_aggr"
	KeyOffset         = "offset"
	KeyLimit          = "limit"
	KeyVerbose        = "verbose"
)

// Limits bounds the page size of list queries.
type Limits struct {
	Default uint64 `mapstructure:"default" validate:"gte=1,ltefield=Max"`
	Max     uint64 `mapstructure:"max" validate:"gte=1"`
}

// DefaultLimits is limit=10, capped at 100.
var DefaultLimits = Limits{Default: 10, Max: 100}

var validate = validator.New()

// Raw holds the untyped query parameters. A nil list means the parameter was
// absent; a non-nil empty list means it was given with no values.
type Raw struct {
	Column         []string
	FilterBy       []string
	FilterValue    []string
	OrderBy        []string
	OrderAscending []string
	GroupBy        []string
	GroupAggr      []string
	Offset         *string
	Limit          *string
	Verbose        bool
}

// FromURL reads Raw from a query string. Repeated keys form lists and a key
// given once with an empty value is the explicit empty list.
func FromURL(v url.Values) Raw {
	list := func(key string) []string {
		vals, ok := v[key]
		if !ok {
			return nil
		}
		if len(vals) == 1 && vals[0] == "" {
			return []string{}
		}
		return vals
	}
	// a lone empty value is a real value when its name list is non-empty,
	// e.g. filter_by=status&filter_value= filters on ''
	values := func(key string, names []string) []string {
		vals := list(key)
		if vals != nil && len(vals) == 0 && len(names) > 0 {
			return []string{""}
		}
		return vals
	}
	scalar := func(key string) *string {
		if !v.Has(key) {
			return nil
		}
		s := v.Get(key)
		return &s
	}

	raw := Raw{
		Column:   list(KeyColumn),
		FilterBy: list(KeyFilterBy),
		OrderBy:  list(KeyOrderBy),
		GroupBy:  list(KeyGroupBy),
		Offset:   scalar(KeyOffset),
		Limit:    scalar(KeyLimit),
	}
	raw.FilterValue = values(KeyFilterValue, raw.FilterBy)
	raw.OrderAscending = values(KeyOrderAscending, raw.OrderBy)
	raw.GroupAggr = values(KeyGroupAggr, raw.GroupBy)
	if vals, ok := v[KeyVerbose]; ok {
		last := vals[len(vals)-1]
		raw.Verbose = last == "" || util.ReadBoolean(last)
	}
	return raw
}

type page struct {
	Offset int64 `validate:"gte=0"`
	Limit  int64 `validate:"gt=0"`
}

// Parse validates raw against t and returns typed directives. It never
// touches the database.
func (raw Raw) Parse(t *registry.Table, limits Limits) (*Directives, error) {
	if limits.Default == 0 || limits.Max == 0 {
		limits = DefaultLimits
	}

	d := &Directives{Verbose: raw.Verbose}
	var err error

	if raw.Column != nil {
		d.Selection = make([]*registry.Column, 0, len(raw.Column))
		for _, name := range raw.Column {
			col, err := t.Column(name)
			if err != nil {
				return nil, &Error{Family: FamilyColumn, Err: err}
			}
			d.Selection = append(d.Selection, col)
		}
	}

	if err = pairs(FamilyFilter, raw.FilterBy, raw.FilterValue); err != nil {
		return nil, err
	}
	for i, name := range raw.FilterBy {
		col, err := t.Column(name)
		if err != nil {
			return nil, &Error{Family: FamilyFilter, Err: err}
		}
		v, err := Coerce(col, raw.FilterValue[i])
		if err != nil {
			return nil, &Error{Family: FamilyFilter, Err: err}
		}
		d.Filters = append(d.Filters, Filter{Column: col, Value: v})
	}

	if err = pairs(FamilyOrder, raw.OrderBy, raw.OrderAscending); err != nil {
		return nil, err
	}
	for i, name := range raw.OrderBy {
		col, err := t.Column(name)
		if err != nil {
			return nil, &Error{Family: FamilyOrder, Err: err}
		}
		dir, err := ParseDirection(raw.OrderAscending[i])
		if err != nil {
			return nil, &Error{Family: FamilyOrder, Err: err}
		}
		d.Orders = append(d.Orders, Order{Column: col, Direction: dir})
	}

	if err = pairs(FamilyGroup, raw.GroupBy, raw.GroupAggr); err != nil {
		return nil, err
	}
	for i, name := range raw.GroupBy {
		col, err := t.Column(name)
		if err != nil {
			return nil, &Error{Family: FamilyGroup, Err: err}
		}
		agg, err := ParseAggregation(raw.GroupAggr[i])
		if err != nil {
			return nil, &Error{Family: FamilyGroup, Err: err}
		}
		d.Groups = append(d.Groups, Group{Column: col, Aggregation: agg})
	}

	if d.Selection != nil && len(d.Selection) == 0 && len(d.Groups) == 0 {
		return nil, malformed(FamilyColumn, "empty column selection")
	}

	p := page{Offset: 0, Limit: int64(limits.Default)}
	if raw.Offset != nil {
		if p.Offset, err = strconv.ParseInt(*raw.Offset, 10, 64); err != nil {
			return nil, malformed(FamilyOffset, "not an integer: %q", *raw.Offset)
		}
	}
	if raw.Limit != nil {
		if p.Limit, err = strconv.ParseInt(*raw.Limit, 10, 64); err != nil {
			return nil, malformed(FamilyLimit, "not an integer: %q", *raw.Limit)
		}
	}
	if err := validate.Struct(p); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			family := FamilyOffset
			if fe.Field() == "Limit" {
				family = FamilyLimit
			}
			return nil, malformed(family, "%v fails %s=%s", fe.Value(), fe.Tag(), fe.Param())
		}
		return nil, &Error{Family: FamilyLimit, Err: err}
	}

	d.Offset = uint64(p.Offset)
	d.Limit = min(uint64(p.Limit), limits.Max)
	return d, nil
}

// pairs checks that two parallel lists can be zipped. Absent and empty lists
// both mean no directive; one side absent while the other has values is an
// arity mismatch.
func pairs(family Family, names, values []string) error {
	if len(names) != len(values) {
		return &Error{Family: family, Err: fmt.Errorf("%w: %d names, %d values", ErrArityMismatch, len(names), len(values))}
	}
	return nil
}
