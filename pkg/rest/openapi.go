package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/query"
	"github.com/edgeflare/pgcrud/pkg/registry"
)

func (s *Server) openAPI(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, s.OpenAPI())
}

// OpenAPI describes the routes of s as an OpenAPI 3.1 document. Table paths
// are listed only when CRUD routes are mounted.
func (s *Server) OpenAPI() map[string]any {
	paths := map[string]any{
		"/health-check": map[string]any{
			"get": map[string]any{
				"summary": "Check the database connection",
				"responses": map[string]any{
					"200": jsonResponse("Connection status", ref("Health")),
				},
				"tags": []string{"health"},
			},
		},
	}
	schemas := map[string]any{
		"Health": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"Status":   map[string]any{"type": "string", "enum": []string{"Success", "Failed"}},
				"Detail":   map[string]any{"type": "string"},
				"Host":     map[string]any{"type": "string"},
				"Database": map[string]any{"type": "string"},
				"Query":    map[string]any{"type": "object", "additionalProperties": map[string]string{"type": "string"}},
			},
			"required": []string{"Status", "Detail"},
		},
		"Error": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
				"code":    map[string]any{"type": "integer"},
			},
		},
	}

	if s.crud {
		reg := s.svc.Registry()
		for _, name := range reg.Tables() {
			t, err := reg.Lookup(name)
			if err != nil {
				// tables with dangling foreign keys are unusable, leave them out
				continue
			}
			paths["/"+t.Name] = createOperation(t)
			paths["/"+t.Name+"/list"] = listOperation(t)
			paths["/"+t.Name+"/{index}"] = recordOperations(t)
			schemas[t.Name] = tableSchema(t)
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   fmt.Sprintf("pgcrud %s", s.name),
			"version": "1.0.0",
		},
		"servers": []map[string]any{
			{"url": s.prefix, "description": s.name},
		},
		"paths":      paths,
		"components": map[string]any{"schemas": schemas},
	}
}

func ref(name string) map[string]string {
	return map[string]string{"$ref": "#/components/schemas/" + name}
}

func jsonResponse(description string, schema any) map[string]any {
	return map[string]any{
		"description": description,
		"content": map[string]any{
			"application/json": map[string]any{"schema": schema},
		},
	}
}

func errorResponses(codes ...int) map[string]any {
	out := make(map[string]any, len(codes))
	for _, c := range codes {
		out[fmt.Sprint(c)] = jsonResponse(http.StatusText(c), ref("Error"))
	}
	return out
}

func withResponses(base map[string]any, codes ...int) map[string]any {
	for k, v := range errorResponses(codes...) {
		base[k] = v
	}
	return base
}

func listOperation(t *registry.Table) map[string]any {
	list := func(name, description string, items map[string]any) map[string]any {
		return map[string]any{
			"name":        name,
			"in":          "query",
			"description": description,
			"schema":      map[string]any{"type": "array", "items": items},
			"style":       "form",
			"explode":     true,
		}
	}
	columns := map[string]any{"type": "string", "enum": t.ColumnNames()}
	var aggregations []string
	for _, a := range []query.Aggregation{
		query.Count, query.Avg, query.Var, query.Stddev, query.Sum,
		query.Max, query.Min, query.Median, query.Mode,
	} {
		aggregations = append(aggregations, string(a))
	}

	params := []map[string]any{
		list(query.KeyColumn, "Columns to project; the response becomes a list of tuples", columns),
		list(query.KeyFilterBy, "Columns to filter on, paired with filter_value", columns),
		list(query.KeyFilterValue, "Equality values, paired with filter_by", map[string]any{"type": "string"}),
		list(query.KeyOrderBy, "Columns to order by, paired with order_ascending", columns),
		list(query.KeyOrderAscending, "true for ascending, false for descending", map[string]any{"type": "boolean"}),
		list(query.KeyGroupBy, "Columns to group on, paired with group_aggr", columns),
		list(query.KeyGroupAggr, "Aggregation projected per grouped column", map[string]any{"type": "string", "enum": aggregations}),
		{"name": query.KeyOffset, "in": "query", "schema": map[string]any{"type": "integer", "minimum": 0}},
		{"name": query.KeyLimit, "in": "query", "schema": map[string]any{"type": "integer", "minimum": 1}},
		verboseParam(),
	}

	return map[string]any{
		"get": map[string]any{
			"summary":    fmt.Sprintf("List %s records", t.Name),
			"parameters": params,
			"responses": withResponses(map[string]any{
				"200": jsonResponse("Rows, or tuples when projecting or grouping", map[string]any{
					"type": "array",
					"items": map[string]any{"oneOf": []any{
						ref(t.Name),
						map[string]any{"type": "array"},
					}},
				}),
			}, 400, 404, 503),
			"tags": []string{t.Schema},
		},
	}
}

func createOperation(t *registry.Table) map[string]any {
	return map[string]any{
		"post": map[string]any{
			"summary": fmt.Sprintf("Create %s record", t.Name),
			"requestBody": map[string]any{
				"content": map[string]any{
					"application/json": map[string]any{"schema": inputSchema(t, true)},
				},
				"required": true,
			},
			"responses": withResponses(map[string]any{
				"201": jsonResponse("Created", ref(t.Name)),
			}, 400, 404, 409, 422, 503),
			"tags": []string{t.Schema},
		},
	}
}

func recordOperations(t *registry.Table) map[string]any {
	index := map[string]any{
		"name":        "index",
		"in":          "path",
		"required":    true,
		"description": fmt.Sprintf("Value of %s", t.IndexColumn),
		"schema":      columnSchema(t.Index()),
	}
	return map[string]any{
		"get": map[string]any{
			"summary": fmt.Sprintf("Get %s record", t.Name),
			"parameters": []map[string]any{
				index,
				{"name": query.KeyColumn, "in": "query", "schema": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}},
				{"name": query.KeyFilterBy, "in": "query", "schema": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}},
				{"name": query.KeyFilterValue, "in": "query", "schema": map[string]any{"type": "array", "items": map[string]any{"type": "string"}}},
				verboseParam(),
			},
			"responses": withResponses(map[string]any{
				"200": jsonResponse("Success", ref(t.Name)),
			}, 400, 404, 409, 503),
			"tags": []string{t.Schema},
		},
		"put": map[string]any{
			"summary":    fmt.Sprintf("Update %s record", t.Name),
			"parameters": []map[string]any{index},
			"requestBody": map[string]any{
				"content": map[string]any{
					"application/json": map[string]any{"schema": inputSchema(t, false)},
				},
				"required": true,
			},
			"responses": withResponses(map[string]any{
				"200": jsonResponse("Updated", ref(t.Name)),
			}, 400, 404, 409, 422, 503),
			"tags": []string{t.Schema},
		},
		"delete": map[string]any{
			"summary":    fmt.Sprintf("Delete %s record", t.Name),
			"parameters": []map[string]any{index},
			"responses": withResponses(map[string]any{
				"200": jsonResponse("The deleted row", ref(t.Name)),
			}, 404, 409, 503),
			"tags": []string{t.Schema},
		},
	}
}

func verboseParam() map[string]any {
	return map[string]any{
		"name":            query.KeyVerbose,
		"in":              "query",
		"description":     "Replace foreign keys with the referenced rows",
		"allowEmptyValue": true,
		"schema":          map[string]any{"type": "boolean"},
	}
}

func tableSchema(t *registry.Table) map[string]any {
	properties := make(map[string]any, len(t.Columns))
	required := []string{}
	for i := range t.Columns {
		col := &t.Columns[i]
		properties[col.Name] = columnSchema(col)
		if !col.Nullable {
			required = append(required, col.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// inputSchema describes request bodies. Unknown keys are rejected, and on
// create every non-nullable column without a default is required.
func inputSchema(t *registry.Table, create bool) map[string]any {
	properties := make(map[string]any, len(t.Columns))
	required := []string{}
	for i := range t.Columns {
		col := &t.Columns[i]
		properties[col.Name] = columnSchema(col)
		if create && col.Required() {
			required = append(required, col.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

// columnSchema maps a column to its JSON schema.
func columnSchema(col *registry.Column) map[string]any {
	schema := make(map[string]any)
	switch col.Type {
	case registry.TypeInteger:
		schema["type"] = "integer"
		switch {
		case strings.Contains(col.DataType, "smallint"):
			schema["format"] = "int16"
		case strings.Contains(col.DataType, "bigint"), strings.Contains(col.DataType, "bigserial"):
			schema["format"] = "int64"
		default:
			schema["format"] = "int32"
		}
	case registry.TypeNumeric:
		schema["type"] = "number"
		if strings.Contains(col.DataType, "double") {
			schema["format"] = "double"
		}
	case registry.TypeBool:
		schema["type"] = "boolean"
	case registry.TypeTime:
		schema["type"] = "string"
		switch {
		case strings.Contains(col.DataType, "timestamp"):
			schema["format"] = "date-time"
		case strings.Contains(col.DataType, "date"):
			schema["format"] = "date"
		default:
			schema["format"] = "time"
		}
	case registry.TypeUUID:
		schema["type"] = "string"
		schema["format"] = "uuid"
	case registry.TypeJSON:
		schema["type"] = []string{"object", "array", "string", "number", "boolean"}
	default:
		schema["type"] = "string"
	}

	if col.Nullable {
		if typ, ok := schema["type"].(string); ok {
			schema["type"] = []string{typ, "null"}
		}
	}
	if col.References != nil {
		schema["description"] = fmt.Sprintf("References %s.%s", col.References.Table, col.References.Column)
	}
	return schema
}
