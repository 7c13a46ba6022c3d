// Package rest exposes the tables of a registry as a JSON CRUD API, one
// Server per database environment.
//
// Routes, relative to the environment prefix:
//
//	GET    /health-check       connection status, always 200
//	GET    /openapi.json       OpenAPI 3.1 document for the registry
//	GET    /{table}/list       list rows
//	GET    /{table}/{index}    one row by its index column
//	POST   /{table}            create, 201
//	PUT    /{table}/{index}    partial update
//	DELETE /{table}/{index}    delete, returns the deleted row
//
// The CRUD routes are mounted only when the environment enables them.
//
// Query parameters of the read routes:
//
//	Parameter                 | Description
//	--------------------------|------------------------------------------------
//	?column=a&column=b        | Project columns; the response is a list of tuples
//	?filter_by=a&filter_value=1 | Equality filters, ANDed, paired by position
//	?order_by=a&order_ascending=false | Ordering, paired by position
//	?group_by=a&group_aggr=sum | Group on a and project sum(a) AS a_sum
//	?offset=0&limit=10        | Paging, limit capped by configuration
//	?verbose                  | Replace foreign keys with the referenced rows
//
// Only column, filter_by, filter_value and verbose apply to /{table}/{index}.
//
// Example usage:
//
//	r := httputil.NewRouter()
//	rest.NewServer("dev", "/api-dev", svc, pool, rest.WithCRUD(true)).Register(r)
//	log.Fatal(r.ListenAndServe(":8080"))
package rest
