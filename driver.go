/*
 * Copyright (C) 2025 Kaiso Contributors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package kaiso

import "context"

// Node is a graph engine's native representation of a node returned from a
// Cypher query: its engine-assigned id, its labels and its property dict.
type Node struct {
	ID         string
	Labels     []string
	Properties map[string]interface{}
}

// Edge is a graph engine's native representation of a relationship returned
// from a Cypher query.
type Edge struct {
	ID         string
	Type       string
	StartID    string
	EndID      string
	Properties map[string]interface{}
}

// Rows iterates the records returned by a Cypher query. Each record is a
// name -> value map; values are either a Node, an Edge, or a primitive
// (string, int64, float64, bool, nil, or a []interface{}/map[string]interface{}
// for list/map Cypher values).
type Rows interface {
	Next() bool
	Record() map[string]interface{}
	Err() error
	Close() error
}

// GraphDriver is the opaque collaborator Storage speaks Cypher text through.
// It has no persistence semantics of its own: it executes a query with bound
// parameters and yields rows back. A concrete implementation over
// github.com/neo4j/neo4j-go-driver/v5 lives in the neo4jdriver subpackage;
// tests use an in-memory fake.
type GraphDriver interface {
	// Run executes cypher with the given named parameters inside an
	// implicit, auto-committing transaction and returns its result rows.
	Run(ctx context.Context, cypher string, params map[string]interface{}) (Rows, error)
	// Close releases the driver's underlying resources (connection pool,
	// sessions). Storage never calls it implicitly; callers own the
	// GraphDriver's lifetime the same way they own *sql.DB's.
	Close(ctx context.Context) error
}

// AsNode reports whether v is a Node, unwrapping the common case where a
// row's column holds one.
func AsNode(v interface{}) (Node, bool) {
	n, ok := v.(Node)
	return n, ok
}

// AsEdge reports whether v is an Edge.
func AsEdge(v interface{}) (Edge, bool) {
	e, ok := v.(Edge)
	return e, ok
}
