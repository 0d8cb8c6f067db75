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

// Package neo4jdriver implements kaiso.GraphDriver over a real Cypher
// engine, using github.com/neo4j/neo4j-go-driver/v5 as the transport. It is
// the one concrete adapter named by the core's external-collaborator
// interface (kaiso.GraphDriver) - the core package itself never imports it,
// the same way kaiso/persistence.py never imports py2neo directly but
// depends only on the shape of self._conn.
package neo4jdriver

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"

	"github.com/pombredanne/kaiso"
)

// Driver adapts a *neo4j.DriverWithContext to kaiso.GraphDriver, running
// every query inside its own auto-committing session against database.
type Driver struct {
	inner    neo4j.DriverWithContext
	database string
	log      logr.Logger
}

// Option configures a Driver at construction time.
type Option func(*Driver)

// WithDatabase selects a non-default database name (Neo4j 4.0+ multi-db).
func WithDatabase(name string) Option {
	return func(d *Driver) { d.database = name }
}

// WithLogger overrides the logr.Logger used for per-query debug logging.
// Defaults to kaiso.Logger().
func WithLogger(l logr.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// New wraps a connection URI into a Driver, the way dgraph.NewDgraphClient
// wraps a grpc.ClientConn in the teacher's examples/*/main.go files: one
// constructor call hides the transport's connection setup from callers that
// only care about the kaiso.GraphDriver surface.
func New(ctx context.Context, uri string, auth neo4j.AuthToken, opts ...Option) (*Driver, error) {
	inner, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, errors.Wrap(err, "neo4jdriver: dial")
	}
	if err := inner.VerifyConnectivity(ctx); err != nil {
		_ = inner.Close(ctx)
		return nil, errors.Wrap(err, "neo4jdriver: verify connectivity")
	}
	d := &Driver{inner: inner, log: kaiso.Logger()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run satisfies kaiso.GraphDriver: it opens an auto-committing write session
// scoped to cypher, eagerly buffers the result (the native driver's
// EagerResult), and returns a Rows view over it so kaiso.Storage can iterate
// without holding the session open.
func (d *Driver) Run(ctx context.Context, cypher string, params map[string]interface{}) (kaiso.Rows, error) {
	d.log.V(1).Info("running query", "cypher", cypher, "params", params)

	result, err := neo4j.ExecuteQuery(ctx, d.inner, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(d.database),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "neo4jdriver: run %q", cypher)
	}
	return &rows{records: result.Records, keys: result.Keys}, nil
}

// Close releases the underlying driver's connection pool.
func (d *Driver) Close(ctx context.Context) error {
	return errors.Wrap(d.inner.Close(ctx), "neo4jdriver: close")
}

type rows struct {
	records []*neo4j.Record
	keys    []string
	pos     int
	err     error
}

func (r *rows) Next() bool {
	if r.pos >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *rows) Record() map[string]interface{} {
	if r.pos == 0 || r.pos > len(r.records) {
		return nil
	}
	rec := r.records[r.pos-1]
	out := make(map[string]interface{}, len(r.keys))
	for _, k := range r.keys {
		v, ok := rec.Get(k)
		if !ok {
			continue
		}
		out[k] = convert(v)
	}
	return out
}

func (r *rows) Err() error   { return r.err }
func (r *rows) Close() error { return nil }

// convert maps a neo4j-go-driver value onto the kaiso.Node/kaiso.Edge/
// primitive shape Rows.Record documents, mirroring dgman's mapNodes
// unmarshaling step in mutate.go (translate the transport's native result
// shape into the core's transport-agnostic one at the boundary, nowhere
// else).
func convert(v interface{}) interface{} {
	switch n := v.(type) {
	case neo4j.Node:
		return kaiso.Node{
			ID:         fmt.Sprintf("%v", n.GetElementId()),
			Labels:     n.Labels,
			Properties: n.Props,
		}
	case neo4j.Relationship:
		return kaiso.Edge{
			ID:         fmt.Sprintf("%v", n.GetElementId()),
			Type:       n.Type,
			StartID:    fmt.Sprintf("%v", n.StartElementId),
			EndID:      fmt.Sprintf("%v", n.EndElementId),
			Properties: n.Props,
		}
	case []interface{}:
		out := make([]interface{}, len(n))
		for i, e := range n {
			out[i] = convert(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(n))
		for k, e := range n {
			out[k] = convert(e)
		}
		return out
	default:
		return v
	}
}
