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

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

// fakeDriver is an in-memory GraphDriver standing in for a real Cypher
// engine in tests. It does not parse Cypher in any general sense - it
// recognizes the fixed set of query shapes query.go's builders produce and
// interprets each one against its own tiny node/edge store. A change to any
// Build*Query's text shape requires a matching change here.
type fakeDriver struct {
	mu sync.Mutex
	g  *fakeGraph
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{g: &fakeGraph{nodes: map[string]*fakeNode{}}}
}

func (d *fakeDriver) Run(ctx context.Context, cypher string, params map[string]interface{}) (Rows, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.g.run(cypher, params)
}

func (d *fakeDriver) Close(ctx context.Context) error { return nil }

type fakeNode struct {
	id     string
	labels []string
	props  map[string]interface{}
}

func (n *fakeNode) toNode() Node {
	return Node{ID: n.id, Labels: append([]string(nil), n.labels...), Properties: copyMap(n.props)}
}

func (n *fakeNode) hasLabel(label string) bool {
	for _, l := range n.labels {
		if l == label {
			return true
		}
	}
	return false
}

type fakeEdge struct {
	id      string
	relType string
	startID string
	endID   string
	props   map[string]interface{}
}

func (e *fakeEdge) toEdge() Edge {
	return Edge{ID: e.id, Type: e.relType, StartID: e.startID, EndID: e.endID, Properties: copyMap(e.props)}
}

type fakeGraph struct {
	nodes  map[string]*fakeNode
	edges  []*fakeEdge
	nextID int
}

func (g *fakeGraph) newID() string {
	g.nextID++
	return fmt.Sprintf("n%d", g.nextID)
}

func (g *fakeGraph) hasEdge(relType, start, end string) bool {
	for _, e := range g.edges {
		if e.relType == relType && e.startID == start && e.endID == end {
			return true
		}
	}
	return false
}

func (g *fakeGraph) findTypeNode(typeID string) *fakeNode {
	for _, n := range g.nodes {
		if n.hasLabel("Type") && n.props["type_id"] == typeID {
			return n
		}
	}
	return nil
}

func (g *fakeGraph) findAttributeNode(typeID, name string) *fakeNode {
	for _, n := range g.nodes {
		if n.hasLabel("Attribute") && n.props["type_id"] == typeID && n.props["name"] == name {
			return n
		}
	}
	return nil
}

// findByUniqueIndex returns the first node indexed under (idx, key, value),
// following a UniqueValue node's INDEXES edge.
func (g *fakeGraph) findByUniqueIndex(idx, key string, value interface{}) *fakeNode {
	all := g.findAllByUniqueIndex(idx, key, value)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// findAllByUniqueIndex returns every node indexed under (idx, key, value),
// so tests can provoke Storage.Get's found>1 branch.
func (g *fakeGraph) findAllByUniqueIndex(idx, key string, value interface{}) []*fakeNode {
	var out []*fakeNode
	for _, uv := range g.nodes {
		if !uv.hasLabel("UniqueValue") {
			continue
		}
		if uv.props["index_name"] != idx || uv.props["key"] != key || !reflect.DeepEqual(uv.props["value"], value) {
			continue
		}
		for _, e := range g.edges {
			if e.relType == "INDEXES" && e.startID == uv.id {
				if n := g.nodes[e.endID]; n != nil {
					out = append(out, n)
				}
			}
		}
	}
	return out
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type fakeRows struct {
	records []map[string]interface{}
	pos     int
}

func emptyRows() *fakeRows { return &fakeRows{} }

func singleRow(key string, val interface{}) *fakeRows {
	return &fakeRows{records: []map[string]interface{}{{key: val}}}
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Record() map[string]interface{} {
	if r.pos == 0 || r.pos > len(r.records) {
		return nil
	}
	return r.records[r.pos-1]
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

var (
	reRelType    = regexp.MustCompile("\\[:`?([A-Za-z0-9_]+)`?\\]")
	reCreateRel  = regexp.MustCompile("\\[r:`?([A-Za-z0-9_]+)`?\\s(\\$\\w+)\\]")
	reParamRef   = regexp.MustCompile(`\$(p\d+)`)
)

// run dispatches cypher to the handler matching the query.go builder that
// produced it. Order matters: several shapes share a literal substring
// (e.g. both the merge-type-node and merge-DeclaredOn queries start with
// "MERGE (t:Type ..."),
// so more specific checks run first.
func (g *fakeGraph) run(cypher string, params map[string]interface{}) (Rows, error) {
	switch {
	case strings.Contains(cypher, "DECLAREDON"):
		return g.mergeDeclaredOn(params)
	case strings.Contains(cypher, "MERGE (a)-[:ISA]->(b)"):
		return g.mergeIsA(params)
	case strings.Contains(cypher, "DEFINES"):
		return g.mergeDefines(params)
	case strings.HasPrefix(cypher, "CREATE (n:Instance:"):
		return g.createInstance(params)
	case strings.Contains(cypher, "CREATE (n1)-[r:"):
		return g.createRelationship(cypher, params)
	case strings.Contains(cypher, "SET n += ") ||
		(strings.HasPrefix(cypher, "MATCH (u:UniqueValue") && strings.Contains(cypher, "REMOVE n.")):
		return g.updateInstance(cypher, params)
	case cypher == "MATCH (n) DETACH DELETE n":
		return g.deleteAll()
	case strings.HasPrefix(cypher, "MATCH (u:UniqueValue") && strings.Contains(cypher, "DETACH DELETE n"):
		return g.deleteInstance(params)
	case strings.Contains(cypher, "RETURN m"):
		return g.traversal(cypher, params)
	case strings.HasPrefix(cypher, "MERGE (t:Type") && strings.Contains(cypher, "SET t += "):
		return g.mergeTypeNode(params)
	case strings.HasPrefix(cypher, "MATCH (u:UniqueValue"):
		return g.lookup(params)
	default:
		return nil, fmt.Errorf("fakedriver: unrecognized query:\n%s", cypher)
	}
}

func (g *fakeGraph) mergeTypeNode(params map[string]interface{}) (Rows, error) {
	typeID, _ := params["p0"].(string)
	props, _ := params["p1"].(map[string]interface{})
	n := g.findTypeNode(typeID)
	if n == nil {
		n = &fakeNode{id: g.newID(), labels: []string{"Type"}, props: map[string]interface{}{"type_id": typeID}}
		g.nodes[n.id] = n
	}
	for k, v := range props {
		n.props[k] = v
	}
	return singleRow("t", n.toNode()), nil
}

func (g *fakeGraph) mergeIsA(params map[string]interface{}) (Rows, error) {
	a, _ := params["p0"].(string)
	b, _ := params["p1"].(string)
	an := g.findTypeNode(a)
	bn := g.findTypeNode(b)
	if an == nil || bn == nil {
		return nil, fmt.Errorf("fakedriver: MERGE ISA: missing type node for %s or %s", a, b)
	}
	if !g.hasEdge("ISA", an.id, bn.id) {
		g.edges = append(g.edges, &fakeEdge{id: g.newID(), relType: "ISA", startID: an.id, endID: bn.id, props: map[string]interface{}{}})
	}
	return emptyRows(), nil
}

func (g *fakeGraph) mergeDeclaredOn(params map[string]interface{}) (Rows, error) {
	t, _ := params["p0"].(string)
	name, _ := params["p1"].(string)
	props, _ := params["p2"].(map[string]interface{})

	tn := g.findTypeNode(t)
	if tn == nil {
		tn = &fakeNode{id: g.newID(), labels: []string{"Type"}, props: map[string]interface{}{"type_id": t}}
		g.nodes[tn.id] = tn
	}
	an := g.findAttributeNode(t, name)
	if an == nil {
		an = &fakeNode{id: g.newID(), labels: []string{"Attribute"}, props: map[string]interface{}{"type_id": t, "name": name}}
		g.nodes[an.id] = an
	}
	for k, v := range props {
		an.props[k] = v
	}
	if !g.hasEdge("DECLAREDON", an.id, tn.id) {
		g.edges = append(g.edges, &fakeEdge{id: g.newID(), relType: "DECLAREDON", startID: an.id, endID: tn.id, props: map[string]interface{}{}})
	}
	return emptyRows(), nil
}

func (g *fakeGraph) mergeDefines(params map[string]interface{}) (Rows, error) {
	idx, _ := params["p0"].(string)
	key, _ := params["p1"].(string)
	val := params["p2"]
	typeID, _ := params["p3"].(string)

	tsNode := g.findByUniqueIndex(idx, key, val)
	if tsNode == nil {
		return nil, fmt.Errorf("fakedriver: DEFINES: no node indexed under %s/%s=%v", idx, key, val)
	}
	tn := g.findTypeNode(typeID)
	if tn == nil {
		return nil, fmt.Errorf("fakedriver: DEFINES: no type node for %s", typeID)
	}
	if !g.hasEdge("DEFINES", tsNode.id, tn.id) {
		g.edges = append(g.edges, &fakeEdge{id: g.newID(), relType: "DEFINES", startID: tsNode.id, endID: tn.id, props: map[string]interface{}{}})
	}
	return emptyRows(), nil
}

// lookup handles BuildLookupByFilterQuery: one or more (index_name, key,
// value) clauses OR-joined together, p0..p2 for the first clause, p3..p5 for
// the second, and so on. Matches are deduplicated by node id across clauses.
func (g *fakeGraph) lookup(params map[string]interface{}) (Rows, error) {
	seen := map[string]bool{}
	var matched []*fakeNode
	for i := 0; ; i++ {
		idxVal, ok := params[fmt.Sprintf("p%d", 3*i)]
		if !ok {
			break
		}
		idx, _ := idxVal.(string)
		key, _ := params[fmt.Sprintf("p%d", 3*i+1)].(string)
		val := params[fmt.Sprintf("p%d", 3*i+2)]
		for _, n := range g.findAllByUniqueIndex(idx, key, val) {
			if !seen[n.id] {
				seen[n.id] = true
				matched = append(matched, n)
			}
		}
	}
	records := make([]map[string]interface{}, len(matched))
	for i, n := range matched {
		records[i] = map[string]interface{}{"n": n.toNode()}
	}
	return &fakeRows{records: records}, nil
}

func (g *fakeGraph) createInstance(params map[string]interface{}) (Rows, error) {
	props, _ := params["p0"].(map[string]interface{})
	typeID, _ := params["p1"].(string)

	node := &fakeNode{id: g.newID(), labels: []string{"Instance", typeID}, props: copyMap(props)}
	g.nodes[node.id] = node

	tn := g.findTypeNode(typeID)
	if tn == nil {
		tn = &fakeNode{id: g.newID(), labels: []string{"Type"}, props: map[string]interface{}{"type_id": typeID}}
		g.nodes[tn.id] = tn
	}
	g.edges = append(g.edges, &fakeEdge{id: g.newID(), relType: "INSTANCEOF", startID: node.id, endID: tn.id, props: map[string]interface{}{}})

	for i := 0; ; i++ {
		idxVal, ok := params[fmt.Sprintf("p%d", 2+3*i)]
		if !ok {
			break
		}
		idxName, _ := idxVal.(string)
		keyName, _ := params[fmt.Sprintf("p%d", 3+3*i)].(string)
		val := params[fmt.Sprintf("p%d", 4+3*i)]

		uv := &fakeNode{id: g.newID(), labels: []string{"UniqueValue"}, props: map[string]interface{}{
			"index_name": idxName, "key": keyName, "value": val,
		}}
		g.nodes[uv.id] = uv
		g.edges = append(g.edges, &fakeEdge{id: g.newID(), relType: "INDEXES", startID: uv.id, endID: node.id, props: map[string]interface{}{}})
	}

	return singleRow("n", node.toNode()), nil
}

func (g *fakeGraph) updateInstance(cypher string, params map[string]interface{}) (Rows, error) {
	idx, _ := params["p0"].(string)
	key, _ := params["p1"].(string)
	val := params["p2"]

	node := g.findByUniqueIndex(idx, key, val)
	if node == nil {
		return emptyRows(), nil
	}

	if changes, ok := params["p3"].(map[string]interface{}); ok {
		for k, v := range changes {
			node.props[k] = v
		}
	}
	for _, line := range strings.Split(cypher, "\n") {
		if !strings.HasPrefix(line, "REMOVE n.") {
			continue
		}
		field := strings.TrimPrefix(line, "REMOVE n.")
		field = strings.Trim(field, "`")
		delete(node.props, field)
	}

	return singleRow("n", node.toNode()), nil
}

func (g *fakeGraph) deleteInstance(params map[string]interface{}) (Rows, error) {
	idx, _ := params["p0"].(string)
	key, _ := params["p1"].(string)
	val := params["p2"]

	node := g.findByUniqueIndex(idx, key, val)
	if node == nil {
		return emptyRows(), nil
	}
	delete(g.nodes, node.id)

	kept := g.edges[:0:0]
	for _, e := range g.edges {
		if e.startID != node.id && e.endID != node.id {
			kept = append(kept, e)
		}
	}
	g.edges = kept
	return emptyRows(), nil
}

func (g *fakeGraph) deleteAll() (Rows, error) {
	g.nodes = map[string]*fakeNode{}
	g.edges = nil
	return emptyRows(), nil
}

func (g *fakeGraph) traversal(cypher string, params map[string]interface{}) (Rows, error) {
	idx, _ := params["p0"].(string)
	key, _ := params["p1"].(string)
	val := params["p2"]

	node := g.findByUniqueIndex(idx, key, val)
	if node == nil {
		return emptyRows(), nil
	}

	relType, outgoing := parseTraversalLine(cypher)
	var out []*fakeNode
	for _, e := range g.edges {
		if e.relType != relType {
			continue
		}
		if outgoing && e.startID == node.id {
			if n := g.nodes[e.endID]; n != nil {
				out = append(out, n)
			}
		}
		if !outgoing && e.endID == node.id {
			if n := g.nodes[e.startID]; n != nil {
				out = append(out, n)
			}
		}
	}

	records := make([]map[string]interface{}, len(out))
	for i, n := range out {
		records[i] = map[string]interface{}{"m": n.toNode()}
	}
	return &fakeRows{records: records}, nil
}

func parseTraversalLine(cypher string) (relType string, outgoing bool) {
	for _, line := range strings.Split(cypher, "\n") {
		if !strings.Contains(line, "(n)") || !strings.Contains(line, "(m)") {
			continue
		}
		outgoing = !strings.Contains(line, "<-[:")
		if m := reRelType.FindStringSubmatch(line); len(m) == 2 {
			relType = m[1]
		}
		return
	}
	return
}

func (g *fakeGraph) createRelationship(cypher string, params map[string]interface{}) (Rows, error) {
	lines := strings.Split(cypher, "\n")
	if len(lines) < 3 {
		return nil, fmt.Errorf("fakedriver: malformed create-relationship query:\n%s", cypher)
	}
	n1, err := g.resolveMatchedNode(lines[0], params)
	if err != nil {
		return nil, err
	}
	n2, err := g.resolveMatchedNode(lines[1], params)
	if err != nil {
		return nil, err
	}
	m := reCreateRel.FindStringSubmatch(lines[2])
	if m == nil {
		return nil, fmt.Errorf("fakedriver: cannot parse create-relationship line: %s", lines[2])
	}
	relType := m[1]
	props, _ := params[strings.TrimPrefix(m[2], "$")].(map[string]interface{})

	e := &fakeEdge{id: g.newID(), relType: relType, startID: n1.id, endID: n2.id, props: copyMap(props)}
	g.edges = append(g.edges, e)
	return singleRow("r", e.toEdge()), nil
}

// resolveMatchedNode resolves a "MATCH (...)" line produced by
// matchEndpoint: either a direct :Type match (one bound param, the type_id)
// or a UniqueValue->INDEXES match (three bound params: index_name, key,
// value, in that order).
func (g *fakeGraph) resolveMatchedNode(line string, params map[string]interface{}) (*fakeNode, error) {
	refs := reParamRef.FindAllStringSubmatch(line, -1)
	switch len(refs) {
	case 1:
		typeID, _ := params[refs[0][1]].(string)
		n := g.findTypeNode(typeID)
		if n == nil {
			return nil, fmt.Errorf("fakedriver: no type node for %s", typeID)
		}
		return n, nil
	case 3:
		idx, _ := params[refs[0][1]].(string)
		key, _ := params[refs[1][1]].(string)
		val := params[refs[2][1]]
		n := g.findByUniqueIndex(idx, key, val)
		if n == nil {
			return nil, fmt.Errorf("fakedriver: no node indexed under %s/%s=%v", idx, key, val)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("fakedriver: cannot parse match line: %s", line)
	}
}
