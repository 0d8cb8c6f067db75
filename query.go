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
	"fmt"
	"strings"
)

// queryParams accumulates named parameters as a Cypher query string is
// assembled, mirroring the teacher's incrementally-built request bodies in
// dgman/mutate.go without committing to any one driver's param-naming rules.
type queryParams struct {
	values map[string]interface{}
	n      int
}

func newQueryParams() *queryParams {
	return &queryParams{values: map[string]interface{}{}}
}

func (p *queryParams) bind(v interface{}) string {
	name := fmt.Sprintf("p%d", p.n)
	p.n++
	p.values[name] = v
	return "$" + name
}

// builtQuery is the text/params pair every builder below returns. Storage
// hands these straight to GraphDriver.Run.
type builtQuery struct {
	Cypher string
	Params map[string]interface{}
}

// BuildMergeTypeNodeQuery idempotently ensures a :Type node exists for td,
// translating the reference design's legacy CREATE UNIQUE into a modern
// MERGE (see DESIGN.md). The node's properties are kept current with
// ObjectToDict(td) - __type__="PersistableMeta" and id=type_id, per
// invariant 5 - every time the hierarchy is (re-)installed.
func BuildMergeTypeNodeQuery(registry *Registry, td *TypeDescriptor) (builtQuery, error) {
	dict, err := ObjectToDict(registry, td)
	if err != nil {
		return builtQuery{}, err
	}
	p := newQueryParams()
	typeID := p.bind(td.typeID)
	props := p.bind(dict)
	cypher := join(
		fmt.Sprintf("MERGE (t:Type {type_id: %s})", typeID),
		fmt.Sprintf("SET t += %s", props),
		"RETURN t",
	)
	return builtQuery{Cypher: cypher, Params: p.values}, nil
}

// BuildMergeIsAQuery ensures childID-[:ISA]->baseID exists.
func BuildMergeIsAQuery(childID, baseID string) builtQuery {
	p := newQueryParams()
	a := p.bind(childID)
	b := p.bind(baseID)
	cypher := join(
		fmt.Sprintf("MATCH (a:Type {type_id: %s})", a),
		fmt.Sprintf("MATCH (b:Type {type_id: %s})", b),
		"MERGE (a)-[:ISA]->(b)",
	)
	return builtQuery{Cypher: cypher, Params: p.values}
}

// BuildMergeDeclaredOnQuery ensures (attribute)-[:DECLAREDON]->typeID exists
// for attr, with the attribute node's own property dict kept current.
func BuildMergeDeclaredOnQuery(registry *Registry, typeID string, attr *AttributeSpec) (builtQuery, error) {
	dict, err := ObjectToDict(registry, attr)
	if err != nil {
		return builtQuery{}, err
	}
	p := newQueryParams()
	t := p.bind(typeID)
	name := p.bind(attr.Name)
	props := p.bind(dict)
	cypher := join(
		fmt.Sprintf("MERGE (t:Type {type_id: %s})", t),
		fmt.Sprintf("MERGE (attr:Attribute {type_id: %s, name: %s})", t, name),
		fmt.Sprintf("SET attr += %s", props),
		"MERGE (attr)-[:DECLAREDON]->(t)",
	)
	return builtQuery{Cypher: cypher, Params: p.values}, nil
}

// BuildMergeDefinesQuery ensures the TypeSystem singleton instance (indexed
// under (tsIndexName, tsKey, tsValue)) has a DEFINES edge to typeID's :Type
// node, anchoring typeID as a root of the mirrored hierarchy.
func BuildMergeDefinesQuery(tsIndexName, tsKey string, tsValue interface{}, typeID string) builtQuery {
	p := newQueryParams()
	idx := p.bind(tsIndexName)
	k := p.bind(tsKey)
	v := p.bind(tsValue)
	t := p.bind(typeID)
	cypher := join(
		fmt.Sprintf("MATCH (u:UniqueValue {index_name: %s, key: %s, value: %s})-[:INDEXES]->(ts)", idx, k, v),
		fmt.Sprintf("MATCH (t:Type {type_id: %s})", t),
		"MERGE (ts)-[:DEFINES]->(t)",
	)
	return builtQuery{Cypher: cypher, Params: p.values}
}

// filterClause is one (indexName, key, value) clause of a Get lookup -
// OR-joined against the other clauses of the same query.
type filterClause struct {
	indexName string
	key       string
	value     interface{}
}

// BuildLookupByFilterQuery finds every instance node indexed under any one of
// clauses, mirroring the reference design's instance Lookup query
// ("WHERE n.k1? = {k1} OR ..."): a filter naming several unique attributes is
// OR-joined across all of them in a single query. It is the caller's job
// (Storage.Get) to resolve the matches down to a single node or raise
// UniqueConstraintError.
func BuildLookupByFilterQuery(clauses []filterClause) builtQuery {
	p := newQueryParams()
	wheres := make([]string, len(clauses))
	for i, c := range clauses {
		idx := p.bind(c.indexName)
		k := p.bind(c.key)
		v := p.bind(c.value)
		wheres[i] = fmt.Sprintf("(u.index_name = %s AND u.key = %s AND u.value = %s)", idx, k, v)
	}
	cypher := join(
		"MATCH (u:UniqueValue)-[:INDEXES]->(n)",
		fmt.Sprintf("WHERE %s", strings.Join(wheres, " OR ")),
		"RETURN n",
	)
	return builtQuery{Cypher: cypher, Params: p.values}
}

// BuildCreateInstanceQuery creates a new node for an instance of td, with
// props as its property dict, an InstanceOf edge to its type, and a
// UniqueValue index node (and INDEXES edge) per uniqueAttr. Callers must
// have already checked BuildLookupByFilterQuery for each uniqueAttr and
// found nothing, to avoid racing a duplicate unique value into existence.
func BuildCreateInstanceQuery(td *TypeDescriptor, props map[string]interface{}, uniqueAttrs []*AttributeSpec) builtQuery {
	p := newQueryParams()
	propsRef := p.bind(props)
	typeID := p.bind(td.typeID)

	lines := []string{
		fmt.Sprintf("CREATE (n:Instance:%s %s)", cypherIdentifier(td.typeID), propsRef),
		fmt.Sprintf("MERGE (t:Type {type_id: %s})", typeID),
		"MERGE (n)-[:INSTANCEOF]->(t)",
	}
	for i, attr := range uniqueAttrs {
		idx := p.bind(attr.DeclaredOn)
		key := p.bind(attr.Name)
		val := p.bind(props[attr.Name])
		uvar := fmt.Sprintf("u%d", i)
		lines = append(lines,
			fmt.Sprintf("CREATE (%s:UniqueValue {index_name: %s, key: %s, value: %s})", uvar, idx, key, val),
			fmt.Sprintf("MERGE (%s)-[:INDEXES]->(n)", uvar),
		)
	}
	lines = append(lines, "RETURN n")
	return builtQuery{Cypher: join(lines...), Params: p.values}
}

// BuildUpdateInstanceQuery applies changes to the node matched by
// (indexName, key, value) - the instance's own unique lookup triple, used so
// Save can update without needing the graph engine's native node id.
func BuildUpdateInstanceQuery(indexName, key string, value interface{}, changes map[string]interface{}, removed []string) builtQuery {
	p := newQueryParams()
	idx := p.bind(indexName)
	k := p.bind(key)
	v := p.bind(value)
	lines := []string{
		fmt.Sprintf("MATCH (u:UniqueValue {index_name: %s, key: %s, value: %s})-[:INDEXES]->(n)", idx, k, v),
	}
	if len(changes) > 0 {
		lines = append(lines, fmt.Sprintf("SET n += %s", p.bind(changes)))
	}
	for _, name := range removed {
		lines = append(lines, fmt.Sprintf("REMOVE n.%s", cypherIdentifier(name)))
	}
	lines = append(lines, "RETURN n")
	return builtQuery{Cypher: join(lines...), Params: p.values}
}

// BuildDeleteInstanceQuery detaches and deletes the node matched by
// (indexName, key, value) and every edge touching it. It deliberately does
// NOT delete the UniqueValue index nodes pointing at it - see DESIGN.md's
// "Delete does not clean up indexes" decision, carried from the reference
// design's own TODO. Their INDEXES edge is still severed as a side effect of
// DETACH, leaving a dangling index entry rather than a cleaned-up one.
func BuildDeleteInstanceQuery(indexName, key string, value interface{}) builtQuery {
	p := newQueryParams()
	idx := p.bind(indexName)
	k := p.bind(key)
	v := p.bind(value)
	cypher := join(
		fmt.Sprintf("MATCH (u:UniqueValue {index_name: %s, key: %s, value: %s})-[:INDEXES]->(n)", idx, k, v),
		"DETACH DELETE n",
	)
	return builtQuery{Cypher: cypher, Params: p.values}
}

// BuildTraversalQuery follows every relType-typed edge in direction from the
// node matched by (indexName, key, value), returning the related nodes.
func BuildTraversalQuery(indexName, key string, value interface{}, relType string, dir Direction) builtQuery {
	p := newQueryParams()
	idx := p.bind(indexName)
	k := p.bind(key)
	v := p.bind(value)
	pattern := fmt.Sprintf("-[:%s]-", cypherIdentifier(relType))
	if dir == DirectionOutgoing {
		pattern = fmt.Sprintf("-[:%s]->", cypherIdentifier(relType))
	} else if dir == DirectionIncoming {
		pattern = fmt.Sprintf("<-[:%s]-", cypherIdentifier(relType))
	}
	cypher := join(
		fmt.Sprintf("MATCH (u:UniqueValue {index_name: %s, key: %s, value: %s})-[:INDEXES]->(n)", idx, k, v),
		fmt.Sprintf("MATCH (n)%s(m)", pattern),
		"RETURN m",
	)
	return builtQuery{Cypher: cypher, Params: p.values}
}

// endpointRef selects one endpoint of a create-relationship query: either an
// instance indexed under (indexName, key, value), or a class object's :Type
// node matched directly by type_id.
type endpointRef struct {
	isType  bool
	typeID  string
	idxName string
	key     string
	value   interface{}
}

// instanceEndpoint references an already-persisted instance by its own
// unique lookup triple.
func instanceEndpoint(idxName, key string, value interface{}) endpointRef {
	return endpointRef{idxName: idxName, key: key, value: value}
}

// typeEndpoint references a class object's :Type node directly.
func typeEndpoint(typeID string) endpointRef {
	return endpointRef{isType: true, typeID: typeID}
}

func matchEndpoint(p *queryParams, nodeVar string, ref endpointRef) string {
	if ref.isType {
		t := p.bind(ref.typeID)
		return fmt.Sprintf("MATCH (%s:Type {type_id: %s})", nodeVar, t)
	}
	uVar := "u" + nodeVar
	idx := p.bind(ref.idxName)
	k := p.bind(ref.key)
	v := p.bind(ref.value)
	return fmt.Sprintf("MATCH (%s:UniqueValue {index_name: %s, key: %s, value: %s})-[:INDEXES]->(%s)", uVar, idx, k, v, nodeVar)
}

// BuildCreateRelationshipQuery creates a new relType-typed edge from start to
// end, with props as the edge's property dict. Mirrors the reference
// design's "START n1=..., n2=... CREATE n1-[r:REL_TYPE {props}]->n2" shape;
// unlike instance creation this is a plain CREATE, not a MERGE - re-saving a
// Relationship-embedding object creates another edge rather than updating
// one in place (Storage.Save has no update path for relationships, since
// Relationship types declare no unique attributes of their own to key an
// update lookup on).
func BuildCreateRelationshipQuery(relType string, start, end endpointRef, props map[string]interface{}) builtQuery {
	p := newQueryParams()
	matchStart := matchEndpoint(p, "n1", start)
	matchEnd := matchEndpoint(p, "n2", end)
	propsRef := p.bind(props)
	cypher := join(
		matchStart,
		matchEnd,
		fmt.Sprintf("CREATE (n1)-[r:%s %s]->(n2)", cypherIdentifier(relType), propsRef),
		"RETURN r",
	)
	return builtQuery{Cypher: cypher, Params: p.values}
}

// BuildDeleteAllDataQuery wipes every node and relationship; used only by
// Storage.DeleteAllData, which is documented as a test/fixture operation.
func BuildDeleteAllDataQuery() builtQuery {
	return builtQuery{Cypher: "MATCH (n) DETACH DELETE n", Params: map[string]interface{}{}}
}

func join(lines ...string) string {
	return strings.Join(lines, "\n")
}

// cypherIdentifier returns s if it is safe to splice directly into Cypher as
// a label or relationship type (labels/types cannot be bound parameters).
// type_ids and relationship type constants in this package are always
// derived from Go identifiers, so this is a defensive check, not a real
// sanitizer for arbitrary input.
func cypherIdentifier(s string) string {
	for _, r := range s {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return "`" + s + "`"
		}
	}
	return s
}
