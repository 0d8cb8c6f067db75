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
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// installState tracks, per type_id, how far a type's mirroring into the
// graph has progressed. Installation is idempotent and monotonic: once a
// type reaches stateInstancesAllowed, Storage never re-sends its hierarchy
// queries again until DeleteAllData resets the install state.
type installState int

const (
	stateUnregistered installState = iota
	stateIndexed
	stateHierarchyCreated
	stateInstancesAllowed
)

const (
	typeSystemIndexName = "TypeSystem"
	typeSystemKey       = "ID"
)

// Storage is the entry point for persisting and retrieving registered
// instances: it owns a dynamic type namespace (shadowing the process-wide
// static one), a GraphDriver to speak Cypher through, and the bookkeeping
// that makes type-hierarchy installation idempotent.
type Storage struct {
	driver       GraphDriver
	registry     *Registry
	seen         *TypeRelationshipSeen
	typeSystemID string

	mu        sync.Mutex
	installed map[string]installState
}

// NewStorage wraps driver with a fresh dynamic registry (shadowing the
// static one populated by Register) and an empty install/dedup state.
// typeSystemID names this Storage's TypeSystem singleton; pass the same
// value across process restarts against the same graph to recognize it as
// already initialized.
func NewStorage(driver GraphDriver, typeSystemID string) *Storage {
	return &Storage{
		driver:       driver,
		registry:     NewRegistry(staticRegistry),
		seen:         NewTypeRelationshipSeen(),
		typeSystemID: typeSystemID,
		installed:    make(map[string]installState),
	}
}

// RegisterDynamicType records sample's Go type in this Storage's own
// namespace, shadowing any static type_id of the same name for lookups made
// through this Storage (see the component design's note on dynamic-then-
// static resolution).
func (s *Storage) RegisterDynamicType(sample interface{}) (*TypeDescriptor, error) {
	return s.registry.register(sample)
}

// Initialize ensures the TypeSystem root is mirrored into the graph and its
// singleton instance exists. Callers must call Initialize once against a
// fresh graph (or a graph already initialized with the same typeSystemID)
// before saving any other registered type.
func (s *Storage) Initialize(ctx context.Context) error {
	td, err := s.registry.GetClassByID("TypeSystem")
	if err != nil {
		return err
	}
	if err := s.ensureInstalled(ctx, td); err != nil {
		return err
	}

	existing, err := s.Get(ctx, td, map[string]interface{}{typeSystemKey: s.typeSystemID})
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	_, err = s.Save(ctx, &TypeSystem{ID: s.typeSystemID})
	return err
}

// ensureInstalled mirrors td's IsA/DeclaredOn closure into the graph exactly
// once, using GetTypeRelationships so the triple stream is deduplicated
// across every type Storage has installed so far.
func (s *Storage) ensureInstalled(ctx context.Context, td *TypeDescriptor) error {
	s.mu.Lock()
	already := s.installed[td.typeID] >= stateInstancesAllowed
	s.mu.Unlock()
	if already {
		return nil
	}

	rels, err := GetTypeRelationships(s.registry, td, s.seen)
	if err != nil {
		return err
	}

	if err := s.runMergeTypeNode(ctx, td); err != nil {
		return err
	}
	s.setState(td.typeID, stateIndexed)

	for _, rel := range rels {
		switch rel.RelType {
		case relIsA:
			start := rel.Start.(*TypeDescriptor)
			end := rel.End.(*TypeDescriptor)
			if err := s.runMergeTypeNode(ctx, start); err != nil {
				return err
			}
			if err := s.runMergeTypeNode(ctx, end); err != nil {
				return err
			}
			if err := s.runQuery(ctx, BuildMergeIsAQuery(start.typeID, end.typeID)); err != nil {
				return err
			}
		case relDefines:
			outermost := rel.End.(*TypeDescriptor)
			q := BuildMergeDefinesQuery(typeSystemIndexName, typeSystemKey, s.typeSystemID, outermost.typeID)
			if err := s.runQuery(ctx, q); err != nil {
				return err
			}
		case relDeclaredOn:
			start := rel.Start.(*TypeDescriptor)
			attr := rel.End.(*AttributeSpec)
			q, err := BuildMergeDeclaredOnQuery(s.registry, start.typeID, attr)
			if err != nil {
				return err
			}
			if err := s.runQuery(ctx, q); err != nil {
				return err
			}
		}
	}
	s.setState(td.typeID, stateHierarchyCreated)

	s.setState(td.typeID, stateInstancesAllowed)
	return nil
}

func (s *Storage) setState(typeID string, st installState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installed[typeID] < st {
		s.installed[typeID] = st
	}
}

// runMergeTypeNode builds and issues BuildMergeTypeNodeQuery for td, the one
// query builder that can itself fail (ObjectToDict on a bad AttributeSpec),
// so it gets its own thin wrapper instead of being inlined at every call
// site.
func (s *Storage) runMergeTypeNode(ctx context.Context, td *TypeDescriptor) error {
	q, err := BuildMergeTypeNodeQuery(s.registry, td)
	if err != nil {
		return err
	}
	return s.runQuery(ctx, q)
}

func (s *Storage) runQuery(ctx context.Context, q builtQuery) error {
	rows, err := s.runRows(ctx, q)
	if err != nil {
		return err
	}
	return rows.Close()
}

// runRows issues q against the driver, logging it at debug level first -
// mirroring kaiso/persistence.py's log.debug('running query %s', query)
// call ahead of every self._conn.execute.
func (s *Storage) runRows(ctx context.Context, q builtQuery) (Rows, error) {
	Logger().V(1).Info("running query", "cypher", q.Cypher, "params", q.Params)
	rows, err := s.driver.Run(ctx, q.Cypher, q.Params)
	if err != nil {
		return nil, errors.Wrapf(err, "kaiso: run query %q", q.Cypher)
	}
	return rows, nil
}

// Save persists obj. A Relationship-embedding obj becomes a new edge between
// its Start and End endpoints (see saveRelationship); anything else becomes
// a new node plus its InstanceOf edge and unique index nodes if no instance
// with the same unique attribute values exists yet, or an in-place property
// update otherwise. Changing a unique attribute on an already-persisted
// instance is rejected with ErrUniqueAttributeChangeNotSupported. A class
// object (*TypeDescriptor) has its type hierarchy mirrored into the graph
// and is returned as is.
func (s *Storage) Save(ctx context.Context, obj interface{}) (interface{}, error) {
	if !CanPersist(obj) {
		return nil, ErrCannotPersist
	}
	if cls, ok := obj.(*TypeDescriptor); ok {
		if err := s.ensureInstalled(ctx, cls); err != nil {
			return nil, err
		}
		return cls, nil
	}
	td, err := descriptorFor(s.registry, obj)
	if err != nil {
		return nil, err
	}
	if err := s.ensureInstalled(ctx, td); err != nil {
		return nil, err
	}

	if IsRelationship(obj) {
		return s.saveRelationship(ctx, td, obj)
	}

	dict, err := ObjectToDict(s.registry, obj)
	if err != nil {
		return nil, err
	}

	unique := td.UniqueAttributes()
	filter := make(map[string]interface{}, len(unique))
	for _, attr := range unique {
		if val, present := dict[attr.Name]; present {
			filter[attr.Name] = val
		}
	}
	if len(filter) > 0 {
		existing, err := s.Get(ctx, td, filter)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.update(ctx, td, existing, obj)
		}
	}

	q := BuildCreateInstanceQuery(td, dict, unique)
	rows, err := s.runRows(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("kaiso: create %s returned no row", td.typeID)
	}
	n, ok := AsNode(rows.Record()["n"])
	if !ok {
		return nil, fmt.Errorf("%w: expected node result", ErrDeserialisation)
	}
	return s.hydrate(n)
}

// saveRelationship creates the edge a Relationship-embedding obj describes,
// resolving its Start/End fields to whichever node they already have in the
// graph (an instance's UniqueValue-indexed node, or a class object's :Type
// node) and issuing BuildCreateRelationshipQuery. It mirrors dgman's
// CreateEdges step in mutate.go in spirit: edges are only ever created
// between nodes that already exist, never implicitly upserted.
func (s *Storage) saveRelationship(ctx context.Context, td *TypeDescriptor, obj interface{}) (interface{}, error) {
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	startField := v.FieldByName("Start")
	endField := v.FieldByName("End")
	if !startField.IsValid() || !endField.IsValid() {
		return nil, fmt.Errorf("kaiso: %s has no Start/End to save as a relationship", td.typeID)
	}

	start, err := s.resolveEndpoint(startField.Interface())
	if err != nil {
		return nil, fmt.Errorf("kaiso: %s.Start: %w", td.typeID, err)
	}
	end, err := s.resolveEndpoint(endField.Interface())
	if err != nil {
		return nil, fmt.Errorf("kaiso: %s.End: %w", td.typeID, err)
	}

	dict, err := ObjectToDict(s.registry, obj)
	if err != nil {
		return nil, err
	}

	q := BuildCreateRelationshipQuery(td.typeID, start, end, dict)
	rows, err := s.runRows(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("kaiso: create %s returned no row", td.typeID)
	}
	return obj, rows.Err()
}

// resolveEndpoint turns a Relationship's Start or End field value into the
// endpointRef BuildCreateRelationshipQuery needs: a class object resolves to
// its :Type node directly, an instance resolves to its own unique lookup
// triple (its first unique attribute, same tie-break Delete,
// GetRelatedObjects and the update path use).
func (s *Storage) resolveEndpoint(obj interface{}) (endpointRef, error) {
	if td, ok := obj.(*TypeDescriptor); ok {
		return typeEndpoint(td.typeID), nil
	}
	td, err := descriptorFor(s.registry, obj)
	if err != nil {
		return endpointRef{}, err
	}
	unique := td.UniqueAttributes()
	if len(unique) == 0 {
		return endpointRef{}, fmt.Errorf("%w: %s", ErrNotIndexable, td.typeID)
	}
	dict, err := ObjectToDict(s.registry, obj)
	if err != nil {
		return endpointRef{}, err
	}
	lookup := unique[0]
	val, present := dict[lookup.Name]
	if !present {
		return endpointRef{}, fmt.Errorf("%w: %s.%s unset", ErrNotIndexable, td.typeID, lookup.Name)
	}
	indexName, _ := td.IndexNameForAttribute(lookup.Name)
	return instanceEndpoint(indexName, lookup.Name, val), nil
}

func (s *Storage) update(ctx context.Context, td *TypeDescriptor, existing, newObj interface{}) (interface{}, error) {
	changes, err := GetChanges(s.registry, existing, newObj)
	if err != nil {
		return nil, err
	}
	if len(changes.Unique) > 0 {
		return nil, ErrUniqueAttributeChangeNotSupported
	}
	if len(changes.Added) == 0 && len(changes.Changed) == 0 && len(changes.Removed) == 0 {
		return existing, nil
	}

	existingDict, err := ObjectToDict(s.registry, existing)
	if err != nil {
		return nil, err
	}
	lookup := td.UniqueAttributes()[0]
	indexName, _ := td.IndexNameForAttribute(lookup.Name)

	merged := make(map[string]interface{}, len(changes.Added)+len(changes.Changed))
	for k, v := range changes.Added {
		merged[k] = v
	}
	for k, v := range changes.Changed {
		merged[k] = v
	}

	q := BuildUpdateInstanceQuery(indexName, lookup.Name, existingDict[lookup.Name], merged, changes.Removed)
	rows, err := s.runRows(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	n, ok := AsNode(rows.Record()["n"])
	if !ok {
		return nil, fmt.Errorf("%w: expected node result", ErrDeserialisation)
	}
	return s.hydrate(n)
}

// Get looks up the instance of cls (a *TypeDescriptor or a registered Go
// sample value) matching any of filter's key=value entries, OR-joined in a
// single query. Every match must resolve to the same node, or
// UniqueConstraintError is returned. A nil filter or no match returns
// (nil, nil) - "not found" is not an error.
func (s *Storage) Get(ctx context.Context, cls interface{}, filter map[string]interface{}) (interface{}, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	td, err := s.descriptorForCls(cls)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(filter))
	for name := range filter {
		names = append(names, name)
	}
	sort.Strings(names)

	clauses := make([]filterClause, 0, len(names))
	for _, name := range names {
		indexName, ok := td.IndexNameForAttribute(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrNotIndexable, td.typeID, name)
		}
		clauses = append(clauses, filterClause{indexName: indexName, key: name, value: filter[name]})
	}

	q := BuildLookupByFilterQuery(clauses)
	rows, err := s.runRows(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	n, ok := AsNode(rows.Record()["n"])
	if !ok {
		return nil, fmt.Errorf("%w: expected node result", ErrDeserialisation)
	}

	found := 1
	for rows.Next() {
		m, ok := AsNode(rows.Record()["n"])
		if ok && m.ID != n.ID {
			found++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if found > 1 {
		return nil, &UniqueConstraintError{TypeID: td.typeID, Found: found}
	}

	return s.hydrate(n)
}

// descriptorForCls resolves cls to its *TypeDescriptor whether cls already
// is one (a caller holding a class object, e.g. Initialize) or is a plain
// registered Go sample value (e.g. Save's existing-instance check).
func (s *Storage) descriptorForCls(cls interface{}) (*TypeDescriptor, error) {
	if td, ok := cls.(*TypeDescriptor); ok {
		return td, nil
	}
	return descriptorFor(s.registry, cls)
}

// GetRelatedObjects follows obj's Outgoing/Incoming relTypeID attribute and
// returns a lazy, single-pass iterator over the nodes found at the other
// end - see RelatedObjectIterator.
func (s *Storage) GetRelatedObjects(ctx context.Context, relTypeID string, direction Direction, obj interface{}) (*RelatedObjectIterator, error) {
	td, err := descriptorFor(s.registry, obj)
	if err != nil {
		return nil, err
	}
	if findRelationAttr(td, relTypeID, direction) == nil {
		return nil, fmt.Errorf("kaiso: %s has no %s(%s) attribute", td.typeID, direction, relTypeID)
	}

	unique := td.UniqueAttributes()
	if len(unique) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexable, td.typeID)
	}
	dict, err := ObjectToDict(s.registry, obj)
	if err != nil {
		return nil, err
	}
	lookup := unique[0]
	indexName, _ := td.IndexNameForAttribute(lookup.Name)

	q := BuildTraversalQuery(indexName, lookup.Name, dict[lookup.Name], relTypeID, direction)
	rows, err := s.runRows(ctx, q)
	if err != nil {
		return nil, err
	}
	return &RelatedObjectIterator{rows: rows, storage: s}, nil
}

// RelatedObjectIterator lazily hydrates GetRelatedObjects's traversal
// results one row at a time, backed directly by the driver's row cursor -
// the same lazy-conversion shape QueryRows uses for Storage.Query. Not
// restartable.
type RelatedObjectIterator struct {
	rows    Rows
	storage *Storage
}

// Next advances to the next related row, as Rows.Next does.
func (it *RelatedObjectIterator) Next() bool { return it.rows.Next() }

// Object hydrates the current row into its registered Go type.
func (it *RelatedObjectIterator) Object() (interface{}, error) {
	n, ok := AsNode(it.rows.Record()["m"])
	if !ok {
		return nil, fmt.Errorf("%w: expected node result", ErrDeserialisation)
	}
	return it.storage.hydrate(n)
}

// Err returns the first error encountered, if any.
func (it *RelatedObjectIterator) Err() error { return it.rows.Err() }

// Close releases the underlying driver rows.
func (it *RelatedObjectIterator) Close() error { return it.rows.Close() }

func findRelationAttr(td *TypeDescriptor, relType string, dir Direction) *AttributeSpec {
	for _, a := range td.Attributes() {
		rk, ok := a.Kind.(RelationKind)
		if ok && rk.RelType == relType && rk.Direction == dir {
			return a
		}
	}
	return nil
}

// Delete removes obj's node and every edge touching it. Its UniqueValue
// index nodes are left in place, detached from the deleted node.
func (s *Storage) Delete(ctx context.Context, obj interface{}) error {
	td, err := descriptorFor(s.registry, obj)
	if err != nil {
		return err
	}
	unique := td.UniqueAttributes()
	if len(unique) == 0 {
		return fmt.Errorf("%w: %s", ErrNotIndexable, td.typeID)
	}
	dict, err := ObjectToDict(s.registry, obj)
	if err != nil {
		return err
	}
	lookup := unique[0]
	indexName, _ := td.IndexNameForAttribute(lookup.Name)
	return s.runQuery(ctx, BuildDeleteInstanceQuery(indexName, lookup.Name, dict[lookup.Name]))
}

// Query runs cypher verbatim with params, for callers who need an escape
// hatch beyond Save/Get/Delete/GetRelatedObjects. Every returned Node/Edge
// value is converted with convertValue the same way Save/Get results are -
// a row whose "__type__" resolves in this Storage's registry comes back as
// the hydrated object, not the driver's raw Node/Edge.
func (s *Storage) Query(ctx context.Context, cypher string, params map[string]interface{}) (*QueryRows, error) {
	rows, err := s.runRows(ctx, builtQuery{Cypher: cypher, Params: params})
	if err != nil {
		return nil, err
	}
	return &QueryRows{rows: rows, registry: s.registry}, nil
}

// QueryRows lazily converts Storage.Query's raw driver rows, one record at a
// time, the way GetRelatedObjects lazily hydrates traversal results (see §9
// Design Notes "Lazy instance materialization").
type QueryRows struct {
	rows     Rows
	registry *Registry
}

// Next advances to the next record, as Rows.Next does.
func (q *QueryRows) Next() bool { return q.rows.Next() }

// Record returns the current record with every Node/Edge column converted
// via convertValue; columns that aren't a Node/Edge, or whose properties
// don't resolve to a registered type, pass through unchanged.
func (q *QueryRows) Record() map[string]interface{} {
	raw := q.rows.Record()
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		out[k] = q.convertValue(v)
	}
	return out
}

func (q *QueryRows) convertValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Node:
		if obj, err := DictToObject(q.registry, val.Properties); err == nil {
			setUID(obj, val.ID)
			return obj
		}
		return val
	case Edge:
		if obj, err := DictToObject(q.registry, val.Properties); err == nil {
			return obj
		}
		return val
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = q.convertValue(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			out[k] = q.convertValue(e)
		}
		return out
	default:
		return v
	}
}

// Err returns the first error encountered, if any.
func (q *QueryRows) Err() error { return q.rows.Err() }

// Close releases the underlying driver rows.
func (q *QueryRows) Close() error { return q.rows.Close() }

// DeleteAllData wipes every node and relationship and resets this Storage's
// install/dedup bookkeeping. It exists for test fixtures, not production
// use: Initialize must be called again afterwards.
func (s *Storage) DeleteAllData(ctx context.Context) error {
	if err := s.runQuery(ctx, BuildDeleteAllDataQuery()); err != nil {
		return err
	}
	s.mu.Lock()
	s.installed = make(map[string]installState)
	s.mu.Unlock()
	s.seen = NewTypeRelationshipSeen()
	return nil
}

func (s *Storage) hydrate(n Node) (interface{}, error) {
	obj, err := DictToObject(s.registry, n.Properties)
	if err != nil {
		return nil, err
	}
	setUID(obj, n.ID)
	return obj, nil
}
