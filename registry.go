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
	"reflect"
	"sort"
	"strconv"
	"sync"

	"github.com/kr/logfmt"
)

const tagName = "kaiso"

// metaTypeID is the __type__ value written on class-object (TypeDescriptor)
// nodes, matching the invariant that class nodes carry __type__="PersistableMeta".
const metaTypeID = "PersistableMeta"

// Outgoing marks a field as a non-stored traversal capability following an
// edge away from the instance. Tag with kaiso:"rel=<RelTypeID>".
type Outgoing struct{}

// Incoming marks a field as a non-stored traversal capability following an
// edge into the instance. Tag with kaiso:"rel=<RelTypeID>".
type Incoming struct{}

// AttributeSpec is the declared shape of one attribute: its wire kind,
// whether it's part of a unique index, its default, the name, and the
// type_id that declared it.
type AttributeSpec struct {
	Name       string
	Kind       interface{} // Kind or RelationKind
	Unique     bool
	Default    interface{}
	DeclaredOn string
}

// IsRelation reports whether the spec is a traversal-only Outgoing/Incoming
// attribute (never written to a property dict).
func (a *AttributeSpec) IsRelation() bool {
	_, ok := a.Kind.(RelationKind)
	return ok
}

// TypeDescriptor is a registered type: its type_id, its direct bases in
// declaration order, and its own declared attributes. Effective (inherited)
// attributes are computed lazily by Descriptor logic in descriptor.go.
type TypeDescriptor struct {
	typeID        string
	bases         []string
	declaredOrder []string
	declared      map[string]*AttributeSpec
	goType        reflect.Type
	registry      *Registry

	once            sync.Once
	effective       []*AttributeSpec
	effectiveByName map[string]*AttributeSpec
}

// TypeID returns the registered type_id.
func (td *TypeDescriptor) TypeID() string { return td.typeID }

// Bases returns the direct base type_ids, in declaration order.
func (td *TypeDescriptor) Bases() []string {
	out := make([]string, len(td.bases))
	copy(out, td.bases)
	return out
}

// Registry is a type_id -> *TypeDescriptor namespace. Two instances exist in
// practice: the process-wide static registry populated by Register, and a
// per-Storage dynamic registry that shadows it (dynamic-then-static lookup
// order, per the component design's §4.1).
type Registry struct {
	mu         sync.RWMutex
	types      map[string]*TypeDescriptor
	goTypeByID map[reflect.Type]*TypeDescriptor
	parent     *Registry
}

// NewRegistry creates an empty registry. If parent is non-nil, lookups miss
// into it (used for a Storage's dynamic namespace shadowing the static one).
func NewRegistry(parent *Registry) *Registry {
	return &Registry{
		types:      make(map[string]*TypeDescriptor),
		goTypeByID: make(map[reflect.Type]*TypeDescriptor),
		parent:     parent,
	}
}

var staticRegistry = NewRegistry(nil)

// GetClassByID resolves type_id to its TypeDescriptor, checking this
// registry first and then its parent (dynamic-then-static).
func (r *Registry) GetClassByID(typeID string) (*TypeDescriptor, error) {
	r.mu.RLock()
	td, ok := r.types[typeID]
	r.mu.RUnlock()
	if ok {
		return td, nil
	}
	if r.parent != nil {
		return r.parent.GetClassByID(typeID)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, typeID)
}

// TypeIDs returns every type_id visible from this registry, including
// inherited (parent) ones.
func (r *Registry) TypeIDs() []string {
	seen := map[string]bool{}
	var ids []string
	for reg := r; reg != nil; reg = reg.parent {
		reg.mu.RLock()
		for id := range reg.types {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		reg.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

// Remove deletes type_id from this registry only (not its parent). Intended
// for test harnesses rolling back a scope of dynamically-added types; see
// testkit.TemporaryTypes.
func (r *Registry) Remove(typeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	td, ok := r.types[typeID]
	if !ok {
		return
	}
	delete(r.types, typeID)
	if td.goType != nil {
		delete(r.goTypeByID, td.goType)
	}
}

// rawAttributeTag is the logfmt-parsed body of a kaiso:"..." struct tag,
// mirroring the teacher's rawSchema/parseStructTag shape in dgman/schema.go.
type rawAttributeTag struct {
	Skip    bool
	Unique  bool
	Kind    string
	Rel     string
	Default string
}

func parseAttributeTag(tag string) (*rawAttributeTag, error) {
	raw := &rawAttributeTag{}
	if tag == "-" {
		raw.Skip = true
		return raw, nil
	}
	if tag == "" {
		return raw, nil
	}
	if err := logfmt.Unmarshal([]byte(tag), raw); err != nil {
		return nil, fmt.Errorf("kaiso: parse tag %q: %w", tag, err)
	}
	return raw, nil
}

// TypeIDs returns every type_id registered in the static registry, sorted.
// Exported for testkit.TemporaryTypes; ordinary callers go through a
// *Registry (e.g. a Storage's own dynamic namespace) instead.
func TypeIDs() []string {
	return staticRegistry.TypeIDs()
}

// Remove deletes type_id from the static registry. Exported for
// testkit.TemporaryTypes to roll back types registered during a test; not
// meant for production use, since other registered types may already
// reference type_id as a base or attribute kind.
func Remove(typeID string) {
	staticRegistry.Remove(typeID)
}

// Register records sample's Go type in the static registry, deriving its
// type_id, direct bases (from recognized anonymous embedded fields) and
// declared attributes (from the remaining fields and their kaiso:"..." tags).
// Bases must already be registered (directly or transitively) before the
// type embedding them is registered - this mirrors declaring a Python class
// after its bases exist.
func Register(sample interface{}) (*TypeDescriptor, error) {
	return staticRegistry.register(sample)
}

// register is the namespace-local implementation behind Register and
// Storage.RegisterDynamicType: it derives typeID, bases and declared
// attributes for sample's Go type and stores them in this registry.
func (r *Registry) register(sample interface{}) (*TypeDescriptor, error) {
	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("kaiso: %s is not a struct", t)
	}

	typeID := t.Name()
	if typeID == "" {
		return nil, fmt.Errorf("kaiso: anonymous struct types cannot be registered")
	}

	r.mu.Lock()
	if _, exists := r.types[typeID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrTypeAlreadyRegistered, typeID)
	}
	r.mu.Unlock()

	td := &TypeDescriptor{
		typeID:   typeID,
		declared: make(map[string]*AttributeSpec),
		goType:   t,
		registry: r,
	}

	numFields := t.NumField()
	for i := 0; i < numFields; i++ {
		field := t.Field(i)

		if field.Anonymous {
			if base, ok := r.resolveGoType(field.Type); ok {
				td.bases = append(td.bases, base.typeID)
				continue
			}
		}

		raw, err := parseAttributeTag(field.Tag.Get(tagName))
		if err != nil {
			return nil, err
		}
		if raw.Skip {
			continue
		}

		spec, err := buildAttributeSpec(field, raw, typeID)
		if err != nil {
			return nil, err
		}
		if spec == nil {
			continue
		}

		td.declaredOrder = append(td.declaredOrder, spec.Name)
		td.declared[spec.Name] = spec
	}

	r.mu.Lock()
	r.types[typeID] = td
	r.goTypeByID[t] = td
	r.mu.Unlock()

	return td, nil
}

// resolveGoType looks up the TypeDescriptor registered for an embedded Go
// type, checking this registry and then its parent.
func (r *Registry) resolveGoType(t reflect.Type) (*TypeDescriptor, bool) {
	r.mu.RLock()
	td, ok := r.goTypeByID[t]
	r.mu.RUnlock()
	if ok {
		return td, true
	}
	if r.parent != nil {
		return r.parent.resolveGoType(t)
	}
	return nil, false
}

func buildAttributeSpec(field reflect.StructField, raw *rawAttributeTag, declaredOn string) (*AttributeSpec, error) {
	if field.Type == reflect.TypeOf(Outgoing{}) || field.Type == reflect.TypeOf(Incoming{}) {
		if raw.Rel == "" {
			return nil, fmt.Errorf("kaiso: %s.%s: Outgoing/Incoming field requires kaiso:\"rel=<RelTypeID>\"", declaredOn, field.Name)
		}
		dir := DirectionOutgoing
		if field.Type == reflect.TypeOf(Incoming{}) {
			dir = DirectionIncoming
		}
		return &AttributeSpec{
			Name:       field.Name,
			Kind:       RelationKind{RelType: raw.Rel, Direction: dir},
			DeclaredOn: declaredOn,
		}, nil
	}

	var kind Kind
	if raw.Kind != "" {
		k, ok := lookupKind(raw.Kind)
		if !ok {
			return nil, fmt.Errorf("kaiso: %s.%s: unknown kind %q", declaredOn, field.Name, raw.Kind)
		}
		kind = k
	} else {
		k, ok := kindForGoType(field.Type)
		if !ok {
			return nil, fmt.Errorf("kaiso: %s.%s: cannot infer kind for %s, add kaiso:\"kind=...\"", declaredOn, field.Name, field.Type)
		}
		kind = k
	}

	def, err := parseDefault(kind, raw.Default)
	if err != nil {
		return nil, fmt.Errorf("kaiso: %s.%s: %w", declaredOn, field.Name, err)
	}

	return &AttributeSpec{
		Name:       field.Name,
		Kind:       kind,
		Unique:     raw.Unique,
		Default:    def,
		DeclaredOn: declaredOn,
	}, nil
}

func parseDefault(kind Kind, raw string) (interface{}, error) {
	if raw == "" {
		return kind.Neutral(), nil
	}
	switch kind {
	case StringKind:
		return raw, nil
	case IntegerKind:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse default %q as integer: %w", raw, err)
		}
		return n, nil
	case BoolKind:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("parse default %q as bool: %w", raw, err)
		}
		return b, nil
	default:
		// Uuid, DateTime and user-registered kinds accept their default in
		// the same textual form their ToDB/FromDB already round-trips.
		return kind.FromDB(raw)
	}
}
