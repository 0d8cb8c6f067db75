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
	"sync"

	jsoniter "github.com/json-iterator/go"
)

// relationshipJSON is the codec used to canonicalize a Relationship's free-
// form Properties map into the flat dict written to an edge, the same
// jsoniter.Config shape (sorted keys, escaped HTML, validated raw messages)
// the teacher freezes once in utils.go rather than calling encoding/json's
// package-level functions.
var relationshipJSON = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// ObjectToDict converts obj - a class object (*TypeDescriptor), a declared
// attribute (*AttributeSpec) or a registered instance - into the flat
// property dict that gets written onto a node or edge. The dict always
// carries a "__type__" discriminator so DictToObject can reverse it.
func ObjectToDict(registry *Registry, obj interface{}) (map[string]interface{}, error) {
	if td, ok := obj.(*TypeDescriptor); ok {
		return map[string]interface{}{
			"__type__": metaTypeID,
			"id":       td.typeID,
		}, nil
	}

	if attr, ok := obj.(*AttributeSpec); ok {
		d := map[string]interface{}{
			"__type__":    "Attribute",
			"name":        attr.Name,
			"declared_on": attr.DeclaredOn,
			"unique":      attr.Unique,
		}
		switch k := attr.Kind.(type) {
		case Kind:
			d["kind"] = k.Name()
			if !reflect.DeepEqual(attr.Default, k.Neutral()) {
				if db, ok := k.ToDB(attr.Default); ok {
					d["default"] = db
				}
			}
		case RelationKind:
			d["kind"] = k.String()
		}
		return d, nil
	}

	td, err := descriptorFor(registry, obj)
	if err != nil {
		return nil, err
	}

	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	d := map[string]interface{}{"__type__": td.typeID}
	declaredNames := make(map[string]bool, len(td.Attributes()))
	for _, attr := range td.Attributes() {
		declaredNames[attr.Name] = true
		if attr.IsRelation() {
			continue
		}
		fv := v.FieldByName(attr.Name)
		if !fv.IsValid() {
			continue
		}
		kind := attr.Kind.(Kind)
		if db, ok := kind.ToDB(fv.Interface()); ok {
			d[attr.Name] = db
		}
	}

	// A Relationship's free-form Properties aren't a declared attribute -
	// they're folded into the dict directly, canonicalized through
	// relationshipJSON so map value types round-trip the same way they would
	// after a real wire encode/decode.
	if props, ok := relationshipProperties(v); ok {
		canon, err := canonicalizeProperties(props)
		if err != nil {
			return nil, err
		}
		for k, val := range canon {
			if declaredNames[k] || k == "__type__" {
				continue
			}
			d[k] = val
		}
	}

	return d, nil
}

// relationshipProperties returns the value of a promoted Relationship.
// Properties field on v, if v (transitively) embeds Relationship.
func relationshipProperties(v reflect.Value) (map[string]interface{}, bool) {
	fv := v.FieldByName("Properties")
	if !fv.IsValid() || fv.Kind() != reflect.Map || fv.IsNil() {
		return nil, false
	}
	props, ok := fv.Interface().(map[string]interface{})
	if !ok || len(props) == 0 {
		return nil, false
	}
	return props, true
}

func canonicalizeProperties(props map[string]interface{}) (map[string]interface{}, error) {
	raw, err := relationshipJSON.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("kaiso: marshal relationship properties: %w", err)
	}
	var canon map[string]interface{}
	if err := relationshipJSON.Unmarshal(raw, &canon); err != nil {
		return nil, fmt.Errorf("kaiso: unmarshal relationship properties: %w", err)
	}
	return canon, nil
}

// DictToObject reverses ObjectToDict. A dict whose "__type__" is the
// PersistableMeta sentinel resolves to the named *TypeDescriptor; any other
// dict resolves to a freshly allocated *T (T being the registered Go type
// for its "__type__"), with every effective non-relation attribute set from
// the dict or, if absent, from its AttributeSpec default.
func DictToObject(registry *Registry, d map[string]interface{}) (interface{}, error) {
	typeID, ok := d["__type__"].(string)
	if !ok || typeID == "" {
		return nil, ErrDeserialisation
	}

	if typeID == metaTypeID {
		clsID, _ := d["id"].(string)
		td, err := registry.GetClassByID(clsID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDeserialisation, err)
		}
		return td, nil
	}

	td, err := registry.GetClassByID(typeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDeserialisation, err)
	}

	ptr := reflect.New(td.goType)
	v := ptr.Elem()

	declaredNames := make(map[string]bool, len(td.Attributes()))
	for _, attr := range td.Attributes() {
		declaredNames[attr.Name] = true
		if attr.IsRelation() {
			continue
		}
		kind := attr.Kind.(Kind)

		var value interface{}
		if raw, present := d[attr.Name]; present {
			value, err = kind.FromDB(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %s", ErrDeserialisation, typeID, attr.Name, err)
			}
		} else {
			value = attr.Default
		}

		fv := v.FieldByName(attr.Name)
		if !fv.IsValid() || !fv.CanSet() || value == nil {
			continue
		}
		rv := reflect.ValueOf(value)
		if rv.Type() != fv.Type() && rv.Type().ConvertibleTo(fv.Type()) {
			rv = rv.Convert(fv.Type())
		}
		fv.Set(rv)
	}

	// Whatever's left in d once declared attributes are accounted for is
	// this relationship's free-form Properties (the mirror image of
	// ObjectToDict folding Properties into the dict above).
	propsField := v.FieldByName("Properties")
	if propsField.IsValid() && propsField.CanSet() && propsField.Kind() == reflect.Map {
		leftover := map[string]interface{}{}
		for k, val := range d {
			if k == "__type__" || declaredNames[k] {
				continue
			}
			leftover[k] = val
		}
		if len(leftover) > 0 {
			canon, err := canonicalizeProperties(leftover)
			if err != nil {
				return nil, err
			}
			propsField.Set(reflect.ValueOf(canon))
		}
	}

	return ptr.Interface(), nil
}

// TypeRelationship is one (start, rel_type, end) triple in the mirrored type
// graph: an instance's InstanceOf edge to its type, a type's IsA edge to a
// base, the TypeSystem's Defines edge to the outermost type of a hierarchy,
// or a DeclaredOn triple whose Start is the declaring type and whose End is
// the attribute (the graph edge itself runs from the attribute node to the
// type node).
type TypeRelationship struct {
	Start   interface{}
	RelType string
	End     interface{}
}

// TypeRelationshipSeen deduplicates the type-relationship stream across many
// calls to GetTypeRelationships within one save session, so re-saving
// instances of an already-mirrored hierarchy doesn't resend its IsA and
// DeclaredOn edges. The zero value is not usable; use
// NewTypeRelationshipSeen.
type TypeRelationshipSeen struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewTypeRelationshipSeen returns an empty dedup set.
func NewTypeRelationshipSeen() *TypeRelationshipSeen {
	return &TypeRelationshipSeen{seen: make(map[string]bool)}
}

func (s *TypeRelationshipSeen) mark(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return false
	}
	s.seen[key] = true
	return true
}

// GetTypeRelationships returns the ordered, deduplicated triples needed to
// mirror obj's place in the type graph: its InstanceOf edge (if obj is an
// instance, not a class object) followed by the IsA/DeclaredOn closure of
// its type hierarchy. Pass the same seen set across a batch of objects being
// saved together to avoid resending edges already emitted for a shared
// ancestor.
func GetTypeRelationships(registry *Registry, obj interface{}, seen *TypeRelationshipSeen) ([]TypeRelationship, error) {
	var out []TypeRelationship

	td, isClass := obj.(*TypeDescriptor)
	if !isClass {
		resolved, err := descriptorFor(registry, obj)
		if err != nil {
			return nil, err
		}
		out = append(out, TypeRelationship{Start: obj, RelType: relInstanceOf, End: resolved})
		td = resolved
	}

	rels, err := typeHierarchyRelationships(registry, td, seen, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return append(out, rels...), nil
}

func typeHierarchyRelationships(registry *Registry, td *TypeDescriptor, seen *TypeRelationshipSeen, visited map[string]bool) ([]TypeRelationship, error) {
	if visited[td.typeID] {
		return nil, nil
	}
	visited[td.typeID] = true

	var out []TypeRelationship

	for _, attr := range td.DeclaredAttributes() {
		if attr.IsRelation() {
			continue
		}
		key := "DeclaredOn:" + td.typeID + "." + attr.Name
		if seen.mark(key) {
			out = append(out, TypeRelationship{Start: td, RelType: relDeclaredOn, End: attr})
		}
	}

	for _, baseID := range td.bases {
		base, err := registry.GetClassByID(baseID)
		if err != nil {
			return nil, err
		}
		key := "IsA:" + td.typeID + "->" + base.typeID
		if seen.mark(key) {
			out = append(out, TypeRelationship{Start: td, RelType: relIsA, End: base})

			// A direct base of Entity/Relationship anchors the outermost type
			// of a mirrored hierarchy to the TypeSystem root, except
			// TypeSystem's own bootstrap IsA edge (its singleton instance
			// doesn't exist yet when its own hierarchy is installed).
			if (base.typeID == "Entity" || base.typeID == "Relationship") && td.typeID != "TypeSystem" {
				if seen.mark("Defines:" + td.typeID) {
					tsDescriptor, err := registry.GetClassByID("TypeSystem")
					if err != nil {
						return nil, err
					}
					out = append(out, TypeRelationship{Start: tsDescriptor, RelType: relDefines, End: td})
				}
			}
		}
		sub, err := typeHierarchyRelationships(registry, base, seen, visited)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}

	return out, nil
}

// Changes is the property-level diff between two states of the same
// instance, as produced by GetChanges.
type Changes struct {
	Added   map[string]interface{}
	Changed map[string]interface{}
	Removed []string
	// Unique lists the names of changed attributes that are part of a
	// unique index; Storage.Save rejects these with
	// ErrUniqueAttributeChangeNotSupported.
	Unique []string
}

// GetChanges diffs the property dicts of oldObj and newObj, which must be
// instances of the same registered type.
func GetChanges(registry *Registry, oldObj, newObj interface{}) (*Changes, error) {
	oldDict, err := ObjectToDict(registry, oldObj)
	if err != nil {
		return nil, err
	}
	newDict, err := ObjectToDict(registry, newObj)
	if err != nil {
		return nil, err
	}
	td, err := descriptorFor(registry, newObj)
	if err != nil {
		return nil, err
	}

	unique := map[string]bool{}
	for _, a := range td.UniqueAttributes() {
		unique[a.Name] = true
	}

	c := &Changes{Added: map[string]interface{}{}, Changed: map[string]interface{}{}}
	for k, v := range newDict {
		if k == "__type__" {
			continue
		}
		old, existed := oldDict[k]
		if !existed {
			c.Added[k] = v
			continue
		}
		if !reflect.DeepEqual(old, v) {
			c.Changed[k] = v
			if unique[k] {
				c.Unique = append(c.Unique, k)
			}
		}
	}
	for k := range oldDict {
		if k == "__type__" {
			continue
		}
		if _, still := newDict[k]; !still {
			c.Removed = append(c.Removed, k)
		}
	}
	return c, nil
}

func descriptorFor(registry *Registry, obj interface{}) (*TypeDescriptor, error) {
	t := reflect.TypeOf(obj)
	if t == nil {
		return nil, fmt.Errorf("%w: nil object", ErrCannotPersist)
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	td, ok := registry.resolveGoType(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return td, nil
}
