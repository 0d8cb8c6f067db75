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

// Package kaiso implements an object-graph persistence layer over a
// Cypher-speaking graph database: it stores Go values as nodes/edges and
// mirrors their declared type hierarchy into the same graph.
package kaiso

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Direction distinguishes Outgoing from Incoming traversal attributes.
type Direction int

const (
	// DirectionOutgoing denotes a traversal capability that follows an edge
	// away from the instance it is declared on. Declared with the Outgoing
	// marker field type in registry.go.
	DirectionOutgoing Direction = iota
	// DirectionIncoming denotes a traversal capability that follows an edge
	// into the instance it is declared on. Declared with the Incoming marker
	// field type in registry.go.
	DirectionIncoming
)

func (d Direction) String() string {
	if d == DirectionIncoming {
		return "Incoming"
	}
	return "Outgoing"
}

// Kind converts an in-memory attribute value to/from the primitive form
// stored on a node/edge property. Built-in kinds cover String, Integer, Bool,
// Uuid and DateTime; user code may implement Kind for any other primitively
// encodable type (the "user subclasses" case in the component design) and
// register it with RegisterKind.
type Kind interface {
	// Name is the kind's stable name, used when serializing AttributeSpec
	// values and as the kaiso:"kind=..." struct tag override.
	Name() string
	// ToDB converts value to the primitive form stored on the property dict.
	// ok is false when the value is absent and the key should be omitted.
	ToDB(value interface{}) (db interface{}, ok bool)
	// FromDB converts a stored primitive value back to its in-memory form.
	FromDB(db interface{}) (interface{}, error)
	// Neutral is the kind's zero/neutral value, used to decide whether an
	// AttributeSpec field differs from its kind's default when serializing
	// the spec itself (see ObjectToDict rule 2).
	Neutral() interface{}
}

// RelationKind marks a declared attribute as a traversal capability rather
// than a stored property, per §9 Design Notes: Outgoing/Incoming attributes
// are never written to a property dict and instead drive
// Storage.GetRelatedObjects when read.
type RelationKind struct {
	RelType   string
	Direction Direction
}

func (r RelationKind) String() string {
	return fmt.Sprintf("%s(%s)", r.Direction, r.RelType)
}

type stringKind struct{}

func (stringKind) Name() string { return "String" }
func (stringKind) ToDB(v interface{}) (interface{}, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, false
	}
	return s, true
}
func (stringKind) FromDB(v interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("kaiso: expected string, got %T", v)
	}
	return s, nil
}
func (stringKind) Neutral() interface{} { return "" }

type integerKind struct{}

func (integerKind) Name() string { return "Integer" }
func (integerKind) ToDB(v interface{}) (interface{}, bool) {
	i, ok := toInt64(v)
	if !ok || i == 0 {
		return nil, false
	}
	return i, true
}
func (integerKind) FromDB(v interface{}) (interface{}, error) {
	i, ok := toInt64(v)
	if !ok {
		return nil, fmt.Errorf("kaiso: expected integer, got %T", v)
	}
	return i, nil
}
func (integerKind) Neutral() interface{} { return int64(0) }

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

type boolKind struct{}

func (boolKind) Name() string { return "Bool" }
func (boolKind) ToDB(v interface{}) (interface{}, bool) {
	b, ok := v.(bool)
	if !ok || !b {
		return nil, false
	}
	return b, true
}
func (boolKind) FromDB(v interface{}) (interface{}, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("kaiso: expected bool, got %T", v)
	}
	return b, nil
}
func (boolKind) Neutral() interface{} { return false }

type uuidKind struct{}

func (uuidKind) Name() string { return "Uuid" }
func (uuidKind) ToDB(v interface{}) (interface{}, bool) {
	switch id := v.(type) {
	case uuid.UUID:
		if id == uuid.Nil {
			return nil, false
		}
		return id.String(), true
	case string:
		if id == "" {
			return nil, false
		}
		return id, true
	default:
		return nil, false
	}
}
func (uuidKind) FromDB(v interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("kaiso: expected uuid string, got %T", v)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("kaiso: parse uuid %q: %w", s, err)
	}
	return id, nil
}
func (uuidKind) Neutral() interface{} { return uuid.Nil }

// dateTimeKind encodes time.Time the way the teacher's timeEncoder does: a
// zero time is absent, everything else is RFC3339.
type dateTimeKind struct{}

func (dateTimeKind) Name() string { return "DateTime" }
func (dateTimeKind) ToDB(v interface{}) (interface{}, bool) {
	t, ok := v.(time.Time)
	if !ok || t.IsZero() {
		return nil, false
	}
	return t.Format(time.RFC3339), true
}
func (dateTimeKind) FromDB(v interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("kaiso: expected datetime string, got %T", v)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("kaiso: parse datetime %q: %w", s, err)
	}
	return t, nil
}
func (dateTimeKind) Neutral() interface{} { return time.Time{} }

var (
	// StringKind is the built-in Kind for string-valued attributes.
	StringKind Kind = stringKind{}
	// IntegerKind is the built-in Kind for integer-valued attributes.
	IntegerKind Kind = integerKind{}
	// BoolKind is the built-in Kind for bool-valued attributes.
	BoolKind Kind = boolKind{}
	// UuidKind is the built-in Kind for uuid.UUID-valued attributes.
	UuidKind Kind = uuidKind{}
	// DateTimeKind is the built-in Kind for time.Time-valued attributes.
	DateTimeKind Kind = dateTimeKind{}
)

var (
	kindsMu     sync.RWMutex
	kindsByName = map[string]Kind{
		"String":   StringKind,
		"Integer":  IntegerKind,
		"Bool":     BoolKind,
		"Uuid":     UuidKind,
		"DateTime": DateTimeKind,
	}
)

// RegisterKind registers a user-defined Kind under name, so it can be
// selected from a struct field with the kaiso:"kind=<name>" tag. This is the
// extension point for "user subclasses" of attribute kind referenced in the
// component design.
func RegisterKind(name string, kind Kind) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kindsByName[name] = kind
}

func lookupKind(name string) (Kind, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	k, ok := kindsByName[name]
	return k, ok
}

var (
	uuidType = reflect.TypeOf(uuid.UUID{})
	timeType = reflect.TypeOf(time.Time{})
)

// kindForGoType infers a built-in Kind from a struct field's Go type. It is
// used when a field has no explicit kaiso:"kind=..." tag override.
func kindForGoType(t reflect.Type) (Kind, bool) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch {
	case t == uuidType:
		return UuidKind, true
	case t == timeType:
		return DateTimeKind, true
	case t.Kind() == reflect.String:
		return StringKind, true
	case t.Kind() == reflect.Bool:
		return BoolKind, true
	case t.Kind() >= reflect.Int && t.Kind() <= reflect.Uint64:
		return IntegerKind, true
	default:
		return nil, false
	}
}
