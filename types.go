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
	"reflect"

	"github.com/google/uuid"
)

// Entity is the marker every persistable node type embeds, directly or
// transitively through another registered node type. It plays the role of
// both "Persistable" and "AttributedBase" from the glossary: Go has no
// metaclass machinery to keep those as distinct marker classes the way the
// original implementation does, so this translation collapses them into one
// embeddable root (see DESIGN.md).
type Entity struct {
	// UID is the graph engine's native node id, populated when an instance
	// is read back from storage. It is never a declared attribute and never
	// appears in a property dict.
	UID string `kaiso:"-"`
}

// TypeSystem is the singleton root node that anchors the mirrored type
// graph; Storage creates exactly one on Initialize.
type TypeSystem struct {
	Entity
	ID      string    `kaiso:"unique"`
	Version uuid.UUID
}

var (
	entityGoType       = reflect.TypeOf(Entity{})
	relationshipGoType = reflect.TypeOf(Relationship{})
)

func init() {
	if _, err := Register(Entity{}); err != nil {
		panic(err)
	}
	if _, err := Register(Relationship{}); err != nil {
		panic(err)
	}
	if _, err := Register(InstanceOf{}); err != nil {
		panic(err)
	}
	if _, err := Register(IsA{}); err != nil {
		panic(err)
	}
	if _, err := Register(DeclaredOn{}); err != nil {
		panic(err)
	}
	if _, err := Register(Defines{}); err != nil {
		panic(err)
	}
	if _, err := Register(TypeSystem{}); err != nil {
		panic(err)
	}
}

// CanPersist reports whether obj may be passed to Storage.Save: a
// TypeDescriptor (a "class object"), or a value that (transitively) embeds
// Entity or Relationship.
func CanPersist(obj interface{}) bool {
	if _, ok := obj.(*TypeDescriptor); ok {
		return true
	}
	t := reflect.TypeOf(obj)
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	return embeds(t, entityGoType) || embeds(t, relationshipGoType)
}

// IsRelationship reports whether obj's Go type (transitively) embeds
// Relationship.
func IsRelationship(obj interface{}) bool {
	t := reflect.TypeOf(obj)
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && embeds(t, relationshipGoType)
}

// setUID writes the graph engine's native node id onto obj's promoted
// Entity.UID field, if obj has one.
func setUID(obj interface{}, uid string) {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return
	}
	v = v.Elem()
	f := v.FieldByName("UID")
	if f.IsValid() && f.CanSet() && f.Kind() == reflect.String {
		f.SetString(uid)
	}
}

// embeds reports whether t is marker or (transitively, through anonymous
// fields) embeds it.
func embeds(t, marker reflect.Type) bool {
	if t == marker {
		return true
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if embeds(ft, marker) {
			return true
		}
	}
	return false
}
