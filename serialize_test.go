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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectToDictClassObject(t *testing.T) {
	td, err := staticRegistry.GetClassByID("Entity")
	require.NoError(t, err)

	d, err := ObjectToDict(staticRegistry, td)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"__type__": "PersistableMeta",
		"id":       "Entity",
	}, d)
}

func TestDictToObjectClassObject(t *testing.T) {
	d := map[string]interface{}{"__type__": "PersistableMeta", "id": "Entity"}
	obj, err := DictToObject(staticRegistry, d)
	require.NoError(t, err)
	td, ok := obj.(*TypeDescriptor)
	require.True(t, ok)
	assert.Equal(t, "Entity", td.TypeID())
}

func TestObjectToDictInstance(t *testing.T) {
	p := &Person{Name: "Ada", Age: 30}
	d, err := ObjectToDict(staticRegistry, p)
	require.NoError(t, err)
	assert.Equal(t, "Person", d["__type__"])
	assert.Equal(t, "Ada", d["Name"])
	assert.Equal(t, int64(30), d["Age"])
}

func TestObjectToDictOmitsZeroValues(t *testing.T) {
	p := &Person{Name: "Ada"}
	d, err := ObjectToDict(staticRegistry, p)
	require.NoError(t, err)
	_, present := d["Age"]
	assert.False(t, present, "zero Age should be omitted per each Kind's ToDB rule")
}

func TestDictToObjectInstance(t *testing.T) {
	d := map[string]interface{}{"__type__": "Person", "Name": "Grace", "Age": int64(45)}
	obj, err := DictToObject(staticRegistry, d)
	require.NoError(t, err)
	p, ok := obj.(*Person)
	require.True(t, ok)
	assert.Equal(t, "Grace", p.Name)
	assert.Equal(t, 45, p.Age)
}

func TestDictToObjectMissingTypeIsDeserialisationError(t *testing.T) {
	_, err := DictToObject(staticRegistry, map[string]interface{}{"Name": "x"})
	assert.ErrorIs(t, err, ErrDeserialisation)
}

func TestRelationshipPropertiesRoundTrip(t *testing.T) {
	rel := &Likes{
		Relationship: Relationship{Properties: map[string]interface{}{"weight": float64(3), "note": "friends"}},
		Since:        "2020",
	}
	d, err := ObjectToDict(staticRegistry, rel)
	require.NoError(t, err)
	assert.Equal(t, "2020", d["Since"])
	assert.Equal(t, float64(3), d["weight"])
	assert.Equal(t, "friends", d["note"])
	assert.NotContains(t, d, "Start")
	assert.NotContains(t, d, "End")
	assert.NotContains(t, d, "Properties")

	obj, err := DictToObject(staticRegistry, d)
	require.NoError(t, err)
	back, ok := obj.(*Likes)
	require.True(t, ok)
	assert.Equal(t, "2020", back.Since)
	assert.Equal(t, float64(3), back.Properties["weight"])
	assert.Equal(t, "friends", back.Properties["note"])
}

func TestGetTypeRelationshipsForInstance(t *testing.T) {
	seen := NewTypeRelationshipSeen()
	rels, err := GetTypeRelationships(staticRegistry, &Person{Name: "Ada"}, seen)
	require.NoError(t, err)

	var sawInstanceOf, sawIsA bool
	for _, r := range rels {
		if r.RelType == relInstanceOf {
			sawInstanceOf = true
		}
		if r.RelType == relIsA {
			sawIsA = true
		}
	}
	assert.True(t, sawInstanceOf)
	assert.True(t, sawIsA)
}

func TestGetTypeRelationshipsDeduped(t *testing.T) {
	seen := NewTypeRelationshipSeen()
	first, err := GetTypeRelationships(staticRegistry, &Person{Name: "Ada"}, seen)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := GetTypeRelationships(staticRegistry, &Person{Name: "Grace"}, seen)
	require.NoError(t, err)

	for _, r := range second {
		assert.NotEqual(t, relIsA, r.RelType, "IsA/DeclaredOn edges for Person's hierarchy were already seen")
		assert.NotEqual(t, relDeclaredOn, r.RelType)
	}
	// Each instance still gets its own InstanceOf edge.
	assert.Equal(t, relInstanceOf, second[0].RelType)
}

func TestGetChangesReportsOnlyChangedField(t *testing.T) {
	before := &Person{Name: "Ada", Age: 30}
	after := &Person{Name: "Ada", Age: 31}

	changes, err := GetChanges(staticRegistry, before, after)
	require.NoError(t, err)
	assert.Equal(t, int64(31), changes.Changed["Age"])
	assert.Empty(t, changes.Added)
	assert.Empty(t, changes.Removed)
}

func TestGetChangesFlagsUniqueAttributeChange(t *testing.T) {
	before := &Person{Name: "Ada", Age: 30}
	after := &Person{Name: "Augusta", Age: 30}

	changes, err := GetChanges(staticRegistry, before, after)
	require.NoError(t, err)
	assert.Contains(t, changes.Unique, "Name")
}
