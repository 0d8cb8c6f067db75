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

// DeclaredAttributes returns only the attributes declared directly on this
// type, in declaration order - no inherited attributes.
func (td *TypeDescriptor) DeclaredAttributes() []*AttributeSpec {
	out := make([]*AttributeSpec, 0, len(td.declaredOrder))
	for _, name := range td.declaredOrder {
		out = append(out, td.declared[name])
	}
	return out
}

// Attributes returns the effective attribute set: this type's own declared
// attributes followed by those inherited from its bases, depth-first in
// declaration order, with a name declared closer to td shadowing the same
// name declared further up the hierarchy. The result is memoized.
func (td *TypeDescriptor) Attributes() []*AttributeSpec {
	td.once.Do(td.computeEffective)
	out := make([]*AttributeSpec, len(td.effective))
	copy(out, td.effective)
	return out
}

// AttributeByName returns the effective attribute named name, or nil.
func (td *TypeDescriptor) AttributeByName(name string) *AttributeSpec {
	td.once.Do(td.computeEffective)
	return td.effectiveByName[name]
}

// UniqueAttributes returns the effective attributes flagged unique.
func (td *TypeDescriptor) UniqueAttributes() []*AttributeSpec {
	var out []*AttributeSpec
	for _, a := range td.Attributes() {
		if a.Unique {
			out = append(out, a)
		}
	}
	return out
}

// IndexNameForAttribute returns the index name a unique value for attribute
// name would be stored under: the type_id that declared it, not td's own
// type_id, so a unique attribute declared on a base is shared by every
// subclass instance (one index per declaring type, per the component
// design's §4.3 note on index_name).
func (td *TypeDescriptor) IndexNameForAttribute(name string) (string, bool) {
	a := td.AttributeByName(name)
	if a == nil || !a.Unique {
		return "", false
	}
	return a.DeclaredOn, true
}

func (td *TypeDescriptor) computeEffective() {
	seen := make(map[string]bool, len(td.declaredOrder))
	var effective []*AttributeSpec

	for _, name := range td.declaredOrder {
		seen[name] = true
		effective = append(effective, td.declared[name])
	}

	for _, baseID := range td.bases {
		base, err := td.registry.GetClassByID(baseID)
		if err != nil {
			continue
		}
		for _, a := range base.Attributes() {
			if seen[a.Name] {
				continue
			}
			seen[a.Name] = true
			effective = append(effective, a)
		}
	}

	byName := make(map[string]*AttributeSpec, len(effective))
	for _, a := range effective {
		byName[a.Name] = a
	}

	td.effective = effective
	td.effectiveByName = byName
}
