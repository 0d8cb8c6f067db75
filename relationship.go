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

// Relationship is a typed edge between two persistable endpoints (instances
// or class objects). Users declare relationship types by embedding
// Relationship the same way they embed Entity for node types.
type Relationship struct {
	Start      interface{} `kaiso:"-"`
	End        interface{} `kaiso:"-"`
	Properties map[string]interface{} `kaiso:"-"`
}

// well-known relationship type ids, mirrored into the graph as the uppercase
// literal edge types INSTANCEOF/ISA/DECLAREDON/DEFINES.
const (
	relInstanceOf = "InstanceOf"
	relIsA        = "IsA"
	relDeclaredOn = "DeclaredOn"
	relDefines    = "Defines"
)

// InstanceOf links a persisted instance node to its immediate type node.
type InstanceOf struct {
	Relationship
}

// IsA links a type node to one of its direct base type nodes.
type IsA struct {
	Relationship
}

// DeclaredOn links an attribute node to the type node that declares it.
type DeclaredOn struct {
	Relationship
	Name string
}

// Defines links the TypeSystem root to the outermost type of a mirrored
// type hierarchy.
type Defines struct {
	Relationship
}
