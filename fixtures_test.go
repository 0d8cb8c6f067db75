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

// Fixtures registered once for the whole test binary, the way a teacher's
// table-driven schema tests share one set of sample structs across files.

type Person struct {
	Entity
	Name    string `kaiso:"unique"`
	Age     int
	Likes   Outgoing `kaiso:"rel=Likes"`
	LikedBy Incoming `kaiso:"rel=Likes"`
}

type Employee struct {
	Person
	Company string `kaiso:"unique"`
}

type Likes struct {
	Relationship
	Since string
}

func init() {
	if _, err := Register(Person{}); err != nil {
		panic(err)
	}
	if _, err := Register(Employee{}); err != nil {
		panic(err)
	}
	if _, err := Register(Likes{}); err != nil {
		panic(err)
	}
}
