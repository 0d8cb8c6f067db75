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

// Package testkit holds fixtures for tests that register throwaway types
// against the package-wide static registry and need to leave it exactly as
// they found it afterward.
package testkit

import "github.com/pombredanne/kaiso"

// TemporaryTypes snapshots the static registry's type_ids on Start and
// removes whatever Start...Stop registered on Stop, the same scope-bounded
// pattern as kaiso/test_helpers.py's TemporaryStaticTypes context manager -
// translated to an explicit Start/Stop pair since Go has no `with` block.
// The zero value is ready to use.
type TemporaryTypes struct {
	before map[string]bool
}

// Start records the static registry's current type_ids. Call it before
// registering any test-only type.
func (t *TemporaryTypes) Start() {
	t.before = make(map[string]bool)
	for _, id := range kaiso.TypeIDs() {
		t.before[id] = true
	}
}

// Stop removes every type_id present in the static registry now that wasn't
// there at Start, undoing any kaiso.Register calls made in between. Safe to
// call without a matching Start (a no-op).
func (t *TemporaryTypes) Stop() {
	if t.before == nil {
		return
	}
	for _, id := range kaiso.TypeIDs() {
		if !t.before[id] {
			kaiso.Remove(id)
		}
	}
	t.before = nil
}
