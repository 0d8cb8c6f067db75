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
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned when a type_id cannot be resolved in either
	// the dynamic or static registry namespace.
	ErrUnknownType = errors.New("kaiso: unknown type")

	// ErrTypeAlreadyRegistered is returned by Register/RegisterDynamicType when
	// a type_id collides within the same namespace.
	ErrTypeAlreadyRegistered = errors.New("kaiso: type already registered")

	// ErrDeserialisation is returned when a property dict can't be turned back
	// into an object, e.g. it is missing "__type__".
	ErrDeserialisation = errors.New("kaiso: deserialisation error")

	// ErrNotIndexable is returned when an index lookup is attempted against an
	// object with no unique attribute.
	ErrNotIndexable = errors.New("kaiso: object has no unique index")

	// ErrCannotPersist is returned by Save when obj does not derive from the
	// persistable root.
	ErrCannotPersist = errors.New("kaiso: object is not persistable")

	// ErrNotFound is returned by Storage's internal update path when the
	// instance matched moments earlier by Get has vanished by the time the
	// update write runs. Get itself returns (nil, nil) for "not found" - see
	// its doc comment - since that is not an error condition.
	ErrNotFound = errors.New("kaiso: not found")

	// ErrUniqueAttributeChangeNotSupported is returned by Save when a changed
	// field is part of a unique index. Migrating an already-persisted
	// instance's unique attributes is explicitly out of scope.
	ErrUniqueAttributeChangeNotSupported = errors.New(
		"kaiso: changing a unique attribute on an existing instance is not supported")
)

// UniqueConstraintError is returned when a unique lookup resolves to more than
// one distinct node/edge id.
type UniqueConstraintError struct {
	TypeID string
	Found  int
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("kaiso: %d nodes found for unique lookup of %s, expected at most 1", e.Found, e.TypeID)
}
