// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package objgraph

import (
	"fmt"
	"reflect"
)

// NotSerializableError is returned when a type reached during the scan
// phase has no registered or derivable codec.
type NotSerializableError struct {
	Type reflect.Type
}

func (e *NotSerializableError) Error() string {
	return fmt.Sprintf("objgraph: type %s is not serializable", e.Type)
}

// TooManyFieldsError is returned when a type has 255 or more serializable
// fields; 255 is reserved as the special-type sentinel in the schema row.
type TooManyFieldsError struct {
	Type  reflect.Type
	Count int
}

func (e *TooManyFieldsError) Error() string {
	return fmt.Sprintf("objgraph: type %s has %d serializable fields, max is 254", e.Type, e.Count)
}

// UnsupportedRankError is returned for a slice whose elements are
// fixed-size arrays ([][N]T), the closest Go shape to a multi-dimensional
// array; jagged slices-of-slices are fine and handled as ordinary
// reference arrays.
type UnsupportedRankError struct {
	Type reflect.Type
}

func (e *UnsupportedRankError) Error() string {
	return fmt.Sprintf("objgraph: type %s has unsupported rank", e.Type)
}

// UnknownTypeError is returned on read when a type name recorded in the
// stream cannot be resolved against the running process's type registry.
type UnknownTypeError struct {
	Name string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("objgraph: unknown type %q; register it before decoding", e.Name)
}

// SchemaSpecialMismatchError is returned on read when a type is an
// array/primitive/custom type on one side of the stream but not the other.
type SchemaSpecialMismatchError struct {
	Name string
}

func (e *SchemaSpecialMismatchError) Error() string {
	return fmt.Sprintf("objgraph: type %q changed between special (array/primitive/custom) and regular", e.Name)
}

// SchemaFieldMismatchError is returned on read when a field's count, order,
// name, or declared type no longer matches what the stream recorded.
type SchemaFieldMismatchError struct {
	Type  string
	Field string
	Want  string
	Got   string
}

func (e *SchemaFieldMismatchError) Error() string {
	return fmt.Sprintf("objgraph: schema mismatch on %s.%s: stream has %q, current type has %q",
		e.Type, e.Field, e.Got, e.Want)
}

// NoDeserializationCtorError is returned when a type opts into custom
// serialization but has no ConstructGraph method to absorb the decoded map.
type NoDeserializationCtorError struct {
	Type reflect.Type
}

func (e *NoDeserializationCtorError) Error() string {
	return fmt.Sprintf("objgraph: type %s describes itself for custom serialization but has no ConstructGraph", e.Type)
}

// TooManyInstancesError is returned when a Marshal call's reachable set
// exceeds the Serializer's configured WithMaxObjects cap.
type TooManyInstancesError struct {
	Max int
}

func (e *TooManyInstancesError) Error() string {
	return fmt.Sprintf("objgraph: object graph exceeds the configured limit of %d instances", e.Max)
}

// TruncatedStreamError is returned whenever a read runs past the end of the
// underlying byte stream before a value finished decoding.
type TruncatedStreamError struct {
	Context string
}

func (e *TruncatedStreamError) Error() string {
	return fmt.Sprintf("objgraph: truncated stream while reading %s", e.Context)
}
