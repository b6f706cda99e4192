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
	"reflect"
	"sort"
	"unsafe"
)

// structTagKey is the struct tag key used to opt a field out of
// serialization with `objgraph:"-"`, the Go analogue of .NET's
// [NonSerialized] attribute spec.md §4.3 refers to.
const structTagKey = "objgraph"

// fieldInfo describes one serializable instance field, in the order the
// field introspector produces (spec.md §4.3): deterministic, reproducible
// across processes, and identical between writer and reader.
type fieldInfo struct {
	name  string
	typ   reflect.Type
	index []int // path for reflect.Value.FieldByIndex
}

// isNonSerialized reports whether a struct field was explicitly excluded
// via the `objgraph:"-"` tag.
func isNonSerialized(f reflect.StructField) bool {
	tag, ok := f.Tag.Lookup(structTagKey)
	return ok && tag == "-"
}

// fieldsOf returns every serializable instance field of a concrete struct
// type T, walking from T up through its ancestor chain (Go's analogue of a
// base-class chain is one level of anonymous struct embedding per level).
// Within a level, fields are sorted lexicographically by name. The
// resulting order is pure: it depends only on T, never on discovery order
// or instance data, satisfying spec.md's Testable Property 5.
func fieldsOf(t reflect.Type) ([]fieldInfo, error) {
	if t.Kind() != reflect.Struct {
		return nil, &NotSerializableError{Type: t}
	}
	fields, err := collectFields(t, nil)
	if err != nil {
		return nil, err
	}
	if len(fields) >= sentinelFieldCount {
		return nil, &TooManyFieldsError{Type: t, Count: len(fields)}
	}
	return fields, nil
}

func collectFields(t reflect.Type, prefix []int) ([]fieldInfo, error) {
	type embeddedField struct {
		typ   reflect.Type
		index []int
	}
	var own []fieldInfo
	var embedded []embeddedField

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if isNonSerialized(f) {
			continue
		}
		index := make([]int, len(prefix)+1)
		copy(index, prefix)
		index[len(prefix)] = i

		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			embedded = append(embedded, embeddedField{typ: f.Type, index: index})
			continue
		}
		own = append(own, fieldInfo{name: f.Name, typ: f.Type, index: index})
	}

	sort.Slice(own, func(i, j int) bool { return own[i].name < own[j].name })

	result := own
	for _, ef := range embedded {
		sub, err := collectFields(ef.typ, ef.index)
		if err != nil {
			return nil, err
		}
		result = append(result, sub...)
	}
	return result, nil
}

// fieldValue returns a reflect.Value for a struct field that is readable
// (and, when v is itself addressable, settable), reaching through
// unexported fields with the same unsafe.Pointer-over-reflect.Value
// technique go-spew's internal dumper uses to inspect unexported state
// (spec.md §4.3: "public and non-public").
//
// An exported field is already fully usable via ordinary reflect calls
// regardless of whether v is addressable (only Set needs addressability,
// and a write-side caller never calls it); only an unexported field needs
// the unsafe escape hatch, and only when v is itself addressable (there is
// no way to recover an address reflect never gave out, which is why a
// root passed to Marshal as a raw, non-pointer struct with unexported
// fields is the one shape this package cannot serialize).
func fieldValue(v reflect.Value, fi fieldInfo) reflect.Value {
	fv := v.FieldByIndex(fi.index)
	if fv.CanInterface() {
		return fv
	}
	if fv.CanAddr() {
		return reflect.NewAt(fv.Type(), unsafe.Pointer(fv.UnsafeAddr())).Elem()
	}
	return fv
}
