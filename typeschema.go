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
	"strings"
)

// kindTag classifies a concrete (never pointer) type for schema and codec
// purposes. It is the Go-idiomatic split of spec.md §3's "array, primitive,
// or custom-serializable" special-type bucket from the regular
// field-carrying struct bucket.
type kindTag uint8

const (
	kindStruct kindTag = iota
	kindPrimitive
	kindArray
	kindMap
	kindCustom
)

// sentinelFieldCount is written in place of a real field count for
// array/primitive/custom/map types (spec.md §3, §6: "255").
const sentinelFieldCount = 255

var builtinPrimitiveKinds = map[reflect.Kind]bool{
	reflect.Bool: true, reflect.Int8: true, reflect.Int16: true,
	reflect.Int32: true, reflect.Int64: true, reflect.Uint8: true,
	reflect.Uint16: true, reflect.Uint32: true, reflect.Uint64: true,
	reflect.Float32: true, reflect.Float64: true, reflect.String: true,
}

// isOrderableKey reports whether a map key type can be put in a
// deterministic order by its formatted string form, which is what lets
// map[K]V be serialized at all (spec.md's Testable Property 4 forbids any
// output that depends on Go's randomized map iteration order; see
// SPEC_FULL.md §3).
func isOrderableKey(t reflect.Type) bool {
	return builtinPrimitiveKinds[t.Kind()]
}

// classify determines the kindTag of a concrete, already-dereferenced type.
func classify(t reflect.Type) (kindTag, error) {
	if builtinPrimitiveKinds[t.Kind()] {
		return kindPrimitive, nil
	}
	switch t.Kind() {
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Array {
			return 0, &UnsupportedRankError{Type: t}
		}
		return kindArray, nil
	case reflect.Map:
		if !isOrderableKey(t.Key()) {
			return 0, &NotSerializableError{Type: t}
		}
		return kindMap, nil
	case reflect.Struct:
		if implementsCustomSerialization(t) {
			return kindCustom, nil
		}
		return kindStruct, nil
	default:
		return 0, &NotSerializableError{Type: t}
	}
}

// derefFieldType returns the concrete type a struct field's content
// resolves to for declaration/schema purposes: a pointer field's Elem (a Go
// pointer field is this module's reference-type field, spec.md §4.4), or
// the field's own type otherwise (a Go value field is spec.md's embedded
// value-type field).
func derefFieldType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Ptr {
		return t.Elem()
	}
	return t
}

// ---- persistent name <-> type registry -------------------------------

// registry maps concrete struct types to the fully-qualified name used on
// the wire (spec.md §4.2). Built-in kinds (primitives, slices, maps) are
// named structurally and never need explicit registration, and pointer
// types have no wire name of their own (a pointer field is recorded under
// its pointee, see derefFieldType); only user-defined struct types need
// registration, because Go has no runtime facility to
// resolve an arbitrary type from its name the way .NET's
// Type.GetType(assemblyQualifiedName) does.
type registry struct {
	nameToType map[string]reflect.Type
	typeToName map[reflect.Type]string
}

func newRegistry() *registry {
	return &registry{
		nameToType: make(map[string]reflect.Type),
		typeToName: make(map[reflect.Type]string),
	}
}

// register records a struct type (or pointer to one) under its
// package-path-qualified name. Calling it twice for the same type is a
// no-op; calling it for two distinct types that happen to share a name is
// an error.
func (r *registry) register(sample interface{}) (reflect.Type, error) {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, &NotSerializableError{Type: t}
	}
	name := t.PkgPath() + "." + t.Name()
	if existing, ok := r.nameToType[name]; ok && existing != t {
		return nil, &NotSerializableError{Type: t}
	}
	r.nameToType[name] = t
	r.typeToName[t] = name
	return t, nil
}

// nameFor produces the wire name for a concrete (non-pointer) type,
// recursing into slice/map element types for composite names.
func (r *registry) nameFor(t reflect.Type) (string, error) {
	if builtinPrimitiveKinds[t.Kind()] {
		return t.Kind().String(), nil
	}
	switch t.Kind() {
	case reflect.Slice:
		elemName, err := r.nameFor(t.Elem())
		if err != nil {
			return "", err
		}
		return "[]" + elemName, nil
	case reflect.Map:
		keyName, err := r.nameFor(t.Key())
		if err != nil {
			return "", err
		}
		valName, err := r.nameFor(t.Elem())
		if err != nil {
			return "", err
		}
		return "map[" + keyName + "]" + valName, nil
	case reflect.Struct:
		if name, ok := r.typeToName[t]; ok {
			return name, nil
		}
		return "", &NotSerializableError{Type: t}
	default:
		return "", &NotSerializableError{Type: t}
	}
}

// typeFor is the inverse of nameFor.
func (r *registry) typeFor(name string) (reflect.Type, error) {
	if strings.HasPrefix(name, "[]") {
		elemType, err := r.typeFor(name[2:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elemType), nil
	}
	if strings.HasPrefix(name, "map[") {
		rest := name[len("map["):]
		closeIdx := strings.IndexByte(rest, ']')
		if closeIdx < 0 {
			return nil, &UnknownTypeError{Name: name}
		}
		keyType, err := r.typeFor(rest[:closeIdx])
		if err != nil {
			return nil, err
		}
		valType, err := r.typeFor(rest[closeIdx+1:])
		if err != nil {
			return nil, err
		}
		return reflect.MapOf(keyType, valType), nil
	}
	if t, ok := builtinKindByName[name]; ok {
		return t, nil
	}
	if t, ok := r.nameToType[name]; ok {
		return t, nil
	}
	return nil, &UnknownTypeError{Name: name}
}

var builtinKindByName = map[string]reflect.Type{
	"bool":    reflect.TypeOf(false),
	"int8":    reflect.TypeOf(int8(0)),
	"int16":   reflect.TypeOf(int16(0)),
	"int32":   reflect.TypeOf(int32(0)),
	"int64":   reflect.TypeOf(int64(0)),
	"uint8":   reflect.TypeOf(uint8(0)),
	"uint16":  reflect.TypeOf(uint16(0)),
	"uint32":  reflect.TypeOf(uint32(0)),
	"uint64":  reflect.TypeOf(uint64(0)),
	"float32": reflect.TypeOf(float32(0)),
	"float64": reflect.TypeOf(float64(0)),
	"string":  reflect.TypeOf(""),
}

// ---- per-call type table ------------------------------------------------

// schemaRow is the persisted description of one type's field layout
// (spec.md §3 "Schema of a type"). A sentinel row (Sentinel==true) stands
// in for array/primitive/custom/map types.
type schemaRow struct {
	Sentinel bool
	Fields   []schemaFieldRow
}

type schemaFieldRow struct {
	TypeID int
	Name   string
}

// typeTable is the per-call ordered type table described in spec.md §3: ids
// 0..typeCountForObjects-1 are types that appear as some instance's runtime
// type, ids typeCountForObjects..len-1 are additional field-only types.
// Exactly one call-local instance exists per Marshal/Unmarshal (spec.md §5:
// "the per-call identity map and instance table are call-local").
type typeTable struct {
	reg    *registry
	ids    map[reflect.Type]int
	types  []reflect.Type
	kinds  []kindTag
	names  []string
	hashes []uint64

	typeCountForObjects int // set once scan-types finishes
	stringTypeID        int
	objectsCount        int // header field; authoritative on read, informational on write
}

func newTypeTable(reg *registry) *typeTable {
	return &typeTable{reg: reg, ids: make(map[reflect.Type]int), stringTypeID: -1}
}

// idOf returns t's id, registering t alone on first sight; the types it
// depends on for schema purposes are added later by registerDeclaredTypes.
// This is the write-side half of spec.md §4.2's "idOf(type) -> int,
// inserting on first query".
func (tt *typeTable) idOf(t reflect.Type) (int, error) {
	if id, ok := tt.ids[t]; ok {
		return id, nil
	}
	kind, err := classify(t)
	if err != nil {
		return 0, err
	}
	name, err := tt.reg.nameFor(t)
	if err != nil {
		return 0, err
	}
	id := len(tt.types)
	tt.ids[t] = id
	tt.types = append(tt.types, t)
	tt.kinds = append(tt.kinds, kind)
	tt.names = append(tt.names, name)
	tt.hashes = append(tt.hashes, 0)
	if kind == kindPrimitive && t.Kind() == reflect.String && tt.stringTypeID < 0 {
		tt.stringTypeID = id
	}
	return id, nil
}

// idOfExisting returns a type's id, assuming idOf already registered it;
// used once the type table is closed for writing (spec.md §4.8's
// scan-types step has already run).
func (tt *typeTable) idOfExisting(t reflect.Type) int {
	return tt.ids[t]
}

// registerDeclaredTypes walks every instance type discovered by the BFS
// scan and additionally registers any type that appears only as a
// field/element/key declared type, never as an instance's own runtime
// type (spec.md §3: "additional types that appear only as declared field
// types"). It must run after the object scan fully drains and before
// schemas are built, since it can still grow tt.types.
func (tt *typeTable) registerDeclaredTypes() error {
	visited := make(map[reflect.Type]bool)
	var visit func(t reflect.Type) error
	visit = func(t reflect.Type) error {
		if visited[t] {
			return nil
		}
		visited[t] = true
		if _, err := tt.idOf(t); err != nil {
			return err
		}
		switch tt.kinds[tt.ids[t]] {
		case kindStruct:
			fields, err := fieldsOf(t)
			if err != nil {
				return err
			}
			for _, fi := range fields {
				if err := visit(derefFieldType(fi.typ)); err != nil {
					return err
				}
			}
		case kindArray:
			if err := visit(t.Elem()); err != nil {
				return err
			}
		case kindMap:
			if err := visit(t.Key()); err != nil {
				return err
			}
			if err := visit(t.Elem()); err != nil {
				return err
			}
		case kindPrimitive, kindCustom:
			// Leaves: primitives have no sub-types; custom types describe
			// their graph dynamically per instance, not via static fields.
		}
		return nil
	}
	i := 0
	for i < len(tt.types) {
		if err := visit(tt.types[i]); err != nil {
			return err
		}
		i++
	}
	return nil
}

// schemaRowFor builds the schemaRow for an already-registered type id,
// used both to serialize the schema section and to compute its hash.
func (tt *typeTable) schemaRowFor(id int) (schemaRow, error) {
	t := tt.types[id]
	if tt.kinds[id] != kindStruct {
		return schemaRow{Sentinel: true}, nil
	}
	fields, err := fieldsOf(t)
	if err != nil {
		return schemaRow{}, err
	}
	rows := make([]schemaFieldRow, len(fields))
	for i, fi := range fields {
		declared := derefFieldType(fi.typ)
		fieldID, ok := tt.ids[declared]
		if !ok {
			return schemaRow{}, &NotSerializableError{Type: declared}
		}
		rows[i] = schemaFieldRow{TypeID: fieldID, Name: fi.name}
	}
	return schemaRow{Fields: rows}, nil
}

// descriptorFor builds the process-independent schemaDescriptor (hash.go)
// for an already-registered type id, naming field types by string.
func (tt *typeTable) descriptorFor(id int) (schemaDescriptor, error) {
	row, err := tt.schemaRowFor(id)
	if err != nil {
		return schemaDescriptor{}, err
	}
	d := schemaDescriptor{TypeName: tt.names[id], Sentinel: row.Sentinel}
	for _, f := range row.Fields {
		d.Fields = append(d.Fields, fieldDescriptor{Name: f.Name, TypeName: tt.names[f.TypeID]})
	}
	return d, nil
}

// currentDescriptorFor builds the schemaDescriptor for a type resolved
// purely from live reflection, with no dependency on a typeTable's id
// numbering; used on the read side to compare against what the stream
// recorded (spec.md §4.9).
func currentDescriptorFor(reg *registry, t reflect.Type, name string) (schemaDescriptor, error) {
	kind, err := classify(t)
	if err != nil {
		return schemaDescriptor{}, err
	}
	if kind != kindStruct {
		return schemaDescriptor{TypeName: name, Sentinel: true}, nil
	}
	fields, err := fieldsOf(t)
	if err != nil {
		return schemaDescriptor{}, err
	}
	d := schemaDescriptor{TypeName: name}
	for _, fi := range fields {
		declaredName, err := reg.nameFor(derefFieldType(fi.typ))
		if err != nil {
			return schemaDescriptor{}, err
		}
		d.Fields = append(d.Fields, fieldDescriptor{Name: fi.name, TypeName: declaredName})
	}
	return d, nil
}
