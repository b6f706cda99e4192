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
	"sort"
	"sync"
	"unsafe"
)

// codec is the scanner/writer/reader triple spec.md §4.4-§4.6 describes for
// one concrete type, generated once via reflection and cached for the
// lifetime of a Serializer (spec.md §5).
type codec struct {
	typ    reflect.Type
	kind   kindTag
	fields []fieldInfo // kindStruct only

	scan  func(sess *writeSession, v reflect.Value)
	write func(sess *writeSession, strm *Stream, v reflect.Value) error
	read  func(sess *readSession, strm *Stream, v reflect.Value) error
}

type codecCache struct {
	reg *registry
	mu  sync.Mutex
	m   map[reflect.Type]*codec
}

func newCodecCache(reg *registry) *codecCache {
	return &codecCache{reg: reg, m: make(map[reflect.Type]*codec)}
}

func (cc *codecCache) get(t reflect.Type) (*codec, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if c, ok := cc.m[t]; ok {
		return c, nil
	}
	c, err := buildCodec(t)
	if err != nil {
		return nil, err
	}
	cc.m[t] = c
	return c, nil
}

func buildCodec(t reflect.Type) (*codec, error) {
	kind, err := classify(t)
	if err != nil {
		return nil, err
	}
	switch kind {
	case kindPrimitive:
		return buildPrimitiveCodec(t), nil
	case kindArray:
		return buildArrayCodec(t), nil
	case kindMap:
		return buildMapCodec(t), nil
	case kindCustom:
		return buildCustomCodec(t), nil
	default:
		return buildStructCodec(t)
	}
}

// ---- containers / boxed value identity --------------------------------

// containerKey is the dedup key for a Go value that already behaves like a
// reference type: pointer, slice, map, or string (spec.md §3's identity
// rules, adapted per SPEC_FULL.md §3 for Go value kinds).
func containerKey(v reflect.Value) interface{} {
	switch v.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map:
		return v.Pointer()
	case reflect.String:
		// reflect.Value has no Pointer()/UnsafePointer() support for
		// String (only Chan/Func/Map/Ptr/Slice/UnsafePointer); the string
		// header's data pointer together with its length is the closest
		// Go-level stand-in for .NET's string reference identity: two
		// strings with the same data pointer and length (as every empty
		// string has, and as interned literals may) dedupe to one id,
		// while a substring sharing a longer string's backing array gets
		// an id of its own.
		s := v.String()
		if len(s) == 0 {
			return uintptr(0)
		}
		return [2]uintptr{uintptr(unsafe.Pointer(unsafe.StringData(s))), uintptr(len(s))}
	default:
		panic("objgraph: containerKey called on non-container kind")
	}
}

// writeSession is the call-local state shared by the scan (mark/discover)
// and write (emit) passes of a single Marshal call.
type writeSession struct {
	cache *codecCache
	types *typeTable

	maxObjects int // 0 = unbounded (Serializer's WithMaxObjects)

	ids       map[interface{}]int
	instances []reflect.Value // 1-based; instances[0] unused
	queue     []int
	cursor    int
}

func newWriteSession(cache *codecCache, types *typeTable, maxObjects int) *writeSession {
	return &writeSession{
		cache:      cache,
		types:      types,
		maxObjects: maxObjects,
		ids:        make(map[interface{}]int),
		instances:  make([]reflect.Value, 1),
	}
}

func (sess *writeSession) insert(key interface{}, v reflect.Value) (int, error) {
	if _, err := sess.types.idOf(v.Type()); err != nil {
		return 0, err
	}
	id := len(sess.instances)
	if sess.maxObjects > 0 && id > sess.maxObjects {
		return 0, &TooManyInstancesError{Max: sess.maxObjects}
	}
	sess.instances = append(sess.instances, v)
	sess.ids[key] = id
	sess.queue = append(sess.queue, id)
	return id, nil
}

// markContainer assigns (or recalls) the id for a pointer/slice/map/string
// value, deduplicating by the Go-level identity the value already carries.
func (sess *writeSession) markContainer(v reflect.Value) (int, error) {
	key := containerKey(v)
	if id, ok := sess.ids[key]; ok {
		return id, nil
	}
	// The instance table holds the dereferenced pointee for pointers (so
	// its own codec, keyed by concrete type, drives scanning/writing), and
	// the container value itself for slices/maps/strings.
	content := v
	if v.Kind() == reflect.Ptr {
		content = v.Elem()
	}
	return sess.insert(key, content)
}

// markBoxed assigns (or recalls) the id for a value reached through a bare
// interface{} slot, which in Go (as in .NET boxing) always copies: every
// slot gets its own id, never deduplicated by content. slotAddr is the
// address of the interface{} variable itself (stable across the scan and
// write passes of one call), not the boxed content.
func (sess *writeSession) markBoxed(slotAddr uintptr, v reflect.Value) (int, error) {
	if id, ok := sess.ids[slotAddr]; ok {
		return id, nil
	}
	return sess.insert(slotAddr, v)
}

// drain runs the BFS scan phase to completion: every reachable instance is
// discovered and assigned an id before any byte is written (spec.md §4.8).
func (sess *writeSession) drain() error {
	for sess.cursor < len(sess.queue) {
		id := sess.queue[sess.cursor]
		sess.cursor++
		v := sess.instances[id]
		c, err := sess.cache.get(v.Type())
		if err != nil {
			return err
		}
		c.scan(sess, v)
	}
	return nil
}

// readSession is the call-local state of a single Unmarshal call.
type readSession struct {
	cache *codecCache
	types *typeTable // resolved from the stream

	objects []reflect.Value // 1-based, preallocated skeletons
	typeIDs []int           // 1-based, runtime type id per object

	// patches records every struct/array/map field whose content is a
	// slice, map, string, or interface{} value copied out of another
	// object's slot. Go slice/map/string headers are plain values, not
	// addresses, so copying one into a field while its own object is still
	// BodyParsed-pending (spec.md §4.10) would freeze in the pre-read zero
	// value on a forward reference. Deferring every such assignment until
	// every object's body has been parsed (applyPatches, called once by
	// the deserialization driver) gives these Go value-kinds the same
	// back-/cross-reference guarantee spec.md's id-first allocation gives
	// pointer fields for free.
	patches []fieldPatch

	pendingCustom []pendingCustomEntry
}

type fieldPatch struct {
	target reflect.Value
	id     int
	// asPointer is true when the original field held a Go pointer (the
	// object table entry is keyed by the pointee, per markContainer): the
	// patch must re-take that pointee's address rather than assign it by
	// value, or an interface{} field that boxed a *T would come back
	// boxing a bare T instead.
	asPointer bool
}

func (sess *readSession) deferAssign(target reflect.Value, id int) {
	if id == 0 {
		return
	}
	sess.patches = append(sess.patches, fieldPatch{target: target, id: id})
}

// deferAssignInterface is deferAssign for an interface{} field, which
// additionally must remember whether the boxed dynamic value was itself a
// pointer (see fieldPatch.asPointer).
func (sess *readSession) deferAssignInterface(target reflect.Value, id int, asPointer bool) {
	if id == 0 {
		return
	}
	sess.patches = append(sess.patches, fieldPatch{target: target, id: id, asPointer: asPointer})
}

// applyPatches resolves every deferred field assignment. Must run after
// every object's body has been parsed (spec.md §4.10's BodyParsed phase is
// complete for the whole graph) and before any custom-deserialization
// constructor or post-deserialization callback runs.
func (sess *readSession) applyPatches() {
	for _, p := range sess.patches {
		v := sess.objects[p.id]
		if p.asPointer {
			v = v.Addr()
		}
		p.target.Set(v)
	}
}

type pendingCustomEntry struct {
	target  reflect.Value
	entries map[string]interface{}
}

// deferredRef marks a custom-serialization entry value that names another
// object by id rather than carrying its content directly; it is resolved
// by the deserialization driver at the same point applyPatches runs, for
// the same forward-reference reason (custom map entries are captured
// during the BodyParsed pass, spec.md §4.7). asPointer mirrors
// fieldPatch.asPointer: a GraphEntry value that was itself a pointer must
// be reboxed as one.
type deferredRef struct {
	id        int
	asPointer bool
}

// ---- field-level scan/write/read dispatch ------------------------------

// scanFieldValue walks one struct field (or composite-array element) for
// nested references during the scan phase, mirroring writeFieldValue's
// dispatch exactly.
func scanFieldValue(sess *writeSession, declared reflect.Type, fv reflect.Value) error {
	switch declared.Kind() {
	case reflect.Ptr:
		if fv.IsNil() {
			return nil
		}
		_, err := sess.markContainer(fv)
		return err
	case reflect.Slice, reflect.Map:
		if fv.IsNil() {
			return nil
		}
		_, err := sess.markContainer(fv)
		return err
	case reflect.String:
		_, err := sess.markContainer(fv)
		return err
	case reflect.Interface:
		if fv.IsNil() {
			return nil
		}
		return scanBoxedSlot(sess, fv)
	case reflect.Struct:
		c, err := sess.cache.get(declared)
		if err != nil {
			return err
		}
		c.scan(sess, fv)
		return nil
	default:
		return nil // plain primitive, nothing to scan
	}
}

func scanBoxedSlot(sess *writeSession, fv reflect.Value) error {
	dyn := fv.Elem()
	switch dyn.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.String:
		_, err := sess.markContainer(dyn)
		return err
	default:
		if !fv.CanAddr() {
			return fmt.Errorf("objgraph: interface field holding %s is not addressable", dyn.Type())
		}
		_, err := sess.markBoxed(fv.Addr().Pointer(), dyn)
		return err
	}
}

// writeFieldValue emits the wire representation of one struct field (or
// composite-array element): an id for every reference kind, inline bytes
// for embedded value types and primitives.
func writeFieldValue(sess *writeSession, strm *Stream, declared reflect.Type, fv reflect.Value) error {
	objCount := len(sess.instances) - 1
	switch declared.Kind() {
	case reflect.Ptr:
		if fv.IsNil() {
			strm.WriteID(0, objCount)
			return nil
		}
		id, err := sess.markContainer(fv)
		if err != nil {
			return err
		}
		strm.WriteID(id, objCount)
		return nil
	case reflect.Slice, reflect.Map:
		if fv.IsNil() {
			strm.WriteID(0, objCount)
			return nil
		}
		id, err := sess.markContainer(fv)
		if err != nil {
			return err
		}
		strm.WriteID(id, objCount)
		return nil
	case reflect.String:
		id, err := sess.markContainer(fv)
		if err != nil {
			return err
		}
		strm.WriteID(id, objCount)
		return nil
	case reflect.Interface:
		if fv.IsNil() {
			strm.WriteBool(false)
			strm.WriteID(0, objCount)
			return nil
		}
		dyn := fv.Elem()
		var id int
		var err error
		asPointer := dyn.Kind() == reflect.Ptr
		switch dyn.Kind() {
		case reflect.Ptr, reflect.Slice, reflect.Map, reflect.String:
			id, err = sess.markContainer(dyn)
		default:
			id, err = sess.markBoxed(fv.Addr().Pointer(), dyn)
		}
		if err != nil {
			return err
		}
		strm.WriteBool(asPointer)
		strm.WriteID(id, objCount)
		return nil
	case reflect.Struct:
		c, err := sess.cache.get(declared)
		if err != nil {
			return err
		}
		return c.write(sess, strm, fv)
	default:
		return writePrimitiveValue(strm, fv)
	}
}

// readFieldValue is writeFieldValue's inverse. objects/typeIDs of referenced
// ids are resolved lazily: by the time a BodyParsed object's fields are
// wired up, every object's skeleton already exists (spec.md §4.10), so a
// forward reference only ever needs the *skeleton*, never its finished
// content.
func readFieldValue(sess *readSession, strm *Stream, declared reflect.Type, fv reflect.Value) error {
	objCount := len(sess.objects) - 1
	switch declared.Kind() {
	case reflect.Ptr:
		id, err := strm.ReadID(objCount)
		if err != nil {
			return err
		}
		if id == 0 {
			return nil
		}
		fv.Set(sess.objects[id].Addr())
		return nil
	case reflect.Slice, reflect.Map:
		id, err := strm.ReadID(objCount)
		if err != nil {
			return err
		}
		sess.deferAssign(fv, id)
		return nil
	case reflect.String:
		id, err := strm.ReadID(objCount)
		if err != nil {
			return err
		}
		sess.deferAssign(fv, id)
		return nil
	case reflect.Interface:
		asPointer, err := strm.ReadBool()
		if err != nil {
			return err
		}
		id, err := strm.ReadID(objCount)
		if err != nil {
			return err
		}
		// Setting an interface{} field from any concrete reflect.Value
		// (pointer, slice, map, string, or a boxed struct/primitive) boxes
		// it the same way a plain Go assignment would; deferred for the
		// same reason as the Slice/Map/String cases above.
		sess.deferAssignInterface(fv, id, asPointer)
		return nil
	case reflect.Struct:
		c, err := sess.cache.get(declared)
		if err != nil {
			return err
		}
		return c.read(sess, strm, fv)
	default:
		return readPrimitiveValue(strm, declared, fv)
	}
}

// ---- primitive codec ----------------------------------------------------

func buildPrimitiveCodec(t reflect.Type) *codec {
	return &codec{
		typ:  t,
		kind: kindPrimitive,
		scan: func(sess *writeSession, v reflect.Value) {},
		write: func(sess *writeSession, strm *Stream, v reflect.Value) error {
			return writePrimitiveValue(strm, v)
		},
		read: func(sess *readSession, strm *Stream, v reflect.Value) error {
			return readPrimitiveValue(strm, t, v)
		},
	}
}

func writePrimitiveValue(strm *Stream, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Bool:
		strm.WriteBool(v.Bool())
	case reflect.Int8:
		strm.WriteInt8(int8(v.Int()))
	case reflect.Int16:
		strm.WriteInt16(int16(v.Int()))
	case reflect.Int32:
		strm.WriteInt32(int32(v.Int()))
	case reflect.Int64:
		strm.WriteInt64(v.Int())
	case reflect.Uint8:
		strm.WriteUint8(uint8(v.Uint()))
	case reflect.Uint16:
		strm.WriteUint16(uint16(v.Uint()))
	case reflect.Uint32:
		strm.WriteUint32(uint32(v.Uint()))
	case reflect.Uint64:
		strm.WriteUint64(v.Uint())
	case reflect.Float32:
		strm.WriteFloat32(float32(v.Float()))
	case reflect.Float64:
		strm.WriteFloat64(v.Float())
	case reflect.String:
		strm.WriteString_(v.String())
	default:
		return &NotSerializableError{Type: v.Type()}
	}
	return nil
}

func readPrimitiveValue(strm *Stream, t reflect.Type, v reflect.Value) error {
	switch t.Kind() {
	case reflect.Bool:
		b, err := strm.ReadBool()
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int8:
		x, err := strm.ReadInt8()
		if err != nil {
			return err
		}
		v.SetInt(int64(x))
	case reflect.Int16:
		x, err := strm.ReadInt16()
		if err != nil {
			return err
		}
		v.SetInt(int64(x))
	case reflect.Int32:
		x, err := strm.ReadInt32()
		if err != nil {
			return err
		}
		v.SetInt(int64(x))
	case reflect.Int64:
		x, err := strm.ReadInt64()
		if err != nil {
			return err
		}
		v.SetInt(x)
	case reflect.Uint8:
		x, err := strm.ReadUint8()
		if err != nil {
			return err
		}
		v.SetUint(uint64(x))
	case reflect.Uint16:
		x, err := strm.ReadUint16()
		if err != nil {
			return err
		}
		v.SetUint(uint64(x))
	case reflect.Uint32:
		x, err := strm.ReadUint32()
		if err != nil {
			return err
		}
		v.SetUint(uint64(x))
	case reflect.Uint64:
		x, err := strm.ReadUint64()
		if err != nil {
			return err
		}
		v.SetUint(x)
	case reflect.Float32:
		x, err := strm.ReadFloat32()
		if err != nil {
			return err
		}
		v.SetFloat(float64(x))
	case reflect.Float64:
		x, err := strm.ReadFloat64()
		if err != nil {
			return err
		}
		v.SetFloat(x)
	case reflect.String:
		x, err := strm.ReadString_()
		if err != nil {
			return err
		}
		v.SetString(x)
	default:
		return &NotSerializableError{Type: t}
	}
	return nil
}

// ---- array (slice) codec ------------------------------------------------

func buildArrayCodec(t reflect.Type) *codec {
	elem := t.Elem()
	isByteSlice := elem.Kind() == reflect.Uint8

	return &codec{
		typ:  t,
		kind: kindArray,
		scan: func(sess *writeSession, v reflect.Value) {
			if isByteSlice || isPlainPrimitiveKind(elem.Kind()) {
				return
			}
			for i := 0; i < v.Len(); i++ {
				_ = scanFieldValue(sess, elem, v.Index(i))
			}
		},
		write: func(sess *writeSession, strm *Stream, v reflect.Value) error {
			strm.WriteVarUint32(uint32(v.Len()))
			if isByteSlice {
				strm.WriteBinary(v.Bytes())
				return nil
			}
			for i := 0; i < v.Len(); i++ {
				if err := writeFieldValue(sess, strm, elem, v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		},
		read: func(sess *readSession, strm *Stream, v reflect.Value) error {
			n, err := strm.ReadVarUint32()
			if err != nil {
				return err
			}
			slice := reflect.MakeSlice(t, int(n), int(n))
			if isByteSlice {
				b, err := strm.ReadBinaryExact(int(n))
				if err != nil {
					return err
				}
				reflect.Copy(slice, reflect.ValueOf(b))
				v.Set(slice)
				return nil
			}
			for i := 0; i < int(n); i++ {
				if err := readFieldValue(sess, strm, elem, slice.Index(i)); err != nil {
					return err
				}
			}
			v.Set(slice)
			return nil
		},
	}
}

func isPlainPrimitiveKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// ---- map codec (deterministic key order, SPEC_FULL.md §3) --------------

func buildMapCodec(t reflect.Type) *codec {
	keyType := t.Key()
	valType := t.Elem()

	orderedKeys := func(v reflect.Value) []reflect.Value {
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		return keys
	}

	return &codec{
		typ:  t,
		kind: kindMap,
		scan: func(sess *writeSession, v reflect.Value) {
			for _, k := range orderedKeys(v) {
				_ = scanFieldValue(sess, valType, v.MapIndex(k))
			}
		},
		write: func(sess *writeSession, strm *Stream, v reflect.Value) error {
			keys := orderedKeys(v)
			strm.WriteVarUint32(uint32(len(keys)))
			for _, k := range keys {
				if err := writePrimitiveValue(strm, k); err != nil {
					return err
				}
				if err := writeFieldValue(sess, strm, valType, v.MapIndex(k)); err != nil {
					return err
				}
			}
			return nil
		},
		read: func(sess *readSession, strm *Stream, v reflect.Value) error {
			n, err := strm.ReadVarUint32()
			if err != nil {
				return err
			}
			m := reflect.MakeMapWithSize(t, int(n))
			for i := 0; i < int(n); i++ {
				k := reflect.New(keyType).Elem()
				if err := readPrimitiveValue(strm, keyType, k); err != nil {
					return err
				}
				val := reflect.New(valType).Elem()
				if err := readFieldValue(sess, strm, valType, val); err != nil {
					return err
				}
				m.SetMapIndex(k, val)
			}
			v.Set(m)
			return nil
		},
	}
}

// ---- struct codec --------------------------------------------------------

func buildStructCodec(t reflect.Type) (*codec, error) {
	fields, err := fieldsOf(t)
	if err != nil {
		return nil, err
	}
	return &codec{
		typ:    t,
		kind:   kindStruct,
		fields: fields,
		scan: func(sess *writeSession, v reflect.Value) {
			for _, fi := range fields {
				fv := fieldValue(v, fi)
				// fi.typ (not its deref'd pointee) drives dispatch here: a
				// *Foo field is a reference (handled by the Ptr case below)
				// while a plain embedded Foo field is a value to recurse
				// into structurally. derefFieldType is only for the
				// schema's recorded declared-type id (typeschema.go), which
				// names the pointee either way.
				_ = scanFieldValue(sess, fi.typ, fv)
			}
		},
		write: func(sess *writeSession, strm *Stream, v reflect.Value) error {
			for _, fi := range fields {
				fv := fieldValue(v, fi)
				if err := writeFieldValue(sess, strm, fi.typ, fv); err != nil {
					return fmt.Errorf("field %s.%s: %w", t.Name(), fi.name, err)
				}
			}
			return nil
		},
		read: func(sess *readSession, strm *Stream, v reflect.Value) error {
			for _, fi := range fields {
				fv := fieldValue(v, fi)
				if err := readFieldValue(sess, strm, fi.typ, fv); err != nil {
					return fmt.Errorf("field %s.%s: %w", t.Name(), fi.name, err)
				}
			}
			return nil
		},
	}, nil
}

// ---- custom-serializable codec (spec.md §4.7) ---------------------------

func buildCustomCodec(t reflect.Type) *codec {
	return &codec{
		typ:  t,
		kind: kindCustom,
		scan: func(sess *writeSession, v reflect.Value) {
			for _, entry := range describeGraph(v) {
				ev := reflect.ValueOf(entry.Value)
				if !ev.IsValid() {
					continue
				}
				_ = scanEntryValue(sess, ev)
			}
		},
		write: func(sess *writeSession, strm *Stream, v reflect.Value) error {
			entries := describeGraph(v)
			strm.WriteVarUint32(uint32(len(entries)))
			for _, entry := range entries {
				strm.WriteString_(entry.Name)
				if err := writeEntryValue(sess, strm, entry.Value); err != nil {
					return err
				}
			}
			return nil
		},
		read: func(sess *readSession, strm *Stream, v reflect.Value) error {
			n, err := strm.ReadVarUint32()
			if err != nil {
				return err
			}
			entries := make(map[string]interface{}, n)
			for i := 0; i < int(n); i++ {
				name, err := strm.ReadString_()
				if err != nil {
					return err
				}
				val, err := readEntryValue(sess, strm)
				if err != nil {
					return err
				}
				entries[name] = val
			}
			sess.pendingCustom = append(sess.pendingCustom, pendingCustomEntry{target: v, entries: entries})
			return nil
		},
	}
}

// scanEntryValue marks the object a GraphEntry value refers to when that
// value is a pointer, slice, map, or string, the kinds an interface{} field
// also dedupes by identity. Unlike an interface{} field, a primitive entry
// value gets no id of its own: writeEntryValue writes it inline.
func scanEntryValue(sess *writeSession, ev reflect.Value) error {
	switch ev.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.String:
		_, err := sess.markContainer(ev)
		return err
	default:
		return nil // primitives written inline, no id needed
	}
}

func writeEntryValue(sess *writeSession, strm *Stream, value interface{}) error {
	ev := reflect.ValueOf(value)
	if !ev.IsValid() {
		strm.WriteByte_(0)
		return nil
	}
	switch ev.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.String:
		strm.WriteByte_(1)
		strm.WriteBool(ev.Kind() == reflect.Ptr)
		objCount := len(sess.instances) - 1
		id, err := sess.markContainer(ev)
		if err != nil {
			return err
		}
		strm.WriteID(id, objCount)
		return nil
	default:
		strm.WriteByte_(2)
		strm.WriteByte_(byte(ev.Kind()))
		return writePrimitiveValue(strm, ev)
	}
}

func readEntryValue(sess *readSession, strm *Stream) (interface{}, error) {
	tag, err := strm.ReadByte_()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		return nil, nil
	case 1:
		asPointer, err := strm.ReadBool()
		if err != nil {
			return nil, err
		}
		objCount := len(sess.objects) - 1
		id, err := strm.ReadID(objCount)
		if err != nil {
			return nil, err
		}
		if id == 0 {
			return nil, nil
		}
		// Resolved later by the deserialization driver, once every
		// object's body has been parsed (spec.md §4.7/§4.10): the
		// referenced object may still be BodyParsed-pending here.
		return deferredRef{id: id, asPointer: asPointer}, nil
	default:
		kindByte, err := strm.ReadByte_()
		if err != nil {
			return nil, err
		}
		return readDynamicPrimitive(strm, reflect.Kind(kindByte))
	}
}

// readDynamicPrimitive decodes a GraphEntry primitive into a freshly
// allocated reflect.Value of the kind writeEntryValue recorded, since a
// custom type's ConstructGraph map has no other source of static typing
// for these self-describing entries.
func readDynamicPrimitive(strm *Stream, kind reflect.Kind) (interface{}, error) {
	var zero reflect.Value
	switch kind {
	case reflect.Bool:
		zero = reflect.New(reflect.TypeOf(false)).Elem()
	case reflect.Int8:
		zero = reflect.New(reflect.TypeOf(int8(0))).Elem()
	case reflect.Int16:
		zero = reflect.New(reflect.TypeOf(int16(0))).Elem()
	case reflect.Int32:
		zero = reflect.New(reflect.TypeOf(int32(0))).Elem()
	case reflect.Int64:
		zero = reflect.New(reflect.TypeOf(int64(0))).Elem()
	case reflect.Uint8:
		zero = reflect.New(reflect.TypeOf(uint8(0))).Elem()
	case reflect.Uint16:
		zero = reflect.New(reflect.TypeOf(uint16(0))).Elem()
	case reflect.Uint32:
		zero = reflect.New(reflect.TypeOf(uint32(0))).Elem()
	case reflect.Uint64:
		zero = reflect.New(reflect.TypeOf(uint64(0))).Elem()
	case reflect.Float32:
		zero = reflect.New(reflect.TypeOf(float32(0))).Elem()
	case reflect.Float64:
		zero = reflect.New(reflect.TypeOf(float64(0))).Elem()
	case reflect.String:
		zero = reflect.New(reflect.TypeOf("")).Elem()
	default:
		return nil, &NotSerializableError{}
	}
	if err := readPrimitiveValue(strm, zero.Type(), zero); err != nil {
		return nil, err
	}
	return zero.Interface(), nil
}
