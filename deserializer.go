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

// Unmarshal decodes data, previously produced by Marshal against a
// Serializer whose registry carries the same struct types, into a
// reconstructed graph and returns its root (spec.md §4.9 step 8: "return
// objects[1], or null if there are no objects"). Every struct type
// reachable from the original root must already be Registered with s.
//
// A struct root — whether it was marshaled as a *T or as a raw, boxed T —
// always comes back as a *T, since a freshly allocated struct skeleton is
// naturally addressable and a pointer is the more useful Go-level handle
// on it. Any other root kind (slice, map, string, primitive) comes back
// as that same kind, boxed in the returned interface{}.
func (s *Serializer) Unmarshal(data []byte) (interface{}, error) {
	strm := NewStreamFromBytes(data)

	types, err := readTypeSection(strm, s.reg)
	if err != nil {
		return nil, err
	}
	if s.maxObjects > 0 && types.objectsCount > s.maxObjects {
		return nil, &TooManyInstancesError{Max: s.maxObjects}
	}

	sess := &readSession{cache: s.cache, types: types}
	objCount := types.objectsCount
	sess.objects = make([]reflect.Value, objCount+1)
	sess.typeIDs = make([]int, objCount+1)

	if err := announceObjects(sess, strm, types, objCount); err != nil {
		return nil, err
	}
	if err := parseObjectBodies(sess, strm, objCount); err != nil {
		return nil, err
	}

	// All objects have reached BodyParsed; every deferred slice/map/
	// string/interface field and custom-entry reference can now be
	// resolved safely (spec.md §4.10).
	sess.applyPatches()

	if err := runCustomConstructors(sess); err != nil {
		return nil, err
	}
	runFinalizers(sess, objCount)

	if objCount == 0 {
		return nil, nil
	}
	return rootValue(sess.objects[1]), nil
}

// rootValue recovers the caller-facing representation of object id 1: a
// struct is returned by address (matching the common Go convention of
// passing a *T root to Marshal), everything else — slice, map, string,
// boxed primitive — is returned as-is.
func rootValue(v reflect.Value) interface{} {
	if v.Kind() == reflect.Struct && v.CanAddr() {
		return v.Addr().Interface()
	}
	return v.Interface()
}

// announceObjects is spec.md §4.9 step 4: for every object id, read its
// type id and allocate uninitialized storage, before any body is parsed.
// This is what lets a body parsed later safely reference an object parsed
// earlier by id, and vice versa (spec.md §4.10's Announced phase).
func announceObjects(sess *readSession, strm *Stream, types *typeTable, objCount int) error {
	typeCount := len(types.types)
	for i := 1; i <= objCount; i++ {
		tid, err := strm.ReadID(typeCount)
		if err != nil {
			return err
		}
		if tid < 0 || tid >= types.typeCountForObjects {
			return &UnknownTypeError{Name: fmt.Sprintf("type id %d (schema-only region, not a valid object type)", tid)}
		}
		sess.typeIDs[i] = tid
		sess.objects[i] = reflect.New(types.types[tid]).Elem()
	}
	return nil
}

// parseObjectBodies is spec.md §4.9 step 5: invoke each object's cached
// reader in id order. Custom-serializable objects capture their decoded
// map into sess.pendingCustom instead of being filled directly; everything
// else has its fields (or elements) read straight into its skeleton.
func parseObjectBodies(sess *readSession, strm *Stream, objCount int) error {
	for i := 1; i <= objCount; i++ {
		t := sess.types.types[sess.typeIDs[i]]
		c, err := sess.cache.get(t)
		if err != nil {
			return err
		}
		if err := c.read(sess, strm, sess.objects[i]); err != nil {
			return fmt.Errorf("objgraph: reading object %d (%s): %w", i, t, err)
		}
	}
	return nil
}

// runCustomConstructors is spec.md §4.9 step 6 / §4.10's CustomConstructed
// phase: every deferred custom-serializable entry is resolved (any
// by-id entry becomes the now-finished referent) and handed to the type's
// ConstructGraph.
func runCustomConstructors(sess *readSession) error {
	for _, pc := range sess.pendingCustom {
		resolved := make(map[string]interface{}, len(pc.entries))
		for k, v := range pc.entries {
			if ref, ok := v.(deferredRef); ok {
				target := sess.objects[ref.id]
				if ref.asPointer {
					target = target.Addr()
				}
				resolved[k] = target.Interface()
				continue
			}
			resolved[k] = v
		}
		if err := constructGraph(pc.target, resolved); err != nil {
			return err
		}
	}
	return nil
}

// runFinalizers is spec.md §4.9 step 7 / §4.10's Finalized phase: every
// object's optional post-deserialization callback runs last, in id order,
// once every object in the call (custom or not) is fully built.
func runFinalizers(sess *readSession, objCount int) {
	for i := 1; i <= objCount; i++ {
		finalizeGraph(sess.objects[i])
	}
}

// readTypeSection is the inverse of writeHeaderAndTypeSection: it parses
// the header and type/schema tables, resolves every type name against the
// registry, and validates each resolved type's live schema against what
// the stream recorded (spec.md §4.9 steps 1-3).
func readTypeSection(strm *Stream, reg *registry) (*typeTable, error) {
	typeCount, err := strm.ReadVarUint32()
	if err != nil {
		return nil, err
	}
	objCount, err := strm.ReadVarUint32()
	if err != nil {
		return nil, err
	}
	typeCountForObjects, err := strm.ReadVarUint32()
	if err != nil {
		return nil, err
	}
	stringTypeID, err := strm.ReadVarInt32()
	if err != nil {
		return nil, err
	}

	types := &typeTable{
		reg:                 reg,
		ids:                 make(map[reflect.Type]int),
		stringTypeID:        int(stringTypeID),
		typeCountForObjects: int(typeCountForObjects),
		objectsCount:        int(objCount),
	}

	names := make([]string, typeCount)
	for i := range names {
		name, err := strm.ReadString_()
		if err != nil {
			return nil, err
		}
		names[i] = name
	}
	types.names = names

	types.types = make([]reflect.Type, typeCount)
	types.kinds = make([]kindTag, typeCount)
	for i, name := range names {
		t, err := reg.typeFor(name)
		if err != nil {
			return nil, err
		}
		kind, err := classify(t)
		if err != nil {
			return nil, err
		}
		types.types[i] = t
		types.kinds[i] = kind
		types.ids[t] = i
	}

	rows := make([]schemaRow, typeCount)
	for i := 0; i < int(typeCount); i++ {
		fieldCount, err := strm.ReadByte_()
		if err != nil {
			return nil, err
		}
		if fieldCount == sentinelFieldCount {
			rows[i] = schemaRow{Sentinel: true}
			continue
		}
		fields := make([]schemaFieldRow, fieldCount)
		for j := range fields {
			fid, err := strm.ReadID(int(typeCount))
			if err != nil {
				return nil, err
			}
			fname, err := strm.ReadString_()
			if err != nil {
				return nil, err
			}
			fields[j] = schemaFieldRow{TypeID: fid, Name: fname}
		}
		rows[i] = schemaRow{Fields: fields}
	}

	types.hashes = make([]uint64, typeCount)
	for i := range types.hashes {
		h, err := strm.ReadUint64()
		if err != nil {
			return nil, err
		}
		types.hashes[i] = h
	}

	if err := validateSchemas(reg, types, names, rows); err != nil {
		return nil, err
	}
	return types, nil
}

// validateSchemas implements spec.md §4.9 step 3 and §7's
// schema-special-mismatch/schema-field-mismatch taxonomy. The murmur3 hash
// recorded per type (SPEC_FULL.md §2) is recomputed from the resolved
// type's current schema but not compared with the recorded one; the full
// comparison below decides every mismatch, since only it names the
// offending field.
func validateSchemas(reg *registry, types *typeTable, names []string, rows []schemaRow) error {
	typeCount := len(types.types)
	for i := 0; i < typeCount; i++ {
		t := types.types[i]
		wantSentinel := types.kinds[i] != kindStruct
		if wantSentinel != rows[i].Sentinel {
			return &SchemaSpecialMismatchError{Name: names[i]}
		}
		if wantSentinel {
			continue
		}

		desc, err := currentDescriptorFor(reg, t, names[i])
		if err != nil {
			return err
		}
		_ = schemaHash(desc) // recomputed for parity with the writer; see doc comment above

		curFields, err := fieldsOf(t)
		if err != nil {
			return err
		}
		if len(curFields) != len(rows[i].Fields) {
			return &SchemaFieldMismatchError{
				Type:  names[i],
				Field: "<field count>",
				Want:  fmt.Sprintf("%d", len(curFields)),
				Got:   fmt.Sprintf("%d", len(rows[i].Fields)),
			}
		}
		for j, cf := range curFields {
			fr := rows[i].Fields[j]
			if cf.name != fr.Name {
				return &SchemaFieldMismatchError{Type: names[i], Field: fr.Name, Want: cf.name, Got: fr.Name}
			}
			declaredName, err := reg.nameFor(derefFieldType(cf.typ))
			if err != nil {
				return err
			}
			if fr.TypeID < 0 || fr.TypeID >= typeCount {
				return &SchemaFieldMismatchError{Type: names[i], Field: cf.name, Want: declaredName, Got: "<out of range>"}
			}
			if names[fr.TypeID] != declaredName {
				return &SchemaFieldMismatchError{Type: names[i], Field: cf.name, Want: declaredName, Got: names[fr.TypeID]}
			}
		}
	}
	return nil
}
