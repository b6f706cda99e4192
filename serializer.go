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

// Package objgraph serializes arbitrary in-memory Go object graphs to a
// compact binary form that preserves reference identity and cycles, the
// way the graph looked in memory rather than how any single tree walk
// would see it.
package objgraph

import (
	"fmt"
	"reflect"
)

// Option configures a Serializer. The functional-option shape follows the
// teacher's own NewFory(referenceTracking bool) constructor, generalized
// to an open set of knobs (SPEC_FULL.md §1).
type Option func(*Serializer)

// WithMaxObjects caps how many distinct instances a single Marshal/
// Unmarshal call will process, guarding against unbounded graphs; 0 (the
// default) means no cap.
func WithMaxObjects(n int) Option {
	return func(s *Serializer) { s.maxObjects = n }
}

// Serializer owns a type registry and the codec cache built from it; each
// NewSerializer call creates its own registry and cache, and the cache is
// reused by every Marshal/Unmarshal call on that Serializer. A Serializer is
// safe for concurrent use only across distinct Marshal/Unmarshal calls
// (codec cache insertion is guarded by a mutex); each call gets its own
// call-local identity map and instance table.
type Serializer struct {
	reg        *registry
	cache      *codecCache
	maxObjects int
}

// NewSerializer returns a ready-to-use Serializer with an empty type
// registry.
func NewSerializer(opts ...Option) *Serializer {
	reg := newRegistry()
	s := &Serializer{reg: reg, cache: newCodecCache(reg)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register declares a struct type (or pointer to one) under its
// package-qualified name so it can later be resolved by name during
// Unmarshal. Every struct type reachable from a Marshal root must be
// registered on both the writing and the reading process (spec.md §4.2);
// there is no way around this in Go, which has no runtime type-by-name
// lookup.
func (s *Serializer) Register(sample interface{}) error {
	_, err := s.reg.register(sample)
	return err
}

// Marshal serializes root and everything reachable from it into a single
// byte slice, preserving shared-reference and cyclic structure (spec.md
// §4.8). A nil root (either the untyped nil interface, or a typed nil
// pointer/slice/map) produces a stream whose instance table holds only id
// 0, matching spec.md §9's explicit contract for a null root.
func (s *Serializer) Marshal(root interface{}) ([]byte, error) {
	rv := reflect.ValueOf(root)
	isNullRoot := !rv.IsValid() || isNilContainer(rv)

	types := newTypeTable(s.reg)
	sess := newWriteSession(s.cache, types, s.maxObjects)

	if !isNullRoot {
		if _, err := markRoot(sess, rv); err != nil {
			return nil, err
		}
		if err := sess.drain(); err != nil {
			return nil, err
		}
	}
	types.typeCountForObjects = len(types.types)
	if err := types.registerDeclaredTypes(); err != nil {
		return nil, err
	}

	strm := NewStream()
	if err := writeHeaderAndTypeSection(strm, types, len(sess.instances)-1); err != nil {
		return nil, err
	}
	if err := writeObjectSection(strm, sess, types); err != nil {
		return nil, err
	}
	return strm.Bytes(), nil
}

func isNilContainer(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map:
		return rv.IsNil()
	default:
		return false
	}
}

// markRoot assigns id 1 to the root value regardless of its kind: a
// container value identity-keys the normal way, while a boxed struct or
// primitive root gets a synthetic key since it has no containing slot
// address to key off of.
func markRoot(sess *writeSession, rv reflect.Value) (int, error) {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.String:
		return sess.markContainer(rv)
	default:
		return sess.insert(rootKey{}, rv)
	}
}

type rootKey struct{}

// writeHeaderAndTypeSection emits the wire header (spec.md §6: typesCount,
// objectsCount, typeCountForObjects, stringTypeID) followed by the type
// names and schema rows.
func writeHeaderAndTypeSection(strm *Stream, types *typeTable, objCount int) error {
	typeCount := len(types.types)
	strm.WriteVarUint32(uint32(typeCount))
	strm.WriteVarUint32(uint32(objCount))
	strm.WriteVarUint32(uint32(types.typeCountForObjects))
	strm.WriteVarInt32(int32(types.stringTypeID))

	for _, name := range types.names {
		strm.WriteString_(name)
	}

	rows := make([]schemaRow, typeCount)
	for i := 0; i < typeCount; i++ {
		row, err := types.schemaRowFor(i)
		if err != nil {
			return err
		}
		rows[i] = row
	}
	for _, row := range rows {
		if row.Sentinel {
			strm.WriteByte_(sentinelFieldCount)
			continue
		}
		strm.WriteByte_(byte(len(row.Fields)))
		for _, f := range row.Fields {
			strm.WriteID(f.TypeID, typeCount)
			strm.WriteString_(f.Name)
		}
	}
	for i := range rows {
		d, err := types.descriptorFor(i)
		if err != nil {
			return err
		}
		strm.WriteUint64(schemaHash(d))
	}
	return nil
}

// writeObjectSection emits each object's creation-prelude type id, then
// every object's body, in id order (spec.md §4.8 steps 5-6). objectsCount
// itself was already written as part of the header.
func writeObjectSection(strm *Stream, sess *writeSession, types *typeTable) error {
	objCount := len(sess.instances) - 1
	typeCount := len(types.types)

	for i := 1; i <= objCount; i++ {
		tid := types.idOfExisting(sess.instances[i].Type())
		strm.WriteID(tid, typeCount)
	}
	for i := 1; i <= objCount; i++ {
		v := sess.instances[i]
		c, err := sess.cache.get(v.Type())
		if err != nil {
			return err
		}
		if err := c.write(sess, strm, v); err != nil {
			return fmt.Errorf("objgraph: writing object %d (%s): %w", i, v.Type(), err)
		}
	}
	return nil
}
