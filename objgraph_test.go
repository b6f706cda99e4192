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
	"testing"

	"github.com/stretchr/testify/require"
)

// serde round-trips v through a fresh writer/reader pair of Serializers
// that both register every sample type, the way two separate processes
// sharing the same compiled types would, and returns the decoded root.
func serde(t *testing.T, root interface{}, samples ...interface{}) interface{} {
	t.Helper()
	w := NewSerializer()
	r := NewSerializer()
	for _, s := range samples {
		require.NoError(t, w.Register(s))
		require.NoError(t, r.Register(s))
	}
	data, err := w.Marshal(root)
	require.NoError(t, err)
	out, err := r.Unmarshal(data)
	require.NoErrorf(t, err, "decoding %s", Dump(root))
	return out
}

type intBox struct {
	X int32
}

func TestPrimitiveField(t *testing.T) {
	root := &intBox{X: 0x01020304}
	out := serde(t, root, root)
	got, ok := out.(*intBox)
	require.True(t, ok)
	require.Equal(t, int32(0x01020304), got.X)
}

type pair struct {
	A *leaf
	B *leaf
}

type leaf struct {
	V int32
}

func TestSharedReference(t *testing.T) {
	l := &leaf{V: 7}
	root := &pair{A: l, B: l}
	out := serde(t, root, root, l).(*pair)
	require.Same(t, out.A, out.B, "shared leaf must decode to one object: %s", Dump(out))
	require.Equal(t, int32(7), out.A.V)
}

type node struct {
	Name string
	Next *node
}

func TestCycle(t *testing.T) {
	n1 := &node{Name: "n1"}
	n2 := &node{Name: "n2"}
	n1.Next = n2
	n2.Next = n1

	out := serde(t, n1, n1).(*node)
	require.Equal(t, "n1", out.Name)
	require.Equal(t, "n2", out.Next.Name)
	require.Same(t, out, out.Next.Next, "cycle of length 2 must round-trip: %s", Dump(out))
}

type ring struct {
	Name string
	Next *ring
}

func TestLongerCyclePreservesLength(t *testing.T) {
	a := &ring{Name: "a"}
	b := &ring{Name: "b"}
	c := &ring{Name: "c"}
	a.Next, b.Next, c.Next = b, c, a

	out := serde(t, a, a).(*ring)
	cur := out
	var names []string
	for i := 0; i < 6; i++ {
		names = append(names, cur.Name)
		cur = cur.Next
	}
	require.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, names)
	require.Same(t, out, cur, "walking 2 full laps must land back on the root")
}

type ptrHolder struct {
	P *int32
	S *string
}

func TestPointerToPrimitive(t *testing.T) {
	x := int32(-100)
	s := "hi"
	root := &ptrHolder{P: &x, S: &s}
	out := serde(t, root, root).(*ptrHolder)
	require.NotNil(t, out.P)
	require.Equal(t, int32(-100), *out.P)
	require.NotNil(t, out.S)
	require.Equal(t, "hi", *out.S)
}

type boxHolder struct {
	A interface{}
	B interface{}
}

func TestInterfaceField(t *testing.T) {
	l := &leaf{V: 42}
	root := &boxHolder{A: l, B: int32(9)}
	out := serde(t, root, root, l).(*boxHolder)
	a, ok := out.A.(*leaf)
	require.True(t, ok)
	require.Equal(t, int32(42), a.V)
	b, ok := out.B.(int32)
	require.True(t, ok)
	require.Equal(t, int32(9), b)
}

type mapHolder struct {
	M map[string]int32
}

func TestDeterministicMap(t *testing.T) {
	root := &mapHolder{M: map[string]int32{"z": 1, "a": 2, "m": 3}}

	w := NewSerializer()
	require.NoError(t, w.Register(root))
	first, err := w.Marshal(root)
	require.NoError(t, err)
	second, err := w.Marshal(root)
	require.NoError(t, err)
	require.Equal(t, first, second, "two Marshal calls of the same graph must be byte-identical")

	r := NewSerializer()
	require.NoError(t, r.Register(root))
	out, err := r.Unmarshal(first)
	require.NoError(t, err)
	got := out.(*mapHolder)
	require.Equal(t, map[string]int32{"z": 1, "a": 2, "m": 3}, got.M)
}

type sliceHolder struct {
	Names []string
	Nums  []int32
	Raw   []byte
}

func TestArrays(t *testing.T) {
	root := &sliceHolder{
		Names: []string{"x", "y", "z"},
		Nums:  []int32{1, 2, 3, 4},
		Raw:   []byte{0xde, 0xad, 0xbe, 0xef},
	}
	out := serde(t, root, root).(*sliceHolder)
	require.Equal(t, root.Names, out.Names)
	require.Equal(t, root.Nums, out.Nums)
	require.Equal(t, root.Raw, out.Raw)
}

type embeddedBase struct {
	ID int32
}

type derivedWithBase struct {
	embeddedBase
	Label string
}

func TestEmbeddedStructFields(t *testing.T) {
	root := &derivedWithBase{embeddedBase: embeddedBase{ID: 5}, Label: "five"}
	out := serde(t, root, root).(*derivedWithBase)
	require.Equal(t, int32(5), out.ID)
	require.Equal(t, "five", out.Label)
}

type taggedOut struct {
	Keep     int32
	Excluded int32 `objgraph:"-"`
}

func TestNonSerializedTag(t *testing.T) {
	root := &taggedOut{Keep: 1, Excluded: 99}
	out := serde(t, root, root).(*taggedOut)
	require.Equal(t, int32(1), out.Keep)
	require.Equal(t, int32(0), out.Excluded, "excluded field must not round-trip")
}

func TestNullRoot(t *testing.T) {
	s := NewSerializer()
	data, err := s.Marshal(nil)
	require.NoError(t, err)
	out, err := s.Unmarshal(data)
	require.NoError(t, err)
	require.Nil(t, out)

	var p *leaf
	require.NoError(t, s.Register(&leaf{}))
	data, err = s.Marshal(p)
	require.NoError(t, err)
	out, err = s.Unmarshal(data)
	require.NoError(t, err)
	require.Nil(t, out)
}

type widget struct {
	A int32
	B int32
}

type renamedWidget struct {
	A int32
	C int32
}

func TestSchemaFieldMismatch(t *testing.T) {
	w := NewSerializer()
	require.NoError(t, w.Register(&widget{}))
	data, err := w.Marshal(&widget{A: 1, B: 2})
	require.NoError(t, err)

	r := NewSerializer()
	require.NoError(t, r.reg.register(&renamedWidget{}))
	// Re-point the registry entry at the original wire name so the reader
	// resolves "widget" to the field-renamed type, simulating the same
	// type having drifted between the writer and reader process.
	r.reg.nameToType[nameOf(t, w, &widget{})] = reflect.TypeOf(renamedWidget{})

	_, err = r.Unmarshal(data)
	require.Error(t, err)
	var mismatch *SchemaFieldMismatchError
	require.ErrorAs(t, err, &mismatch)
}

// customPoint opts into key-value self-description (spec.md §4.7) instead
// of field-by-field introspection.
type customPoint struct {
	x, y int32
}

func (p *customPoint) DescribeGraph() []GraphEntry {
	return []GraphEntry{{Name: "x", Value: p.x}, {Name: "y", Value: p.y}}
}

func (p *customPoint) ConstructGraph(entries map[string]interface{}) error {
	p.x = entries["x"].(int32)
	p.y = entries["y"].(int32)
	return nil
}

type customHolder struct {
	P *customPoint
}

func TestCustomSerialization(t *testing.T) {
	root := &customHolder{P: &customPoint{x: 3, y: 4}}
	out := serde(t, root, root, &customPoint{}).(*customHolder)
	require.Equal(t, int32(3), out.P.x)
	require.Equal(t, int32(4), out.P.y)
}

type finalizerNode struct {
	Val     int32
	calls   int32
	Touched *finalizerNode
}

func (n *finalizerNode) GraphDeserialized() {
	n.calls++
}

func TestFinalizerRunsAfterFullGraphBuilt(t *testing.T) {
	a := &finalizerNode{Val: 1}
	b := &finalizerNode{Val: 2}
	a.Touched = b
	b.Touched = a

	out := serde(t, a, a).(*finalizerNode)
	require.Equal(t, int32(1), out.calls)
	require.Equal(t, int32(1), out.Touched.calls)
	require.Same(t, out, out.Touched.Touched)
}

func TestFieldIntrospectionOrderIsDeterministic(t *testing.T) {
	fields, err := fieldsOf(reflect.TypeOf(derivedWithBase{}))
	require.NoError(t, err)
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	// Own fields sorted lexicographically first, then the embedded base's
	// own fields (spec.md §4.3).
	require.Equal(t, []string{"Label", "ID"}, names)
}

func TestIDWidthBoundary(t *testing.T) {
	require.True(t, idWidth(65535))
	require.False(t, idWidth(65536))
}

func nameOf(t *testing.T, s *Serializer, sample interface{}) string {
	t.Helper()
	rt := reflect.TypeOf(sample)
	for rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	name, err := s.reg.nameFor(rt)
	require.NoError(t, err)
	return name
}

type chanHolder struct {
	Ch chan int
}

func TestNotSerializableField(t *testing.T) {
	s := NewSerializer()
	require.NoError(t, s.Register(&chanHolder{}))
	_, err := s.Marshal(&chanHolder{Ch: make(chan int)})
	require.Error(t, err)
	var mismatch *NotSerializableError
	require.ErrorAs(t, err, &mismatch)
}

func TestTooManyFields(t *testing.T) {
	fields := make([]reflect.StructField, 260)
	for i := range fields {
		fields[i] = reflect.StructField{Name: fmt.Sprintf("F%d", i), Type: reflect.TypeOf(int32(0))}
	}
	bigType := reflect.StructOf(fields)

	_, err := fieldsOf(bigType)
	require.Error(t, err)
	var mismatch *TooManyFieldsError
	require.ErrorAs(t, err, &mismatch)
}

type gridHolder struct {
	M [][2]int32
}

func TestUnsupportedRank(t *testing.T) {
	s := NewSerializer()
	root := &gridHolder{M: [][2]int32{{1, 2}, {3, 4}}}
	require.NoError(t, s.Register(root))
	_, err := s.Marshal(root)
	require.Error(t, err)
	var mismatch *UnsupportedRankError
	require.ErrorAs(t, err, &mismatch)
}

type unregisteredLeaf struct {
	X int32
}

func TestUnknownType(t *testing.T) {
	w := NewSerializer()
	require.NoError(t, w.Register(&unregisteredLeaf{}))
	data, err := w.Marshal(&unregisteredLeaf{X: 1})
	require.NoError(t, err)

	r := NewSerializer() // never registers unregisteredLeaf
	_, err = r.Unmarshal(data)
	require.Error(t, err)
	var mismatch *UnknownTypeError
	require.ErrorAs(t, err, &mismatch)
}

// widgetAsCustom shares widget's shape in spirit but opts into custom
// serialization, standing in for the same type drifting from a plain
// struct to a custom-serializable one between writer and reader processes.
type widgetAsCustom struct {
	A int32
}

func (w *widgetAsCustom) DescribeGraph() []GraphEntry {
	return []GraphEntry{{Name: "a", Value: w.A}}
}

func (w *widgetAsCustom) ConstructGraph(entries map[string]interface{}) error {
	w.A = entries["a"].(int32)
	return nil
}

func TestSchemaSpecialMismatch(t *testing.T) {
	w := NewSerializer()
	require.NoError(t, w.Register(&widget{}))
	data, err := w.Marshal(&widget{A: 1, B: 2})
	require.NoError(t, err)

	r := NewSerializer()
	require.NoError(t, r.reg.register(&widgetAsCustom{}))
	r.reg.nameToType[nameOf(t, w, &widget{})] = reflect.TypeOf(widgetAsCustom{})

	_, err = r.Unmarshal(data)
	require.Error(t, err)
	var mismatch *SchemaSpecialMismatchError
	require.ErrorAs(t, err, &mismatch)
}

// describeOnly opts into DescribeGraph but deliberately never implements
// ConstructGraph, the fatal combination spec.md §4.7/§7 names.
type describeOnly struct {
	X int32
}

func (d *describeOnly) DescribeGraph() []GraphEntry {
	return []GraphEntry{{Name: "x", Value: d.X}}
}

type describeOnlyHolder struct {
	D *describeOnly
}

func TestNoDeserializationCtor(t *testing.T) {
	root := &describeOnlyHolder{D: &describeOnly{X: 9}}
	w := NewSerializer()
	require.NoError(t, w.Register(root))
	require.NoError(t, w.Register(&describeOnly{}))
	data, err := w.Marshal(root)
	require.NoError(t, err)

	r := NewSerializer()
	require.NoError(t, r.Register(root))
	require.NoError(t, r.Register(&describeOnly{}))
	_, err = r.Unmarshal(data)
	require.Error(t, err)
	var mismatch *NoDeserializationCtorError
	require.ErrorAs(t, err, &mismatch)
}

func TestTruncatedStream(t *testing.T) {
	s := NewSerializer()
	root := &intBox{X: 0x01020304}
	require.NoError(t, s.Register(root))
	data, err := s.Marshal(root)
	require.NoError(t, err)
	require.True(t, len(data) > 1)

	_, err = s.Unmarshal(data[:len(data)-1])
	require.Error(t, err)
	var mismatch *TruncatedStreamError
	require.ErrorAs(t, err, &mismatch)
}

type chainNode struct {
	Next *chainNode
}

func TestTooManyInstances(t *testing.T) {
	s := NewSerializer(WithMaxObjects(2))
	require.NoError(t, s.Register(&chainNode{}))

	n3 := &chainNode{}
	n2 := &chainNode{Next: n3}
	n1 := &chainNode{Next: n2}

	_, err := s.Marshal(n1)
	require.Error(t, err)
	var mismatch *TooManyInstancesError
	require.ErrorAs(t, err, &mismatch)
}
