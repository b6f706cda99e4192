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

import "reflect"

// GraphDescriber is the opt-in custom-serialization hook (spec.md §4.7),
// the analogue of .NET's ISerializable.GetObjectData: instead of walking
// its own fields through the introspector, a type describes itself as an
// ordered set of named values, each of which is scanned/written/read as
// its own nested value (which may itself be a reference, an array, a
// primitive, or another custom type).
type GraphDescriber interface {
	DescribeGraph() []GraphEntry
}

// GraphEntry is one named value contributed by DescribeGraph.
type GraphEntry struct {
	Name  string
	Value interface{}
}

// GraphConstructor is implemented by a pointer receiver to rebuild a value
// from its decoded entries. It is the deserialization constructor spec.md
// §4.7 requires of any custom-serializable type; a type with DescribeGraph
// but no ConstructGraph fails to decode with NoDeserializationCtorError.
type GraphConstructor interface {
	ConstructGraph(entries map[string]interface{}) error
}

// GraphFinalizer is the optional post-deserialization callback (spec.md
// §4.10's Finalized phase), run only after every object in the same call
// has reached BodyParsed/CustomConstructed, so it may safely dereference
// other objects in the same graph including ones forward-referenced by id.
type GraphFinalizer interface {
	GraphDeserialized()
}

var (
	graphDescriberType   = reflect.TypeOf((*GraphDescriber)(nil)).Elem()
	graphConstructorType = reflect.TypeOf((*GraphConstructor)(nil)).Elem()
	graphFinalizerType   = reflect.TypeOf((*GraphFinalizer)(nil)).Elem()
)

// implementsCustomSerialization reports whether t (or *t) opts into custom
// serialization, matching on DescribeGraph the same way fieldsOf matches on
// struct shape: by method set, not by a registered flag.
func implementsCustomSerialization(t reflect.Type) bool {
	return t.Implements(graphDescriberType) || reflect.PtrTo(t).Implements(graphDescriberType)
}

func describeGraph(v reflect.Value) []GraphEntry {
	if d, ok := addrIfNeeded(v).Interface().(GraphDescriber); ok {
		return d.DescribeGraph()
	}
	return nil
}

func constructGraph(v reflect.Value, entries map[string]interface{}) error {
	target := addrIfNeeded(v)
	c, ok := target.Interface().(GraphConstructor)
	if !ok {
		return &NoDeserializationCtorError{Type: v.Type()}
	}
	return c.ConstructGraph(entries)
}

func finalizeGraph(v reflect.Value) {
	target := addrIfNeeded(v)
	if f, ok := target.Interface().(GraphFinalizer); ok {
		f.GraphDeserialized()
	}
}

// addrIfNeeded returns v's address whenever v is an addressable
// non-pointer value (a pointer's method set holds both pointer- and
// value-receiver methods), else v itself.
func addrIfNeeded(v reflect.Value) reflect.Value {
	if v.Kind() != reflect.Ptr && v.CanAddr() {
		return v.Addr()
	}
	return v
}
