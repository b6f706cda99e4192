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

	"github.com/davecgh/go-spew/spew"
)

// Dump renders v (typically a Marshal root or an Unmarshal result) as a
// deeply-expanded, human-readable string, including unexported fields —
// exactly what go-spew's Dump is for — so a failed round-trip assertion in
// a test can show the whole graph instead of a one-line %+v that elides
// pointer targets.
func Dump(v interface{}) string {
	return spew.Sdump(v)
}

// Prewarm forces the codec for sample's concrete type to be built and
// cached before any real Marshal/Unmarshal call needs it, so the first
// call on the hot path never pays the reflection-walk cost of
// buildCodec/fieldsOf. cmd/objgraphgen calls this once per discovered type
// at program init instead of emitting per-type code.
func (s *Serializer) Prewarm(sample interface{}) error {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	_, err := s.cache.get(t)
	return err
}

// Default is the package-level Serializer that cmd/objgraphgen's generated
// init() functions target via the package-level Prewarm below, since a
// generated file has no reference to whatever Serializer an application
// constructs for itself at runtime.
var Default = NewSerializer()

// Prewarm forces Default's codec for sample's concrete type to be built
// ahead of time. See (*Serializer).Prewarm.
func Prewarm(sample interface{}) error {
	return Default.Prewarm(sample)
}
