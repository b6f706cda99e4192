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

import "github.com/spaolacci/murmur3"

// schemaDescriptor is a process-independent description of one type's
// schema row: it names field types by string, never by the call-local
// integer id a typeTable assigns, so the hash below means the same thing
// on the writer and the reader even when the two processes discovered
// their types in a different order (SPEC_FULL.md §2).
type schemaDescriptor struct {
	TypeName string
	Sentinel bool
	Fields   []fieldDescriptor
}

type fieldDescriptor struct {
	Name     string
	TypeName string
}

// schemaHash digests a schemaDescriptor with murmur3 (SPEC_FULL.md §2).
// Marshal writes one hash per type after the schema rows. On read the hash
// is recomputed from the resolved type but neither compared with the
// recorded one nor used to skip anything: validateSchemas' field-by-field
// comparison decides every mismatch, since only it names the offending
// field.
func schemaHash(d schemaDescriptor) uint64 {
	h := murmur3.New64()
	_, _ = h.Write([]byte(d.TypeName))
	if d.Sentinel {
		_, _ = h.Write([]byte{0xff})
		return h.Sum64()
	}
	_, _ = h.Write([]byte{0x00})
	for _, f := range d.Fields {
		_, _ = h.Write([]byte(f.Name))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(f.TypeName))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
