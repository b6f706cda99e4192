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
	"encoding/binary"
	"math"
)

// Stream wraps a growable byte slice (write mode) or a fixed byte slice
// with a read cursor (read mode). Fixed-width primitives pass through in
// little-endian host order; 32-bit counts/lengths go through the var-int
// encoding described in spec.md §4.1. It is the one component every other
// piece of this package is built on (spec.md §2).
type Stream struct {
	buf []byte
	pos int
}

// NewStream returns a Stream ready for writing, with an internal buffer
// that grows on demand.
func NewStream() *Stream {
	return &Stream{buf: make([]byte, 0, 256)}
}

// NewStreamFromBytes returns a Stream ready for reading back data.
func NewStreamFromBytes(data []byte) *Stream {
	return &Stream{buf: data}
}

// Bytes returns the accumulated buffer. Only meaningful after writes.
func (s *Stream) Bytes() []byte { return s.buf }

// Len reports how many bytes remain unread.
func (s *Stream) Len() int { return len(s.buf) - s.pos }

func (s *Stream) grow(n int) []byte {
	s.buf = append(s.buf, make([]byte, n)...)
	return s.buf[len(s.buf)-n:]
}

func (s *Stream) take(n int, context string) ([]byte, error) {
	if s.pos+n > len(s.buf) {
		return nil, &TruncatedStreamError{Context: context}
	}
	b := s.buf[s.pos : s.pos+n]
	s.pos += n
	return b, nil
}

// WriteByte_ writes a single raw byte.
func (s *Stream) WriteByte_(b byte) { s.grow(1)[0] = b }

// ReadByte_ reads a single raw byte.
func (s *Stream) ReadByte_() (byte, error) {
	b, err := s.take(1, "byte")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteBool writes a single byte, 1 for true and 0 for false.
func (s *Stream) WriteBool(v bool) {
	if v {
		s.WriteByte_(1)
	} else {
		s.WriteByte_(0)
	}
}

// ReadBool is the inverse of WriteBool.
func (s *Stream) ReadBool() (bool, error) {
	b, err := s.ReadByte_()
	return b != 0, err
}

// WriteInt8/ReadInt8, ... fixed-width pass-through ops.

func (s *Stream) WriteInt8(v int8) { s.WriteByte_(byte(v)) }
func (s *Stream) ReadInt8() (int8, error) {
	b, err := s.ReadByte_()
	return int8(b), err
}

func (s *Stream) WriteUint8(v uint8) { s.WriteByte_(v) }
func (s *Stream) ReadUint8() (uint8, error) {
	return s.ReadByte_()
}

func (s *Stream) WriteInt16(v int16) {
	binary.LittleEndian.PutUint16(s.grow(2), uint16(v))
}
func (s *Stream) ReadInt16() (int16, error) {
	b, err := s.take(2, "int16")
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func (s *Stream) WriteUint16(v uint16) {
	binary.LittleEndian.PutUint16(s.grow(2), v)
}
func (s *Stream) ReadUint16() (uint16, error) {
	b, err := s.take(2, "uint16")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (s *Stream) WriteInt32(v int32) {
	binary.LittleEndian.PutUint32(s.grow(4), uint32(v))
}
func (s *Stream) ReadInt32() (int32, error) {
	b, err := s.take(4, "int32")
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (s *Stream) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(s.grow(4), v)
}
func (s *Stream) ReadUint32() (uint32, error) {
	b, err := s.take(4, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (s *Stream) WriteInt64(v int64) {
	binary.LittleEndian.PutUint64(s.grow(8), uint64(v))
}
func (s *Stream) ReadInt64() (int64, error) {
	b, err := s.take(8, "int64")
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (s *Stream) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(s.grow(8), v)
}
func (s *Stream) ReadUint64() (uint64, error) {
	b, err := s.take(8, "uint64")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (s *Stream) WriteFloat32(v float32) { s.WriteUint32(math.Float32bits(v)) }
func (s *Stream) ReadFloat32() (float32, error) {
	u, err := s.ReadUint32()
	return math.Float32frombits(u), err
}

func (s *Stream) WriteFloat64(v float64) { s.WriteUint64(math.Float64bits(v)) }
func (s *Stream) ReadFloat64() (float64, error) {
	u, err := s.ReadUint64()
	return math.Float64frombits(u), err
}

// WriteBinary writes raw bytes with no length prefix; the caller already
// knows (or has separately written) the length.
func (s *Stream) WriteBinary(b []byte) { copy(s.grow(len(b)), b) }

// ReadBinaryExact reads exactly n raw bytes.
func (s *Stream) ReadBinaryExact(n int) ([]byte, error) {
	b, err := s.take(n, "raw bytes")
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// WriteVarUint32 writes v as a 7-bit-encoded variable-length integer: LSB
// first, continuation bit in the MSB of each emitted byte (spec.md §4.1).
func (s *Stream) WriteVarUint32(v uint32) {
	for v >= 0x80 {
		s.WriteByte_(byte(v) | 0x80)
		v >>= 7
	}
	s.WriteByte_(byte(v))
}

// ReadVarUint32 is the inverse of WriteVarUint32.
func (s *Stream) ReadVarUint32() (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := s.ReadByte_()
		if err != nil {
			return 0, &TruncatedStreamError{Context: "var-int"}
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, &TruncatedStreamError{Context: "var-int (too long)"}
		}
	}
}

// WriteVarInt32 writes a signed 32-bit value using zigzag encoding on top
// of WriteVarUint32, so small negative values (notably stringTypeID's -1
// sentinel) stay compact.
func (s *Stream) WriteVarInt32(v int32) {
	s.WriteVarUint32(uint32((v << 1) ^ (v >> 31)))
}

// ReadVarInt32 is the inverse of WriteVarInt32.
func (s *Stream) ReadVarInt32() (int32, error) {
	u, err := s.ReadVarUint32()
	if err != nil {
		return 0, err
	}
	return int32(u>>1) ^ -int32(u&1), nil
}

// WriteString_ writes a var-int byte length followed by UTF-8 bytes.
func (s *Stream) WriteString_(str string) {
	b := []byte(str)
	s.WriteVarUint32(uint32(len(b)))
	s.WriteBinary(b)
}

// ReadString_ is the inverse of WriteString_.
func (s *Stream) ReadString_() (string, error) {
	n, err := s.ReadVarUint32()
	if err != nil {
		return "", err
	}
	b, err := s.ReadBinaryExact(int(n))
	if err != nil {
		return "", &TruncatedStreamError{Context: "string"}
	}
	return string(b), nil
}

// idWidth reports whether ids governed by count should use 16 or 32 bits
// (spec.md §4.5/§6: u16 when count <= 65535, else i32).
func idWidth(count int) bool {
	return count <= 65535 // true => use 16-bit width
}

// WriteID writes an object or type id using the width policy implied by
// the governing total count.
func (s *Stream) WriteID(id, governingCount int) {
	if idWidth(governingCount) {
		s.WriteUint16(uint16(id))
	} else {
		s.WriteInt32(int32(id))
	}
}

// ReadID is the inverse of WriteID.
func (s *Stream) ReadID(governingCount int) (int, error) {
	if idWidth(governingCount) {
		v, err := s.ReadUint16()
		return int(v), err
	}
	v, err := s.ReadInt32()
	return int(v), err
}
