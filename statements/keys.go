/*
 * Copyright (C) 2025 Tuplejump, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not
 * use this file except in compliance with the License. You may obtain a copy of
 * the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
 * WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
 * License for the specific language governing permissions and limitations under
 * the License.
 */

package statements

import (
	"encoding/binary"

	"github.com/datastax/go-cassandra-native-protocol/primitive"
	constants "github.com/tuplejump/cassandra/global/constants"
)

// PrefixBuilder assembles composite cell names one component at a time.
// Builders are immutable: Add returns a new builder and never aliases the
// component slice of its receiver, so a partially built prefix can be
// extended along several branches safely.
type PrefixBuilder struct {
	components [][]byte
}

// NewPrefixBuilder returns an empty builder.
func NewPrefixBuilder() PrefixBuilder {
	return PrefixBuilder{}
}

// Add returns a new builder with the component appended.
func (b PrefixBuilder) Add(component []byte) PrefixBuilder {
	next := make([][]byte, len(b.components)+1)
	copy(next, b.components)
	next[len(b.components)] = component
	return PrefixBuilder{components: next}
}

// ComponentCount returns the number of components added so far.
func (b PrefixBuilder) ComponentCount() int {
	return len(b.components)
}

// Components returns a copy of the components added so far.
func (b PrefixBuilder) Components() [][]byte {
	out := make([][]byte, len(b.components))
	copy(out, b.components)
	return out
}

// Build encodes the components into a composite name. Each component is
// framed as a big endian two byte length, the raw bytes and an end of
// component byte of zero.
func (b PrefixBuilder) Build() []byte {
	return b.build(0x00)
}

// BuildAsEndOfRange encodes the components like Build but marks the final
// component with an end of component byte of one, producing a name that
// sorts after every cell extending the prefix.
func (b PrefixBuilder) BuildAsEndOfRange() []byte {
	return b.build(0x01)
}

func (b PrefixBuilder) build(finalEOC byte) []byte {
	size := 0
	for _, c := range b.components {
		size += 2 + len(c) + 1
	}
	out := make([]byte, 0, size)
	for i, c := range b.components {
		eoc := byte(0x00)
		if i == len(b.components)-1 {
			eoc = finalEOC
		}
		out = appendComponent(out, c, eoc)
	}
	return out
}

func appendComponent(dst, component []byte, eoc byte) []byte {
	var ln [2]byte
	binary.BigEndian.PutUint16(ln[:], uint16(len(component)))
	dst = append(dst, ln[:]...)
	dst = append(dst, component...)
	return append(dst, eoc)
}

// BuildPartitionKeys resolves the partition key assignments into storage
// keys. An IN on the final component fans out into one key per alternative;
// every earlier component must resolve to exactly one non null value. Keys
// are returned in the order the alternatives were written.
func (s *ModificationStatement) BuildPartitionKeys(values []*primitive.Value) ([][]byte, error) {
	single := len(s.partitionKeys) == 1
	builder := NewPrefixBuilder()
	var keys [][]byte

	for i, col := range s.partitionKeys {
		vals, err := s.keyValuesFor(col.ColumnName, values)
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			return nil, invalidRequestf("Missing mandatory PRIMARY KEY part %s", col.ColumnName)
		}

		last := i == len(s.partitionKeys)-1
		if !last {
			if len(vals) > 1 {
				return nil, invalidRequest("IN is only supported on the last column of the partition key")
			}
			if vals[0] == nil {
				return nil, invalidRequestf("Invalid null value for partition key part %s", col.ColumnName)
			}
			builder = builder.Add(vals[0])
			continue
		}

		for _, v := range vals {
			if v == nil {
				return nil, invalidRequestf("Invalid null value for partition key part %s", col.ColumnName)
			}
			var key []byte
			if single {
				key = v
			} else {
				key = builder.Add(v).Build()
			}
			if err := validateKey(key); err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// ClusteringPrefix resolves the clustering key assignments into a composite
// prefix builder. Inserts and updates require every clustering column;
// deletes may stop early but must not leave gaps between assigned columns.
func (s *ModificationStatement) ClusteringPrefix(values []*primitive.Value) (PrefixBuilder, error) {
	builder := NewPrefixBuilder()
	firstEmpty := ""
	for _, col := range s.clusteringKeys {
		ka, ok := s.keyAssignments[col.ColumnName]
		if !ok {
			if firstEmpty == "" {
				firstEmpty = col.ColumnName
			}
			if s.requiresFullClusteringKey() {
				return PrefixBuilder{}, invalidRequestf("Missing mandatory PRIMARY KEY part %s", col.ColumnName)
			}
			continue
		}
		if firstEmpty != "" {
			return PrefixBuilder{}, invalidRequestf("Missing PRIMARY KEY part %s since %s is set", firstEmpty, col.ColumnName)
		}
		v, err := ka.Value.Resolve(values)
		if err != nil {
			return PrefixBuilder{}, err
		}
		if v == nil {
			return PrefixBuilder{}, invalidRequestf("Invalid null value for clustering key part %s", col.ColumnName)
		}
		builder = builder.Add(v)
	}
	return builder, nil
}

// firstEmptyClusteringKey returns the name of the first unassigned
// clustering column, or an empty string when all are assigned.
func (s *ModificationStatement) firstEmptyClusteringKey() string {
	for _, col := range s.clusteringKeys {
		if _, ok := s.keyAssignments[col.ColumnName]; !ok {
			return col.ColumnName
		}
	}
	return ""
}

// keyValuesFor resolves the assignment of one key column into its candidate
// values. A missing assignment yields an empty slice.
func (s *ModificationStatement) keyValuesFor(column string, values []*primitive.Value) ([][]byte, error) {
	ka, ok := s.keyAssignments[column]
	if !ok {
		return nil, nil
	}
	switch ka.Kind {
	case KeyAssignmentEq:
		v, err := ka.Value.Resolve(values)
		if err != nil {
			return nil, err
		}
		return [][]byte{v}, nil
	case KeyAssignmentIn:
		if ka.InListMarker != nil {
			encoded, err := ka.InListMarker.Resolve(values)
			if err != nil {
				return nil, err
			}
			if encoded == nil {
				return nil, invalidRequestf("Invalid null value for IN restriction on %s", column)
			}
			elems, err := decodeListElements(encoded)
			if err != nil {
				return nil, invalidRequestf("Invalid list value for IN restriction on %s", column)
			}
			return elems, nil
		}
		out := make([][]byte, 0, len(ka.InValues))
		for _, t := range ka.InValues {
			v, err := t.Resolve(values)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, internalErrorf("unhandled key assignment kind %q", ka.Kind)
	}
}

// SplitCellName decodes a composite cell name back into its components. A
// name holds the clustering key values of its row, then the column name, and
// for collection cells one trailing element or map key. Storage layers use it
// to classify persisted names back into schema columns.
func SplitCellName(name []byte) ([][]byte, error) {
	return splitComposite(name)
}

// splitComposite decodes a composite name back into its components.
func splitComposite(name []byte) ([][]byte, error) {
	var comps [][]byte
	rest := name
	for len(rest) > 0 {
		if len(rest) < 3 {
			return nil, internalErrorf("truncated composite name, %d bytes left", len(rest))
		}
		size := int(binary.BigEndian.Uint16(rest))
		rest = rest[2:]
		if len(rest) < size+1 {
			return nil, internalErrorf("composite component of %d bytes overruns the name", size)
		}
		comps = append(comps, rest[:size:size])
		rest = rest[size+1:]
	}
	return comps, nil
}

// validateKey rejects keys the storage layer cannot address.
func validateKey(key []byte) error {
	if len(key) == 0 {
		return invalidRequest("Key may not be empty")
	}
	if len(key) > constants.MaxKeyLength {
		return invalidRequestf("Key length of %d is longer than maximum of %d", len(key), constants.MaxKeyLength)
	}
	return nil
}

// decodeListElements splits an encoded list or set value into its elements.
// The layout is a big endian four byte element count followed by four byte
// length framed elements, with a negative length standing for null.
func decodeListElements(encoded []byte) ([][]byte, error) {
	rest := encoded
	if len(rest) < 4 {
		return nil, internalErrorf("list value shorter than its header: %d bytes", len(rest))
	}
	count := int(int32(binary.BigEndian.Uint32(rest)))
	rest = rest[4:]
	if count < 0 {
		return nil, internalErrorf("negative list element count %d", count)
	}
	elems := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) < 4 {
			return nil, internalErrorf("truncated list value at element %d", i)
		}
		size := int(int32(binary.BigEndian.Uint32(rest)))
		rest = rest[4:]
		if size < 0 {
			elems = append(elems, nil)
			continue
		}
		if len(rest) < size {
			return nil, internalErrorf("truncated list value at element %d", i)
		}
		elems = append(elems, rest[:size:size])
		rest = rest[size:]
	}
	if len(rest) != 0 {
		return nil, internalErrorf("%d trailing bytes after list value", len(rest))
	}
	return elems, nil
}

// decodeMapEntries splits an encoded map value into key value pairs. The
// layout is a big endian four byte entry count followed by alternating four
// byte length framed keys and values.
func decodeMapEntries(encoded []byte) ([][2][]byte, error) {
	rest := encoded
	if len(rest) < 4 {
		return nil, internalErrorf("map value shorter than its header: %d bytes", len(rest))
	}
	count := int(int32(binary.BigEndian.Uint32(rest)))
	rest = rest[4:]
	if count < 0 {
		return nil, internalErrorf("negative map entry count %d", count)
	}
	entries := make([][2][]byte, 0, count)
	for i := 0; i < count; i++ {
		var pair [2][]byte
		for j := 0; j < 2; j++ {
			if len(rest) < 4 {
				return nil, internalErrorf("truncated map value at entry %d", i)
			}
			size := int(int32(binary.BigEndian.Uint32(rest)))
			rest = rest[4:]
			if size < 0 {
				pair[j] = nil
				continue
			}
			if len(rest) < size {
				return nil, internalErrorf("truncated map value at entry %d", i)
			}
			pair[j] = rest[:size:size]
			rest = rest[size:]
		}
		entries = append(entries, pair)
	}
	if len(rest) != 0 {
		return nil, internalErrorf("%d trailing bytes after map value", len(rest))
	}
	return entries, nil
}
