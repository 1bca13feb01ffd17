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
	"github.com/datastax/go-cassandra-native-protocol/primitive"
)

// buildExpected resolves the IF clause into the expected cells of a
// compare-and-set. Scalar conditions produce one check each, with a null
// value meaning the cell must be absent. Set and map conditions expand into
// one check per element; the comparison is one sided, extra elements in the
// current value do not fail the predicate.
func (s *ModificationStatement) buildExpected(prefix PrefixBuilder, values []*primitive.Value) ([]ExpectedCell, error) {
	if len(s.Conditions) == 0 {
		return nil, nil
	}
	expected := make([]ExpectedCell, 0, len(s.Conditions))
	for _, c := range s.Conditions {
		col, err := s.Column(c.Column)
		if err != nil {
			return nil, err
		}
		v, err := c.Value.Resolve(values)
		if err != nil {
			return nil, err
		}

		if !col.IsCollection {
			expected = append(expected, ExpectedCell{
				Column: c.Column,
				Name:   prefix.Add([]byte(c.Column)).Build(),
				Value:  v,
			})
			continue
		}

		collection := prefix.Add([]byte(c.Column))
		if v == nil {
			expected = append(expected, ExpectedCell{
				Column:   c.Column,
				Name:     collection.Build(),
				IsPrefix: true,
			})
			continue
		}
		switch dataTypeCode(col) {
		case primitive.DataTypeCodeSet:
			elems, err := decodeListElements(v)
			if err != nil {
				return nil, err
			}
			for _, e := range elems {
				if e == nil {
					return nil, invalidRequest("null is not supported inside collections")
				}
				expected = append(expected, ExpectedCell{
					Column: c.Column,
					Name:   collection.Add(e).Build(),
					Value:  []byte{},
				})
			}
		case primitive.DataTypeCodeMap:
			entries, err := decodeMapEntries(v)
			if err != nil {
				return nil, err
			}
			for _, kv := range entries {
				if kv[0] == nil || kv[1] == nil {
					return nil, invalidRequest("null is not supported inside collections")
				}
				expected = append(expected, ExpectedCell{
					Column: c.Column,
					Name:   collection.Add(kv[0]).Build(),
					Value:  kv[1],
				})
			}
		default:
			return nil, internalErrorf("condition on unsupported collection column %s", c.Column)
		}
	}
	return expected, nil
}

// conditionColumns returns the deduplicated column names of the IF clause in
// the order they were written, for selecting the witness columns of a failed
// compare-and-set.
func (s *ModificationStatement) conditionColumns() []string {
	var names []string
	seen := make(map[string]bool)
	for _, c := range s.Conditions {
		if !seen[c.Column] {
			seen[c.Column] = true
			names = append(names, c.Column)
		}
	}
	return names
}
