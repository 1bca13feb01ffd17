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
	"context"
	"sort"

	"github.com/datastax/go-cassandra-native-protocol/primitive"
)

// ColumnsRequiringRead returns the names of the columns whose operations
// need the current row state, deduplicated and sorted. An empty result means
// no read phase is needed.
func (s *ModificationStatement) ColumnsRequiringRead() []string {
	var names []string
	seen := make(map[string]bool)
	for _, op := range s.Operations {
		if op.Kind.RequiresRead() && !seen[op.Column] {
			seen[op.Column] = true
			names = append(names, op.Column)
		}
	}
	sort.Strings(names)
	return names
}

// readRequiredRows runs the read phase for read dependent operations. It
// returns nil without touching storage when nothing needs a read. All
// operations observe the one snapshot this read produces, so two removals in
// the same statement work against the same prior state.
func (s *ModificationStatement) readRequiredRows(ctx context.Context, proxy StorageProxyIface, keys [][]byte, prefix PrefixBuilder, local bool, cl primitive.ConsistencyLevel) (map[string]*RowState, error) {
	columns := s.ColumnsRequiringRead()
	if len(columns) == 0 {
		return nil, nil
	}
	if !local {
		if err := validateForRead(cl); err != nil {
			return nil, invalidRequestf("Write operation require a read but consistency %v is not supported on reads", cl)
		}
	}
	rows, err := proxy.Read(ctx, s.Keyspace, s.Table, keys, prefix.Build(), columns, cl, local)
	if err != nil {
		return nil, executionError("read before write", err)
	}
	if rows == nil {
		rows = map[string]*RowState{}
	}
	return rows, nil
}
