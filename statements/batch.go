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

	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"go.uber.org/zap"
)

// BatchStatement groups modification statements for joint application.
// Counter statements live in counter batches only, and conditional
// statements are not allowed at all.
type BatchStatement struct {
	Type     primitive.BatchType
	Children []*ModificationStatement
	Attrs    Attributes
}

// BatchOptions carries the execution parameters of a batch, with one bind
// value list per child statement.
type BatchOptions struct {
	Consistency     *primitive.ConsistencyLevel
	ProtocolVersion primitive.ProtocolVersion
	Values          [][]*primitive.Value
}

// NewBatchStatement validates the batch composition rules once, so
// execution can assume a well formed batch.
func NewBatchStatement(batchType primitive.BatchType, children []*ModificationStatement, attrs Attributes) (*BatchStatement, error) {
	if attrs.TTL != nil {
		return nil, internalErrorf("batch statement carries a TTL")
	}
	hasCounters := false
	for _, child := range children {
		if child.HasConditions() {
			return nil, invalidRequest("Conditional updates are not allowed in batches")
		}
		if child.IsCounterTable() {
			hasCounters = true
			if batchType != primitive.BatchTypeCounter {
				return nil, invalidRequest("Cannot include a counter statement in a logged batch")
			}
		} else if batchType == primitive.BatchTypeCounter {
			return nil, invalidRequest("Cannot include non-counter statement in a counter batch")
		}
		if attrs.HasTimestamp() && child.Attrs.HasTimestamp() {
			return nil, invalidRequest("Timestamp must be set either on BATCH or individual statements")
		}
	}
	if attrs.HasTimestamp() && hasCounters {
		return nil, invalidRequest("Cannot provide custom timestamp for a BATCH containing counters")
	}
	return &BatchStatement{Type: batchType, Children: children, Attrs: attrs}, nil
}

// HasCounters reports whether the batch targets counter tables.
func (b *BatchStatement) HasCounters() bool {
	for _, child := range b.Children {
		if child.IsCounterTable() {
			return true
		}
	}
	return false
}

// ExecuteBatch compiles every child statement and applies the merged
// mutations in one storage call. Mutations addressing the same partition of
// the same table are merged so the storage layer sees one unit per row.
func (e *Executor) ExecuteBatch(ctx context.Context, batch *BatchStatement, opts BatchOptions) error {
	if batch == nil {
		return internalErrorf("nil batch")
	}
	if opts.Consistency == nil {
		return invalidRequest("Invalid empty consistency level")
	}
	if len(opts.Values) != 0 && len(opts.Values) != len(batch.Children) {
		return internalErrorf("batch has %d statements but %d value lists", len(batch.Children), len(opts.Values))
	}
	cl := *opts.Consistency
	var err error
	if batch.HasCounters() {
		err = validateCounterForWrite(cl)
	} else {
		err = validateForWrite(cl)
	}
	if err != nil {
		return err
	}

	now := e.Proxy.Now()
	if batch.Attrs.HasTimestamp() {
		b, err := batch.Attrs.Timestamp.Resolve(nil)
		if err != nil {
			return err
		}
		if b == nil {
			return invalidRequest("Invalid null value of timestamp")
		}
		now, err = decodeBigint(b)
		if err != nil {
			return invalidRequest("Invalid timestamp value")
		}
	}

	var all []*Mutation
	for i, child := range batch.Children {
		var values []*primitive.Value
		if i < len(opts.Values) {
			values = opts.Values[i]
		}
		mutations, err := child.Mutations(ctx, e.Proxy, values, false, cl, now, true)
		if err != nil {
			return err
		}
		all = append(all, mutations...)
	}

	merged := mergeMutations(all)
	if len(merged) == 0 {
		return nil
	}
	if err := e.Proxy.Apply(ctx, merged, cl, batch.Type == primitive.BatchTypeLogged); err != nil {
		e.Logger.Error("failed to apply batch",
			zap.Int("statements", len(batch.Children)),
			zap.Error(err))
		return executionError("apply batch", err)
	}
	return nil
}

// mergeMutations folds mutations targeting the same table row into one,
// preserving first appearance order.
func mergeMutations(mutations []*Mutation) []*Mutation {
	type rowKey struct {
		keyspace string
		table    string
		key      string
	}
	index := make(map[rowKey]*Mutation)
	var out []*Mutation
	for _, m := range mutations {
		k := rowKey{m.Keyspace, m.Table, string(m.Key)}
		if existing, ok := index[k]; ok {
			existing.Cells = append(existing.Cells, m.Cells...)
			existing.RangeTombstones = append(existing.RangeTombstones, m.RangeTombstones...)
			existing.DeletePartition = existing.DeletePartition || m.DeletePartition
			if m.TimestampMicros > existing.TimestampMicros {
				existing.TimestampMicros = m.TimestampMicros
			}
			continue
		}
		index[k] = m
		out = append(out, m)
	}
	return out
}
