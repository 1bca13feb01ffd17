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
	"bytes"
	"encoding/binary"

	"github.com/datastax/go-cassandra-native-protocol/primitive"
	constants "github.com/tuplejump/cassandra/global/constants"
)

// List element ids are twelve bytes, big endian milliseconds followed by a
// synthetic nanosecond counter. Prepended elements get their milliseconds
// mirrored around a fixed reference instant so they sort before anything
// written at the actual wall clock.
const (
	listIDReferenceMillis = int64(1262304000000)
	listIDMaxNanos        = int32(9999)
)

// UpdateParameters carries the per invocation inputs of mutation assembly:
// the resolved timestamp and TTL, the bind values, and the prior row state
// when a read phase ran. Prior stays nil when no read happened, which lets
// the assembler distinguish "nothing was read" from "the row is empty".
type UpdateParameters struct {
	TimestampMicros int64
	TTLSeconds      int32
	Values          []*primitive.Value
	Prior           map[string]*RowState
}

// NewUpdateParameters resolves the statement's timestamp and TTL attributes.
// An explicit timestamp wins over now; a TTL of zero means no expiry.
func (s *ModificationStatement) NewUpdateParameters(values []*primitive.Value, now int64, prior map[string]*RowState) (*UpdateParameters, error) {
	ts, err := s.resolveTimestamp(values, now)
	if err != nil {
		return nil, err
	}
	ttl, err := s.resolveTTL(values)
	if err != nil {
		return nil, err
	}
	return &UpdateParameters{
		TimestampMicros: ts,
		TTLSeconds:      ttl,
		Values:          values,
		Prior:           prior,
	}, nil
}

func (s *ModificationStatement) resolveTimestamp(values []*primitive.Value, now int64) (int64, error) {
	if s.Attrs.Timestamp == nil {
		return now, nil
	}
	b, err := s.Attrs.Timestamp.Resolve(values)
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 0, invalidRequest("Invalid null value of timestamp")
	}
	ts, err := decodeBigint(b)
	if err != nil {
		return 0, invalidRequest("Invalid timestamp value")
	}
	return ts, nil
}

func (s *ModificationStatement) resolveTTL(values []*primitive.Value) (int32, error) {
	if s.Attrs.TTL == nil {
		return 0, nil
	}
	b, err := s.Attrs.TTL.Resolve(values)
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 0, invalidRequest("Invalid null value of TTL")
	}
	ttl, err := decodeInt(b)
	if err != nil {
		return 0, invalidRequest("Invalid TTL value")
	}
	if ttl < 0 {
		return 0, invalidRequest("A TTL must be greater or equal to 0")
	}
	if int64(ttl) > int64(constants.MaxTTLSeconds) {
		return 0, invalidRequestf("ttl is too large. requested (%d) maximum (%d)", ttl, constants.MaxTTLSeconds)
	}
	return ttl, nil
}

// MutationForKey assembles the mutation for one partition key. Operations
// are applied in declaration order against a fresh mutation, using the prior
// row state from params to resolve read dependent list operations.
func (s *ModificationStatement) MutationForKey(key []byte, prefix PrefixBuilder, params *UpdateParameters) (*Mutation, error) {
	m := &Mutation{
		Keyspace:        s.Keyspace,
		Table:           s.Table,
		Key:             key,
		TimestampMicros: params.TimestampMicros,
		IsCounter:       s.isCounter,
	}
	var err error
	switch s.Type {
	case StatementInsert:
		err = s.assembleInsert(m, prefix, params)
	case StatementUpdate:
		err = s.assembleUpdate(m, prefix, params)
	case StatementDelete:
		err = s.assembleDelete(m, prefix, params)
	default:
		err = internalErrorf("unhandled statement type %q", s.Type)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// assembleInsert writes the row marker cell and every assigned column. The
// marker keeps the row alive even when all regular columns are later
// deleted, while a full row delete still removes it.
func (s *ModificationStatement) assembleInsert(m *Mutation, prefix PrefixBuilder, params *UpdateParameters) error {
	marker := prefix.Add(nil).Build()
	m.AddCell(regularCell(marker, nil, params))
	for _, op := range s.Operations {
		if op.Kind != OperationSet {
			return internalErrorf("operation %s is not valid in an insert", op.Kind)
		}
		if err := s.applySet(m, op, prefix, params); err != nil {
			return err
		}
	}
	return nil
}

func (s *ModificationStatement) assembleUpdate(m *Mutation, prefix PrefixBuilder, params *UpdateParameters) error {
	for _, op := range s.Operations {
		var err error
		switch op.Kind {
		case OperationSet:
			err = s.applySet(m, op, prefix, params)
		case OperationDelete:
			err = s.applyDeleteColumn(m, op, prefix, params)
		case OperationListAppend:
			err = s.applyListConcat(m, op, prefix, params, false)
		case OperationListPrepend:
			err = s.applyListConcat(m, op, prefix, params, true)
		case OperationListSetByIndex:
			err = s.applyListSetByIndex(m, op, params)
		case OperationListDiscard:
			err = s.applyListDiscard(m, op, params)
		case OperationListDiscardByIndex:
			err = s.applyListDiscardByIndex(m, op, params)
		case OperationSetAdd:
			err = s.applySetElements(m, op, prefix, params, false)
		case OperationSetDiscard:
			err = s.applySetElements(m, op, prefix, params, true)
		case OperationMapPut:
			err = s.applyMapPut(m, op, prefix, params)
		case OperationMapDiscardByKey:
			err = s.applyMapDiscardByKey(m, op, prefix, params)
		case OperationCounterIncrement:
			err = s.applyCounterIncrement(m, op, prefix, params)
		default:
			err = internalErrorf("unhandled operation kind %q", op.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// assembleDelete distinguishes the three delete shapes: a whole partition
// when no clustering component is assigned, a clustering range when the
// prefix is partial or covers a full row, and individual cells when specific
// columns are named. Naming columns requires the full clustering key because
// a cell name cannot be built from a partial prefix.
func (s *ModificationStatement) assembleDelete(m *Mutation, prefix PrefixBuilder, params *UpdateParameters) error {
	if len(s.Operations) == 0 {
		if prefix.ComponentCount() == 0 {
			m.DeletePartition = true
			return nil
		}
		m.AddRangeTombstone(RangeTombstone{
			Start:           prefix.Build(),
			End:             prefix.BuildAsEndOfRange(),
			TimestampMicros: params.TimestampMicros,
		})
		return nil
	}

	if prefix.ComponentCount() != len(s.clusteringKeys) {
		return invalidRequestf("Missing mandatory PRIMARY KEY part %s required for deleting specific columns", s.firstEmptyClusteringKey())
	}
	for _, op := range s.Operations {
		var err error
		switch op.Kind {
		case OperationDelete:
			err = s.applyDeleteColumn(m, op, prefix, params)
		case OperationListDiscardByIndex:
			err = s.applyListDiscardByIndex(m, op, params)
		case OperationMapDiscardByKey:
			err = s.applyMapDiscardByKey(m, op, prefix, params)
		default:
			err = internalErrorf("operation %s is not valid in a delete", op.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// applySet writes one column. Scalars become a single cell, with a null
// value turning into a tombstone. Collections are overwritten wholesale: a
// range tombstone one microsecond in the past wipes the previous contents so
// the new elements written at the statement timestamp survive reconciliation.
func (s *ModificationStatement) applySet(m *Mutation, op ColumnOperation, prefix PrefixBuilder, params *UpdateParameters) error {
	col, err := s.Column(op.Column)
	if err != nil {
		return err
	}
	v, err := op.Value.Resolve(params.Values)
	if err != nil {
		return err
	}

	if !col.IsCollection {
		name := prefix.Add([]byte(op.Column)).Build()
		if v == nil {
			m.AddCell(tombstoneCell(name, params))
		} else {
			m.AddCell(regularCell(name, v, params))
		}
		return nil
	}

	collection := prefix.Add([]byte(op.Column))
	m.AddRangeTombstone(RangeTombstone{
		Start:           collection.Build(),
		End:             collection.BuildAsEndOfRange(),
		TimestampMicros: params.TimestampMicros - 1,
	})
	if v == nil {
		return nil
	}
	switch dataTypeCode(col) {
	case primitive.DataTypeCodeList:
		return s.appendListElements(m, op.Column, collection, v, params, false)
	case primitive.DataTypeCodeSet:
		return s.addSetElements(m, collection, v, params)
	case primitive.DataTypeCodeMap:
		return s.putMapEntries(m, collection, v, params)
	default:
		return internalErrorf("column %s marked as collection but typed %v", op.Column, col.CQLType)
	}
}

func (s *ModificationStatement) applyDeleteColumn(m *Mutation, op ColumnOperation, prefix PrefixBuilder, params *UpdateParameters) error {
	col, err := s.Column(op.Column)
	if err != nil {
		return err
	}
	if col.IsCollection {
		collection := prefix.Add([]byte(op.Column))
		m.AddRangeTombstone(RangeTombstone{
			Start:           collection.Build(),
			End:             collection.BuildAsEndOfRange(),
			TimestampMicros: params.TimestampMicros,
		})
		return nil
	}
	m.AddCell(tombstoneCell(prefix.Add([]byte(op.Column)).Build(), params))
	return nil
}

func (s *ModificationStatement) applyListConcat(m *Mutation, op ColumnOperation, prefix PrefixBuilder, params *UpdateParameters, prepend bool) error {
	v, err := op.Value.Resolve(params.Values)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return s.appendListElements(m, op.Column, prefix.Add([]byte(op.Column)), v, params, prepend)
}

func (s *ModificationStatement) appendListElements(m *Mutation, column string, collection PrefixBuilder, encoded []byte, params *UpdateParameters, prepend bool) error {
	elems, err := decodeListElements(encoded)
	if err != nil {
		return err
	}
	millis := params.TimestampMicros / constants.MicrosPerMilli
	if prepend {
		millis = listIDReferenceMillis - (millis - listIDReferenceMillis)
	}
	for i, e := range elems {
		if e == nil {
			return invalidRequest("null is not supported inside collections")
		}
		id := listElementID(millis, i, len(elems))
		m.AddCell(regularCell(collection.Add(id).Build(), e, params))
	}
	return nil
}

func (s *ModificationStatement) addSetElements(m *Mutation, collection PrefixBuilder, encoded []byte, params *UpdateParameters) error {
	elems, err := decodeListElements(encoded)
	if err != nil {
		return err
	}
	for _, e := range elems {
		if e == nil {
			return invalidRequest("null is not supported inside collections")
		}
		m.AddCell(regularCell(collection.Add(e).Build(), nil, params))
	}
	return nil
}

func (s *ModificationStatement) putMapEntries(m *Mutation, collection PrefixBuilder, encoded []byte, params *UpdateParameters) error {
	entries, err := decodeMapEntries(encoded)
	if err != nil {
		return err
	}
	for _, kv := range entries {
		if kv[0] == nil || kv[1] == nil {
			return invalidRequest("null is not supported inside collections")
		}
		m.AddCell(regularCell(collection.Add(kv[0]).Build(), kv[1], params))
	}
	return nil
}

func (s *ModificationStatement) applyListSetByIndex(m *Mutation, op ColumnOperation, params *UpdateParameters) error {
	prior, err := s.priorCells(params, m.Key, op.Column)
	if err != nil {
		return err
	}
	idx, err := s.resolveListIndex(op, params, len(prior))
	if err != nil {
		return err
	}
	v, err := op.Value.Resolve(params.Values)
	if err != nil {
		return err
	}
	if v == nil {
		m.AddCell(tombstoneCell(prior[idx].Name, params))
	} else {
		m.AddCell(regularCell(prior[idx].Name, v, params))
	}
	return nil
}

func (s *ModificationStatement) applyListDiscard(m *Mutation, op ColumnOperation, params *UpdateParameters) error {
	prior, err := s.priorCells(params, m.Key, op.Column)
	if err != nil {
		return err
	}
	v, err := op.Value.Resolve(params.Values)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	toDiscard, err := decodeListElements(v)
	if err != nil {
		return err
	}
	for _, cell := range prior {
		for _, d := range toDiscard {
			if d != nil && bytes.Equal(cell.Value, d) {
				m.AddCell(tombstoneCell(cell.Name, params))
				break
			}
		}
	}
	return nil
}

func (s *ModificationStatement) applyListDiscardByIndex(m *Mutation, op ColumnOperation, params *UpdateParameters) error {
	prior, err := s.priorCells(params, m.Key, op.Column)
	if err != nil {
		return err
	}
	idx, err := s.resolveListIndex(op, params, len(prior))
	if err != nil {
		return err
	}
	m.AddCell(tombstoneCell(prior[idx].Name, params))
	return nil
}

func (s *ModificationStatement) applySetElements(m *Mutation, op ColumnOperation, prefix PrefixBuilder, params *UpdateParameters, discard bool) error {
	v, err := op.Value.Resolve(params.Values)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	elems, err := decodeListElements(v)
	if err != nil {
		return err
	}
	collection := prefix.Add([]byte(op.Column))
	for _, e := range elems {
		if e == nil {
			return invalidRequest("null is not supported inside collections")
		}
		if discard {
			m.AddCell(tombstoneCell(collection.Add(e).Build(), params))
		} else {
			m.AddCell(regularCell(collection.Add(e).Build(), nil, params))
		}
	}
	return nil
}

func (s *ModificationStatement) applyMapPut(m *Mutation, op ColumnOperation, prefix PrefixBuilder, params *UpdateParameters) error {
	key, err := op.Element.Resolve(params.Values)
	if err != nil {
		return err
	}
	if key == nil {
		return invalidRequest("Invalid null map key")
	}
	v, err := op.Value.Resolve(params.Values)
	if err != nil {
		return err
	}
	name := prefix.Add([]byte(op.Column)).Add(key).Build()
	if v == nil {
		m.AddCell(tombstoneCell(name, params))
	} else {
		m.AddCell(regularCell(name, v, params))
	}
	return nil
}

func (s *ModificationStatement) applyMapDiscardByKey(m *Mutation, op ColumnOperation, prefix PrefixBuilder, params *UpdateParameters) error {
	key, err := op.Element.Resolve(params.Values)
	if err != nil {
		return err
	}
	if key == nil {
		return invalidRequest("Invalid null map key")
	}
	m.AddCell(tombstoneCell(prefix.Add([]byte(op.Column)).Add(key).Build(), params))
	return nil
}

func (s *ModificationStatement) applyCounterIncrement(m *Mutation, op ColumnOperation, prefix PrefixBuilder, params *UpdateParameters) error {
	v, err := op.Value.Resolve(params.Values)
	if err != nil {
		return err
	}
	if v == nil {
		return invalidRequest("Invalid null value for counter increment")
	}
	if _, err := decodeBigint(v); err != nil {
		return invalidRequestf("Invalid counter increment value for column %s", op.Column)
	}
	m.AddCell(Cell{
		Name:            prefix.Add([]byte(op.Column)).Build(),
		Value:           v,
		TimestampMicros: params.TimestampMicros,
		Kind:            CellCounterUpdate,
	})
	return nil
}

// priorCells returns the prior state of one column. Assembly of a read
// dependent operation without a read phase is a wiring bug, not an empty
// list, and is reported as such.
func (s *ModificationStatement) priorCells(params *UpdateParameters, key []byte, column string) ([]CellState, error) {
	if params.Prior == nil {
		return nil, internalErrorf("operation on %s requires prior row state but no read phase ran", column)
	}
	return params.Prior[string(key)].Column(column), nil
}

func (s *ModificationStatement) resolveListIndex(op ColumnOperation, params *UpdateParameters, size int) (int, error) {
	b, err := op.Element.Resolve(params.Values)
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 0, invalidRequest("Invalid null value for list index")
	}
	idx, err := decodeInt(b)
	if err != nil {
		return 0, invalidRequestf("Invalid list index value for column %s", op.Column)
	}
	if idx < 0 || int(idx) >= size {
		return 0, invalidRequestf("List index %d out of bound, list has size %d", idx, size)
	}
	return int(idx), nil
}

func regularCell(name, value []byte, params *UpdateParameters) Cell {
	return Cell{
		Name:            name,
		Value:           value,
		TimestampMicros: params.TimestampMicros,
		TTLSeconds:      params.TTLSeconds,
		Kind:            CellRegular,
	}
}

func tombstoneCell(name []byte, params *UpdateParameters) Cell {
	return Cell{
		Name:            name,
		TimestampMicros: params.TimestampMicros,
		Kind:            CellTombstone,
	}
}

// listElementID builds the twelve byte id of one list element. The nanos
// component spreads the elements of one operation so they keep their
// relative order under the shared millisecond.
func listElementID(millis int64, index, total int) []byte {
	id := make([]byte, 12)
	binary.BigEndian.PutUint64(id[0:8], uint64(millis))
	nanos := listIDMaxNanos - int32(total) + int32(index)
	binary.BigEndian.PutUint32(id[8:12], uint32(nanos))
	return id
}

func decodeBigint(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, internalErrorf("expected 8 bytes for a bigint, got %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func decodeInt(b []byte) (int32, error) {
	if len(b) != 4 {
		return 0, internalErrorf("expected 4 bytes for an int, got %d", len(b))
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}
