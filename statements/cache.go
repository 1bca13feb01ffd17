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
	"crypto/md5"

	"github.com/datastax/go-cassandra-native-protocol/datatype"
	"github.com/datastax/go-cassandra-native-protocol/message"
	lru "github.com/hashicorp/golang-lru"
	constants "github.com/tuplejump/cassandra/global/constants"
	"go.uber.org/zap"
)

// PreparedEntry is one cached prepared statement together with the metadata
// the wire layer returns from a PREPARE round-trip.
type PreparedEntry struct {
	ID               [constants.PreparedIdSize]byte
	Query            string
	Statement        *ModificationStatement
	VariableMetadata []*message.ColumnMetadata
}

// PreparedCache holds prepared statements keyed by their id, evicting least
// recently used entries once full.
type PreparedCache struct {
	logger *zap.Logger
	cache  *lru.Cache
}

// NewPreparedCache creates a prepared cache capping the item count to size.
func NewPreparedCache(logger *zap.Logger, size int) (*PreparedCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &PreparedCache{logger: logger, cache: cache}, nil
}

// Prepare derives the id and variable metadata for a statement, stores the
// entry and returns it. The id is stable across prepares of the same query
// text within one keyspace.
func (c *PreparedCache) Prepare(query string, stmt *ModificationStatement) (*PreparedEntry, error) {
	variables, err := stmt.VariableMetadata()
	if err != nil {
		return nil, err
	}
	entry := &PreparedEntry{
		ID:               md5.Sum([]byte(query + stmt.Keyspace)),
		Query:            query,
		Statement:        stmt,
		VariableMetadata: variables,
	}
	c.cache.Add(entry.ID, entry)
	c.logger.Debug("prepared statement cached",
		zap.String("keyspace", stmt.Keyspace),
		zap.String("table", stmt.Table),
		zap.Int("boundTerms", stmt.BoundTerms()))
	return entry, nil
}

// Load returns the cached entry for an id.
func (c *PreparedCache) Load(id [constants.PreparedIdSize]byte) (*PreparedEntry, bool) {
	if val, ok := c.cache.Get(id); ok {
		return val.(*PreparedEntry), true
	}
	return nil, false
}

// PreparedIdKey converts a wire level prepared id into the fixed size cache
// key form.
func PreparedIdKey(bytes []byte) [constants.PreparedIdSize]byte {
	var buf [constants.PreparedIdSize]byte
	copy(buf[:], bytes)
	return buf
}

// VariableMetadata types every bind marker of the statement in marker index
// order, for the PREPARE response.
func (s *ModificationStatement) VariableMetadata() ([]*message.ColumnMetadata, error) {
	out := make([]*message.ColumnMetadata, s.boundTerms)
	bind := func(t Term, name string, dt datatype.DataType) {
		if !t.IsMarker || dt == nil || t.MarkerIndex < 0 || t.MarkerIndex >= len(out) || out[t.MarkerIndex] != nil {
			return
		}
		out[t.MarkerIndex] = &message.ColumnMetadata{
			Keyspace: s.Keyspace,
			Table:    s.Table,
			Name:     name,
			Index:    int32(t.MarkerIndex),
			Type:     dt,
		}
	}

	for column, ka := range s.keyAssignments {
		col, err := s.Column(column)
		if err != nil {
			return nil, err
		}
		bind(ka.Value, column, col.CQLType)
		for _, t := range ka.InValues {
			bind(t, column, col.CQLType)
		}
		if ka.InListMarker != nil {
			bind(*ka.InListMarker, column, datatype.NewListType(col.CQLType))
		}
	}
	for _, op := range s.Operations {
		col, err := s.Column(op.Column)
		if err != nil {
			return nil, err
		}
		valueType, elementType := operandTypes(op.Kind, col.CQLType)
		bind(op.Value, op.Column, valueType)
		bind(op.Element, keyIndexName(op.Kind), elementType)
	}
	for _, c := range s.Conditions {
		col, err := s.Column(c.Column)
		if err != nil {
			return nil, err
		}
		bind(c.Value, c.Column, col.CQLType)
	}
	if s.Attrs.Timestamp != nil {
		bind(*s.Attrs.Timestamp, "[timestamp]", datatype.Bigint)
	}
	if s.Attrs.TTL != nil {
		bind(*s.Attrs.TTL, "[ttl]", datatype.Int)
	}

	for i, md := range out {
		if md == nil {
			return nil, internalErrorf("bind marker %d has no binding in the statement", i)
		}
	}
	return out, nil
}

// operandTypes returns the expected types of the value and element operands
// for an operation on a column of the given type.
func operandTypes(kind OperationKind, columnType datatype.DataType) (datatype.DataType, datatype.DataType) {
	switch kind {
	case OperationListSetByIndex:
		return listElementType(columnType), datatype.Int
	case OperationListDiscardByIndex:
		return nil, datatype.Int
	case OperationMapPut:
		kt, vt := mapEntryTypes(columnType)
		return vt, kt
	case OperationMapDiscardByKey:
		kt, _ := mapEntryTypes(columnType)
		return nil, kt
	case OperationCounterIncrement:
		return datatype.Bigint, nil
	default:
		return columnType, nil
	}
}

func keyIndexName(kind OperationKind) string {
	switch kind {
	case OperationMapPut, OperationMapDiscardByKey:
		return "key(map)"
	default:
		return "idx(list)"
	}
}

func listElementType(dt datatype.DataType) datatype.DataType {
	if lt, ok := dt.(datatype.ListType); ok {
		return lt.GetElementType()
	}
	return dt
}

func mapEntryTypes(dt datatype.DataType) (datatype.DataType, datatype.DataType) {
	if mt, ok := dt.(datatype.MapType); ok {
		return mt.GetKeyType(), mt.GetValueType()
	}
	return dt, dt
}
