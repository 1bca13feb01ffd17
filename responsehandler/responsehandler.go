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
package responsehandler

import (
	"encoding/binary"

	"github.com/datastax/go-cassandra-native-protocol/datatype"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/tuplejump/cassandra/global/constants"
	"github.com/tuplejump/cassandra/utilities"
)

// BuildCASMismatchResult constructs the single row result returned when a
// conditional write does not apply. The first column is always the boolean
// applied column set to false; the remaining columns carry the current values
// the conditions were checked against so the caller can see why the write was
// rejected.
//
// Parameters:
//   - keyspace: The keyspace of the table the conditional write targeted.
//   - table: The table the conditional write targeted.
//   - columns: The columns to render after the applied column. A nil slice
//     selects every column of the table, ordered by name.
//   - row: Per column live cells of the current row. An empty map means the
//     row does not exist and collapses the result to the applied column alone.
//   - protocolVersion: The native protocol version of the client connection.
//
// Returns:
//   - A RowsResult holding exactly one row.
//   - An error if a requested column is not part of the table schema.
func (th *TypeHandler) BuildCASMismatchResult(keyspace, table string, columns []string, row map[string][]CellView, protocolVersion primitive.ProtocolVersion) (*message.RowsResult, error) {
	appliedColumn := &message.ColumnMetadata{
		Keyspace: keyspace,
		Table:    table,
		Name:     constants.AppliedColumnName,
		Index:    0,
		Type:     datatype.Boolean,
	}
	if len(row) == 0 {
		return &message.RowsResult{
			Metadata: &message.RowsMetadata{
				ColumnCount: 1,
				Columns:     []*message.ColumnMetadata{appliedColumn},
			},
			Data: []message.Row{{utilities.EncodedFalse}},
		}, nil
	}

	selected, err := th.SchemaMappingConfig.GetMetadataForColumns(keyspace, table, columns)
	if err != nil {
		return nil, err
	}

	cmd := make([]*message.ColumnMetadata, 0, len(selected)+1)
	cmd = append(cmd, appliedColumn)
	mr := message.Row{utilities.EncodedFalse}
	for i, md := range selected {
		md.Index = int32(i + 1)
		cmd = append(cmd, md)
		mr = append(mr, th.columnValue(row[md.Name], md.Type))
	}

	return &message.RowsResult{
		Metadata: &message.RowsMetadata{
			ColumnCount: int32(len(cmd)),
			Columns:     cmd,
		},
		Data: []message.Row{mr},
	}, nil
}

// columnValue serializes the live cells of one column into its wire value.
// Collection columns are reassembled from their element cells; scalar columns
// pass the stored payload through unchanged. No cells means the column is
// null for this row.
func (th *TypeHandler) columnValue(views []CellView, dt datatype.DataType) []byte {
	if len(views) == 0 {
		return nil
	}
	switch dt.GetDataTypeCode() {
	case primitive.DataTypeCodeList:
		elements := make([][]byte, 0, len(views))
		for _, view := range views {
			elements = append(elements, view.Value)
		}
		return encodeCollection(elements)
	case primitive.DataTypeCodeSet:
		elements := make([][]byte, 0, len(views))
		for _, view := range views {
			elements = append(elements, view.Element)
		}
		return encodeCollection(elements)
	case primitive.DataTypeCodeMap:
		return encodeEntries(views)
	default:
		return views[0].Value
	}
}

// encodeCollection frames list or set elements as a wire collection: a four
// byte element count followed by each element with its own length prefix.
func encodeCollection(elements [][]byte) []byte {
	out := appendInt32(nil, len(elements))
	for _, element := range elements {
		out = appendFramed(out, element)
	}
	return out
}

// encodeEntries frames map entries, pairing each cell's key component with its
// stored value. The leading count is the number of entries, not of items.
func encodeEntries(views []CellView) []byte {
	out := appendInt32(nil, len(views))
	for _, view := range views {
		out = appendFramed(out, view.Element)
		out = appendFramed(out, view.Value)
	}
	return out
}

func appendInt32(buf []byte, n int) []byte {
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], uint32(n))
	return append(buf, scratch[:]...)
}

func appendFramed(buf []byte, item []byte) []byte {
	buf = appendInt32(buf, len(item))
	return append(buf, item...)
}
