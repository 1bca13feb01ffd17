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

package types

import (
	"github.com/datastax/go-cassandra-native-protocol/datatype"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
)

// Column describes one column of a table as seen by the write path. KeyType
// is one of the utilities.KEY_TYPE_* values; PkPrecedence orders primary key
// components (partition components first, then clustering, both 1-based
// within the full primary key).
type Column struct {
	ColumnName   string
	ColumnFamily string
	CQLType      datatype.DataType
	IsPrimaryKey bool
	PkPrecedence int
	IsCollection bool
	KeyType      string
	Metadata     message.ColumnMetadata
}

// IsCounter reports whether the column holds a distributed counter.
func (c *Column) IsCounter() bool {
	return c.CQLType == datatype.Counter
}

// IsList reports whether the column is a CQL list. List cells are addressed
// by a time-ordered element id, which is what makes index- and value-based
// list operations read-dependent.
func (c *Column) IsList() bool {
	return c.CQLType != nil && c.CQLType.GetDataTypeCode() == primitive.DataTypeCodeList
}
