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
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	schemaMapping "github.com/tuplejump/cassandra/schema-mapping"
	"go.uber.org/zap"
)

// CellView is one live storage cell projected for result building. Value holds
// the cell payload. Element is set only for collection cells and carries the
// trailing cell name component: the element id for lists, the element itself
// for sets and the entry key for maps.
type CellView struct {
	Element []byte
	Value   []byte
}

type ResponseHandlerIface interface {
	BuildCASMismatchResult(keyspace, table string, columns []string, row map[string][]CellView, protocolVersion primitive.ProtocolVersion) (*message.RowsResult, error)
}

type TypeHandler struct {
	Logger              *zap.Logger
	SchemaMappingConfig *schemaMapping.SchemaMappingConfig
}
