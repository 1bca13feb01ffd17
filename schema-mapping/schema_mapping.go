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

package schemaMapping

import (
	"fmt"
	"sort"

	"github.com/datastax/go-cassandra-native-protocol/message"
	"go.uber.org/zap"

	"github.com/tuplejump/cassandra/global/types"
	"github.com/tuplejump/cassandra/utilities"
)

// SchemaMappingConfig is the write path's read-only view of table layouts.
// TablesMetaData is keyed keyspace -> table -> column name; PkMetadataCache
// holds the primary key columns of each table ordered by precedence
// (partition components first, then clustering components).
type SchemaMappingConfig struct {
	Logger             *zap.Logger
	TablesMetaData     map[string]map[string]map[string]*types.Column
	PkMetadataCache    map[string]map[string][]types.Column
	SystemColumnFamily string
}

// NewSchemaMappingConfig builds a config from raw table metadata, deriving
// the ordered primary key cache.
func NewSchemaMappingConfig(logger *zap.Logger, systemColumnFamily string, tablesMetaData map[string]map[string]map[string]*types.Column) *SchemaMappingConfig {
	pkCache := make(map[string]map[string][]types.Column)
	for keyspace, tables := range tablesMetaData {
		pkCache[keyspace] = make(map[string][]types.Column)
		for tableName, columns := range tables {
			var pks []types.Column
			for _, column := range columns {
				if column.IsPrimaryKey {
					pks = append(pks, *column)
				}
			}
			sort.Slice(pks, func(i, j int) bool {
				return pks[i].PkPrecedence < pks[j].PkPrecedence
			})
			pkCache[keyspace][tableName] = pks
		}
	}
	return &SchemaMappingConfig{
		Logger:             logger,
		TablesMetaData:     tablesMetaData,
		PkMetadataCache:    pkCache,
		SystemColumnFamily: systemColumnFamily,
	}
}

// GetPkByTableName finds the primary key columns of a specified table in a given keyspace.
//
// This method looks up the cached primary key metadata and returns the relevant columns.
//
// Parameters:
//   - tableName: The name of the table for which primary key metadata is requested.
//   - keySpace: The name of the keyspace where the table resides.
//
// Returns:
//   - []types.Column: A slice of types.Column structs representing the primary keys of the table.
//   - error: Returns an error if the primary key metadata is not found.
func (c *SchemaMappingConfig) GetPkByTableName(tableName string, keySpace string) ([]types.Column, error) {
	pkMeta, ok := c.PkMetadataCache[keySpace][tableName]
	if !ok {
		return nil, fmt.Errorf("could not find metadata for the table: %s", tableName)
	}
	return pkMeta, nil
}

// GetPartitionKeys returns the partition key components of a table, ordered
// by precedence.
func (c *SchemaMappingConfig) GetPartitionKeys(tableName string, keySpace string) ([]types.Column, error) {
	pks, err := c.GetPkByTableName(tableName, keySpace)
	if err != nil {
		return nil, err
	}
	var result []types.Column
	for _, pk := range pks {
		if pk.KeyType == utilities.KEY_TYPE_PARTITION {
			result = append(result, pk)
		}
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("table %s has no partition key defined", tableName)
	}
	return result, nil
}

// GetClusteringKeys returns the clustering key components of a table, ordered
// by precedence. The slice is empty for tables without clustering columns.
func (c *SchemaMappingConfig) GetClusteringKeys(tableName string, keySpace string) ([]types.Column, error) {
	pks, err := c.GetPkByTableName(tableName, keySpace)
	if err != nil {
		return nil, err
	}
	var result []types.Column
	for _, pk := range pks {
		if pk.KeyType == utilities.KEY_TYPE_CLUSTERING {
			result = append(result, pk)
		}
	}
	return result, nil
}

// GetColumnType retrieves the metadata for a specified column in a given table and keyspace.
//
// Parameters:
//   - keyspace: The name of the keyspace where the table resides.
//   - tableName: The name of the table containing the column.
//   - columnName: The name of the column for which metadata is retrieved.
//
// Returns:
//   - A pointer to a types.Column struct with the column's CQL type, collection
//     flag, primary key flag and key type.
//   - An error if the table or column metadata is not found.
func (c *SchemaMappingConfig) GetColumnType(keyspace, tableName, columnName string) (*types.Column, error) {
	td, ok := c.TablesMetaData[keyspace][tableName]
	if !ok {
		return nil, fmt.Errorf("could not find metadata for the table: %s", tableName)
	}

	col, ok := td[columnName]
	if !ok {
		return nil, fmt.Errorf("could not find column %s metadata for the table: %s", columnName, tableName)
	}

	if col.CQLType == nil {
		return nil, fmt.Errorf("could not find column %s metadata for the table: %s", columnName, tableName)
	}

	return &types.Column{
		ColumnName:   col.ColumnName,
		CQLType:      col.CQLType,
		IsPrimaryKey: col.IsPrimaryKey,
		PkPrecedence: col.PkPrecedence,
		IsCollection: col.IsCollection,
		KeyType:      col.KeyType,
		Metadata:     col.Metadata,
	}, nil
}

// IsCounterTable reports whether the table holds distributed counters. A
// table is a counter table when every non-key column is of counter type;
// mixing counters with regular columns is not representable, so the presence
// of one counter column is decisive.
func (c *SchemaMappingConfig) IsCounterTable(keyspace, tableName string) (bool, error) {
	td, ok := c.TablesMetaData[keyspace][tableName]
	if !ok {
		return false, fmt.Errorf("could not find metadata for the table: %s", tableName)
	}
	for _, col := range td {
		if !col.IsPrimaryKey && col.IsCounter() {
			return true, nil
		}
	}
	return false, nil
}

// GetMetadataForColumns() retrieves protocol metadata for columns of a table.
//
// Parameters:
//   - keySpace: The keyspace of the table.
//   - tableName: The name of the table for which column metadata is being requested.
//   - columnNames(optional): Accepts nil when metadata for all columns of the
//     table should be returned.
//
// Returns:
// - A slice of pointers to ColumnMetadata structs containing metadata for each requested column.
// - An error if the specified table or a named column is not found.
func (c *SchemaMappingConfig) GetMetadataForColumns(keySpace, tableName string, columnNames []string) ([]*message.ColumnMetadata, error) {
	columnsMap, ok := c.TablesMetaData[keySpace][tableName]
	if !ok {
		return nil, fmt.Errorf("could not find metadata for the table: %s", tableName)
	}
	if len(columnNames) == 0 {
		return c.getAllColumnsMetadata(columnsMap), nil
	}
	return c.getSpecificColumnsMetadata(columnsMap, columnNames, tableName)
}

// getAllColumnsMetadata returns metadata for every column, ordered by name so
// result sets are stable across invocations.
func (c *SchemaMappingConfig) getAllColumnsMetadata(columnsMap map[string]*types.Column) []*message.ColumnMetadata {
	names := make([]string, 0, len(columnsMap))
	for name := range columnsMap {
		names = append(names, name)
	}
	sort.Strings(names)

	var columnMetadataList []*message.ColumnMetadata
	for i, name := range names {
		md := columnsMap[name].Metadata
		md.Index = int32(i)
		columnMetadataList = append(columnMetadataList, &md)
	}
	return columnMetadataList
}

func (c *SchemaMappingConfig) getSpecificColumnsMetadata(columnsMap map[string]*types.Column, columnNames []string, tableName string) ([]*message.ColumnMetadata, error) {
	var columnMetadataList []*message.ColumnMetadata
	for i, columnName := range columnNames {
		column, ok := columnsMap[columnName]
		if !ok {
			return nil, fmt.Errorf("metadata not found for column `%s` in table `%s`", columnName, tableName)
		}
		md := column.Metadata
		md.Index = int32(i)
		columnMetadataList = append(columnMetadataList, &md)
	}
	return columnMetadataList, nil
}

// InstanceExists checks whether a keyspace is present in the schema mapping.
func (c *SchemaMappingConfig) InstanceExists(keyspace string) bool {
	_, ok := c.TablesMetaData[keyspace]
	return ok
}

// TableExist checks whether a table is present in the schema mapping.
func (c *SchemaMappingConfig) TableExist(keyspace string, tableName string) bool {
	_, ok := c.TablesMetaData[keyspace][tableName]
	return ok
}

// GetPkKeyType returns the key type ("partition" or "clustering") of a
// primary key column.
func (c *SchemaMappingConfig) GetPkKeyType(tableName string, keySpace string, columnName string) (string, error) {
	pks, err := c.GetPkByTableName(tableName, keySpace)
	if err != nil {
		return "", err
	}
	for _, col := range pks {
		if col.ColumnName == columnName {
			return col.KeyType, nil
		}
	}
	return "", fmt.Errorf("column %s is not a primary key in table %s", columnName, tableName)
}

// ListKeyspaces returns the names of all keyspaces in the schema mapping.
func (c *SchemaMappingConfig) ListKeyspaces() []string {
	keyspaces := make([]string, 0, len(c.TablesMetaData))
	for keyspace := range c.TablesMetaData {
		keyspaces = append(keyspaces, keyspace)
	}
	sort.Strings(keyspaces)
	return keyspaces
}
