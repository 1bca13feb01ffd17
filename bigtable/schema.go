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

package bigtableclient

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"cloud.google.com/go/bigtable"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	methods "github.com/tuplejump/cassandra/global/methods"
	types "github.com/tuplejump/cassandra/global/types"
	otelgo "github.com/tuplejump/cassandra/otel"
	"github.com/tuplejump/cassandra/utilities"
)

const schemaMappingTableColumnFamily = "cf"

// PrimaryKeyConfig declares one primary key component of a table being
// registered in the schema mapping table. KeyType is one of the
// utilities.KEY_TYPE_* values.
type PrimaryKeyConfig struct {
	Name    string
	KeyType string
}

// EnsureSchemaMappingTable creates the schema mapping table and its column
// family when they do not exist yet. Safe to call on every startup.
func (sp *StorageProxy) EnsureSchemaMappingTable(ctx context.Context, keyspace string) error {
	sp.Logger.Info("ensuring schema mapping table exists")
	adminClient, err := sp.getAdminClient(keyspace)
	if err != nil {
		return err
	}

	// do a read to check if the table exists to save on admin API write quota
	exists, err := sp.tableResourceExists(ctx, adminClient, sp.BigtableConfig.SchemaMappingTable)
	if err != nil {
		return err
	}
	if !exists {
		err = adminClient.CreateTable(ctx, sp.BigtableConfig.SchemaMappingTable)
		if err != nil {
			sp.Logger.Error("failed to create schema mapping table", zap.Error(err))
			return err
		}
	}

	err = adminClient.CreateColumnFamily(ctx, sp.BigtableConfig.SchemaMappingTable, schemaMappingTableColumnFamily)
	if status.Code(err) == codes.AlreadyExists {
		err = nil
	}
	return err
}

// EnsureDataTable creates the backing table of one engine table with the
// default column family, keeping one version per cell. Existing tables are
// left untouched.
func (sp *StorageProxy) EnsureDataTable(ctx context.Context, keyspace, table string) error {
	adminClient, err := sp.getAdminClient(keyspace)
	if err != nil {
		return err
	}
	exists, err := sp.tableResourceExists(ctx, adminClient, table)
	if err != nil {
		return err
	}
	if !exists {
		if err := adminClient.CreateTable(ctx, table); err != nil {
			return fmt.Errorf("failed to create table %s.%s: %w", keyspace, table, err)
		}
	}
	err = adminClient.CreateColumnFamily(ctx, table, sp.BigtableConfig.DefaultColumnFamily)
	if status.Code(err) == codes.AlreadyExists {
		err = nil
	}
	if err != nil {
		return err
	}
	return adminClient.SetGCPolicy(ctx, table, sp.BigtableConfig.DefaultColumnFamily, bigtable.MaxVersionsPolicy(1))
}

func (sp *StorageProxy) tableResourceExists(ctx context.Context, adminClient *bigtable.AdminClient, table string) (bool, error) {
	_, err := adminClient.TableInfo(ctx, table)
	// the emulator answers NotFound, the service InvalidArgument for some malformed names
	if status.Code(err) == codes.NotFound || status.Code(err) == codes.InvalidArgument {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// tableSchemaExists scans the schema mapping table for any column row of the
// table, which is cheaper than an admin lookup.
func (sp *StorageProxy) tableSchemaExists(ctx context.Context, client *bigtable.Client, tableName string) (bool, error) {
	table := client.Open(sp.BigtableConfig.SchemaMappingTable)
	exists := false
	err := table.ReadRows(ctx, bigtable.PrefixRange(tableName+"#"), func(row bigtable.Row) bool {
		exists = true
		return false
	}, bigtable.LimitRows(1))
	return exists, err
}

// SaveTableSchema registers or refreshes the columns of one table in the
// schema mapping table. One row per column, keyed table#column, holding the
// name, type string, collection flag and primary key layout.
func (sp *StorageProxy) SaveTableSchema(ctx context.Context, keyspace, tableName string, primaryKeys []PrimaryKeyConfig, columns []message.ColumnMetadata) error {
	client, err := sp.getClient(keyspace)
	if err != nil {
		return err
	}

	ts := bigtable.Now()
	var muts []*bigtable.Mutation
	var rowKeys []string
	cols := slices.Clone(columns)
	slices.SortFunc(cols, func(a, b message.ColumnMetadata) int {
		return int(a.Index) - int(b.Index)
	})
	for _, col := range cols {
		typeString, err := methods.ConvertCQLDataTypeToString(col.Type)
		if err != nil {
			return fmt.Errorf("column %s of table %s: %w", col.Name, tableName, err)
		}
		mut := bigtable.NewMutation()
		mut.Set(schemaMappingTableColumnFamily, "ColumnName", ts, []byte(col.Name))
		mut.Set(schemaMappingTableColumnFamily, "ColumnType", ts, []byte(typeString))
		isCollection := utilities.IsCollectionDataType(col.Type)
		mut.Set(schemaMappingTableColumnFamily, "IsCollection", ts, []byte(strconv.FormatBool(isCollection)))
		pmkIndex := slices.IndexFunc(primaryKeys, func(pk PrimaryKeyConfig) bool {
			return pk.Name == col.Name
		})
		mut.Set(schemaMappingTableColumnFamily, "IsPrimaryKey", ts, []byte(strconv.FormatBool(pmkIndex != -1)))
		if pmkIndex != -1 {
			mut.Set(schemaMappingTableColumnFamily, "KeyType", ts, []byte(primaryKeys[pmkIndex].KeyType))
		} else {
			// overwrite any previous KeyType left by an earlier layout of the table
			mut.Set(schemaMappingTableColumnFamily, "KeyType", ts, []byte(utilities.KEY_TYPE_REGULAR))
		}
		mut.Set(schemaMappingTableColumnFamily, "PK_Precedence", ts, []byte(strconv.Itoa(pmkIndex+1)))
		mut.Set(schemaMappingTableColumnFamily, "TableName", ts, []byte(tableName))
		muts = append(muts, mut)
		rowKeys = append(rowKeys, tableName+"#"+col.Name)
	}

	sp.Logger.Info("updating schema mapping table",
		zap.String("keyspace", keyspace), zap.String("table", tableName))
	table := client.Open(sp.BigtableConfig.SchemaMappingTable)
	_, err = table.ApplyBulk(ctx, rowKeys, muts)
	if err != nil {
		sp.Logger.Error("update schema mapping table failed", zap.Error(err))
		return err
	}
	return nil
}

// LoadSchemaMappings reads every column row of the schema mapping table of
// one keyspace and assembles the table metadata and the primary key cache,
// the latter ordered by precedence.
func (sp *StorageProxy) LoadSchemaMappings(ctx context.Context, keyspace string) (map[string]map[string]*types.Column, map[string][]types.Column, error) {
	// first load of a deployment may race table creation, make sure it exists
	if sp.SchemaMappingConfig == nil || len(sp.SchemaMappingConfig.TablesMetaData) == 0 {
		if err := sp.EnsureSchemaMappingTable(ctx, keyspace); err != nil {
			return nil, nil, err
		}
	}

	otelgo.AddAnnotation(ctx, fetchingSchemaMappingConfig)
	client, err := sp.getClient(keyspace)
	if err != nil {
		return nil, nil, err
	}

	table := client.Open(sp.BigtableConfig.SchemaMappingTable)
	filter := bigtable.LatestNFilter(1)

	tableMetadata := make(map[string]map[string]*types.Column)
	pkMetadata := make(map[string][]types.Column)
	metaIndex := 0

	var readErr error
	err = table.ReadRows(ctx, bigtable.InfiniteRange(""), func(row bigtable.Row) bool {
		var tableName, columnName, columnType, keyType string
		var isPrimaryKey, isCollection bool
		var pkPrecedence int
		for _, item := range row[schemaMappingTableColumnFamily] {
			switch item.Column {
			case schemaMappingTableColumnFamily + ":TableName":
				tableName = string(item.Value)
			case schemaMappingTableColumnFamily + ":ColumnName":
				columnName = string(item.Value)
			case schemaMappingTableColumnFamily + ":ColumnType":
				columnType = string(item.Value)
			case schemaMappingTableColumnFamily + ":IsPrimaryKey":
				isPrimaryKey = string(item.Value) == "true"
			case schemaMappingTableColumnFamily + ":PK_Precedence":
				pkPrecedence, readErr = strconv.Atoi(string(item.Value))
				if readErr != nil {
					return false
				}
			case schemaMappingTableColumnFamily + ":IsCollection":
				isCollection = string(item.Value) == "true"
			case schemaMappingTableColumnFamily + ":KeyType":
				keyType = string(item.Value)
			}
		}
		cqlType, err := methods.GetCassandraColumnType(columnType)
		if err != nil {
			readErr = err
			return false
		}
		column := types.Column{
			ColumnName:   columnName,
			CQLType:      cqlType,
			IsPrimaryKey: isPrimaryKey,
			PkPrecedence: pkPrecedence,
			IsCollection: isCollection,
			KeyType:      keyType,
			Metadata: message.ColumnMetadata{
				Keyspace: keyspace,
				Table:    tableName,
				Name:     columnName,
				Type:     cqlType,
				Index:    int32(metaIndex),
			},
		}
		metaIndex++

		if _, exists := tableMetadata[tableName]; !exists {
			tableMetadata[tableName] = make(map[string]*types.Column)
		}
		tableMetadata[tableName][column.ColumnName] = &column
		if column.IsPrimaryKey {
			pkMetadata[tableName] = append(pkMetadata[tableName], column)
		}
		return true
	}, bigtable.RowFilter(filter))
	if err == nil {
		err = readErr
	}
	if err != nil {
		sp.Logger.Error("failed to read rows from the schema mapping table", zap.Error(err))
		return nil, nil, err
	}

	otelgo.AddAnnotation(ctx, schemaMappingConfigFetched)
	return tableMetadata, sortPkData(pkMetadata), nil
}

// ReloadSchemaMappings refreshes the in memory schema view of one keyspace
// from the schema mapping table.
func (sp *StorageProxy) ReloadSchemaMappings(ctx context.Context, keyspace string) error {
	tbData, pkData, err := sp.LoadSchemaMappings(ctx, keyspace)
	if err != nil {
		return fmt.Errorf("error when reloading schema mappings for %s.%s: %w", keyspace, sp.BigtableConfig.SchemaMappingTable, err)
	}

	if sp.SchemaMappingConfig.TablesMetaData == nil {
		sp.SchemaMappingConfig.TablesMetaData = make(map[string]map[string]map[string]*types.Column)
	}
	sp.SchemaMappingConfig.TablesMetaData[keyspace] = tbData

	if sp.SchemaMappingConfig.PkMetadataCache == nil {
		sp.SchemaMappingConfig.PkMetadataCache = make(map[string]map[string][]types.Column)
	}
	sp.SchemaMappingConfig.PkMetadataCache[keyspace] = pkData

	return nil
}
