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
	"sync"

	"cloud.google.com/go/bigtable"
	"go.uber.org/zap"

	schemaMapping "github.com/tuplejump/cassandra/schema-mapping"
)

// InstanceConfig names the Bigtable instance backing one keyspace and the
// app profile its traffic is routed through.
type InstanceConfig struct {
	BigtableInstance string
	AppProfileId     string
}

// ConnConfig carries everything needed to dial the Bigtable instances of a
// deployment. InstancesMap is keyed by keyspace name.
type ConnConfig struct {
	GCPProjectID  string
	NumOfChannels int
	UserAgent     string
	InstancesMap  map[string]InstanceConfig
}

// BigtableConfig holds the storage layout settings shared by every
// operation: the table the schema mapping lives in and the column family
// that carries all engine cells.
type BigtableConfig struct {
	SchemaMappingTable  string
	DefaultColumnFamily string
	GCPProjectID        string
	NumOfChannels       int
}

// casLockStripes sizes the mutex table serializing compare-and-set rounds.
const casLockStripes = 128

// StorageProxy realizes the engine's storage surface on Cloud Bigtable. One
// proxy serves every keyspace of a deployment; Clients and AdminClients are
// keyed by Bigtable instance name and InstancesMap resolves a keyspace to
// its instance.
//
// A striped mutex table serializes the compare and the apply of a
// compare-and-set for rows handled by this process. Writers going through
// another proxy process are only guarded by the conditional mutation's
// row existence re-check.
type StorageProxy struct {
	Clients             map[string]*bigtable.Client
	AdminClients        map[string]*bigtable.AdminClient
	Logger              *zap.Logger
	BigtableConfig      BigtableConfig
	SchemaMappingConfig *schemaMapping.SchemaMappingConfig
	InstancesMap        map[string]InstanceConfig

	casLocks [casLockStripes]sync.Mutex
}

// NewStorageProxy assembles a storage proxy over already dialed clients.
// SchemaMappingConfig may start empty and be filled by ReloadSchemaMappings.
func NewStorageProxy(clients map[string]*bigtable.Client, adminClients map[string]*bigtable.AdminClient, logger *zap.Logger, config BigtableConfig, schemaConfig *schemaMapping.SchemaMappingConfig, instancesMap map[string]InstanceConfig) *StorageProxy {
	return &StorageProxy{
		Clients:             clients,
		AdminClients:        adminClients,
		Logger:              logger,
		BigtableConfig:      config,
		SchemaMappingConfig: schemaConfig,
		InstancesMap:        instancesMap,
	}
}
