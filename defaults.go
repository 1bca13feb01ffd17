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
package main

import "fmt"

var (
	BigtableGrpcChannels = 1
	SchemaMappingTable   = "schema_mapping"
	DefaultColumnFamily  = "cf1"
	DefaultProfileId     = "default"
)

// ValidateAndApplyDefaults applies default values to the configuration after it is loaded
func ValidateAndApplyDefaults(cfg *UserConfig) error {
	if cfg.WriteEngine.ProjectID == "" {
		return fmt.Errorf("writeEngine.projectId is missing in `config.yaml`")
	}
	if cfg.WriteEngine.SchemaMappingTable == "" {
		cfg.WriteEngine.SchemaMappingTable = SchemaMappingTable
	}
	if cfg.WriteEngine.DefaultColumnFamily == "" {
		cfg.WriteEngine.DefaultColumnFamily = DefaultColumnFamily
	}
	if cfg.WriteEngine.Session.GrpcChannels == 0 {
		cfg.WriteEngine.Session.GrpcChannels = BigtableGrpcChannels
	}

	if len(cfg.Keyspaces) == 0 {
		return fmt.Errorf("keyspace configuration is missing in `config.yaml`")
	}
	for i := range cfg.Keyspaces {
		if cfg.Keyspaces[i].Name == "" {
			return fmt.Errorf("keyspace %d has no name", i)
		}
		if cfg.Keyspaces[i].BigtableInstance == "" {
			return fmt.Errorf("bigtable instance is not defined for keyspace %s", cfg.Keyspaces[i].Name)
		}
		if cfg.Keyspaces[i].AppProfileID == "" {
			cfg.Keyspaces[i].AppProfileID = DefaultProfileId
		}
	}
	return nil
}
