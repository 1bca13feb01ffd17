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

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"cloud.google.com/go/bigtable/bttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuplejump/cassandra/utilities"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     *UserConfig
		wantErr  bool
	}{
		{
			name:     "Valid config file",
			filename: "testdata/valid_config.yaml",
			want: &UserConfig{
				WriteEngine: WriteEngineConfig{
					ProjectID:           "cassandra-prod-789",
					SchemaMappingTable:  "prod_table_config",
					DefaultColumnFamily: "cf_default",
					Session:             Session{GrpcChannels: 3},
				},
				Keyspaces: []KeyspaceConfig{
					{
						Name:             "prod_keyspace",
						BigtableInstance: "prod-instance-001",
						AppProfileID:     "prod-profile-123",
					},
				},
				LoggerConfig: &utilities.LoggerConfig{OutputType: "stdout"},
			},
			wantErr: false,
		},
		{
			name:     "Defaults applied to minimal config",
			filename: "testdata/minimal_config.yaml",
			want: &UserConfig{
				WriteEngine: WriteEngineConfig{
					ProjectID:           "test-project",
					SchemaMappingTable:  SchemaMappingTable,
					DefaultColumnFamily: DefaultColumnFamily,
					Session:             Session{GrpcChannels: BigtableGrpcChannels},
				},
				Keyspaces: []KeyspaceConfig{
					{
						Name:             "event_keyspace",
						BigtableInstance: "test-instance",
						AppProfileID:     DefaultProfileId,
					},
				},
			},
			wantErr: false,
		},
		{
			name:     "Non-existent config file",
			filename: "testdata/non_existent.yaml",
			want:     nil,
			wantErr:  true,
		},
		{
			name:     "Invalid config format",
			filename: "testdata/invalid_config.yaml",
			want:     nil,
			wantErr:  true,
		},
		{
			name:     "Config with missing required fields",
			filename: "testdata/missing_fields_config.yaml",
			want:     nil,
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadConfig(tt.filename)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("LoadConfig() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestRun drives all three subcommands against the Bigtable emulator, ending
// with the probe round trip through the full statement path.
func TestRun(t *testing.T) {
	btt, err := bttest.NewServer("localhost:0")
	require.NoError(t, err)
	defer btt.Close()
	t.Setenv("BIGTABLE_EMULATOR_HOST", btt.Addr)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	config := `writeEngine:
  projectId: test-project
keyspaces:
- name: probe_keyspace
  bigtableInstance: test-instance
`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	assert.Equal(t, 0, Run(ctx, []string{"setup", "-f", configPath}))
	assert.Equal(t, 0, Run(ctx, []string{"check", "-f", configPath}))
	assert.Equal(t, 0, Run(ctx, []string{"probe", "-f", configPath}))
}

func TestRunVersion(t *testing.T) {
	assert.Equal(t, 0, Run(context.Background(), []string{"-v"}))
}

func TestRunRejectsBadLogLevel(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	config := `writeEngine:
  projectId: test-project
keyspaces:
- name: probe_keyspace
  bigtableInstance: test-instance
`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))

	assert.Equal(t, 1, Run(context.Background(), []string{"check", "-f", configPath, "--log-level", "verbose"}))
}

func TestRunRejectsMissingConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	assert.Equal(t, 1, Run(context.Background(), []string{"check", "-f", missing}))
}
