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
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/tuplejump/cassandra/utilities"
)

var readFile = os.ReadFile

const defaultConfigFile = "config.yaml"

// UserConfig holds all the configuration data
type UserConfig struct {
	WriteEngine  WriteEngineConfig       `yaml:"writeEngine"`
	Keyspaces    []KeyspaceConfig        `yaml:"keyspaces"`
	Otel         *OtelConfig             `yaml:"otel"`
	LoggerConfig *utilities.LoggerConfig `yaml:"loggerConfig"`
}

// WriteEngineConfig carries the storage settings shared by every keyspace
type WriteEngineConfig struct {
	ProjectID           string  `yaml:"projectId"`
	SchemaMappingTable  string  `yaml:"schemaMappingTable"`
	DefaultColumnFamily string  `yaml:"defaultColumnFamily"`
	Session             Session `yaml:"session"`
}

// KeyspaceConfig maps one keyspace to the Bigtable instance backing it
type KeyspaceConfig struct {
	Name             string `yaml:"name"`
	BigtableInstance string `yaml:"bigtableInstance"`
	AppProfileID     string `yaml:"appProfileId"`
}

// Session describes the settings for Bigtable sessions
type Session struct {
	GrpcChannels int `yaml:"grpcChannels"`
}

type OtelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
	HealthCheck struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"healthcheck"`
	Metrics struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"metrics"`
	Traces struct {
		Endpoint      string  `yaml:"endpoint"`
		SamplingRatio float64 `yaml:"samplingRatio"`
	} `yaml:"traces"`
}

// LoadConfig reads and parses the configuration from a YAML file
func LoadConfig(filename string) (*UserConfig, error) {
	data, err := readFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config UserConfig
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err = ValidateAndApplyDefaults(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
