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
	"strings"

	"cloud.google.com/go/bigtable"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
)

// maxReceiveMessageSize bounds a single read response; wide partitions with
// large collections can come close to the default four megabytes.
const maxReceiveMessageSize = 1024 * 1024 * 10

// CreateBigtableClient dials the data plane of one instance with a pooled
// gRPC channel and the instance's app profile.
func CreateBigtableClient(ctx context.Context, config ConnConfig, instanceConfig InstanceConfig) (*bigtable.Client, error) {
	instanceID := strings.TrimSpace(instanceConfig.BigtableInstance)
	pool := grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxReceiveMessageSize))

	opts := []option.ClientOption{
		option.WithGRPCDialOption(pool),
		option.WithGRPCConnectionPool(config.NumOfChannels),
		option.WithUserAgent(config.UserAgent),
	}

	client, err := bigtable.NewClientWithConfig(ctx, config.GCPProjectID, instanceID, bigtable.ClientConfig{
		AppProfile: GetProfileId(instanceConfig.AppProfileId),
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bigtable client for instance %s: %v", instanceID, err)
	}
	return client, nil
}

// CreateBigtableAdminClient dials the admin plane of one instance.
func CreateBigtableAdminClient(ctx context.Context, config ConnConfig, instanceID string) (*bigtable.AdminClient, error) {
	client, err := bigtable.NewAdminClient(ctx, config.GCPProjectID, instanceID, option.WithUserAgent(config.UserAgent))
	if err != nil {
		return nil, fmt.Errorf("failed to create Bigtable admin client for instance %s: %v", instanceID, err)
	}
	return client, nil
}

// CreateClientsForInstances dials every instance named in the connection
// config once, even when several keyspaces share an instance. Both returned
// maps are keyed by instance name.
func CreateClientsForInstances(ctx context.Context, config ConnConfig) (map[string]*bigtable.Client, map[string]*bigtable.AdminClient, error) {
	clients := make(map[string]*bigtable.Client)
	adminClients := make(map[string]*bigtable.AdminClient)
	for _, instanceConfig := range config.InstancesMap {
		instanceID := strings.TrimSpace(instanceConfig.BigtableInstance)
		if _, done := clients[instanceID]; done {
			continue
		}
		client, err := CreateBigtableClient(ctx, config, instanceConfig)
		if err != nil {
			return nil, nil, err
		}
		clients[instanceID] = client

		adminClient, err := CreateBigtableAdminClient(ctx, config, instanceID)
		if err != nil {
			return nil, nil, err
		}
		adminClients[instanceID] = adminClient
	}
	return clients, adminClients, nil
}
