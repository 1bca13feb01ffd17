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
	"sort"

	types "github.com/tuplejump/cassandra/global/types"
)

const (
	DefaultProfileId = "default"
)

// sortPkData orders the primary key columns of every table by precedence.
func sortPkData(pkMetadata map[string][]types.Column) map[string][]types.Column {
	for tableName, columns := range pkMetadata {
		sort.Slice(columns, func(i, j int) bool {
			return columns[i].PkPrecedence < columns[j].PkPrecedence
		})
		pkMetadata[tableName] = columns
	}
	return pkMetadata
}

// GetProfileId falls back to the default app profile when none is
// configured.
func GetProfileId(profileId string) string {
	if profileId != "" {
		return profileId
	}
	return DefaultProfileId
}
