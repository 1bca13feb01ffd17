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

package constants

// Shared limits and names used across the write path. Kept in one place to
// avoid magic numbers and circular imports between packages.
const (
	// MaxTTLSeconds is the largest TTL accepted on a statement, 20 years.
	MaxTTLSeconds = 20 * 365 * 24 * 60 * 60

	// MaxKeyLength bounds a serialized partition key; keys travel in
	// unsigned-short framed buffers.
	MaxKeyLength = 0xFFFF

	// MicrosPerMilli converts wall-clock milliseconds to the microsecond
	// resolution cells are stamped with.
	MicrosPerMilli = int64(1000)

	// AppliedColumnName is the synthetic boolean column reported for
	// conditional statements.
	AppliedColumnName = "[applied]"

	// PreparedIdSize is the byte length of a prepared statement id.
	PreparedIdSize = 16
)
