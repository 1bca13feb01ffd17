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

package statements

import (
	"github.com/datastax/go-cassandra-native-protocol/primitive"
)

// validateForWrite rejects consistency levels that cannot back a plain
// write. The serial levels only make sense through the conditional path.
func validateForWrite(cl primitive.ConsistencyLevel) error {
	switch cl {
	case primitive.ConsistencyLevelSerial, primitive.ConsistencyLevelLocalSerial:
		return invalidRequest("You must use conditional updates for serializable writes")
	}
	return nil
}

// validateCounterForWrite adds the counter specific restriction on top of
// the plain write rules.
func validateCounterForWrite(cl primitive.ConsistencyLevel) error {
	if cl == primitive.ConsistencyLevelAny {
		return invalidRequest("Consistency level ANY is not yet supported for counter tables")
	}
	return validateForWrite(cl)
}

// validateForRead rejects the write only consistency levels.
func validateForRead(cl primitive.ConsistencyLevel) error {
	switch cl {
	case primitive.ConsistencyLevelAny:
		return invalidRequest("ANY ConsistencyLevel is only supported for writes")
	case primitive.ConsistencyLevelEachQuorum:
		return invalidRequest("EACH_QUORUM ConsistencyLevel is only supported for writes")
	}
	return nil
}

// validateSerialConsistency checks the level driving the compare phase of a
// conditional update.
func validateSerialConsistency(cl primitive.ConsistencyLevel) error {
	switch cl {
	case primitive.ConsistencyLevelSerial, primitive.ConsistencyLevelLocalSerial:
		return nil
	}
	return invalidRequest("Invalid consistency for conditional update. Must be one of SERIAL or LOCAL_SERIAL")
}
