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
	types "github.com/tuplejump/cassandra/global/types"
	"github.com/tuplejump/cassandra/utilities"
)

// validate performs every structural check a statement admits without bind
// values: operation and condition targets against the schema, key assignment
// shapes, and the legality rules around counters and conditional updates.
func (s *ModificationStatement) validate(assignments []KeyAssignment) error {
	if s.IfNotExists && s.IfExists {
		return internalErrorf("statement carries both IF EXISTS and IF NOT EXISTS")
	}
	if s.IfNotExists && len(s.Conditions) > 0 {
		return internalErrorf("IF NOT EXISTS cannot be combined with column conditions")
	}
	if s.IfExists && len(s.Conditions) > 0 {
		return internalErrorf("IF EXISTS cannot be combined with column conditions")
	}
	if s.Type == StatementDelete && s.Attrs.TTL != nil {
		return internalErrorf("delete statement carries a TTL")
	}
	if s.Type == StatementInsert && s.isCounter {
		return invalidRequest("INSERT statement are not allowed on counter tables")
	}
	if s.Type == StatementUpdate && len(s.Operations) == 0 {
		return internalErrorf("update statement carries no column operations")
	}

	if err := s.validateOperations(); err != nil {
		return err
	}
	if err := s.validateKeyAssignments(assignments); err != nil {
		return err
	}
	return s.validateConditions()
}

func (s *ModificationStatement) validateOperations() error {
	for _, op := range s.Operations {
		col, err := s.schema.GetColumnType(s.Keyspace, s.Table, op.Column)
		if err != nil {
			return invalidRequestf("Unknown identifier %s", op.Column)
		}
		if col.IsPrimaryKey {
			return invalidRequestf("PRIMARY KEY part %s found in SET part", op.Column)
		}
		s.columnsByName[op.Column] = col
		if err := s.validateOperationKind(op, col); err != nil {
			return err
		}
		if op.Kind.RequiresRead() && s.HasConditions() {
			return invalidRequestf("List operation (%s) are not allowed in conditional updates", op.Column)
		}
	}
	return nil
}

// validateOperationKind checks that the operation kind agrees with both the
// column type and the statement type.
func (s *ModificationStatement) validateOperationKind(op ColumnOperation, col *types.Column) error {
	if s.isCounter && op.Kind != OperationCounterIncrement && op.Kind != OperationDelete {
		return invalidRequestf("Cannot set the value of counter column %s (counters can only be incremented/decremented)", op.Column)
	}

	switch s.Type {
	case StatementInsert:
		if op.Kind != OperationSet {
			return internalErrorf("operation %s is not valid in an insert", op.Kind)
		}
	case StatementDelete:
		switch op.Kind {
		case OperationDelete, OperationListDiscardByIndex, OperationMapDiscardByKey:
		default:
			return internalErrorf("operation %s is not valid in a delete", op.Kind)
		}
	case StatementUpdate:
	default:
		return internalErrorf("unhandled statement type %q", s.Type)
	}

	code := dataTypeCode(col)
	switch op.Kind {
	case OperationSet, OperationDelete:
		return nil
	case OperationListAppend, OperationListPrepend, OperationListSetByIndex, OperationListDiscard, OperationListDiscardByIndex:
		if code != primitive.DataTypeCodeList {
			return invalidRequestf("Invalid operation (%s) for non list column %s", op.Kind, op.Column)
		}
	case OperationSetAdd, OperationSetDiscard:
		if code != primitive.DataTypeCodeSet {
			return invalidRequestf("Invalid operation (%s) for non set column %s", op.Kind, op.Column)
		}
	case OperationMapPut, OperationMapDiscardByKey:
		if code != primitive.DataTypeCodeMap {
			return invalidRequestf("Invalid operation (%s) for non map column %s", op.Kind, op.Column)
		}
	case OperationCounterIncrement:
		if !col.IsCounter() {
			return invalidRequestf("Invalid operation (%s) for non counter column %s", op.Kind, op.Column)
		}
	default:
		return internalErrorf("unhandled operation kind %q", op.Kind)
	}
	return nil
}

func (s *ModificationStatement) validateKeyAssignments(assignments []KeyAssignment) error {
	keyColumns := make(map[string]*types.Column, len(s.partitionKeys)+len(s.clusteringKeys))
	for i := range s.partitionKeys {
		keyColumns[s.partitionKeys[i].ColumnName] = &s.partitionKeys[i]
	}
	for i := range s.clusteringKeys {
		keyColumns[s.clusteringKeys[i].ColumnName] = &s.clusteringKeys[i]
	}

	for _, ka := range assignments {
		col, err := s.schema.GetColumnType(s.Keyspace, s.Table, ka.Column)
		if err != nil {
			return invalidRequestf("Unknown key identifier %s", ka.Column)
		}
		key, isKey := keyColumns[ka.Column]
		if !isKey {
			return invalidRequestf("Non PRIMARY KEY %s found in where clause", ka.Column)
		}
		if _, dup := s.keyAssignments[ka.Column]; dup {
			return invalidRequestf("Multiple definitions found for PRIMARY KEY part %s", ka.Column)
		}
		if err := validateAssignmentShape(ka); err != nil {
			return err
		}
		if ka.Kind == KeyAssignmentIn && key.KeyType == utilities.KEY_TYPE_CLUSTERING {
			return invalidRequestf("Invalid operator IN for PRIMARY KEY part %s", ka.Column)
		}
		s.columnsByName[ka.Column] = col
		s.keyAssignments[ka.Column] = ka
	}
	return nil
}

// validateAssignmentShape rejects assignments whose operand fields disagree
// with their kind. The parser owns the shape, so a mismatch is a bug rather
// than a client error.
func validateAssignmentShape(ka KeyAssignment) error {
	switch ka.Kind {
	case KeyAssignmentEq:
		if len(ka.InValues) > 0 || ka.InListMarker != nil {
			return internalErrorf("eq key assignment for %s carries IN operands", ka.Column)
		}
	case KeyAssignmentIn:
		if len(ka.InValues) > 0 && ka.InListMarker != nil {
			return internalErrorf("in key assignment for %s carries both listed values and a list marker", ka.Column)
		}
	default:
		return internalErrorf("unhandled key assignment kind %q", ka.Kind)
	}
	return nil
}

func (s *ModificationStatement) validateConditions() error {
	if !s.HasConditions() {
		return nil
	}
	if s.isCounter {
		return invalidRequest("Conditional updates are not supported on counter tables")
	}
	if s.Attrs.HasTimestamp() {
		return invalidRequest("Cannot provide custom timestamp for conditional update")
	}
	for _, c := range s.Conditions {
		col, err := s.schema.GetColumnType(s.Keyspace, s.Table, c.Column)
		if err != nil {
			return invalidRequestf("Unknown identifier %s", c.Column)
		}
		if col.IsList() {
			return invalidRequestf("List operation (%s) are not allowed in conditional updates", c.Column)
		}
		if col.IsPrimaryKey {
			return invalidRequestf("PRIMARY KEY part %s found in SET part", c.Column)
		}
		s.columnsByName[c.Column] = col
	}
	return nil
}

func dataTypeCode(col *types.Column) primitive.DataTypeCode {
	if col.CQLType == nil {
		return primitive.DataTypeCode(0)
	}
	return col.CQLType.GetDataTypeCode()
}
