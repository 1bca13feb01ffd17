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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuplejump/cassandra/utilities"
)

func TestValidateRejections(t *testing.T) {
	ts := NewLiteral(encBigint(1000))
	ttl := NewLiteral(encInt(60))

	tests := []struct {
		name     string
		spec     StatementSpec
		wantErr  string
		internal bool
	}{
		{
			name: "insert on counter table",
			spec: StatementSpec{
				Type:           StatementInsert,
				Keyspace:       "event_keyspace",
				Table:          "event_counters",
				KeyAssignments: auditKey("org1"),
			},
			wantErr: "INSERT statement are not allowed on counter tables",
		},
		{
			name: "update without operations",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
			},
			wantErr:  "update statement carries no column operations",
			internal: true,
		},
		{
			name: "both existence forms",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "payload", Kind: OperationSet, Value: NewLiteral([]byte("p"))},
				},
				IfNotExists: true,
				IfExists:    true,
			},
			wantErr:  "statement carries both IF EXISTS and IF NOT EXISTS",
			internal: true,
		},
		{
			name: "existence form with column conditions",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "payload", Kind: OperationSet, Value: NewLiteral([]byte("p"))},
				},
				IfNotExists: true,
				Conditions:  []Condition{{Column: "payload", Value: NewLiteral([]byte("x"))}},
			},
			wantErr:  "IF NOT EXISTS cannot be combined with column conditions",
			internal: true,
		},
		{
			name: "delete with ttl",
			spec: StatementSpec{
				Type:           StatementDelete,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Attributes:     Attributes{TTL: &ttl},
			},
			wantErr:  "delete statement carries a TTL",
			internal: true,
		},
		{
			name: "unknown column in set part",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "nope", Kind: OperationSet, Value: NewLiteral([]byte("p"))},
				},
			},
			wantErr: "Unknown identifier nope",
		},
		{
			name: "primary key in set part",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "org_id", Kind: OperationSet, Value: NewLiteral([]byte("x"))},
				},
			},
			wantErr: "PRIMARY KEY part org_id found in SET part",
		},
		{
			name: "plain set on counter column",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "event_counters",
				KeyAssignments: auditKey("org1"),
				Operations: []ColumnOperation{
					{Column: "views", Kind: OperationSet, Value: NewLiteral(encBigint(1))},
				},
			},
			wantErr: "Cannot set the value of counter column views (counters can only be incremented/decremented)",
		},
		{
			name: "list operation on scalar column",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "payload", Kind: OperationListAppend, Value: NewLiteral(encList([]byte("a")))},
				},
			},
			wantErr: "Invalid operation (list_append) for non list column payload",
		},
		{
			name: "set operation on list column",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "tag_list", Kind: OperationSetAdd, Value: NewLiteral(encList([]byte("a")))},
				},
			},
			wantErr: "Invalid operation (set_add) for non set column tag_list",
		},
		{
			name: "map operation on scalar column",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "attempts", Kind: OperationMapPut, Value: NewLiteral([]byte("v")), Element: NewLiteral([]byte("k"))},
				},
			},
			wantErr: "Invalid operation (map_put) for non map column attempts",
		},
		{
			name: "counter increment on regular column",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "attempts", Kind: OperationCounterIncrement, Value: NewLiteral(encBigint(1))},
				},
			},
			wantErr: "Invalid operation (counter_increment) for non counter column attempts",
		},
		{
			name: "read dependent operation in conditional update",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "audit_log",
				KeyAssignments: auditKey("org1"),
				Operations: []ColumnOperation{
					{Column: "tag_list", Kind: OperationListDiscard, Value: NewLiteral(encList([]byte("a")))},
				},
				IfExists: true,
			},
			wantErr: "List operation (tag_list) are not allowed in conditional updates",
		},
		{
			name: "append in insert",
			spec: StatementSpec{
				Type:           StatementInsert,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "tag_list", Kind: OperationListAppend, Value: NewLiteral(encList([]byte("a")))},
				},
			},
			wantErr:  "operation list_append is not valid in an insert",
			internal: true,
		},
		{
			name: "set in delete",
			spec: StatementSpec{
				Type:           StatementDelete,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "payload", Kind: OperationSet, Value: NewLiteral([]byte("p"))},
				},
			},
			wantErr:  "operation set is not valid in a delete",
			internal: true,
		},
		{
			name: "unknown key column",
			spec: StatementSpec{
				Type:     StatementUpdate,
				Keyspace: "event_keyspace",
				Table:    "events",
				KeyAssignments: []KeyAssignment{
					{Column: "nope", Kind: KeyAssignmentEq, Value: NewLiteral([]byte("x"))},
				},
				Operations: []ColumnOperation{
					{Column: "payload", Kind: OperationSet, Value: NewLiteral([]byte("p"))},
				},
			},
			wantErr: "Unknown key identifier nope",
		},
		{
			name: "regular column in where clause",
			spec: StatementSpec{
				Type:     StatementUpdate,
				Keyspace: "event_keyspace",
				Table:    "events",
				KeyAssignments: []KeyAssignment{
					{Column: "payload", Kind: KeyAssignmentEq, Value: NewLiteral([]byte("x"))},
				},
				Operations: []ColumnOperation{
					{Column: "attempts", Kind: OperationSet, Value: NewLiteral(encInt(1))},
				},
			},
			wantErr: "Non PRIMARY KEY payload found in where clause",
		},
		{
			name: "duplicate key assignment",
			spec: StatementSpec{
				Type:     StatementUpdate,
				Keyspace: "event_keyspace",
				Table:    "audit_log",
				KeyAssignments: []KeyAssignment{
					{Column: "org_id", Kind: KeyAssignmentEq, Value: NewLiteral([]byte("a"))},
					{Column: "org_id", Kind: KeyAssignmentEq, Value: NewLiteral([]byte("b"))},
				},
				Operations: []ColumnOperation{
					{Column: "note", Kind: OperationSet, Value: NewLiteral([]byte("n"))},
				},
			},
			wantErr: "Multiple definitions found for PRIMARY KEY part org_id",
		},
		{
			name: "in on clustering column",
			spec: StatementSpec{
				Type:     StatementUpdate,
				Keyspace: "event_keyspace",
				Table:    "events",
				KeyAssignments: []KeyAssignment{
					{Column: "org_id", Kind: KeyAssignmentEq, Value: NewLiteral([]byte("org1"))},
					{Column: "region", Kind: KeyAssignmentEq, Value: NewLiteral([]byte("eu"))},
					{Column: "event_ts", Kind: KeyAssignmentIn, InValues: []Term{NewLiteral(encBigint(1))}},
					{Column: "seq", Kind: KeyAssignmentEq, Value: NewLiteral(encInt(1))},
				},
				Operations: []ColumnOperation{
					{Column: "payload", Kind: OperationSet, Value: NewLiteral([]byte("p"))},
				},
			},
			wantErr: "Invalid operator IN for PRIMARY KEY part event_ts",
		},
		{
			name: "eq assignment with in operands",
			spec: StatementSpec{
				Type:     StatementUpdate,
				Keyspace: "event_keyspace",
				Table:    "audit_log",
				KeyAssignments: []KeyAssignment{
					{Column: "org_id", Kind: KeyAssignmentEq, InValues: []Term{NewLiteral([]byte("a"))}},
				},
				Operations: []ColumnOperation{
					{Column: "note", Kind: OperationSet, Value: NewLiteral([]byte("n"))},
				},
			},
			wantErr:  "eq key assignment for org_id carries IN operands",
			internal: true,
		},
		{
			name: "conditions on counter table",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "event_counters",
				KeyAssignments: auditKey("org1"),
				Operations: []ColumnOperation{
					{Column: "views", Kind: OperationCounterIncrement, Value: NewLiteral(encBigint(1))},
				},
				IfExists: true,
			},
			wantErr: "Conditional updates are not supported on counter tables",
		},
		{
			name: "conditional update with custom timestamp",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "payload", Kind: OperationSet, Value: NewLiteral([]byte("p"))},
				},
				Conditions: []Condition{{Column: "payload", Value: NewLiteral([]byte("old"))}},
				Attributes: Attributes{Timestamp: &ts},
			},
			wantErr: "Cannot provide custom timestamp for conditional update",
		},
		{
			name: "condition on list column",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "payload", Kind: OperationSet, Value: NewLiteral([]byte("p"))},
				},
				Conditions: []Condition{{Column: "tag_list", Value: NewLiteral(encList([]byte("a")))}},
			},
			wantErr: "List operation (tag_list) are not allowed in conditional updates",
		},
		{
			name: "condition on primary key",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "payload", Kind: OperationSet, Value: NewLiteral([]byte("p"))},
				},
				Conditions: []Condition{{Column: "org_id", Value: NewLiteral([]byte("org1"))}},
			},
			wantErr: "PRIMARY KEY part org_id found in SET part",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewModificationStatement(testSchema(t), tc.spec)
			require.Error(t, err)
			assert.EqualError(t, err, tc.wantErr)
			if tc.internal {
				assert.False(t, IsInvalidRequest(err))
			} else {
				assert.True(t, IsInvalidRequest(err))
			}
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	tests := []struct {
		name string
		spec StatementSpec
	}{
		{
			name: "insert with scalar and collection columns",
			spec: StatementSpec{
				Type:           StatementInsert,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "payload", Kind: OperationSet, Value: NewLiteral([]byte("p"))},
					{Column: "tag_list", Kind: OperationSet, Value: NewLiteral(encList([]byte("a")))},
				},
			},
		},
		{
			name: "counter increment",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "event_counters",
				KeyAssignments: auditKey("org1"),
				Operations: []ColumnOperation{
					{Column: "views", Kind: OperationCounterIncrement, Value: NewLiteral(encBigint(5))},
				},
			},
		},
		{
			name: "delete of named columns",
			spec: StatementSpec{
				Type:           StatementDelete,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "payload", Kind: OperationDelete},
					{Column: "tag_list", Kind: OperationDelete},
				},
			},
		},
		{
			name: "single value in on first partition component",
			spec: StatementSpec{
				Type:     StatementUpdate,
				Keyspace: "event_keyspace",
				Table:    "events",
				KeyAssignments: []KeyAssignment{
					{Column: "org_id", Kind: KeyAssignmentIn, InValues: []Term{NewLiteral([]byte("org1"))}},
					{Column: "region", Kind: KeyAssignmentEq, Value: NewLiteral([]byte("eu"))},
					{Column: "event_ts", Kind: KeyAssignmentEq, Value: NewLiteral(encBigint(1))},
					{Column: "seq", Kind: KeyAssignmentEq, Value: NewLiteral(encInt(1))},
				},
				Operations: []ColumnOperation{
					{Column: "payload", Kind: OperationSet, Value: NewLiteral([]byte("p"))},
				},
			},
		},
		{
			name: "conditional update on scalar columns",
			spec: StatementSpec{
				Type:           StatementUpdate,
				Keyspace:       "event_keyspace",
				Table:          "events",
				KeyAssignments: eventKeys("org1", "eu", 1, 1),
				Operations: []ColumnOperation{
					{Column: "payload", Kind: OperationSet, Value: NewLiteral([]byte("new"))},
				},
				Conditions: []Condition{
					{Column: "payload", Value: NewLiteral([]byte("old"))},
					{Column: "is_active", Value: NewLiteral(utilities.EncodedTrue)},
				},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewModificationStatement(testSchema(t), tc.spec)
			assert.NoError(t, err)
		})
	}
}
