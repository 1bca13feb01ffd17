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

// Package statements compiles INSERT, UPDATE and DELETE statements into
// storage mutations and executes them, including the compare-and-set path
// for conditional writes.
package statements

import (
	"fmt"

	"github.com/datastax/go-cassandra-native-protocol/primitive"
	types "github.com/tuplejump/cassandra/global/types"
	schemaMapping "github.com/tuplejump/cassandra/schema-mapping"
)

// StatementType identifies the kind of data modification. The set is closed;
// every switch over it handles all three values and fails on anything else.
type StatementType string

const (
	StatementInsert StatementType = "insert"
	StatementUpdate StatementType = "update"
	StatementDelete StatementType = "delete"
)

// Term is a value position in a statement, either a literal already encoded
// in its wire form or a reference to a bind marker resolved at execution.
type Term struct {
	Value       []byte
	MarkerIndex int
	IsMarker    bool
}

// NewLiteral returns a Term holding an already encoded value. A nil slice
// stands for an explicit null.
func NewLiteral(value []byte) Term {
	return Term{Value: value}
}

// NewMarker returns a Term bound to the bind variable at the given index.
func NewMarker(index int) Term {
	return Term{MarkerIndex: index, IsMarker: true}
}

// Resolve returns the encoded bytes for the term. Bind markers are looked up
// in the supplied values, with protocol nulls and unset values both mapping
// to a nil slice.
func (t Term) Resolve(values []*primitive.Value) ([]byte, error) {
	if !t.IsMarker {
		return t.Value, nil
	}
	if t.MarkerIndex < 0 || t.MarkerIndex >= len(values) {
		return nil, internalErrorf("bind marker index %d out of range, %d values bound", t.MarkerIndex, len(values))
	}
	v := values[t.MarkerIndex]
	if v == nil || v.Type == primitive.ValueTypeNull || v.Type == primitive.ValueTypeUnset {
		return nil, nil
	}
	return v.Contents, nil
}

// maxMarker returns the highest bind marker index used by the term, or -1.
func (t Term) maxMarker() int {
	if t.IsMarker {
		return t.MarkerIndex
	}
	return -1
}

// KeyAssignmentKind distinguishes the two supported key predicates.
type KeyAssignmentKind string

const (
	KeyAssignmentEq KeyAssignmentKind = "eq"
	KeyAssignmentIn KeyAssignmentKind = "in"
)

// KeyAssignment binds one primary key column to a value. For the in kind the
// alternatives are either listed one term per value or bound as a single
// marker carrying an encoded list.
type KeyAssignment struct {
	Column       string
	Kind         KeyAssignmentKind
	Value        Term    // set for the eq kind
	InValues     []Term  // set for the in kind with listed alternatives
	InListMarker *Term   // set for the in kind bound as one list marker
}

// OperationKind identifies a column operation in the SET part of a statement.
type OperationKind string

const (
	OperationSet                OperationKind = "set"
	OperationDelete             OperationKind = "delete"
	OperationListAppend         OperationKind = "list_append"
	OperationListPrepend        OperationKind = "list_prepend"
	OperationListSetByIndex     OperationKind = "list_set_by_index"
	OperationListDiscard        OperationKind = "list_discard"
	OperationListDiscardByIndex OperationKind = "list_discard_by_index"
	OperationSetAdd             OperationKind = "set_add"
	OperationSetDiscard         OperationKind = "set_discard"
	OperationMapPut             OperationKind = "map_put"
	OperationMapDiscardByKey    OperationKind = "map_discard_by_key"
	OperationCounterIncrement   OperationKind = "counter_increment"
)

// RequiresRead reports whether applying the operation needs the current row
// state. Only the list operations addressing elements by position or by value
// do, because list element ids are server generated and cannot be derived
// from the operands alone.
func (k OperationKind) RequiresRead() bool {
	switch k {
	case OperationListSetByIndex, OperationListDiscard, OperationListDiscardByIndex:
		return true
	}
	return false
}

// ColumnOperation is one entry of the SET part: an operation kind applied to
// a column with up to two operands.
type ColumnOperation struct {
	Column  string
	Kind    OperationKind
	Value   Term // main operand: the value, list/set elements, map value or counter delta
	Element Term // secondary operand: list index or map key
}

// Condition is one IF clause entry comparing a column against a value.
// Only equality is supported.
type Condition struct {
	Column string
	Value  Term
}

// Attributes carries the optional USING parameters of a statement.
type Attributes struct {
	Timestamp *Term // microseconds since the epoch
	TTL       *Term // seconds, zero meaning no expiry
}

// HasTimestamp reports whether an explicit timestamp was supplied.
func (a Attributes) HasTimestamp() bool {
	return a.Timestamp != nil
}

// StatementSpec is the raw, parser produced form of a modification statement.
// NewModificationStatement validates it against the schema and returns the
// executable form.
type StatementSpec struct {
	Type           StatementType
	Keyspace       string
	Table          string
	KeyAssignments []KeyAssignment
	Operations     []ColumnOperation
	Conditions     []Condition
	IfNotExists    bool
	IfExists       bool
	Attributes     Attributes
}

// ModificationStatement is a validated, schema resolved modification ready
// for execution. Instances are immutable once constructed.
type ModificationStatement struct {
	Type        StatementType
	Keyspace    string
	Table       string
	Operations  []ColumnOperation
	Conditions  []Condition
	IfNotExists bool
	IfExists    bool
	Attrs       Attributes

	keyAssignments map[string]KeyAssignment
	partitionKeys  []types.Column
	clusteringKeys []types.Column
	columnsByName  map[string]*types.Column
	isCounter      bool
	boundTerms     int
	schema         *schemaMapping.SchemaMappingConfig
}

// NewModificationStatement resolves the spec against the schema mapping and
// validates it fully. All structural errors a statement can carry are
// reported here, so execution only has to deal with value level failures.
func NewModificationStatement(schema *schemaMapping.SchemaMappingConfig, spec StatementSpec) (*ModificationStatement, error) {
	if schema == nil {
		return nil, internalErrorf("schema mapping config is nil")
	}
	switch spec.Type {
	case StatementInsert, StatementUpdate, StatementDelete:
	default:
		return nil, internalErrorf("unhandled statement type %q", spec.Type)
	}

	partitionKeys, err := schema.GetPartitionKeys(spec.Table, spec.Keyspace)
	if err != nil {
		return nil, invalidRequest(err.Error())
	}
	clusteringKeys, err := schema.GetClusteringKeys(spec.Table, spec.Keyspace)
	if err != nil {
		return nil, invalidRequest(err.Error())
	}
	isCounter, err := schema.IsCounterTable(spec.Keyspace, spec.Table)
	if err != nil {
		return nil, invalidRequest(err.Error())
	}

	stmt := &ModificationStatement{
		Type:           spec.Type,
		Keyspace:       spec.Keyspace,
		Table:          spec.Table,
		Operations:     spec.Operations,
		Conditions:     spec.Conditions,
		IfNotExists:    spec.IfNotExists,
		IfExists:       spec.IfExists,
		Attrs:          spec.Attributes,
		keyAssignments: make(map[string]KeyAssignment, len(spec.KeyAssignments)),
		partitionKeys:  partitionKeys,
		clusteringKeys: clusteringKeys,
		columnsByName:  make(map[string]*types.Column),
		isCounter:      isCounter,
		schema:         schema,
	}
	if err := stmt.validate(spec.KeyAssignments); err != nil {
		return nil, err
	}
	stmt.boundTerms = stmt.countBoundTerms(spec.KeyAssignments)
	return stmt, nil
}

// PartitionKeyColumns returns the partition key columns in precedence order.
func (s *ModificationStatement) PartitionKeyColumns() []types.Column {
	return s.partitionKeys
}

// ClusteringKeyColumns returns the clustering key columns in precedence order.
func (s *ModificationStatement) ClusteringKeyColumns() []types.Column {
	return s.clusteringKeys
}

// IsCounterTable reports whether the target table holds counter columns.
func (s *ModificationStatement) IsCounterTable() bool {
	return s.isCounter
}

// HasConditions reports whether the statement carries an IF part of any form.
func (s *ModificationStatement) HasConditions() bool {
	return s.IfNotExists || s.IfExists || len(s.Conditions) > 0
}

// RequiresRead reports whether any column operation needs the current row
// state before the mutation can be assembled.
func (s *ModificationStatement) RequiresRead() bool {
	for _, op := range s.Operations {
		if op.Kind.RequiresRead() {
			return true
		}
	}
	return false
}

// BoundTerms returns the number of bind variables the statement expects.
func (s *ModificationStatement) BoundTerms() int {
	return s.boundTerms
}

// KeyAssignmentFor returns the key assignment for the given column, if any.
func (s *ModificationStatement) KeyAssignmentFor(column string) (KeyAssignment, bool) {
	ka, ok := s.keyAssignments[column]
	return ka, ok
}

// Column returns the schema column for an operation or condition target.
// Only columns already validated during construction are resolvable.
func (s *ModificationStatement) Column(name string) (*types.Column, error) {
	if col, ok := s.columnsByName[name]; ok {
		return col, nil
	}
	col, err := s.schema.GetColumnType(s.Keyspace, s.Table, name)
	if err != nil {
		return nil, invalidRequestf("Unknown identifier %s", name)
	}
	s.columnsByName[name] = col
	return col, nil
}

// requiresFullClusteringKey reports whether every clustering column must be
// assigned. Deletes may stop early and address a whole clustering prefix.
func (s *ModificationStatement) requiresFullClusteringKey() bool {
	return s.Type != StatementDelete
}

// countBoundTerms returns one past the highest marker index referenced
// anywhere in the statement.
func (s *ModificationStatement) countBoundTerms(assignments []KeyAssignment) int {
	max := -1
	grow := func(t Term) {
		if m := t.maxMarker(); m > max {
			max = m
		}
	}
	for _, ka := range assignments {
		grow(ka.Value)
		for _, t := range ka.InValues {
			grow(t)
		}
		if ka.InListMarker != nil {
			grow(*ka.InListMarker)
		}
	}
	for _, op := range s.Operations {
		grow(op.Value)
		grow(op.Element)
	}
	for _, c := range s.Conditions {
		grow(c.Value)
	}
	if s.Attrs.Timestamp != nil {
		grow(*s.Attrs.Timestamp)
	}
	if s.Attrs.TTL != nil {
		grow(*s.Attrs.TTL)
	}
	return max + 1
}

// Options carries the execution parameters supplied with a statement.
type Options struct {
	Consistency       *primitive.ConsistencyLevel
	SerialConsistency primitive.ConsistencyLevel
	ProtocolVersion   primitive.ProtocolVersion
	Values            []*primitive.Value
}

// normalized fills protocol level defaults for fields the client omitted.
// The zero consistency value is ANY, which is never a valid serial level,
// so it doubles as the unset sentinel.
func (o Options) normalized() Options {
	if o.ProtocolVersion == 0 {
		o.ProtocolVersion = primitive.ProtocolVersion4
	}
	if o.SerialConsistency == primitive.ConsistencyLevelAny {
		o.SerialConsistency = primitive.ConsistencyLevelSerial
	}
	return o
}

// checkBoundValues verifies the client supplied enough bind values.
func (s *ModificationStatement) checkBoundValues(values []*primitive.Value) error {
	if len(values) < s.boundTerms {
		return invalidRequestf("Invalid amount of bind variables: expected %d but got %d", s.boundTerms, len(values))
	}
	return nil
}

func (s *ModificationStatement) String() string {
	return fmt.Sprintf("%s %s.%s", s.Type, s.Keyspace, s.Table)
}
