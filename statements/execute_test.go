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
	"context"
	"errors"
	"testing"

	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	responsehandler "github.com/tuplejump/cassandra/responsehandler"
	"github.com/tuplejump/cassandra/utilities"
	"go.uber.org/zap"
)

type applyCall struct {
	mutations []*Mutation
	cl        primitive.ConsistencyLevel
	isBatch   bool
}

type readCall struct {
	keyspace string
	table    string
	keys     [][]byte
	columns  []string
	cl       primitive.ConsistencyLevel
	local    bool
}

// fakeProxy records every storage interaction so tests can assert on the
// exact calls the executor makes.
type fakeProxy struct {
	now        int64
	readRows   map[string]*RowState
	readErr    error
	applyErr   error
	casWitness *RowState
	casErr     error

	reads       []readCall
	applies     []applyCall
	casRequests []*CASRequest
}

func (f *fakeProxy) Read(_ context.Context, keyspace, table string, keys [][]byte, _ []byte, columns []string, cl primitive.ConsistencyLevel, local bool) (map[string]*RowState, error) {
	f.reads = append(f.reads, readCall{keyspace: keyspace, table: table, keys: keys, columns: columns, cl: cl, local: local})
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.readRows, nil
}

func (f *fakeProxy) Apply(_ context.Context, mutations []*Mutation, cl primitive.ConsistencyLevel, isBatch bool) error {
	f.applies = append(f.applies, applyCall{mutations: mutations, cl: cl, isBatch: isBatch})
	return f.applyErr
}

func (f *fakeProxy) CASApply(_ context.Context, req *CASRequest) (*RowState, error) {
	f.casRequests = append(f.casRequests, req)
	if f.casErr != nil {
		return nil, f.casErr
	}
	return f.casWitness, nil
}

func (f *fakeProxy) Now() int64 {
	if f.now == 0 {
		return testNowMicros
	}
	return f.now
}

type captureProcessor struct {
	name   string
	table  string
	result *message.RowsResult
	err    error
	calls  int
}

func (p *captureProcessor) Name() string { return p.name }

func (p *captureProcessor) Intercepts(stmt *ModificationStatement) bool {
	return stmt.Table == p.table
}

func (p *captureProcessor) Process(_ context.Context, _ *ModificationStatement, _ Options) (*message.RowsResult, error) {
	p.calls++
	return p.result, p.err
}

type captureRegistry struct {
	processors []*captureProcessor
}

func (r *captureRegistry) ProcessorFor(stmt *ModificationStatement) ExtensionProcessorIface {
	for _, p := range r.processors {
		if p.Intercepts(stmt) {
			return p
		}
	}
	return nil
}

func newTestExecutor(t *testing.T, proxy *fakeProxy, extensions ExtensionRegistryIface) *Executor {
	t.Helper()
	handler := &responsehandler.TypeHandler{
		Logger:              zap.NewNop(),
		SchemaMappingConfig: testSchema(t),
	}
	return NewExecutor(zap.NewNop(), proxy, handler, extensions)
}

func clPtr(cl primitive.ConsistencyLevel) *primitive.ConsistencyLevel {
	return &cl
}

func plainUpdate(t *testing.T) *ModificationStatement {
	t.Helper()
	return mustStatement(t, StatementSpec{
		Type:           StatementUpdate,
		Keyspace:       "event_keyspace",
		Table:          "events",
		KeyAssignments: eventKeys("org1", "eu", 42, 7),
		Operations: []ColumnOperation{
			{Column: "payload", Kind: OperationSet, Value: NewLiteral([]byte("p"))},
		},
	})
}

func conditionalUpdate(t *testing.T, conditions []Condition, ifNotExists, ifExists bool) *ModificationStatement {
	t.Helper()
	typ := StatementUpdate
	if ifNotExists {
		typ = StatementInsert
	}
	return mustStatement(t, StatementSpec{
		Type:           typ,
		Keyspace:       "event_keyspace",
		Table:          "audit_log",
		KeyAssignments: auditKey("org1"),
		Operations: []ColumnOperation{
			{Column: "note", Kind: OperationSet, Value: NewLiteral([]byte("new"))},
		},
		Conditions:  conditions,
		IfNotExists: ifNotExists,
		IfExists:    ifExists,
	})
}

func TestExecuteRequiresStatementAndConsistency(t *testing.T) {
	e := newTestExecutor(t, &fakeProxy{}, nil)

	_, err := e.Execute(context.Background(), nil, Options{})
	assert.EqualError(t, err, "nil statement")
	assert.False(t, IsInvalidRequest(err))

	_, err = e.Execute(context.Background(), plainUpdate(t), Options{})
	assert.EqualError(t, err, "Invalid empty consistency level")
	assert.True(t, IsInvalidRequest(err))
}

func TestExecutePlainWrite(t *testing.T) {
	proxy := &fakeProxy{}
	e := newTestExecutor(t, proxy, nil)

	result, err := e.Execute(context.Background(), plainUpdate(t), Options{
		Consistency: clPtr(primitive.ConsistencyLevelQuorum),
	})
	require.NoError(t, err)
	assert.Nil(t, result, "a plain write succeeds as void")

	require.Len(t, proxy.applies, 1)
	call := proxy.applies[0]
	assert.Equal(t, primitive.ConsistencyLevelQuorum, call.cl)
	assert.False(t, call.isBatch)
	require.Len(t, call.mutations, 1)
	assert.Equal(t, testNowMicros, call.mutations[0].TimestampMicros)
	assert.Empty(t, proxy.reads, "no operation needed prior state")
	assert.Empty(t, proxy.casRequests)
}

func TestExecuteRejectsSerialConsistencyForPlainWrites(t *testing.T) {
	e := newTestExecutor(t, &fakeProxy{}, nil)

	_, err := e.Execute(context.Background(), plainUpdate(t), Options{
		Consistency: clPtr(primitive.ConsistencyLevelSerial),
	})
	assert.EqualError(t, err, "You must use conditional updates for serializable writes")
}

func TestExecuteCounterWriteConsistency(t *testing.T) {
	stmt := mustStatement(t, StatementSpec{
		Type:           StatementUpdate,
		Keyspace:       "event_keyspace",
		Table:          "event_counters",
		KeyAssignments: []KeyAssignment{{Column: "org_id", Kind: KeyAssignmentEq, Value: NewLiteral([]byte("org1"))}},
		Operations: []ColumnOperation{
			{Column: "views", Kind: OperationCounterIncrement, Value: NewLiteral(encBigint(1))},
		},
	})

	proxy := &fakeProxy{}
	e := newTestExecutor(t, proxy, nil)

	_, err := e.Execute(context.Background(), stmt, Options{
		Consistency: clPtr(primitive.ConsistencyLevelAny),
	})
	assert.EqualError(t, err, "Consistency level ANY is not yet supported for counter tables")

	result, err := e.Execute(context.Background(), stmt, Options{
		Consistency: clPtr(primitive.ConsistencyLevelQuorum),
	})
	require.NoError(t, err)
	assert.Nil(t, result)
	require.Len(t, proxy.applies, 1)
	assert.True(t, proxy.applies[0].mutations[0].IsCounter)
}

func TestExecuteRunsReadPhase(t *testing.T) {
	key := []byte("org1")
	proxy := &fakeProxy{readRows: priorList(key, "tag_list", []byte("a"), []byte("b"))}
	e := newTestExecutor(t, proxy, nil)

	stmt := mustStatement(t, StatementSpec{
		Type:           StatementUpdate,
		Keyspace:       "event_keyspace",
		Table:          "audit_log",
		KeyAssignments: auditKey("org1"),
		Operations: []ColumnOperation{
			{Column: "tag_list", Kind: OperationListDiscardByIndex, Element: NewLiteral(encInt(0))},
		},
	})

	result, err := e.Execute(context.Background(), stmt, Options{
		Consistency: clPtr(primitive.ConsistencyLevelQuorum),
	})
	require.NoError(t, err)
	assert.Nil(t, result)

	require.Len(t, proxy.reads, 1)
	read := proxy.reads[0]
	assert.Equal(t, "event_keyspace", read.keyspace)
	assert.Equal(t, "audit_log", read.table)
	assert.Equal(t, [][]byte{key}, read.keys)
	assert.Equal(t, []string{"tag_list"}, read.columns)
	assert.Equal(t, primitive.ConsistencyLevelQuorum, read.cl)
	assert.False(t, read.local)

	require.Len(t, proxy.applies, 1)
	cells := proxy.applies[0].mutations[0].Cells
	require.Len(t, cells, 1)
	assert.Equal(t, CellTombstone, cells[0].Kind)
}

func TestExecuteReadPhaseConsistency(t *testing.T) {
	proxy := &fakeProxy{}
	e := newTestExecutor(t, proxy, nil)

	stmt := mustStatement(t, StatementSpec{
		Type:           StatementUpdate,
		Keyspace:       "event_keyspace",
		Table:          "audit_log",
		KeyAssignments: auditKey("org1"),
		Operations: []ColumnOperation{
			{Column: "tag_list", Kind: OperationListDiscardByIndex, Element: NewLiteral(encInt(0))},
		},
	})

	_, err := e.Execute(context.Background(), stmt, Options{
		Consistency: clPtr(primitive.ConsistencyLevelAny),
	})
	assert.EqualError(t, err, "Write operation require a read but consistency ANY is not supported on reads")
	assert.Empty(t, proxy.reads)
}

func TestExecuteApplyFailure(t *testing.T) {
	proxy := &fakeProxy{applyErr: errors.New("replica down")}
	e := newTestExecutor(t, proxy, nil)

	_, err := e.Execute(context.Background(), plainUpdate(t), Options{
		Consistency: clPtr(primitive.ConsistencyLevelQuorum),
	})
	assert.EqualError(t, err, "apply mutations: replica down")
	assert.True(t, IsExecutionError(err))
	assert.False(t, IsInvalidRequest(err))
}

func TestExecuteConditionalApplied(t *testing.T) {
	proxy := &fakeProxy{}
	e := newTestExecutor(t, proxy, nil)

	stmt := conditionalUpdate(t, []Condition{{Column: "note", Value: NewLiteral([]byte("old"))}}, false, false)
	result, err := e.Execute(context.Background(), stmt, Options{
		Consistency: clPtr(primitive.ConsistencyLevelQuorum),
	})
	require.NoError(t, err)
	assert.Nil(t, result, "an applied conditional update returns void")

	require.Len(t, proxy.casRequests, 1)
	req := proxy.casRequests[0]
	assert.Equal(t, "event_keyspace", req.Keyspace)
	assert.Equal(t, "audit_log", req.Table)
	assert.Equal(t, []byte("org1"), req.Key)
	assert.Empty(t, req.ClusteringPrefix)
	assert.False(t, req.IfNotExists)
	assert.False(t, req.IfExists)
	require.Len(t, req.Expected, 1)
	assert.Equal(t, []byte("old"), req.Expected[0].Value)
	require.NotNil(t, req.Proposed)
	require.Len(t, req.Proposed.Cells, 1)
	assert.Equal(t, []byte("new"), req.Proposed.Cells[0].Value)
	assert.Equal(t, primitive.ConsistencyLevelSerial, req.SerialConsistency, "an unset serial level defaults to SERIAL")
	assert.Equal(t, primitive.ConsistencyLevelQuorum, req.Consistency)
	assert.Empty(t, proxy.applies, "the proposal travels inside the compare and set")
}

func TestExecuteConditionalSerialConsistency(t *testing.T) {
	proxy := &fakeProxy{}
	e := newTestExecutor(t, proxy, nil)
	stmt := conditionalUpdate(t, []Condition{{Column: "note", Value: NewLiteral([]byte("old"))}}, false, false)

	_, err := e.Execute(context.Background(), stmt, Options{
		Consistency:       clPtr(primitive.ConsistencyLevelQuorum),
		SerialConsistency: primitive.ConsistencyLevelQuorum,
	})
	assert.EqualError(t, err, "Invalid consistency for conditional update. Must be one of SERIAL or LOCAL_SERIAL")

	_, err = e.Execute(context.Background(), stmt, Options{
		Consistency:       clPtr(primitive.ConsistencyLevelQuorum),
		SerialConsistency: primitive.ConsistencyLevelLocalSerial,
	})
	require.NoError(t, err)
	require.Len(t, proxy.casRequests, 1)
	assert.Equal(t, primitive.ConsistencyLevelLocalSerial, proxy.casRequests[0].SerialConsistency)
}

func TestExecuteConditionalRejectsKeyFanOut(t *testing.T) {
	stmt := mustStatement(t, StatementSpec{
		Type:     StatementUpdate,
		Keyspace: "event_keyspace",
		Table:    "events",
		KeyAssignments: []KeyAssignment{
			{Column: "org_id", Kind: KeyAssignmentEq, Value: NewLiteral([]byte("org1"))},
			{Column: "region", Kind: KeyAssignmentIn, InValues: []Term{
				NewLiteral([]byte("eu")),
				NewLiteral([]byte("us")),
			}},
			{Column: "event_ts", Kind: KeyAssignmentEq, Value: NewLiteral(encBigint(1))},
			{Column: "seq", Kind: KeyAssignmentEq, Value: NewLiteral(encInt(1))},
		},
		Operations: []ColumnOperation{
			{Column: "payload", Kind: OperationSet, Value: NewLiteral([]byte("p"))},
		},
		Conditions: []Condition{{Column: "payload", Value: NewLiteral([]byte("old"))}},
	})

	e := newTestExecutor(t, &fakeProxy{}, nil)
	_, err := e.Execute(context.Background(), stmt, Options{
		Consistency: clPtr(primitive.ConsistencyLevelQuorum),
	})
	assert.EqualError(t, err, "IN on the partition key is not supported with conditional updates")
}

func TestExecuteConditionalMismatchConditionColumns(t *testing.T) {
	witness := &RowState{
		Key: []byte("org1"),
		Cells: map[string][]CellState{
			"note": {{Name: NewPrefixBuilder().Add([]byte("note")).Build(), Value: []byte("cur")}},
		},
	}
	proxy := &fakeProxy{casWitness: witness}
	e := newTestExecutor(t, proxy, nil)

	stmt := conditionalUpdate(t, []Condition{{Column: "note", Value: NewLiteral([]byte("old"))}}, false, false)
	result, err := e.Execute(context.Background(), stmt, Options{
		Consistency: clPtr(primitive.ConsistencyLevelQuorum),
	})
	require.NoError(t, err, "a rejected conditional update is a normal outcome")
	require.NotNil(t, result)

	require.Equal(t, int32(2), result.Metadata.ColumnCount)
	assert.Equal(t, "[applied]", result.Metadata.Columns[0].Name)
	assert.Equal(t, "note", result.Metadata.Columns[1].Name)
	require.Len(t, result.Data, 1)
	assert.Equal(t, utilities.EncodedFalse, result.Data[0][0])
	assert.Equal(t, []byte("cur"), result.Data[0][1])
}

func TestExecuteConditionalMismatchFullRow(t *testing.T) {
	witness := &RowState{
		Key: []byte("org1"),
		Cells: map[string][]CellState{
			"note": {{Name: NewPrefixBuilder().Add([]byte("note")).Build(), Value: []byte("cur")}},
		},
	}
	proxy := &fakeProxy{casWitness: witness}
	e := newTestExecutor(t, proxy, nil)

	stmt := conditionalUpdate(t, nil, true, false)
	result, err := e.Execute(context.Background(), stmt, Options{
		Consistency: clPtr(primitive.ConsistencyLevelQuorum),
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	var names []string
	for _, col := range result.Metadata.Columns {
		names = append(names, col.Name)
	}
	assert.Equal(t, []string{"[applied]", "attrs", "note", "org_id", "tag_list", "tag_set"}, names)

	row := result.Data[0]
	assert.Equal(t, utilities.EncodedFalse, row[0])
	assert.Nil(t, row[1])
	assert.Equal(t, []byte("cur"), row[2])
	assert.Equal(t, []byte("org1"), row[3], "key columns come back from the request key")
	assert.Nil(t, row[4])
	assert.Nil(t, row[5])
}

func TestExecuteConditionalMismatchAbsentRow(t *testing.T) {
	proxy := &fakeProxy{casWitness: &RowState{Key: []byte("org1"), Cells: map[string][]CellState{}}}
	e := newTestExecutor(t, proxy, nil)

	stmt := conditionalUpdate(t, nil, false, true)
	result, err := e.Execute(context.Background(), stmt, Options{
		Consistency: clPtr(primitive.ConsistencyLevelQuorum),
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	require.Equal(t, int32(1), result.Metadata.ColumnCount, "no row to show, only the applied flag")
	assert.Equal(t, []message.Row{{utilities.EncodedFalse}}, result.Data)
}

func TestExecuteConditionalMismatchCollectionWitness(t *testing.T) {
	base := NewPrefixBuilder().Add([]byte("tag_set"))
	witness := &RowState{
		Key: []byte("org1"),
		Cells: map[string][]CellState{
			"tag_set": {
				{Name: base.Add([]byte("x")).Build()},
				{Name: base.Add([]byte("y")).Build()},
			},
		},
	}
	proxy := &fakeProxy{casWitness: witness}
	e := newTestExecutor(t, proxy, nil)

	stmt := conditionalUpdate(t, []Condition{{Column: "tag_set", Value: NewLiteral(nil)}}, false, false)
	result, err := e.Execute(context.Background(), stmt, Options{
		Consistency: clPtr(primitive.ConsistencyLevelQuorum),
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	require.Equal(t, int32(2), result.Metadata.ColumnCount)
	assert.Equal(t, "tag_set", result.Metadata.Columns[1].Name)
	assert.Equal(t, encList([]byte("x"), []byte("y")), result.Data[0][1], "the set is reassembled from its element cells")
}

func TestExecuteConditionalCASFailure(t *testing.T) {
	proxy := &fakeProxy{casErr: errors.New("paxos timeout")}
	e := newTestExecutor(t, proxy, nil)

	stmt := conditionalUpdate(t, []Condition{{Column: "note", Value: NewLiteral([]byte("old"))}}, false, false)
	_, err := e.Execute(context.Background(), stmt, Options{
		Consistency: clPtr(primitive.ConsistencyLevelQuorum),
	})
	assert.EqualError(t, err, "compare and set: paxos timeout")
	assert.True(t, IsExecutionError(err))
}

func TestExecuteConditionalMissingBindValues(t *testing.T) {
	stmt := conditionalUpdate(t, []Condition{{Column: "note", Value: NewMarker(0)}}, false, false)
	e := newTestExecutor(t, &fakeProxy{}, nil)

	_, err := e.Execute(context.Background(), stmt, Options{
		Consistency: clPtr(primitive.ConsistencyLevelQuorum),
	})
	assert.EqualError(t, err, "Invalid amount of bind variables: expected 1 but got 0")
}

func TestExecuteExtensionTakeover(t *testing.T) {
	marker := &message.RowsResult{Metadata: &message.RowsMetadata{}}
	processor := &captureProcessor{name: "audit", table: "events", result: marker}
	proxy := &fakeProxy{}
	e := newTestExecutor(t, proxy, &captureRegistry{processors: []*captureProcessor{processor}})

	result, err := e.Execute(context.Background(), plainUpdate(t), Options{
		Consistency: clPtr(primitive.ConsistencyLevelQuorum),
	})
	require.NoError(t, err)
	assert.Same(t, marker, result)
	assert.Equal(t, 1, processor.calls)
	assert.Empty(t, proxy.applies, "an intercepted statement never reaches storage")

	other := mustStatement(t, StatementSpec{
		Type:           StatementUpdate,
		Keyspace:       "event_keyspace",
		Table:          "audit_log",
		KeyAssignments: auditKey("org1"),
		Operations: []ColumnOperation{
			{Column: "note", Kind: OperationSet, Value: NewLiteral([]byte("n"))},
		},
	})
	result, err = e.Execute(context.Background(), other, Options{
		Consistency: clPtr(primitive.ConsistencyLevelQuorum),
	})
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1, processor.calls, "unclaimed tables run the normal path")
	assert.Len(t, proxy.applies, 1)
}

func TestExecuteInternal(t *testing.T) {
	key := []byte("org1")
	proxy := &fakeProxy{readRows: priorList(key, "tag_list", []byte("a"))}
	e := newTestExecutor(t, proxy, nil)

	stmt := mustStatement(t, StatementSpec{
		Type:           StatementUpdate,
		Keyspace:       "event_keyspace",
		Table:          "audit_log",
		KeyAssignments: auditKey("org1"),
		Operations: []ColumnOperation{
			{Column: "tag_list", Kind: OperationListDiscardByIndex, Element: NewLiteral(encInt(0))},
		},
	})
	require.NoError(t, e.ExecuteInternal(context.Background(), stmt, nil))

	require.Len(t, proxy.reads, 1)
	assert.True(t, proxy.reads[0].local, "the internal path reads locally")
	assert.Equal(t, primitive.ConsistencyLevelOne, proxy.reads[0].cl)
	require.Len(t, proxy.applies, 1)
	assert.Equal(t, primitive.ConsistencyLevelOne, proxy.applies[0].cl)
}

func TestExecuteInternalRejectsConditions(t *testing.T) {
	stmt := conditionalUpdate(t, []Condition{{Column: "note", Value: NewLiteral([]byte("old"))}}, false, false)
	e := newTestExecutor(t, &fakeProxy{}, nil)

	err := e.ExecuteInternal(context.Background(), stmt, nil)
	assert.EqualError(t, err, "conditional statement cannot be executed internally")
	assert.False(t, IsInvalidRequest(err))
}
