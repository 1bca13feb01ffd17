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

	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	responsehandler "github.com/tuplejump/cassandra/responsehandler"
	"go.uber.org/zap"
)

// ExtensionProcessorIface is an optional hook a deployment can register to
// take over execution of statements against selected tables. Whether a
// processor is configured is decided once at process start, never probed per
// call.
type ExtensionProcessorIface interface {
	Name() string
	Intercepts(stmt *ModificationStatement) bool
	Process(ctx context.Context, stmt *ModificationStatement, opts Options) (*message.RowsResult, error)
}

// ExtensionRegistryIface resolves the processor responsible for a statement,
// if any was registered. A processor returned here fully handles the
// statement; the engine does not run its own write path afterwards.
type ExtensionRegistryIface interface {
	ProcessorFor(stmt *ModificationStatement) ExtensionProcessorIface
}

// Executor runs validated modification statements against the storage proxy.
type Executor struct {
	Logger          *zap.Logger
	Proxy           StorageProxyIface
	ResponseHandler responsehandler.ResponseHandlerIface
	Extensions      ExtensionRegistryIface
}

// NewExecutor wires an executor. The extension registry may be nil when no
// processors are configured.
func NewExecutor(logger *zap.Logger, proxy StorageProxyIface, handler responsehandler.ResponseHandlerIface, extensions ExtensionRegistryIface) *Executor {
	return &Executor{
		Logger:          logger,
		Proxy:           proxy,
		ResponseHandler: handler,
		Extensions:      extensions,
	}
}

// Execute runs one statement. A nil result with a nil error is a void
// success; a non nil result is the not applied row of a failed conditional
// update, which is a normal outcome rather than an error.
func (e *Executor) Execute(ctx context.Context, stmt *ModificationStatement, opts Options) (*message.RowsResult, error) {
	if stmt == nil {
		return nil, internalErrorf("nil statement")
	}
	opts = opts.normalized()
	if opts.Consistency == nil {
		return nil, invalidRequest("Invalid empty consistency level")
	}

	if e.Extensions != nil {
		if p := e.Extensions.ProcessorFor(stmt); p != nil {
			e.Logger.Debug("statement handed to extension processor",
				zap.String("processor", p.Name()),
				zap.String("keyspace", stmt.Keyspace),
				zap.String("table", stmt.Table))
			return p.Process(ctx, stmt, opts)
		}
	}

	if stmt.HasConditions() {
		return e.executeWithCondition(ctx, stmt, opts)
	}
	return nil, e.executeWithoutCondition(ctx, stmt, opts)
}

// ExecuteInternal applies a statement through the local path, bypassing
// consistency levels and the distributed read machinery. Conditional
// statements cannot take this path.
func (e *Executor) ExecuteInternal(ctx context.Context, stmt *ModificationStatement, values []*primitive.Value) error {
	if stmt == nil {
		return internalErrorf("nil statement")
	}
	if stmt.HasConditions() {
		return internalErrorf("conditional statement cannot be executed internally")
	}
	mutations, err := stmt.Mutations(ctx, e.Proxy, values, true, primitive.ConsistencyLevelOne, e.Proxy.Now(), false)
	if err != nil {
		return err
	}
	if err := e.Proxy.Apply(ctx, mutations, primitive.ConsistencyLevelOne, false); err != nil {
		return executionError("apply mutations", err)
	}
	return nil
}

func (e *Executor) executeWithoutCondition(ctx context.Context, stmt *ModificationStatement, opts Options) error {
	cl := *opts.Consistency
	var err error
	if stmt.IsCounterTable() {
		err = validateCounterForWrite(cl)
	} else {
		err = validateForWrite(cl)
	}
	if err != nil {
		return err
	}

	mutations, err := stmt.Mutations(ctx, e.Proxy, opts.Values, false, cl, e.Proxy.Now(), false)
	if err != nil {
		return err
	}
	if err := e.Proxy.Apply(ctx, mutations, cl, false); err != nil {
		e.Logger.Error("failed to apply mutations",
			zap.String("keyspace", stmt.Keyspace),
			zap.String("table", stmt.Table),
			zap.Error(err))
		return executionError("apply mutations", err)
	}
	return nil
}

func (e *Executor) executeWithCondition(ctx context.Context, stmt *ModificationStatement, opts Options) (*message.RowsResult, error) {
	cl := *opts.Consistency
	if err := validateSerialConsistency(opts.SerialConsistency); err != nil {
		return nil, err
	}
	if err := validateForWrite(cl); err != nil {
		return nil, err
	}
	if err := stmt.checkBoundValues(opts.Values); err != nil {
		return nil, err
	}

	keys, err := stmt.BuildPartitionKeys(opts.Values)
	if err != nil {
		return nil, err
	}
	if len(keys) > 1 {
		return nil, invalidRequest("IN on the partition key is not supported with conditional updates")
	}
	prefix, err := stmt.ClusteringPrefix(opts.Values)
	if err != nil {
		return nil, err
	}

	params, err := stmt.NewUpdateParameters(opts.Values, e.Proxy.Now(), nil)
	if err != nil {
		return nil, err
	}
	proposed, err := stmt.MutationForKey(keys[0], prefix, params)
	if err != nil {
		return nil, err
	}
	expected, err := stmt.buildExpected(prefix, opts.Values)
	if err != nil {
		return nil, err
	}

	witness, err := e.Proxy.CASApply(ctx, &CASRequest{
		Keyspace:          stmt.Keyspace,
		Table:             stmt.Table,
		Key:               keys[0],
		ClusteringPrefix:  prefix.Build(),
		IfNotExists:       stmt.IfNotExists,
		IfExists:          stmt.IfExists,
		Expected:          expected,
		Proposed:          proposed,
		SerialConsistency: opts.SerialConsistency,
		Consistency:       cl,
	})
	if err != nil {
		e.Logger.Error("compare and set failed",
			zap.String("keyspace", stmt.Keyspace),
			zap.String("table", stmt.Table),
			zap.Error(err))
		return nil, executionError("compare and set", err)
	}
	if witness == nil {
		e.Logger.Debug("conditional update applied",
			zap.String("keyspace", stmt.Keyspace),
			zap.String("table", stmt.Table))
		return nil, nil
	}
	return e.casMismatchResult(stmt, prefix, witness, opts)
}

// Mutations compiles the statement into one mutation per partition key,
// running the read phase first when any operation needs prior state.
func (s *ModificationStatement) Mutations(ctx context.Context, proxy StorageProxyIface, values []*primitive.Value, local bool, cl primitive.ConsistencyLevel, now int64, isBatch bool) ([]*Mutation, error) {
	if err := s.checkBoundValues(values); err != nil {
		return nil, err
	}
	keys, err := s.BuildPartitionKeys(values)
	if err != nil {
		return nil, err
	}
	prefix, err := s.ClusteringPrefix(values)
	if err != nil {
		return nil, err
	}
	prior, err := s.readRequiredRows(ctx, proxy, keys, prefix, local, cl)
	if err != nil {
		return nil, err
	}
	params, err := s.NewUpdateParameters(values, now, prior)
	if err != nil {
		return nil, err
	}

	mutations := make([]*Mutation, 0, len(keys))
	for _, key := range keys {
		m, err := s.MutationForKey(key, prefix, params)
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, m)
	}
	return mutations, nil
}

// casMismatchResult renders the witness of a failed compare-and-set. IF
// clauses with column conditions expose exactly the conditioned columns, the
// existence forms expose the whole current row.
func (e *Executor) casMismatchResult(stmt *ModificationStatement, prefix PrefixBuilder, witness *RowState, opts Options) (*message.RowsResult, error) {
	var columns []string
	if len(stmt.Conditions) > 0 {
		columns = stmt.conditionColumns()
	}
	row, err := stmt.witnessView(prefix, witness)
	if err != nil {
		return nil, err
	}
	result, err := e.ResponseHandler.BuildCASMismatchResult(stmt.Keyspace, stmt.Table, columns, row, opts.ProtocolVersion)
	if err != nil {
		return nil, internalErrorf("building conditional result: %v", err)
	}
	return result, nil
}

// witnessView flattens the witness row into per column cell views for result
// building. Key columns are reconstructed from the request key so the full
// row form can render them; an empty witness yields a view with no columns.
func (s *ModificationStatement) witnessView(prefix PrefixBuilder, witness *RowState) (map[string][]responsehandler.CellView, error) {
	view := make(map[string][]responsehandler.CellView)
	if witness == nil || len(witness.Cells) == 0 {
		return view, nil
	}

	keyComponents := [][]byte{witness.Key}
	if len(s.partitionKeys) > 1 {
		comps, err := splitComposite(witness.Key)
		if err != nil {
			return nil, internalErrorf("malformed partition key in witness: %v", err)
		}
		keyComponents = comps
	}
	if len(keyComponents) == len(s.partitionKeys) {
		for i, col := range s.partitionKeys {
			view[col.ColumnName] = []responsehandler.CellView{{Value: keyComponents[i]}}
		}
	}
	for i, comp := range prefix.Components() {
		if i < len(s.clusteringKeys) {
			view[s.clusteringKeys[i].ColumnName] = []responsehandler.CellView{{Value: comp}}
		}
	}

	scalarComponents := prefix.ComponentCount() + 1
	for column, cells := range witness.Cells {
		if column == "" {
			continue
		}
		for _, cell := range cells {
			comps, err := splitComposite(cell.Name)
			if err != nil {
				return nil, internalErrorf("malformed cell name in witness for column %s: %v", column, err)
			}
			cv := responsehandler.CellView{Value: cell.Value}
			if len(comps) > scalarComponents {
				cv.Element = comps[len(comps)-1]
			}
			view[column] = append(view[column], cv)
		}
	}
	return view, nil
}
