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

// Package bigtableclient maps the write engine's partition model onto Cloud
// Bigtable. A partition is one Bigtable row keyed by the raw partition key;
// every engine cell lives in the default column family under its full
// composite name as qualifier. Engine timestamps are microseconds, but the
// backend only accepts millisecond granularity, so timestamps travel scaled
// by a factor of one thousand, which keeps adjacent engine timestamps
// distinct and the mapping reversible on reads.
package bigtableclient

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"sync"

	"cloud.google.com/go/bigtable"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"go.uber.org/zap"

	otelgo "github.com/tuplejump/cassandra/otel"
	"github.com/tuplejump/cassandra/statements"
)

// Events
const (
	applyingWriteMutations      = "Applying Write Mutations"
	writeMutationsApplied       = "Write Mutations Applied"
	readingPriorRowState        = "Reading Prior Row State"
	priorRowStateFetched        = "Prior Row State Fetched"
	applyingCompareAndSet       = "Applying Compare And Set"
	compareAndSetApplied        = "Compare And Set Applied"
	fetchingSchemaMappingConfig = "Fetching Schema Mapping Configurations"
	schemaMappingConfigFetched  = "Schema Mapping Configurations Fetched"
)

// Now returns the current write timestamp in microseconds.
func (sp *StorageProxy) Now() int64 {
	return bigtable.Now().Time().UnixMicro()
}

// storageTimestamp carries an engine timestamp onto the backend axis. The
// factor of one thousand turns arbitrary microsecond values into the
// millisecond granularity Bigtable demands without collapsing neighbours.
func storageTimestamp(micros int64) bigtable.Timestamp {
	return bigtable.Timestamp(micros * 1000)
}

// engineMicros inverts storageTimestamp.
func engineMicros(ts bigtable.Timestamp) int64 {
	return int64(ts) / 1000
}

// deleteUpTo is the exclusive upper bound of a deletion covering every
// engine timestamp at or below micros.
func deleteUpTo(micros int64) bigtable.Timestamp {
	return bigtable.Timestamp((micros + 1) * 1000)
}

// prefixRangeEnd turns a clustering prefix into the exclusive end of the
// qualifier range holding that row's cells. Every composite component ends
// with an end-of-component byte of zero; flipping the final one to one
// bounds all names extending the prefix.
func prefixRangeEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	end[len(end)-1] = 0x01
	return end
}

// rowCellsFilter matches the cells of one engine row. An empty prefix means
// the table has no clustering keys and the whole family is the row.
func rowCellsFilter(family string, clusteringPrefix []byte) bigtable.Filter {
	if len(clusteringPrefix) == 0 {
		return bigtable.FamilyFilter(family)
	}
	return bigtable.ColumnRangeFilter(family, string(clusteringPrefix), string(prefixRangeEnd(clusteringPrefix)))
}

// existencePredicate is the conditional mutation predicate deciding whether
// an engine row has any live cell.
func existencePredicate(family string, clusteringPrefix []byte) bigtable.Filter {
	return bigtable.ChainFilters(
		rowCellsFilter(family, clusteringPrefix),
		bigtable.CellsPerRowLimitFilter(1),
	)
}

// qualifierOf strips the family prefix off a read item's column, leaving the
// raw composite name bytes.
func qualifierOf(item bigtable.ReadItem, family string) []byte {
	return []byte(item.Column[len(family)+1:])
}

// Read fetches the named columns of the rows addressed by keys and the
// clustering prefix. Rows without live cells are absent from the result.
// Consistency is a property of the app profile a keyspace routes through,
// so cl and local only shape tracing here.
func (sp *StorageProxy) Read(ctx context.Context, keyspace, table string, keys [][]byte, clusteringPrefix []byte, columns []string, cl primitive.ConsistencyLevel, local bool) (map[string]*statements.RowState, error) {
	otelgo.AddAnnotation(ctx, readingPriorRowState)
	results := make(map[string]*statements.RowState)
	if len(keys) == 0 {
		return results, nil
	}
	client, err := sp.getClient(keyspace)
	if err != nil {
		return nil, err
	}
	clusteringCount, err := sp.clusteringComponentCount(keyspace, table)
	if err != nil {
		return nil, err
	}

	var want map[string]bool
	if columns != nil {
		want = make(map[string]bool, len(columns))
		for _, name := range columns {
			want[name] = true
		}
	}

	rowList := make(bigtable.RowList, 0, len(keys))
	for _, key := range keys {
		rowList = append(rowList, string(key))
	}

	tbl := client.Open(table)
	filter := bigtable.ChainFilters(
		rowCellsFilter(sp.BigtableConfig.DefaultColumnFamily, clusteringPrefix),
		bigtable.LatestNFilter(1),
	)

	var readErr error
	err = tbl.ReadRows(ctx, rowList, func(row bigtable.Row) bool {
		state, err := sp.rowStateFrom(row, clusteringCount, want)
		if err != nil {
			readErr = err
			return false
		}
		if state != nil {
			results[string(state.Key)] = state
		}
		return true
	}, bigtable.RowFilter(filter))
	if err == nil {
		err = readErr
	}
	if err != nil {
		sp.Logger.Error("prior state read failed",
			zap.String("keyspace", keyspace), zap.String("table", table), zap.Error(err))
		return nil, err
	}

	sp.Logger.Debug("prior state read",
		zap.String("keyspace", keyspace),
		zap.String("table", table),
		zap.Int("keys", len(keys)),
		zap.Int("rows", len(results)),
		zap.Bool("local", local))
	otelgo.AddAnnotation(ctx, priorRowStateFetched)
	return results, nil
}

// rowStateFrom classifies the cells of one backend row into an engine row
// state. A nil want map keeps every column, including the row marker, whose
// column component is empty. With a want map only the named columns are
// kept, which is what read dependent operations ask for.
func (sp *StorageProxy) rowStateFrom(row bigtable.Row, clusteringCount int, want map[string]bool) (*statements.RowState, error) {
	family := sp.BigtableConfig.DefaultColumnFamily
	state := &statements.RowState{
		Key:   []byte(row.Key()),
		Cells: make(map[string][]statements.CellState),
	}
	for _, item := range row[family] {
		qualifier := qualifierOf(item, family)
		comps, err := statements.SplitCellName(qualifier)
		if err != nil {
			return nil, fmt.Errorf("row %s holds a malformed cell name %s: %w",
				hex.EncodeToString(state.Key), hex.EncodeToString(qualifier), err)
		}
		if len(comps) < clusteringCount+1 || len(comps) > clusteringCount+2 {
			return nil, fmt.Errorf("row %s holds a cell name of %d components, want %d or %d",
				hex.EncodeToString(state.Key), len(comps), clusteringCount+1, clusteringCount+2)
		}
		column := string(comps[clusteringCount])
		if want != nil && !want[column] {
			continue
		}
		state.Cells[column] = append(state.Cells[column], statements.CellState{
			Name:            qualifier,
			Value:           item.Value,
			TimestampMicros: engineMicros(item.Timestamp),
		})
	}
	if len(state.Cells) == 0 {
		return nil, nil
	}
	return state, nil
}

// readRowState reads one engine row in full, for the compare phase and the
// witness of a compare-and-set.
func (sp *StorageProxy) readRowState(ctx context.Context, tbl *bigtable.Table, keyspace, table string, key, clusteringPrefix []byte) (*statements.RowState, error) {
	clusteringCount, err := sp.clusteringComponentCount(keyspace, table)
	if err != nil {
		return nil, err
	}
	row, err := tbl.ReadRow(ctx, string(key), bigtable.RowFilter(bigtable.ChainFilters(
		rowCellsFilter(sp.BigtableConfig.DefaultColumnFamily, clusteringPrefix),
		bigtable.LatestNFilter(1),
	)))
	if err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, nil
	}
	return sp.rowStateFrom(row, clusteringCount, nil)
}

func (sp *StorageProxy) clusteringComponentCount(keyspace, table string) (int, error) {
	clusteringKeys, err := sp.SchemaMappingConfig.GetClusteringKeys(table, keyspace)
	if err != nil {
		return 0, err
	}
	return len(clusteringKeys), nil
}

// Apply writes the mutations, bulked per table. Counter mutations go through
// the read-modify-write surface so concurrent increments accumulate instead
// of overwriting each other. Atomicity holds per partition; isBatch only
// shapes logging since the backend offers no cross row transaction.
func (sp *StorageProxy) Apply(ctx context.Context, mutations []*statements.Mutation, cl primitive.ConsistencyLevel, isBatch bool) error {
	otelgo.AddAnnotation(ctx, applyingWriteMutations)

	type tableGroup struct {
		keyspace string
		table    string
		rowKeys  []string
		muts     []*bigtable.Mutation
		rowIndex map[string]int
	}
	type counterOp struct {
		keyspace string
		table    string
		rowKey   string
		rmw      *bigtable.ReadModifyWrite
	}

	var groups []*tableGroup
	groupIndex := make(map[string]*tableGroup)
	var counters []counterOp
	family := sp.BigtableConfig.DefaultColumnFamily

	for _, m := range mutations {
		if m.IsEmpty() {
			continue
		}
		sp.Logger.Debug("mutating row",
			zap.String("keyspace", m.Keyspace),
			zap.String("table", m.Table),
			zap.String("key", hex.EncodeToString(m.Key)),
			zap.Bool("batch", isBatch))

		client, err := sp.getClient(m.Keyspace)
		if err != nil {
			return err
		}
		tbl := client.Open(m.Table)

		if m.IsCounter {
			rmw, remainder, err := counterMutation(family, m)
			if err != nil {
				return err
			}
			if rmw != nil {
				counters = append(counters, counterOp{m.Keyspace, m.Table, string(m.Key), rmw})
			}
			if remainder == nil {
				continue
			}
			m = remainder
		}

		gk := m.Keyspace + "\x00" + m.Table
		group := groupIndex[gk]
		if group == nil {
			group = &tableGroup{keyspace: m.Keyspace, table: m.Table, rowIndex: make(map[string]int)}
			groupIndex[gk] = group
			groups = append(groups, group)
		}
		rowKey := string(m.Key)
		idx, seen := group.rowIndex[rowKey]
		if !seen {
			idx = len(group.rowKeys)
			group.rowIndex[rowKey] = idx
			group.rowKeys = append(group.rowKeys, rowKey)
			group.muts = append(group.muts, bigtable.NewMutation())
		}
		if err := sp.appendMutationOps(ctx, tbl, group.muts[idx], m); err != nil {
			return err
		}
	}

	for _, group := range groups {
		client, err := sp.getClient(group.keyspace)
		if err != nil {
			return err
		}
		tbl := client.Open(group.table)
		errs, err := tbl.ApplyBulk(ctx, group.rowKeys, group.muts)
		if err != nil {
			return fmt.Errorf("ApplyBulk on %s.%s: %w", group.keyspace, group.table, err)
		}
		var failedRows []string
		for i, e := range errs {
			if e != nil {
				failedRows = append(failedRows, hex.EncodeToString([]byte(group.rowKeys[i])))
			}
		}
		if len(failedRows) > 0 {
			return fmt.Errorf("ApplyBulk on %s.%s: failed rowkeys: %v", group.keyspace, group.table, failedRows)
		}
	}

	for _, op := range counters {
		client, err := sp.getClient(op.keyspace)
		if err != nil {
			return err
		}
		tbl := client.Open(op.table)
		if _, err := tbl.ApplyReadModifyWrite(ctx, op.rowKey, op.rmw); err != nil {
			return fmt.Errorf("counter update on %s.%s: %w", op.keyspace, op.table, err)
		}
	}

	otelgo.AddAnnotation(ctx, writeMutationsApplied)
	return nil
}

// counterMutation splits a counter table mutation into its increments and
// whatever deletions remain. The remainder is nil when the mutation holds
// increments only.
func counterMutation(family string, m *statements.Mutation) (*bigtable.ReadModifyWrite, *statements.Mutation, error) {
	var rmw *bigtable.ReadModifyWrite
	remainder := &statements.Mutation{
		Keyspace:        m.Keyspace,
		Table:           m.Table,
		Key:             m.Key,
		RangeTombstones: m.RangeTombstones,
		DeletePartition: m.DeletePartition,
		TimestampMicros: m.TimestampMicros,
	}
	for _, cell := range m.Cells {
		if cell.Kind != statements.CellCounterUpdate {
			remainder.AddCell(cell)
			continue
		}
		if len(cell.Value) != 8 {
			return nil, nil, fmt.Errorf("counter delta of %d bytes on table %s", len(cell.Value), m.Table)
		}
		if rmw == nil {
			rmw = bigtable.NewReadModifyWrite()
		}
		rmw.Increment(family, string(cell.Name), int64(binary.BigEndian.Uint64(cell.Value)))
	}
	if remainder.IsEmpty() {
		remainder = nil
	}
	return rmw, remainder, nil
}

// appendMutationOps translates one engine mutation into backend operations.
// Range tombstones have no backend equivalent, so the qualifiers they cover
// are enumerated from the stored row and deleted one by one; cells written
// by this same mutation carry timestamps above the tombstone and survive.
// Cell TTLs are not enforced here, expiry relies on the garbage collection
// policy of the family.
func (sp *StorageProxy) appendMutationOps(ctx context.Context, tbl *bigtable.Table, mut *bigtable.Mutation, m *statements.Mutation) error {
	if m.DeletePartition {
		mut.DeleteRow()
		return nil
	}
	if len(m.RangeTombstones) > 0 {
		existing, err := sp.readQualifiers(ctx, tbl, m.Key)
		if err != nil {
			return err
		}
		appendRangeDeletes(mut, sp.BigtableConfig.DefaultColumnFamily, m.RangeTombstones, existing)
	}
	family := sp.BigtableConfig.DefaultColumnFamily
	for _, cell := range m.Cells {
		switch cell.Kind {
		case statements.CellRegular:
			value := cell.Value
			if value == nil {
				value = []byte{}
			}
			mut.Set(family, string(cell.Name), storageTimestamp(cell.TimestampMicros), value)
		case statements.CellTombstone:
			mut.DeleteTimestampRange(family, string(cell.Name), 0, deleteUpTo(cell.TimestampMicros))
		default:
			return fmt.Errorf("counter update outside a counter mutation on table %s", m.Table)
		}
	}
	return nil
}

// readQualifiers lists the composite names currently stored for one
// partition, for range tombstone expansion.
func (sp *StorageProxy) readQualifiers(ctx context.Context, tbl *bigtable.Table, key []byte) ([][]byte, error) {
	family := sp.BigtableConfig.DefaultColumnFamily
	row, err := tbl.ReadRow(ctx, string(key), bigtable.RowFilter(bigtable.ChainFilters(
		bigtable.FamilyFilter(family),
		bigtable.LatestNFilter(1),
	)))
	if err != nil {
		return nil, err
	}
	var qualifiers [][]byte
	for _, item := range row[family] {
		qualifiers = append(qualifiers, qualifierOf(item, family))
	}
	return qualifiers, nil
}

// appendRangeDeletes expands range tombstones over the stored qualifiers.
// When several tombstones cover one qualifier the latest deletion timestamp
// wins, since each deletes everything at or below its own.
func appendRangeDeletes(mut *bigtable.Mutation, family string, tombstones []statements.RangeTombstone, qualifiers [][]byte) {
	for _, q := range qualifiers {
		doomedAt := int64(-1)
		for _, rt := range tombstones {
			if bytes.Compare(q, rt.Start) >= 0 && bytes.Compare(q, rt.End) < 0 && rt.TimestampMicros > doomedAt {
				doomedAt = rt.TimestampMicros
			}
		}
		if doomedAt >= 0 {
			mut.DeleteTimestampRange(family, string(q), 0, deleteUpTo(doomedAt))
		}
	}
}

// CASApply runs one compare-and-set round. The compare phase reads the row
// under a per row lock; when it passes, the proposed mutation is applied
// through a conditional mutation whose predicate re-checks the row
// existence the compare phase observed, so a row appearing or vanishing
// underneath fails the round instead of applying blindly. A nil, nil return
// means applied; a non nil row state is the witness of a failed compare.
func (sp *StorageProxy) CASApply(ctx context.Context, req *statements.CASRequest) (*statements.RowState, error) {
	otelgo.AddAnnotation(ctx, applyingCompareAndSet)
	if req.Proposed == nil {
		return nil, fmt.Errorf("compare and set without a proposed mutation")
	}
	client, err := sp.getClient(req.Keyspace)
	if err != nil {
		return nil, err
	}
	tbl := client.Open(req.Table)
	family := sp.BigtableConfig.DefaultColumnFamily

	lock := sp.rowLock(req.Table, req.Key)
	lock.Lock()
	defer lock.Unlock()

	state, err := sp.readRowState(ctx, tbl, req.Keyspace, req.Table, req.Key, req.ClusteringPrefix)
	if err != nil {
		return nil, err
	}
	exists := state != nil && len(state.Cells) > 0

	switch {
	case req.IfNotExists:
		if exists {
			return state, nil
		}
	case req.IfExists:
		if !exists {
			return emptyRowState(req.Key), nil
		}
	default:
		if !matchesExpected(req.Expected, state) {
			if state == nil {
				state = emptyRowState(req.Key)
			}
			return state, nil
		}
	}

	mut := bigtable.NewMutation()
	if err := sp.appendConditionalOps(mut, req.Proposed, state); err != nil {
		return nil, err
	}

	predicate := existencePredicate(family, req.ClusteringPrefix)
	var conditionalMutation *bigtable.Mutation
	if exists {
		conditionalMutation = bigtable.NewCondMutation(predicate, mut, nil)
	} else {
		conditionalMutation = bigtable.NewCondMutation(predicate, nil, mut)
	}
	matched := false
	if err := tbl.Apply(ctx, string(req.Key), conditionalMutation, bigtable.GetCondMutationResult(&matched)); err != nil {
		return nil, err
	}
	if matched != exists {
		sp.Logger.Debug("row flipped between compare and apply",
			zap.String("keyspace", req.Keyspace),
			zap.String("table", req.Table),
			zap.String("key", hex.EncodeToString(req.Key)))
		fresh, err := sp.readRowState(ctx, tbl, req.Keyspace, req.Table, req.Key, req.ClusteringPrefix)
		if err != nil {
			return nil, err
		}
		if fresh == nil {
			fresh = emptyRowState(req.Key)
		}
		return fresh, nil
	}

	otelgo.AddAnnotation(ctx, compareAndSetApplied)
	return nil, nil
}

// appendConditionalOps is appendMutationOps for the compare-and-set path,
// expanding range tombstones from the row state the compare phase already
// read instead of issuing another read.
func (sp *StorageProxy) appendConditionalOps(mut *bigtable.Mutation, m *statements.Mutation, state *statements.RowState) error {
	if m.DeletePartition {
		mut.DeleteRow()
		return nil
	}
	family := sp.BigtableConfig.DefaultColumnFamily
	if len(m.RangeTombstones) > 0 {
		var qualifiers [][]byte
		if state != nil {
			for _, cells := range state.Cells {
				for _, cell := range cells {
					qualifiers = append(qualifiers, cell.Name)
				}
			}
		}
		appendRangeDeletes(mut, family, m.RangeTombstones, qualifiers)
	}
	for _, cell := range m.Cells {
		switch cell.Kind {
		case statements.CellRegular:
			value := cell.Value
			if value == nil {
				value = []byte{}
			}
			mut.Set(family, string(cell.Name), storageTimestamp(cell.TimestampMicros), value)
		case statements.CellTombstone:
			mut.DeleteTimestampRange(family, string(cell.Name), 0, deleteUpTo(cell.TimestampMicros))
		default:
			return fmt.Errorf("counter update in a conditional mutation on table %s", m.Table)
		}
	}
	return nil
}

// matchesExpected evaluates the compare phase. A nil expected value demands
// absence, of the exact cell or of every cell under the name prefix for
// whole collection checks. Element checks are one sided: extra live
// elements never fail the predicate.
func matchesExpected(expected []statements.ExpectedCell, state *statements.RowState) bool {
	for _, exp := range expected {
		cells := state.Column(exp.Column)
		if exp.Value == nil {
			absent := true
			for _, cell := range cells {
				if exp.IsPrefix {
					if bytes.HasPrefix(cell.Name, exp.Name) {
						absent = false
						break
					}
				} else if bytes.Equal(cell.Name, exp.Name) {
					absent = false
					break
				}
			}
			if !absent {
				return false
			}
			continue
		}
		found := false
		for _, cell := range cells {
			if bytes.Equal(cell.Name, exp.Name) && bytes.Equal(cell.Value, exp.Value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func emptyRowState(key []byte) *statements.RowState {
	return &statements.RowState{Key: key, Cells: map[string][]statements.CellState{}}
}

// rowLock picks the stripe serializing compare-and-set rounds for one row.
func (sp *StorageProxy) rowLock(table string, key []byte) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(table))
	h.Write(key)
	return &sp.casLocks[h.Sum32()%casLockStripes]
}

// Close shuts down every data and admin client.
func (sp *StorageProxy) Close() {
	for _, client := range sp.Clients {
		client.Close()
	}
	for _, adminClient := range sp.AdminClients {
		adminClient.Close()
	}
}

// getClient resolves the data client of a keyspace through the instance
// mapping.
func (sp *StorageProxy) getClient(keyspace string) (*bigtable.Client, error) {
	instanceInfo, ok := sp.InstancesMap[keyspace]
	if !ok {
		return nil, fmt.Errorf("keyspace not found: '%s'", keyspace)
	}
	client, ok := sp.Clients[instanceInfo.BigtableInstance]
	if !ok {
		return nil, fmt.Errorf("client not found for instance '%s' (from keyspace '%s')", instanceInfo.BigtableInstance, keyspace)
	}
	return client, nil
}

// getAdminClient resolves the admin client of a keyspace through the
// instance mapping.
func (sp *StorageProxy) getAdminClient(keyspace string) (*bigtable.AdminClient, error) {
	instanceInfo, ok := sp.InstancesMap[keyspace]
	if !ok {
		return nil, fmt.Errorf("keyspace not found: '%s'", keyspace)
	}
	adminClient, ok := sp.AdminClients[instanceInfo.BigtableInstance]
	if !ok {
		return nil, fmt.Errorf("admin client not found for instance '%s' (from keyspace '%s')", instanceInfo.BigtableInstance, keyspace)
	}
	return adminClient, nil
}
