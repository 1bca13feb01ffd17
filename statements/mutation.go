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

	"github.com/datastax/go-cassandra-native-protocol/primitive"
)

// CellKind distinguishes the payload carried by a cell.
type CellKind int8

const (
	CellRegular CellKind = iota
	CellTombstone
	CellCounterUpdate
)

// Cell is one column value addressed by its full composite name within a
// partition. Counter update cells carry a big endian signed delta instead of
// an absolute value.
type Cell struct {
	Name            []byte
	Value           []byte
	TimestampMicros int64
	TTLSeconds      int32
	Kind            CellKind
}

// RangeTombstone deletes every cell whose composite name sorts inside the
// half open interval carried by Start and End.
type RangeTombstone struct {
	Start           []byte
	End             []byte
	TimestampMicros int64
}

// Mutation collects the changes a statement produces for one partition key.
type Mutation struct {
	Keyspace        string
	Table           string
	Key             []byte
	Cells           []Cell
	RangeTombstones []RangeTombstone
	DeletePartition bool
	TimestampMicros int64
	IsCounter       bool
}

// AddCell appends a regular, tombstone or counter cell to the mutation.
func (m *Mutation) AddCell(c Cell) {
	m.Cells = append(m.Cells, c)
}

// AddRangeTombstone appends a composite name range deletion to the mutation.
func (m *Mutation) AddRangeTombstone(rt RangeTombstone) {
	m.RangeTombstones = append(m.RangeTombstones, rt)
}

// IsEmpty reports whether the mutation carries no changes at all.
func (m *Mutation) IsEmpty() bool {
	return len(m.Cells) == 0 && len(m.RangeTombstones) == 0 && !m.DeletePartition
}

// CellState is one live cell of a previously read row.
type CellState struct {
	Name            []byte
	Value           []byte
	TimestampMicros int64
}

// RowState is the current state of one row, as read before a write or
// returned as the witness of a failed compare-and-set. Cells are grouped by
// the CQL column they belong to and kept in storage order.
type RowState struct {
	Key   []byte
	Cells map[string][]CellState
}

// Column returns the cells of one column, or nil when the column is unset.
func (r *RowState) Column(name string) []CellState {
	if r == nil {
		return nil
	}
	return r.Cells[name]
}

// ExpectedCell is one check the compare phase of a compare-and-set must
// perform. Name is the full composite cell name and Column the CQL column it
// belongs to. A non nil Value demands a live cell holding exactly that
// value. A nil Value demands absence: of the named cell, or of every cell
// under Name when IsPrefix is set.
type ExpectedCell struct {
	Column   string
	Name     []byte
	Value    []byte
	IsPrefix bool
}

// CASRequest is a full compare-and-set proposal for a single row.
// IfNotExists and IfExists switch the compare phase to row existence checks;
// otherwise every expected cell must match.
type CASRequest struct {
	Keyspace          string
	Table             string
	Key               []byte
	ClusteringPrefix  []byte
	IfNotExists       bool
	IfExists          bool
	Expected          []ExpectedCell
	Proposed          *Mutation
	SerialConsistency primitive.ConsistencyLevel
	Consistency       primitive.ConsistencyLevel
}

// StorageProxyIface is the storage engine surface the executor drives. The
// engine never reaches the storage layer any other way, which keeps the
// compilation logic testable against a fake.
type StorageProxyIface interface {
	// Read fetches the named columns of the rows addressed by the partition
	// keys and clustering prefix. The result is keyed by the string form of
	// each partition key; rows without live cells are absent. When local is
	// set the read must not leave the process.
	Read(ctx context.Context, keyspace, table string, keys [][]byte, clusteringPrefix []byte, columns []string, cl primitive.ConsistencyLevel, local bool) (map[string]*RowState, error)

	// Apply writes the mutations at the given consistency. Mutations in one
	// call are not atomic across partition keys unless isBatch is set.
	Apply(ctx context.Context, mutations []*Mutation, cl primitive.ConsistencyLevel, isBatch bool) error

	// CASApply atomically applies the proposed mutation when the compare
	// phase succeeds. It returns nil on success and the witness row state
	// observed by the compare phase on failure.
	CASApply(ctx context.Context, req *CASRequest) (*RowState, error)

	// Now returns the current logical write timestamp in microseconds.
	Now() int64
}
