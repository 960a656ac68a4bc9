// Package partitioned is the distributed dataframe backend: a batch is split
// into partitions, conditions are computed per partition in parallel and every
// batched materialization runs as a single map/reduce job over all partitions.
package partitioned

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/dqc/pkg/backend/memory"
)

// ErrInvalidPartitions is returned when a frame can not be split as requested
var ErrInvalidPartitions = errors.New("invalid partition count")

// Partition is a contiguous slice of the frame.
type Partition struct {
	// Offset is the global position of the partition's first row
	Offset int
	Table  *memory.Table
}

// Frame is a partitioned batch snapshot.
type Frame struct {
	batchID    string
	columns    []string
	rows       int
	partitions []Partition
}

// Split divides a table into n contiguous partitions of near equal size. Empty
// partitions are kept so the partition count is stable.
func Split(table *memory.Table, n int) (*Frame, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPartitions, n)
	}

	frame := &Frame{
		batchID:    table.BatchID(),
		columns:    table.Columns(),
		rows:       table.Len(),
		partitions: make([]Partition, 0, n),
	}

	size := table.Len() / n
	extra := table.Len() % n
	start := 0

	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}

		frame.partitions = append(frame.partitions, Partition{
			Offset: start,
			Table:  table.Slice(start, end),
		})

		start = end
	}

	return frame, nil
}

// BatchID returns the batch identifier
func (f *Frame) BatchID() string { return f.batchID }

// Columns returns the column names
func (f *Frame) Columns() []string { return append([]string(nil), f.columns...) }

// Len returns the total number of rows
func (f *Frame) Len() int { return f.rows }

// Partitions returns the partitions in row order
func (f *Frame) Partitions() []Partition { return f.partitions }
