package partitioned

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/dqc/pkg/backend/memory"
	"github.com/ethpandaops/dqc/pkg/backend/rowfilter"
	"github.com/ethpandaops/dqc/pkg/metrics"
)

// Mask is a condition: one row mask per partition.
type Mask []memory.Mask

// Aggregate is the partial function value of this backend. Map runs on every
// partition inside one job, Reduce combines the partition results.
type Aggregate struct {
	Map    func(ctx context.Context, index int, part Partition) (any, error)
	Reduce func(parts []any) (any, error)
}

// Engine evaluates metrics over a partitioned frame.
type Engine struct {
	log         logrus.FieldLogger
	frame       *Frame
	concurrency int
	jobs        atomic.Int64
}

var _ metrics.Engine = (*Engine)(nil)

// NewEngine creates an engine over a frame. concurrency bounds the partitions
// processed at once.
func NewEngine(log logrus.FieldLogger, frame *Frame, concurrency int) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Engine{
		log:         log.WithField("component", "partitioned_engine"),
		frame:       frame,
		concurrency: concurrency,
	}
}

// Kind returns the backend kind
func (e *Engine) Kind() metrics.Kind { return metrics.KindPartitioned }

// BatchID returns the frame's batch identifier
func (e *Engine) BatchID() string { return e.frame.BatchID() }

// CheckDomain rejects row conditions that are not in the hcl dialect or do not
// parse.
func (e *Engine) CheckDomain(domain metrics.Domain) error {
	return rowfilter.CheckDomain(domain)
}

// Frame returns the underlying frame
func (e *Engine) Frame() *Frame { return e.frame }

// Jobs returns the number of materialization jobs run so far.
func (e *Engine) Jobs() int64 { return e.jobs.Load() }

// Materialize runs every partial of a domain as one job over all partitions.
func (e *Engine) Materialize(ctx context.Context, domain metrics.Domain, partials []metrics.Partial) ([]any, error) {
	aggregates := make([]Aggregate, len(partials))

	for i, partial := range partials {
		aggregate, ok := partial.Fn.(Aggregate)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected partial %T", metrics.ErrBackendExecution, partial.Fn)
		}

		aggregates[i] = aggregate
	}

	job := e.jobs.Add(1)

	e.log.WithFields(logrus.Fields{
		"job":        job,
		"domain":     domain.String(),
		"aggregates": len(aggregates),
		"partitions": len(e.frame.partitions),
	}).Debug("Running job")

	mapped := make([][]any, len(aggregates))
	for i := range mapped {
		mapped[i] = make([]any, len(e.frame.partitions))
	}

	err := e.eachPartition(ctx, func(ctx context.Context, index int, part Partition) error {
		for i, aggregate := range aggregates {
			value, err := aggregate.Map(ctx, index, part)
			if err != nil {
				return err
			}

			mapped[i][index] = value
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]any, len(aggregates))

	for i, aggregate := range aggregates {
		value, err := aggregate.Reduce(mapped[i])
		if err != nil {
			return nil, err
		}

		out[i] = value
	}

	return out, nil
}

// CountUnexpected counts set rows across partitions.
func (e *Engine) CountUnexpected(_ context.Context, _ metrics.Domain, condition any) (int, error) {
	mask, err := e.mask(condition)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, part := range mask {
		count += part.Count()
	}

	return count, nil
}

// DeferUnexpectedCount defers a per-partition count summed in the job.
func (e *Engine) DeferUnexpectedCount(domain metrics.Domain, condition any) (metrics.Partial, error) {
	mask, err := e.mask(condition)
	if err != nil {
		return metrics.Partial{}, err
	}

	return metrics.Partial{
		Domain: domain.Table(),
		Fn: Aggregate{
			Map: func(_ context.Context, index int, _ Partition) (any, error) {
				return mask[index].Count(), nil
			},
			Reduce: sumInts,
		},
	}, nil
}

// SelectUnexpected collects set rows partition by partition, keeping global row order.
func (e *Engine) SelectUnexpected(ctx context.Context, _ metrics.Domain, condition any, columns []string, limit int) ([]metrics.IndexedRow, error) {
	mask, err := e.mask(condition)
	if err != nil {
		return nil, err
	}

	out := make([]metrics.IndexedRow, 0)

	for i, part := range e.frame.partitions {
		remaining := 0
		if limit > 0 {
			remaining = limit - len(out)
			if remaining <= 0 {
				break
			}
		}

		rows, err := memory.SelectRows(ctx, part.Table, mask[i], part.Offset, columns, remaining)
		if err != nil {
			return nil, err
		}

		out = append(out, rows...)
	}

	return out, nil
}

func (e *Engine) mask(condition any) (Mask, error) {
	mask, ok := condition.(Mask)
	if !ok {
		return nil, fmt.Errorf("%w: condition is %T, expected a partitioned mask", metrics.ErrMetricResolution, condition)
	}

	if len(mask) != len(e.frame.partitions) {
		return nil, fmt.Errorf("%w: mask has %d partitions, frame has %d",
			metrics.ErrMetricResolution, len(mask), len(e.frame.partitions))
	}

	return mask, nil
}

// eachPartition runs fn for every partition concurrently.
func (e *Engine) eachPartition(ctx context.Context, fn func(ctx context.Context, index int, part Partition) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, part := range e.frame.partitions {
		g.Go(func() error {
			return fn(gctx, i, part)
		})
	}

	return g.Wait()
}

// masks computes one mask per partition concurrently.
func (e *Engine) masks(ctx context.Context, fn func(ctx context.Context, index int, part Partition) (memory.Mask, error)) (Mask, error) {
	out := make(Mask, len(e.frame.partitions))

	err := e.eachPartition(ctx, func(ctx context.Context, index int, part Partition) error {
		mask, err := fn(ctx, index, part)
		if err != nil {
			return err
		}

		out[index] = mask

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func sumInts(parts []any) (any, error) {
	total := 0

	for _, part := range parts {
		n, ok := part.(int)
		if !ok {
			return nil, fmt.Errorf("%w: partition count is %T", metrics.ErrBackendExecution, part)
		}

		total += n
	}

	return total, nil
}
