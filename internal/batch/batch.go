package batch

import (
	"context"
	"iter"
	"time"

	apperrors "catalogsync/pkg/errors"
)

// Outcome is the label a processor reports for an item it handled successfully.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeProcessed Outcome = "processed"
	// OutcomeFailed is only reported to observers; failures live in Report.Failures.
	OutcomeFailed Outcome = "failed"
)

// Processor handles one item of a batch. An error fails that item only.
type Processor[T any] interface {
	// Describe identifies the item in failure reports.
	Describe(item T) string
	Handle(ctx context.Context, item T) (Outcome, error)
}

// Observer is told about every handled item, e.g. to feed metrics.
type Observer interface {
	ObserveItem(job string, outcome Outcome, kind string)
	ObserveBatch(job string, elapsed time.Duration)
}

type Failure struct {
	Item  string `json:"item"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type Report struct {
	Total    int
	Counts   map[Outcome]int
	Failures []Failure
}

func (r Report) Count(o Outcome) int { return r.Counts[o] }

type Options struct {
	// Delay is waited between consecutive items.
	Delay    time.Duration
	Observer Observer
}

// Run feeds items to p one at a time. Cancellation is checked between items;
// when ctx is done Run stops and returns the partial report with ctx.Err().
func Run[T any](ctx context.Context, job string, items iter.Seq[T], p Processor[T], opts Options) (Report, error) {
	report := Report{Counts: map[Outcome]int{}, Failures: []Failure{}}
	start := time.Now()
	if opts.Observer != nil {
		defer func() { opts.Observer.ObserveBatch(job, time.Since(start)) }()
	}

	first := true
	for item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !first && opts.Delay > 0 {
			if err := wait(ctx, opts.Delay); err != nil {
				return report, err
			}
		}
		first = false

		report.Total++
		outcome, err := p.Handle(ctx, item)
		if err != nil {
			kind := apperrors.KindOf(err)
			report.Failures = append(report.Failures, Failure{
				Item:  p.Describe(item),
				Error: err.Error(),
				Kind:  kind,
			})
			if opts.Observer != nil {
				opts.Observer.ObserveItem(job, OutcomeFailed, kind)
			}
			continue
		}
		report.Counts[outcome]++
		if opts.Observer != nil {
			opts.Observer.ObserveItem(job, outcome, "")
		}
	}
	return report, nil
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
