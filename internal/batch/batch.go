// Package batch fans work out over a bounded number of goroutines and
// collects one outcome per input instead of stopping at the first error.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of processing one input.
type Outcome[In, Out any] struct {
	Input In
	Value Out
	Err   error
}

// OK reports whether the input was processed without error.
func (o Outcome[In, Out]) OK() bool {
	return o.Err == nil
}

// Run calls fn for every input with at most limit calls in flight and
// returns the outcomes in input order. A limit below 1 runs sequentially.
// Inputs not yet started when ctx is done get ctx.Err() as their outcome.
func Run[In, Out any](ctx context.Context, limit int, inputs []In, fn func(context.Context, In) (Out, error)) []Outcome[In, Out] {
	outcomes := make([]Outcome[In, Out], len(inputs))
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, in := range inputs {
		outcomes[i].Input = in
		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}
		g.Go(func() error {
			v, err := fn(ctx, in)
			outcomes[i].Value = v
			outcomes[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Failed returns the outcomes that carry an error.
func Failed[In, Out any](outcomes []Outcome[In, Out]) []Outcome[In, Out] {
	var failed []Outcome[In, Out]
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Succeeded counts the outcomes without an error.
func Succeeded[In, Out any](outcomes []Outcome[In, Out]) int {
	n := 0
	for _, o := range outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}
