// Package nodes implements the workflow nodes of the integration. A node
// receives a batch of items and returns the items it produces, mirroring
// how the host executes nodes.
package nodes

import (
	"context"
	"fmt"

	"github.com/alexjbarnes/withings-auth/withings"
	"golang.org/x/sync/errgroup"
)

// Item is one unit of data flowing between nodes. PairedItem is the index
// of the input item an output item was derived from.
type Item struct {
	JSON       map[string]any `json:"json"`
	PairedItem int            `json:"pairedItem"`
}

// Node processes a batch of items.
type Node interface {
	Execute(ctx context.Context, items []Item) ([]Item, error)
}

// BatchOptions control how a node processes its items.
type BatchOptions struct {
	// ContinueOnFail records a failing item's error in its output item
	// instead of failing the whole batch.
	ContinueOnFail bool

	// Concurrency caps how many items are processed at once. Values
	// below 1 mean one at a time.
	Concurrency int
}

// ItemError reports which item of a batch failed.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string { return fmt.Sprintf("item %d: %v", e.Index, e.Err) }
func (e *ItemError) Unwrap() error { return e.Err }

type itemFunc func(ctx context.Context, index int, item Item) (map[string]any, error)

// runBatch calls fn for every item and returns the outputs in input order.
// Without ContinueOnFail the first failure cancels the remaining items.
func runBatch(ctx context.Context, items []Item, opts BatchOptions, fn itemFunc) ([]Item, error) {
	limit := opts.Concurrency
	if limit < 1 {
		limit = 1
	}

	out := make([]Item, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			result, err := fn(gctx, i, item)
			if err != nil {
				if !opts.ContinueOnFail {
					return &ItemError{Index: i, Err: err}
				}

				result = errorFields(err)
			}

			out[i] = Item{JSON: result, PairedItem: i}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// errorFields is the output of an item that failed under ContinueOnFail.
func errorFields(err error) map[string]any {
	fields := map[string]any{"error": err.Error()}
	if kind := withings.Kind(err); kind != "" {
		fields["error_kind"] = kind
	}

	return fields
}

// DummyNode passes its input through unchanged.
type DummyNode struct{}

// Execute returns items as received.
func (DummyNode) Execute(_ context.Context, items []Item) ([]Item, error) {
	return items, nil
}
