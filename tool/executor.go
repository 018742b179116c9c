package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tracejournal/trace/gateway"
)

// DefaultTimeout bounds a single tool call.
const DefaultTimeout = 30 * time.Second

// Executor runs the tool calls the model asked for.
type Executor struct {
	registry *Registry
	timeout  time.Duration
}

// NewExecutor creates an executor over registry. A non-positive timeout
// means DefaultTimeout.
func NewExecutor(registry *Registry, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{registry: registry, timeout: timeout}
}

// Result is the outcome of one call.
type Result struct {
	Call     gateway.ToolCall
	Output   string
	Err      error
	Duration time.Duration
}

// Exchange converts r into the form sent back to the model. A failed call
// reports its error text so the model can recover.
func (r *Result) Exchange() gateway.ToolExchange {
	if r.Err != nil {
		return gateway.ToolExchange{Call: r.Call, Output: r.Err.Error(), IsError: true}
	}
	return gateway.ToolExchange{Call: r.Call, Output: r.Output}
}

// Execute runs one call under the executor timeout.
func (e *Executor) Execute(ctx context.Context, call gateway.ToolCall) *Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	out, err := e.registry.Execute(ctx, call.Name, input)
	res := &Result{Call: call, Output: out, Err: err, Duration: time.Since(start)}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Err = fmt.Errorf("%w after %v", ErrTimeout, e.timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		res.Err = fmt.Errorf("tool: %s canceled: %w", call.Name, ctx.Err())
	}
	return res
}

// ExecuteAll runs calls concurrently. Results keep the order of calls.
func (e *Executor) ExecuteAll(ctx context.Context, calls []gateway.ToolCall) []*Result {
	results := make([]*Result, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.Execute(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
