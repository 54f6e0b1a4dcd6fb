package council

import (
	"context"
	"time"

	"llmcouncil/internal/core"
	"llmcouncil/internal/invoke"
)

// Dispatcher fans one history out to every roster member concurrently.
type Dispatcher struct {
	invoker core.Invoker
	timeout time.Duration
	logger  core.Logger
}

// NewDispatcher creates a dispatcher using timeout as the per-call limit.
func NewDispatcher(invoker core.Invoker, timeout time.Duration, logger core.Logger) *Dispatcher {
	if logger == nil {
		logger = &core.NopLogger{}
	}
	if timeout <= 0 {
		timeout = core.DefaultModelTimeout
	}
	return &Dispatcher{invoker: invoker, timeout: timeout, logger: logger}
}

type slotResult struct {
	index  int
	result core.InvocationResult
}

// Dispatch invokes every member of roster with history and returns one entry
// per member in roster order. Member failures are entries, not errors; the
// only errors are configuration errors and cancellation of ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, roster []core.ModelSpec, history []core.Message) (core.CouncilResponseMap, error) {
	return d.dispatchStage(ctx, core.StageCouncil, roster, history)
}

// dispatchStage is Dispatch with the metrics stage label of the calls.
func (d *Dispatcher) dispatchStage(ctx context.Context, stage string, roster []core.ModelSpec, history []core.Message) (core.CouncilResponseMap, error) {
	if err := core.ValidateRoster(roster); err != nil {
		return nil, err
	}
	if err := core.ValidateHistory(history); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Buffered to the roster size so senders never block, even after we
	// stop reading on cancellation.
	results := make(chan slotResult, len(roster))
	callCtx := invoke.WithStage(ctx, stage)

	for i, spec := range roster {
		go func() {
			results <- slotResult{index: i, result: d.invokeOne(callCtx, spec, history)}
		}()
	}

	slots := make([]core.InvocationResult, len(roster))
	for received := 0; received < len(roster); {
		select {
		case <-ctx.Done():
			d.logger.Debug("dispatch abandoned with %d/%d answers: %v", received, len(roster), ctx.Err())
			return nil, ctx.Err()
		case r := <-results:
			slots[r.index] = r.result
			received++
		}
	}

	responses := make(core.CouncilResponseMap, len(roster))
	for i, spec := range roster {
		responses[i] = core.CouncilResponse{Model: spec.Name, Result: slots[i]}
	}
	d.logger.Debug("dispatch complete: %d answered, %d failed", responses.SuccessCount(), responses.FailureCount())
	return responses, nil
}

// invokeOne isolates a single member so a misbehaving invoker cannot take
// down its siblings.
func (d *Dispatcher) invokeOne(ctx context.Context, spec core.ModelSpec, history []core.Message) (result core.InvocationResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("invoker panicked for %s: %v", spec.Name, r)
			result = core.Failuref("internal error: %v", r)
		}
	}()
	return d.invoker.Invoke(ctx, spec, history, d.timeout)
}
