package invoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"llmcouncil/internal/core"
	"llmcouncil/internal/util"
)

type stageKey struct{}

// WithStage tags ctx with the metrics stage label for calls made under it.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFromContext returns the stage label set by WithStage.
func StageFromContext(ctx context.Context) string {
	if stage, ok := ctx.Value(stageKey{}).(string); ok {
		return stage
	}
	return core.StageCouncil
}

// OllamaInvoker calls Ollama-compatible chat endpoints.
type OllamaInvoker struct {
	httpClient *http.Client
	metrics    core.MetricsCollector
	logger     core.Logger
}

// NewOllamaInvoker creates an invoker. Nil metrics or logger are replaced by no-ops.
func NewOllamaInvoker(httpClient *http.Client, metrics core.MetricsCollector, logger core.Logger) *OllamaInvoker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if metrics == nil {
		metrics = &core.NopMetrics{}
	}
	if logger == nil {
		logger = &core.NopLogger{}
	}
	return &OllamaInvoker{
		httpClient: httpClient,
		metrics:    metrics,
		logger:     logger,
	}
}

// Invoke sends history to spec and waits at most timeout for the answer.
// It never returns an error and never panics: every problem is a Failure.
func (inv *OllamaInvoker) Invoke(ctx context.Context, spec core.ModelSpec, history []core.Message, timeout time.Duration) (result core.InvocationResult) {
	startTime := time.Now()
	stage := StageFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			inv.logger.Error("panic while invoking %s: %v", spec.Name, r)
			result = core.Failuref("internal error: %v", r)
		}
		elapsed := time.Since(startTime)
		result = result.WithLatency(elapsed)
		inv.metrics.RecordInvocation(spec.Name, stage, result.OK(), elapsed)
		if result.OK() {
			inv.logger.Debug("%s answered in %v (%d chars)", spec.Name, elapsed, len(result.Content))
		} else {
			inv.logger.Debug("%s failed after %v: %s", spec.Name, elapsed, result.Reason)
		}
	}()

	if len(history) == 0 {
		return core.Failure(core.ErrEmptyHistory.Error())
	}
	if timeout <= 0 {
		return core.Failuref("invalid timeout %v", timeout)
	}

	endpoint, err := Endpoint(spec.URL)
	if err != nil {
		return core.Failure(err.Error())
	}
	payload, err := BuildPayload(spec, history)
	if err != nil {
		return core.Failure(err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, status, err := inv.post(callCtx, endpoint, spec.APIKey, payload)
	if err != nil {
		return transportFailure(ctx, callCtx, timeout, err)
	}

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		snippet := util.CompactSingleLine(string(body), core.MaxErrorBodyChars)
		if snippet == "" {
			return core.Failuref("HTTP %d", status)
		}
		return core.Failuref("HTTP %d: %s", status, snippet)
	}

	content, err := ExtractContent(body)
	if err != nil {
		if errors.Is(err, ErrBackendReport) {
			return core.Failure(err.Error())
		}
		return core.Failuref("malformed response: %v", err)
	}
	return core.Success(content)
}

func (inv *OllamaInvoker) post(ctx context.Context, endpoint, apiKey string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(core.HeaderContentType, core.ContentTypeJSON)
	req.Header.Set(core.HeaderAccept, core.ContentTypeJSON)
	if apiKey != "" {
		req.Header.Set(core.HeaderAuthorization, core.AuthBearerPrefix+apiKey)
	}

	resp, err := inv.httpClient.Do(req) //nolint:gosec // endpoint comes from the council configuration
	if err != nil {
		return nil, 0, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, core.MaxResponseBodySize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// transportFailure tells a per-call timeout apart from caller cancellation
// and plain transport errors.
func transportFailure(parent, callCtx context.Context, timeout time.Duration, err error) core.InvocationResult {
	switch {
	case parent.Err() != nil:
		return core.Failuref("cancelled: %v", parent.Err())
	case errors.Is(callCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return core.Failuref("%s after %v", core.TimeoutReasonPrefix, timeout)
	default:
		return core.Failure(err.Error())
	}
}
