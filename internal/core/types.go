package core

import (
	"fmt"
	"strings"
	"time"
)

// ModelSpec identifies one council backend.
type ModelSpec struct {
	Name   string `json:"name" yaml:"name"`
	URL    string `json:"url" yaml:"url"`
	APIKey string `json:"-" yaml:"api_key,omitempty"`
}

// String returns the model name, never the API key.
func (m ModelSpec) String() string {
	return m.Name
}

// Message is one entry of a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InvocationStatus tags an InvocationResult.
type InvocationStatus string

// Invocation status values.
const (
	StatusSuccess InvocationStatus = "success"
	StatusFailure InvocationStatus = "failure"
)

// InvocationResult is the outcome of one model call: either a success carrying
// the answer text or a failure carrying a reason. Use Success and Failure to
// build one.
type InvocationResult struct {
	Status    InvocationStatus `json:"status"`
	Content   string           `json:"content,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	LatencyMS int64            `json:"latency_ms"`
}

// Success builds a successful result.
func Success(content string) InvocationResult {
	return InvocationResult{Status: StatusSuccess, Content: content}
}

// Failure builds a failed result.
func Failure(reason string) InvocationResult {
	if strings.TrimSpace(reason) == "" {
		reason = "unknown error"
	}
	return InvocationResult{Status: StatusFailure, Reason: reason}
}

// Failuref builds a failed result from a format string.
func Failuref(format string, args ...any) InvocationResult {
	return Failure(fmt.Sprintf(format, args...))
}

// OK reports whether the result is a success.
func (r InvocationResult) OK() bool {
	return r.Status == StatusSuccess
}

// WithLatency returns a copy of r carrying the given latency.
func (r InvocationResult) WithLatency(d time.Duration) InvocationResult {
	r.LatencyMS = d.Milliseconds()
	return r
}

// CouncilResponse is one entry of a CouncilResponseMap.
type CouncilResponse struct {
	Model  string           `json:"model"`
	Result InvocationResult `json:"result"`
}

// CouncilResponseMap maps model names to results. Entries are kept in roster
// order so that anything built from the map is reproducible.
type CouncilResponseMap []CouncilResponse

// Get returns the result recorded for model.
func (m CouncilResponseMap) Get(model string) (InvocationResult, bool) {
	for _, entry := range m {
		if entry.Model == model {
			return entry.Result, true
		}
	}
	return InvocationResult{}, false
}

// Names returns the model names in roster order.
func (m CouncilResponseMap) Names() []string {
	names := make([]string, 0, len(m))
	for _, entry := range m {
		names = append(names, entry.Model)
	}
	return names
}

// SuccessCount returns the number of members that answered.
func (m CouncilResponseMap) SuccessCount() int {
	count := 0
	for _, entry := range m {
		if entry.Result.OK() {
			count++
		}
	}
	return count
}

// FailureCount returns the number of members that did not answer.
func (m CouncilResponseMap) FailureCount() int {
	return len(m) - m.SuccessCount()
}

// RoundState is the lifecycle state of a CouncilRound.
type RoundState string

// Round states, in order.
const (
	RoundDispatching  RoundState = "dispatching"
	RoundAggregated   RoundState = "aggregated"
	RoundReviewing    RoundState = "reviewing"
	RoundReviewed     RoundState = "reviewed"
	RoundSynthesizing RoundState = "synthesizing"
	RoundComplete     RoundState = "complete"
)

// PeerRanking is one member's ranking of the anonymized answers. Parsed holds
// the labels in ranked order, best first.
type PeerRanking struct {
	Model  string           `json:"model"`
	Result InvocationResult `json:"result"`
	Parsed []string         `json:"parsed_ranking,omitempty"`
}

// AggregateRanking is a model's average position across all parsed rankings.
type AggregateRanking struct {
	Model         string  `json:"model"`
	AverageRank   float64 `json:"average_rank"`
	RankingsCount int     `json:"rankings_count"`
}

// PeerReview is the optional ranking stage of a round.
type PeerReview struct {
	Rankings     []PeerRanking      `json:"rankings"`
	LabelToModel map[string]string  `json:"label_to_model"`
	Aggregate    []AggregateRanking `json:"aggregate_rankings"`
}

// CouncilRound is one dispatch + synthesis cycle for a single query. Review
// is set only when peer review is enabled and some member answered.
type CouncilRound struct {
	ID          string             `json:"id"`
	Query       []Message          `json:"query"`
	Responses   CouncilResponseMap `json:"responses"`
	Review      *PeerReview        `json:"review,omitempty"`
	Chairman    string             `json:"chairman"`
	Final       InvocationResult   `json:"final"`
	State       RoundState         `json:"state"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Duration returns the wall-clock time of a completed round.
func (r *CouncilRound) Duration() time.Duration {
	if r == nil || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
