package council

import (
	"context"
	"fmt"
	"strings"
	"time"

	"llmcouncil/internal/core"
	"llmcouncil/internal/invoke"
)

// Synthesizer asks the chairman to merge the council's answers into one.
type Synthesizer struct {
	invoker core.Invoker
	timeout time.Duration
	logger  core.Logger
}

// NewSynthesizer creates a synthesizer using timeout for the chairman call.
func NewSynthesizer(invoker core.Invoker, timeout time.Duration, logger core.Logger) *Synthesizer {
	if logger == nil {
		logger = &core.NopLogger{}
	}
	if timeout <= 0 {
		timeout = core.DefaultModelTimeout
	}
	return &Synthesizer{invoker: invoker, timeout: timeout, logger: logger}
}

// Synthesize calls chairman exactly once and returns its result unchanged.
// A chairman failure is returned as a Failure result, not as an error.
func (s *Synthesizer) Synthesize(ctx context.Context, original []core.Message, responses core.CouncilResponseMap, chairman core.ModelSpec) (core.InvocationResult, error) {
	return s.SynthesizeWithReview(ctx, original, responses, nil, chairman)
}

// SynthesizeWithReview is Synthesize with the peer rankings added to the
// prompt. A nil review gives the same prompt as Synthesize.
func (s *Synthesizer) SynthesizeWithReview(ctx context.Context, original []core.Message, responses core.CouncilResponseMap, review *core.PeerReview, chairman core.ModelSpec) (core.InvocationResult, error) {
	if err := core.ValidateChairman(chairman); err != nil {
		return core.InvocationResult{}, err
	}
	if err := core.ValidateHistory(original); err != nil {
		return core.InvocationResult{}, err
	}

	prompt := buildSynthesisPrompt(original, responses, review)
	s.logger.Debug("synthesizing %d responses with chairman %s", len(responses), chairman.Name)

	result := s.invokeChairmanWithTimeout(invoke.WithStage(ctx, core.StageChairman), chairman, []core.Message{
		{Role: core.RoleUser, Content: prompt},
	}, s.timeout)
	return result, nil
}

func (s *Synthesizer) invokeChairmanWithTimeout(ctx context.Context, chairman core.ModelSpec, prompt []core.Message, timeout time.Duration) (result core.InvocationResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("invoker panicked for chairman %s: %v", chairman.Name, r)
			result = core.Failuref("internal error: %v", r)
		}
	}()
	return s.invoker.Invoke(ctx, chairman, prompt, timeout)
}

// BuildSynthesisPrompt renders the chairman prompt. Every member appears in
// exactly one section, in roster order.
func BuildSynthesisPrompt(original []core.Message, responses core.CouncilResponseMap) string {
	return buildSynthesisPrompt(original, responses, nil)
}

func buildSynthesisPrompt(original []core.Message, responses core.CouncilResponseMap, review *core.PeerReview) string {
	var sb strings.Builder

	sb.WriteString("You are the chairman of a council of AI models. ")
	sb.WriteString("Several models independently answered the conversation below. ")
	sb.WriteString("Synthesize their answers into one accurate, well-reasoned final response to the user's latest message.\n\n")

	sb.WriteString("## Conversation\n\n")
	for _, msg := range original {
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", msg.Role, strings.TrimSpace(msg.Content))
	}

	sb.WriteString("## Council responses\n\n")
	for _, entry := range responses {
		fmt.Fprintf(&sb, "### Model: %s\n", entry.Model)
		switch content := strings.TrimSpace(entry.Result.Content); {
		case entry.Result.OK() && content == "":
			sb.WriteString("(answered with an empty response)\n\n")
		case entry.Result.OK():
			sb.WriteString(content)
			sb.WriteString("\n\n")
		default:
			fmt.Fprintf(&sb, "(%s: %s)\n\n", core.NoAnswerAnnotation, entry.Result.Reason)
		}
	}

	if review != nil && len(review.Aggregate) > 0 {
		sb.WriteString("## Peer rankings\n\n")
		sb.WriteString("The members also ranked each other's anonymized answers (lower average is better):\n")
		for i, agg := range review.Aggregate {
			fmt.Fprintf(&sb, "%d. %s: average rank %.2f over %d rankings\n", i+1, agg.Model, agg.AverageRank, agg.RankingsCount)
		}
		sb.WriteString("\n")
	}

	switch {
	case len(responses) > 0 && responses.SuccessCount() == 0:
		sb.WriteString("None of the council members answered. Answer the user's latest message directly.\n")
	case responses.FailureCount() > 0:
		sb.WriteString("Some members did not respond; base your synthesis on the answers that are available.\n")
	default:
		sb.WriteString("Weigh where the answers agree and disagree, correct any mistakes, and give the final answer.\n")
	}

	return sb.String()
}
