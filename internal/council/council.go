// Package council runs council rounds: concurrent dispatch of a query to
// every roster member followed by one chairman synthesis.
package council

import (
	"context"
	"fmt"
	"strings"
	"time"

	"llmcouncil/internal/core"
	"llmcouncil/internal/invoke"
	"llmcouncil/internal/util"
)

// Observer is told about every state transition of a round. It runs on the
// goroutine that called Run.
type Observer func(state core.RoundState, round *core.CouncilRound)

// Config wires a Council.
type Config struct {
	Roster          []core.ModelSpec
	Chairman        core.ModelSpec
	Timeout         time.Duration
	ChairmanTimeout time.Duration
	// PeerReview adds a ranking stage between dispatch and synthesis.
	PeerReview bool
	Invoker    core.Invoker
	Logger     core.Logger
}

// Council owns the roster, the chairman and both stages of a round.
type Council struct {
	roster      []core.ModelSpec
	chairman    core.ModelSpec
	dispatcher  *Dispatcher
	synthesizer *Synthesizer
	peerReview  bool
	logger      core.Logger
}

// New validates cfg and builds a Council. Configuration is fixed for the
// lifetime of the returned value.
func New(cfg Config) (*Council, error) {
	if cfg.Invoker == nil {
		return nil, fmt.Errorf("invoker is required in council Config")
	}
	if err := core.ValidateRoster(cfg.Roster); err != nil {
		return nil, err
	}
	if err := core.ValidateChairman(cfg.Chairman); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NopLogger{}
	}
	chairmanTimeout := cfg.ChairmanTimeout
	if chairmanTimeout <= 0 {
		chairmanTimeout = cfg.Timeout
	}

	roster := make([]core.ModelSpec, len(cfg.Roster))
	copy(roster, cfg.Roster)

	return &Council{
		roster:      roster,
		chairman:    cfg.Chairman,
		dispatcher:  NewDispatcher(cfg.Invoker, cfg.Timeout, cfg.Logger),
		synthesizer: NewSynthesizer(cfg.Invoker, chairmanTimeout, cfg.Logger),
		peerReview:  cfg.PeerReview,
		logger:      cfg.Logger,
	}, nil
}

// Roster returns a copy of the council members.
func (c *Council) Roster() []core.ModelSpec {
	roster := make([]core.ModelSpec, len(c.roster))
	copy(roster, c.roster)
	return roster
}

// PeerReview reports whether rounds include the ranking stage.
func (c *Council) PeerReview() bool {
	return c.peerReview
}

// Chairman returns the chairman model.
func (c *Council) Chairman() core.ModelSpec {
	return c.chairman
}

// Run executes one round over history. The returned round is Complete even
// when members or the chairman failed; an error means a configuration
// problem or cancellation of ctx.
func (c *Council) Run(ctx context.Context, history []core.Message, observer Observer) (*core.CouncilRound, error) {
	if err := core.ValidateHistory(history); err != nil {
		return nil, err
	}
	if observer == nil {
		observer = func(core.RoundState, *core.CouncilRound) {}
	}

	query := make([]core.Message, len(history))
	copy(query, history)

	round := &core.CouncilRound{
		ID:        util.GenerateID("round-"),
		Query:     query,
		Chairman:  c.chairman.Name,
		State:     core.RoundDispatching,
		StartedAt: time.Now(),
	}
	observer(core.RoundDispatching, round)

	responses, err := c.dispatcher.Dispatch(ctx, c.roster, query)
	if err != nil {
		return nil, fmt.Errorf("dispatch round %s: %w", round.ID, err)
	}
	round.Responses = responses
	round.State = core.RoundAggregated
	observer(core.RoundAggregated, round)

	if c.peerReview && responses.SuccessCount() > 0 {
		round.State = core.RoundReviewing
		observer(core.RoundReviewing, round)

		review, err := c.review(ctx, query, responses)
		if err != nil {
			return nil, fmt.Errorf("review round %s: %w", round.ID, err)
		}
		round.Review = review
		round.State = core.RoundReviewed
		observer(core.RoundReviewed, round)
	}

	round.State = core.RoundSynthesizing
	observer(core.RoundSynthesizing, round)

	final, err := c.synthesizer.SynthesizeWithReview(ctx, query, responses, round.Review, c.chairman)
	if err != nil {
		return nil, fmt.Errorf("synthesize round %s: %w", round.ID, err)
	}
	// A chairman answer that arrived is kept even if ctx ended meanwhile.
	if ctxErr := ctx.Err(); ctxErr != nil && !final.OK() {
		return nil, ctxErr
	}

	round.Final = final
	round.State = core.RoundComplete
	round.CompletedAt = time.Now()
	observer(core.RoundComplete, round)

	c.logger.Info("round %s complete in %v: %d/%d members answered, chairman %s",
		round.ID, round.Duration(), responses.SuccessCount(), len(responses), final.Status)
	return round, nil
}

// GenerateTitle asks the chairman for a short conversation title, falling back
// to the truncated query when the chairman cannot provide one.
func (c *Council) GenerateTitle(ctx context.Context, query string) string {
	fallback := util.CompactSingleLine(query, core.MaxTitleLength)
	if fallback == "" {
		fallback = core.DefaultConversationTitle
	}

	prompt := "Generate a very short title (3-5 words maximum) that summarizes the following question. " +
		"The title should be concise and descriptive. Do not use quotes or punctuation in the title.\n\n" +
		"Question: " + query + "\n\nTitle:"

	result := c.synthesizer.invokeChairmanWithTimeout(invoke.WithStage(ctx, core.StageChairman), c.chairman,
		[]core.Message{{Role: core.RoleUser, Content: prompt}}, core.TitleTimeout)
	if !result.OK() {
		c.logger.Debug("title generation failed: %s", result.Reason)
		return fallback
	}

	title := strings.Trim(strings.TrimSpace(result.Content), "\"'")
	title = util.CompactSingleLine(title, core.MaxTitleLength)
	if title == "" {
		return fallback
	}
	return title
}
