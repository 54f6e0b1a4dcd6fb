package council

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"llmcouncil/internal/core"
)

const rankingHeader = "FINAL RANKING:"

var (
	numberedLabel = regexp.MustCompile(`\d+\.\s*(Response [A-Z]+)`)
	bareLabel     = regexp.MustCompile(`Response [A-Z]+`)
)

// responseLabel returns the anonymous label for the i-th answer:
// Response A..Z, then Response AA, AB and so on.
func responseLabel(i int) string {
	letters := ""
	for n := i; ; n = n/26 - 1 {
		letters = string(rune('A'+n%26)) + letters
		if n < 26 {
			break
		}
	}
	return "Response " + letters
}

// latestQuestion returns the last user message of history.
func latestQuestion(history []core.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == core.RoleUser {
			return history[i].Content
		}
	}
	return history[len(history)-1].Content
}

// BuildRankingPrompt asks a member to evaluate and rank the answers. Only
// answering members appear, under their anonymous labels in roster order.
func BuildRankingPrompt(history []core.Message, responses core.CouncilResponseMap) (string, map[string]string) {
	labelToModel := make(map[string]string)
	var answers strings.Builder
	next := 0
	for _, entry := range responses {
		if !entry.Result.OK() {
			continue
		}
		label := responseLabel(next)
		next++
		labelToModel[label] = entry.Model
		fmt.Fprintf(&answers, "%s:\n%s\n\n", label, strings.TrimSpace(entry.Result.Content))
	}

	var sb strings.Builder
	sb.WriteString("You are evaluating different responses to the following question:\n\n")
	fmt.Fprintf(&sb, "Question: %s\n\n", strings.TrimSpace(latestQuestion(history)))
	sb.WriteString("Here are the responses from different models (anonymized):\n\n")
	sb.WriteString(answers.String())
	sb.WriteString("Your task:\n")
	sb.WriteString("1. Evaluate each response individually: what it does well and what it gets wrong.\n")
	sb.WriteString("2. At the very end, give your final ranking.\n\n")
	sb.WriteString("Your final ranking MUST be formatted exactly like this:\n")
	fmt.Fprintf(&sb, "- A line containing only %q\n", rankingHeader)
	sb.WriteString("- Then the responses from best to worst as a numbered list, one per line, e.g. \"1. Response C\"\n")
	sb.WriteString("- Nothing after the ranking list\n")
	return sb.String(), labelToModel
}

// ParseRanking extracts the ranked labels from a ranking answer, best first.
// Labels after the FINAL RANKING header win; without a header every label in
// the text counts. Repeated labels keep their first position.
func ParseRanking(text string) []string {
	section := text
	if idx := strings.Index(text, rankingHeader); idx >= 0 {
		section = text[idx+len(rankingHeader):]
		if matches := numberedLabel.FindAllStringSubmatch(section, -1); len(matches) > 0 {
			labels := make([]string, 0, len(matches))
			for _, m := range matches {
				labels = append(labels, m[1])
			}
			return dedupe(labels)
		}
	}
	return dedupe(bareLabel.FindAllString(section, -1))
}

func dedupe(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := labels[:0]
	for _, label := range labels {
		if !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
	}
	return out
}

// AggregateRankings averages every model's position over all parsed
// rankings. Unknown labels are ignored. Lower is better; ties sort by name.
func AggregateRankings(rankings []core.PeerRanking, labelToModel map[string]string) []core.AggregateRanking {
	type acc struct {
		sum   int
		count int
	}
	positions := make(map[string]*acc)
	for _, ranking := range rankings {
		for pos, label := range ranking.Parsed {
			model, ok := labelToModel[label]
			if !ok {
				continue
			}
			a := positions[model]
			if a == nil {
				a = &acc{}
				positions[model] = a
			}
			a.sum += pos + 1
			a.count++
		}
	}

	result := make([]core.AggregateRanking, 0, len(positions))
	for model, a := range positions {
		result = append(result, core.AggregateRanking{
			Model:         model,
			AverageRank:   float64(a.sum) / float64(a.count),
			RankingsCount: a.count,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AverageRank != result[j].AverageRank {
			return result[i].AverageRank < result[j].AverageRank
		}
		return result[i].Model < result[j].Model
	})
	return result
}

// review has every roster member rank the anonymized answers. It reuses the
// dispatcher, so reviewers run concurrently and a failed reviewer is an entry.
func (c *Council) review(ctx context.Context, history []core.Message, responses core.CouncilResponseMap) (*core.PeerReview, error) {
	prompt, labelToModel := BuildRankingPrompt(history, responses)

	results, err := c.dispatcher.dispatchStage(ctx, core.StageReview, c.roster,
		[]core.Message{{Role: core.RoleUser, Content: prompt}})
	if err != nil {
		return nil, err
	}

	rankings := make([]core.PeerRanking, 0, len(results))
	for _, entry := range results {
		ranking := core.PeerRanking{Model: entry.Model, Result: entry.Result}
		if entry.Result.OK() {
			ranking.Parsed = ParseRanking(entry.Result.Content)
		}
		rankings = append(rankings, ranking)
	}

	return &core.PeerReview{
		Rankings:     rankings,
		LabelToModel: labelToModel,
		Aggregate:    AggregateRankings(rankings, labelToModel),
	}, nil
}
