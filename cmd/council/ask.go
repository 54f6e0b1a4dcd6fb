package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"llmcouncil/internal/config"
	"llmcouncil/internal/core"
	"llmcouncil/internal/council"
	"llmcouncil/internal/invoke"
	"llmcouncil/internal/util"

	"github.com/spf13/cobra"
)

var (
	askJSON    bool
	askTimeout time.Duration
)

var errNoAnswer = errors.New("the chairman did not produce an answer")

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the whole round as JSON")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 0, "per-model timeout (overrides the council file)")
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Run one council round and print every answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			return fmt.Errorf("question is empty")
		}

		cfg, err := loadCouncil()
		if err != nil {
			return err
		}
		if askTimeout > 0 {
			cfg.Timeout = askTimeout
			cfg.ChairmanTimeout = askTimeout
		}

		logger := newLogger()
		httpClient := invoke.NewHTTPClient(config.DefaultHTTPClientSettings())
		defer httpClient.CloseIdleConnections()

		c, err := council.New(council.Config{
			Roster:          cfg.Models,
			Chairman:        cfg.Chairman,
			Timeout:         cfg.Timeout,
			ChairmanTimeout: cfg.ChairmanTimeout,
			PeerReview:      cfg.PeerReview,
			Invoker:         invoke.NewOllamaInvoker(httpClient, nil, logger),
			Logger:          logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		history := []core.Message{{Role: core.RoleUser, Content: question}}
		round, err := c.Run(ctx, history, nil)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if askJSON {
			data, err := util.MarshalJSONIndent(round)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		} else {
			printRound(out, round)
		}

		if !round.Final.OK() {
			return errNoAnswer
		}
		return nil
	},
}

// printRound writes each member's answer in roster order, then the
// chairman's synthesis.
func printRound(w io.Writer, round *core.CouncilRound) {
	for _, entry := range round.Responses {
		fmt.Fprintf(w, "== %s (%dms)\n", entry.Model, entry.Result.LatencyMS)
		if entry.Result.OK() {
			fmt.Fprintln(w, strings.TrimSpace(entry.Result.Content))
		} else {
			fmt.Fprintf(w, "(did not respond: %s)\n", entry.Result.Reason)
		}
		fmt.Fprintln(w)
	}

	if round.Review != nil {
		fmt.Fprintln(w, "== Peer rankings")
		for i, agg := range round.Review.Aggregate {
			fmt.Fprintf(w, "%d. %s (average %.2f over %d)\n", i+1, agg.Model, agg.AverageRank, agg.RankingsCount)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "== Chairman %s\n", round.Chairman)
	if round.Final.OK() {
		fmt.Fprintln(w, strings.TrimSpace(round.Final.Content))
	} else {
		fmt.Fprintf(w, "(no synthesis: %s)\n", round.Final.Reason)
	}
}
