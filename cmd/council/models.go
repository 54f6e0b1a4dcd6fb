package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Print the council roster and chairman",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadCouncil()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, model := range cfg.Models {
			fmt.Fprintf(out, "member    %-20s %s\n", model.Name, model.URL)
		}
		fmt.Fprintf(out, "chairman  %-20s %s\n", cfg.Chairman.Name, cfg.Chairman.URL)
		fmt.Fprintf(out, "timeout   %v (chairman %v)\n", cfg.Timeout, cfg.ChairmanTimeout)
		fmt.Fprintf(out, "review    %v\n", cfg.PeerReview)
		return nil
	},
}
