package main

import (
	"os"

	"llmcouncil/internal/config"
	"llmcouncil/internal/core"
	logpkg "llmcouncil/internal/log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var councilPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&councilPath, "config", "c", "", "council file (default $COUNCIL_CONFIG or council.yaml)")
	rootCmd.AddCommand(askCmd, modelsCmd)
}

var rootCmd = &cobra.Command{
	Use:          "council",
	Short:        "council asks several local models and lets a chairman merge their answers",
	SilenceUsage: true,
}

// loadCouncil resolves the council the same way the server does.
func loadCouncil() (config.CouncilConfig, error) {
	path := councilPath
	if path == "" {
		path = os.Getenv("COUNCIL_CONFIG")
	}
	if path == "" {
		path = core.DefaultCouncilFilePath
	}
	return config.LoadCouncilConfig(path)
}

// newLogger keeps stdout for answers; diagnostics go to stderr at WARN
// unless debugging is enabled.
func newLogger() *logpkg.AppLogger {
	level := logpkg.WARN
	if logpkg.IsDebug() {
		level = logpkg.DEBUG
	}
	return logpkg.NewAppLoggerWithLevel(os.Stderr, level)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
