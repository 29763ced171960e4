package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opsbotics/opsbot/internal/config"
)

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "opsbot",
	Short: "Autonomous container monitoring and remediation agent",
	Long: `OpsBot watches container metrics, detects sustained threshold breaches,
and drives each incident through analysis, remediation, and verification
without human intervention. Incidents that exhaust their automated
attempts are escalated for manual follow-up.

Configuration comes from a YAML file (--config) with built-in defaults.
Secrets are read from the environment:
  ANTHROPIC_API_KEY   enables AI root-cause analysis
  SLACK_WEBHOOK_URL   enables Slack notifications`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
