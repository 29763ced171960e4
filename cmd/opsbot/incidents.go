package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opsbotics/opsbot/internal/storage/sqlite"
	"github.com/opsbotics/opsbot/internal/types"
)

var incidentsLimit int

var incidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "List recent incidents",
	Long:  `Display recent incidents from the store, most recent first.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		store, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open incident store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Incidents ==="))

		incidents, err := store.Recent(ctx, incidentsLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to query incidents: %v\n", err)
			os.Exit(1)
		}

		if len(incidents) == 0 {
			fmt.Printf("  %s\n\n", gray("No incidents recorded"))
			return
		}

		for _, inc := range incidents {
			statusColor := yellow
			statusIcon := "⚠"
			switch inc.Status {
			case types.StatusResolved:
				statusColor = green
				statusIcon = "✓"
			case types.StatusEscalated:
				statusColor = red
				statusIcon = "✗"
			}

			fmt.Printf("  %s %s  %s\n", statusColor(statusIcon), statusColor(string(inc.Status)), gray(inc.ID))
			fmt.Printf("    Container: %s\n", inc.TargetID)
			fmt.Printf("    Peak:      %.2f%% (threshold %.1f%%)\n", inc.PeakValue, inc.Threshold)
			fmt.Printf("    Opened:    %s\n", inc.OpenedAt.Format("2006-01-02 15:04:05"))
			if inc.ClosedAt != nil {
				fmt.Printf("    Closed:    %s (%s)\n",
					inc.ClosedAt.Format("2006-01-02 15:04:05"),
					inc.ClosedAt.Sub(inc.OpenedAt).Round(time.Second))
			}
			if inc.RootCauseSummary != "" {
				fmt.Printf("    Cause:     %s\n", inc.RootCauseSummary)
			}
			for i, attempt := range inc.RemediationAttempts {
				outcome := green("ok")
				if attempt.Outcome == types.OutcomeFailure {
					outcome = red("failed")
				}
				fmt.Printf("    Attempt %d: %s %s", i+1, attempt.Action, outcome)
				if attempt.Detail != "" {
					fmt.Printf(" %s", gray("("+attempt.Detail+")"))
				}
				fmt.Println()
			}
			fmt.Println()
		}

		total, err := store.Count(ctx)
		if err == nil {
			fmt.Printf("  Total: %d recorded\n\n", total)
		}
	},
}

func init() {
	rootCmd.AddCommand(incidentsCmd)
	incidentsCmd.Flags().IntVar(&incidentsLimit, "limit", 10, "Maximum number of incidents to show")
}
