package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opsbotics/opsbot/internal/status"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest monitoring snapshot",
	Long:  `Display the most recent status snapshot published by a running agent.`,
	Run: func(cmd *cobra.Command, args []string) {
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== OpsBot Status ==="))

		snap, err := status.Read(cfg.StatusFilePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: no status snapshot at %s: %v\n", cfg.StatusFilePath, err)
			fmt.Fprintf(os.Stderr, "Is the agent running? Start it with: opsbot run\n")
			os.Exit(1)
		}

		statusColor := gray
		statusIcon := "○"
		switch snap.Status {
		case "Normal":
			statusColor = green
			statusIcon = "●"
		case "Spike Detected", "Analyzing...", "Remediating...", "Verifying...":
			statusColor = yellow
			statusIcon = "⚠"
		case "Intervention Needed":
			statusColor = red
			statusIcon = "✗"
		case "Cooldown":
			statusColor = yellow
			statusIcon = "◌"
		}

		fmt.Printf("  %s %s\n", statusColor(statusIcon), statusColor(snap.Status))
		fmt.Printf("    Container:  %s\n", snap.ContainerName)
		fmt.Printf("    CPU usage:  %.2f%% (threshold %.1f%%)\n", snap.CPUUsage, snap.Threshold)
		fmt.Printf("    Updated:    %s\n", snap.LastUpdated)
		if snap.MonitoringActive {
			fmt.Printf("    Monitoring: %s\n", green("active"))
		} else {
			fmt.Printf("    Monitoring: %s\n", gray("stopped"))
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
