package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opsbotics/opsbot/internal/ai"
	"github.com/opsbotics/opsbot/internal/lifecycle"
	"github.com/opsbotics/opsbot/internal/metrics"
	"github.com/opsbotics/opsbot/internal/notify"
	"github.com/opsbotics/opsbot/internal/remediation"
	"github.com/opsbotics/opsbot/internal/status"
	"github.com/opsbotics/opsbot/internal/storage/sqlite"
)

var (
	runSimulate  bool
	runSpikeProb float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the monitoring and remediation loop",
	Long: `Start the control loop for every configured target.

Each target is sampled once per poll interval. A breach sustained for the
configured duration opens an incident, which proceeds through analysis,
remediation with cooldown between attempts, and health verification. The
loop runs until interrupted (Ctrl+C or SIGTERM) and shuts down gracefully,
flushing in-flight incident state.

With --simulate the agent uses a synthetic metric source with occasional
spikes instead of Prometheus, so the full pipeline can be exercised
without any infrastructure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		printBanner()

		store, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open incident store: %w", err)
		}
		defer store.Close()

		// Degraded mode: without an API key incidents proceed straight to
		// remediation with no root-cause summary.
		var analyzer lifecycle.Analyzer
		if cfg.AnthropicAPIKey == "" {
			fmt.Fprintf(os.Stderr, "Warning: ANTHROPIC_API_KEY not set, root-cause analysis disabled\n")
		} else {
			a, err := ai.New(&ai.Config{
				APIKey: cfg.AnthropicAPIKey,
				Retry:  ai.DefaultRetryConfig(),
			})
			if err != nil {
				return fmt.Errorf("failed to create analyzer: %w", err)
			}
			analyzer = a
		}

		var notifier notify.Notifier
		if cfg.SlackWebhookURL == "" {
			fmt.Fprintf(os.Stderr, "Warning: SLACK_WEBHOOK_URL not set, notifications go to stdout only\n")
			notifier = &notify.LogNotifier{}
		} else {
			notifier = notify.NewSlackNotifier(cfg.SlackWebhookURL)
		}

		var source metrics.Source
		if runSimulate || cfg.PrometheusURL == "" {
			if !runSimulate {
				fmt.Fprintf(os.Stderr, "Warning: no Prometheus URL configured, using simulated metrics\n")
			}
			source = metrics.NewSpikeSource(metrics.NewSimulatedSource(), runSpikeProb, 85, 99)
		} else {
			source, err = metrics.NewPrometheusSource(cfg.PrometheusURL, cfg.Queries)
			if err != nil {
				return fmt.Errorf("failed to create Prometheus source: %w", err)
			}
		}

		remediator := remediation.New(remediation.NewDockerRuntime(), remediation.Config{
			ExecuteTimeout: cfg.RemediationTimeout,
			VerifyTimeout:  cfg.VerifyTimeout,
		})

		var logs lifecycle.LogProvider
		if cfg.LogFile != "" {
			logFile := cfg.LogFile
			logs = func() string {
				excerpt, err := ai.TailFile(logFile, 3000)
				if err != nil {
					fmt.Fprintf(os.Stderr, "could not read log excerpt from %s: %v\n", logFile, err)
					return ""
				}
				return excerpt
			}
		}

		agents := make([]*lifecycle.Agent, 0, len(cfg.Targets))
		for _, target := range cfg.Targets {
			mgrCfg := lifecycle.ManagerConfig{
				TargetID:        target,
				MetricName:      cfg.MetricName,
				Threshold:       cfg.Threshold,
				CooldownWindow:  cfg.CooldownWindow,
				MaxAttempts:     cfg.MaxAttempts,
				Actions:         cfg.RemediationActions,
				GracePeriod:     cfg.HealthProbeGracePeriod,
				AnalysisTimeout: cfg.AnalysisTimeout,
			}
			manager := lifecycle.NewManager(mgrCfg, store, analyzer, remediator, notifier, logs)

			agent, err := lifecycle.NewAgent(lifecycle.AgentConfig{
				TargetID:          target,
				PollInterval:      cfg.PollInterval,
				SustainedDuration: cfg.SustainedDuration,
				SampleTimeout:     cfg.SampleTimeout,
				HeartbeatEvery:    cfg.HeartbeatEvery,
				Manager:           mgrCfg,
			}, source, manager, store, status.NewFilePublisher(cfg.StatusFilePath))
			if err != nil {
				return fmt.Errorf("failed to create agent for %s: %w", target, err)
			}
			agents = append(agents, agent)
		}

		for i, agent := range agents {
			if err := agent.Start(ctx); err != nil {
				// Stop anything already started before bailing out.
				stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				for _, started := range agents[:i] {
					_ = started.Stop(stopCtx)
				}
				cancel()
				return fmt.Errorf("failed to start agent for %s: %w", cfg.Targets[i], err)
			}
			fmt.Printf("Monitoring %s (threshold %.1f%%, poll %s)\n",
				cfg.Targets[i], cfg.Threshold, cfg.PollInterval)
		}

		fmt.Println("OpsBot running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var g errgroup.Group
		for _, agent := range agents {
			agent := agent
			g.Go(func() error {
				return agent.Stop(stopCtx)
			})
		}
		if err := g.Wait(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}

		fmt.Println("OpsBot stopped.")
		return nil
	},
}

func printBanner() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n", cyan("=== OpsBot Monitoring Agent ==="))
	fmt.Printf("  Targets:    %v\n", cfg.Targets)
	fmt.Printf("  Metric:     %s (threshold %.1f%%, sustained %s)\n",
		cfg.MetricName, cfg.Threshold, cfg.SustainedDuration)
	fmt.Printf("  Policy:     %d attempts, %s cooldown, actions %v\n",
		cfg.MaxAttempts, cfg.CooldownWindow, cfg.RemediationActions)
	fmt.Printf("  Database:   %s\n", gray(cfg.DatabasePath))
	fmt.Printf("  Status:     %s\n", gray(cfg.StatusFilePath))
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "Use simulated metrics instead of Prometheus")
	runCmd.Flags().Float64Var(&runSpikeProb, "spike-probability", 0.1, "Chance per cycle of a simulated spike (with --simulate)")
}
