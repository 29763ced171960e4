// Package ai adapts the external text-analysis backend behind a synchronous,
// timeout-bounded root-cause analysis contract. Analysis is advisory: every
// failure mode collapses to ErrUnavailable and the incident lifecycle proceeds
// without a summary.
package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
)

// ErrUnavailable is returned when analysis could not be obtained (timeout,
// backend error, or malformed response). Callers treat it as non-fatal.
var ErrUnavailable = errors.New("root-cause analysis unavailable")

// DefaultModel is the model used for log analysis. Root-cause summaries are
// short and formulaic, so the cost-efficient tier is enough.
const DefaultModel = "claude-3-5-haiku-20241022"

// maxLogExcerptBytes caps how much log tail is sent for analysis
const maxLogExcerptBytes = 3000

// IncidentContext carries what the analyzer needs to reason about an incident
type IncidentContext struct {
	TargetID   string
	MetricName string
	Threshold  float64
	PeakValue  float64
	OpenedAt   time.Time
	LogExcerpt string
}

// Analyzer produces root-cause summaries via the Anthropic API
type Analyzer struct {
	client         *anthropic.Client
	model          string
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
}

// Config holds analyzer configuration
type Config struct {
	APIKey string      // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model  string      // Model to use (default: DefaultModel)
	Retry  RetryConfig // Retry behavior (zero value: DefaultRetryConfig)
}

// New creates a new root-cause analyzer
func New(cfg *Config) (*Analyzer, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.Timeout == 0 {
		retry = DefaultRetryConfig()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	var circuitBreaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}

	var concurrencySem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	return &Analyzer{
		client:         &client,
		model:          model,
		retry:          retry,
		circuitBreaker: circuitBreaker,
		concurrencySem: concurrencySem,
	}, nil
}

// Analyze requests a concise root-cause summary for the incident. Any failure
// is wrapped in ErrUnavailable so callers can proceed without a summary.
func (a *Analyzer) Analyze(ctx context.Context, incCtx IncidentContext) (string, error) {
	prompt := buildAnalysisPrompt(incCtx)

	var response *anthropic.Message
	err := a.retryWithBackoff(ctx, "root-cause", func(attemptCtx context.Context) error {
		resp, apiErr := a.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: 256,
			System: []anthropic.TextBlockParam{
				{Text: "You are an expert DevOps assistant. Analyze logs and provide concise root cause analysis."},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var summary strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			summary.WriteString(block.Text)
		}
	}

	text := strings.TrimSpace(summary.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	return text, nil
}

func buildAnalysisPrompt(incCtx IncidentContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "A monitored container breached its %s threshold.\n\n", incCtx.MetricName)
	fmt.Fprintf(&b, "Container: %s\n", incCtx.TargetID)
	fmt.Fprintf(&b, "Threshold: %.1f%%\n", incCtx.Threshold)
	fmt.Fprintf(&b, "Peak observed: %.1f%%\n", incCtx.PeakValue)
	fmt.Fprintf(&b, "Incident opened: %s\n\n", incCtx.OpenedAt.Format(time.RFC3339))

	excerpt := incCtx.LogExcerpt
	if len(excerpt) > maxLogExcerptBytes {
		excerpt = excerpt[len(excerpt)-maxLogExcerptBytes:]
	}
	if excerpt != "" {
		fmt.Fprintf(&b, "Recent logs:\n%s\n\n", excerpt)
	} else {
		b.WriteString("No logs were available for this incident.\n\n")
	}

	b.WriteString("Identify the most likely cause of the high usage. Reply with a clear, brief reason (one or two sentences), no preamble.")
	return b.String()
}
