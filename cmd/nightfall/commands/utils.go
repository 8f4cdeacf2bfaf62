package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	nightfall "github.com/nightfallai/nightfall-go-sdk"
	"github.com/nightfallai/nightfall-go-sdk/internal/config"
	"github.com/nightfallai/nightfall-go-sdk/internal/ledger"
)

// newClient creates an API client from the loaded settings.
func newClient(cfg *config.Config) (*nightfall.Client, error) {
	retry := nightfall.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries

	client, err := nightfall.New(
		nightfall.WithAPIKey(cfg.APIKey),
		nightfall.WithWebhookSigningSecret(cfg.WebhookSigningSecret),
		nightfall.WithBaseURL(cfg.BaseURL),
		nightfall.WithTimeout(cfg.Timeout),
		nightfall.WithRetryConfig(retry),
		nightfall.WithUserAgent("nightfall-cli/"+nightfall.Version),
		nightfall.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("client init failed: %w", err)
	}
	return client, nil
}

func openLedger(ctx context.Context, cfg *config.Config) (*ledger.Repository, error) {
	repo, err := ledger.Open(ctx, cfg.LedgerPath, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("ledger init failed: %w", err)
	}
	return repo, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// detectionRule groups built-in detectors into a single inline rule.
func detectionRule(detectors []string, minConfidence nightfall.Confidence) []nightfall.DetectionRule {
	if len(detectors) == 0 {
		return nil
	}

	b := nightfall.NewDetectionRuleBuilder("nightfall-cli")
	for _, name := range detectors {
		b.AddNightfallDetector(name, name, minConfidence)
	}
	return []nightfall.DetectionRule{b.Build()}
}

func parseConfidence(s string) (nightfall.Confidence, error) {
	c := nightfall.Confidence(s)
	switch c {
	case nightfall.ConfidenceVeryUnlikely, nightfall.ConfidenceUnlikely, nightfall.ConfidencePossible,
		nightfall.ConfidenceLikely, nightfall.ConfidenceVeryLikely:
		return c, nil
	}
	return "", fmt.Errorf("unknown confidence %q", s)
}
