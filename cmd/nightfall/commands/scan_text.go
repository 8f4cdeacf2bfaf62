package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	nightfall "github.com/nightfallai/nightfall-go-sdk"
	"github.com/spf13/cobra"
)

var scanTextCmd = &cobra.Command{
	Use:   "scan-text [text...]",
	Short: "Scan text for sensitive data",
	Long: `Scans each argument as a separate payload and prints the findings as JSON. With no arguments
the text is read from stdin as a single payload.`,
	RunE: runScanText,
}

func init() {
	scanTextCmd.Flags().StringSlice("rule-uuid", nil, "Detection rule UUID (repeatable)")
	scanTextCmd.Flags().StringSlice("policy-uuid", nil, "Policy UUID (repeatable)")
	scanTextCmd.Flags().StringSlice("detector", nil, "Built-in detector name, e.g. CREDIT_CARD_NUMBER (repeatable)")
	scanTextCmd.Flags().String("min-confidence", string(nightfall.ConfidenceLikely), "Minimum confidence for --detector")
	rootCmd.AddCommand(scanTextCmd)
}

type scanTextOptions struct {
	ruleUUIDs     []string
	policyUUIDs   []string
	detectors     []string
	minConfidence string
}

func runScanText(cmd *cobra.Command, args []string) error {
	opts := scanTextOptions{}
	opts.ruleUUIDs, _ = cmd.Flags().GetStringSlice("rule-uuid")
	opts.policyUUIDs, _ = cmd.Flags().GetStringSlice("policy-uuid")
	opts.detectors, _ = cmd.Flags().GetStringSlice("detector")
	opts.minConfidence, _ = cmd.Flags().GetString("min-confidence")

	payload := args
	if len(payload) == 0 {
		text, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		payload = []string{strings.TrimRight(string(text), "\n")}
	}

	client, err := newClient(appConfig)
	if err != nil {
		return err
	}
	defer client.Close()

	return scanText(cmd.Context(), client, payload, opts, cmd.OutOrStdout())
}

func scanText(ctx context.Context, client *nightfall.Client, payload []string, opts scanTextOptions, out io.Writer) error {
	confidence, err := parseConfidence(opts.minConfidence)
	if err != nil {
		return err
	}

	var config *nightfall.ScanTextConfig
	if len(opts.ruleUUIDs) > 0 || len(opts.detectors) > 0 {
		config = &nightfall.ScanTextConfig{
			DetectionRuleUUIDs: opts.ruleUUIDs,
			DetectionRules:     detectionRule(opts.detectors, confidence),
		}
	}
	if config == nil && len(opts.policyUUIDs) == 0 {
		return errors.New("one of --rule-uuid, --policy-uuid or --detector is required")
	}

	resp, err := client.ScanText(ctx, payload, config, opts.policyUUIDs...)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return resp.Err()
	}
	return printJSON(out, resp.Data)
}
