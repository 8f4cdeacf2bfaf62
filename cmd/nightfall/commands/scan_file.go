package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	nightfall "github.com/nightfallai/nightfall-go-sdk"
	"github.com/nightfallai/nightfall-go-sdk/internal/ledger"
	"github.com/nightfallai/nightfall-go-sdk/internal/storage"
	"github.com/spf13/cobra"
)

var scanFileCmd = &cobra.Command{
	Use:   "scan-file <path | s3://bucket/key>",
	Short: "Upload a file and start an asynchronous scan",
	Long: `Uploads a local file, or an S3 object, and asks Nightfall to scan it. Findings are delivered to
--webhook-url; run serve-webhook there to record them in the ledger.`,
	Args: cobra.ExactArgs(1),
	RunE: runScanFile,
}

func init() {
	scanFileCmd.Flags().StringSlice("rule-uuid", nil, "Detection rule UUID (repeatable)")
	scanFileCmd.Flags().StringSlice("detector", nil, "Built-in detector name (repeatable)")
	scanFileCmd.Flags().String("min-confidence", string(nightfall.ConfidenceLikely), "Minimum confidence for --detector")
	scanFileCmd.Flags().String("webhook-url", "", "URL the scan results are delivered to")
	scanFileCmd.Flags().String("metadata", "", "Request metadata echoed on the webhook (default: a random UUID)")
	rootCmd.AddCommand(scanFileCmd)
}

// fileScan is what scan-file prints.
type fileScan struct {
	UploadID        string `json:"uploadID"`
	ScanID          string `json:"scanID"`
	Message         string `json:"message"`
	Source          string `json:"source"`
	RequestMetadata string `json:"requestMetadata"`
}

func runScanFile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	source := args[0]

	ruleUUIDs, _ := cmd.Flags().GetStringSlice("rule-uuid")
	detectors, _ := cmd.Flags().GetStringSlice("detector")
	minConfidence, _ := cmd.Flags().GetString("min-confidence")
	webhookURL, _ := cmd.Flags().GetString("webhook-url")
	metadata, _ := cmd.Flags().GetString("metadata")

	confidence, err := parseConfidence(minConfidence)
	if err != nil {
		return err
	}
	policy := nightfall.NewScanPolicyBuilder().
		AddDetectionRuleUUID(ruleUUIDs...).
		AddDetectionRule(detectionRule(detectors, confidence)...).
		WebhookURL(webhookURL).
		Build()
	if len(policy.DetectionRuleUUIDs) == 0 && len(policy.DetectionRules) == 0 {
		return errors.New("one of --rule-uuid or --detector is required")
	}
	if metadata == "" {
		metadata = uuid.NewString()
	}

	client, err := newClient(appConfig)
	if err != nil {
		return err
	}
	defer client.Close()

	repo, err := openLedger(ctx, appConfig)
	if err != nil {
		return err
	}
	defer repo.Close()

	path := source
	if storage.IsURI(source) {
		obj, err := storage.ParseURI(source)
		if err != nil {
			return err
		}
		s3Client, err := storage.NewClient(ctx, appConfig.S3Region, slog.Default())
		if err != nil {
			return fmt.Errorf("S3 client failed: %w", err)
		}
		download, err := s3Client.Download(ctx, obj, appConfig.WorkDir)
		if err != nil {
			return err
		}
		defer download.Remove()
		path = download.LocalPath
	}

	return scanFile(ctx, client, repo, scanFileRequest{
		path:     path,
		source:   source,
		policy:   policy,
		metadata: metadata,
	}, cmd.OutOrStdout())
}

type scanFileRequest struct {
	// path is the local file to upload; source is what the user asked for.
	path     string
	source   string
	policy   *nightfall.ScanPolicy
	metadata string
}

// scanFile drives an upload session step by step so the upload id can be recorded in the ledger.
func scanFile(ctx context.Context, client *nightfall.Client, repo *ledger.Repository, req scanFileRequest, out io.Writer) error {
	session := client.NewUploadSession(req.path)

	if _, err := session.Initialize(ctx); err != nil {
		return err
	}
	if err := session.UploadChunks(ctx); err != nil {
		return err
	}
	if _, err := session.Finish(ctx); err != nil {
		return err
	}
	resp, err := session.Scan(ctx, req.policy, req.metadata)
	if err != nil {
		return err
	}

	if _, err := repo.RecordSubmission(ctx, ledger.Submission{
		UploadID:        session.FileID(),
		ScanID:          resp.ID,
		Source:          req.source,
		RequestMetadata: req.metadata,
	}); err != nil {
		// The scan was already accepted, so this is not fatal.
		slog.Warn("ledger_record_failed", "upload_id", session.FileID(), "error", err)
	}

	return printJSON(out, fileScan{
		UploadID:        session.FileID(),
		ScanID:          resp.ID,
		Message:         resp.Message,
		Source:          req.source,
		RequestMetadata: req.metadata,
	})
}
