package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	nightfall "github.com/nightfallai/nightfall-go-sdk"
	"github.com/spf13/cobra"
)

var errInvalidWebhook = errors.New("webhook signature is not valid")

var validateWebhookCmd = &cobra.Command{
	Use:   "validate-webhook",
	Short: "Check the signature of a captured webhook delivery",
	Long: `Checks a webhook body against the X-Nightfall-Signature and X-Nightfall-Timestamp headers it
was delivered with. Only the signing secret is needed. Exits non-zero when the check fails.`,
	Args: cobra.NoArgs,
	RunE: runValidateWebhook,
}

func init() {
	validateWebhookCmd.Flags().String("body-file", "-", "File holding the raw request body, - for stdin")
	validateWebhookCmd.Flags().String("signature", "", "Value of the X-Nightfall-Signature header")
	validateWebhookCmd.Flags().Int64("timestamp", 0, "Value of the X-Nightfall-Timestamp header")
	validateWebhookCmd.Flags().Duration("threshold", nightfall.DefaultWebhookThreshold, "Oldest timestamp accepted")
	validateWebhookCmd.MarkFlagRequired("signature")
	validateWebhookCmd.MarkFlagRequired("timestamp")
	rootCmd.AddCommand(validateWebhookCmd)
}

func runValidateWebhook(cmd *cobra.Command, args []string) error {
	bodyFile, _ := cmd.Flags().GetString("body-file")
	signature, _ := cmd.Flags().GetString("signature")
	timestamp, _ := cmd.Flags().GetInt64("timestamp")
	threshold, _ := cmd.Flags().GetDuration("threshold")

	verifier, err := nightfall.NewWebhookVerifier(appConfig.WebhookSigningSecret)
	if err != nil {
		return err
	}

	body, err := readInput(bodyFile, cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}

	return validateWebhook(verifier, body, signature, timestamp, threshold, cmd.OutOrStdout())
}

func validateWebhook(verifier *nightfall.WebhookVerifier, body []byte, signature string, timestamp int64, threshold time.Duration, out io.Writer) error {
	if !verifier.ValidateWithin(body, signature, timestamp, threshold) {
		return errInvalidWebhook
	}
	fmt.Fprintln(out, "valid")
	return nil
}
