package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/nightfallai/nightfall-go-sdk/internal/ledger"
	"github.com/spf13/cobra"
)

var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "List file scans recorded in the ledger",
	Args:  cobra.NoArgs,
	RunE:  runScans,
}

func init() {
	scansCmd.Flags().Int("limit", 20, "Number of scans to show, 0 for all")
	rootCmd.AddCommand(scansCmd)
}

func runScans(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	repo, err := openLedger(cmd.Context(), appConfig)
	if err != nil {
		return err
	}
	defer repo.Close()

	scans, err := repo.List(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	printScans(cmd.OutOrStdout(), scans)
	return nil
}

func printScans(w io.Writer, scans []*ledger.Scan) {
	if len(scans) == 0 {
		fmt.Fprintln(w, "No scans found")
		return
	}

	fmt.Fprintf(w, "%-38s %-10s %-9s %-20s %s\n", "UPLOAD ID", "STATUS", "FINDINGS", "SUBMITTED", "SOURCE")
	fmt.Fprintln(w, "----------------------------------------------------------------------------------------------------")

	for _, s := range scans {
		findings := "-"
		if s.Status != ledger.StatusSubmitted {
			findings = "no"
			if s.FindingsPresent {
				findings = "yes"
			}
		}
		fmt.Fprintf(w, "%-38s %-10s %-9s %-20s %s\n",
			s.UploadID, s.Status, findings, formatTime(s.SubmittedAt), orDash(s.Source))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
