package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	nightfall "github.com/nightfallai/nightfall-go-sdk"
	"github.com/nightfallai/nightfall-go-sdk/internal/ledger"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveWebhookCmd = &cobra.Command{
	Use:   "serve-webhook",
	Short: "Receive scan results and record them in the ledger",
	Args:  cobra.NoArgs,
	RunE:  runServeWebhook,
}

func init() {
	serveWebhookCmd.Flags().String("listen", ":8080", "Address to listen on")
	serveWebhookCmd.Flags().String("path", "/nightfall/webhook", "Path the webhook is served at")
	rootCmd.AddCommand(serveWebhookCmd)
}

func runServeWebhook(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	path, _ := cmd.Flags().GetString("path")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := nightfall.NewWebhookVerifier(appConfig.WebhookSigningSecret)
	if err != nil {
		return err
	}

	repo, err := openLedger(ctx, appConfig)
	if err != nil {
		return err
	}
	defer repo.Close()

	mux := http.NewServeMux()
	mux.Handle(path, nightfall.NewWebhookHandler(verifier, recordResult(repo), slog.Default()))

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("webhook_server_start", "listen", listen, "path", path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("webhook_server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// recordResult stores each verified notification in the ledger.
func recordResult(repo *ledger.Repository) nightfall.WebhookFunc {
	return func(ctx context.Context, n *nightfall.WebhookBody) error {
		errs := make([]string, 0, len(n.Errors))
		for _, e := range n.Errors {
			errs = append(errs, fmt.Sprintf("%d %s", e.Code, e.Message))
		}

		_, err := repo.RecordResult(ctx, ledger.Result{
			UploadID:        n.UploadID,
			RequestMetadata: n.RequestMetadata,
			FindingsPresent: n.FindingsPresent,
			FindingsURL:     n.FindingsURL,
			Errors:          errs,
		})
		return err
	}
}
