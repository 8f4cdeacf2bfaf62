// Package nightfall provides a Go SDK for the Nightfall data loss prevention API.
//
// Nightfall scans text and files for sensitive data such as credit card numbers, API keys and
// personal information. This SDK wraps the HTTP API with an idiomatic Go interface: a text scan,
// a chunked file upload that ends in an asynchronous scan, and verification of the signed webhook
// the service sends once a file scan completes.
//
// # Quick Start
//
// To get started, you'll need a Nightfall API key. If none is passed to New, the key is read from
// the NIGHTFALL_API_KEY environment variable.
//
//	import "github.com/nightfallai/nightfall-go-sdk"
//
//	client, err := nightfall.New(nightfall.WithAPIKey("your-api-key"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	rule := nightfall.NewDetectionRuleBuilder("Card numbers").
//		AddNightfallDetector("CREDIT_CARD_NUMBER", "Credit card", nightfall.ConfidenceLikely).
//		Build()
//
//	resp, err := client.ScanText(ctx, []string{"4242-4242-4242-4242"}, &nightfall.ScanTextConfig{
//		DetectionRules: []nightfall.DetectionRule{rule},
//	})
//
// # Scanning Files
//
// Files are uploaded in chunks whose size is chosen by the service, then scanned asynchronously.
// ScanFile runs the whole pipeline; an UploadSession exposes each step when you need control over
// them:
//
//	session := client.NewUploadSession("report.pdf")
//	if _, err := session.Initialize(ctx); err != nil { ... }
//	if err := session.UploadChunks(ctx); err != nil { ... }
//	if _, err := session.Finish(ctx); err != nil { ... }
//	scan, err := session.Scan(ctx, policy, "my-correlation-id")
//
// The findings are not part of the scan response. They are delivered to the policy's webhook URL.
//
// # Webhooks
//
// Each webhook delivery is signed with your webhook signing secret. Validate it before trusting the
// body, passing the raw bytes exactly as received:
//
//	ok, err := client.ValidateWebhook(body, r.Header.Get(nightfall.SignatureHeader), timestamp)
//
// A WebhookHandler does the header parsing, verification and decoding for you and can be mounted on
// any http.ServeMux.
//
// # Error Handling
//
// ScanText and ScanFile report errors returned by the API, such as an invalid policy, on the
// Response rather than as a Go error:
//
//	resp, err := client.ScanText(ctx, payload, config)
//	if err != nil {
//		// network failure, canceled context, ...
//	}
//	if resp.IsError() {
//		fmt.Println(resp.Err().Code, resp.Err().Description)
//	}
//
// The UploadSession steps return an *APIError, *FileError or *StateError that can be inspected with
// errors.As.
//
// # Retries
//
// Requests are not retried by default. To absorb rate limits, enable the backoff transport:
//
//	client, err := nightfall.New(
//		nightfall.WithAPIKey("your-api-key"),
//		nightfall.WithRetryConfig(nightfall.DefaultRetryConfig()),
//	)
//
// For more information, visit: https://docs.nightfall.ai
package nightfall
