package nightfall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/nightfallai/nightfall-go-sdk/internal"
)

const (
	// MaxRequestMetadataBytes is the largest requestMetadata the service accepts on a file scan.
	MaxRequestMetadataBytes = 10 * 1024

	uploadOffsetHeader = "X-Upload-Offset"
)

// UploadState is the position of an UploadSession in the upload lifecycle.
type UploadState int

const (
	// UploadStateUnstarted is a new session. Initialize is the only valid step.
	UploadStateUnstarted UploadState = iota
	// UploadStateInitialized means the service assigned a file id and chunk size.
	UploadStateInitialized
	// UploadStateUploaded means every chunk of the file has been sent.
	UploadStateUploaded
	// UploadStateFinished means the service has assembled the file.
	UploadStateFinished
	// UploadStateScanning means the scan was accepted. The session is done.
	UploadStateScanning
	// UploadStateFailed means a step failed. The session can only be discarded.
	UploadStateFailed
)

// String returns the string representation of the state.
func (s UploadState) String() string {
	switch s {
	case UploadStateUnstarted:
		return "unstarted"
	case UploadStateInitialized:
		return "initialized"
	case UploadStateUploaded:
		return "uploaded"
	case UploadStateFinished:
		return "finished"
	case UploadStateScanning:
		return "scanning"
	case UploadStateFailed:
		return "failed"
	}
	return "unknown"
}

// UploadSession drives one local file through the upload-and-scan pipeline:
//
//	Initialize -> UploadChunks -> Finish -> Scan
//
// Each step must succeed before the next one may run, and no step may run twice. A step called out
// of order returns a *StateError without contacting the service. Any failure moves the session to
// UploadStateFailed; the remote upload is then incomplete and safe to discard. Steps never retry.
//
// A session is not safe for concurrent use. Independent sessions share nothing and may run in
// parallel.
type UploadSession struct {
	api    *internal.Client
	logger *slog.Logger

	filePath string

	state     UploadState
	fileID    string
	fileSize  int64
	chunkSize int64
	offset    int64
}

// NewUploadSession creates a session for the file at filePath. Nothing is read or sent until
// Initialize is called.
func (c *Client) NewUploadSession(filePath string) *UploadSession {
	return &UploadSession{
		api:      c.api,
		logger:   c.config.logger.With("file_path", filePath),
		filePath: filePath,
	}
}

// State returns the current state of the session.
func (s *UploadSession) State() UploadState { return s.state }

// FileID returns the id assigned by the service, or "" before Initialize succeeds.
func (s *UploadSession) FileID() string { return s.fileID }

// ChunkSize returns the chunk size assigned by the service, or 0 before Initialize succeeds.
func (s *UploadSession) ChunkSize() int64 { return s.chunkSize }

// FileSize returns the file size declared to the service.
func (s *UploadSession) FileSize() int64 { return s.fileSize }

// Offset returns the upload offset the next chunk would be sent at.
func (s *UploadSession) Offset() int64 { return s.offset }

func (s *UploadSession) expect(op string, want UploadState) error {
	if s.state != want {
		return &StateError{Op: op, State: s.state, Want: want}
	}
	return nil
}

// fail marks the session unusable and passes err through.
func (s *UploadSession) fail(err error) error {
	s.state = UploadStateFailed
	return err
}

func (s *UploadSession) uploadPath(suffix string) string {
	return "/v3/upload/" + url.PathEscape(s.fileID) + suffix
}

type initializeRequest struct {
	FileSizeBytes int64 `json:"fileSizeBytes"`
}

// Initialize declares the file's size to the service and records the file id and chunk size it
// assigns. The chunk size is chosen by the service, not the client.
func (s *UploadSession) Initialize(ctx context.Context) (*FileUpload, error) {
	if err := s.expect("initialize", UploadStateUnstarted); err != nil {
		return nil, err
	}

	info, err := os.Stat(s.filePath)
	if err != nil {
		return nil, s.fail(&FileError{Op: "stat", Path: s.filePath, Err: err})
	}
	if !info.Mode().IsRegular() {
		return nil, s.fail(&FileError{Op: "stat", Path: s.filePath, Err: ErrNotRegularFile})
	}

	var upload FileUpload
	err = s.api.Do(ctx, &internal.Request{
		Method: http.MethodPost,
		Path:   "/v3/upload",
		JSON:   initializeRequest{FileSizeBytes: info.Size()},
	}, &upload)
	if err != nil {
		s.logger.Error("upload_initialize_failed", "error", err)
		return nil, s.fail(fmt.Errorf("failed to initialize upload: %w", lookForAPIError(err)))
	}

	if upload.ID == "" {
		return nil, s.fail(fmt.Errorf("failed to initialize upload: %w: missing file id", ErrInvalidResponse))
	}
	if upload.ChunkSize <= 0 {
		return nil, s.fail(fmt.Errorf("failed to initialize upload: %w: chunk size %d", ErrInvalidResponse, upload.ChunkSize))
	}

	s.fileID = upload.ID
	s.chunkSize = upload.ChunkSize
	s.fileSize = info.Size()
	s.state = UploadStateInitialized

	s.logger.Debug("upload_initialized", "file_id", s.fileID, "size_bytes", s.fileSize, "chunk_size", s.chunkSize)
	return &upload, nil
}

// UploadChunks reads the file in segments of at most ChunkSize bytes and sends them in order, one
// request at a time. Each segment is tagged with the offset it starts at; the offset advances by
// the full chunk size after every segment, so chunk k is always sent at k*ChunkSize. An empty file
// sends no chunks.
//
// The bytes are sent exactly as they are on disk. The first failed chunk aborts the upload and no
// later chunk is sent. Cancelling ctx stops the upload before the next chunk.
func (s *UploadSession) UploadChunks(ctx context.Context) error {
	if err := s.expect("upload chunks", UploadStateInitialized); err != nil {
		return err
	}

	f, err := os.Open(s.filePath)
	if err != nil {
		return s.fail(&FileError{Op: "open", Path: s.filePath, Err: err})
	}
	defer f.Close()

	chunks := 0
	for {
		if err := ctx.Err(); err != nil {
			return s.fail(err)
		}

		// A fresh buffer per chunk: the transport may still hold the previous body.
		var chunk bytes.Buffer
		n, err := io.CopyN(&chunk, f, s.chunkSize)
		if err != nil && !errors.Is(err, io.EOF) {
			return s.fail(&FileError{Op: "read", Path: s.filePath, Err: err})
		}
		if n == 0 {
			break
		}

		err = s.api.Do(ctx, &internal.Request{
			Method:      http.MethodPatch,
			Path:        s.uploadPath(""),
			Body:        chunk.Bytes(),
			ContentType: internal.ContentTypeOctetStream,
			Header:      http.Header{uploadOffsetHeader: []string{strconv.FormatInt(s.offset, 10)}},
		}, nil)
		if err != nil {
			s.logger.Error("upload_chunk_failed", "file_id", s.fileID, "offset", s.offset, "error", err)
			return s.fail(fmt.Errorf("failed to upload chunk at offset %d: %w", s.offset, lookForAPIError(err)))
		}

		s.logger.Debug("upload_chunk_sent", "file_id", s.fileID, "offset", s.offset, "bytes", n)
		s.offset += s.chunkSize
		chunks++

		if n < s.chunkSize {
			break
		}
	}

	s.state = UploadStateUploaded
	s.logger.Debug("upload_chunks_complete", "file_id", s.fileID, "chunks", chunks)
	return nil
}

// Finish tells the service that every chunk has been sent. The response describes the assembled
// file.
func (s *UploadSession) Finish(ctx context.Context) (*FileUpload, error) {
	if err := s.expect("finish", UploadStateUploaded); err != nil {
		return nil, err
	}

	var upload FileUpload
	err := s.api.Do(ctx, &internal.Request{
		Method: http.MethodPost,
		Path:   s.uploadPath("/finish"),
	}, &upload)
	if err != nil {
		s.logger.Error("upload_finish_failed", "file_id", s.fileID, "error", err)
		return nil, s.fail(fmt.Errorf("failed to finish upload: %w", lookForAPIError(err)))
	}
	if upload.ID == "" {
		upload.ID = s.fileID
	}

	s.state = UploadStateFinished
	s.logger.Debug("upload_finished", "file_id", s.fileID, "mime_type", upload.MimeType)
	return &upload, nil
}

type scanRequest struct {
	Policy          *ScanPolicy `json:"policy"`
	RequestMetadata string      `json:"requestMetadata,omitempty"`
}

// Scan asks the service to scan the uploaded file with the given policy. The scan runs
// asynchronously: the response only confirms that it was accepted, and the findings are delivered
// to the policy's webhook. requestMetadata is optional, at most MaxRequestMetadataBytes long, and is
// echoed back on the webhook.
//
// Invalid arguments are rejected before anything is sent and leave the session Finished.
func (s *UploadSession) Scan(ctx context.Context, policy *ScanPolicy, requestMetadata string) (*ScanFileResponse, error) {
	if err := s.expect("scan", UploadStateFinished); err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, ErrPolicyRequired
	}
	if len(requestMetadata) > MaxRequestMetadataBytes {
		return nil, ErrRequestMetadataTooLarge
	}

	var resp ScanFileResponse
	err := s.api.Do(ctx, &internal.Request{
		Method: http.MethodPost,
		Path:   s.uploadPath("/scan"),
		JSON:   scanRequest{Policy: policy, RequestMetadata: requestMetadata},
	}, &resp)
	if err != nil {
		s.logger.Error("upload_scan_failed", "file_id", s.fileID, "error", err)
		return nil, s.fail(fmt.Errorf("failed to scan upload: %w", lookForAPIError(err)))
	}

	s.state = UploadStateScanning
	s.logger.Info("upload_scan_accepted", "file_id", s.fileID, "scan_id", resp.ID)
	return &resp, nil
}
