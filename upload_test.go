package nightfall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-key"

type fakeChunk struct {
	offset      int64
	data        []byte
	contentType string
}

type fakeFailure struct {
	status int
	body   string
}

// fakeAPI is an in-memory stand-in for the upload endpoints. It records every call so tests can
// assert on ordering and payloads.
type fakeAPI struct {
	server    *httptest.Server
	chunkSize int64

	// failures, keyed by step: initialize, chunk, finish, scan
	failures map[string]fakeFailure
	// failChunkAt selects the offset a chunk failure applies to
	failChunkAt int64
	// onChunk runs inside the handler after a chunk is stored
	onChunk func(offset int64)
	// initResponse overrides the initialize response when set
	initResponse *FileUpload

	mu       sync.Mutex
	nextID   int
	calls    []string
	declared map[string]int64
	chunks   map[string][]fakeChunk
	scans    map[string]scanRequest
	headers  []http.Header
}

func newFakeAPI(t *testing.T, chunkSize int64) *fakeAPI {
	t.Helper()

	f := &fakeAPI{
		chunkSize:   chunkSize,
		failures:    map[string]fakeFailure{},
		failChunkAt: -1,
		declared:    map[string]int64{},
		chunks:      map[string][]fakeChunk{},
		scans:       map[string]scanRequest{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v3/upload", f.handleInitialize)
	mux.HandleFunc("PATCH /v3/upload/{id}", f.handleChunk)
	mux.HandleFunc("POST /v3/upload/{id}/finish", f.handleFinish)
	mux.HandleFunc("POST /v3/upload/{id}/scan", f.handleScan)

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.headers = append(f.headers, r.Header.Clone())
		f.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer "+testAPIKey {
			writeJSON(w, http.StatusUnauthorized, ErrorDetail{Code: 40100, Message: "Unauthenticated"})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeAPI) client(t *testing.T, options ...option) *Client {
	t.Helper()
	options = append([]option{WithAPIKey(testAPIKey), WithBaseURL(f.server.URL)}, options...)
	client, err := New(options...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func (f *fakeAPI) fail(w http.ResponseWriter, step string) bool {
	f.mu.Lock()
	failure, ok := f.failures[step]
	f.mu.Unlock()
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(failure.status)
	io.WriteString(w, failure.body)
	return true
}

func (f *fakeAPI) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if f.fail(w, "initialize") {
		return
	}

	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorDetail{Code: 40000, Message: err.Error()})
		return
	}

	if f.initResponse != nil {
		writeJSON(w, http.StatusOK, f.initResponse)
		return
	}

	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("file-%d", f.nextID)
	f.declared[id] = req.FileSizeBytes
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, FileUpload{
		ID:            id,
		FileSizeBytes: req.FileSizeBytes,
		ChunkSize:     f.chunkSize,
		MimeType:      "application/octet-stream",
	})
}

func (f *fakeAPI) handleChunk(w http.ResponseWriter, r *http.Request) {
	offset, err := strconv.ParseInt(r.Header.Get(uploadOffsetHeader), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorDetail{Code: 40000, Message: "bad offset"})
		return
	}
	if offset == f.failChunkAt && f.fail(w, "chunk") {
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	f.mu.Lock()
	id := r.PathValue("id")
	f.chunks[id] = append(f.chunks[id], fakeChunk{
		offset:      offset,
		data:        data,
		contentType: r.Header.Get("Content-Type"),
	})
	f.mu.Unlock()

	if f.onChunk != nil {
		f.onChunk(offset)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeAPI) handleFinish(w http.ResponseWriter, r *http.Request) {
	if f.fail(w, "finish") {
		return
	}

	id := r.PathValue("id")
	assembled := f.assembled(id)
	writeJSON(w, http.StatusOK, FileUpload{
		ID:            id,
		FileSizeBytes: int64(len(assembled)),
		ChunkSize:     f.chunkSize,
		MimeType:      http.DetectContentType(assembled),
	})
}

func (f *fakeAPI) handleScan(w http.ResponseWriter, r *http.Request) {
	if f.fail(w, "scan") {
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorDetail{Code: 40000, Message: err.Error()})
		return
	}

	id := r.PathValue("id")
	f.mu.Lock()
	f.scans[id] = req
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, ScanFileResponse{ID: id, Message: "scan initiated"})
}

// assembled concatenates the chunks received for id in transmission order.
func (f *fakeAPI) assembled(id string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	var buf bytes.Buffer
	for _, c := range f.chunks[id] {
		buf.Write(c.data)
	}
	return buf.Bytes()
}

func (f *fakeAPI) offsets(id string) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	offsets := []int64{}
	for _, c := range f.chunks[id] {
		offsets = append(offsets, c.offset)
	}
	return offsets
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func sequentialBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func testPolicy() *ScanPolicy {
	rule := NewDetectionRuleBuilder("Card numbers").
		AddNightfallDetector("CREDIT_CARD_NUMBER", "Credit card number", ConfidenceLikely).
		Build()
	return NewScanPolicyBuilder().
		AddDetectionRule(rule).
		WebhookURL("https://example.com/hook").
		Build()
}

func TestUploadSession_Lifecycle(t *testing.T) {
	api := newFakeAPI(t, 5000)
	client := api.client(t)
	data := sequentialBytes(12345)
	ctx := context.Background()

	session := client.NewUploadSession(writeFile(t, data))
	assert.Equal(t, UploadStateUnstarted, session.State())

	upload, err := session.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "file-1", upload.ID)
	assert.Equal(t, int64(5000), session.ChunkSize())
	assert.Equal(t, int64(12345), session.FileSize())
	assert.Equal(t, UploadStateInitialized, session.State())

	require.NoError(t, session.UploadChunks(ctx))
	assert.Equal(t, UploadStateUploaded, session.State())
	assert.Equal(t, []int64{0, 5000, 10000}, api.offsets("file-1"))
	assert.Equal(t, int64(15000), session.Offset())
	assert.Equal(t, data, api.assembled("file-1"))

	finished, err := session.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), finished.FileSizeBytes)
	assert.Equal(t, UploadStateFinished, session.State())

	scan, err := session.Scan(ctx, testPolicy(), "correlation-id")
	require.NoError(t, err)
	assert.Equal(t, "file-1", scan.ID)
	assert.Equal(t, "scan initiated", scan.Message)
	assert.Equal(t, UploadStateScanning, session.State())

	assert.Equal(t, []string{
		"POST /v3/upload",
		"PATCH /v3/upload/file-1",
		"PATCH /v3/upload/file-1",
		"PATCH /v3/upload/file-1",
		"POST /v3/upload/file-1/finish",
		"POST /v3/upload/file-1/scan",
	}, api.callLog())
}

func TestUploadSession_Chunking(t *testing.T) {
	const chunkSize = 5000

	tests := []struct {
		name       string
		size       int
		wantChunks int
	}{
		{name: "empty file", size: 0, wantChunks: 0},
		{name: "single byte", size: 1, wantChunks: 1},
		{name: "just under one chunk", size: chunkSize - 1, wantChunks: 1},
		{name: "exactly one chunk", size: chunkSize, wantChunks: 1},
		{name: "one byte over", size: chunkSize + 1, wantChunks: 2},
		{name: "exact multiple", size: 3 * chunkSize, wantChunks: 3},
		{name: "short final chunk", size: 3*chunkSize + 17, wantChunks: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t, chunkSize)
			client := api.client(t)
			data := sequentialBytes(tt.size)
			ctx := context.Background()

			session := client.NewUploadSession(writeFile(t, data))
			_, err := session.Initialize(ctx)
			require.NoError(t, err)
			require.NoError(t, session.UploadChunks(ctx))

			offsets := api.offsets(session.FileID())
			require.Len(t, offsets, tt.wantChunks)
			for k, offset := range offsets {
				assert.Equal(t, int64(k)*chunkSize, offset, "chunk %d", k)
			}
			assert.True(t, bytes.Equal(data, api.assembled(session.FileID())))
			assert.Equal(t, UploadStateUploaded, session.State())
		})
	}
}

func TestUploadSession_BinaryFidelity(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "pixel.png"))
	require.NoError(t, err)
	require.False(t, utf8.Valid(data), "fixture must not be valid UTF-8")

	// A chunk size that splits multi-byte sequences and the PNG signature.
	api := newFakeAPI(t, 7)
	client := api.client(t)
	ctx := context.Background()

	session := client.NewUploadSession(filepath.Join("testdata", "pixel.png"))
	_, err = session.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, session.UploadChunks(ctx))

	assert.Equal(t, data, api.assembled(session.FileID()))

	api.mu.Lock()
	for _, c := range api.chunks[session.FileID()] {
		assert.Equal(t, "application/octet-stream", c.contentType)
	}
	api.mu.Unlock()

	finished, err := session.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, "image/png", finished.MimeType)
}

func TestUploadSession_OutOfOrder(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		// prepare advances the session before the step under test
		prepare func(t *testing.T, s *UploadSession)
		step    func(s *UploadSession) error
		wantOp  string
	}{
		{
			name:    "upload chunks before initialize",
			prepare: func(t *testing.T, s *UploadSession) {},
			step:    func(s *UploadSession) error { return s.UploadChunks(ctx) },
			wantOp:  "upload chunks",
		},
		{
			name:    "finish before initialize",
			prepare: func(t *testing.T, s *UploadSession) {},
			step: func(s *UploadSession) error {
				_, err := s.Finish(ctx)
				return err
			},
			wantOp: "finish",
		},
		{
			name:    "scan before initialize",
			prepare: func(t *testing.T, s *UploadSession) {},
			step: func(s *UploadSession) error {
				_, err := s.Scan(ctx, testPolicy(), "")
				return err
			},
			wantOp: "scan",
		},
		{
			name: "finish before upload",
			prepare: func(t *testing.T, s *UploadSession) {
				_, err := s.Initialize(ctx)
				require.NoError(t, err)
			},
			step: func(s *UploadSession) error {
				_, err := s.Finish(ctx)
				return err
			},
			wantOp: "finish",
		},
		{
			name: "initialize twice",
			prepare: func(t *testing.T, s *UploadSession) {
				_, err := s.Initialize(ctx)
				require.NoError(t, err)
			},
			step: func(s *UploadSession) error {
				_, err := s.Initialize(ctx)
				return err
			},
			wantOp: "initialize",
		},
		{
			name: "upload chunks twice",
			prepare: func(t *testing.T, s *UploadSession) {
				_, err := s.Initialize(ctx)
				require.NoError(t, err)
				require.NoError(t, s.UploadChunks(ctx))
			},
			step:   func(s *UploadSession) error { return s.UploadChunks(ctx) },
			wantOp: "upload chunks",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t, 4)
			client := api.client(t)
			session := client.NewUploadSession(writeFile(t, []byte("some file contents")))

			tt.prepare(t, session)
			before := len(api.callLog())
			state := session.State()

			err := tt.step(session)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidState)

			var stateErr *StateError
			require.ErrorAs(t, err, &stateErr)
			assert.Equal(t, tt.wantOp, stateErr.Op)

			// Rejected without contacting the service or changing state.
			assert.Len(t, api.callLog(), before)
			assert.Equal(t, state, session.State())
		})
	}
}

func TestUploadSession_LocalFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr error
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.bin") },
			wantErr: os.ErrNotExist,
		},
		{
			name:    "directory",
			path:    func(t *testing.T) string { return t.TempDir() },
			wantErr: ErrNotRegularFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t, 10)
			client := api.client(t)
			session := client.NewUploadSession(tt.path(t))

			_, err := session.Initialize(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var fileErr *FileError
			require.ErrorAs(t, err, &fileErr)
			assert.Equal(t, "stat", fileErr.Op)

			assert.Empty(t, api.callLog())
			assert.Equal(t, UploadStateFailed, session.State())
		})
	}
}

func TestUploadSession_InvalidInitializeResponse(t *testing.T) {
	tests := []struct {
		name     string
		response FileUpload
	}{
		{name: "missing id", response: FileUpload{ChunkSize: 100}},
		{name: "zero chunk size", response: FileUpload{ID: "file-1"}},
		{name: "negative chunk size", response: FileUpload{ID: "file-1", ChunkSize: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t, 0)
			api.initResponse = &tt.response
			client := api.client(t)
			session := client.NewUploadSession(writeFile(t, []byte("data")))

			_, err := session.Initialize(context.Background())
			assert.ErrorIs(t, err, ErrInvalidResponse)
			assert.Equal(t, UploadStateFailed, session.State())

			// A failed session cannot be driven any further.
			err = session.UploadChunks(context.Background())
			assert.ErrorIs(t, err, ErrInvalidState)
			assert.Len(t, api.callLog(), 1)
		})
	}
}

func TestUploadSession_ChunkFailureAborts(t *testing.T) {
	api := newFakeAPI(t, 5000)
	api.failures["chunk"] = fakeFailure{
		status: http.StatusBadRequest,
		body:   `{"code":40009,"message":"Invalid Offset","description":"offset mismatch"}`,
	}
	api.failChunkAt = 5000
	client := api.client(t)
	ctx := context.Background()

	session := client.NewUploadSession(writeFile(t, sequentialBytes(12345)))
	_, err := session.Initialize(ctx)
	require.NoError(t, err)

	err = session.UploadChunks(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset 5000")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 40009, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	// The chunk at 10000 was never sent.
	assert.Equal(t, []string{
		"POST /v3/upload",
		"PATCH /v3/upload/file-1",
		"PATCH /v3/upload/file-1",
	}, api.callLog())
	assert.Equal(t, UploadStateFailed, session.State())

	_, err = session.Finish(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestUploadSession_Cancellation(t *testing.T) {
	t.Run("canceled before upload", func(t *testing.T) {
		api := newFakeAPI(t, 10)
		client := api.client(t)

		session := client.NewUploadSession(writeFile(t, sequentialBytes(100)))
		_, err := session.Initialize(context.Background())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err = session.UploadChunks(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, api.offsets(session.FileID()))
		assert.Equal(t, UploadStateFailed, session.State())
	})

	t.Run("canceled mid upload", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		api := newFakeAPI(t, 10)
		api.onChunk = func(offset int64) {
			if offset == 0 {
				cancel()
			}
		}
		client := api.client(t)

		session := client.NewUploadSession(writeFile(t, sequentialBytes(100)))
		_, err := session.Initialize(context.Background())
		require.NoError(t, err)

		err = session.UploadChunks(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, []int64{0}, api.offsets(session.FileID()))
		assert.Equal(t, UploadStateFailed, session.State())
	})
}

func TestUploadSession_Scan(t *testing.T) {
	ctx := context.Background()

	finished := func(t *testing.T) (*fakeAPI, *UploadSession) {
		api := newFakeAPI(t, 1024)
		client := api.client(t)
		session := client.NewUploadSession(writeFile(t, []byte("4242-4242-4242-4242")))
		_, err := session.Initialize(ctx)
		require.NoError(t, err)
		require.NoError(t, session.UploadChunks(ctx))
		_, err = session.Finish(ctx)
		require.NoError(t, err)
		return api, session
	}

	t.Run("sends policy and metadata unmodified", func(t *testing.T) {
		api, session := finished(t)
		policy := testPolicy()
		policy.DetectionRuleUUIDs = []string{"c08c6c2e-1a2b-4a41-8e25-1f1c0b5c7a11"}

		_, err := session.Scan(ctx, policy, `{"ticket":"T-1"}`)
		require.NoError(t, err)

		api.mu.Lock()
		got := api.scans[session.FileID()]
		api.mu.Unlock()
		assert.Equal(t, policy, got.Policy)
		assert.Equal(t, `{"ticket":"T-1"}`, got.RequestMetadata)
	})

	t.Run("nil policy", func(t *testing.T) {
		api, session := finished(t)
		before := len(api.callLog())

		_, err := session.Scan(ctx, nil, "")
		assert.ErrorIs(t, err, ErrPolicyRequired)
		assert.Len(t, api.callLog(), before)
		assert.Equal(t, UploadStateFinished, session.State())
	})

	t.Run("metadata too large", func(t *testing.T) {
		api, session := finished(t)
		before := len(api.callLog())

		_, err := session.Scan(ctx, testPolicy(), string(make([]byte, MaxRequestMetadataBytes+1)))
		assert.ErrorIs(t, err, ErrRequestMetadataTooLarge)
		assert.Len(t, api.callLog(), before)
		assert.Equal(t, UploadStateFinished, session.State())
	})

	t.Run("metadata at limit", func(t *testing.T) {
		_, session := finished(t)

		_, err := session.Scan(ctx, testPolicy(), string(bytes.Repeat([]byte("a"), MaxRequestMetadataBytes)))
		assert.NoError(t, err)
	})

	t.Run("rejected by service", func(t *testing.T) {
		api, session := finished(t)
		api.mu.Lock()
		api.failures["scan"] = fakeFailure{
			status: http.StatusUnprocessableEntity,
			body:   `{"code":42200,"message":"Unprocessable Entity","description":"policy has no detection rules"}`,
		}
		api.mu.Unlock()

		_, err := session.Scan(ctx, testPolicy(), "")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "policy has no detection rules", apiErr.Description)
		assert.Equal(t, UploadStateFailed, session.State())
	})
}

func TestUploadSession_RequestHeaders(t *testing.T) {
	api := newFakeAPI(t, 8)
	client := api.client(t)
	ctx := context.Background()

	session := client.NewUploadSession(writeFile(t, []byte("0123456789")))
	_, err := session.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, session.UploadChunks(ctx))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.headers, 3)
	for _, h := range api.headers {
		assert.Equal(t, "Bearer "+testAPIKey, h.Get("Authorization"))
		assert.Equal(t, defaultUserAgent, h.Get("User-Agent"))
	}
	assert.Equal(t, "application/json", api.headers[0].Get("Content-Type"))
	assert.Equal(t, "0", api.headers[1].Get(uploadOffsetHeader))
	assert.Equal(t, "8", api.headers[2].Get(uploadOffsetHeader))
}

func TestUploadState_String(t *testing.T) {
	tests := []struct {
		state UploadState
		want  string
	}{
		{UploadStateUnstarted, "unstarted"},
		{UploadStateInitialized, "initialized"},
		{UploadStateUploaded, "uploaded"},
		{UploadStateFinished, "finished"},
		{UploadStateScanning, "scanning"},
		{UploadStateFailed, "failed"},
		{UploadState(42), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestStateError(t *testing.T) {
	err := &StateError{Op: "finish", State: UploadStateInitialized, Want: UploadStateUploaded}
	assert.Equal(t, "cannot finish: upload session is initialized, want uploaded", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidState))
}
