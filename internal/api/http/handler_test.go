package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/segment-uploader/internal/domain"
	errpkg "github.com/veranemoloko/segment-uploader/internal/errors"
	"github.com/veranemoloko/segment-uploader/internal/lifecycle"
)

type mockUploadService struct {
	mock.Mock
}

func (m *mockUploadService) Enqueue(req domain.EnqueueRequest) (domain.Task, error) {
	args := m.Called(req)
	return args.Get(0).(domain.Task), args.Error(1)
}

func (m *mockUploadService) Cancel(segmentID string) error {
	return m.Called(segmentID).Error(0)
}

func (m *mockUploadService) CancelGroup(groupID string) int {
	return m.Called(groupID).Int(0)
}

func (m *mockUploadService) CancelAll() int {
	return m.Called().Int(0)
}

func (m *mockUploadService) Retry(segmentID string) error {
	return m.Called(segmentID).Error(0)
}

func (m *mockUploadService) RetryAllFailed() int {
	return m.Called().Int(0)
}

func (m *mockUploadService) ClearCompleted() int {
	return m.Called().Int(0)
}

func (m *mockUploadService) ClearGroup(groupID string) int {
	return m.Called(groupID).Int(0)
}

func (m *mockUploadService) Status(segmentID string) (domain.Task, bool) {
	args := m.Called(segmentID)
	return args.Get(0).(domain.Task), args.Bool(1)
}

func (m *mockUploadService) TasksForGroup(groupID string) []domain.Task {
	return m.Called(groupID).Get(0).([]domain.Task)
}

func (m *mockUploadService) OverallProgress() float64 {
	return m.Called().Get(0).(float64)
}

func (m *mockUploadService) IsBusy() bool {
	return m.Called().Bool(0)
}

type recordingLifecycle struct {
	mu     sync.Mutex
	events []lifecycle.Event
}

func (r *recordingLifecycle) Handle(event lifecycle.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingLifecycle) seen() []lifecycle.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lifecycle.Event(nil), r.events...)
}

func newTestServer(t *testing.T) (*mockUploadService, *recordingLifecycle, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	svc := &mockUploadService{}
	lc := &recordingLifecycle{}
	server := httptest.NewServer(NewRouter(svc, lc, logger))
	t.Cleanup(server.Close)
	return svc, lc, server
}

func do(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func sampleTask(segmentID string, status domain.TaskStatus) domain.Task {
	return domain.Task{
		ID:        "id-" + segmentID,
		GroupID:   "g1",
		SegmentID: segmentID,
		OwnerID:   "u1",
		Status:    status,
		CreatedAt: time.Now(),
	}
}

func TestUploadHandler_Enqueue(t *testing.T) {
	svc, _, server := newTestServer(t)

	payload := filepath.Join(t.TempDir(), "seg.mp4")
	require.NoError(t, os.WriteFile(payload, []byte("video"), 0644))
	req := domain.EnqueueRequest{GroupID: "g1", SegmentID: "s1", OwnerID: "u1", LocalPayloadPath: payload}

	svc.On("Enqueue", req).Return(sampleTask("s1", domain.TaskStatusActive), nil).Once()

	resp := do(t, http.MethodPost, server.URL+"/uploads", req)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var data domain.TaskResponse
	decode(t, resp, &data)
	assert.Equal(t, "id-s1", data.ID)
	assert.Equal(t, domain.TaskStatusActive, data.Status)
	svc.AssertExpectations(t)
}

func TestUploadHandler_EnqueueInvalid(t *testing.T) {
	svc, _, server := newTestServer(t)

	bad := domain.EnqueueRequest{
		GroupID:          "g1",
		SegmentID:        "a/b",
		OwnerID:          "u1",
		LocalPayloadPath: "/does/not/exist.mp4",
	}
	svc.On("Enqueue", bad).Return(domain.Task{}, fmt.Errorf("%w: segment_id", errpkg.ErrInvalidRequest)).Once()

	resp := do(t, http.MethodPost, server.URL+"/uploads", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	svc.AssertExpectations(t)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/uploads", bytes.NewBufferString("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	svc.AssertNumberOfCalls(t, "Enqueue", 1)
}

func TestUploadHandler_EnqueueDuplicate(t *testing.T) {
	svc, _, server := newTestServer(t)

	payload := filepath.Join(t.TempDir(), "seg.mp4")
	require.NoError(t, os.WriteFile(payload, []byte("video"), 0644))
	req := domain.EnqueueRequest{GroupID: "g1", SegmentID: "s1", OwnerID: "u1", LocalPayloadPath: payload}

	svc.On("Enqueue", req).Return(domain.Task{}, fmt.Errorf("%w: s1", errpkg.ErrDuplicateSegment)).Once()

	resp := do(t, http.MethodPost, server.URL+"/uploads", req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUploadHandler_GetUpload(t *testing.T) {
	svc, _, server := newTestServer(t)
	svc.On("Status", "s1").Return(sampleTask("s1", domain.TaskStatusQueued), true)
	svc.On("Status", "nope").Return(domain.Task{}, false)

	resp := do(t, http.MethodGet, server.URL+"/uploads/s1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var data domain.TaskResponse
	decode(t, resp, &data)
	assert.Equal(t, "s1", data.SegmentID)

	resp = do(t, http.MethodGet, server.URL+"/uploads/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadHandler_CancelAndRetry(t *testing.T) {
	svc, _, server := newTestServer(t)
	svc.On("Cancel", "s1").Return(nil).Once()
	svc.On("Cancel", "missing").Return(fmt.Errorf("%w: missing", errpkg.ErrTaskNotFound)).Once()
	svc.On("Retry", "s1").Return(fmt.Errorf("%w: s1 is active", errpkg.ErrNotRetryable)).Once()
	svc.On("Status", "s1").Return(sampleTask("s1", domain.TaskStatusCancelled), true)

	resp := do(t, http.MethodDelete, server.URL+"/uploads/s1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var data domain.TaskResponse
	decode(t, resp, &data)
	assert.Equal(t, domain.TaskStatusCancelled, data.Status)

	resp = do(t, http.MethodDelete, server.URL+"/uploads/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, server.URL+"/uploads/s1/retry", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	svc.AssertExpectations(t)
}

func TestUploadHandler_BulkOperations(t *testing.T) {
	svc, _, server := newTestServer(t)
	svc.On("RetryAllFailed").Return(2).Once()
	svc.On("CancelAll").Return(3).Once()
	svc.On("ClearCompleted").Return(4).Once()
	svc.On("CancelGroup", "g1").Return(5).Once()
	svc.On("ClearGroup", "g1").Return(6).Once()

	tests := []struct {
		method string
		path   string
		key    string
		want   int
	}{
		{http.MethodPost, "/uploads/retry-failed", "requeued", 2},
		{http.MethodPost, "/uploads/cancel-all", "cancelled", 3},
		{http.MethodDelete, "/uploads/completed", "removed", 4},
		{http.MethodPost, "/groups/g1/cancel", "cancelled", 5},
		{http.MethodDelete, "/groups/g1", "removed", 6},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := do(t, tt.method, server.URL+tt.path, nil)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			var data map[string]int
			decode(t, resp, &data)
			assert.Equal(t, tt.want, data[tt.key])
		})
	}
	svc.AssertExpectations(t)
}

func TestUploadHandler_ListGroupAndProgress(t *testing.T) {
	svc, _, server := newTestServer(t)
	svc.On("TasksForGroup", "g1").Return([]domain.Task{
		sampleTask("s1", domain.TaskStatusActive),
		sampleTask("s2", domain.TaskStatusQueued),
	})
	svc.On("TasksForGroup", "empty").Return([]domain.Task{})
	svc.On("OverallProgress").Return(0.25)
	svc.On("IsBusy").Return(true)

	resp := do(t, http.MethodGet, server.URL+"/groups/g1/uploads", nil)
	var list []domain.TaskResponse
	decode(t, resp, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "s2", list[1].SegmentID)

	resp = do(t, http.MethodGet, server.URL+"/groups/empty/uploads", nil)
	var empty []domain.TaskResponse
	decode(t, resp, &empty)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	resp = do(t, http.MethodGet, server.URL+"/progress", nil)
	var progress domain.ProgressResponse
	decode(t, resp, &progress)
	assert.Equal(t, 0.25, progress.OverallProgress)
	assert.True(t, progress.Busy)
}

func TestUploadHandler_Lifecycle(t *testing.T) {
	_, lc, server := newTestServer(t)

	resp := do(t, http.MethodPost, server.URL+"/lifecycle/background", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, http.MethodPost, server.URL+"/lifecycle/network-lost", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, http.MethodPost, server.URL+"/lifecycle/nap", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, []lifecycle.Event{lifecycle.EventBackground, lifecycle.EventNetworkLost}, lc.seen())
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	_, _, server := newTestServer(t)

	resp := do(t, http.MethodGet, server.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, server.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
