package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	bulkdomain "github.com/waservices/gateway/internal/bulk/domain"
)

type MockBulkJobService struct {
	mock.Mock
}

func (m *MockBulkJobService) CreateJob(ctx context.Context, deviceID string, jobType bulkdomain.JobType, items []bulkdomain.JobItem, options bulkdomain.JobOptions) (*bulkdomain.Job, error) {
	args := m.Called(ctx, deviceID, jobType, items, options)
	if job, ok := args.Get(0).(*bulkdomain.Job); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBulkJobService) GetJob(id uuid.UUID) (*bulkdomain.Job, error) {
	args := m.Called(id)
	if job, ok := args.Get(0).(*bulkdomain.Job); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBulkJobService) ListJobs() []*bulkdomain.Job {
	args := m.Called()
	return args.Get(0).([]*bulkdomain.Job)
}

func (m *MockBulkJobService) CancelJob(ctx context.Context, id uuid.UUID) (*bulkdomain.Job, error) {
	args := m.Called(ctx, id)
	if job, ok := args.Get(0).(*bulkdomain.Job); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBulkJobService) PauseJob(ctx context.Context, id uuid.UUID) (*bulkdomain.Job, error) {
	args := m.Called(ctx, id)
	if job, ok := args.Get(0).(*bulkdomain.Job); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBulkJobService) ResumeJob(ctx context.Context, id uuid.UUID) (*bulkdomain.Job, error) {
	args := m.Called(ctx, id)
	if job, ok := args.Get(0).(*bulkdomain.Job); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBulkJobService) RetryJob(ctx context.Context, id uuid.UUID) (*bulkdomain.Job, error) {
	args := m.Called(ctx, id)
	if job, ok := args.Get(0).(*bulkdomain.Job); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func newBulkJobTestRouter(mockService *MockBulkJobService) *chi.Mux {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	handler := NewBulkJobHandler(mockService, logger, validator.New(), 2*time.Second)
	router := chi.NewRouter()
	router.Route("/bulk-jobs", handler.RegisterRoutes)
	return router
}

func sampleJob(status bulkdomain.JobStatus) *bulkdomain.Job {
	now := time.Now().UTC()
	return &bulkdomain.Job{
		ID:       uuid.New(),
		DeviceID: "dev-1",
		Type:     bulkdomain.JobTypeSendText,
		Status:   status,
		Items: []bulkdomain.JobItem{
			{Target: "111", Message: "hi"},
			{Target: "222", Message: "hi"},
		},
		Progress:  bulkdomain.Progress{Total: 2},
		CreatedAt: now,
	}
}

func TestBulkJobHandler_CreateBulkJob_Success(t *testing.T) {
	mockService := new(MockBulkJobService)
	router := newBulkJobTestRouter(mockService)

	job := sampleJob(bulkdomain.StatusProcessing)
	mockService.On("CreateJob", mock.Anything, "dev-1", bulkdomain.JobTypeSendText,
		mock.AnythingOfType("[]domain.JobItem"), mock.AnythingOfType("domain.JobOptions")).
		Return(job, nil).Once()

	body := `{
		"device_id": "dev-1",
		"type": "send-text",
		"items": [
			{"target": "111", "message": "hi"},
			{"target": "222", "message": "hi"}
		],
		"options": {"delay_seconds": 5}
	}`
	req := httptest.NewRequest(http.MethodPost, "/bulk-jobs/", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	var respDTO CreateBulkJobResponseDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &respDTO))
	assert.Equal(t, job.ID.String(), respDTO.JobID)
	assert.Equal(t, "processing", respDTO.Status)
	assert.Equal(t, 2, respDTO.Total)

	// Explicit delay_seconds overrides the configured default.
	createdOptions := mockService.Calls[0].Arguments.Get(4).(bulkdomain.JobOptions)
	assert.Equal(t, 5*time.Second, createdOptions.Delay)
	assert.True(t, createdOptions.AutoStart, "auto_start defaults to true when omitted")
	mockService.AssertExpectations(t)
}

func TestBulkJobHandler_CreateBulkJob_DefaultsApplied(t *testing.T) {
	mockService := new(MockBulkJobService)
	router := newBulkJobTestRouter(mockService)

	mockService.On("CreateJob", mock.Anything, "dev-1", bulkdomain.JobTypeSendText,
		mock.AnythingOfType("[]domain.JobItem"), mock.AnythingOfType("domain.JobOptions")).
		Return(sampleJob(bulkdomain.StatusQueued), nil).Once()

	body := `{
		"device_id": "dev-1",
		"type": "send-text",
		"items": [{"target": "111", "message": "hi"}],
		"options": {"auto_start": false}
	}`
	req := httptest.NewRequest(http.MethodPost, "/bulk-jobs/", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	createdOptions := mockService.Calls[0].Arguments.Get(4).(bulkdomain.JobOptions)
	assert.Equal(t, 2*time.Second, createdOptions.Delay, "configured default delay applies when omitted")
	assert.False(t, createdOptions.AutoStart)
}

func TestBulkJobHandler_CreateBulkJob_ValidationFailure(t *testing.T) {
	mockService := new(MockBulkJobService)
	router := newBulkJobTestRouter(mockService)

	// Unknown job type and empty items both violate the request schema.
	body := `{"device_id": "dev-1", "type": "send-fax", "items": []}`
	req := httptest.NewRequest(http.MethodPost, "/bulk-jobs/", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	mockService.AssertNotCalled(t, "CreateJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBulkJobHandler_CreateBulkJob_BatchTooLarge(t *testing.T) {
	mockService := new(MockBulkJobService)
	router := newBulkJobTestRouter(mockService)

	mockService.On("CreateJob", mock.Anything, "dev-1", bulkdomain.JobTypeSendText,
		mock.AnythingOfType("[]domain.JobItem"), mock.AnythingOfType("domain.JobOptions")).
		Return(nil, bulkdomain.ErrBatchTooLarge).Once()

	body := `{"device_id": "dev-1", "type": "send-text", "items": [{"target": "111", "message": "hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/bulk-jobs/", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "batch exceeds maximum size")
}

func TestBulkJobHandler_GetBulkJob_Success(t *testing.T) {
	mockService := new(MockBulkJobService)
	router := newBulkJobTestRouter(mockService)

	job := sampleJob(bulkdomain.StatusCompleted)
	job.Results = []bulkdomain.ItemResult{
		{Target: "111", Outcome: bulkdomain.OutcomeSuccess, Detail: "msg-1"},
		{Target: "222", Outcome: bulkdomain.OutcomeError, Detail: "unreachable"},
	}
	job.Progress = bulkdomain.Progress{Total: 2, Completed: 1, Failed: 1}
	mockService.On("GetJob", job.ID).Return(job, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/bulk-jobs/"+job.ID.String(), nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var respDTO BulkJobDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &respDTO))
	assert.Equal(t, job.ID.String(), respDTO.ID)
	assert.Equal(t, "completed", respDTO.Status)
	require.Len(t, respDTO.Results, 2)
	assert.Equal(t, "error", respDTO.Results[1].Outcome)
	assert.Equal(t, "unreachable", respDTO.Results[1].Detail)
}

func TestBulkJobHandler_GetBulkJob_NotFound(t *testing.T) {
	mockService := new(MockBulkJobService)
	router := newBulkJobTestRouter(mockService)

	id := uuid.New()
	mockService.On("GetJob", id).Return(nil, bulkdomain.ErrNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/bulk-jobs/"+id.String(), nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBulkJobHandler_GetBulkJob_MalformedID(t *testing.T) {
	mockService := new(MockBulkJobService)
	router := newBulkJobTestRouter(mockService)

	req := httptest.NewRequest(http.MethodGet, "/bulk-jobs/not-a-uuid", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	mockService.AssertNotCalled(t, "GetJob", mock.Anything)
}

func TestBulkJobHandler_ListBulkJobs(t *testing.T) {
	mockService := new(MockBulkJobService)
	router := newBulkJobTestRouter(mockService)

	mockService.On("ListJobs").Return([]*bulkdomain.Job{
		sampleJob(bulkdomain.StatusProcessing),
		sampleJob(bulkdomain.StatusCompleted),
	}).Once()

	req := httptest.NewRequest(http.MethodGet, "/bulk-jobs/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var respDTO ListBulkJobsResponseDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &respDTO))
	assert.Equal(t, 2, respDTO.TotalCount)
	assert.Len(t, respDTO.Jobs, 2)
}

func TestBulkJobHandler_PauseBulkJob_Conflict(t *testing.T) {
	mockService := new(MockBulkJobService)
	router := newBulkJobTestRouter(mockService)

	id := uuid.New()
	mockService.On("PauseJob", mock.Anything, id).Return(nil, bulkdomain.ErrInvalidTransition).Once()

	req := httptest.NewRequest(http.MethodPost, "/bulk-jobs/"+id.String()+"/pause", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestBulkJobHandler_CancelBulkJob_Success(t *testing.T) {
	mockService := new(MockBulkJobService)
	router := newBulkJobTestRouter(mockService)

	job := sampleJob(bulkdomain.StatusCancelled)
	mockService.On("CancelJob", mock.Anything, job.ID).Return(job, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/bulk-jobs/"+job.ID.String()+"/cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var respDTO BulkJobDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &respDTO))
	assert.Equal(t, "cancelled", respDTO.Status)
}

func TestBulkJobHandler_ResumeBulkJob_Success(t *testing.T) {
	mockService := new(MockBulkJobService)
	router := newBulkJobTestRouter(mockService)

	job := sampleJob(bulkdomain.StatusProcessing)
	mockService.On("ResumeJob", mock.Anything, job.ID).Return(job, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/bulk-jobs/"+job.ID.String()+"/resume", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	mockService.AssertExpectations(t)
}

func TestBulkJobHandler_RetryBulkJob_Success(t *testing.T) {
	mockService := new(MockBulkJobService)
	router := newBulkJobTestRouter(mockService)

	origID := uuid.New()
	retry := sampleJob(bulkdomain.StatusProcessing)
	mockService.On("RetryJob", mock.Anything, origID).Return(retry, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/bulk-jobs/"+origID.String()+"/retry", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	var respDTO CreateBulkJobResponseDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &respDTO))
	assert.Equal(t, retry.ID.String(), respDTO.JobID)
	assert.NotEqual(t, origID.String(), respDTO.JobID)
}

func TestBulkJobHandler_RetryBulkJob_NothingToRetry(t *testing.T) {
	mockService := new(MockBulkJobService)
	router := newBulkJobTestRouter(mockService)

	id := uuid.New()
	mockService.On("RetryJob", mock.Anything, id).Return(nil, bulkdomain.ErrNothingToRetry).Once()

	req := httptest.NewRequest(http.MethodPost, "/bulk-jobs/"+id.String()+"/retry", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
}
