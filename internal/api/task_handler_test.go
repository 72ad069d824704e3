package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/pantry-api/internal/api/shared"
	"github.com/phrazzld/pantry-api/internal/domain"
	"github.com/phrazzld/pantry-api/internal/service"
	"github.com/phrazzld/pantry-api/internal/store"
	"github.com/phrazzld/pantry-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSubmitter is a func-field mock of TaskSubmitter.
type mockSubmitter struct {
	SubmitSelectionFn func(ctx context.Context, userID string, ids []string) ([]*domain.ProcessingTask, error)
	calls             int
}

func (m *mockSubmitter) SubmitSelection(
	ctx context.Context,
	userID string,
	ids []string,
) ([]*domain.ProcessingTask, error) {
	m.calls++
	if m.SubmitSelectionFn != nil {
		return m.SubmitSelectionFn(ctx, userID, ids)
	}
	return nil, nil
}

// mockStatusService is a func-field mock of service.TaskStatusService.
type mockStatusService struct {
	ListTasksFn  func(ctx context.Context, userID string) (*service.TaskList, error)
	GetTaskFn    func(ctx context.Context, userID string, taskID uuid.UUID) (*domain.ProcessingTask, error)
	ClearTasksFn func(ctx context.Context, userID string) (int, error)
}

func (m *mockStatusService) ListTasks(ctx context.Context, userID string) (*service.TaskList, error) {
	if m.ListTasksFn != nil {
		return m.ListTasksFn(ctx, userID)
	}
	return &service.TaskList{}, nil
}

func (m *mockStatusService) GetTask(
	ctx context.Context,
	userID string,
	taskID uuid.UUID,
) (*domain.ProcessingTask, error) {
	if m.GetTaskFn != nil {
		return m.GetTaskFn(ctx, userID, taskID)
	}
	return nil, service.ErrTaskNotFound
}

func (m *mockStatusService) ClearTasks(ctx context.Context, userID string) (int, error) {
	if m.ClearTasksFn != nil {
		return m.ClearTasksFn(ctx, userID)
	}
	return 0, nil
}

var fixedTime = time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func carrot() domain.Ingredient {
	return domain.Ingredient{ID: "carrot", Name: "Carrot", ProcessingTimeSeconds: 2}
}

func newTask(t *testing.T, userID string) *domain.ProcessingTask {
	t.Helper()
	pt, err := domain.NewProcessingTask(userID, carrot(), 3, fixedTime)
	require.NoError(t, err)
	return pt
}

func newTestRouter(t *testing.T, submitter TaskSubmitter, status service.TaskStatusService) http.Handler {
	t.Helper()
	h, err := NewTaskHandler(submitter, status, testLogger())
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Post("/api/tasks", h.SubmitTasks)
	r.Get("/api/tasks", h.ListTasks)
	r.Get("/api/tasks/{id}", h.GetTask)
	r.Delete("/api/tasks", h.ClearTasks)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req = req.WithContext(shared.WithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp shared.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestNewTaskHandler(t *testing.T) {
	t.Parallel()

	_, err := NewTaskHandler(nil, &mockStatusService{}, nil)
	assert.Error(t, err)
	_, err = NewTaskHandler(&mockSubmitter{}, nil, nil)
	assert.Error(t, err)
	h, err := NewTaskHandler(&mockSubmitter{}, &mockStatusService{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestTaskHandler_SubmitTasks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		userID         string
		body           interface{}
		submitErr      error
		expectedStatus int
		expectedErrMsg string
		expectCall     bool
	}{
		{
			name:           "accepted",
			userID:         "user-1",
			body:           SubmitTasksRequest{IngredientIDs: []string{"carrot"}},
			expectedStatus: http.StatusAccepted,
			expectCall:     true,
		},
		{
			name:           "missing user",
			body:           SubmitTasksRequest{IngredientIDs: []string{"carrot"}},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "malformed json",
			userID:         "user-1",
			body:           `{"ingredient_ids": [`,
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "Invalid request format",
		},
		{
			name:           "empty selection",
			userID:         "user-1",
			body:           SubmitTasksRequest{IngredientIDs: []string{}},
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "Invalid ingredient_ids: too few items",
		},
		{
			name:           "missing field",
			userID:         "user-1",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "Invalid ingredient_ids: required field",
		},
		{
			name:   "too many ids",
			userID: "user-1",
			body: SubmitTasksRequest{IngredientIDs: []string{
				"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k",
			}},
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "Invalid ingredient_ids: too many items",
		},
		{
			name:           "duplicate ids",
			userID:         "user-1",
			body:           SubmitTasksRequest{IngredientIDs: []string{"carrot", "carrot"}},
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "Invalid ingredient_ids: duplicate values",
		},
		{
			name:           "selection rejected by producer",
			userID:         "user-1",
			body:           SubmitTasksRequest{IngredientIDs: []string{" "}},
			submitErr:      task.ErrInvalidSelection,
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "Invalid ingredient selection",
			expectCall:     true,
		},
		{
			name:           "store failure",
			userID:         "user-1",
			body:           SubmitTasksRequest{IngredientIDs: []string{"carrot"}},
			submitErr:      errors.New("connection reset by peer"),
			expectedStatus: http.StatusInternalServerError,
			expectedErrMsg: "Failed to submit tasks",
			expectCall:     true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			submitter := &mockSubmitter{
				SubmitSelectionFn: func(_ context.Context, userID string, ids []string) ([]*domain.ProcessingTask, error) {
					if tc.submitErr != nil {
						return nil, tc.submitErr
					}
					tasks := make([]*domain.ProcessingTask, 0, len(ids))
					for range ids {
						tasks = append(tasks, newTask(t, userID))
					}
					return tasks, nil
				},
			}
			router := newTestRouter(t, submitter, &mockStatusService{})

			rec := doRequest(t, router, http.MethodPost, "/api/tasks", tc.userID, tc.body)

			assert.Equal(t, tc.expectedStatus, rec.Code)
			assert.Equal(t, tc.expectCall, submitter.calls == 1)
			if tc.expectedErrMsg != "" {
				assert.Equal(t, tc.expectedErrMsg, decodeError(t, rec))
				assert.NotContains(t, rec.Body.String(), "connection reset")
			}
			if tc.expectedStatus == http.StatusAccepted {
				var resp SubmitTasksResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				require.Len(t, resp.Tasks, 1)
				assert.Equal(t, "user-1", resp.Tasks[0].UserID)
				assert.Equal(t, "pending", resp.Tasks[0].Status)
				assert.Equal(t, 0, resp.Tasks[0].Progress)
				assert.Equal(t, "carrot", resp.Tasks[0].Ingredient.ID)
			}
		})
	}
}

func TestTaskHandler_SubmitTasks_AllUnknown(t *testing.T) {
	t.Parallel()

	submitter := &mockSubmitter{
		SubmitSelectionFn: func(context.Context, string, []string) ([]*domain.ProcessingTask, error) {
			return []*domain.ProcessingTask{}, nil
		},
	}
	router := newTestRouter(t, submitter, &mockStatusService{})

	rec := doRequest(t, router, http.MethodPost, "/api/tasks", "user-1",
		SubmitTasksRequest{IngredientIDs: []string{"durian"}})

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"tasks":[]}`, rec.Body.String())
}

func TestTaskHandler_ListTasks(t *testing.T) {
	t.Parallel()

	t.Run("returns tasks and counts", func(t *testing.T) {
		t.Parallel()
		pending := newTask(t, "user-1")
		done := newTask(t, "user-1")
		require.NoError(t, done.Start(fixedTime, time.Second))
		require.NoError(t, done.Complete(fixedTime.Add(time.Second)))

		status := &mockStatusService{
			ListTasksFn: func(_ context.Context, userID string) (*service.TaskList, error) {
				assert.Equal(t, "user-1", userID)
				list := &service.TaskList{Tasks: []*domain.ProcessingTask{done, pending}}
				list.Counts.Add(done.Status)
				list.Counts.Add(pending.Status)
				return list, nil
			},
		}
		router := newTestRouter(t, &mockSubmitter{}, status)

		rec := doRequest(t, router, http.MethodGet, "/api/tasks", "user-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp TaskListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Tasks, 2)
		assert.Equal(t, done.ID.String(), resp.Tasks[0].ID)
		assert.Equal(t, 100, resp.Tasks[0].Progress)
		assert.NotNil(t, resp.Tasks[0].EndTime)
		assert.Equal(t, service.TaskCounts{Total: 2, Pending: 1, Completed: 1}, resp.Counts)
	})

	t.Run("empty list serializes as array", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(t, &mockSubmitter{}, &mockStatusService{})

		rec := doRequest(t, router, http.MethodGet, "/api/tasks", "user-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t,
			`{"tasks":[],"counts":{"total":0,"pending":0,"processing":0,"completed":0,"failed":0}}`,
			rec.Body.String())
	})

	t.Run("service failure", func(t *testing.T) {
		t.Parallel()
		status := &mockStatusService{
			ListTasksFn: func(context.Context, string) (*service.TaskList, error) {
				return nil, errors.New("kv unavailable")
			},
		}
		router := newTestRouter(t, &mockSubmitter{}, status)

		rec := doRequest(t, router, http.MethodGet, "/api/tasks", "user-1", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Failed to list tasks", decodeError(t, rec))
	})
}

func TestTaskHandler_GetTask(t *testing.T) {
	t.Parallel()

	owned := newTask(t, "user-1")

	tests := []struct {
		name           string
		path           string
		userID         string
		getErr         error
		expectedStatus int
		expectedErrMsg string
	}{
		{
			name:           "found",
			path:           "/api/tasks/" + owned.ID.String(),
			userID:         "user-1",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid id",
			path:           "/api/tasks/not-a-uuid",
			userID:         "user-1",
			expectedStatus: http.StatusBadRequest,
			expectedErrMsg: "Invalid task ID",
		},
		{
			name:           "not found",
			path:           "/api/tasks/" + uuid.NewString(),
			userID:         "user-1",
			getErr:         service.ErrTaskNotFound,
			expectedStatus: http.StatusNotFound,
			expectedErrMsg: "Task not found",
		},
		{
			name:           "owned by another user",
			path:           "/api/tasks/" + owned.ID.String(),
			userID:         "user-2",
			getErr:         service.ErrNotOwned,
			expectedStatus: http.StatusForbidden,
			expectedErrMsg: "You do not own this task",
		},
		{
			name:           "unexpected failure",
			path:           "/api/tasks/" + owned.ID.String(),
			userID:         "user-1",
			getErr:         errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedErrMsg: "Failed to get task",
		},
		{
			name:           "missing user",
			path:           "/api/tasks/" + owned.ID.String(),
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status := &mockStatusService{
				GetTaskFn: func(_ context.Context, _ string, taskID uuid.UUID) (*domain.ProcessingTask, error) {
					if tc.getErr != nil {
						return nil, tc.getErr
					}
					assert.Equal(t, owned.ID, taskID)
					return owned, nil
				},
			}
			router := newTestRouter(t, &mockSubmitter{}, status)

			rec := doRequest(t, router, http.MethodGet, tc.path, tc.userID, nil)

			assert.Equal(t, tc.expectedStatus, rec.Code)
			if tc.expectedErrMsg != "" {
				assert.Equal(t, tc.expectedErrMsg, decodeError(t, rec))
			}
			if tc.expectedStatus == http.StatusOK {
				var resp TaskResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, owned.ID.String(), resp.ID)
				assert.Equal(t, 3, resp.MaxRetries)
			}
		})
	}
}

func TestTaskHandler_ClearTasks(t *testing.T) {
	t.Parallel()

	status := &mockStatusService{
		ClearTasksFn: func(_ context.Context, userID string) (int, error) {
			assert.Equal(t, "user-1", userID)
			return 3, nil
		},
	}
	router := newTestRouter(t, &mockSubmitter{}, status)

	rec := doRequest(t, router, http.MethodDelete, "/api/tasks", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":3}`, rec.Body.String())

	status.ClearTasksFn = func(context.Context, string) (int, error) {
		return 0, errors.New("kv unavailable")
	}
	rec = doRequest(t, router, http.MethodDelete, "/api/tasks", "user-1", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		status int
	}{
		{service.ErrNotOwned, http.StatusForbidden},
		{service.ErrTaskNotFound, http.StatusNotFound},
		{store.ErrTaskNotFound, http.StatusNotFound},
		{task.ErrInvalidSelection, http.StatusBadRequest},
		{domain.ErrValidation, http.StatusBadRequest},
		{domain.ErrInvalidID, http.StatusBadRequest},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.status, MapErrorToStatusCode(tc.err), tc.err.Error())
	}

	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(errors.New("pq: secret detail")))
}

func TestSanitizeValidationError(t *testing.T) {
	t.Parallel()

	err := shared.ValidateRequest(&SubmitTasksRequest{IngredientIDs: []string{"a", ""}})
	require.Error(t, err)
	assert.Equal(t, "Invalid ingredient_ids[1]: required field", SanitizeValidationError(err))

	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("plain")))
	assert.Equal(t, "ingredient_ids", toSnakeCase("IngredientIDs"))
}
