package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"vaultsync-backend/lib/catalog"
	"vaultsync-backend/lib/timezone"
	"vaultsync-backend/services/mirror"

	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	result  mirror.TaskResult
	err     error
	status  mirror.Status
	last    mirror.TaskResult
	lastErr error
	cancel  bool
	gotDate string
}

func (f *fakeRunner) ExecuteTask(ctx context.Context, targetDate string) (mirror.TaskResult, error) {
	f.gotDate = targetDate
	if f.err != nil {
		return mirror.TaskResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeRunner) CancelTask() bool {
	return f.cancel
}

func (f *fakeRunner) Status() mirror.Status {
	return f.status
}

func (f *fakeRunner) LastResults(ctx context.Context) (mirror.TaskResult, error) {
	if f.lastErr != nil {
		return mirror.TaskResult{}, f.lastErr
	}
	return f.last, nil
}

func serve(t *testing.T, runner TaskRunner, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	NewRouter(runner, t.TempDir()).ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func TestExecuteTask(t *testing.T) {
	runner := &fakeRunner{
		result: mirror.TaskResult{
			RunID:        "run-1",
			Date:         "2026-08-12",
			TotalEntries: 3,
			Successful: []catalog.Entry{
				{ID: "101", Slug: "plugin-x-download"},
				{ID: "103", Slug: "acme-sync-download"},
			},
			Failed: []catalog.Entry{
				{ID: "104", Slug: "tool-download", Error: "unexpected http status 404"},
			},
		},
	}

	w := serve(t, runner, http.MethodPost, "/api/task", map[string]string{"date": "2026-08-12"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "2026-08-12", runner.gotDate)

	result := decode[mirror.TaskResult](t, w)
	require.Equal(t, "run-1", result.RunID)
	require.Len(t, result.Successful, 2)
	require.Equal(t, "unexpected http status 404", result.Failed[0].Error)
}

func TestExecuteTaskDefaultsToToday(t *testing.T) {
	runner := &fakeRunner{}

	w := serve(t, runner, http.MethodPost, "/api/task", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, timezone.Today(), runner.gotDate)
}

func TestExecuteTaskRejectsBadDate(t *testing.T) {
	runner := &fakeRunner{}

	w := serve(t, runner, http.MethodPost, "/api/task", map[string]string{"date": "13-08-2026"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, runner.gotDate)
}

func TestExecuteTaskConflict(t *testing.T) {
	runner := &fakeRunner{err: mirror.ErrTaskAlreadyRunning}

	w := serve(t, runner, http.MethodPost, "/api/task", nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestExecuteTaskFailure(t *testing.T) {
	runner := &fakeRunner{
		err: &mirror.TaskError{RunID: "run-9", Err: errors.New("authentication failed")},
	}

	w := serve(t, runner, http.MethodPost, "/api/task", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	body := decode[map[string]string](t, w)
	require.Equal(t, "run-9", body["run_id"])
	require.Contains(t, body["error"], "authentication failed")
}

func TestCancelTask(t *testing.T) {
	{
		w := serve(t, &fakeRunner{cancel: true}, http.MethodDelete, "/api/task", nil)
		require.Equal(t, http.StatusOK, w.Code)

		body := decode[map[string]any](t, w)
		require.Equal(t, true, body["cancelled"])
		require.Equal(t, "task cancelled", body["message"])
	}
	{
		w := serve(t, &fakeRunner{cancel: false}, http.MethodDelete, "/api/task", nil)
		require.Equal(t, http.StatusOK, w.Code)

		body := decode[map[string]any](t, w)
		require.Equal(t, false, body["cancelled"])
		require.Equal(t, "no task was running", body["message"])
	}
}

func TestStatus(t *testing.T) {
	runner := &fakeRunner{status: mirror.Status{IsRunning: true}}

	w := serve(t, runner, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	status := decode[mirror.Status](t, w)
	require.True(t, status.IsRunning)
}

func TestLastResults(t *testing.T) {
	{
		runner := &fakeRunner{last: mirror.TaskResult{RunID: "run-1"}}

		w := serve(t, runner, http.MethodGet, "/api/results", nil)
		require.Equal(t, http.StatusOK, w.Code)

		result := decode[mirror.TaskResult](t, w)
		require.Equal(t, "run-1", result.RunID)
	}
	{
		runner := &fakeRunner{lastErr: mirror.ErrNoResults}

		w := serve(t, runner, http.MethodGet, "/api/results", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	}
}

func TestHealth(t *testing.T) {
	w := serve(t, &fakeRunner{}, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestServeFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin-x.zip"), []byte("archive-bytes"), 0o644))

	router := NewRouter(&fakeRunner{}, dir)

	{
		req := httptest.NewRequest(http.MethodGet, "/files/plugin-x.zip", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "archive-bytes", w.Body.String())
	}
	{
		req := httptest.NewRequest(http.MethodGet, "/files/missing.zip", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusNotFound, w.Code)
	}
}
