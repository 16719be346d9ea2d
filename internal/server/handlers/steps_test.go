package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/maruel/steplog/internal/metrics"
	"github.com/maruel/steplog/internal/server/dto"
	"github.com/maruel/steplog/internal/storage"
)

func setupStepsHandler(t *testing.T, view storage.StepsView, maxSamples int) (*StepsHandler, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewStepStore(dir, view)
	if err != nil {
		t.Fatalf("NewStepStore failed: %v", err)
	}
	return NewStepsHandler(store, metrics.New(), maxSamples), dir
}

func saveRequest(t *testing.T, samples string) *dto.SaveStepsRequest {
	t.Helper()
	req := &dto.SaveStepsRequest{Samples: json.RawMessage(samples)}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate(%s) failed: %v", samples, err)
	}
	return req
}

func wantAPIError(t *testing.T, err error, status int, code dto.ErrorCode) *dto.APIError {
	t.Helper()
	var apiErr *dto.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *dto.APIError", err)
	}
	if apiErr.StatusCode() != status {
		t.Errorf("StatusCode() = %d, want %d", apiErr.StatusCode(), status)
	}
	if apiErr.Code() != code {
		t.Errorf("Code() = %s, want %s", apiErr.Code(), code)
	}
	return apiErr
}

func TestStepsHandler_SaveAndList(t *testing.T) {
	ctx := context.Background()
	h, _ := setupStepsHandler(t, storage.StepsViewSamples, 0)

	resp, err := h.SaveSteps(ctx, saveRequest(t, `[{"x":1},{"x":2}]`))
	if err != nil {
		t.Fatalf("SaveSteps failed: %v", err)
	}
	if resp.Saved != 2 || resp.Message != "Success" {
		t.Errorf("SaveSteps = %+v", resp)
	}

	resp, err = h.SaveSteps(ctx, saveRequest(t, `[]`))
	if err != nil {
		t.Fatalf("SaveSteps(empty) failed: %v", err)
	}
	if resp.Saved != 0 {
		t.Errorf("Saved = %d, want 0", resp.Saved)
	}

	list, err := h.ListSteps(ctx, &dto.ListStepsRequest{})
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	if list.Total != 2 || len(list.Samples) != 2 {
		t.Fatalf("ListSteps = %+v", list)
	}
	if string(list.Samples[0]) != `{"x":1}` || string(list.Samples[1]) != `{"x":2}` {
		t.Errorf("Samples = %s", list.Samples)
	}

	if got := testutil.ToFloat64(h.metrics.SamplesAppended); got != 2 {
		t.Errorf("SamplesAppended = %v, want 2", got)
	}
	if got := testutil.ToFloat64(h.metrics.StoredSamples); got != 2 {
		t.Errorf("StoredSamples = %v, want 2", got)
	}
}

func TestStepsHandler_ListEmpty(t *testing.T) {
	h, _ := setupStepsHandler(t, storage.StepsViewSamples, 0)
	list, err := h.ListSteps(context.Background(), &dto.ListStepsRequest{})
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	if list.Samples == nil {
		t.Error("Samples must encode as [] not null")
	}
	if list.Total != 0 {
		t.Errorf("Total = %d, want 0", list.Total)
	}
}

func TestStepsHandler_CountSteps(t *testing.T) {
	ctx := context.Background()
	for _, view := range []storage.StepsView{storage.StepsViewSamples, storage.StepsViewCount} {
		t.Run(string(view), func(t *testing.T) {
			h, _ := setupStepsHandler(t, view, 0)
			for range 3 {
				if _, err := h.SaveSteps(ctx, saveRequest(t, `[{"a":1},{"b":2}]`)); err != nil {
					t.Fatal(err)
				}
			}
			resp, err := h.CountSteps(ctx, &dto.ListStepsRequest{})
			if err != nil {
				t.Fatalf("CountSteps failed: %v", err)
			}
			if resp.StoredCount != 6 {
				t.Errorf("StoredCount = %d, want 6", resp.StoredCount)
			}
			if _, err := h.DeleteSteps(ctx, &dto.DeleteStepsRequest{}); err != nil {
				t.Fatal(err)
			}
			if _, err := h.SaveSteps(ctx, saveRequest(t, `[{"c":3}]`)); err != nil {
				t.Fatal(err)
			}
			resp, err = h.CountSteps(ctx, &dto.ListStepsRequest{})
			if err != nil {
				t.Fatal(err)
			}
			if resp.StoredCount != 1 {
				t.Errorf("StoredCount after delete = %d, want 1", resp.StoredCount)
			}
		})
	}
}

func TestStepsHandler_DeleteSteps(t *testing.T) {
	ctx := context.Background()
	h, dir := setupStepsHandler(t, storage.StepsViewSamples, 0)

	resp, err := h.DeleteSteps(ctx, &dto.DeleteStepsRequest{})
	if err != nil {
		t.Fatalf("DeleteSteps failed: %v", err)
	}
	if resp.Message != "No steps file to delete" {
		t.Errorf("Message = %q", resp.Message)
	}

	if _, err := h.SaveSteps(ctx, saveRequest(t, `[{"x":1}]`)); err != nil {
		t.Fatal(err)
	}
	resp, err = h.DeleteSteps(ctx, &dto.DeleteStepsRequest{})
	if err != nil {
		t.Fatalf("DeleteSteps failed: %v", err)
	}
	if resp.Message != "All steps deleted successfully" {
		t.Errorf("Message = %q", resp.Message)
	}
	if _, err := os.Stat(filepath.Join(dir, storage.LogFileName)); !os.IsNotExist(err) {
		t.Errorf("log file still present: %v", err)
	}

	// Second delete is still a success.
	resp, err = h.DeleteSteps(ctx, &dto.DeleteStepsRequest{})
	if err != nil {
		t.Fatalf("DeleteSteps failed: %v", err)
	}
	if resp.Message != "No steps file to delete" {
		t.Errorf("Message = %q", resp.Message)
	}
}

func TestStepsHandler_TooManySamples(t *testing.T) {
	ctx := context.Background()
	h, dir := setupStepsHandler(t, storage.StepsViewSamples, 2)

	if _, err := h.SaveSteps(ctx, saveRequest(t, `[{"a":1},{"a":2}]`)); err != nil {
		t.Fatalf("batch at the limit failed: %v", err)
	}
	_, err := h.SaveSteps(ctx, saveRequest(t, `[{"a":1},{"a":2},{"a":3}]`))
	apiErr := wantAPIError(t, err, http.StatusBadRequest, dto.ErrorCodeValidationFailed)
	if apiErr.Details()["limit"] != 2 {
		t.Errorf("limit detail = %v", apiErr.Details()["limit"])
	}
	if got := testutil.ToFloat64(h.metrics.BatchesRejected.WithLabelValues(string(dto.ErrorCodeValidationFailed))); got != 1 {
		t.Errorf("BatchesRejected = %v, want 1", got)
	}

	data, err := os.ReadFile(filepath.Join(dir, storage.LogFileName))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{\"a\":1}\n{\"a\":2}\n" {
		t.Errorf("log = %q", data)
	}
}

func TestStepsHandler_StorageErrors(t *testing.T) {
	ctx := context.Background()
	h, dir := setupStepsHandler(t, storage.StepsViewSamples, 0)

	// A directory in place of the log makes every file operation fail.
	logPath := filepath.Join(dir, storage.LogFileName)
	if err := os.MkdirAll(filepath.Join(logPath, "blocker"), 0o755); err != nil {
		t.Fatal(err)
	}

	t.Run("save", func(t *testing.T) {
		_, err := h.SaveSteps(ctx, saveRequest(t, `[{"x":1}]`))
		apiErr := wantAPIError(t, err, http.StatusInternalServerError, dto.ErrorCodeStorageError)
		if len(apiErr.Error()) <= len("Server error: ") || apiErr.Error()[:len("Server error: ")] != "Server error: " {
			t.Errorf("Error() = %q", apiErr.Error())
		}
	})
	t.Run("list", func(t *testing.T) {
		_, err := h.ListSteps(ctx, &dto.ListStepsRequest{})
		wantAPIError(t, err, http.StatusInternalServerError, dto.ErrorCodeStorageError)
	})
	t.Run("delete", func(t *testing.T) {
		_, err := h.DeleteSteps(ctx, &dto.DeleteStepsRequest{})
		wantAPIError(t, err, http.StatusInternalServerError, dto.ErrorCodeStorageError)
	})
	for _, op := range []string{"append", "read", "delete"} {
		if got := testutil.ToFloat64(h.metrics.StorageErrors.WithLabelValues(op)); got != 1 {
			t.Errorf("StorageErrors{%s} = %v, want 1", op, got)
		}
	}
}
