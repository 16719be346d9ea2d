// Handles step sample append, listing, counting and deletion.

// Package handlers implements the HTTP handlers behind the step API.
package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maruel/steplog/internal/jsonldb"
	"github.com/maruel/steplog/internal/metrics"
	"github.com/maruel/steplog/internal/server/dto"
	"github.com/maruel/steplog/internal/storage"
)

// StepsHandler handles /steps requests.
type StepsHandler struct {
	store      *storage.StepStore
	metrics    *metrics.Metrics
	maxSamples int
}

// NewStepsHandler creates a new steps handler. maxSamples caps the batch size
// of SaveSteps; 0 means unlimited.
func NewStepsHandler(store *storage.StepStore, m *metrics.Metrics, maxSamples int) *StepsHandler {
	return &StepsHandler{store: store, metrics: m, maxSamples: maxSamples}
}

// SaveSteps appends a batch of samples to the log.
func (h *StepsHandler) SaveSteps(ctx context.Context, req *dto.SaveStepsRequest) (*dto.SaveStepsResponse, error) {
	items := req.Items()
	if h.maxSamples > 0 && len(items) > h.maxSamples {
		h.metrics.BatchesRejected.WithLabelValues(string(dto.ErrorCodeValidationFailed)).Inc()
		return nil, dto.TooManySamples(len(items), h.maxSamples)
	}
	n, err := h.store.AppendBatch(ctx, items)
	if err != nil {
		if errors.Is(err, jsonldb.ErrInvalidSample) {
			h.metrics.BatchesRejected.WithLabelValues(string(dto.ErrorCodeInvalidFormat)).Inc()
			return nil, dto.InvalidFormat("Each sample must be a JSON object")
		}
		h.metrics.SamplesAppended.Add(float64(n))
		h.metrics.StorageErrors.WithLabelValues("append").Inc()
		return nil, dto.StorageError(err)
	}
	h.metrics.SamplesAppended.Add(float64(n))
	slog.DebugContext(ctx, "Saved samples", "count", n)
	return &dto.SaveStepsResponse{Saved: n, Message: "Success"}, nil
}

// ListSteps returns every stored sample with the total.
func (h *StepsHandler) ListSteps(ctx context.Context, req *dto.ListStepsRequest) (*dto.ListStepsResponse, error) {
	rows, err := h.store.ReadAll(ctx)
	if err != nil {
		h.metrics.StorageErrors.WithLabelValues("read").Inc()
		return nil, dto.StorageError(err)
	}
	h.metrics.StoredSamples.Set(float64(len(rows)))
	return &dto.ListStepsResponse{Samples: rows, Total: len(rows)}, nil
}

// CountSteps returns the number of stored samples.
func (h *StepsHandler) CountSteps(ctx context.Context, req *dto.ListStepsRequest) (*dto.CountStepsResponse, error) {
	n, err := h.store.Count(ctx)
	if err != nil {
		h.metrics.StorageErrors.WithLabelValues("count").Inc()
		return nil, dto.StorageError(err)
	}
	h.metrics.StoredSamples.Set(float64(n))
	return &dto.CountStepsResponse{StoredCount: n}, nil
}

// DeleteSteps removes every stored sample. Deleting an empty store succeeds.
func (h *StepsHandler) DeleteSteps(ctx context.Context, req *dto.DeleteStepsRequest) (*dto.DeleteStepsResponse, error) {
	existed, err := h.store.DeleteAll(ctx)
	if err != nil {
		h.metrics.StorageErrors.WithLabelValues("delete").Inc()
		return nil, dto.StorageError(err)
	}
	h.metrics.StoredSamples.Set(0)
	if !existed {
		return &dto.DeleteStepsResponse{Message: "No steps file to delete"}, nil
	}
	return &dto.DeleteStepsResponse{Message: "All steps deleted successfully"}, nil
}
