package dto

import (
	"bytes"
	"encoding/json"
)

// --- Steps ---

// SaveStepsRequest is a request to append a batch of samples.
type SaveStepsRequest struct {
	// Samples is kept raw so that each sample is stored exactly as sent.
	Samples json.RawMessage `json:"samples"`

	items []json.RawMessage
}

// Validate checks the body shape: samples must be present, be a list, and
// hold only JSON objects.
func (r *SaveStepsRequest) Validate() error {
	if r.Samples == nil {
		return InvalidRequestBody()
	}
	raw := bytes.TrimSpace(r.Samples)
	if len(raw) == 0 || raw[0] != '[' {
		return InvalidFormat("samples must be a list")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return InvalidFormat("samples must be a list").Wrap(err)
	}
	for i, item := range items {
		if t := bytes.TrimSpace(item); len(t) == 0 || t[0] != '{' {
			return InvalidFormat("Each sample must be a JSON object").WithDetail("index", i)
		}
	}
	r.items = items
	return nil
}

// Items returns the samples decoded by Validate.
func (r *SaveStepsRequest) Items() []json.RawMessage {
	return r.items
}

// ListStepsRequest is a request to read stored samples.
type ListStepsRequest struct{}

// Validate is a no-op for ListStepsRequest.
func (r *ListStepsRequest) Validate() error {
	return nil
}

// DeleteStepsRequest is a request to delete every stored sample.
type DeleteStepsRequest struct{}

// Validate is a no-op for DeleteStepsRequest.
func (r *DeleteStepsRequest) Validate() error {
	return nil
}

// --- Health ---

// HealthRequest is a request to check system health.
type HealthRequest struct{}

// Validate is a no-op for HealthRequest.
func (r *HealthRequest) Validate() error {
	return nil
}
