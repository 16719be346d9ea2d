package dto

import "encoding/json"

// --- Step Responses ---

// SaveStepsResponse is a response from appending a batch of samples.
type SaveStepsResponse struct {
	Saved   int    `json:"saved"`
	Message string `json:"message"`
}

// ListStepsResponse returns every stored sample.
type ListStepsResponse struct {
	Samples []json.RawMessage `json:"samples"`
	Total   int               `json:"total"`
}

// CountStepsResponse returns the number of stored samples.
type CountStepsResponse struct {
	StoredCount int `json:"storedCount"`
}

// DeleteStepsResponse is a response from deleting every sample.
type DeleteStepsResponse struct {
	Message string `json:"message"`
}

// --- Health ---

// HealthResponse is a response from a health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
