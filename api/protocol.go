package api

import (
	"taskboard/bus"
	"taskboard/domain"
)

const mutationMaxSize = 64 * 1024 // 64 KiB

const headerIdempotencyKey = "Idempotency-Key"

// POST /api/cards/:id/move request body
type moveCardRequest struct {
	ListID   string `json:"listId"`
	Position int    `json:"position"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GET /api/boards/:id/activity response body
type activityResponse struct {
	Entries []domain.ActivityEntry `json:"entries"`
	Total   *int                   `json:"total,omitempty"`
}

// GET /api/analytics response body
type analyticsResponse struct {
	Counters    map[string]uint64 `json:"counters"`
	Bus         *bus.Stats        `json:"bus,omitempty"`
	DeadLetters []bus.DeadLetter  `json:"deadLetters,omitempty"`
}
