package dto

import "github.com/your-org/eventfaces/internal/models"

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type EventResponse struct {
	ID     string `json:"id"`
	Images int    `json:"images"`
	Faces  int    `json:"faces"`
}

type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}

// WSEvent is pushed to WebSocket subscribers for every index change.
type WSEvent struct {
	Type    models.ChangeType  `json:"type"`
	EventID string             `json:"event_id"`
	Data    models.IndexChange `json:"data"`
}
