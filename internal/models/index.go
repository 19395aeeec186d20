package models

import (
	"time"

	"github.com/google/uuid"
)

type ChangeType string

const (
	ChangeEventCreated ChangeType = "event_created"
	ChangeImagesAdded  ChangeType = "images_added"
	ChangeImageRemoved ChangeType = "image_removed"
	ChangeEventDeleted ChangeType = "event_deleted"
)

// IndexChange describes one committed write to an event's face index.
type IndexChange struct {
	ID        uuid.UUID  `json:"id"`
	Type      ChangeType `json:"type"`
	EventID   string     `json:"event_id"`
	ImageIDs  []string   `json:"image_ids,omitempty"`
	Faces     int        `json:"faces"`
	Timestamp time.Time  `json:"timestamp"`
}

func NewIndexChange(t ChangeType, eventID string, imageIDs []string, faces int) IndexChange {
	return IndexChange{
		ID:        uuid.New(),
		Type:      t,
		EventID:   eventID,
		ImageIDs:  imageIDs,
		Faces:     faces,
		Timestamp: time.Now().UTC(),
	}
}

// ExtractReply is the worker's answer to a remote extraction request. The
// request body is the raw image bytes.
type ExtractReply struct {
	Faces [][]float32 `json:"faces"`
	Error string      `json:"error,omitempty"`
}
