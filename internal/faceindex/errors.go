package faceindex

import (
	"errors"

	"github.com/your-org/eventfaces/internal/embedding"
)

var (
	ErrInvalidEventID       = errors.New("invalid event id")
	ErrInvalidImageID       = errors.New("invalid image id")
	ErrEventNotFound        = errors.New("event not found")
	ErrImageNotFound        = errors.New("image not found")
	ErrNoFaceDetected       = errors.New("no face detected in probe image")
	ErrNoEncodingsAvailable = errors.New("event has no indexed faces")
	ErrExtractionFailed     = errors.New("face extraction failed")
	ErrCorruptEmbedding     = embedding.ErrCorrupt
)
