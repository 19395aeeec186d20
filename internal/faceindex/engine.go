package faceindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/your-org/eventfaces/internal/embedding"
	"github.com/your-org/eventfaces/internal/observability"
)

// SearchResult is a ranked answer to a probe search.
type SearchResult struct {
	EventID string
	// ProbeFaces is the number of faces found in the probe image. Only the
	// first one is searched for.
	ProbeFaces int
	Matches    []Match
}

// Engine ties the registry, the matcher and the extractor together to
// answer probe searches.
type Engine struct {
	registry  *Registry
	matcher   *Matcher
	extractor Extractor
}

func NewEngine(registry *Registry, matcher *Matcher, extractor Extractor) *Engine {
	return &Engine{registry: registry, matcher: matcher, extractor: extractor}
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) Matcher() *Matcher {
	return e.matcher
}

// Search extracts the faces of probe and ranks the event's images against the
// first detected one. limit > 0 truncates the ranked list. When the event has
// nothing indexed the error wraps ErrNoEncodingsAvailable and the returned
// result still carries the probe's face count, with no matches.
func (e *Engine) Search(ctx context.Context, eventID string, probe []byte, limit int) (*SearchResult, error) {
	if _, err := e.registry.Get(eventID); err != nil {
		observability.Searches.WithLabelValues("not_found").Inc()
		return nil, err
	}

	if e.extractor == nil {
		observability.Searches.WithLabelValues("error").Inc()
		return nil, ErrExtractionFailed
	}
	faces, err := e.extractor.Extract(ctx, probe)
	if err != nil {
		observability.Searches.WithLabelValues("error").Inc()
		observability.ExtractionFailures.Inc()
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if len(faces) == 0 {
		observability.Searches.WithLabelValues("no_face").Inc()
		return nil, ErrNoFaceDetected
	}
	if len(faces) > 1 {
		slog.Debug("probe has several faces, using the first", "event_id", eventID, "faces", len(faces))
	}

	res, err := e.SearchEmbedding(ctx, eventID, faces[0], limit)
	if errors.Is(err, ErrNoEncodingsAvailable) {
		return &SearchResult{EventID: eventID, ProbeFaces: len(faces)}, err
	}
	if err != nil {
		return nil, err
	}
	res.ProbeFaces = len(faces)
	return res, nil
}

// SearchEmbedding ranks the event's images against an already extracted
// probe embedding.
func (e *Engine) SearchEmbedding(_ context.Context, eventID string, probe embedding.Embedding, limit int) (*SearchResult, error) {
	store, err := e.registry.Get(eventID)
	if err != nil {
		observability.Searches.WithLabelValues("not_found").Inc()
		return nil, err
	}

	snapshot, err := store.AllEmbeddings()
	if err != nil {
		observability.Searches.WithLabelValues("not_found").Inc()
		return nil, err
	}

	matches, err := e.matcher.Rank(probe, snapshot)
	if err != nil {
		if errors.Is(err, ErrNoEncodingsAvailable) {
			observability.Searches.WithLabelValues("no_encodings").Inc()
		} else {
			observability.Searches.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	outcome := "matched"
	if len(matches) == 0 {
		outcome = "no_match"
	}
	observability.Searches.WithLabelValues(outcome).Inc()

	return &SearchResult{EventID: eventID, ProbeFaces: 1, Matches: matches}, nil
}
