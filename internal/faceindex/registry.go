package faceindex

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/your-org/eventfaces/internal/models"
	"github.com/your-org/eventfaces/internal/observability"
)

var eventIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateEventID rejects ids that are not safe as a storage path segment.
func ValidateEventID(id string) error {
	if !eventIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidEventID, id)
	}
	return nil
}

// Registry maps event ids to their stores.
type Registry struct {
	deps Deps

	mu      sync.Mutex
	events  map[string]*EventStore
	purging map[string]chan struct{}
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:    deps.withDefaults(),
		events:  make(map[string]*EventStore),
		purging: make(map[string]chan struct{}),
	}
}

// CreateOrGet returns the store for id, creating it on first use. created
// reports whether this call created it. If the event is being deleted the
// call waits for the deletion to finish and then creates a fresh store.
func (r *Registry) CreateOrGet(ctx context.Context, id string) (store *EventStore, created bool, err error) {
	if err := ValidateEventID(id); err != nil {
		return nil, false, err
	}

	for {
		r.mu.Lock()
		if s, ok := r.events[id]; ok {
			r.mu.Unlock()
			return s, false, nil
		}
		if done, ok := r.purging[id]; ok {
			r.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}

		s := newEventStore(id, r.deps)
		r.events[id] = s
		observability.IndexedEvents.Set(float64(len(r.events)))
		r.mu.Unlock()

		slog.Info("event created", "event_id", id)
		r.notify(ctx, models.NewIndexChange(models.ChangeEventCreated, id, nil, 0))
		return s, true, nil
	}
}

// Get returns an existing store.
func (r *Registry) Get(id string) (*EventStore, error) {
	if err := ValidateEventID(id); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return s, nil
}

// Delete removes the event and releases its images and embeddings before
// returning. Deletion is irreversible: the event is gone from the registry
// even if releasing some storage failed, and that failure is returned.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := ValidateEventID(id); err != nil {
		return err
	}

	r.mu.Lock()
	s, ok := r.events[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	delete(r.events, id)
	done := make(chan struct{})
	r.purging[id] = done
	observability.IndexedEvents.Set(float64(len(r.events)))
	r.mu.Unlock()

	// The event is already detached; releasing its storage must not stop
	// halfway because the caller went away.
	ctx = context.WithoutCancel(ctx)
	err := s.purge(ctx)

	r.mu.Lock()
	delete(r.purging, id)
	close(done)
	r.mu.Unlock()

	if err != nil {
		slog.Error("event deleted with storage errors", "event_id", id, "error", err)
		return fmt.Errorf("release storage for %s: %w", id, err)
	}

	slog.Info("event deleted", "event_id", id)
	r.notify(ctx, models.NewIndexChange(models.ChangeEventDeleted, id, nil, 0))
	return nil
}

// List returns all event ids in lexical order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.events))
	for id := range r.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Restore rebuilds the in-memory index from durable storage. Events whose
// stored name is not a valid id are skipped.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	ids, err := r.deps.Images.ListEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("list events: %w", err)
	}

	restored := 0
	for _, id := range ids {
		if err := ValidateEventID(id); err != nil {
			slog.Warn("skipping stored event with invalid id", "event_id", id)
			continue
		}

		r.mu.Lock()
		s, ok := r.events[id]
		if !ok {
			s = newEventStore(id, r.deps)
			r.events[id] = s
		}
		observability.IndexedEvents.Set(float64(len(r.events)))
		r.mu.Unlock()

		if err := s.restore(ctx); err != nil {
			return restored, fmt.Errorf("restore event %s: %w", id, err)
		}
		images, faces := s.Stats()
		slog.Info("event restored", "event_id", id, "images", images, "faces", faces)
		restored++
	}
	return restored, nil
}

func (r *Registry) notify(ctx context.Context, change models.IndexChange) {
	if r.deps.Notifier == nil {
		return
	}
	if err := r.deps.Notifier.PublishChange(ctx, change); err != nil {
		slog.Warn("publish index change", "event_id", change.EventID, "type", change.Type, "error", err)
	}
}
