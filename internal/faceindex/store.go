package faceindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/eventfaces/internal/embedding"
	"github.com/your-org/eventfaces/internal/models"
	"github.com/your-org/eventfaces/internal/observability"
	"github.com/your-org/eventfaces/internal/storage"
)

// Upload is one item of an ingestion batch.
type Upload struct {
	Filename string
	Data     []byte
}

// Failure is a per-item problem in a batch. Items whose bytes were kept but
// whose faces could not be extracted are reported here too.
type Failure struct {
	Filename string
	Err      error
}

// Report summarises a batch ingestion.
type Report struct {
	Accepted   int
	FacesFound int
	ImageIDs   []string
	Failures   []Failure
}

// IngestResult is the outcome of ingesting one image.
type IngestResult struct {
	Record   *ImageRecord
	Replaced bool
	// Warning is set when the bytes were stored but the image was indexed
	// without faces because extraction or embedding persistence failed.
	Warning error
}

// EventStore owns the image records of one event.
type EventStore struct {
	id   string
	deps Deps

	mu      sync.RWMutex
	records map[string]*ImageRecord
	order   []string
	closed  bool
}

func newEventStore(id string, deps Deps) *EventStore {
	return &EventStore{
		id:      id,
		deps:    deps,
		records: make(map[string]*ImageRecord),
	}
}

// ID returns the event id.
func (s *EventStore) ID() string {
	return s.id
}

// Ingest stores one image and indexes the faces found in it. A filename that
// is already present is replaced, bytes and embeddings alike.
func (s *EventStore) Ingest(ctx context.Context, filename string, data []byte) (*IngestResult, error) {
	imageID, err := ImageIDFromFilename(filename)
	if err != nil {
		observability.ImagesIngested.WithLabelValues("rejected").Inc()
		return nil, err
	}

	faces, extractErr := s.extract(ctx, data)
	res, err := s.commit(ctx, imageID, data, faces, extractErr)
	if err != nil {
		observability.ImagesIngested.WithLabelValues("failed").Inc()
		return nil, err
	}
	observability.ImagesIngested.WithLabelValues("accepted").Inc()

	s.notify(ctx, models.NewIndexChange(models.ChangeImagesAdded, s.id, []string{imageID}, res.Record.FaceCount()))
	return res, nil
}

// AddImages ingests a batch. Extraction runs concurrently; commits happen in
// batch order. One item failing never aborts the others.
func (s *EventStore) AddImages(ctx context.Context, batch []Upload) Report {
	type extraction struct {
		imageID string
		faces   []embedding.Embedding
		err     error
		invalid error
	}
	results := make([]extraction, len(batch))

	var g errgroup.Group
	g.SetLimit(s.deps.Concurrency)
	for i, u := range batch {
		imageID, err := ImageIDFromFilename(u.Filename)
		if err != nil {
			results[i].invalid = err
			continue
		}
		results[i].imageID = imageID
		g.Go(func() error {
			results[i].faces, results[i].err = s.extract(ctx, u.Data)
			return nil
		})
	}
	_ = g.Wait()

	var report Report
	for i, u := range batch {
		r := results[i]
		if r.invalid != nil {
			observability.ImagesIngested.WithLabelValues("rejected").Inc()
			report.Failures = append(report.Failures, Failure{Filename: u.Filename, Err: r.invalid})
			continue
		}

		res, err := s.commit(ctx, r.imageID, u.Data, r.faces, r.err)
		if err != nil {
			observability.ImagesIngested.WithLabelValues("failed").Inc()
			report.Failures = append(report.Failures, Failure{Filename: u.Filename, Err: err})
			continue
		}

		observability.ImagesIngested.WithLabelValues("accepted").Inc()
		report.Accepted++
		report.FacesFound += res.Record.FaceCount()
		report.ImageIDs = append(report.ImageIDs, r.imageID)
		if res.Warning != nil {
			report.Failures = append(report.Failures, Failure{Filename: u.Filename, Err: res.Warning})
		}
	}

	if report.Accepted > 0 {
		s.notify(ctx, models.NewIndexChange(models.ChangeImagesAdded, s.id, report.ImageIDs, report.FacesFound))
	}

	slog.Info("batch ingested",
		"event_id", s.id,
		"submitted", len(batch),
		"accepted", report.Accepted,
		"faces", report.FacesFound,
		"failures", len(report.Failures),
	)
	return report
}

// extract runs the extractor. It must not be called with s.mu held.
func (s *EventStore) extract(ctx context.Context, data []byte) ([]embedding.Embedding, error) {
	if s.deps.Extractor == nil {
		observability.ExtractionFailures.Inc()
		return nil, fmt.Errorf("%w: no extractor configured", ErrExtractionFailed)
	}

	start := time.Now()
	faces, err := s.deps.Extractor.Extract(ctx, data)
	observability.StageDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ExtractionFailures.Inc()
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return faces, nil
}

// commit persists the bytes and embeddings of one image and swaps the record
// into the index under the write lock.
func (s *EventStore) commit(ctx context.Context, imageID string, data []byte, faces []embedding.Embedding, extractErr error) (*IngestResult, error) {
	start := time.Now()
	defer func() {
		observability.StageDuration.WithLabelValues("commit").Observe(time.Since(start).Seconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, s.id)
	}

	if err := s.deps.Images.PutImage(ctx, s.id, imageID, data, storage.DetectContentType(data)); err != nil {
		return nil, fmt.Errorf("store image %s: %w", imageID, err)
	}

	warning := extractErr
	payloads := encodeFaces(faces)
	if err := s.deps.Embeddings.PutEmbeddings(ctx, s.id, imageID, payloads); err != nil {
		warning = fmt.Errorf("persist embeddings: %w", err)
		payloads = nil
		// A replaced image must not keep the previous version's faces.
		if derr := s.deps.Embeddings.DeleteEmbeddings(ctx, s.id, imageID); derr != nil {
			slog.Error("clear stale embeddings", "event_id", s.id, "image_id", imageID, "error", derr)
		}
	}

	if warning != nil {
		slog.Warn("image stored without faces", "event_id", s.id, "image_id", imageID, "error", warning)
	}

	rec := newImageRecord(imageID, s.deps.Images.Location(s.id, imageID), payloads)
	_, replaced := s.records[imageID]
	if !replaced {
		s.order = append(s.order, imageID)
	}
	s.records[imageID] = rec
	observability.FacesIndexed.Add(float64(rec.FaceCount()))

	return &IngestResult{Record: rec, Replaced: replaced, Warning: warning}, nil
}

// RemoveImage deletes an image's embeddings and bytes.
func (s *EventStore) RemoveImage(ctx context.Context, imageID string) error {
	if err := s.removeImage(ctx, imageID); err != nil {
		return err
	}
	s.notify(ctx, models.NewIndexChange(models.ChangeImageRemoved, s.id, []string{imageID}, 0))
	return nil
}

func (s *EventStore) removeImage(ctx context.Context, imageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: %s", ErrEventNotFound, s.id)
	}
	if _, ok := s.records[imageID]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrImageNotFound, s.id, imageID)
	}
	return s.removeLocked(ctx, imageID)
}

// removeLocked drops one image. Embeddings go first so that a failure leaves
// the record searchable and intact. If the bytes cannot be deleted the record
// stays listed without faces, so a later remove can finish the job.
func (s *EventStore) removeLocked(ctx context.Context, imageID string) error {
	if err := s.deps.Embeddings.DeleteEmbeddings(ctx, s.id, imageID); err != nil {
		return fmt.Errorf("delete embeddings %s: %w", imageID, err)
	}

	if err := s.deps.Images.DeleteImage(ctx, s.id, imageID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		if rec, ok := s.records[imageID]; ok && rec.FaceCount() > 0 {
			s.records[imageID] = newImageRecord(imageID, rec.StoredPath, nil)
		}
		return fmt.Errorf("delete image %s: %w", imageID, err)
	}

	delete(s.records, imageID)
	if i := slices.Index(s.order, imageID); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return nil
}

// ListImages returns every indexed image id, faces or not, in insertion
// order.
func (s *EventStore) ListImages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Image returns the record for one image.
func (s *EventStore) Image(imageID string) (*ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[imageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrImageNotFound, s.id, imageID)
	}
	return rec, nil
}

// ImageBytes reads the stored bytes of an indexed image.
func (s *EventStore) ImageBytes(ctx context.Context, imageID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.records[imageID]; !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrImageNotFound, s.id, imageID)
	}
	data, err := s.deps.Images.GetImage(ctx, s.id, imageID)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", imageID, err)
	}
	return data, nil
}

// AllEmbeddings returns every embedding of the event as of one point in time.
func (s *EventStore) AllEmbeddings() ([]FaceRef, error) {
	start := time.Now()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, s.id)
	}
	recs := make([]*ImageRecord, 0, len(s.order))
	for _, id := range s.order {
		recs = append(recs, s.records[id])
	}
	s.mu.RUnlock()

	// Records are immutable, so decoding after the lock is released still
	// reflects the moment the slice was taken.
	var refs []FaceRef
	for _, rec := range recs {
		refs = rec.appendFaces(s.id, refs)
	}

	observability.StageDuration.WithLabelValues("snapshot").Observe(time.Since(start).Seconds())
	return refs, nil
}

// Stats reports the number of images and persisted faces.
func (s *EventStore) Stats() (images, faces int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		faces += rec.FaceCount()
	}
	return len(s.records), faces
}

// restore loads the records of previously stored images without running
// extraction again.
func (s *EventStore) restore(ctx context.Context) error {
	imageIDs, err := s.deps.Images.ListImages(ctx, s.id)
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, imageID := range imageIDs {
		if _, ok := s.records[imageID]; ok {
			continue
		}
		payloads, err := s.deps.Embeddings.GetEmbeddings(ctx, s.id, imageID)
		if err != nil {
			return fmt.Errorf("load embeddings %s: %w", imageID, err)
		}
		s.records[imageID] = newImageRecord(imageID, s.deps.Images.Location(s.id, imageID), payloads)
		s.order = append(s.order, imageID)
	}
	return nil
}

// purge closes the store and releases every image and embedding it owns,
// including leftovers found in storage that were never indexed.
func (s *EventStore) purge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	var errs []error
	for _, imageID := range slices.Clone(s.order) {
		if err := s.removeLocked(ctx, imageID); err != nil {
			errs = append(errs, err)
		}
	}

	if leftovers, err := s.deps.Images.ListImages(ctx, s.id); err != nil {
		errs = append(errs, fmt.Errorf("list images: %w", err))
	} else {
		for _, imageID := range leftovers {
			if err := s.deps.Images.DeleteImage(ctx, s.id, imageID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				errs = append(errs, fmt.Errorf("delete image %s: %w", imageID, err))
			}
		}
	}

	if leftovers, err := s.deps.Embeddings.ListEmbeddings(ctx, s.id); err != nil {
		errs = append(errs, fmt.Errorf("list embeddings: %w", err))
	} else {
		for _, imageID := range leftovers {
			if err := s.deps.Embeddings.DeleteEmbeddings(ctx, s.id, imageID); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

func (s *EventStore) notify(ctx context.Context, change models.IndexChange) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.PublishChange(ctx, change); err != nil {
		slog.Warn("publish index change", "event_id", s.id, "type", change.Type, "error", err)
	}
}
