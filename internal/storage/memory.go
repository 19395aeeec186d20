package storage

import (
	"context"
	"sort"
	"sync"
)

type memoryImage struct {
	data        []byte
	contentType string
}

// MemoryImageStore is an ImageStore held in process memory.
type MemoryImageStore struct {
	mu     sync.RWMutex
	events map[string]map[string]memoryImage
}

func NewMemoryImageStore() *MemoryImageStore {
	return &MemoryImageStore{events: make(map[string]map[string]memoryImage)}
}

func (s *MemoryImageStore) PutImage(_ context.Context, eventID, imageID string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	images, ok := s.events[eventID]
	if !ok {
		images = make(map[string]memoryImage)
		s.events[eventID] = images
	}
	images[imageID] = memoryImage{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (s *MemoryImageStore) Location(eventID, imageID string) string {
	return "memory://" + imageKey(eventID, imageID)
}

func (s *MemoryImageStore) GetImage(_ context.Context, eventID, imageID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	img, ok := s.events[eventID][imageID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), img.data...), nil
}

func (s *MemoryImageStore) DeleteImage(_ context.Context, eventID, imageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	images := s.events[eventID]
	delete(images, imageID)
	if len(images) == 0 {
		delete(s.events, eventID)
	}
	return nil
}

func (s *MemoryImageStore) ListImages(_ context.Context, eventID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.events[eventID]), nil
}

func (s *MemoryImageStore) ListEvents(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.events), nil
}

// MemoryEmbeddingStore is an EmbeddingStore held in process memory.
type MemoryEmbeddingStore struct {
	mu     sync.RWMutex
	events map[string]map[string][][]byte
}

func NewMemoryEmbeddingStore() *MemoryEmbeddingStore {
	return &MemoryEmbeddingStore{events: make(map[string]map[string][][]byte)}
}

func (s *MemoryEmbeddingStore) PutEmbeddings(_ context.Context, eventID, imageID string, payloads [][]byte) error {
	cp := make([][]byte, len(payloads))
	for i, p := range payloads {
		cp[i] = append([]byte(nil), p...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	images, ok := s.events[eventID]
	if !ok {
		images = make(map[string][][]byte)
		s.events[eventID] = images
	}
	images[imageID] = cp
	return nil
}

func (s *MemoryEmbeddingStore) GetEmbeddings(_ context.Context, eventID, imageID string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.events[eventID][imageID]
	out := make([][]byte, len(stored))
	for i, p := range stored {
		out[i] = append([]byte(nil), p...)
	}
	return out, nil
}

func (s *MemoryEmbeddingStore) DeleteEmbeddings(_ context.Context, eventID, imageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	images := s.events[eventID]
	delete(images, imageID)
	if len(images) == 0 {
		delete(s.events, eventID)
	}
	return nil
}

func (s *MemoryEmbeddingStore) ListEmbeddings(_ context.Context, eventID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.events[eventID]), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
