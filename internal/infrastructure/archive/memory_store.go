package archive

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store in process memory. Used when archiving is
// disabled in configuration and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	// BaseURL prefixes the fake presigned links.
	BaseURL string
}

// NewMemoryStore creates an in-memory archive store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		BaseURL: "https://archive.invalid",
	}
}

// Put stores the PDF under the deterministic key.
func (s *MemoryStore) Put(_ context.Context, officeID, vendorID uuid.UUID, orderRef string, pdf []byte) (string, error) {
	if len(pdf) == 0 {
		return "", errors.New("archive: empty PDF")
	}
	key := ObjectKey(officeID, vendorID, orderRef)

	s.mu.Lock()
	s.objects[key] = append([]byte(nil), pdf...)
	s.mu.Unlock()
	return key, nil
}

// PresignedLink returns a fake link for a stored key.
func (s *MemoryStore) PresignedLink(_ context.Context, storageKey string, expiresIn time.Duration) (string, error) {
	if storageKey == "" {
		return "", errors.New("archive: storage key is required")
	}
	if expiresIn <= 0 {
		expiresIn = 15 * time.Minute
	}

	s.mu.RLock()
	_, found := s.objects[storageKey]
	s.mu.RUnlock()
	if !found {
		return "", errors.New("archive: object not found: " + storageKey)
	}
	return s.BaseURL + "/" + storageKey + "?expires=" + time.Now().Add(expiresIn).Format(time.RFC3339), nil
}

// Object returns the stored bytes, for test assertions.
func (s *MemoryStore) Object(storageKey string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pdf, found := s.objects[storageKey]
	return pdf, found
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
