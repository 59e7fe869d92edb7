package blobstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type memoryBlob struct {
	data        []byte
	contentType string
}

// Memory is an in-process Store with read-your-writes semantics
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]memoryBlob)}
}

// Put stores a copy of data under a new id
func (m *Memory) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("failed to put blob: %w", err)
	}

	id := uuid.NewString()
	stored := make([]byte, len(data))
	copy(stored, data)

	m.mu.Lock()
	m.blobs[id] = memoryBlob{data: stored, contentType: contentType}
	m.mu.Unlock()

	return id, nil
}

// Get returns a copy of the blob stored under id
func (m *Memory) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}

	m.mu.RLock()
	blob, ok := m.blobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	out := make([]byte, len(blob.data))
	copy(out, blob.data)
	return out, nil
}

// Stat returns the content type and size recorded for id
func (m *Memory) Stat(ctx context.Context, id string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, fmt.Errorf("failed to stat blob: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.blobs[id]
	if !ok {
		return Info{}, ErrNotFound
	}
	return Info{ContentType: blob.contentType, Size: int64(len(blob.data))}, nil
}

// Delete removes the blob stored under id
func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.blobs, id)
	return nil
}

// Len returns the number of stored blobs
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
