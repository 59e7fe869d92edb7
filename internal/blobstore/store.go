// Package blobstore persists binary payloads by opaque id.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Delete for an unknown id
var ErrNotFound = errors.New("blob not found")

// Info describes a stored blob
type Info struct {
	ContentType string
	Size        int64
}

// Store is the object store boundary. Put always returns a fresh id, so a
// blob is never overwritten and a Delete never affects another writer's blob.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Stat(ctx context.Context, id string) (Info, error)
	Delete(ctx context.Context, id string) error
}
