// Package docstore persists whole JSON documents addressed by collection and id.
package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates no document exists for the collection and id.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrUnknownDriver indicates an unsupported backend name.
	ErrUnknownDriver = errors.New("docstore: unknown driver")
	// ErrInvalidKey indicates a blank collection or id.
	ErrInvalidKey = errors.New("docstore: collection and id required")
)

// Store reads and replaces whole documents. AddWithID overwrites any existing document.
type Store interface {
	GetByID(ctx context.Context, collection, id string) ([]byte, error)
	AddWithID(ctx context.Context, collection, id string, doc []byte) error
}

func validKey(collection, id string) error {
	if collection == "" || id == "" {
		return ErrInvalidKey
	}
	return nil
}
