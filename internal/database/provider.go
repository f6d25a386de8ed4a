package database

import (
	"context"
	"errors"
)

// IndexRebuilder is an interface for repositories that keep an in-memory HNSW index
type IndexRebuilder interface {
	// RebuildIndex rebuilds the in-memory index of a set from the store
	RebuildIndex(ctx context.Context, set string) error
	// IndexCount returns the number of templates indexed for a set
	IndexCount(set string) int
}

var (
	postgresTemplateReader func() TemplateReader
	postgresTemplateWriter func() TemplateWriter
	postgresIndex          IndexRebuilder
	postgresInitialized    bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(reader func() TemplateReader, writer func() TemplateWriter) {
	postgresTemplateReader = reader
	postgresTemplateWriter = writer
	postgresInitialized = true
}

// RegisterIndexRebuilder registers the index rebuilder of the active backend.
func RegisterIndexRebuilder(rebuilder IndexRebuilder) {
	postgresIndex = rebuilder
}

// GetIndexRebuilder returns the registered index rebuilder, or nil if not registered.
func GetIndexRebuilder() IndexRebuilder {
	return postgresIndex
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	return postgresInitialized
}

// GetTemplateReader returns a TemplateReader from the PostgreSQL backend
func GetTemplateReader(_ context.Context) (TemplateReader, error) {
	if !postgresInitialized {
		return nil, errors.New("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresTemplateReader == nil {
		return nil, errors.New("PostgreSQL template reader not registered")
	}
	return postgresTemplateReader(), nil
}

// GetTemplateWriter returns a TemplateWriter from the PostgreSQL backend
func GetTemplateWriter(_ context.Context) (TemplateWriter, error) {
	if !postgresInitialized {
		return nil, errors.New("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresTemplateWriter == nil {
		return nil, errors.New("PostgreSQL template writer not registered")
	}
	return postgresTemplateWriter(), nil
}
