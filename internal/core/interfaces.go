// Package core defines the domain types, error taxonomy, and interfaces for
// the mixdown service.
package core

import "context"

// SegmentStore defines the interface for the transient key-value blob store
// that carries script segments and companion blobs between services.
type SegmentStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// Synthesizer defines the uniform contract every speech provider adapter
// implements. Adapters are stateless; each call is a single network exchange
// authenticated by the supplied credential.
type Synthesizer interface {
	Name() string
	Voices() []Voice
	Synthesize(ctx context.Context, req SynthesisRequest, cred Credential) (*SynthesisResult, error)
}

// PutResult reports where an uploaded payload ended up.
type PutResult struct {
	Key string
	URL string
}

// ArtifactStore defines the uniform contract of the interchangeable storage
// backends. Callers never branch on backend identity. Delete with alsoConfig
// set derives the companion config key by naming convention and removes it
// if present; an absent companion is not an error.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (*PutResult, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string, alsoConfig bool) error
	Replace(ctx context.Context, key string, data []byte, contentType string) (*PutResult, error)
	SaveConfig(ctx context.Context, key string, data []byte) (*PutResult, error)
	List(ctx context.Context) ([]string, error)
	Purge(ctx context.Context) error
}
