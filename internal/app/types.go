package app

import (
	"context"

	"vidquery/internal/ingest"
	"vidquery/internal/retrieval"
)

// Database is satisfied by *sql.DB. Repositories still take the concrete
// type; the interface keeps New mockable.
type Database interface {
	PingContext(ctx context.Context) error
}

// VectorStore is the full surface the app wires: the ingest pipeline writes
// through it, retrieval queries it, and the video and stats features read
// chunk metadata from it.
type VectorStore interface {
	EnsureSchema(ctx context.Context) error
	UpsertChunks(ctx context.Context, chunks []ingest.Chunk) error
	Query(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]retrieval.Match, error)
	GetChunks(ctx context.Context, videoID string) ([]ingest.Chunk, error)
	DeleteChunks(ctx context.Context, videoID string) error
	CountChunks(ctx context.Context) (int, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}
