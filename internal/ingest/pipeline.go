package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrTranscription = errors.New("transcription failed")
	ErrEmbedding     = errors.New("embedding failed")
	ErrStore         = errors.New("vector store failed")
)

// Coarse pipeline stages, reported through the stage callback so the caller
// can surface progress without a partial-progress protocol.
const (
	StageTranscribing = "transcribing"
	StageEmbedding    = "embedding"
	StageStoring      = "storing"
)

// DefaultMinChars is the minimum trimmed segment length, in characters,
// worth indexing.
// Shorter segments ("ok", "um") carry no retrievable content.
const DefaultMinChars = 5

// chunkNamespace scopes the deterministic chunk ids. Re-ingesting a video
// under the same id reproduces the same uuids, so the store overwrites
// instead of duplicating.
var chunkNamespace = uuid.MustParse("8b9e3c1a-55f0-4ce0-9e70-4d3f6a1f2b91")

// Segment is one timestamped piece of transcript, as produced by the
// transcriber. It is transient; only qualifying segments become Chunks.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Chunk is the persisted unit: transcript text, its embedding vector and the
// playback metadata needed to seek the player to the match.
type Chunk struct {
	ID        string
	Text      string
	Vector    []float32
	VideoID   string
	VideoPath string
	StartTime float64
	EndTime   float64
	Index     int
}

type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string) ([]Segment, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type ChunkStore interface {
	UpsertChunks(ctx context.Context, chunks []Chunk) error
}

type Pipeline struct {
	transcriber Transcriber
	embedder    Embedder
	store       ChunkStore
	minChars    int
}

func NewPipeline(t Transcriber, e Embedder, s ChunkStore, minChars int) *Pipeline {
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	return &Pipeline{transcriber: t, embedder: e, store: s, minChars: minChars}
}

// ChunkID derives the deterministic id for the n-th chunk of a video.
func ChunkID(videoID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s:%d", videoID, index))).String()
}

// Run indexes one video: transcribe, filter, embed, store as a single batch.
// The onStage callback (optional) receives each coarse stage as it begins.
// Returns the number of chunks stored.
func (p *Pipeline) Run(ctx context.Context, videoID, videoPath string, onStage func(stage string)) (int, error) {
	stage := func(s string) {
		if onStage != nil {
			onStage(s)
		}
	}

	stage(StageTranscribing)
	segments, err := p.transcriber.Transcribe(ctx, videoPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	slog.InfoContext(ctx, "transcription complete", "video_id", videoID, "segments", len(segments))

	stage(StageEmbedding)
	chunks := make([]Chunk, 0, len(segments))
	dim := 0
	for i, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		// Count characters, not bytes; transcripts are multilingual.
		if utf8.RuneCountInString(text) < p.minChars {
			continue
		}

		vector, err := p.embedder.Embed(ctx, text)
		if err != nil {
			return 0, fmt.Errorf("%w: segment %d: %v", ErrEmbedding, i, err)
		}
		if len(vector) == 0 {
			return 0, fmt.Errorf("%w: segment %d: empty vector", ErrEmbedding, i)
		}
		// All chunks must live in one embedding space; a dimension change
		// mid-run means the embedder is misconfigured.
		if dim == 0 {
			dim = len(vector)
		} else if len(vector) != dim {
			return 0, fmt.Errorf("%w: segment %d: dimension %d, expected %d", ErrEmbedding, i, len(vector), dim)
		}

		chunks = append(chunks, Chunk{
			ID:        ChunkID(videoID, i),
			Text:      text,
			Vector:    vector,
			VideoID:   videoID,
			VideoPath: videoPath,
			StartTime: seg.Start,
			EndTime:   seg.End,
			Index:     i,
		})
	}

	if len(chunks) == 0 {
		slog.WarnContext(ctx, "no indexable segments", "video_id", videoID, "segments", len(segments))
		return 0, nil
	}

	stage(StageStoring)
	if err := p.store.UpsertChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}

	slog.InfoContext(ctx, "video indexed", "video_id", videoID, "chunks", len(chunks))
	return len(chunks), nil
}
