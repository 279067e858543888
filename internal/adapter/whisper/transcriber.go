package whisper

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"vidquery/internal/ingest"
)

// Transcriber turns a media file into timestamped transcript segments using
// the Whisper audio API. It works against any OpenAI-compatible endpoint, so
// a self-hosted whisper server can be swapped in through the base URL.
type Transcriber struct {
	client *openai.Client
	model  string
}

func New(apiKey, baseURL, model string) *Transcriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Transcriber{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (t *Transcriber) Transcribe(ctx context.Context, mediaPath string) ([]ingest.Segment, error) {
	slog.InfoContext(ctx, "transcribing media", "path", mediaPath, "model", t.model)

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: mediaPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription: %w", err)
	}

	segments := make([]ingest.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, ingest.Segment{
			Text:  s.Text,
			Start: s.Start,
			End:   s.End,
		})
	}

	// Some endpoints return only flat text for very short clips. Treat the
	// whole transcript as one segment rather than losing it.
	if len(segments) == 0 && resp.Text != "" {
		segments = append(segments, ingest.Segment{
			Text:  resp.Text,
			Start: 0,
			End:   resp.Duration,
		})
	}

	return segments, nil
}
