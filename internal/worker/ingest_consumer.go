package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"
	"vidquery/internal/middleware"
)

// ingestTimeout bounds one full transcribe-embed-store run. Long videos take
// minutes through the transcription API, so this is deliberately generous.
const ingestTimeout = 30 * time.Minute

// IngestConsumer drives the full pipeline for one video per message and
// records each stage on the video row. A failed run marks the video failed
// and consumes the message; re-running is an explicit reindex, not a queue
// retry.
type IngestConsumer struct {
	pipeline PipelineRunner
	videos   VideoStatusUpdater
}

func NewIngestConsumer(p PipelineRunner, v VideoStatusUpdater) *IngestConsumer {
	return &IngestConsumer{
		pipeline: p,
		videos:   v,
	}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if payload.VideoID == "" || payload.Path == "" {
		slog.Error("poison pill: missing video_id or path", "video_id", payload.VideoID)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	runCtx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	slog.InfoContext(ctx, "ingest started", "video_id", payload.VideoID, "name", payload.Name)

	onStage := func(stage string) {
		if err := h.videos.UpdateStatus(runCtx, payload.VideoID, stage); err != nil {
			slog.WarnContext(ctx, "failed to update video status", "error", err, "video_id", payload.VideoID, "stage", stage)
		}
	}

	count, err := h.pipeline.Run(runCtx, payload.VideoID, payload.Path, onStage)
	if err != nil {
		slog.ErrorContext(ctx, "ingest failed", "error", err, "video_id", payload.VideoID)
		if setErr := h.videos.SetFailure(runCtx, payload.VideoID, err.Error()); setErr != nil {
			slog.ErrorContext(ctx, "failed to record failure", "error", setErr, "video_id", payload.VideoID)
		}
		return nil
	}

	if err := h.videos.SetReady(runCtx, payload.VideoID, count); err != nil {
		slog.ErrorContext(ctx, "failed to mark video ready", "error", err, "video_id", payload.VideoID)
		return nil
	}

	slog.InfoContext(ctx, "ingest complete", "video_id", payload.VideoID, "chunks", count)
	return nil
}
