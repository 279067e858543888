package worker

import (
	"context"
)

type IngestPayload struct {
	VideoID       string `json:"video_id"`
	Path          string `json:"path"`
	Name          string `json:"name"`
	CorrelationID string `json:"correlation_id"`
}

type VideoStatusUpdater interface {
	UpdateStatus(ctx context.Context, id, status string) error
	SetReady(ctx context.Context, id string, chunkCount int) error
	SetFailure(ctx context.Context, id, errMsg string) error
}

type PipelineRunner interface {
	Run(ctx context.Context, videoID, videoPath string, onStage func(string)) (int, error)
}
