package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"vidquery/internal/config"
	"vidquery/internal/ingest"
	"vidquery/internal/middleware"
)

// ErrAcquisition marks a failure to obtain the media file itself, before
// any processing starts.
var ErrAcquisition = errors.New("video acquisition failed")

// Status values a video moves through. The worker reports the processing
// stages; queued, ready and failed are set by the service and worker.
const (
	StatusQueued = "queued"
	StatusReady  = "ready"
	StatusFailed = "failed"
)

type Video struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Path       string `json:"-"`
	SourceURL  string `json:"source_url,omitempty"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type Repository interface {
	Save(ctx context.Context, v *Video) error
	Get(ctx context.Context, id string) (*Video, error)
	List(ctx context.Context) ([]Video, error)
	UpdateStatus(ctx context.Context, id, status string) error
	SetReady(ctx context.Context, id string, chunkCount int) error
	SetFailure(ctx context.Context, id, errMsg string) error
	SoftDelete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type ChunkStore interface {
	GetChunks(ctx context.Context, videoID string) ([]ingest.Chunk, error)
	DeleteChunks(ctx context.Context, videoID string) error
}

type Downloader interface {
	Download(ctx context.Context, url string) (path, title string, err error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo       Repository
	pub        EventPublisher
	chunkStore ChunkStore
	downloader Downloader
}

func NewService(repo Repository, pub EventPublisher, chunkStore ChunkStore, downloader Downloader) *Service {
	return &Service{repo: repo, pub: pub, chunkStore: chunkStore, downloader: downloader}
}

// CreateFromUpload registers an already-saved media file and queues it for
// transcription and indexing.
func (s *Service) CreateFromUpload(ctx context.Context, name, path string) (*Video, error) {
	v := &Video{
		Name:   name,
		Path:   path,
		Status: StatusQueued,
	}
	if err := s.repo.Save(ctx, v); err != nil {
		return nil, err
	}

	s.publishIngest(ctx, v)
	return v, nil
}

// CreateFromURL downloads the video first, so an unreachable URL fails the
// request instead of producing a row that can never become ready.
func (s *Service) CreateFromURL(ctx context.Context, name, url string) (*Video, error) {
	path, title, err := s.downloader.Download(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquisition, err)
	}

	if name == "" {
		name = title
	}

	v := &Video{
		Name:      name,
		Path:      path,
		SourceURL: url,
		Status:    StatusQueued,
	}
	if err := s.repo.Save(ctx, v); err != nil {
		return nil, err
	}

	s.publishIngest(ctx, v)
	return v, nil
}

type VideoDetail struct {
	Video
	Chunks      []ingest.Chunk `json:"chunks"`
	TotalChunks int            `json:"total_chunks"`
}

func (s *Service) Get(ctx context.Context, id string, includeChunks bool) (*VideoDetail, error) {
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &VideoDetail{Video: *v, Chunks: []ingest.Chunk{}}
	if !includeChunks {
		return detail, nil
	}

	chunks, err := s.chunkStore.GetChunks(ctx, id)
	if err != nil {
		slog.Warn("failed to fetch chunks", "error", err, "video_id", id)
		chunks = []ingest.Chunk{}
	}
	detail.Chunks = chunks
	detail.TotalChunks = len(chunks)
	return detail, nil
}

func (s *Service) List(ctx context.Context) ([]Video, error) {
	return s.repo.List(ctx)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.chunkStore.DeleteChunks(ctx, id); err != nil {
		return err
	}
	return s.repo.SoftDelete(ctx, id)
}

// Reindex re-runs the full pipeline for a video. Existing chunks are cleared
// first so a shorter re-transcription leaves no stale tail; chunk ids are
// deterministic, so repeated runs converge on the same index state.
func (s *Service) Reindex(ctx context.Context, id string) error {
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.chunkStore.DeleteChunks(ctx, id); err != nil {
		return err
	}

	if err := s.repo.UpdateStatus(ctx, id, StatusQueued); err != nil {
		return err
	}

	s.publishIngest(ctx, v)
	return nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func (s *Service) publishIngest(ctx context.Context, v *Video) {
	payload, _ := json.Marshal(map[string]interface{}{
		"video_id":       v.ID,
		"path":           v.Path,
		"name":           v.Name,
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicVideoIngest, payload); err != nil {
		slog.Error("failed to publish ingest event", "error", err, "video_id", v.ID)
	} else {
		slog.Info("published ingest event", "video_id", v.ID, "name", v.Name)
	}
}
