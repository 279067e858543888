package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrGenerationUnavailable marks the answer generator as unusable (typically
// no API key configured). It never fails a query; Ask degrades to a
// context-only answer.
var ErrGenerationUnavailable = errors.New("answer generation unavailable")

// AnswerUnavailable is the marker returned in place of a generated answer
// when the generator is unavailable.
const AnswerUnavailable = "AI answer unavailable: no generation API key configured"

// DefaultTopK is the interactive single-answer mode. Callers may request more
// matches for exploratory use.
const DefaultTopK = 1

// Match is one retrieved transcript chunk, closest first.
type Match struct {
	Text       string  `json:"text"`
	VideoID    string  `json:"video_id"`
	VideoPath  string  `json:"video_path"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	ChunkIndex int     `json:"chunk_index"`
	Distance   float32 `json:"distance"`
}

// Answer is the result of one question against one video.
type Answer struct {
	Found           bool    `json:"found"`
	MatchedText     string  `json:"matched_text,omitempty"`
	VideoPath       string  `json:"video_path,omitempty"`
	// Timestamps are always emitted; 0.0 is a valid seek target for a match
	// at the start of the video.
	StartTime       float64 `json:"start_time"`
	EndTime         float64 `json:"end_time"`
	GeneratedAnswer string  `json:"generated_answer,omitempty"`
	Generated       bool    `json:"generated"`
	Matches         []Match `json:"matches,omitempty"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	Query(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]Match, error)
}

// Generator produces an answer grounded in the supplied context text only.
type Generator interface {
	Answer(ctx context.Context, contextText, question string) (string, error)
}

type Service struct {
	embedder  Embedder
	store     VectorStore
	generator Generator
	logger    *QueryLogger
}

func NewService(e Embedder, s VectorStore, g Generator, l *QueryLogger) *Service {
	return &Service{embedder: e, store: s, generator: g, logger: l}
}

// Ask answers one question scoped to one video. No match is a valid empty
// outcome, not an error. A missing generator credential degrades the answer
// to the retrieved context and timestamp.
func (s *Service) Ask(ctx context.Context, videoID, question string, topK int) (*Answer, error) {
	start := time.Now()
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	matches, err := s.store.Query(ctx, vec, topK, map[string]string{"videoId": videoID})
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Log(QueryLogEntry{
			VideoID:    videoID,
			Query:      question,
			NumResults: len(matches),
			Duration:   time.Since(start),
		})
	}

	if len(matches) == 0 {
		return &Answer{Found: false}, nil
	}

	top := matches[0]
	answer := &Answer{
		Found:       true,
		MatchedText: top.Text,
		VideoPath:   top.VideoPath,
		StartTime:   top.StartTime,
		EndTime:     top.EndTime,
		Matches:     matches,
	}

	// The generator only ever sees the top match: answers must be grounded
	// in the retrieved context, nothing else.
	generated, err := s.generator.Answer(ctx, top.Text, question)
	if err != nil {
		if errors.Is(err, ErrGenerationUnavailable) {
			slog.WarnContext(ctx, "answer generation unavailable, returning context only", "video_id", videoID)
			answer.GeneratedAnswer = AnswerUnavailable
			return answer, nil
		}
		return nil, err
	}

	answer.GeneratedAnswer = generated
	answer.Generated = true
	return answer, nil
}
