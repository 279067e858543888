package retrieval_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"vidquery/internal/retrieval"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockStore struct{ mock.Mock }

func (m *MockStore) Query(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]retrieval.Match, error) {
	args := m.Called(ctx, vector, topK, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.Match), args.Error(1)
}

type MockGenerator struct{ mock.Mock }

func (m *MockGenerator) Answer(ctx context.Context, contextText, question string) (string, error) {
	args := m.Called(ctx, contextText, question)
	return args.String(0), args.Error(1)
}

func TestService_Ask(t *testing.T) {
	catMatch := retrieval.Match{
		Text:      "the cat sat on the mat",
		VideoID:   "demo",
		VideoPath: "data/media/demo.mp4",
		StartTime: 12.5,
		EndTime:   15.0,
	}

	tests := []struct {
		name    string
		videoID string
		topK    int
		setup   func(*MockEmbedder, *MockStore, *MockGenerator)
		wantErr bool
		check   func(*testing.T, *retrieval.Answer)
	}{
		{
			name:    "Top Match With Generated Answer",
			videoID: "demo",
			topK:    1,
			setup: func(e *MockEmbedder, s *MockStore, g *MockGenerator) {
				e.On("Embed", mock.Anything, "where is the cat").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, []float32{0.1}, 1, map[string]string{"videoId": "demo"}).
					Return([]retrieval.Match{catMatch}, nil)
				g.On("Answer", mock.Anything, "the cat sat on the mat", "where is the cat").
					Return("On the mat.", nil)
			},
			check: func(t *testing.T, a *retrieval.Answer) {
				assert.True(t, a.Found)
				assert.Equal(t, "the cat sat on the mat", a.MatchedText)
				assert.Equal(t, 12.5, a.StartTime)
				assert.Equal(t, 15.0, a.EndTime)
				assert.Equal(t, "On the mat.", a.GeneratedAnswer)
				assert.True(t, a.Generated)
			},
		},
		{
			name:    "No Match Is Not An Error",
			videoID: "demo",
			topK:    1,
			setup: func(e *MockEmbedder, s *MockStore, g *MockGenerator) {
				e.On("Embed", mock.Anything, "where is the cat").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, []float32{0.1}, 1, map[string]string{"videoId": "demo"}).
					Return([]retrieval.Match{}, nil)
			},
			check: func(t *testing.T, a *retrieval.Answer) {
				assert.False(t, a.Found)
				assert.Empty(t, a.MatchedText)
			},
		},
		{
			name:    "Degrades When Generator Unavailable",
			videoID: "demo",
			topK:    1,
			setup: func(e *MockEmbedder, s *MockStore, g *MockGenerator) {
				e.On("Embed", mock.Anything, "where is the cat").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, []float32{0.1}, 1, map[string]string{"videoId": "demo"}).
					Return([]retrieval.Match{catMatch}, nil)
				g.On("Answer", mock.Anything, "the cat sat on the mat", "where is the cat").
					Return("", retrieval.ErrGenerationUnavailable)
			},
			check: func(t *testing.T, a *retrieval.Answer) {
				assert.True(t, a.Found)
				assert.Equal(t, "the cat sat on the mat", a.MatchedText)
				assert.Equal(t, 12.5, a.StartTime)
				assert.Equal(t, retrieval.AnswerUnavailable, a.GeneratedAnswer)
				assert.False(t, a.Generated)
			},
		},
		{
			name:    "Generator Hard Failure Propagates",
			videoID: "demo",
			topK:    1,
			setup: func(e *MockEmbedder, s *MockStore, g *MockGenerator) {
				e.On("Embed", mock.Anything, "where is the cat").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, []float32{0.1}, 1, map[string]string{"videoId": "demo"}).
					Return([]retrieval.Match{catMatch}, nil)
				g.On("Answer", mock.Anything, mock.Anything, mock.Anything).
					Return("", errors.New("rate limited"))
			},
			wantErr: true,
		},
		{
			name:    "Embedder Error Propagates",
			videoID: "demo",
			topK:    1,
			setup: func(e *MockEmbedder, s *MockStore, g *MockGenerator) {
				e.On("Embed", mock.Anything, "where is the cat").Return(nil, errors.New("unreachable"))
			},
			wantErr: true,
		},
		{
			name:    "Store Error Propagates",
			videoID: "demo",
			topK:    1,
			setup: func(e *MockEmbedder, s *MockStore, g *MockGenerator) {
				e.On("Embed", mock.Anything, "where is the cat").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, mock.Anything, 1, mock.Anything).
					Return(nil, errors.New("store down"))
			},
			wantErr: true,
		},
		{
			name:    "TopK Defaults To One",
			videoID: "demo",
			topK:    0,
			setup: func(e *MockEmbedder, s *MockStore, g *MockGenerator) {
				e.On("Embed", mock.Anything, "where is the cat").Return([]float32{0.1}, nil)
				s.On("Query", mock.Anything, []float32{0.1}, 1, map[string]string{"videoId": "demo"}).
					Return([]retrieval.Match{}, nil)
			},
			check: func(t *testing.T, a *retrieval.Answer) {
				assert.False(t, a.Found)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := &MockEmbedder{}
			store := &MockStore{}
			generator := &MockGenerator{}
			tt.setup(embedder, store, generator)

			var buf bytes.Buffer
			svc := retrieval.NewService(embedder, store, generator, retrieval.NewQueryLogger(&buf))

			answer, err := svc.Ask(context.Background(), tt.videoID, "where is the cat", tt.topK)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			if tt.check != nil {
				tt.check(t, answer)
			}
			embedder.AssertExpectations(t)
			store.AssertExpectations(t)
		})
	}
}

func TestAnswer_ZeroStartTimeSurvivesJSON(t *testing.T) {
	// A match at the very start of the video seeks to 0.0; the field must
	// still appear on the wire.
	payload, err := json.Marshal(&retrieval.Answer{
		Found:       true,
		MatchedText: "opening remarks",
		StartTime:   0,
		EndTime:     4.2,
	})
	assert.NoError(t, err)
	assert.Contains(t, string(payload), `"start_time":0`)
	assert.Contains(t, string(payload), `"end_time":4.2`)
}

func TestService_Ask_Deterministic(t *testing.T) {
	embedder := &MockEmbedder{}
	store := &MockStore{}
	generator := &MockGenerator{}

	embedder.On("Embed", mock.Anything, "q").Return([]float32{0.5}, nil)
	store.On("Query", mock.Anything, []float32{0.5}, 1, map[string]string{"videoId": "demo"}).
		Return([]retrieval.Match{{Text: "stable top match", StartTime: 3.0}}, nil)
	generator.On("Answer", mock.Anything, mock.Anything, mock.Anything).Return("", retrieval.ErrGenerationUnavailable)

	svc := retrieval.NewService(embedder, store, generator, nil)

	first, err := svc.Ask(context.Background(), "demo", "q", 1)
	assert.NoError(t, err)
	second, err := svc.Ask(context.Background(), "demo", "q", 1)
	assert.NoError(t, err)
	assert.Equal(t, first.MatchedText, second.MatchedText)
	assert.Equal(t, first.StartTime, second.StartTime)
}
