package weaviate

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"vidquery/internal/ingest"
	"vidquery/internal/retrieval"
	"vidquery/internal/vector"
)

// maxChunksPerVideo bounds GetChunks; a multi-hour transcript stays well
// under this.
const maxChunksPerVideo = 10000

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewWeaviateClientAdapter(s.client))
}

// UpsertChunks stores all chunks in one batch. Chunk ids are caller-supplied
// UUIDs, so re-sending the same ids overwrites instead of duplicating. Any
// per-object failure fails the call; a chunk is stored whole or not at all.
func (s *Store) UpsertChunks(ctx context.Context, chunks []ingest.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(chunks))
	for _, c := range chunks {
		objects = append(objects, &models.Object{
			Class: vector.ClassTranscriptChunk,
			ID:    strfmt.UUID(c.ID),
			Properties: map[string]interface{}{
				"content":    c.Text,
				"videoId":    c.VideoID,
				"videoPath":  c.VideoPath,
				"startTime":  c.StartTime,
				"endTime":    c.EndTime,
				"chunkIndex": c.Index,
			},
			Vector: c.Vector,
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().
		WithObjects(objects...).
		Do(ctx)
	if err != nil {
		return err
	}

	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch object %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// Query returns up to topK chunks matching every filter entry exactly,
// ordered by ascending vector distance. Ties are broken by chunkIndex
// (insertion order) for determinism. An empty store or a filter with no
// matches yields an empty slice, not an error.
func (s *Store) Query(ctx context.Context, queryVector []float32, topK int, filterValues map[string]string) ([]retrieval.Match, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(queryVector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "videoId"},
		{Name: "videoPath"},
		{Name: "startTime"},
		{Name: "endTime"},
		{Name: "chunkIndex"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	query := s.client.GraphQL().Get().
		WithClassName(vector.ClassTranscriptChunk).
		WithNearVector(nearVector).
		WithLimit(topK).
		WithFields(fields...)

	if where := buildWhere(filterValues); where != nil {
		query = query.WithWhere(where)
	}

	res, err := query.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var matches []retrieval.Match
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if rawChunks, ok := data[vector.ClassTranscriptChunk].([]interface{}); ok {
			for _, c := range rawChunks {
				props, ok := c.(map[string]interface{})
				if !ok {
					continue
				}
				m := retrieval.Match{}
				if content, ok := props["content"].(string); ok {
					m.Text = content
				}
				if videoID, ok := props["videoId"].(string); ok {
					m.VideoID = videoID
				}
				if videoPath, ok := props["videoPath"].(string); ok {
					m.VideoPath = videoPath
				}
				if start, ok := props["startTime"].(float64); ok {
					m.StartTime = start
				}
				if end, ok := props["endTime"].(float64); ok {
					m.EndTime = end
				}
				if idx, ok := props["chunkIndex"].(float64); ok {
					m.ChunkIndex = int(idx)
				}
				if additional, ok := props["_additional"].(map[string]interface{}); ok {
					if dist, ok := additional["distance"].(float64); ok {
						m.Distance = float32(dist)
					}
				}
				matches = append(matches, m)
			}
		}
	}

	// Weaviate already returns closest-first; re-sort stably so equal
	// distances resolve to the earliest-inserted chunk.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ChunkIndex < matches[j].ChunkIndex
	})

	return matches, nil
}

// GetChunks returns all stored chunks of one video in transcript order.
// Vectors are not read back.
func (s *Store) GetChunks(ctx context.Context, videoID string) ([]ingest.Chunk, error) {
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "videoId"},
		{Name: "videoPath"},
		{Name: "startTime"},
		{Name: "endTime"},
		{Name: "chunkIndex"},
	}

	where := filters.Where().
		WithOperator(filters.Equal).
		WithPath([]string{"videoId"}).
		WithValueString(videoID)

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassTranscriptChunk).
		WithWhere(where).
		WithLimit(maxChunksPerVideo).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var chunks []ingest.Chunk
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if rawChunks, ok := data[vector.ClassTranscriptChunk].([]interface{}); ok {
			for _, c := range rawChunks {
				props, ok := c.(map[string]interface{})
				if !ok {
					continue
				}
				chunk := ingest.Chunk{}
				if content, ok := props["content"].(string); ok {
					chunk.Text = content
				}
				if id, ok := props["videoId"].(string); ok {
					chunk.VideoID = id
				}
				if path, ok := props["videoPath"].(string); ok {
					chunk.VideoPath = path
				}
				if start, ok := props["startTime"].(float64); ok {
					chunk.StartTime = start
				}
				if end, ok := props["endTime"].(float64); ok {
					chunk.EndTime = end
				}
				if idx, ok := props["chunkIndex"].(float64); ok {
					chunk.Index = int(idx)
				}
				chunks = append(chunks, chunk)
			}
		}
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

// DeleteChunks removes every chunk of one video.
func (s *Store) DeleteChunks(ctx context.Context, videoID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassTranscriptChunk).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"videoId"}).
			WithOperator(filters.Equal).
			WithValueString(videoID)).
		Do(ctx)
	return err
}

// CountChunks returns the total number of stored chunks across all videos.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassTranscriptChunk).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	if data, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if rows, ok := data[vector.ClassTranscriptChunk].([]interface{}); ok && len(rows) > 0 {
			if row, ok := rows[0].(map[string]interface{}); ok {
				if meta, ok := row["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}

func buildWhere(filterValues map[string]string) *filters.WhereBuilder {
	if len(filterValues) == 0 {
		return nil
	}

	// Deterministic operand order keeps generated queries stable.
	keys := make([]string, 0, len(filterValues))
	for k := range filterValues {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	operands := make([]*filters.WhereBuilder, 0, len(keys))
	for _, k := range keys {
		operands = append(operands, filters.Where().
			WithPath([]string{k}).
			WithOperator(filters.Equal).
			WithValueString(filterValues[k]))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}
