package weaviate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	adapter "vidquery/internal/adapter/weaviate"
	"vidquery/internal/ingest"
)

func mockWeaviate(t *testing.T, handler http.HandlerFunc) (*weaviate.Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	cfg := weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"}
	client, err := weaviate.NewClient(cfg)
	assert.NoError(t, err)
	return client, ts
}

func TestStore_UpsertChunks(t *testing.T) {
	var batched []map[string]interface{}
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, "POST", r.Method)

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		for _, o := range body["objects"].([]interface{}) {
			batched = append(batched, o.(map[string]interface{}))
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]map[string]interface{}{{"id": "1"}, {"id": "2"}})
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	chunks := []ingest.Chunk{
		{
			ID:        ingest.ChunkID("vid-1", 0),
			Text:      "the cat sat on the mat",
			Vector:    []float32{0.1, 0.2},
			VideoID:   "vid-1",
			VideoPath: "data/media/demo.mp4",
			StartTime: 12.5,
			EndTime:   15.0,
			Index:     0,
		},
		{
			ID:        ingest.ChunkID("vid-1", 1),
			Text:      "and then it slept",
			Vector:    []float32{0.3, 0.4},
			VideoID:   "vid-1",
			VideoPath: "data/media/demo.mp4",
			StartTime: 15.0,
			EndTime:   18.0,
			Index:     1,
		},
	}
	err := store.UpsertChunks(context.Background(), chunks)
	assert.NoError(t, err)

	assert.Len(t, batched, 2)
	props := batched[0]["properties"].(map[string]interface{})
	assert.Equal(t, "the cat sat on the mat", props["content"])
	assert.Equal(t, "vid-1", props["videoId"])
	assert.Equal(t, 12.5, props["startTime"])
	assert.Equal(t, 15.0, props["endTime"])
	// Deterministic id travels with the object, enabling overwrite on re-ingest
	assert.Equal(t, ingest.ChunkID("vid-1", 0), batched[0]["id"])
}

func TestStore_UpsertChunks_ObjectError(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{
				"id": "1",
				"result": map[string]interface{}{
					"errors": map[string]interface{}{
						"error": []map[string]interface{}{{"message": "vector length mismatch"}},
					},
				},
			},
		})
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	err := store.UpsertChunks(context.Background(), []ingest.Chunk{
		{ID: ingest.ChunkID("vid-1", 0), Text: "hello there world", Vector: []float32{0.1}, VideoID: "vid-1"},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "vector length mismatch")
}

func TestStore_Query(t *testing.T) {
	var gqlQuery string
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		assert.Equal(t, "/v1/graphql", r.URL.Path)

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		gqlQuery, _ = body["query"].(string)

		w.WriteHeader(http.StatusOK)
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"TranscriptChunk": []interface{}{
						map[string]interface{}{
							"content":    "the cat sat on the mat",
							"videoId":    "demo",
							"videoPath":  "data/media/demo.mp4",
							"startTime":  12.5,
							"endTime":    15.0,
							"chunkIndex": 3.0,
							"_additional": map[string]interface{}{
								"distance": 0.12,
							},
						},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	matches, err := store.Query(context.Background(), []float32{0.1, 0.2}, 1, map[string]string{"videoId": "demo"})
	assert.NoError(t, err)
	assert.Len(t, matches, 1)
	assert.Equal(t, "the cat sat on the mat", matches[0].Text)
	assert.Equal(t, "demo", matches[0].VideoID)
	assert.Equal(t, 12.5, matches[0].StartTime)
	assert.Equal(t, 15.0, matches[0].EndTime)
	assert.Equal(t, float32(0.12), matches[0].Distance)

	// The filter must scope the query to the requested video
	assert.Contains(t, gqlQuery, "videoId")
	assert.Contains(t, gqlQuery, "demo")
	assert.Contains(t, gqlQuery, "nearVector")
}

func TestStore_Query_Empty(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"TranscriptChunk": []interface{}{},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	matches, err := store.Query(context.Background(), []float32{0.1}, 1, map[string]string{"videoId": "missing"})
	assert.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStore_Query_TieBreakByChunkIndex(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"TranscriptChunk": []interface{}{
						map[string]interface{}{
							"content": "later chunk", "chunkIndex": 7.0,
							"_additional": map[string]interface{}{"distance": 0.2},
						},
						map[string]interface{}{
							"content": "earlier chunk", "chunkIndex": 2.0,
							"_additional": map[string]interface{}{"distance": 0.2},
						},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	matches, err := store.Query(context.Background(), []float32{0.1}, 2, nil)
	assert.NoError(t, err)
	assert.Len(t, matches, 2)
	assert.Equal(t, "earlier chunk", matches[0].Text)
	assert.Equal(t, "later chunk", matches[1].Text)
}

func TestStore_GetChunks(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"TranscriptChunk": []interface{}{
						map[string]interface{}{
							"content": "second", "chunkIndex": 1.0, "startTime": 5.0, "endTime": 10.0,
						},
						map[string]interface{}{
							"content": "first", "chunkIndex": 0.0, "startTime": 0.0, "endTime": 5.0,
						},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	chunks, err := store.GetChunks(context.Background(), "vid-1")
	assert.NoError(t, err)
	assert.Len(t, chunks, 2)
	// Returned in transcript order regardless of response order
	assert.Equal(t, "first", chunks[0].Text)
	assert.Equal(t, "second", chunks[1].Text)
}

func TestStore_DeleteChunks(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, "DELETE", r.Method)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{})
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	err := store.DeleteChunks(context.Background(), "vid-1")
	assert.NoError(t, err)
}

func TestStore_CountChunks(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.19.0"}`))
			return
		}
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		resp := map[string]interface{}{
			"data": map[string]interface{}{
				"Aggregate": map[string]interface{}{
					"TranscriptChunk": []interface{}{
						map[string]interface{}{
							"meta": map[string]interface{}{
								"count": 42.0,
							},
						},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	count, err := store.CountChunks(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 42, count)
}
