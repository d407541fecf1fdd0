package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeminiGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		require.Equal(t, "k", r.URL.Query().Get("key"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		require.Equal(t, "인터뷰 기록", req.Contents[0].Parts[0].Text)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{"text": "나는 "}, {"text": "태어났다.\n"}},
				},
			}},
		})
	}))
	defer srv.Close()

	c := NewGeminiClient("k", "test-model")
	c.BaseURL = srv.URL
	got, err := c.Generate(context.Background(), "인터뷰 기록")
	require.NoError(t, err)
	require.Equal(t, "나는 태어났다.", got, "parts concatenated and trimmed")
}

func TestGeminiGenerateRequiresKey(t *testing.T) {
	c := NewGeminiClient("", "m")
	_, err := c.Generate(context.Background(), "x")
	require.Error(t, err)
}

func TestGeminiGenerateErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewGeminiClient("k", "m")
	c.BaseURL = srv.URL
	_, err := c.Generate(context.Background(), "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status=429")
}

func TestGeminiGenerateEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	}))
	defer srv.Close()

	c := NewGeminiClient("k", "m")
	c.BaseURL = srv.URL
	_, err := c.Generate(context.Background(), "x")
	require.Error(t, err)
}
