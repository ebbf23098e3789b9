package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/menu-labeler/internal/labels"
)

type capturedRequest struct {
	Model          string `json:"model"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL struct {
				URL string `json:"url"`
			} `json:"image_url"`
		} `json:"content"`
	} `json:"messages"`
}

func completionBody(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts.BaseURL = server.URL
	if opts.Model == "" {
		opts.Model = "test-model"
	}
	return NewOpenAIClient(opts, zap.NewNop())
}

func TestCompleteSendsPromptAndInlineImage(t *testing.T) {
	var captured capturedRequest
	var authHeader string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		authHeader = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody(`{"menu_photo":"yes"}`))
	}, Options{APIKey: "sk-test"})

	reply, err := client.Complete(context.Background(), "describe", "QUJD")

	require.NoError(t, err)
	assert.Equal(t, `{"menu_photo":"yes"}`, reply)
	assert.Equal(t, "Bearer sk-test", authHeader)
	assert.Equal(t, "test-model", captured.Model)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
	require.Len(t, captured.Messages[0].Content, 2)
	assert.Equal(t, "text", captured.Messages[0].Content[0].Type)
	assert.Equal(t, "describe", captured.Messages[0].Content[0].Text)
	assert.Equal(t, "image_url", captured.Messages[0].Content[1].Type)
	assert.Equal(t, "data:image/jpeg;base64,QUJD", captured.Messages[0].Content[1].ImageURL.URL)
}

func TestCompleteReturnsServiceErrorOnAPIFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}, Options{})

	_, err := client.Complete(context.Background(), "p", "QUJD")

	require.Error(t, err)
	assert.ErrorIs(t, err, labels.ErrService)
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, http.StatusTooManyRequests, svcErr.StatusCode)
}

func TestCompleteDoesNotRetry(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	}, Options{})

	_, err := client.Complete(context.Background(), "p", "QUJD")

	assert.ErrorIs(t, err, labels.ErrService)
	assert.Equal(t, 1, calls)
}

func TestCompleteRejectsEmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := completionBody("")
		body["choices"] = []map[string]any{}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}, Options{})

	_, err := client.Complete(context.Background(), "p", "QUJD")

	assert.ErrorIs(t, err, labels.ErrService)
}

func TestCompleteHonoursTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, Options{Timeout: 20 * time.Millisecond})
	defer close(release)

	_, err := client.Complete(context.Background(), "p", "QUJD")

	assert.ErrorIs(t, err, labels.ErrService)
}

func TestDataURL(t *testing.T) {
	assert.Equal(t, "data:image/jpeg;base64,xyz", DataURL("xyz"))
}
