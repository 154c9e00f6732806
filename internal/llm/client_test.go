package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) *Config {
	return &Config{
		APIKey:      "test-key",
		APIURL:      url,
		MaxTokens:   1000,
		Temperature: 0.3,
		Timeout:     5 * time.Second,
	}
}

func TestCompleteSendsModelAndPrompts(t *testing.T) {
	var gotRequest ChatRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
		json.NewEncoder(w).Encode(ChatResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: "Szia."}}},
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	content, err := client.Complete(context.Background(), "test/model", "system prompt", "user prompt")
	require.NoError(t, err)

	assert.Equal(t, "Szia.", content)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test/model", gotRequest.Model)
	require.Len(t, gotRequest.Messages, 2)
	assert.Equal(t, "system", gotRequest.Messages[0].Role)
	assert.Equal(t, "user prompt", gotRequest.Messages[1].Content)
}

func TestCompleteReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChatResponse{
			Error: &Error{Message: "model not found", Type: "invalid_request_error"},
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "missing/model", "", "hello")
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "model not found", apiErr.Message)
}

func TestCompleteRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "test/model", "", "hello")
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.RateLimited())
}

func TestNewClientRejectsBadConfig(t *testing.T) {
	_, err := NewClient(&Config{APIURL: "http://localhost", MaxTokens: 100, Timeout: time.Minute})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}
