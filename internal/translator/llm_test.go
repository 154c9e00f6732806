package translator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"subtrans/internal/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (Provider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := llm.NewClient(&llm.Config{
		APIKey:      "test-key",
		APIURL:      server.URL,
		MaxTokens:   1000,
		Temperature: 0.3,
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err)
	return NewLLMTranslator(client, "test/model"), server
}

func respondWith(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(llm.ChatResponse{
			Choices: []llm.Choice{{Message: llm.Message{Role: "assistant", Content: content}}},
		})
	}
}

func TestTranslateReturnsOrderedResults(t *testing.T) {
	provider, _ := newTestProvider(t, respondWith("Első.\n<<<SUB>>>\nMásodik."))

	results, err := provider.Translate(context.Background(), Request{
		Units:  []Unit{{ID: 3, Text: "First."}, {ID: 7, Text: "Second."}},
		Source: language.English,
		Target: language.Hungarian,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, Result{ID: 3, Text: "Első."}, results[0])
	assert.Equal(t, Result{ID: 7, Text: "Második."}, results[1])
}

func TestTranslateCountMismatchDiscardsCall(t *testing.T) {
	provider, _ := newTestProvider(t, respondWith("Csak egy."))

	_, err := provider.Translate(context.Background(), Request{
		Units:  []Unit{{ID: 0, Text: "One."}, {ID: 1, Text: "Two."}},
		Target: language.Hungarian,
	})
	require.Error(t, err)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Expected)
	assert.Equal(t, 1, pe.Got)
	assert.Equal(t, "test/model", pe.Provider)
}

func TestTranslateWrapsAPIFailure(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	_, err := provider.Translate(context.Background(), Request{
		Units:  []Unit{{ID: 0, Text: "One."}},
		Target: language.Hungarian,
	})
	require.Error(t, err)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "API call failed", pe.Reason)
	require.NotNil(t, pe.Err)
}

func TestTranslatePromptCarriesUnitsAndContext(t *testing.T) {
	var gotRequest llm.ChatRequest
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotRequest)
		respondWith("Jó.")(w, r)
	})

	_, err := provider.Translate(context.Background(), Request{
		Units:   []Unit{{ID: 0, Text: "Fine."}},
		Context: []Exchange{{Source: "Hello.", Translated: "Szia."}},
		Source:  language.English,
		Target:  language.Hungarian,
	})
	require.NoError(t, err)

	require.Len(t, gotRequest.Messages, 2)
	system := gotRequest.Messages[0].Content
	user := gotRequest.Messages[1].Content
	assert.Contains(t, system, "English")
	assert.Contains(t, system, "Hungarian")
	assert.Contains(t, user, "Hello. => Szia.")
	assert.Contains(t, user, "Fine.")
	assert.True(t, strings.Contains(system, unitSeparator))
}

func TestTranslateAutoDetectPrompt(t *testing.T) {
	var system string
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		system = req.Messages[0].Content
		respondWith("Jó.")(w, r)
	})

	_, err := provider.Translate(context.Background(), Request{
		Units:  []Unit{{ID: 0, Text: "Fine."}},
		Source: language.Und,
		Target: language.Hungarian,
	})
	require.NoError(t, err)
	assert.Contains(t, system, "auto-detect")
}

func TestTranslateEmptyRequest(t *testing.T) {
	provider, _ := newTestProvider(t, respondWith("unused"))
	results, err := provider.Translate(context.Background(), Request{Target: language.Hungarian})
	require.NoError(t, err)
	assert.Empty(t, results)
}
