package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"baguette-chat-go/internal/config"
	"baguette-chat-go/internal/prompt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, fragments []string, check func(completionRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		var req completionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if check != nil {
			check(req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range fragments {
			b, _ := json.Marshal(map[string]any{"choices": []map[string]string{{"text": f}}})
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamCompletion(t *testing.T) {
	srv := sseServer(t, []string{"<think>", "hi", "<|im_end|>"}, func(req completionRequest) {
		assert.True(t, req.Stream)
		assert.False(t, req.SkipSpecialTokens)
		assert.Equal(t, 128, req.MaxTokens)
		assert.Zero(t, req.Temperature)
		assert.Nil(t, req.TopK)
	})
	defer srv.Close()

	reg := NewRegistry(config.LLMConfig{BaseURL: srv.URL + "/v1"})
	var got []string
	err := reg.Get("m").StreamCompletion(context.Background(), "p", prompt.GenerationParams{MaxNewTokens: 128, RepetitionPenalty: 1.1}, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"<think>", "hi", "<|im_end|>"}, got)
}

func TestStreamCompletionLastLineWithoutNewline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"text":"hello"}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"text":"<|im_end|>"}]}`)
	}))
	defer srv.Close()

	reg := NewRegistry(config.LLMConfig{BaseURL: srv.URL})
	var got []string
	err := reg.Get("m").StreamCompletion(context.Background(), "p", prompt.GenerationParams{}, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "<|im_end|>"}, got)
}

func TestStreamCompletionStopAndError(t *testing.T) {
	srv := sseServer(t, []string{"a", "b", "c"}, nil)
	defer srv.Close()
	c := NewRegistry(config.LLMConfig{BaseURL: srv.URL + "/v1"}).Get("m")

	var n int
	err := c.StreamCompletion(context.Background(), "p", prompt.GenerationParams{}, func(string) error {
		n++
		if n == 2 {
			return ErrStopped
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	boom := errors.New("socket closed")
	err = c.StreamCompletion(context.Background(), "p", prompt.GenerationParams{}, func(string) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestBuildCompletionRequestSampling(t *testing.T) {
	temp, topP, topK := 0.8, 0.95, 40
	req := buildCompletionRequest("m", "p", prompt.GenerationParams{DoSample: true, Temperature: &temp, TopP: &topP, TopK: &topK, MaxNewTokens: 10})
	assert.InDelta(t, 0.8, req.Temperature, 1e-9)
	assert.Equal(t, &topP, req.TopP)
	assert.Equal(t, &topK, req.TopK)
}

func TestCountTokensIsCached(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tokenize", r.URL.Path)
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"count":7,"tokens":[1,2,3,4,5,6,7]}`))
	}))
	defer srv.Close()

	c := NewRegistry(config.LLMConfig{BaseURL: srv.URL + "/v1"}).Get("m")
	for i := 0; i < 3; i++ {
		n, err := c.CountTokens(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, 7, n)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRegistryReusesClientsAndAppliesOverrides(t *testing.T) {
	reg := NewRegistry(config.LLMConfig{
		BaseURL: "http://default/v1",
		Models:  []config.LLMModelConfig{{Name: "PleIAs/Monad", BaseURL: "http://monad/v1"}},
	})

	a := reg.Get("PleIAs/Baguettotron")
	assert.Same(t, a, reg.Get("PleIAs/Baguettotron"))
	assert.Equal(t, "http://default/v1", a.(*completionClient).baseURL)
	assert.Equal(t, "http://monad/v1", reg.Get("PleIAs/Monad").(*completionClient).baseURL)
	assert.Equal(t, "PleIAs/Monad", reg.Get("PleIAs/Monad").Model())
}

func TestTokenizeURL(t *testing.T) {
	assert.Equal(t, "http://h:8000/tokenize", tokenizeURL("http://h:8000/v1"))
	assert.Equal(t, "http://h:8000/tokenize", tokenizeURL("http://h:8000/v1/"))
	assert.Equal(t, "http://h:8000/tokenize", tokenizeURL("http://h:8000"))
}
