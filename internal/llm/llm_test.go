package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loqalabs/dyslu/internal/config"
	"github.com/loqalabs/dyslu/internal/hosted"
	"github.com/stretchr/testify/require"
)

func TestOpenAIGeneratorStreamsReply(t *testing.T) {
	var got struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
		Stream   bool      `json:"stream"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"I hear ", "you."} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	client, err := hosted.NewClient(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	gen := NewOpenAIGenerator(client, "gpt-3.5-turbo")
	req := Request{Messages: []Message{
		{Role: RoleSystem, Content: "You are Dyslu."},
		{Role: RoleUser, Content: "I feel sad"},
	}}
	out, err := Complete(context.Background(), gen, req)
	require.NoError(t, err)
	require.Equal(t, "I hear you.", out.Content)

	require.Equal(t, "gpt-3.5-turbo", got.Model)
	require.True(t, got.Stream)
	require.Equal(t, req.Messages, got.Messages)
}

func TestOpenAIGeneratorVendorFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	t.Cleanup(srv.Close)

	client, err := hosted.NewClient(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = Complete(context.Background(), NewOpenAIGenerator(client, ""), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
}

func TestOllamaGeneratorChat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"That sounds "},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"hard."},"done":true,"eval_count":4,"prompt_eval_count":12}`)
	}))
	t.Cleanup(srv.Close)

	gen := NewOllamaGenerator(srv.URL, "llama3")
	out, err := Complete(context.Background(), gen, Request{
		Messages:  []Message{{Role: RoleUser, Content: "I failed my test"}},
		MaxTokens: 64,
	})
	require.NoError(t, err)
	require.Equal(t, "That sounds hard.", out.Content)
	require.Equal(t, 4, out.CompletionTokens)
	require.Equal(t, 12, out.PromptTokens)
	require.Equal(t, "llama3", got.Model)
	require.Equal(t, 64, got.Options.NumPredict)
	require.Len(t, got.Messages, 1)
}

func TestOllamaGeneratorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := Complete(context.Background(), NewOllamaGenerator(srv.URL, ""), Request{})
	require.Error(t, err)
}

func TestMockGenerator(t *testing.T) {
	out, err := Complete(context.Background(), NewMockGenerator(""), Request{Messages: []Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleUser, Content: " hello "},
	}})
	require.NoError(t, err)
	require.Equal(t, "[mock completion for hello]", out.Content)

	out, err = Complete(context.Background(), NewMockGenerator("fixed"), Request{})
	require.NoError(t, err)
	require.Equal(t, "fixed", out.Content)
}

func TestMockGeneratorHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Complete(ctx, NewMockGenerator("x"), Request{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecGeneratorRejectsEmptyCommand(t *testing.T) {
	_, err := NewExecGenerator("   ")
	require.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	req := OptionsFromConfig(config.LLMConfig{Model: "m", MaxTokens: 10, Temperature: 0.5})
	require.Equal(t, "m", req.Model)
	require.Equal(t, 10, req.MaxTokens)
	require.InDelta(t, 0.5, req.Temperature, 1e-9)
}
