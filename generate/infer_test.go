package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	poemlet "github.com/Paranoid-AF/poemlet"
)

func testParams() SamplingParams {
	return DefaultSampling().Params(80, ZephyrEOS)
}

func TestCompletionsGeneratorRequestShape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"text":"one\ntwo"},{"text":"three"}]}`))
	}))
	defer srv.Close()

	g := NewCompletionsGenerator(srv.URL+"/v1", "sk-test", "tinyllama", time.Second)
	gens, err := g.Generate(context.Background(), "<|user|>\nhi</s>\n", testParams())
	require.NoError(t, err)
	require.Len(t, gens, 2)
	assert.Equal(t, "one\ntwo", gens[0].Text)

	assert.Equal(t, "tinyllama", got["model"])
	assert.Equal(t, "<|user|>\nhi</s>\n", got["prompt"])
	assert.EqualValues(t, 80, got["max_tokens"])
	assert.EqualValues(t, 0.8, got["temperature"])
	assert.EqualValues(t, 0.9, got["top_p"])
	assert.EqualValues(t, 50, got["top_k"])
	assert.EqualValues(t, 1.08, got["repetition_penalty"])
	assert.EqualValues(t, 1, got["n"])
	assert.Equal(t, false, got["echo"])
	assert.NotContains(t, got, "no_repeat_ngram_size")
	assert.NotContains(t, got, "pad_token_id")
}

func TestCompletionsGeneratorNoAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	gens, err := NewCompletionsGenerator(srv.URL, "", "m", time.Second).Generate(context.Background(), "p", testParams())
	require.NoError(t, err)
	assert.Empty(t, gens)
}

func TestCompletionsGeneratorHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("model loading"))
	}))
	defer srv.Close()

	_, err := NewCompletionsGenerator(srv.URL, "", "m", time.Second).Generate(context.Background(), "p", testParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorContains(t, err, "status 503")
	assert.ErrorContains(t, err, "model loading")
}

func TestCompletionsGeneratorAPIErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"context length exceeded","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := NewCompletionsGenerator(srv.URL, "", "m", time.Second).Generate(context.Background(), "p", testParams())
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorContains(t, err, "context length exceeded")
}

func TestCompletionsGeneratorMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewCompletionsGenerator(srv.URL, "", "m", time.Second).Generate(context.Background(), "p", testParams())
	assert.ErrorIs(t, err, ErrGeneration)
}

func TestOllamaGeneratorRequestShape(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/generate":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{"response":"moss on stone\nrain","done":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewOllamaGenerator(srv.URL, "qwen2.5:0.5b", time.Second)
	require.NoError(t, g.Ping(context.Background()))

	gens, err := g.Generate(context.Background(), "<|im_start|>user\nhi<|im_end|>\n", testParams())
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, "moss on stone\nrain", gens[0].Text)

	assert.Equal(t, "qwen2.5:0.5b", got.Model)
	assert.True(t, got.Raw)
	assert.False(t, got.Stream)
	assert.Equal(t, 80, got.Options.NumPredict)
	assert.Equal(t, 0.8, got.Options.Temperature)
	assert.Equal(t, 0.9, got.Options.TopP)
	assert.Equal(t, 50, got.Options.TopK)
	assert.Equal(t, 1.08, got.Options.RepeatPenalty)
}

func TestOllamaGeneratorErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model 'x' not found"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator(srv.URL, "x", time.Second).Generate(context.Background(), "p", testParams())
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorContains(t, err, "not found")
}

func TestGenerateGreedyDisablesTemperature(t *testing.T) {
	var got completionsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"text":"x"}]}`))
	}))
	defer srv.Close()

	params := testParams()
	params.DoSample = false
	_, err := NewCompletionsGenerator(srv.URL, "", "m", time.Second).Generate(context.Background(), "p", params)
	require.NoError(t, err)
	assert.Zero(t, got.Temperature)
}

func TestBackendLoaderOpenAIEndToEnd(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompt = req.Prompt
		_, _ = w.Write([]byte(`{"choices":[{"text":"1. glittering streets\n2. reflections ripple softly\n3. midnight hum returns\n4. lights fade into dawn"}]}`))
	}))
	defer srv.Close()

	gen := poemlet.DefaultConfig().Generation
	gen.Backend = "openai"
	gen.BaseURL = srv.URL
	gen.ChatTemplate = "chatml"

	e := NewEngineWithLoader(NewLoader(NewBackendLoader(gen)), WithSampling(SamplingFromConfig(gen)))
	defer e.Close()

	res, err := e.Generate(context.Background(), poemlet.NewPoemConfig("city rain"))
	require.NoError(t, err)
	assert.Equal(t, SourceModel, res.Source)
	assert.Equal(t, []string{"glittering streets", "reflections ripple softly", "midnight hum returns", "lights fade into dawn"}, res.Lines())
	assert.Contains(t, prompt, "<|im_start|>system\n"+SystemPrompt+"<|im_end|>")
	assert.Contains(t, prompt, "<|im_start|>assistant\n")
}

func TestBackendLoaderOpenAIWithoutBaseURL(t *testing.T) {
	gen := poemlet.DefaultConfig().Generation
	gen.Backend = "openai"
	gen.BaseURL = ""
	_, err := NewBackendLoader(gen)(context.Background())
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestBackendLoaderOllamaUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	gen := poemlet.DefaultConfig().Generation
	gen.Backend = "ollama"
	gen.BaseURL = url
	_, err := NewBackendLoader(gen)(context.Background())
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestBackendLoaderUnknownBackend(t *testing.T) {
	gen := poemlet.DefaultConfig().Generation
	gen.Backend = "tensorflow"
	_, err := NewBackendLoader(gen)(context.Background())
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.ErrorContains(t, err, "tensorflow")
}

func TestBackendLoaderUnknownTemplate(t *testing.T) {
	gen := poemlet.DefaultConfig().Generation
	gen.ChatTemplate = "alpaca"
	_, err := NewBackendLoader(gen)(context.Background())
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestBackendLoaderEOSOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	eos := 32000
	gen := poemlet.DefaultConfig().Generation
	gen.Backend = "openai"
	gen.BaseURL = srv.URL
	gen.EOSTokenID = &eos

	h, err := NewBackendLoader(gen)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 32000, h.Tokenizer.EOSTokenID())
}

func TestBackendLoaderLlamaCppMissingModel(t *testing.T) {
	bin := writeFakeLlama(t, "echo unused")
	gen := poemlet.DefaultConfig().Generation
	gen.Backend = "llamacpp"
	gen.LlamaBinary = bin
	gen.ModelPath = filepath.Join(t.TempDir(), "missing.gguf")

	_, err := NewBackendLoader(gen)(context.Background())
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestBackendLoaderLlamaCppEndToEnd(t *testing.T) {
	bin := writeFakeLlama(t, `printf 'amber lanterns sway\na kettle sighs\nsnow on the gatepost\nfrost on the wire\n[end of text]\n'`)
	model := filepath.Join(t.TempDir(), "tiny.gguf")
	require.NoError(t, os.WriteFile(model, []byte("gguf"), 0o644))

	gen := poemlet.DefaultConfig().Generation
	gen.Backend = "llamacpp"
	gen.LlamaBinary = bin
	gen.ModelPath = model

	e := NewEngineWithLoader(NewLoader(NewBackendLoader(gen)))
	res, err := e.Generate(context.Background(), poemlet.NewPoemConfig("winter"))
	require.NoError(t, err)
	assert.Equal(t, SourceModel, res.Source)
	assert.Equal(t, "amber lanterns sway\na kettle sighs\nsnow on the gatepost\nfrost on the wire", res.Poem)
}

// writeFakeLlama writes an executable shell script standing in for llama-cli.
func writeFakeLlama(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "llama-cli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}
