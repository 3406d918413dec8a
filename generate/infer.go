package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	poemlet "github.com/Paranoid-AF/poemlet"
	"github.com/Paranoid-AF/poemlet/model/inference"
)

// ErrGeneration is returned when a backend fails to produce text.
var ErrGeneration = errors.New("generation failed")

// NewBackendLoader returns a LoadFunc for the backend named in gen.
// gen is expected to have passed through poemlet.ResolveGeneration.
func NewBackendLoader(gen poemlet.GenerationConfig) LoadFunc {
	return func(ctx context.Context) (*Handle, error) {
		tmpl, err := LookupChatTemplate(gen.ChatTemplate)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		}
		if gen.EOSTokenID != nil && *gen.EOSTokenID >= 0 {
			tmpl = tmpl.WithEOS(*gen.EOSTokenID)
		}

		timeout := time.Duration(gen.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 120 * time.Second
		}

		var p Pipeline
		closeFn := func() {}
		switch gen.Backend {
		case "openai":
			if gen.BaseURL == "" {
				return nil, fmt.Errorf("%w: openai backend needs a base URL; set POEMLET_GENERATION_API_BASE_URL", ErrModelUnavailable)
			}
			g := NewCompletionsGenerator(gen.BaseURL, gen.APIKey, gen.Model, timeout)
			p, closeFn = g, g.Close
		case "ollama":
			baseURL := gen.BaseURL
			if baseURL == "" {
				baseURL = DefaultOllamaURL
			}
			g := NewOllamaGenerator(baseURL, gen.Model, timeout)
			if err := g.Ping(ctx); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
			}
			p, closeFn = g, g.Close
		case "llamacpp", "":
			r, err := inference.NewRunner(gen.LlamaBinary, gen.ModelPath)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
			}
			p, closeFn = &runnerPipeline{runner: r, timeout: timeout}, r.Close
		default:
			return nil, fmt.Errorf("%w: unknown backend %q", ErrModelUnavailable, gen.Backend)
		}

		return &Handle{Pipeline: p, Tokenizer: tmpl, Close: closeFn}, nil
	}
}

// --- Completions API ---

// CompletionsGenerator calls an OpenAI-compatible /completions endpoint
// (vLLM, llama-server, TGI) with a prompt that was rendered locally.
type CompletionsGenerator struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewCompletionsGenerator creates a generator for an OpenAI-compatible server.
func NewCompletionsGenerator(baseURL, apiKey, model string, timeout time.Duration) *CompletionsGenerator {
	return &CompletionsGenerator{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Close is a no-op (no subprocess to manage).
func (g *CompletionsGenerator) Close() {}

type completionsRequest struct {
	Model             string  `json:"model"`
	Prompt            string  `json:"prompt"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k,omitempty"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
	N                 int     `json:"n"`
	Echo              bool    `json:"echo"`
}

type completionsResponse struct {
	Choices []completionsChoice `json:"choices"`
	Error   *apiError           `json:"error,omitempty"`
}

type completionsChoice struct {
	Text string `json:"text"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Generate implements Pipeline.
func (g *CompletionsGenerator) Generate(ctx context.Context, prompt string, params SamplingParams) ([]Generation, error) {
	temperature := params.Temperature
	if !params.DoSample {
		temperature = 0
	}
	reqBody := completionsRequest{
		Model:             g.model,
		Prompt:            prompt,
		MaxTokens:         params.MaxNewTokens,
		Temperature:       temperature,
		TopP:              params.TopP,
		TopK:              params.TopK,
		RepetitionPenalty: params.RepetitionPenalty,
		N:                 max(1, params.NumReturnSequences),
		Echo:              params.ReturnFullText,
	}

	body, err := g.post(ctx, "/completions", reqBody)
	if err != nil {
		return nil, err
	}

	var result completionsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %w (body: %s)", ErrGeneration, err, string(body))
	}
	if result.Error != nil {
		return nil, fmt.Errorf("%w: API error: %s", ErrGeneration, result.Error.Message)
	}

	gens := make([]Generation, 0, len(result.Choices))
	for _, c := range result.Choices {
		gens = append(gens, Generation{Text: c.Text})
	}
	return gens, nil
}

func (g *CompletionsGenerator) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	return doRequest(g.client, httpReq)
}

// --- Ollama API ---

// DefaultOllamaURL is used when the ollama backend has no base URL.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaGenerator calls Ollama's /api/generate in raw mode, so the chat
// template rendered locally is sent verbatim.
type OllamaGenerator struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaGenerator creates a generator for an Ollama server.
func NewOllamaGenerator(baseURL, model string, timeout time.Duration) *OllamaGenerator {
	return &OllamaGenerator{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Close is a no-op.
func (g *OllamaGenerator) Close() {}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Raw     bool          `json:"raw"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	NumPredict    int     `json:"num_predict"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	TopK          int     `json:"top_k,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Ping checks that the server answers /api/tags.
func (g *OllamaGenerator) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	if _, err := doRequest(g.client, httpReq); err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", g.baseURL, err)
	}
	return nil
}

// Generate implements Pipeline. Ollama returns one continuation per call.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, params SamplingParams) ([]Generation, error) {
	temperature := params.Temperature
	if !params.DoSample {
		temperature = 0
	}
	reqBody := ollamaRequest{
		Model:  g.model,
		Prompt: prompt,
		Raw:    true,
		Stream: false,
		Options: ollamaOptions{
			NumPredict:    params.MaxNewTokens,
			Temperature:   temperature,
			TopP:          params.TopP,
			TopK:          params.TopK,
			RepeatPenalty: params.RepetitionPenalty,
		},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	body, err := doRequest(g.client, httpReq)
	if err != nil {
		return nil, err
	}

	var result ollamaResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %w (body: %s)", ErrGeneration, err, string(body))
	}
	if result.Error != "" {
		return nil, fmt.Errorf("%w: API error: %s", ErrGeneration, result.Error)
	}
	return []Generation{{Text: result.Response}}, nil
}

// doRequest sends req and returns the body of a 200 response.
func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API error (status %d): %s", ErrGeneration, resp.StatusCode, string(body))
	}
	return body, nil
}

// --- llama.cpp ---

// runnerPipeline adapts a llama.cpp subprocess runner to Pipeline.
type runnerPipeline struct {
	runner  *inference.Runner
	timeout time.Duration
}

func (p *runnerPipeline) Generate(ctx context.Context, prompt string, params SamplingParams) ([]Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	temperature := params.Temperature
	if !params.DoSample {
		temperature = 0
	}
	n := max(1, params.NumReturnSequences)
	gens := make([]Generation, 0, n)
	for range n {
		text, err := p.runner.Generate(ctx, prompt, inference.Options{
			MaxTokens:     params.MaxNewTokens,
			Temperature:   temperature,
			TopP:          params.TopP,
			TopK:          params.TopK,
			RepeatPenalty: params.RepetitionPenalty,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
		}
		gens = append(gens, Generation{Text: text})
	}
	return gens, nil
}
