// Package generate turns a poem request into poem lines by prompting a
// language model, cleaning its output and falling back to a deterministic
// generator when the model comes back short.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	poemlet "github.com/Paranoid-AF/poemlet"
)

// ErrInvalidConfig is returned when a PoemConfig fails validation.
var ErrInvalidConfig = errors.New("invalid poem config")

// minNewTokens is the floor applied to the requested generation length.
const minNewTokens = 48

// Source records which branch produced a poem.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// Sampling holds the fixed sampling settings of the Engine.
type Sampling struct {
	MinNewTokens      int
	Temperature       float64
	TopP              float64
	TopK              int
	NoRepeatNgramSize int
	RepetitionPenalty float64
}

// DefaultSampling returns the built-in sampling settings.
func DefaultSampling() Sampling {
	return Sampling{
		MinNewTokens:      minNewTokens,
		Temperature:       0.8,
		TopP:              0.9,
		TopK:              50,
		NoRepeatNgramSize: 3,
		RepetitionPenalty: 1.08,
	}
}

// SamplingFromConfig reads sampling settings from the [generation] section.
// Zero values keep the built-in defaults.
func SamplingFromConfig(gen poemlet.GenerationConfig) Sampling {
	s := DefaultSampling()
	if gen.MinNewTokens > 0 {
		s.MinNewTokens = gen.MinNewTokens
	}
	if gen.Temperature > 0 {
		s.Temperature = gen.Temperature
	}
	if gen.TopP > 0 {
		s.TopP = gen.TopP
	}
	if gen.TopK > 0 {
		s.TopK = gen.TopK
	}
	if gen.NoRepeatNgramSize > 0 {
		s.NoRepeatNgramSize = gen.NoRepeatNgramSize
	}
	if gen.RepetitionPenalty > 0 {
		s.RepetitionPenalty = gen.RepetitionPenalty
	}
	return s
}

// Params derives the per-call sampling parameters for a request.
func (s Sampling) Params(maxNewTokens, eos int) SamplingParams {
	return SamplingParams{
		MaxNewTokens:       max(s.MinNewTokens, maxNewTokens),
		DoSample:           true,
		Temperature:        s.Temperature,
		TopP:               s.TopP,
		TopK:               s.TopK,
		NumReturnSequences: 1,
		ReturnFullText:     false,
		NoRepeatNgramSize:  s.NoRepeatNgramSize,
		RepetitionPenalty:  s.RepetitionPenalty,
		PadTokenID:         eos,
	}
}

// Result is the outcome of one Generate call.
type Result struct {
	Poem   string
	Source Source
	// Accepted is the number of usable lines found in the model output.
	Accepted int
	// Prompt is the rendered chat prompt sent to the model.
	Prompt string
	// Raw is the unprocessed model output.
	Raw string
}

// Lines splits the poem into its lines.
func (r *Result) Lines() []string {
	if r.Poem == "" {
		return []string{}
	}
	return strings.Split(r.Poem, "\n")
}

// Engine orchestrates prompting, inference and post-processing.
type Engine struct {
	loader       *Loader
	sampling     Sampling
	customPrompt string // loaded custom prompt template (empty = use default)

	// mu serializes inference; local backends run one model at a time.
	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithSampling overrides the sampling settings.
func WithSampling(s Sampling) Option {
	return func(e *Engine) { e.sampling = s }
}

// WithCustomPrompt sets a text/template source for the user message.
func WithCustomPrompt(tmplSrc string) Option {
	return func(e *Engine) { e.customPrompt = tmplSrc }
}

// NewEngineWithLoader creates an engine around an explicit loader.
func NewEngineWithLoader(loader *Loader, opts ...Option) *Engine {
	e := &Engine{loader: loader, sampling: DefaultSampling()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEngineWithConfig creates an engine for the backend described by cfg.
// Nothing is loaded until the first Generate call.
func NewEngineWithConfig(cfg *poemlet.Config) *Engine {
	gen := poemlet.ResolveGeneration(cfg)
	customPrompt := loadCustomPrompt()
	if customPrompt == "" {
		slog.Debug("no custom prompt, using built-in default")
	}
	slog.Debug("engine configured", "backend", gen.Backend, "model", gen.Model, "chat_template", gen.ChatTemplate)
	return NewEngineWithLoader(NewLoader(NewBackendLoader(gen)),
		WithSampling(SamplingFromConfig(gen)),
		WithCustomPrompt(customPrompt),
	)
}

// NewEngine creates an engine from the user's config file.
func NewEngine() *Engine {
	cfg, err := poemlet.LoadConfig()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = poemlet.DefaultConfig()
	}
	return NewEngineWithConfig(cfg)
}

// loadCustomPrompt loads a custom prompt template.
// Returns empty string if no custom prompt exists.
func loadCustomPrompt() string {
	promptPath := poemlet.PromptPath()
	data, err := os.ReadFile(promptPath)
	if err != nil {
		return ""
	}
	slog.Info("loaded custom prompt", "path", promptPath)
	return string(data)
}

// Close releases resources held by the engine.
func (e *Engine) Close() {
	if e.loader != nil {
		e.loader.Close()
	}
}

// Generate writes a poem for pc. Model output with fewer usable lines than
// requested is replaced wholesale by FallbackPoem.
func (e *Engine) Generate(ctx context.Context, pc poemlet.PoemConfig) (*Result, error) {
	if err := poemlet.ValidatePoemConfig(pc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if e.loader == nil {
		return nil, fmt.Errorf("%w: engine has no loader", ErrModelUnavailable)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.loader.Get(ctx)
	if err != nil {
		return nil, err
	}

	// Check for cancellation before expensive inference
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chat := []Message{
		{Role: RoleSystem, Content: SystemPrompt},
		{Role: RoleUser, Content: renderPrompt(e.customPrompt, pc.Theme, pc.Form, pc.Lines)},
	}
	prompt := h.Tokenizer.ApplyChatTemplate(chat, true)
	params := e.sampling.Params(pc.MaxNewTokens, h.Tokenizer.EOSTokenID())

	slog.Debug("prompt", "text", prompt, "max_new_tokens", params.MaxNewTokens)

	gens, err := h.Pipeline.Generate(ctx, prompt, params)
	if err != nil {
		slog.Error("generation error", "error", err)
		return nil, err
	}

	var raw string
	if len(gens) > 0 {
		raw = gens[0].Text
	}

	lines, accepted := CleanLines(raw, pc.Lines)
	res := &Result{Accepted: accepted, Prompt: prompt, Raw: raw}
	if accepted < pc.Lines {
		slog.Debug("model output too short, using fallback", "accepted", accepted, "want", pc.Lines)
		res.Poem = FallbackPoem(pc.Theme, pc.Form, pc.Lines)
		res.Source = SourceFallback
		return res, nil
	}
	res.Poem = strings.Join(lines, "\n")
	res.Source = SourceModel
	return res, nil
}
