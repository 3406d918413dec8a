package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrModelUnavailable is returned when the model or its tokenizer cannot be obtained.
var ErrModelUnavailable = errors.New("model unavailable")

// SamplingParams controls one generation call.
type SamplingParams struct {
	MaxNewTokens       int
	DoSample           bool
	Temperature        float64
	TopP               float64
	TopK               int
	NumReturnSequences int
	ReturnFullText     bool
	// NoRepeatNgramSize and PadTokenID have no counterpart in the llama.cpp,
	// Ollama or /completions APIs and are not sent by those backends.
	NoRepeatNgramSize  int
	RepetitionPenalty  float64
	PadTokenID         int
}

// Generation is one text continuation returned by a Pipeline.
type Generation struct {
	Text string
}

// Pipeline produces continuations for an already-rendered prompt.
type Pipeline interface {
	Generate(ctx context.Context, prompt string, params SamplingParams) ([]Generation, error)
}

// Tokenizer formats chat messages into a prompt string and names the
// end-of-sequence token.
type Tokenizer interface {
	ApplyChatTemplate(messages []Message, addGenerationPrompt bool) string
	EOSTokenID() int
}

// Handle pairs a Pipeline with its Tokenizer.
type Handle struct {
	Pipeline  Pipeline
	Tokenizer Tokenizer
	// Close releases backend resources. May be nil.
	Close func()
}

// LoadFunc constructs a Handle.
type LoadFunc func(ctx context.Context) (*Handle, error)

// Loader lazily constructs a Handle on first use and returns the same
// instance afterwards. A failed construction is not cached.
type Loader struct {
	load LoadFunc

	mu     sync.Mutex
	handle *Handle
}

// NewLoader wraps load in a Loader.
func NewLoader(load LoadFunc) *Loader {
	return &Loader{load: load}
}

// StaticLoader returns a Loader that always yields h.
func StaticLoader(h *Handle) *Loader {
	return NewLoader(func(context.Context) (*Handle, error) { return h, nil })
}

// Get returns the cached handle, constructing it if needed.
func (l *Loader) Get(ctx context.Context) (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle != nil {
		return l.handle, nil
	}
	if l.load == nil {
		return nil, fmt.Errorf("%w: no backend configured", ErrModelUnavailable)
	}

	h, err := l.load(ctx)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	if h == nil || h.Pipeline == nil || h.Tokenizer == nil {
		return nil, fmt.Errorf("%w: backend returned an incomplete handle", ErrModelUnavailable)
	}
	slog.Debug("model handle loaded")
	l.handle = h
	return h, nil
}

// Loaded reports whether a handle has been constructed.
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle != nil
}

// Close releases the cached handle. A later Get constructs a new one.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle != nil && l.handle.Close != nil {
		l.handle.Close()
	}
	l.handle = nil
}
