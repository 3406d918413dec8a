// Package inference runs text generation through the llama.cpp CLI.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ErrUnavailable is returned when the binary or model file cannot be found.
var ErrUnavailable = errors.New("llama.cpp unavailable")

// DefaultBinary is the llama.cpp CLI looked up on PATH when none is configured.
const DefaultBinary = "llama-cli"

// endOfText is printed by some llama.cpp builds after the generated text.
const endOfText = "[end of text]"

// Options are the sampling flags passed to llama.cpp.
type Options struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
}

// Runner performs text generation using a GGUF model.
type Runner struct {
	binary    string
	modelPath string
}

// NewRunner resolves the llama.cpp binary and checks the model file exists.
func NewRunner(binary, modelPath string) (*Runner, error) {
	if binary == "" {
		binary = DefaultBinary
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: binary %q: %w", ErrUnavailable, binary, err)
	}
	if modelPath == "" {
		return nil, fmt.Errorf("%w: no model path configured", ErrUnavailable)
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: model %s: %w", ErrUnavailable, modelPath, err)
	}
	return &Runner{binary: resolved, modelPath: modelPath}, nil
}

// Close is a no-op; each Generate call owns its own subprocess.
func (r *Runner) Close() {}

// Args returns the command-line arguments for one generation.
func (r *Runner) Args(prompt string, opts Options) []string {
	args := []string{
		"-m", r.modelPath,
		"-p", prompt,
		"-n", strconv.Itoa(opts.MaxTokens),
		"--temp", strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
		"--top-p", strconv.FormatFloat(opts.TopP, 'f', -1, 64),
	}
	if opts.TopK > 0 {
		args = append(args, "--top-k", strconv.Itoa(opts.TopK))
	}
	if opts.RepeatPenalty > 0 {
		args = append(args, "--repeat-penalty", strconv.FormatFloat(opts.RepeatPenalty, 'f', -1, 64))
	}
	return append(args, "--no-display-prompt", "-no-cnv")
}

// Generate produces a text completion for the given prompt.
func (r *Runner) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	args := r.Args(prompt, opts)
	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		slog.Debug("running llama.cpp", "cmd", commandLine(r.binary, args))
	}

	cmd := exec.CommandContext(ctx, r.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("llama.cpp: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	out := strings.TrimRight(stdout.String(), " \t\r\n")
	out = strings.TrimSuffix(out, endOfText)
	return out, nil
}

// commandLine renders argv as a shell-pasteable string.
func commandLine(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{binary}, args...) {
		q, err := syntax.Quote(a, syntax.LangBash)
		if err != nil {
			q = strconv.Quote(a)
		}
		parts = append(parts, q)
	}
	return strings.Join(parts, " ")
}
