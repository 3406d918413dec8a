package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	poemlet "github.com/Paranoid-AF/poemlet"
	"github.com/Paranoid-AF/poemlet/generate"
)

// Poet writes a poem for a request.
type Poet interface {
	Generate(ctx context.Context, pc poemlet.PoemConfig) (*generate.Result, error)
}

// Session holds the REPL's sticky settings and writes results.
type Session struct {
	poet   Poet
	tty    io.Writer // human-readable output
	out    io.Writer // TOML log
	form   string
	lines  int
	tokens int
	reqID  int
}

// NewSession creates a session with default poem settings.
func NewSession(poet Poet, tty, out io.Writer) *Session {
	return &Session{
		poet:   poet,
		tty:    tty,
		out:    out,
		form:   poemlet.DefaultForm,
		lines:  poemlet.DefaultLines,
		tokens: poemlet.DefaultMaxNewTokens,
	}
}

var errQuit = errors.New("quit")

// Handle processes one input line: a ":" command or a theme.
// It returns errQuit when the user asks to leave.
func (s *Session) Handle(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, ":") {
		return s.command(text)
	}
	s.compose(ctx, text)
	return nil
}

func (s *Session) command(text string) error {
	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case ":quit", ":q":
		return errQuit
	case ":form":
		s.form = poemlet.NormalizeForm(arg)
		fmt.Fprintf(s.tty, "form: %s\n", s.form)
	case ":lines":
		n, err := positive(arg)
		if err != nil {
			fmt.Fprintf(s.tty, "error: lines %v\n", err)
			return nil
		}
		s.lines = n
		fmt.Fprintf(s.tty, "lines: %d\n", s.lines)
	case ":tokens":
		n, err := positive(arg)
		if err != nil {
			fmt.Fprintf(s.tty, "error: tokens %v\n", err)
			return nil
		}
		s.tokens = n
		fmt.Fprintf(s.tty, "max new tokens: %d\n", s.tokens)
	case ":show":
		fmt.Fprintf(s.tty, "form: %s, lines: %d, max new tokens: %d\n", s.form, s.lines, s.tokens)
	default:
		fmt.Fprintf(s.tty, "unknown command: %s\n", name)
	}
	return nil
}

func positive(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("must be a number, got %q", arg)
	}
	if n < 1 {
		return 0, fmt.Errorf("must be at least 1, got %d", n)
	}
	return n, nil
}

func (s *Session) compose(ctx context.Context, theme string) {
	s.reqID++
	pc := poemlet.PoemConfig{Theme: theme, Form: s.form, Lines: s.lines, MaxNewTokens: s.tokens}

	res, err := s.poet.Generate(ctx, pc)
	var genErr *poemlet.Error
	if err != nil {
		genErr = &poemlet.Error{Code: errorCode(err), Message: err.Error()}
		fmt.Fprintf(s.tty, "error [%s]: %s\n\n", genErr.Code, genErr.Message)
	} else {
		// Show brief summary on tty.
		for _, line := range res.Lines() {
			fmt.Fprintf(s.tty, "  %s\n", line)
		}
		fmt.Fprintf(s.tty, "  (%s, %d/%d lines from model)\n\n", res.Source, res.Accepted, pc.Lines)
	}

	if err := writeEntry(s.out, s.reqID, pc, res, genErr); err != nil {
		slog.Warn("failed to write entry", "error", err)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, generate.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, generate.ErrInvalidConfig):
		return "invalid_request"
	default:
		return "generation_error"
	}
}
