package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	poemlet "github.com/Paranoid-AF/poemlet"
	"github.com/Paranoid-AF/poemlet/generate"
)

type recordingPoet struct {
	last poemlet.PoemConfig
	err  error
}

func (p *recordingPoet) Generate(_ context.Context, pc poemlet.PoemConfig) (*generate.Result, error) {
	p.last = pc
	if p.err != nil {
		return nil, p.err
	}
	return &generate.Result{
		Poem:   generate.FallbackPoem(pc.Theme, pc.Form, pc.Lines),
		Source: generate.SourceFallback,
		Raw:    "Theme: " + pc.Theme,
		Prompt: "user: " + generate.BuildPrompt(pc.Theme, pc.Form, pc.Lines),
	}, nil
}

func newTestSession(p Poet) (*Session, *bytes.Buffer, *bytes.Buffer) {
	tty, out := new(bytes.Buffer), new(bytes.Buffer)
	return NewSession(p, tty, out), tty, out
}

func TestSessionThemeWritesTOML(t *testing.T) {
	p := &recordingPoet{}
	s, tty, out := newTestSession(p)

	require.NoError(t, s.Handle(context.Background(), "  city rain "))
	assert.Equal(t, "city rain", p.last.Theme)
	assert.Contains(t, tty.String(), "city on pavement, footsteps")

	var got struct {
		Request struct {
			ID    int    `toml:"id"`
			Theme string `toml:"theme"`
			Form  string `toml:"form"`
			Lines int    `toml:"lines"`
		} `toml:"request"`
		Result struct {
			Source string   `toml:"source"`
			Lines  []string `toml:"lines"`
			Raw    string   `toml:"raw"`
		} `toml:"result"`
	}
	_, err := toml.Decode(out.String(), &got)
	require.NoError(t, err, out.String())
	assert.Equal(t, 1, got.Request.ID)
	assert.Equal(t, "city rain", got.Request.Theme)
	assert.Equal(t, "free", got.Request.Form)
	assert.Equal(t, 4, got.Request.Lines)
	assert.Equal(t, "fallback", got.Result.Source)
	assert.Len(t, got.Result.Lines, 4)
	assert.Equal(t, "Theme: city rain", got.Result.Raw)
}

func TestSessionCommands(t *testing.T) {
	p := &recordingPoet{}
	s, tty, _ := newTestSession(p)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, ":form HAIKU"))
	require.NoError(t, s.Handle(ctx, ":lines 3"))
	require.NoError(t, s.Handle(ctx, ":tokens 120"))
	require.NoError(t, s.Handle(ctx, "ocean breeze"))

	assert.Equal(t, poemlet.PoemConfig{Theme: "ocean breeze", Form: "haiku", Lines: 3, MaxNewTokens: 120}, p.last)
	assert.Contains(t, tty.String(), "form: haiku")
	assert.Contains(t, tty.String(), "lines: 3")
}

func TestSessionRejectsBadNumbers(t *testing.T) {
	s, tty, _ := newTestSession(&recordingPoet{})
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, ":lines zero"))
	require.NoError(t, s.Handle(ctx, ":lines 0"))
	require.NoError(t, s.Handle(ctx, ":tokens -5"))
	assert.Equal(t, poemlet.DefaultLines, s.lines)
	assert.Equal(t, poemlet.DefaultMaxNewTokens, s.tokens)
	assert.Equal(t, 3, strings.Count(tty.String(), "error:"))
}

func TestSessionQuit(t *testing.T) {
	s, _, _ := newTestSession(&recordingPoet{})
	assert.ErrorIs(t, s.Handle(context.Background(), ":quit"), errQuit)
	assert.ErrorIs(t, s.Handle(context.Background(), ":q"), errQuit)
}

func TestSessionUnknownCommand(t *testing.T) {
	s, tty, out := newTestSession(&recordingPoet{})
	require.NoError(t, s.Handle(context.Background(), ":cwd /tmp"))
	assert.Contains(t, tty.String(), "unknown command: :cwd")
	assert.Empty(t, out.String())
}

func TestSessionGenerationError(t *testing.T) {
	p := &recordingPoet{err: errors.Join(generate.ErrModelUnavailable, errors.New("no weights"))}
	s, tty, out := newTestSession(p)

	require.NoError(t, s.Handle(context.Background(), "fog"))
	assert.Contains(t, tty.String(), "error [model_unavailable]")

	var got struct {
		Error poemlet.Error `toml:"error"`
	}
	_, err := toml.Decode(out.String(), &got)
	require.NoError(t, err, out.String())
	assert.Equal(t, "model_unavailable", got.Error.Code)
}

func TestRunStopsAtQuit(t *testing.T) {
	p := &recordingPoet{}
	s, _, out := newTestSession(p)

	input := "moss\n\n:lines 2\nfern\n:quit\nnever\n"
	require.NoError(t, run(context.Background(), newScanReader(strings.NewReader(input)), s))
	assert.Equal(t, "fern", p.last.Theme)
	assert.Equal(t, 2, strings.Count(out.String(), "[request]"))
}

func TestCRLFWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &crlfWriter{w: &buf}
	n, err := w.Write([]byte("a\nb\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "a\r\nb\r\n", buf.String())
}
