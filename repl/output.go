package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	poemlet "github.com/Paranoid-AF/poemlet"
	"github.com/Paranoid-AF/poemlet/generate"
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

// entry is one TOML log record.
type entry struct {
	Request requestEntry   `toml:"request"`
	Result  *resultEntry   `toml:"result,omitempty"`
	Error   *poemlet.Error `toml:"error,omitempty"`
}

type requestEntry struct {
	ID           int       `toml:"id"`
	Timestamp    time.Time `toml:"timestamp"`
	Theme        string    `toml:"theme"`
	Form         string    `toml:"form"`
	Lines        int       `toml:"lines"`
	MaxNewTokens int       `toml:"max_new_tokens"`
}

type resultEntry struct {
	Source   string   `toml:"source"`
	Accepted int      `toml:"accepted"`
	Lines    []string `toml:"lines"`
	Raw      string   `toml:"raw"`
	Prompt   string   `toml:"prompt"`
}

// writeEntry writes a single TOML-formatted entry to w.
func writeEntry(w io.Writer, id int, pc poemlet.PoemConfig, res *generate.Result, genErr *poemlet.Error) error {
	e := entry{
		Request: requestEntry{
			ID:           id,
			Timestamp:    time.Now().Truncate(time.Second),
			Theme:        pc.Theme,
			Form:         poemlet.NormalizeForm(pc.Form),
			Lines:        pc.Lines,
			MaxNewTokens: pc.MaxNewTokens,
		},
		Error: genErr,
	}
	if res != nil {
		e.Result = &resultEntry{
			Source:   string(res.Source),
			Accepted: res.Accepted,
			Lines:    res.Lines(),
			Raw:      res.Raw,
			Prompt:   res.Prompt,
		}
	}

	fmt.Fprintf(w, "# %s\n\n", strings.Repeat("═", 60))
	enc := toml.NewEncoder(w)
	enc.Indent = ""
	if err := enc.Encode(e); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}
