package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// LineReader yields one line of user input at a time.
type LineReader interface {
	ReadLine() (string, error)
}

// Editor reads lines from /dev/tty in raw mode with history and line editing.
// It reads from /dev/tty so it works even when stdout is redirected.
type Editor struct {
	tty      *os.File
	oldState *term.State
	term     *term.Terminal
}

// NewEditor opens /dev/tty and switches to raw mode.
func NewEditor(prompt string) (*Editor, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}

	t := term.NewTerminal(tty, prompt)
	if w, h, err := term.GetSize(int(tty.Fd())); err == nil {
		t.SetSize(w, h)
	}
	return &Editor{tty: tty, oldState: old, term: t}, nil
}

// Close restores terminal state and closes the tty fd.
func (e *Editor) Close() {
	term.Restore(int(e.tty.Fd()), e.oldState)
	e.tty.Close()
}

// Tty returns a writer for prompts/UI. Newlines are translated for raw mode.
func (e *Editor) Tty() io.Writer {
	return e.term
}

// ReadLine reads one edited line. Ctrl-D on an empty line and Ctrl-C
// return io.EOF.
func (e *Editor) ReadLine() (string, error) {
	return e.term.ReadLine()
}

// scanReader reads plain lines, used when no terminal is attached.
type scanReader struct {
	scanner *bufio.Scanner
}

func newScanReader(r io.Reader) *scanReader {
	return &scanReader{scanner: bufio.NewScanner(r)}
}

func (s *scanReader) ReadLine() (string, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}
