// Command poemlet-repl is an interactive REPL for trying themes against the
// configured model. It writes structured TOML results to stdout.
//
// Usage:
//
//	./poemlet-repl             # interactive, TOML on screen
//	./poemlet-repl > log.toml  # prompt on screen, TOML to file
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	poemlet "github.com/Paranoid-AF/poemlet"
	"github.com/Paranoid-AF/poemlet/generate"
)

const prompt = "theme> "

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	poemlet.LoadDotEnv()

	var (
		reader LineReader
		tty    io.Writer
		out    io.Writer
	)
	editor, err := NewEditor(prompt)
	if err != nil {
		// No terminal: read themes from stdin, one per line.
		slog.Debug("no terminal, reading stdin", "error", err)
		reader, tty, out = newScanReader(os.Stdin), os.Stderr, os.Stdout
	} else {
		defer editor.Close()
		// stdout writer: converts \n → \r\n when stdout is a terminal (raw mode),
		// passes \n through unchanged when redirected to a file.
		reader, tty, out = editor, editor.Tty(), termWriter(os.Stdout)

		fmt.Fprintf(tty, "\033[2J\033[H") // clear screen
		fmt.Fprintf(tty, "poemlet repl\n")
		fmt.Fprintf(tty, "\ncommands:\n")
		fmt.Fprintf(tty, "  :form <form>   set the form (free, haiku, sonnet, limerick)\n")
		fmt.Fprintf(tty, "  :lines <n>     set the line count\n")
		fmt.Fprintf(tty, "  :tokens <n>    set max new tokens\n")
		fmt.Fprintf(tty, "  :show          show current settings\n")
		fmt.Fprintf(tty, "  :quit          exit\n\n")
	}

	engine := generate.NewEngine()
	defer engine.Close()

	if err := run(context.Background(), reader, NewSession(engine, tty, out)); err != nil {
		fmt.Fprintf(tty, "read error: %v\n", err)
	}
}

// run feeds lines from reader to the session until EOF or :quit.
func run(ctx context.Context, reader LineReader, s *Session) error {
	for {
		text, err := reader.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.Handle(ctx, text); errors.Is(err, errQuit) {
			return nil
		}
	}
}
