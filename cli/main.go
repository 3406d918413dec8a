// Command poemlet writes a short poem about a theme and prints it to stdout.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	poemlet "github.com/Paranoid-AF/poemlet"
	"github.com/Paranoid-AF/poemlet/generate"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Poet writes a poem for a request.
type Poet interface {
	Generate(ctx context.Context, pc poemlet.PoemConfig) (*generate.Result, error)
	Close()
}

func main() {
	cmd := newRootCmd(func() Poet {
		poemlet.LoadDotEnv()
		return generate.NewEngine()
	})
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(newPoet func() Poet) *cobra.Command {
	pc := poemlet.NewPoemConfig("")
	var verbose, showSource bool

	cmd := &cobra.Command{
		Use:   "poemlet THEME",
		Short: "Generate a short AI poem in the terminal.",
		Long: `Generate a short poem about THEME with a local or remote language model.

Examples:
  poemlet "first rain on campus"
  poemlet "ocean breeze" --form haiku --lines 3
  poemlet autumn --lines 6 --max-new-tokens 120`,
		Version:      Version,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

			pc.Theme = args[0]

			poet := newPoet()
			defer poet.Close()

			res, err := poet.Generate(cmd.Context(), pc)
			if err != nil {
				return err
			}
			if showSource {
				fmt.Fprintf(cmd.ErrOrStderr(), "# source: %s\n", res.Source)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Poem)
			return nil
		},
	}

	cmd.Flags().StringVar(&pc.Form, "form", poemlet.DefaultForm, "Style hint: free | haiku | sonnet | limerick")
	cmd.Flags().IntVar(&pc.Lines, "lines", poemlet.DefaultLines, "Number of lines to return (1-64)")
	cmd.Flags().IntVar(&pc.MaxNewTokens, "max-new-tokens", poemlet.DefaultMaxNewTokens, "Upper bound on model generation length")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log prompts and model output to stderr")
	cmd.Flags().BoolVar(&showSource, "show-source", false, "Report on stderr whether the model or the fallback wrote the poem")
	return cmd
}
