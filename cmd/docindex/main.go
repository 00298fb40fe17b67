// Command docindex downloads a document repository, extracts and chunks
// its files, and loads the chunks into a vector index.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docindex/internal/config"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "docindex",
	Short: "Index document repositories into a vector store",
	Long: `docindex retrieves a repository of documents, extracts text from each
supported file, splits it into overlapping chunks and upserts the chunks
into a vector index. Progress is checkpointed so interrupted runs resume.

Configuration comes from the environment (see internal/config).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging in text format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger returns a JSON logger, or a debug-level text logger when
// --verbose is set.
func newLogger(w io.Writer) *slog.Logger {
	if verbose {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(w, nil))
}

func loadConfig() (config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
