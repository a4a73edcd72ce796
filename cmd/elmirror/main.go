// Command elmirror mirrors the Elm package registry onto local disk: one
// bare git mirror per package, servable over dumb HTTP, plus per-version
// zip archives, package descriptions, and a browsable index page.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/elmirror/elmirror/internal/archive"
	"github.com/elmirror/elmirror/internal/catalog"
	"github.com/elmirror/elmirror/internal/gitstore"
	"github.com/elmirror/elmirror/internal/index"
	"github.com/elmirror/elmirror/internal/planner"
)

// defaultIndexURL is the public registry's package listing.
const defaultIndexURL = "https://package.elm-lang.org/all-packages"

func main() {
	os.Exit(run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var (
		destination   string
		overrideIndex string
		indexURL      string
		verbose       bool
		quiet         bool
	)

	rootCmd := &cobra.Command{
		Use:           "elmirror",
		Short:         "Mirror the Elm package registry to local disk",
		Long:          "Incrementally mirror the Elm package registry: bare git mirrors per package, zip archives per release, and a static index page, all suitable for dumb HTTP serving.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(stderr, verbose, quiet)
			return mirror(cmd, logger, destination, overrideIndex, indexURL)
		},
	}

	rootCmd.Flags().StringVarP(&destination, "destination-directory", "d", filepath.Join(xdg.CacheHome, "elmirror"),
		"destination directory for downloaded files")
	rootCmd.Flags().StringVarP(&overrideIndex, "override-index", "i", "",
		"override index from specified local file (for debugging)")
	rootCmd.Flags().StringVarP(&indexURL, "package-index-url", "p", defaultIndexURL,
		"package index URL")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "quiet execution")

	rootCmd.SetArgs(args[1:])
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "elmirror: %v\n", err)
		return 1
	}
	return 0
}

// newLogger builds the run's logger. Verbosity flags map to levels the way
// cron operation expects: quiet shows only errors, verbose shows decisions.
func newLogger(w io.Writer, verbose, quiet bool) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// mirror performs one full synchronization run. The only fatal failure is
// an unobtainable index; everything else is logged per package and the run
// exits successfully so unattended operation keeps its schedule.
func mirror(cmd *cobra.Command, logger *slog.Logger, destination, overrideIndex, indexURL string) error {
	ctx := cmd.Context()

	client := index.NewClient(index.WithLogger(logger))

	var (
		entries []index.Entry
		err     error
	)
	if overrideIndex != "" {
		entries, err = index.Load(overrideIndex)
		if err != nil {
			return err
		}
	} else {
		raw, fetchErr := client.Fetch(ctx, indexURL)
		if fetchErr != nil {
			return fetchErr
		}
		entries, err = index.Parse(raw)
		if err != nil {
			return err
		}
		saveIndexCopy(logger, destination, raw)
	}

	store, err := gitstore.New(filepath.Join(destination, "git"), gitstore.WithLogger(logger))
	if err != nil {
		return err
	}

	builder := archive.New(filepath.Join(destination, "zipball"), store, archive.WithLogger(logger))
	describer := catalog.NewDescriber(filepath.Join(destination, "descriptions"), store,
		catalog.WithDescriberLogger(logger))

	runner := planner.New(store, builder, describer,
		planner.WithLogger(logger),
		planner.WithProber(client))
	runner.SyncAll(ctx, entries)

	page := filepath.Join(destination, "index.html")
	if err := catalog.WriteIndexHTML(filepath.Join(destination, "descriptions"), page, logger); err != nil {
		logger.Error("writing index page failed", "path", page, "error", err)
	}

	return nil
}

// saveIndexCopy caches the raw index payload at the destination root so the
// mirrored tree is self-describing. Failure to cache is not fatal.
func saveIndexCopy(logger *slog.Logger, destination string, raw []byte) {
	if err := os.MkdirAll(destination, 0o755); err != nil {
		logger.Warn("unable to create destination directory", "dir", destination, "error", err)
		return
	}
	path := filepath.Join(destination, "all-packages")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		logger.Warn("unable to cache index copy", "path", path, "error", err)
	}
}
