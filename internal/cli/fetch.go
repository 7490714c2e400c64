package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/bugdw/internal/config"
	"github.com/roach88/bugdw/internal/source"
)

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	*RootOptions
	URL    string
	Prefix string
}

// FetchResult is the JSON payload of the fetch command.
type FetchResult struct {
	Dir        string   `json:"dir"`
	Downloaded []string `json:"downloaded"`
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch [data-dir]",
		Short: "Download new snapshot files",
		Long: `Scrape the snapshot index page and download the CSV files that are not
in the data directory yet. Nothing is loaded.

Examples:
  bugdw fetch --url https://example.org/dumps/ ./data
  bugdw fetch --url https://example.org/dumps/ --prefix scribus-dump`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "index page listing snapshot files (default from BUGDW_SOURCE_URL)")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "snapshot file name prefix (default from BUGDW_FILE_PREFIX)")

	return cmd
}

func runFetch(opts *FetchOptions, args []string, cmd *cobra.Command) error {
	logger := opts.newLogger(cmd.ErrOrStderr())
	out := opts.formatter(cmd)

	cfg, err := loadConfig(opts.RootOptions, func(c *config.Config) {
		if len(args) > 0 {
			c.DataDir = args[0]
		}
		if opts.URL != "" {
			c.SourceURL = opts.URL
		}
		if opts.Prefix != "" {
			c.FilePrefix = opts.Prefix
		}
	})
	if err != nil {
		return err
	}
	if cfg.SourceURL == "" {
		return NewExitError(ExitCommandError, "no index URL: pass --url or set BUGDW_SOURCE_URL")
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	fetcher := &source.Fetcher{Prefix: cfg.FilePrefix, Logger: logger}
	downloaded, fetchErr := fetcher.Fetch(ctx, cfg.SourceURL, cfg.DataDir)
	if downloaded == nil {
		downloaded = []string{}
	}

	result := FetchResult{Dir: cfg.DataDir, Downloaded: downloaded}
	if opts.Format == "json" {
		if fetchErr != nil {
			if err := out.Error("E_FETCH", fetchErr.Error(), result); err != nil {
				return err
			}
		} else if err := out.Success(result); err != nil {
			return err
		}
	} else {
		for _, name := range downloaded {
			fmt.Fprintf(out.Writer, "downloaded %s\n", name)
		}
		fmt.Fprintf(out.Writer, "%d new snapshot file(s) in %s\n", len(downloaded), cfg.DataDir)
	}

	if fetchErr != nil {
		return WrapExitError(ExitFailure, "fetch incomplete", fetchErr)
	}
	return nil
}
