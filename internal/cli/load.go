package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/bugdw/internal/config"
	"github.com/roach88/bugdw/internal/engine"
	"github.com/roach88/bugdw/internal/model"
	"github.com/roach88/bugdw/internal/source"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	WarehouseFlags
	FetchURL string
	Prefix   string

	// RunIDs overrides the run id generator (for testing).
	// If nil, the engine uses UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// LoadSummary is the JSON payload of the load command.
type LoadSummary struct {
	RunID      string                  `json:"run_id"`
	Downloaded []string                `json:"downloaded,omitempty"`
	Snapshots  []engine.SnapshotReport `json:"snapshots"`
	Errors     []string                `json:"errors,omitempty"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load [data-dir]",
		Short: "Load snapshot files into the warehouse",
		Long: `Load every snapshot CSV in the data directory, oldest first.

Snapshot files are named <prefix>...YYYY-MM-DD....csv. With --fetch the
index page at URL is scraped first and missing snapshots are downloaded.
Snapshots already in the warehouse are skipped.

Exit codes:
  0 - Every snapshot loaded, was partial or was skipped
  1 - At least one snapshot failed
  2 - Command error (bad configuration, warehouse unavailable, etc.)

Examples:
  bugdw load ./data --db ./bugdw.db
  bugdw load --fetch https://example.org/dumps/ --prefix scribus
  bugdw load --driver postgres --db postgres://localhost/bugs`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, args, cmd)
		},
	}

	opts.WarehouseFlags.register(cmd)
	cmd.Flags().StringVar(&opts.FetchURL, "fetch", "", "download missing snapshots from this index URL first")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "snapshot file name prefix (default from BUGDW_FILE_PREFIX)")

	return cmd
}

func (o *LoadOptions) apply(cfg *config.Config, args []string) {
	o.WarehouseFlags.apply(cfg)
	if len(args) > 0 {
		cfg.DataDir = args[0]
	}
	if o.FetchURL != "" {
		cfg.SourceURL = o.FetchURL
	}
	if o.Prefix != "" {
		cfg.FilePrefix = o.Prefix
	}
}

func runLoad(opts *LoadOptions, args []string, cmd *cobra.Command) error {
	logger := opts.newLogger(cmd.ErrOrStderr())
	out := opts.formatter(cmd)

	cfg, err := loadConfig(opts.RootOptions, func(c *config.Config) { opts.apply(c, args) })
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	summary := LoadSummary{}
	if opts.FetchURL != "" {
		fetcher := &source.Fetcher{Prefix: cfg.FilePrefix, Logger: logger}
		downloaded, err := fetcher.Fetch(ctx, cfg.SourceURL, cfg.DataDir)
		summary.Downloaded = downloaded
		if err != nil {
			// Snapshots that did download are still loaded.
			logger.Warn("fetch incomplete", "url", cfg.SourceURL, "error", err)
			summary.Errors = append(summary.Errors, err.Error())
		}
	}

	files, err := source.Discover(cfg.DataDir, cfg.FilePrefix, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list snapshots", err)
	}
	out.VerboseLog("found %d snapshot file(s) in %s", len(files), cfg.DataDir)

	wh, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := wh.Close(); closeErr != nil {
			logger.Error("error closing warehouse", "error", closeErr)
		}
	}()

	engineOpts := []engine.EngineOption{engine.WithLogger(logger)}
	if opts.RunIDs != nil {
		engineOpts = append(engineOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}
	eng := engine.New(wh, engineOpts...)

	rep, err := eng.Run(ctx, source.Sources(files))
	if rep != nil {
		summary.RunID = rep.RunID
		out.RunID = rep.RunID
		summary.Snapshots = rep.Snapshots
	}
	if err != nil {
		if engine.IsFatal(err) {
			return WrapExitError(ExitCommandError, "warehouse warm start failed", err)
		}
		return WrapExitError(ExitFailure, "run interrupted", err)
	}
	if runErr := rep.Err(); runErr != nil {
		summary.Errors = append(summary.Errors, runErr.Error())
	}

	failed := rep.Failures()
	switch {
	case opts.Format != "json":
		writeLoadText(out, summary, rep)
	case failed > 0:
		if err := out.Error("E_LOAD_FAILED", fmt.Sprintf("%d snapshot(s) failed", failed), summary); err != nil {
			return err
		}
	default:
		if err := out.Success(summary); err != nil {
			return err
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d snapshot(s) failed", failed))
	}
	return nil
}

func writeLoadText(out *OutputFormatter, s LoadSummary, rep *engine.RunReport) {
	w := out.Writer
	if len(s.Downloaded) > 0 {
		fmt.Fprintf(w, "Downloaded %s file(s)\n", humanize.Comma(int64(len(s.Downloaded))))
	}
	if len(s.Snapshots) == 0 {
		fmt.Fprintln(w, "No snapshots found.")
		return
	}

	rows := make([][]string, 0, len(s.Snapshots))
	for _, sr := range s.Snapshots {
		rows = append(rows, []string{
			sr.Snapshot.String(),
			sr.SourceFile,
			string(sr.Status),
			humanize.Comma(newKeys(sr)),
			humanize.Comma(sr.Calendar.Inserted),
			humanize.Comma(sr.Facts.Closed),
			humanize.Comma(sr.Facts.Inserted),
		})
	}
	out.Table([]string{"Snapshot", "File", "Status", "New keys", "Dates", "Closed", "Inserted"}, rows)

	for _, e := range s.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
	fmt.Fprintf(w, "Run %s: %d loaded, %d partial, %d skipped, %d failed\n",
		s.RunID,
		rep.Count(model.StatusLoaded),
		rep.Count(model.StatusPartial),
		rep.Count(model.StatusSkipped),
		rep.Count(model.StatusFailed))
}

func newKeys(sr engine.SnapshotReport) int64 {
	var n int64
	for _, d := range sr.Dimensions {
		n += int64(len(d.Inserted))
	}
	return n
}

// signalContext cancels on SIGINT or SIGTERM.
// Uses the command's context if set (for testing).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
