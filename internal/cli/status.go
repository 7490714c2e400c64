package cli

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/bugdw/internal/model"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	WarehouseFlags
	Runs int
}

// StatusReport is the JSON payload of the status command.
type StatusReport struct {
	Dimensions []model.DimensionCount `json:"dimensions"`
	Facts      model.FactCounts       `json:"facts"`
	Runs       []model.RunSummary     `json:"runs"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show warehouse contents and recent runs",
		Long: `Show row counts per dimension, current and historical fact rows, and
the most recent load runs.

Examples:
  bugdw status --db ./bugdw.db
  bugdw status --runs 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	opts.WarehouseFlags.register(cmd)
	cmd.Flags().IntVar(&opts.Runs, "runs", 5, "number of recent runs to list")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	logger := opts.newLogger(cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.RootOptions, opts.WarehouseFlags.apply)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	wh, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := wh.Close(); closeErr != nil {
			logger.Error("error closing warehouse", "error", closeErr)
		}
	}()

	var rep StatusReport
	if rep.Dimensions, err = wh.DimensionCounts(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to count dimensions", err)
	}
	if rep.Facts, err = wh.FactCounts(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to count facts", err)
	}
	if rep.Runs, err = wh.ListRuns(ctx, opts.Runs); err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if opts.Format == "json" {
		return out.Success(rep)
	}
	writeStatusText(out, rep)
	return nil
}

func writeStatusText(out *OutputFormatter, rep StatusReport) {
	w := out.Writer
	dims := make([][]string, 0, len(rep.Dimensions))
	for _, d := range rep.Dimensions {
		dims = append(dims, []string{d.Dimension, d.Table, humanize.Comma(d.Rows)})
	}
	out.Table([]string{"Dimension", "Table", "Rows"}, dims)

	fmt.Fprintln(w)
	latest := "none"
	if rep.Facts.Snapshots > 0 {
		latest = rep.Facts.Latest.String()
	}
	fmt.Fprintf(w, "Bugs: %s (%s current, %s historical rows)\n",
		humanize.Comma(rep.Facts.Bugs), humanize.Comma(rep.Facts.Current), humanize.Comma(rep.Facts.Historical))
	fmt.Fprintf(w, "Snapshots: %s, latest %s\n", humanize.Comma(rep.Facts.Snapshots), latest)

	fmt.Fprintln(w)
	if len(rep.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	runs := make([][]string, 0, len(rep.Runs))
	for _, r := range rep.Runs {
		runs = append(runs, []string{
			r.ID,
			humanize.Time(r.StartedAt),
			strconv.Itoa(r.Snapshots),
			strconv.Itoa(r.Loaded),
			strconv.Itoa(r.Partial),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Failures),
		})
	}
	out.Table([]string{"Run", "Started", "Snapshots", "Loaded", "Partial", "Skipped", "Failed"}, runs)
}
