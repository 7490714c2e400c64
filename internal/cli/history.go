package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/bugdw/internal/model"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	WarehouseFlags
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <bug-id>",
		Short: "Show the SCD2 versions of one bug",
		Long: `List every version of a bug in the fact table, oldest first, with its
attributes resolved through the dimensions.

Examples:
  bugdw history 1234 --db ./bugdw.db
  bugdw history 1234 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	opts.WarehouseFlags.register(cmd)

	return cmd
}

func runHistory(opts *HistoryOptions, arg string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	logger := opts.newLogger(cmd.ErrOrStderr())

	bugID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid bug id %q", arg))
	}

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

	versions, err := wh.BugHistory(ctx, bugID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}
	if len(versions) == 0 {
		if opts.Format == "json" {
			if err := out.Error("E_NOT_FOUND", fmt.Sprintf("bug %d not found", bugID), nil); err != nil {
				return err
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("bug %d not found", bugID))
	}

	if opts.Format == "json" {
		return out.Success(versions)
	}
	writeHistoryText(out, versions)
	return nil
}

func writeHistoryText(out *OutputFormatter, versions []model.BugVersion) {
	fmt.Fprintf(out.Writer, "Bug %d: %d version(s)\n", versions[0].BugID, len(versions))

	rows := make([][]string, 0, len(versions))
	for _, v := range versions {
		to := "current"
		if v.SnapshotEnd != nil {
			to = v.SnapshotEnd.String()
		}
		rows = append(rows, []string{
			v.SnapshotStart.String(),
			to,
			v.Status,
			v.Resolution,
			v.Priority,
			v.Severity,
			v.Assignee,
			v.FixedVersion,
			v.Summary,
		})
	}
	out.Table([]string{"From", "To", "Status", "Resolution", "Priority", "Severity", "Assignee", "Fixed in", "Summary"}, rows)
}
