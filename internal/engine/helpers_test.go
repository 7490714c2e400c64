package engine

import (
	"io"
	"log/slog"
	"time"

	"github.com/roach88/bugdw/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// bug returns a record with every attribute set to Unknown.
func bug(id int64) model.BugRecord {
	u := model.Unknown
	return model.BugRecord{
		BugID: id, Summary: "bug", Project: u, Reporter: u, AssignedTo: u,
		Priority: u, Severity: u, Reproducibility: u, ProductVersion: u,
		FixedInVersion: u, Category: u, Platform: u, OS: u, OSVersion: u,
		ViewStatus: u, Status: u, Resolution: u,
	}
}

func bugIn(id int64, project, status string) model.BugRecord {
	b := bug(id)
	b.Project = project
	b.Status = status
	return b
}

func snapshot(d time.Time, rows ...model.BugRecord) model.Snapshot {
	return model.Snapshot{
		SourceDate: d,
		SourceFile: "scribus-dump-" + d.Format(time.DateOnly) + ".csv",
		Rows:       rows,
	}
}

func newTestEngine(gw Gateway) *Engine {
	return New(gw,
		WithLogger(discardLogger()),
		WithRunIDGenerator(NewFixedGenerator("run-1", "run-2", "run-3")),
		WithClock(func() time.Time { return day(2025, 10, 25) }),
	)
}
