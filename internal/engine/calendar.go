package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/bugdw/internal/model"
)

// CalendarResult reports one calendar load.
type CalendarResult struct {
	Candidates int   `json:"candidates"` // Distinct dates not yet in the registry
	Inserted   int64 `json:"inserted"`   // Rows the merge actually inserted
}

// CalendarLoader persists unseen calendar dates.
//
// The registry filters out known date_ids first; the remaining candidates go
// through the gateway's stage+merge, which inserts only absent keys. Either
// step alone would keep the table at one row per date_id, so a stale
// registry never produces duplicates.
type CalendarLoader struct {
	gw     Gateway
	reg    *Registry
	logger *slog.Logger
}

// NewCalendarLoader creates a calendar loader.
func NewCalendarLoader(gw Gateway, reg *Registry, logger *slog.Logger) *CalendarLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalendarLoader{gw: gw, reg: reg, logger: logger}
}

// LoadSnapshot loads every date the snapshot's facts will reference,
// including the computed snapshot end date.
func (l *CalendarLoader) LoadSnapshot(ctx context.Context, snap model.Snapshot) (CalendarResult, error) {
	res, err := l.Load(ctx, snap.CalendarDates())
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Snapshot = snap.DateID()
			le.SourceFile = snap.SourceFile
		}
	}
	return res, err
}

// Load persists the calendar rows for dates whose key is not registered.
func (l *CalendarLoader) Load(ctx context.Context, dates []time.Time) (CalendarResult, error) {
	byID := make(map[model.DateID]model.CalendarEntry)
	for _, d := range dates {
		e := model.NewCalendarEntry(d)
		if l.reg.HasDate(e.ID) {
			continue
		}
		byID[e.ID] = e
	}

	res := CalendarResult{Candidates: len(byID)}
	if len(byID) == 0 && l.reg.calendarSentinelStored {
		l.logger.Debug("calendar unchanged")
		return res, nil
	}

	entries := make([]model.CalendarEntry, 0, len(byID))
	for _, e := range byID {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	tx, err := l.gw.Begin(ctx)
	if err != nil {
		return res, &LoadError{Code: ErrCodeCalendar, Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback()

	if err := tx.EnsureCalendarSentinel(ctx); err != nil {
		return res, &LoadError{Code: ErrCodeCalendar, Err: fmt.Errorf("ensure sentinel: %w", err)}
	}

	if len(entries) > 0 {
		n, err := tx.MergeCalendar(ctx, entries)
		if err != nil {
			return res, &LoadError{Code: ErrCodeCalendar, Err: fmt.Errorf("merge %d dates: %w", len(entries), err)}
		}
		res.Inserted = n
	}

	if err := tx.Commit(); err != nil {
		return res, &LoadError{Code: ErrCodeCalendar, Err: fmt.Errorf("commit: %w", err)}
	}

	for _, e := range entries {
		l.reg.AddDates(e.ID)
	}
	l.reg.calendarSentinelStored = true

	l.logger.Info("calendar loaded", "candidates", res.Candidates, "new_rows", res.Inserted)
	return res, nil
}
