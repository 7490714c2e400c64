package source

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/roach88/bugdw/internal/engine"
	"github.com/roach88/bugdw/internal/model"
)

// DefaultPrefix is the file name prefix of the Scribus tracker exports.
const DefaultPrefix = "scribus"

var fileDate = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)

// File is a snapshot file on disk. It implements engine.SnapshotSource.
type File struct {
	Path string
	date time.Time
}

var _ engine.SnapshotSource = File{}

// NewFile returns the snapshot file at path with an explicit snapshot date.
func NewFile(path string, date time.Time) File {
	return File{Path: path, date: model.DateOnly(date)}
}

// Name returns the file's base name.
func (f File) Name() string { return filepath.Base(f.Path) }

// Date returns the snapshot date taken from the file name.
func (f File) Date() time.Time { return f.date }

// Read parses and cleans the file.
func (f File) Read() (model.Snapshot, error) {
	return ReadSnapshot(f.Path, f.date)
}

// DateFromName extracts the first YYYY-MM-DD date in name.
func DateFromName(name string) (time.Time, bool) {
	m := fileDate.FindString(name)
	if m == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.DateOnly, m)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Discover lists the CSV files in dir whose name starts with prefix, ordered
// by snapshot date then name. Files without a valid date in their name are
// skipped with a warning.
func Discover(dir, prefix string, logger *slog.Logger) ([]File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", dir, err)
	}

	files := []File{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.EqualFold(filepath.Ext(name), ".csv") {
			continue
		}
		date, ok := DateFromName(name)
		if !ok {
			logger.Warn("snapshot file has no date in its name, skipping", "file", name)
			continue
		}
		files = append(files, File{Path: filepath.Join(dir, name), date: date})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].date.Equal(files[j].date) {
			return files[i].date.Before(files[j].date)
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// Sources adapts files to engine sources.
func Sources(files []File) []engine.SnapshotSource {
	out := make([]engine.SnapshotSource, len(files))
	for i, f := range files {
		out[i] = f
	}
	return out
}
