// Package stats turns KOReader statistics snapshots into per-book reading
// aggregates.
//
// Snapshots arrive as whole-state JSON documents, usually over the WebDAV
// surface. Ingestion is idempotent: replaying the same snapshot changes
// nothing, and cumulative counters never move backwards even when an old
// snapshot shows up after a newer one.
package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/koshelf/koshelf/internal/database/books"
	statsdb "github.com/koshelf/koshelf/internal/database/stats"
	"github.com/koshelf/koshelf/internal/entities"
)

var (
	ErrMalformedPayload = errors.New("statistics payload is not valid JSON")
	ErrMissingTitle     = errors.New("statistics payload has no title")
)

// Snapshot is the parsed, validated form of one statistics document.
type Snapshot struct {
	Title          string
	Authors        string
	File           string
	TotalPages     int
	CurrentPage    int
	Percentage     float64
	ReadingSeconds int64
	LastReadAt     *time.Time
	DeviceID       string
	Highlights     int
	Notes          int
	Bookmarks      int
	Raw            string
}

// Result reports one completed ingestion.
type Result struct {
	Stat     *entities.ReadingStat
	Created  bool
	Warnings []string
}

// Ingestor parses snapshots and merges them into stored aggregates.
type Ingestor struct {
	stats *statsdb.Repository
	books *books.Repository
	locks keyedLocks
}

func NewIngestor(statsRepo *statsdb.Repository, bookRepo *books.Repository) *Ingestor {
	return &Ingestor{stats: statsRepo, books: bookRepo}
}

// Parse decodes a raw statistics document. A payload that is not a JSON
// object at all is rejected; a payload whose individual fields are malformed
// loses those fields with a warning and keeps the rest.
func Parse(payload []byte) (*Snapshot, []string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var warnings []string
	warn := func(key string) {
		warnings = append(warnings, fmt.Sprintf("ignoring malformed field %q", key))
	}

	snap := &Snapshot{Raw: string(payload)}

	if s, ok := stringField(fields, "title"); ok {
		snap.Title = s
	} else if _, present := fields["title"]; present {
		warn("title")
	}
	if strings.TrimSpace(snap.Title) == "" {
		return nil, warnings, ErrMissingTitle
	}

	if s, ok := stringField(fields, "authors"); ok {
		snap.Authors = s
	} else if _, present := fields["authors"]; present {
		warn("authors")
	}
	if s, ok := stringField(fields, "file"); ok {
		snap.File = s
	} else if _, present := fields["file"]; present {
		warn("file")
	}
	if s, ok := stringField(fields, "device_id"); ok {
		snap.DeviceID = s
	} else if _, present := fields["device_id"]; present {
		warn("device_id")
	}

	intField(fields, "pages", &snap.TotalPages, warn)
	intField(fields, "page", &snap.CurrentPage, warn)
	intField(fields, "highlights", &snap.Highlights, warn)
	intField(fields, "notes", &snap.Notes, warn)
	intField(fields, "bookmarks", &snap.Bookmarks, warn)

	if raw, present := fields["time_spent_reading"]; present {
		if v, ok := numberField(raw); ok && v >= 0 {
			snap.ReadingSeconds = int64(v)
		} else {
			warn("time_spent_reading")
		}
	}

	if raw, present := fields["percentage"]; present {
		if v, ok := numberField(raw); ok && v >= 0 {
			// KOReader reports the fraction read, not a percent.
			if v <= 1 {
				v *= 100
			}
			if v > 100 {
				v = 100
			}
			snap.Percentage = v
		} else {
			warn("percentage")
		}
	}

	if raw, present := fields["last_time"]; present {
		if v, ok := numberField(raw); ok && v > 0 {
			t := time.Unix(int64(v), 0).UTC()
			snap.LastReadAt = &t
		} else {
			warn("last_time")
		}
	}

	// Derive percentage from the page position when the payload carries none.
	if snap.Percentage == 0 && snap.TotalPages > 0 && snap.CurrentPage > 0 {
		snap.Percentage = float64(snap.CurrentPage) / float64(snap.TotalPages) * 100
	}

	return snap, warnings, nil
}

// Ingest parses a payload and merges it into the aggregate for
// (user, deviceName, title). Safe to call concurrently.
func (i *Ingestor) Ingest(userID uint, deviceName string, payload []byte) (*Result, error) {
	snap, warnings, err := Parse(payload)
	if err != nil {
		return &Result{Warnings: warnings}, err
	}
	res, err := i.Merge(userID, deviceName, snap)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(warnings, res.Warnings...)
	return res, nil
}

// Merge folds a parsed snapshot into the stored aggregate.
func (i *Ingestor) Merge(userID uint, deviceName string, snap *Snapshot) (*Result, error) {
	mu := i.locks.lock(userID, deviceName, snap.Title)
	defer mu.Unlock()

	res := &Result{}
	err := i.stats.Transaction(func(tx *gorm.DB) error {
		stat, err := i.stats.FindForMerge(tx, userID, deviceName, snap.Title)
		if errors.Is(err, statsdb.ErrNotFound) {
			stat = &entities.ReadingStat{
				UserID:     userID,
				DeviceName: deviceName,
				BookTitle:  snap.Title,
			}
			res.Created = true
		} else if err != nil {
			return err
		}

		merge(stat, snap)

		if stat.BookID == nil {
			if book, err := i.books.FindByTitle(snap.Title, snap.Authors); err == nil {
				stat.BookID = &book.ID
			}
		}

		if err := i.stats.Save(tx, stat); err != nil {
			return err
		}
		res.Stat = stat
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merge statistics: %w", err)
	}
	return res, nil
}

// merge applies the snapshot to the aggregate. Counters only ever grow;
// position fields follow whichever snapshot read the book most recently
// according to the snapshot's own last_time.
func merge(stat *entities.ReadingStat, snap *Snapshot) {
	stat.TotalReadingSeconds = maxInt64(stat.TotalReadingSeconds, snap.ReadingSeconds)
	stat.ReadPages = maxInt(stat.ReadPages, snap.CurrentPage)
	stat.HighlightsCount = maxInt(stat.HighlightsCount, snap.Highlights)
	stat.NotesCount = maxInt(stat.NotesCount, snap.Notes)
	stat.BookmarksCount = maxInt(stat.BookmarksCount, snap.Bookmarks)
	stat.TotalPages = maxInt(stat.TotalPages, snap.TotalPages)

	if stat.BookAuthor == "" {
		stat.BookAuthor = snap.Authors
	}
	if stat.SourcePath == "" {
		stat.SourcePath = snap.File
	}

	if snap.LastReadAt != nil {
		if stat.FirstReadAt == nil || snap.LastReadAt.Before(*stat.FirstReadAt) {
			t := *snap.LastReadAt
			stat.FirstReadAt = &t
		}
	}

	if !snapshotIsStale(stat, snap) {
		stat.CurrentPage = snap.CurrentPage
		stat.Percentage = snap.Percentage
		if snap.LastReadAt != nil {
			t := *snap.LastReadAt
			stat.LastReadAt = &t
		}
		stat.RawSnapshot = snap.Raw
		stat.Status = entities.StatusForPercentage(stat.Percentage)
	}
	if stat.Status == "" {
		stat.Status = entities.StatusForPercentage(stat.Percentage)
	}
}

// snapshotIsStale reports whether the incoming snapshot was captured before
// the one already folded in. A snapshot without last_time is never stale.
func snapshotIsStale(stat *entities.ReadingStat, snap *Snapshot) bool {
	if snap.LastReadAt == nil || stat.LastReadAt == nil {
		return false
	}
	return snap.LastReadAt.Before(*stat.LastReadAt)
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// numberField accepts JSON numbers and numeric strings; KOReader emits both
// depending on version.
func numberField(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func intField(fields map[string]json.RawMessage, key string, dst *int, warn func(string)) {
	raw, present := fields[key]
	if !present {
		return
	}
	v, ok := numberField(raw)
	if !ok || v < 0 {
		warn(key)
		return
	}
	*dst = int(v)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
