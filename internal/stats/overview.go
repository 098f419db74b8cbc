package stats

import (
	"sort"
	"time"

	"github.com/koshelf/koshelf/internal/entities"
)

// Overview summarizes a user's reading activity across all devices.
type Overview struct {
	BooksTracked        int                               `json:"books_tracked"`
	TotalReadingSeconds int64                             `json:"total_reading_seconds"`
	TotalReadPages      int                               `json:"total_read_pages"`
	TotalHighlights     int                               `json:"total_highlights"`
	TotalNotes          int                               `json:"total_notes"`
	CompletionRate      float64                           `json:"completion_rate"`
	ByStatus            map[entities.CompletionStatus]int `json:"by_status"`
	ByDevice            map[string]int                    `json:"by_device"`
	RecentlyRead        []RecentBook                      `json:"recently_read"`
}

// RecentBook is one entry in the recently-read list.
type RecentBook struct {
	Title      string     `json:"title"`
	Author     string     `json:"author,omitempty"`
	Device     string     `json:"device"`
	Percentage float64    `json:"percentage"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
}

const recentLimit = 10

// BuildOverview aggregates all of a user's stored statistics. Books tracked
// on several devices count once per device; the per-device split is what the
// underlying records store, and collapsing them here would guess at identity.
func (i *Ingestor) BuildOverview(userID uint) (*Overview, error) {
	records, err := i.stats.ListForUser(userID)
	if err != nil {
		return nil, err
	}

	ov := &Overview{
		BooksTracked: len(records),
		ByStatus:     make(map[entities.CompletionStatus]int),
		ByDevice:     make(map[string]int),
	}

	for _, rec := range records {
		ov.TotalReadingSeconds += rec.TotalReadingSeconds
		ov.TotalReadPages += rec.ReadPages
		ov.TotalHighlights += rec.HighlightsCount
		ov.TotalNotes += rec.NotesCount
		ov.ByStatus[rec.Status]++
		ov.ByDevice[rec.DeviceName]++
	}
	if len(records) > 0 {
		ov.CompletionRate = float64(ov.ByStatus[entities.StatusCompleted]) / float64(len(records)) * 100
	}

	sort.Slice(records, func(a, b int) bool {
		ta, tb := records[a].LastReadAt, records[b].LastReadAt
		if ta == nil {
			return false
		}
		if tb == nil {
			return true
		}
		return ta.After(*tb)
	})

	for _, rec := range records {
		if len(ov.RecentlyRead) == recentLimit {
			break
		}
		if rec.LastReadAt == nil {
			continue
		}
		ov.RecentlyRead = append(ov.RecentlyRead, RecentBook{
			Title:      rec.BookTitle,
			Author:     rec.BookAuthor,
			Device:     rec.DeviceName,
			Percentage: rec.Percentage,
			LastReadAt: rec.LastReadAt,
		})
	}

	return ov, nil
}
