package entities

import (
	"fmt"
	"time"
)

// CompletionStatus buckets a percentage into a coarse reading state.
type CompletionStatus string

const (
	StatusNotStarted   CompletionStatus = "not_started"
	StatusStarted      CompletionStatus = "started"
	StatusInProgress   CompletionStatus = "in_progress"
	StatusNearComplete CompletionStatus = "near_complete"
	StatusCompleted    CompletionStatus = "completed"
)

// StatusForPercentage derives the completion status from a percentage.
// Boundaries: 0 not started, (0,50) started, [50,85) in progress,
// [85,100) near complete, >=100 completed.
func StatusForPercentage(pct float64) CompletionStatus {
	switch {
	case pct >= 100:
		return StatusCompleted
	case pct >= 85:
		return StatusNearComplete
	case pct >= 50:
		return StatusInProgress
	case pct > 0:
		return StatusStarted
	default:
		return StatusNotStarted
	}
}

// ReadingStat is the per (user, device, book) aggregate built from KOReader
// statistics snapshots. Cumulative counters never regress across snapshots;
// point-in-time fields follow the snapshot with the latest internal LastReadAt.
type ReadingStat struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	UserID     uint   `gorm:"index:idx_stats_user_device_title,unique" json:"user_id"`
	DeviceName string `gorm:"index:idx_stats_user_device_title,unique;size:100" json:"device_name"`
	BookTitle  string `gorm:"index:idx_stats_user_device_title,unique;size:500" json:"book_title"`

	BookAuthor string `gorm:"size:300" json:"book_author,omitempty"`
	BookID     *uint  `gorm:"index" json:"book_id,omitempty"`

	TotalPages  int     `json:"total_pages,omitempty"`
	ReadPages   int     `json:"read_pages"`
	CurrentPage int     `json:"current_page"`
	Percentage  float64 `json:"percentage"`

	TotalReadingSeconds int64      `json:"total_reading_seconds"`
	FirstReadAt         *time.Time `json:"first_read_at,omitempty"`
	LastReadAt          *time.Time `gorm:"index" json:"last_read_at,omitempty"`

	HighlightsCount int `json:"highlights_count"`
	NotesCount      int `json:"notes_count"`
	BookmarksCount  int `json:"bookmarks_count"`

	Status CompletionStatus `gorm:"index;size:20" json:"status"`

	SourcePath  string `gorm:"size:500" json:"source_path,omitempty"`
	RawSnapshot string `gorm:"type:text" json:"-"`

	User User  `gorm:"foreignKey:UserID" json:"-"`
	Book *Book `gorm:"foreignKey:BookID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ReadingStat) TableName() string {
	return "reading_stats"
}

// ReadingTimeFormatted renders total reading time as "3h12m" style text for
// list views.
func (s *ReadingStat) ReadingTimeFormatted() string {
	hours := s.TotalReadingSeconds / 3600
	minutes := (s.TotalReadingSeconds % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%dh%02dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
