package entities

import "time"

// SyncRecord is the current reading position for one (user, document) pair.
// Document is the client-supplied identifier, either a filename or a content
// hash. Updates replace the row; there is exactly one current record per pair.
type SyncRecord struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	UserID   uint   `gorm:"index:idx_sync_user_document,unique" json:"user_id"`
	Document string `gorm:"index:idx_sync_user_document,unique;size:500" json:"document"`

	// DocumentHash is set when Document is recognised as the content hash of
	// a catalogued book, so that hash-reporting and filename-reporting devices
	// can at least be correlated on the read side.
	DocumentHash string `gorm:"index;size:64" json:"document_hash,omitempty"`
	BookID       *uint  `gorm:"index" json:"book_id,omitempty"`

	Progress   string  `gorm:"size:200" json:"progress"`
	Percentage float64 `json:"percentage"`
	Page       *int    `json:"page,omitempty"`
	Pos        string  `gorm:"size:200" json:"pos,omitempty"`
	Chapter    string  `gorm:"size:500" json:"chapter,omitempty"`

	DeviceName string `gorm:"size:100" json:"device_name,omitempty"`
	DeviceID   string `gorm:"size:100" json:"device_id,omitempty"`

	// DeviceTimestamp is the client-reported unix time. Advisory only: the
	// winning write is decided by server receipt order, never by this value.
	DeviceTimestamp *int64    `json:"device_timestamp,omitempty"`
	LastSyncAt      time.Time `gorm:"index" json:"last_sync_at"`
	SyncCount       int64     `gorm:"default:0" json:"sync_count"`

	User User  `gorm:"foreignKey:UserID" json:"-"`
	Book *Book `gorm:"foreignKey:BookID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SyncRecord) TableName() string {
	return "sync_records"
}

func (r *SyncRecord) Finished() bool {
	return r.Percentage >= 100.0
}

// Kosync renders the record in the wire shape the kosync plugin expects.
func (r *SyncRecord) Kosync() map[string]any {
	out := map[string]any{
		"document":   r.Document,
		"progress":   r.Progress,
		"percentage": r.Percentage,
		"device":     r.DeviceName,
		"device_id":  r.DeviceID,
		"timestamp":  r.LastSyncAt.Unix(),
	}
	if r.Page != nil {
		out["page"] = *r.Page
	}
	if r.Pos != "" {
		out["pos"] = r.Pos
	}
	if r.Chapter != "" {
		out["chapter"] = r.Chapter
	}
	return out
}
