package entities

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Book is a catalogued e-book. The binary content lives in the content store
// keyed by FileHash; each live row owns its hash exclusively, so re-uploading
// known bytes resolves to the existing record instead of a new one.
type Book struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Title  string `gorm:"index;size:512" json:"title"`
	Author string `gorm:"index;size:300" json:"author,omitempty"`
	ISBN   string `gorm:"index;size:13" json:"isbn,omitempty"`

	FileName string `gorm:"size:512" json:"filename"`
	Format   string `gorm:"index;size:10" json:"format"`
	FileSize int64  `json:"file_size"`
	// Unique among live rows only; a soft-deleted book frees its hash.
	FileHash string `gorm:"uniqueIndex:udx_books_file_hash,where:deleted_at IS NULL;size:64" json:"file_hash"`

	Description string     `gorm:"type:text" json:"description,omitempty"`
	Publisher   string     `gorm:"size:200" json:"publisher,omitempty"`
	Language    string     `gorm:"size:10" json:"language,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`

	CoverImage    []byte `gorm:"type:blob" json:"-"`
	CoverMimeType string `gorm:"size:50" json:"cover_mime_type,omitempty"`

	IsAvailable   bool  `gorm:"default:true" json:"is_available"`
	DownloadCount int64 `gorm:"default:0" json:"download_count"`

	UploadedByID *uint `gorm:"index" json:"uploaded_by_id,omitempty"`
	UploadedBy   *User `gorm:"foreignKey:UploadedByID" json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Book) TableName() string {
	return "books"
}

func (b *Book) HasCover() bool {
	return len(b.CoverImage) > 0
}

// DisplayTitle falls back to the filename when metadata extraction produced
// no title.
func (b *Book) DisplayTitle() string {
	if b.Title != "" {
		return b.Title
	}
	return b.FileName
}

// OPDSIdentifier returns the stable urn used in catalog feeds.
func (b *Book) OPDSIdentifier() string {
	return fmt.Sprintf("urn:koshelf:book:%d", b.ID)
}
