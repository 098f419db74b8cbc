// Package syncer implements reading-progress reconciliation.
//
// Every accepted write replaces the stored position for its (user, document)
// pair. When two devices disagree, the write the server receives last wins;
// client clocks are never consulted because they drift, run ahead, or are
// plain wrong on e-ink devices. Writers for the same pair are serialized
// through a keyed lock so concurrent updates cannot interleave their
// read-modify-write cycles.
package syncer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/koshelf/koshelf/internal/database/books"
	"github.com/koshelf/koshelf/internal/database/devices"
	"github.com/koshelf/koshelf/internal/database/syncs"
	"github.com/koshelf/koshelf/internal/entities"
)

var (
	ErrEmptyDocument     = errors.New("document identifier is required")
	ErrEmptyProgress     = errors.New("progress value is required")
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")
	ErrNotFound          = syncs.ErrNotFound
)

const maxDocumentLength = 500

// ProgressUpdate is one device-reported reading position.
type ProgressUpdate struct {
	Document   string
	Progress   string
	Percentage float64
	Device     string
	DeviceID   string
	Page       *int
	Pos        string
	Chapter    string
	// Timestamp is the client's clock at write time. Stored for display,
	// ignored for conflict resolution.
	Timestamp *int64
}

// BatchResult reports the outcome of one entry in a batch upload.
type BatchResult struct {
	Document string `json:"document"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// Reconciler coordinates progress writes across repositories.
type Reconciler struct {
	syncs   *syncs.Repository
	devices *devices.Repository
	books   *books.Repository
	locks   keyedLocks
}

func NewReconciler(syncRepo *syncs.Repository, deviceRepo *devices.Repository, bookRepo *books.Repository) *Reconciler {
	return &Reconciler{
		syncs:   syncRepo,
		devices: deviceRepo,
		books:   bookRepo,
	}
}

// UploadProgress validates and persists one position report. The stored
// record always reflects the latest accepted write in server receipt order.
func (r *Reconciler) UploadProgress(userID uint, upd ProgressUpdate) (*entities.SyncRecord, error) {
	if err := validate(&upd); err != nil {
		return nil, err
	}

	mu := r.locks.lock(userID, upd.Document)
	defer mu.Unlock()

	update := syncs.Update{
		Document:        upd.Document,
		Progress:        upd.Progress,
		Percentage:      upd.Percentage,
		Page:            upd.Page,
		Pos:             upd.Pos,
		Chapter:         upd.Chapter,
		DeviceName:      upd.Device,
		DeviceID:        upd.DeviceID,
		DeviceTimestamp: upd.Timestamp,
	}

	if upd.Device != "" {
		device, err := r.devices.GetOrCreate(userID, upd.DeviceID, upd.Device)
		if err != nil {
			return nil, fmt.Errorf("resolve device: %w", err)
		}
		update.DeviceRowID = device.ID
		update.DeviceID = device.DeviceID
	}

	if book := r.matchBook(upd.Document); book != nil {
		update.DocumentHash = book.FileHash
		update.BookID = &book.ID
	}

	record, err := r.syncs.Apply(userID, update)
	if err != nil {
		return nil, fmt.Errorf("apply progress: %w", err)
	}
	return record, nil
}

// BatchUpload applies several position reports in order. Entries fail
// individually; one malformed entry does not abort the rest.
func (r *Reconciler) BatchUpload(userID uint, updates []ProgressUpdate) []BatchResult {
	results := make([]BatchResult, 0, len(updates))
	for _, upd := range updates {
		res := BatchResult{Document: upd.Document, OK: true}
		if _, err := r.UploadProgress(userID, upd); err != nil {
			res.OK = false
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}

// GetProgress returns the current position for a document.
func (r *Reconciler) GetProgress(userID uint, document string) (*entities.SyncRecord, error) {
	document = strings.TrimSpace(document)
	if document == "" {
		return nil, ErrEmptyDocument
	}
	return r.syncs.Get(userID, document)
}

// ListProgress returns one page of the user's positions, newest first.
func (r *Reconciler) ListProgress(userID uint, page, size int, documentFilter string) ([]entities.SyncRecord, int64, error) {
	return r.syncs.List(userID, page, size, documentFilter)
}

// DeleteProgress removes a position by record ID.
func (r *Reconciler) DeleteProgress(userID, id uint) error {
	return r.syncs.Delete(userID, id)
}

func validate(upd *ProgressUpdate) error {
	upd.Document = strings.TrimSpace(upd.Document)
	if upd.Document == "" {
		return ErrEmptyDocument
	}
	if len(upd.Document) > maxDocumentLength {
		return fmt.Errorf("%w: identifier exceeds %d characters", ErrEmptyDocument, maxDocumentLength)
	}
	if strings.TrimSpace(upd.Progress) == "" {
		return ErrEmptyProgress
	}
	// Out-of-range percentages are rejected rather than clamped: a client
	// sending 250 is confused, and silently storing 100 would hide that.
	if upd.Percentage < 0 || upd.Percentage > 100 {
		return ErrInvalidPercentage
	}
	return nil
}

// matchBook links a position report to a catalogued book when the client
// identifies the document by its content hash. Filename identifiers are left
// unlinked: guessing which book "book.epub" means is worse than not linking.
func (r *Reconciler) matchBook(document string) *entities.Book {
	if !looksLikeContentHash(document) {
		return nil
	}
	book, err := r.books.FindByHash(strings.ToLower(document))
	if err != nil {
		return nil
	}
	return book
}

func looksLikeContentHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		ok := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !ok {
			return false
		}
	}
	return true
}
