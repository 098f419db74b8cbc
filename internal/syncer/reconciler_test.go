package syncer

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/koshelf/koshelf/internal/database/books"
	"github.com/koshelf/koshelf/internal/database/devices"
	"github.com/koshelf/koshelf/internal/database/syncs"
	"github.com/koshelf/koshelf/internal/entities"
)

func setupReconciler(t *testing.T) (*gorm.DB, *Reconciler, func()) {
	dbPath := "./test_syncer_" + t.Name() + ".db"

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	if sqlDB, err := db.DB(); err == nil {
		_, err = sqlDB.Exec("PRAGMA busy_timeout = 5000")
		require.NoError(t, err)
	}

	err = db.AutoMigrate(
		&entities.User{},
		&entities.Device{},
		&entities.Book{},
		&entities.SyncRecord{},
	)
	require.NoError(t, err)

	rec := NewReconciler(
		syncs.NewRepository(db),
		devices.NewRepository(db),
		books.NewRepository(db),
	)

	cleanup := func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
		os.Remove(dbPath)
	}

	return db, rec, cleanup
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *entities.User {
	user := &entities.User{
		Username:     username,
		PasswordHash: "x",
		IsActive:     true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func intPtr(v int) *int { return &v }

func TestUploadAndGetRoundTrip(t *testing.T) {
	db, rec, cleanup := setupReconciler(t)
	defer cleanup()

	user := createTestUser(t, db, "alice")

	record, err := rec.UploadProgress(user.ID, ProgressUpdate{
		Document:   "book.epub",
		Progress:   "/body/DocFragment[12]/p[3]",
		Percentage: 42.5,
		Device:     "kobo-libra",
		Page:       intPtr(118),
		Chapter:    "Chapter 7",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), record.SyncCount)

	got, err := rec.GetProgress(user.ID, "book.epub")
	require.NoError(t, err)
	assert.Equal(t, "/body/DocFragment[12]/p[3]", got.Progress)
	assert.Equal(t, 42.5, got.Percentage)
	assert.Equal(t, "kobo-libra", got.DeviceName)
	require.NotNil(t, got.Page)
	assert.Equal(t, 118, *got.Page)
	assert.Equal(t, "Chapter 7", got.Chapter)
}

func TestLastReceivedWriteWins(t *testing.T) {
	db, rec, cleanup := setupReconciler(t)
	defer cleanup()

	user := createTestUser(t, db, "alice")

	// The phone reports 25% with a current clock, then the e-reader reports
	// 10% with a clock three days behind. The e-reader's write arrived last,
	// so it wins regardless of the timestamps.
	newer := int64(1700000000)
	older := int64(1699740800)

	_, err := rec.UploadProgress(user.ID, ProgressUpdate{
		Document:   "book.epub",
		Progress:   "page-90",
		Percentage: 25,
		Device:     "phone",
		Timestamp:  &newer,
	})
	require.NoError(t, err)

	_, err = rec.UploadProgress(user.ID, ProgressUpdate{
		Document:   "book.epub",
		Progress:   "page-36",
		Percentage: 10,
		Device:     "ereader",
		Timestamp:  &older,
	})
	require.NoError(t, err)

	got, err := rec.GetProgress(user.ID, "book.epub")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.Percentage)
	assert.Equal(t, "ereader", got.DeviceName)
	require.NotNil(t, got.DeviceTimestamp)
	assert.Equal(t, older, *got.DeviceTimestamp)
	assert.Equal(t, int64(2), got.SyncCount)
}

func TestUploadValidation(t *testing.T) {
	db, rec, cleanup := setupReconciler(t)
	defer cleanup()

	user := createTestUser(t, db, "alice")

	_, err := rec.UploadProgress(user.ID, ProgressUpdate{
		Progress: "x", Percentage: 10,
	})
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, err = rec.UploadProgress(user.ID, ProgressUpdate{
		Document: "  ", Progress: "x", Percentage: 10,
	})
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, err = rec.UploadProgress(user.ID, ProgressUpdate{
		Document: "book.epub", Percentage: 10,
	})
	assert.ErrorIs(t, err, ErrEmptyProgress)

	_, err = rec.UploadProgress(user.ID, ProgressUpdate{
		Document: "book.epub", Progress: "x", Percentage: -0.1,
	})
	assert.ErrorIs(t, err, ErrInvalidPercentage)

	_, err = rec.UploadProgress(user.ID, ProgressUpdate{
		Document: "book.epub", Progress: "x", Percentage: 100.1,
	})
	assert.ErrorIs(t, err, ErrInvalidPercentage)

	// Boundaries are inclusive
	_, err = rec.UploadProgress(user.ID, ProgressUpdate{
		Document: "book.epub", Progress: "start", Percentage: 0,
	})
	assert.NoError(t, err)
	_, err = rec.UploadProgress(user.ID, ProgressUpdate{
		Document: "book.epub", Progress: "end", Percentage: 100,
	})
	assert.NoError(t, err)
}

func TestUsersAreIsolated(t *testing.T) {
	db, rec, cleanup := setupReconciler(t)
	defer cleanup()

	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")

	_, err := rec.UploadProgress(alice.ID, ProgressUpdate{
		Document: "shared.epub", Progress: "p1", Percentage: 50,
	})
	require.NoError(t, err)

	_, err = rec.GetProgress(bob.ID, "shared.epub")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHashAndFilenameAreDistinctDocuments(t *testing.T) {
	db, rec, cleanup := setupReconciler(t)
	defer cleanup()

	user := createTestUser(t, db, "alice")
	hash := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	_, err := rec.UploadProgress(user.ID, ProgressUpdate{
		Document: "book.epub", Progress: "p1", Percentage: 30,
	})
	require.NoError(t, err)
	_, err = rec.UploadProgress(user.ID, ProgressUpdate{
		Document: hash, Progress: "p2", Percentage: 60,
	})
	require.NoError(t, err)

	byName, err := rec.GetProgress(user.ID, "book.epub")
	require.NoError(t, err)
	byHash, err := rec.GetProgress(user.ID, hash)
	require.NoError(t, err)
	assert.Equal(t, 30.0, byName.Percentage)
	assert.Equal(t, 60.0, byHash.Percentage)
}

func TestHashDocumentLinksToBook(t *testing.T) {
	db, rec, cleanup := setupReconciler(t)
	defer cleanup()

	user := createTestUser(t, db, "alice")

	hash := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	book := &entities.Book{Title: "Linked Book", FileHash: hash, Format: "epub", IsAvailable: true}
	require.NoError(t, db.Create(book).Error)

	record, err := rec.UploadProgress(user.ID, ProgressUpdate{
		Document: hash, Progress: "p1", Percentage: 15,
	})
	require.NoError(t, err)
	require.NotNil(t, record.BookID)
	assert.Equal(t, book.ID, *record.BookID)
	assert.Equal(t, hash, record.DocumentHash)
}

func TestDeviceCountersTracked(t *testing.T) {
	db, rec, cleanup := setupReconciler(t)
	defer cleanup()

	user := createTestUser(t, db, "alice")

	for i := 0; i < 3; i++ {
		_, err := rec.UploadProgress(user.ID, ProgressUpdate{
			Document:   "book.epub",
			Progress:   fmt.Sprintf("p%d", i),
			Percentage: float64(i * 10),
			Device:     "boox-page",
		})
		require.NoError(t, err)
	}

	var device entities.Device
	require.NoError(t, db.Where("user_id = ? AND device_name = ?", user.ID, "boox-page").First(&device).Error)
	assert.Equal(t, int64(3), device.SyncCount)
	assert.NotEmpty(t, device.DeviceID)
}

func TestBatchUploadPartialFailure(t *testing.T) {
	db, rec, cleanup := setupReconciler(t)
	defer cleanup()

	user := createTestUser(t, db, "alice")

	results := rec.BatchUpload(user.ID, []ProgressUpdate{
		{Document: "one.epub", Progress: "p1", Percentage: 10},
		{Document: "", Progress: "p2", Percentage: 20},
		{Document: "three.epub", Progress: "p3", Percentage: 130},
		{Document: "four.epub", Progress: "p4", Percentage: 40},
	})

	require.Len(t, results, 4)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.False(t, results[2].OK)
	assert.True(t, results[3].OK)

	_, err := rec.GetProgress(user.ID, "one.epub")
	assert.NoError(t, err)
	_, err = rec.GetProgress(user.ID, "four.epub")
	assert.NoError(t, err)
	_, err = rec.GetProgress(user.ID, "three.epub")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentUploadsDoNotLoseWrites(t *testing.T) {
	db, rec, cleanup := setupReconciler(t)
	defer cleanup()

	user := createTestUser(t, db, "alice")

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := rec.UploadProgress(user.ID, ProgressUpdate{
				Document:   "busy.epub",
				Progress:   fmt.Sprintf("p%d", i),
				Percentage: float64(i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := rec.GetProgress(user.ID, "busy.epub")
	require.NoError(t, err)
	// Every write must have been counted even under contention.
	assert.Equal(t, int64(writers), got.SyncCount)
}

func TestListAndDeleteProgress(t *testing.T) {
	db, rec, cleanup := setupReconciler(t)
	defer cleanup()

	user := createTestUser(t, db, "alice")

	for _, doc := range []string{"a.epub", "b.epub", "c.pdf"} {
		_, err := rec.UploadProgress(user.ID, ProgressUpdate{
			Document: doc, Progress: "p", Percentage: 1,
		})
		require.NoError(t, err)
	}

	records, total, err := rec.ListProgress(user.ID, 1, 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, records, 3)

	filtered, total, err := rec.ListProgress(user.ID, 1, 10, ".epub")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, filtered, 2)

	require.NoError(t, rec.DeleteProgress(user.ID, records[0].ID))
	_, total, err = rec.ListProgress(user.ID, 1, 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	assert.ErrorIs(t, rec.DeleteProgress(user.ID, records[0].ID), ErrNotFound)
}
