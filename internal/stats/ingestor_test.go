package stats

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
	statsdb "github.com/koshelf/koshelf/internal/database/stats"
	"github.com/koshelf/koshelf/internal/entities"
)

func setupIngestor(t *testing.T) (*gorm.DB, *Ingestor, func()) {
	dbPath := "./test_stats_" + t.Name() + ".db"

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
		&entities.Book{},
		&entities.ReadingStat{},
	)
	require.NoError(t, err)

	ing := NewIngestor(statsdb.NewRepository(db), books.NewRepository(db))

	cleanup := func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
		os.Remove(dbPath)
	}

	return db, ing, cleanup
}

func TestParseRejectsNonJSON(t *testing.T) {
	_, _, err := Parse([]byte("not json at all"))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseRequiresTitle(t *testing.T) {
	_, _, err := Parse([]byte(`{"pages": 300}`))
	assert.ErrorIs(t, err, ErrMissingTitle)

	_, _, err = Parse([]byte(`{"title": "   "}`))
	assert.ErrorIs(t, err, ErrMissingTitle)
}

func TestParseSkipsMalformedFieldsWithWarning(t *testing.T) {
	snap, warnings, err := Parse([]byte(`{
		"title": "Dune",
		"pages": "not-a-number",
		"page": 42,
		"highlights": 3
	}`))
	require.NoError(t, err)

	assert.Equal(t, "Dune", snap.Title)
	assert.Equal(t, 0, snap.TotalPages)
	assert.Equal(t, 42, snap.CurrentPage)
	assert.Equal(t, 3, snap.Highlights)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "pages")
}

func TestParseNumericStrings(t *testing.T) {
	snap, warnings, err := Parse([]byte(`{
		"title": "Dune",
		"pages": "412",
		"time_spent_reading": "3600"
	}`))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 412, snap.TotalPages)
	assert.Equal(t, int64(3600), snap.ReadingSeconds)
}

func TestParsePercentageScales(t *testing.T) {
	// Fractions scale to percent, percent values pass through, excess clamps.
	cases := []struct {
		raw  string
		want float64
	}{
		{`0.5`, 50},
		{`1`, 100},
		{`73.2`, 73.2},
		{`250`, 100},
	}
	for _, tc := range cases {
		snap, _, err := Parse([]byte(fmt.Sprintf(`{"title":"T","percentage":%s}`, tc.raw)))
		require.NoError(t, err)
		assert.Equal(t, tc.want, snap.Percentage, "raw %s", tc.raw)
	}
}

func TestParseDerivesPercentageFromPages(t *testing.T) {
	snap, _, err := Parse([]byte(`{"title":"T","pages":200,"page":50}`))
	require.NoError(t, err)
	assert.Equal(t, 25.0, snap.Percentage)
}

func snapshotJSON(page, pages int, seconds int64, lastTime int64) []byte {
	return []byte(fmt.Sprintf(`{
		"title": "Dune",
		"authors": "Frank Herbert",
		"file": "/books/dune.epub",
		"pages": %d,
		"page": %d,
		"time_spent_reading": %d,
		"last_time": %d,
		"highlights": 2,
		"notes": 1,
		"bookmarks": 4
	}`, pages, page, seconds, lastTime))
}

func TestIngestCreatesAggregate(t *testing.T) {
	_, ing, cleanup := setupIngestor(t)
	defer cleanup()

	res, err := ing.Ingest(1, "kobo", snapshotJSON(100, 400, 3600, 1700000000))
	require.NoError(t, err)
	assert.True(t, res.Created)

	stat := res.Stat
	assert.Equal(t, "Dune", stat.BookTitle)
	assert.Equal(t, "Frank Herbert", stat.BookAuthor)
	assert.Equal(t, 100, stat.CurrentPage)
	assert.Equal(t, 400, stat.TotalPages)
	assert.Equal(t, int64(3600), stat.TotalReadingSeconds)
	assert.Equal(t, 25.0, stat.Percentage)
	assert.Equal(t, entities.StatusStarted, stat.Status)
	require.NotNil(t, stat.LastReadAt)
	assert.Equal(t, int64(1700000000), stat.LastReadAt.Unix())
}

func TestIngestIsIdempotent(t *testing.T) {
	db, ing, cleanup := setupIngestor(t)
	defer cleanup()

	payload := snapshotJSON(100, 400, 3600, 1700000000)

	first, err := ing.Ingest(1, "kobo", payload)
	require.NoError(t, err)
	second, err := ing.Ingest(1, "kobo", payload)
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.Stat.CurrentPage, second.Stat.CurrentPage)
	assert.Equal(t, first.Stat.TotalReadingSeconds, second.Stat.TotalReadingSeconds)

	var count int64
	require.NoError(t, db.Model(&entities.ReadingStat{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStaleSnapshotKeepsCountersButNotPosition(t *testing.T) {
	_, ing, cleanup := setupIngestor(t)
	defer cleanup()

	// Newer snapshot first: page 200, 2h of reading.
	_, err := ing.Ingest(1, "kobo", snapshotJSON(200, 400, 7200, 1700000000))
	require.NoError(t, err)

	// A delayed upload of an older snapshot: earlier page, less reading time.
	res, err := ing.Ingest(1, "kobo", snapshotJSON(120, 400, 5000, 1699000000))
	require.NoError(t, err)

	stat := res.Stat
	// Position stays with the newest capture.
	assert.Equal(t, 200, stat.CurrentPage)
	assert.Equal(t, 50.0, stat.Percentage)
	assert.Equal(t, int64(1700000000), stat.LastReadAt.Unix())
	// Counters never regress.
	assert.Equal(t, int64(7200), stat.TotalReadingSeconds)
	assert.Equal(t, 200, stat.ReadPages)
	// The oldest capture time becomes the first-read marker.
	require.NotNil(t, stat.FirstReadAt)
	assert.Equal(t, int64(1699000000), stat.FirstReadAt.Unix())
}

func TestCountersNeverRegress(t *testing.T) {
	_, ing, cleanup := setupIngestor(t)
	defer cleanup()

	_, err := ing.Ingest(1, "kobo", []byte(`{"title":"T","highlights":10,"notes":5,"bookmarks":7,"time_spent_reading":1000}`))
	require.NoError(t, err)

	res, err := ing.Ingest(1, "kobo", []byte(`{"title":"T","highlights":3,"notes":2,"bookmarks":1,"time_spent_reading":400}`))
	require.NoError(t, err)

	assert.Equal(t, 10, res.Stat.HighlightsCount)
	assert.Equal(t, 5, res.Stat.NotesCount)
	assert.Equal(t, 7, res.Stat.BookmarksCount)
	assert.Equal(t, int64(1000), res.Stat.TotalReadingSeconds)
}

func TestDevicesTrackSeparately(t *testing.T) {
	db, ing, cleanup := setupIngestor(t)
	defer cleanup()

	_, err := ing.Ingest(1, "kobo", snapshotJSON(100, 400, 3600, 1700000000))
	require.NoError(t, err)
	_, err = ing.Ingest(1, "phone", snapshotJSON(50, 400, 1800, 1700000100))
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&entities.ReadingStat{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestIngestLinksCataloguedBook(t *testing.T) {
	db, ing, cleanup := setupIngestor(t)
	defer cleanup()

	book := &entities.Book{Title: "Dune", Author: "Frank Herbert", FileHash: "h", Format: "epub", IsAvailable: true}
	require.NoError(t, db.Create(book).Error)

	res, err := ing.Ingest(1, "kobo", snapshotJSON(100, 400, 3600, 1700000000))
	require.NoError(t, err)
	require.NotNil(t, res.Stat.BookID)
	assert.Equal(t, book.ID, *res.Stat.BookID)
}

func TestCompletionStatusBoundaries(t *testing.T) {
	cases := []struct {
		pct  float64
		want entities.CompletionStatus
	}{
		{0, entities.StatusNotStarted},
		{0.1, entities.StatusStarted},
		{49.9, entities.StatusStarted},
		{50.0, entities.StatusInProgress},
		{84.9, entities.StatusInProgress},
		{85.0, entities.StatusNearComplete},
		{99.9, entities.StatusNearComplete},
		{100.0, entities.StatusCompleted},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, entities.StatusForPercentage(tc.pct), "pct %v", tc.pct)
	}
}

func TestConcurrentIngestSameKey(t *testing.T) {
	db, ing, cleanup := setupIngestor(t)
	defer cleanup()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := snapshotJSON(100+i, 400, int64(1000+i), 1700000000+int64(i))
			_, err := ing.Ingest(1, "kobo", payload)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	var count int64
	require.NoError(t, db.Model(&entities.ReadingStat{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var stat entities.ReadingStat
	require.NoError(t, db.First(&stat).Error)
	assert.Equal(t, int64(1007), stat.TotalReadingSeconds)
	assert.Equal(t, 107, stat.ReadPages)
}

func TestBuildOverview(t *testing.T) {
	_, ing, cleanup := setupIngestor(t)
	defer cleanup()

	_, err := ing.Ingest(1, "kobo", []byte(`{"title":"Done Book","page":400,"pages":400,"time_spent_reading":7200,"last_time":1700000200,"highlights":5}`))
	require.NoError(t, err)
	_, err = ing.Ingest(1, "kobo", []byte(`{"title":"Half Book","page":100,"pages":200,"time_spent_reading":1800,"last_time":1700000100}`))
	require.NoError(t, err)
	_, err = ing.Ingest(2, "kobo", []byte(`{"title":"Other User","page":1,"pages":100}`))
	require.NoError(t, err)

	ov, err := ing.BuildOverview(1)
	require.NoError(t, err)

	assert.Equal(t, 2, ov.BooksTracked)
	assert.Equal(t, int64(9000), ov.TotalReadingSeconds)
	assert.Equal(t, 500, ov.TotalReadPages)
	assert.Equal(t, 5, ov.TotalHighlights)
	assert.Equal(t, 1, ov.ByStatus[entities.StatusCompleted])
	assert.Equal(t, 1, ov.ByStatus[entities.StatusInProgress])

	require.Len(t, ov.RecentlyRead, 2)
	assert.Equal(t, "Done Book", ov.RecentlyRead[0].Title)
	assert.Equal(t, "Half Book", ov.RecentlyRead[1].Title)
}
