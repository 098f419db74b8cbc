package books

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koshelf/koshelf/internal/database"
	"github.com/koshelf/koshelf/internal/entities"
)

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db.DB)
}

func TestCreateRejectsDuplicateHash(t *testing.T) {
	repo := setupTestRepo(t)

	first := &entities.Book{Title: "Dracula", FileHash: "aa11", Format: "epub", IsAvailable: true}
	require.NoError(t, repo.Create(first))

	// Same bytes arriving again, regardless of declared metadata.
	second := &entities.Book{Title: "Dracula (retail)", FileHash: "aa11", Format: "epub", IsAvailable: true}
	assert.ErrorIs(t, repo.Create(second), ErrDuplicateHash)

	count, err := repo.CountByHash("aa11")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestDeleteFreesHashForReupload(t *testing.T) {
	repo := setupTestRepo(t)

	book := &entities.Book{Title: "Emma", FileHash: "bb22", Format: "epub", IsAvailable: true}
	require.NoError(t, repo.Create(book))
	require.NoError(t, repo.Delete(book.ID))

	// The unique index covers live rows only.
	again := &entities.Book{Title: "Emma", FileHash: "bb22", Format: "epub", IsAvailable: true}
	assert.NoError(t, repo.Create(again))
}
