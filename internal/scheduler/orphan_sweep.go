// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/koshelf/koshelf/internal/contentstore"
	"github.com/koshelf/koshelf/internal/database/books"
)

// OrphanSweeper periodically removes content-store blobs that no book row
// references. Orphans appear when a book row is deleted while its blob is
// still shared, or when an upload is catalogued and later rolled back.
type OrphanSweeper struct {
	books *books.Repository
	store *contentstore.Store

	schedule string
	cron     *cron.Cron

	mu         sync.Mutex
	isRunning  bool
	cancelFunc context.CancelFunc
}

func NewOrphanSweeper(bookRepo *books.Repository, store *contentstore.Store, schedule string) *OrphanSweeper {
	return &OrphanSweeper{
		books:    bookRepo,
		store:    store,
		schedule: schedule,
		cron:     cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
	}
}

// Start schedules the sweep and begins running it.
func (s *OrphanSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(); err != nil {
			log.Printf("Orphan sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	var cancelCtx context.Context
	cancelCtx, s.cancelFunc = context.WithCancel(ctx)

	s.cron.Start()
	s.isRunning = true
	log.Printf("Orphan sweep scheduled: %s", s.schedule)

	go func() {
		<-cancelCtx.Done()
		s.Stop()
	}()

	return nil
}

// Stop waits for a running sweep to finish and halts the schedule.
func (s *OrphanSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.isRunning = false
	s.cancelFunc = nil

	log.Printf("Orphan sweep stopped")
}

// Sweep removes every stored blob without a referencing book row and returns
// how many were removed. Soft-deleted books still count as references until
// they are purged, so a sweep never races a restorable delete.
func (s *OrphanSweeper) Sweep() (int, error) {
	inUse, err := s.books.HashesInUse()
	if err != nil {
		return 0, fmt.Errorf("load referenced hashes: %w", err)
	}

	stored, err := s.store.Hashes()
	if err != nil {
		return 0, fmt.Errorf("list stored blobs: %w", err)
	}

	removed := 0
	for _, hash := range stored {
		if inUse[hash] {
			continue
		}
		if err := s.store.Remove(hash); err != nil {
			log.Printf("Orphan sweep: remove %s: %v", hash, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Printf("Orphan sweep removed %d blob(s)", removed)
	}
	return removed, nil
}
