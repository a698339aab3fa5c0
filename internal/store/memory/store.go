// Package memory provides map-backed implementations of the job and catalog
// stores for development and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shelfminer/shelfminer/internal/catalog"
	"github.com/shelfminer/shelfminer/internal/jobs"
)

// Store implements jobs.Store and jobs.CatalogStore in memory. All mutations
// hold the mutex, so counter adds are atomic under concurrent writers.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]jobs.Record
	items  map[string]catalog.Item
	images map[string][]catalog.ItemImage
	labels map[string]catalog.Label
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		jobs:   make(map[string]jobs.Record),
		items:  make(map[string]catalog.Item),
		images: make(map[string][]catalog.ItemImage),
		labels: make(map[string]catalog.Label),
	}
}

// CreateJob stores a new job record.
func (s *Store) CreateJob(_ context.Context, rec jobs.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[rec.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[rec.ID] = rec
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, id string) (jobs.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return jobs.Record{}, jobs.ErrJobNotFound
	}
	return rec, nil
}

// ListJobs returns jobs of a kind (or all, for empty kind), newest first.
func (s *Store) ListJobs(_ context.Context, kind jobs.Kind) ([]jobs.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]jobs.Record, 0, len(s.jobs))
	for _, rec := range s.jobs {
		if kind != "" && rec.Kind != kind {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SetStatus flips the status only.
func (s *Store) SetStatus(_ context.Context, id string, status jobs.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	rec.Status = status
	s.jobs[id] = rec
	return nil
}

// MarkRunning sets status running, records started_at, clears prior error.
func (s *Store) MarkRunning(_ context.Context, id string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	rec.Status = jobs.StatusRunning
	rec.StartedAt = ptrTime(startedAt)
	rec.LastError = ""
	s.jobs[id] = rec
	return nil
}

// MarkFinished records a terminal status with finished_at.
func (s *Store) MarkFinished(_ context.Context, id string, status jobs.Status, errText string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	rec.Status = status
	rec.FinishedAt = ptrTime(finishedAt)
	if errText != "" {
		rec.LastError = errText
	}
	s.jobs[id] = rec
	return nil
}

// AddProgress atomically bumps counters; non-empty errText is latest-wins.
func (s *Store) AddProgress(_ context.Context, id string, processed, failed int, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	rec.Processed += processed
	rec.Failed += failed
	if errText != "" {
		rec.LastError = errText
	}
	s.jobs[id] = rec
	return nil
}

// AddDiscovered bumps the discovered/total counter.
func (s *Store) AddDiscovered(_ context.Context, id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	rec.Total += delta
	s.jobs[id] = rec
	return nil
}

// SetTotal fixes the total counter.
func (s *Store) SetTotal(_ context.Context, id string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return jobs.ErrJobNotFound
	}
	rec.Total = total
	s.jobs[id] = rec
	return nil
}

// LatestUnfinished returns the newest active job of the kind.
func (s *Store) LatestUnfinished(_ context.Context, kind jobs.Kind) (jobs.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best jobs.Record
	found := false
	for _, rec := range s.jobs {
		if rec.Kind != kind || rec.FinishedAt != nil {
			continue
		}
		if rec.Status != jobs.StatusQueued && rec.Status != jobs.StatusRunning {
			continue
		}
		if !found || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
			found = true
		}
	}
	return best, found, nil
}

// FailUnfinished marks every non-terminal job failed with the given reason.
func (s *Store) FailUnfinished(_ context.Context, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.jobs {
		if rec.Status.IsTerminal() {
			continue
		}
		rec.Status = jobs.StatusFailed
		rec.LastError = reason
		rec.FinishedAt = ptrTime(at)
		s.jobs[id] = rec
		n++
	}
	return n, nil
}

// UpsertCandidate folds a discovered candidate into the item table, filling
// only missing fields on an existing row.
func (s *Store) UpsertCandidate(_ context.Context, c catalog.Candidate, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[c.ID]
	if !ok {
		s.items[c.ID] = catalog.Item{
			ID:        c.ID,
			URL:       c.URL,
			Title:     c.Title,
			Author:    c.Author,
			CoverURL:  c.CoverURL,
			CreatedAt: at,
			UpdatedAt: at,
		}
		return nil
	}
	if item.Title == "" {
		item.Title = c.Title
	}
	if item.Author == "" {
		item.Author = c.Author
	}
	if item.CoverURL == "" {
		item.CoverURL = c.CoverURL
	}
	item.UpdatedAt = at
	s.items[c.ID] = item
	return nil
}

// UpsertScraped overwrites the item's fields and replaces its gallery.
func (s *Store) UpsertScraped(_ context.Context, sc catalog.ScrapedItem, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[sc.ID]
	if !ok {
		item = catalog.Item{ID: sc.ID, CreatedAt: at}
	}
	item.URL = sc.URL
	item.Title = sc.Title
	item.Author = sc.Author
	item.Downloads = sc.Downloads
	item.Description = sc.Description
	if len(sc.ImageURLs) > 0 {
		item.CoverURL = sc.ImageURLs[0]
	}
	item.UpdatedAt = at
	s.items[sc.ID] = item

	gallery := make([]catalog.ItemImage, 0, len(sc.ImageURLs))
	for i, u := range sc.ImageURLs {
		gallery = append(gallery, catalog.ItemImage{ItemID: sc.ID, Position: i, URL: u})
	}
	s.images[sc.ID] = gallery
	return nil
}

// GetItem fetches an item by ID.
func (s *Store) GetItem(_ context.Context, id string) (catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return catalog.Item{}, jobs.ErrItemNotFound
	}
	return item, nil
}

// ListItems pages through items, most recently updated first.
func (s *Store) ListItems(_ context.Context, limit, offset int) ([]catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]catalog.Item, 0, len(s.items))
	for _, item := range s.items {
		all = append(all, item)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// ItemImages returns the ordered gallery for an item.
func (s *Store) ItemImages(_ context.Context, itemID string) ([]catalog.ItemImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	imgs := s.images[itemID]
	out := make([]catalog.ItemImage, len(imgs))
	copy(out, imgs)
	return out, nil
}

// GetLabel returns the item's label, if present.
func (s *Store) GetLabel(_ context.Context, itemID string) (catalog.Label, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	label, ok := s.labels[itemID]
	return label, ok, nil
}

// UnlabeledItems selects items lacking a label, newest-updated first.
func (s *Store) UnlabeledItems(_ context.Context, limit int) ([]catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Item, 0, len(s.items))
	for id, item := range s.items {
		if _, labeled := s.labels[id]; labeled {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// UpsertLabel writes the verdict, replacing any existing one.
func (s *Store) UpsertLabel(_ context.Context, label catalog.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels[label.ItemID] = label
	return nil
}

// Purge deletes all items, images, and labels.
func (s *Store) Purge(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]catalog.Item)
	s.images = make(map[string][]catalog.ItemImage)
	s.labels = make(map[string]catalog.Label)
	return nil
}

func ptrTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
