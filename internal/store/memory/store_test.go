package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shelfminer/shelfminer/internal/catalog"
	"github.com/shelfminer/shelfminer/internal/jobs"
)

func TestUpsertCandidate_FirstSightingWinsThenFillsGaps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	at := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.UpsertCandidate(ctx, catalog.Candidate{
		ID: "42", URL: "https://example.com/items/42", Title: "Original",
	}, at))
	// Repeat sighting with a different title and a cover the first lacked.
	require.NoError(t, s.UpsertCandidate(ctx, catalog.Candidate{
		ID: "42", URL: "https://example.com/items/42?page=2", Title: "Renamed",
		CoverURL: "https://cdn.example.com/42.jpg", Author: "alice",
	}, at.Add(time.Minute)))

	item, err := s.GetItem(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, "Original", item.Title, "existing field must not be overwritten")
	require.Equal(t, "https://example.com/items/42", item.URL)
	require.Equal(t, "https://cdn.example.com/42.jpg", item.CoverURL, "missing field is filled")
	require.Equal(t, "alice", item.Author)
}

func TestUpsertScraped_OverwritesAndReplacesGallery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	at := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.UpsertScraped(ctx, catalog.ScrapedItem{
		ID: "7", URL: "https://example.com/items/7", Title: "Old",
		ImageURLs: []string{"a.jpg", "b.jpg", "c.jpg"},
	}, at))
	require.NoError(t, s.UpsertScraped(ctx, catalog.ScrapedItem{
		ID: "7", URL: "https://example.com/items/7", Title: "New", Downloads: 12,
		ImageURLs: []string{"d.jpg"},
	}, at.Add(time.Hour)))

	item, err := s.GetItem(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, "New", item.Title)
	require.Equal(t, 12, item.Downloads)
	require.Equal(t, "d.jpg", item.CoverURL)

	imgs, err := s.ItemImages(ctx, "7")
	require.NoError(t, err)
	require.Len(t, imgs, 1, "old gallery rows must be gone")
	require.Equal(t, "d.jpg", imgs[0].URL)
	require.Equal(t, 0, imgs[0].Position)
}

func TestAddProgress_ConcurrentAddsNeverLoseCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateJob(ctx, jobs.Record{ID: "j", Kind: jobs.KindCrawl, Status: jobs.StatusRunning}))

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = s.AddProgress(ctx, "j", 1, 0, "")
			}
		}()
	}
	wg.Wait()

	rec, err := s.GetJob(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, writers*perWriter, rec.Processed)
}

func TestLatestUnfinished_PicksNewestActivePerKind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	base := time.Unix(1700000000, 0).UTC()
	done := base.Add(3 * time.Hour)

	require.NoError(t, s.CreateJob(ctx, jobs.Record{ID: "old", Kind: jobs.KindCrawl, Status: jobs.StatusRunning, CreatedAt: base}))
	require.NoError(t, s.CreateJob(ctx, jobs.Record{ID: "new", Kind: jobs.KindCrawl, Status: jobs.StatusQueued, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.CreateJob(ctx, jobs.Record{ID: "finished", Kind: jobs.KindCrawl, Status: jobs.StatusCompleted, CreatedAt: base.Add(2 * time.Hour), FinishedAt: &done}))
	require.NoError(t, s.CreateJob(ctx, jobs.Record{ID: "other", Kind: jobs.KindLabel, Status: jobs.StatusRunning, CreatedAt: base.Add(2 * time.Hour)}))

	rec, ok, err := s.LatestUnfinished(ctx, jobs.KindCrawl)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", rec.ID)

	rec, ok, err = s.LatestUnfinished(ctx, jobs.KindLabel)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "other", rec.ID)
}

func TestFailUnfinished_LeavesTerminalJobsAlone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	at := time.Unix(1700000000, 0).UTC()
	require.NoError(t, s.CreateJob(ctx, jobs.Record{ID: "a", Kind: jobs.KindCrawl, Status: jobs.StatusRunning}))
	require.NoError(t, s.CreateJob(ctx, jobs.Record{ID: "b", Kind: jobs.KindLabel, Status: jobs.StatusPaused}))
	require.NoError(t, s.CreateJob(ctx, jobs.Record{ID: "c", Kind: jobs.KindCrawl, Status: jobs.StatusCompleted}))

	n, err := s.FailUnfinished(ctx, "shutdown", at)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	rec, err := s.GetJob(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, rec.Status)
	require.Empty(t, rec.LastError)

	rec, err = s.GetJob(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, rec.Status)
	require.Equal(t, "shutdown", rec.LastError)
	require.NotNil(t, rec.FinishedAt)
}

func TestPurge_ClearsCatalogButKeepsJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	at := time.Unix(1700000000, 0).UTC()
	require.NoError(t, s.UpsertScraped(ctx, catalog.ScrapedItem{ID: "1", URL: "u", ImageURLs: []string{"a.jpg"}}, at))
	require.NoError(t, s.UpsertLabel(ctx, catalog.Label{ItemID: "1", Grade: catalog.GradeB}))
	require.NoError(t, s.CreateJob(ctx, jobs.Record{ID: "j", Kind: jobs.KindCrawl, Status: jobs.StatusCompleted}))

	require.NoError(t, s.Purge(ctx))

	items, err := s.ListItems(ctx, 0, 0)
	require.NoError(t, err)
	require.Empty(t, items)
	_, ok, err := s.GetLabel(ctx, "1")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.GetJob(ctx, "j")
	require.NoError(t, err)
}
