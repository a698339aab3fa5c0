package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelfminer/shelfminer/internal/catalog"
	"github.com/shelfminer/shelfminer/internal/jobs"
	"github.com/shelfminer/shelfminer/internal/store/memory"
)

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

// fakeSession serves scripted candidate batches, one per harvest call.
type fakeSession struct {
	mu         sync.Mutex
	batches    [][]catalog.Candidate
	accessErr  error
	accessGate chan struct{}
	closed     bool
}

func (s *fakeSession) CheckAccess(context.Context) error {
	if s.accessGate != nil {
		<-s.accessGate
	}
	return s.accessErr
}

func (s *fakeSession) Harvest(context.Context) ([]catalog.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

func (s *fakeSession) Advance(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches) > 0, nil
}

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeSource struct{ session *fakeSession }

func (f *fakeSource) Open(context.Context, string) (ListingSession, error) {
	return f.session, nil
}

// fakeExtractor scripts per-URL outcomes.
type fakeExtractor struct {
	mu    sync.Mutex
	errs  map[string]error
	calls []string
}

func (f *fakeExtractor) Extract(_ context.Context, url string) (catalog.ScrapedItem, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	err := f.errs[url]
	f.mu.Unlock()
	if err != nil {
		return catalog.ScrapedItem{}, err
	}
	id, derr := catalog.IdentityFromURL(url)
	if derr != nil {
		return catalog.ScrapedItem{}, derr
	}
	return catalog.ScrapedItem{
		ID:        id,
		URL:       url,
		Title:     "title " + id,
		Author:    "author",
		Downloads: 7,
		ImageURLs: []string{url + "/cover.jpg", url + "/p1.jpg"},
	}, nil
}

func candidateN(n int) catalog.Candidate {
	return catalog.Candidate{
		ID:  fmt.Sprintf("%d", n),
		URL: fmt.Sprintf("https://example.com/items/%d", n),
	}
}

func newCrawlJob(t *testing.T, store *memory.Store, cfg jobs.CrawlConfig) jobs.Record {
	t.Helper()
	raw, err := jobs.EncodeConfig(cfg)
	require.NoError(t, err)
	rec := jobs.Record{
		ID:        "crawl-1",
		Kind:      jobs.KindCrawl,
		Status:    jobs.StatusQueued,
		Config:    raw,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateJob(context.Background(), rec))
	return rec
}

func baseConfig() jobs.CrawlConfig {
	return jobs.CrawlConfig{
		ListingURL:  "https://example.com/browse",
		MaxItems:    100,
		MaxScrolls:  10,
		Concurrency: 2,
	}
}

func TestRunner_CountersMatchOutcomes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	session := &fakeSession{batches: [][]catalog.Candidate{
		{candidateN(1), candidateN(2), candidateN(3)},
		{candidateN(4), candidateN(5)},
	}}
	extractor := &fakeExtractor{errs: map[string]error{
		"https://example.com/items/4": errors.New("timeout"),
		"https://example.com/items/5": errors.New("parse failure"),
	}}
	rec := newCrawlJob(t, store, baseConfig())

	runner := New(store, store, &fakeSource{session: session}, extractor, fakeClock{}, zap.NewNop(), 5*time.Millisecond)
	require.NoError(t, runner.Run(ctx, rec))

	got, err := store.GetJob(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, got.Status)
	require.Equal(t, 3, got.Processed)
	require.Equal(t, 2, got.Failed)
	require.Equal(t, 5, got.Total)
	require.NotNil(t, got.FinishedAt)
	require.NotEmpty(t, got.LastError)
	require.True(t, session.closed)
}

func TestRunner_DedupAcrossBatches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	// Item 1 appears in both batches; the second sighting carries a cover
	// the first one lacked.
	enrichedDup := candidateN(1)
	enrichedDup.CoverURL = "https://example.com/covers/1.jpg"
	session := &fakeSession{batches: [][]catalog.Candidate{
		{candidateN(1), candidateN(2)},
		{enrichedDup, candidateN(3)},
	}}
	extractor := &fakeExtractor{}
	rec := newCrawlJob(t, store, baseConfig())

	runner := New(store, store, &fakeSource{session: session}, extractor, fakeClock{}, zap.NewNop(), 5*time.Millisecond)
	require.NoError(t, runner.Run(ctx, rec))

	got, err := store.GetJob(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.Total, "duplicate sighting must not count twice")
	require.Equal(t, 3, got.Processed)

	items, err := store.ListItems(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)

	extractor.mu.Lock()
	calls := len(extractor.calls)
	extractor.mu.Unlock()
	require.Equal(t, 3, calls, "each identity is scraped at most once per run")
}

func TestRunner_HardBlockOnListingFailsBeforeScraping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	session := &fakeSession{accessErr: catalog.ErrHardBlock}
	extractor := &fakeExtractor{}
	rec := newCrawlJob(t, store, baseConfig())

	runner := New(store, store, &fakeSource{session: session}, extractor, fakeClock{}, zap.NewNop(), 5*time.Millisecond)
	require.NoError(t, runner.Run(ctx, rec))

	got, err := store.GetJob(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, got.Status)
	require.Equal(t, "hard block", got.LastError)
	require.NotNil(t, got.FinishedAt)
	require.Empty(t, extractor.calls)
}

func TestRunner_HardBlockDuringScrapeAbortsJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	session := &fakeSession{batches: [][]catalog.Candidate{
		{candidateN(1), candidateN(2), candidateN(3), candidateN(4)},
	}}
	extractor := &fakeExtractor{errs: map[string]error{
		"https://example.com/items/1": catalog.ErrHardBlock,
	}}
	cfg := baseConfig()
	cfg.Concurrency = 1
	rec := newCrawlJob(t, store, cfg)

	runner := New(store, store, &fakeSource{session: session}, extractor, fakeClock{}, zap.NewNop(), 5*time.Millisecond)
	require.NoError(t, runner.Run(ctx, rec))

	got, err := store.GetJob(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, got.Status)
	require.Equal(t, "hard block", got.LastError)
	// With one worker, nothing past the blocking item is scraped.
	require.Len(t, extractor.calls, 1)
	require.Zero(t, got.Processed)
}

func TestRunner_PausedJobProcessesNothingUntilResumed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	session := &fakeSession{
		batches:    [][]catalog.Candidate{{candidateN(1), candidateN(2)}},
		accessGate: make(chan struct{}),
	}
	extractor := &fakeExtractor{}
	rec := newCrawlJob(t, store, baseConfig())

	runner := New(store, store, &fakeSource{session: session}, extractor, fakeClock{}, zap.NewNop(), 5*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx, rec) }()

	// The session blocks in its access check, so the pause lands before the
	// first control-loop check of the run.
	require.Eventually(t, func() bool {
		got, err := store.GetJob(ctx, rec.ID)
		return err == nil && got.Status == jobs.StatusRunning
	}, time.Second, time.Millisecond)
	require.NoError(t, store.SetStatus(ctx, rec.ID, jobs.StatusPaused))
	close(session.accessGate)

	time.Sleep(50 * time.Millisecond)
	extractor.mu.Lock()
	stalled := len(extractor.calls)
	extractor.mu.Unlock()
	require.Zero(t, stalled, "no item is dequeued while paused")

	require.NoError(t, store.SetStatus(ctx, rec.ID, jobs.StatusRunning))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after resume")
	}

	final, err := store.GetJob(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, final.Status)
	require.Equal(t, 2, final.Processed, "no item lost or duplicated across the pause")
}

func TestRunner_VanishedRecordUnwindsWithoutStatusWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	raw, err := jobs.EncodeConfig(baseConfig())
	require.NoError(t, err)

	runner := New(store, store, &fakeSource{session: &fakeSession{}}, &fakeExtractor{}, fakeClock{}, zap.NewNop(), 5*time.Millisecond)

	// The record was deleted by an external clear-history before the loop
	// began: the run unwinds silently and writes nothing back.
	require.NoError(t, runner.Run(ctx, jobs.Record{ID: "ghost", Kind: jobs.KindCrawl, Config: raw}))
	_, err = store.GetJob(ctx, "ghost")
	require.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestRunner_ScrollBudgetStopsDiscovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	session := &fakeSession{batches: [][]catalog.Candidate{
		{candidateN(1)}, {candidateN(2)}, {candidateN(3)}, {candidateN(4)},
	}}
	extractor := &fakeExtractor{}
	cfg := baseConfig()
	cfg.MaxScrolls = 2
	rec := newCrawlJob(t, store, cfg)

	runner := New(store, store, &fakeSource{session: session}, extractor, fakeClock{}, zap.NewNop(), 5*time.Millisecond)
	require.NoError(t, runner.Run(ctx, rec))

	got, err := store.GetJob(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, got.Status)
	require.Equal(t, 2, got.Total, "discovery must stop at the scroll budget")
}

func TestRunner_DiscoveryCapStopsDiscovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	session := &fakeSession{batches: [][]catalog.Candidate{
		{candidateN(1), candidateN(2), candidateN(3)},
		{candidateN(4), candidateN(5)},
	}}
	extractor := &fakeExtractor{}
	cfg := baseConfig()
	cfg.MaxItems = 3
	rec := newCrawlJob(t, store, cfg)

	runner := New(store, store, &fakeSource{session: session}, extractor, fakeClock{}, zap.NewNop(), 5*time.Millisecond)
	require.NoError(t, runner.Run(ctx, rec))

	got, err := store.GetJob(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.Total, "discovery must stop at the configured cap")
}

func TestRunner_InvalidConfigFailsJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	cfg := baseConfig()
	cfg.Concurrency = 9
	rec := newCrawlJob(t, store, cfg)

	runner := New(store, store, &fakeSource{session: &fakeSession{}}, &fakeExtractor{}, fakeClock{}, zap.NewNop(), 5*time.Millisecond)
	require.NoError(t, runner.Run(ctx, rec))

	got, err := store.GetJob(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusFailed, got.Status)
	require.Contains(t, got.LastError, "concurrency")
}
