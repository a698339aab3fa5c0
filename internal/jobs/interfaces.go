package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/shelfminer/shelfminer/internal/catalog"
)

// ErrJobNotFound is returned by Store implementations when a record is
// missing, including after an external clear-history wiped it.
var ErrJobNotFound = errors.New("job not found")

// ErrItemNotFound is returned by CatalogStore implementations for a missing
// item.
var ErrItemNotFound = errors.New("item not found")

// Store persists job records. Mutations are per-row and atomic; counter
// updates are adds applied by the store, never read-modify-write by callers.
type Store interface {
	CreateJob(ctx context.Context, rec Record) error
	GetJob(ctx context.Context, id string) (Record, error)
	ListJobs(ctx context.Context, kind Kind) ([]Record, error)

	// SetStatus flips the status only; used for pause/resume and for
	// resetting a recovered job to queued.
	SetStatus(ctx context.Context, id string, status Status) error

	// MarkRunning records the start of an execution loop: status running,
	// started_at set, prior error cleared.
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error

	// MarkFinished records a terminal status with finished_at.
	MarkFinished(ctx context.Context, id string, status Status, errText string, finishedAt time.Time) error

	// AddProgress atomically adds to processed/failed counters; a non-empty
	// errText replaces last_error (latest wins).
	AddProgress(ctx context.Context, id string, processed, failed int, errText string) error

	// AddDiscovered atomically adds to the discovered/total counter.
	AddDiscovered(ctx context.Context, id string, delta int) error

	// SetTotal fixes the total counter once at label-job start.
	SetTotal(ctx context.Context, id string, total int) error

	// LatestUnfinished returns the most recently created job of the kind with
	// a null finished_at and an active status, if any.
	LatestUnfinished(ctx context.Context, kind Kind) (Record, bool, error)

	// FailUnfinished marks every non-terminal job of both kinds failed with
	// the given reason. Used by clear-history.
	FailUnfinished(ctx context.Context, reason string, at time.Time) (int, error)
}

// CatalogStore persists items, their image galleries, and labels.
type CatalogStore interface {
	// UpsertCandidate folds a discovered candidate into the item table,
	// filling only fields the stored row is missing.
	UpsertCandidate(ctx context.Context, c catalog.Candidate, at time.Time) error

	// UpsertScraped overwrites an item with freshly extracted fields and
	// replaces its image gallery.
	UpsertScraped(ctx context.Context, s catalog.ScrapedItem, at time.Time) error

	GetItem(ctx context.Context, id string) (catalog.Item, error)
	ListItems(ctx context.Context, limit, offset int) ([]catalog.Item, error)
	ItemImages(ctx context.Context, itemID string) ([]catalog.ItemImage, error)
	GetLabel(ctx context.Context, itemID string) (catalog.Label, bool, error)

	// UnlabeledItems returns items with no label, most recently updated
	// first, capped by limit when positive.
	UnlabeledItems(ctx context.Context, limit int) ([]catalog.Item, error)

	// UpsertLabel writes the verdict for an item, replacing any existing one.
	UpsertLabel(ctx context.Context, label catalog.Label) error

	// Purge deletes all items, images, and labels.
	Purge(ctx context.Context) error
}

// Extractor is the page extractor collaborator: canonical URL in, normalized
// item out, catalog.ErrHardBlock on an anti-automation challenge.
type Extractor interface {
	Extract(ctx context.Context, url string) (catalog.ScrapedItem, error)
}

// Labeler is the labeling service collaborator.
type Labeler interface {
	Label(ctx context.Context, itemURL string, imageURLs []string) (catalog.Verdict, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
