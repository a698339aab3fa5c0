// Package jobs implements the persistent job lifecycle shared by the crawl
// and label pipelines: the job store contract, the pause/cancel control gate,
// the work queue, and boot-time recovery.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the two job pipelines.
type Kind string

// Supported job kinds.
const (
	KindCrawl Kind = "crawl"
	KindLabel Kind = "label"
)

// Status is the lifecycle state of a job.
type Status string

// Lifecycle states. queued and running both count as active for recovery.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status ends a run.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is the persisted state of one job. finished_at is set exactly when
// the status is terminal. Counters only ever grow within a run.
type Record struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Status     Status          `json:"status"`
	Config     json.RawMessage `json:"config,omitempty"`
	Total      int             `json:"total_count"`
	Processed  int             `json:"processed_count"`
	Failed     int             `json:"failed_count"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// CrawlConfig is the kind-specific configuration stored on a crawl job.
type CrawlConfig struct {
	ListingURL  string        `json:"listing_url"`
	MaxItems    int           `json:"max_items"`
	MaxScrolls  int           `json:"max_scrolls"`
	Concurrency int           `json:"concurrency"`
	ItemDelay   time.Duration `json:"item_delay"`
}

// Validate rejects configurations before a job record is created.
func (c CrawlConfig) Validate() error {
	if c.ListingURL == "" {
		return fmt.Errorf("listing_url is required")
	}
	if c.Concurrency < 1 || c.Concurrency > 5 {
		return fmt.Errorf("concurrency must be between 1 and 5, got %d", c.Concurrency)
	}
	if c.MaxItems < 1 {
		return fmt.Errorf("max_items must be positive, got %d", c.MaxItems)
	}
	if c.MaxScrolls < 1 {
		return fmt.Errorf("max_scrolls must be positive, got %d", c.MaxScrolls)
	}
	if c.ItemDelay < 0 {
		return fmt.Errorf("item_delay must not be negative")
	}
	return nil
}

// LabelConfig is the kind-specific configuration stored on a label job.
// Limit of zero means "every unlabeled item".
type LabelConfig struct {
	Limit     int `json:"limit"`
	MaxImages int `json:"max_images"`
}

// Validate rejects configurations before a job record is created.
func (c LabelConfig) Validate() error {
	if c.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", c.Limit)
	}
	if c.MaxImages < 1 || c.MaxImages > 10 {
		return fmt.Errorf("max_images must be between 1 and 10, got %d", c.MaxImages)
	}
	return nil
}

// DecodeConfig unmarshals a job's opaque config blob into dst.
func DecodeConfig(rec Record, dst any) error {
	if len(rec.Config) == 0 {
		return fmt.Errorf("job %s has no config", rec.ID)
	}
	if err := json.Unmarshal(rec.Config, dst); err != nil {
		return fmt.Errorf("decode %s config: %w", rec.Kind, err)
	}
	return nil
}

// EncodeConfig marshals a kind-specific config for storage on a Record.
func EncodeConfig(cfg any) (json.RawMessage, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode job config: %w", err)
	}
	return raw, nil
}
