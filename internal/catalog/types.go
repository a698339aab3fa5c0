// Package catalog defines the persisted item model and the contracts of the
// two external collaborators: the page extractor and the labeling service.
package catalog

import (
	"errors"
	"fmt"
	"time"
)

// Item is a work discovered on the listing surface. Identity is derived
// deterministically from the canonical source URL, so re-discovering the same
// work is an idempotent upsert rather than a duplicate row.
type Item struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Author      string    `json:"author,omitempty"`
	Downloads   int       `json:"downloads,omitempty"`
	CoverURL    string    `json:"cover_url,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ItemImage is one entry of an item's ordered gallery. The collection is
// always replaced wholesale when an item's images are refreshed.
type ItemImage struct {
	ItemID   string `json:"item_id"`
	Position int    `json:"position"`
	URL      string `json:"url"`
}

// Grade is the verdict assigned by the labeling service.
type Grade string

// Grades in descending order of quality.
const (
	GradeS Grade = "S"
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// ParseGrade validates a raw grade string.
func ParseGrade(raw string) (Grade, error) {
	switch g := Grade(raw); g {
	case GradeS, GradeA, GradeB, GradeC, GradeD:
		return g, nil
	default:
		return "", fmt.Errorf("unknown grade %q", raw)
	}
}

// Label holds at most one verdict per item.
type Label struct {
	ItemID    string         `json:"item_id"`
	Grade     Grade          `json:"grade"`
	Reason    string         `json:"reason"`
	Extracted map[string]any `json:"extracted,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Candidate is an ephemeral, deduplicated reference produced during
// discovery. It is never persisted as its own entity; it folds into an Item
// via upsert.
type Candidate struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	CoverURL string `json:"cover_url,omitempty"`
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
}

// ScrapedItem is the normalized output of the page extractor.
type ScrapedItem struct {
	ID          string
	URL         string
	Title       string
	Author      string
	Downloads   int
	ImageURLs   []string
	Description string
}

// Verdict is the structured output of the labeling service.
type Verdict struct {
	Grade     Grade          `json:"grade"`
	Reason    string         `json:"reason"`
	Extracted map[string]any `json:"extracted,omitempty"`
}

// ErrHardBlock is returned by the extractor and the discovery session when an
// anti-automation challenge is detected. It is a fatal, job-wide condition,
// never a per-item one.
var ErrHardBlock = errors.New("hard block")

// ErrNoCredentials indicates the labeling service has no usable API key.
var ErrNoCredentials = errors.New("labeling credentials missing")

// ErrMalformedVerdict indicates the labeling service answered but the verdict
// could not be parsed.
var ErrMalformedVerdict = errors.New("malformed labeling verdict")
