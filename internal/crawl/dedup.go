package crawl

import "github.com/shelfminer/shelfminer/internal/catalog"

// dedupSet is the per-run identity set shared by both discovery strategies.
// First sighting wins for every field; later sightings may only fill fields
// the stored copy is missing.
type dedupSet struct {
	byID map[string]catalog.Candidate
}

func newDedupSet() *dedupSet {
	return &dedupSet{byID: make(map[string]catalog.Candidate)}
}

func (d *dedupSet) Size() int { return len(d.byID) }

// Absorb merges a harvested batch into the set. It returns the candidates
// seen for the first time and the previously-seen candidates that gained at
// least one field through enrichment.
func (d *dedupSet) Absorb(batch []catalog.Candidate) (fresh, enriched []catalog.Candidate) {
	for _, c := range batch {
		if c.ID == "" {
			continue
		}
		stored, seen := d.byID[c.ID]
		if !seen {
			d.byID[c.ID] = c
			fresh = append(fresh, c)
			continue
		}
		gained := false
		if stored.CoverURL == "" && c.CoverURL != "" {
			stored.CoverURL = c.CoverURL
			gained = true
		}
		if stored.Title == "" && c.Title != "" {
			stored.Title = c.Title
			gained = true
		}
		if stored.Author == "" && c.Author != "" {
			stored.Author = c.Author
			gained = true
		}
		if gained {
			d.byID[c.ID] = stored
			enriched = append(enriched, stored)
		}
	}
	return fresh, enriched
}
