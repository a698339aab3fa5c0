package discovery

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"

	"github.com/shelfminer/shelfminer/internal/catalog"
)

// secondaryThreshold is the primary-match count under which the pairing
// heuristic is also applied to a response body.
const secondaryThreshold = 20

var (
	refPathPattern = regexp.MustCompile(`/(?:items|models|works)/(\d+)`)
	idFieldPattern = regexp.MustCompile(`"(?:id|item_id|model_id|work_id)"\s*:\s*(\d+)`)
	imageURLHint   = regexp.MustCompile(`https?://[^\s"'\\]+?\.(?:jpe?g|png|webp|gif)`)
)

// bodyScanner extracts item candidates from intercepted response bodies.
type bodyScanner struct {
	base *url.URL
}

// Scan runs the direct reference-pattern match and, when it surfaces fewer
// than secondaryThreshold candidates, the id/image pairing heuristic on top.
func (s bodyScanner) Scan(body string) []catalog.Candidate {
	seen := make(map[string]struct{})
	var out []catalog.Candidate

	for _, m := range refPathPattern.FindAllStringSubmatch(body, -1) {
		id := m[1]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, catalog.Candidate{ID: id, URL: s.refURL(m[0])})
	}
	if len(out) >= secondaryThreshold {
		return out
	}

	var tree any
	if err := json.Unmarshal([]byte(body), &tree); err == nil {
		out = s.pairFromTree(tree, seen, out)
	} else {
		out = s.pairFromText(body, seen, out)
	}
	return out
}

// pairFromTree walks a parsed JSON document and emits a candidate for every
// object carrying a numeric id alongside an image-URL field.
func (s bodyScanner) pairFromTree(v any, seen map[string]struct{}, out []catalog.Candidate) []catalog.Candidate {
	switch node := v.(type) {
	case map[string]any:
		if id, ok := objectID(node); ok {
			if _, dup := seen[id]; !dup {
				fields := ScanFields(node)
				if fields.CoverURL != "" {
					seen[id] = struct{}{}
					out = append(out, catalog.Candidate{
						ID:       id,
						URL:      s.refURL("/items/" + id),
						CoverURL: fields.CoverURL,
						Title:    fields.Title,
						Author:   fields.Author,
					})
				}
			}
		}
		for _, child := range node {
			out = s.pairFromTree(child, seen, out)
		}
	case []any:
		for _, child := range node {
			out = s.pairFromTree(child, seen, out)
		}
	}
	return out
}

// pairFromText handles bodies that are JSON-ish but not parseable as one
// document (NDJSON, truncated frames): each id field is paired with the
// closest image URL inside a fixed window after it.
func (s bodyScanner) pairFromText(body string, seen map[string]struct{}, out []catalog.Candidate) []catalog.Candidate {
	const window = 600
	for _, loc := range idFieldPattern.FindAllStringSubmatchIndex(body, -1) {
		id := body[loc[2]:loc[3]]
		if _, dup := seen[id]; dup {
			continue
		}
		end := loc[1] + window
		if end > len(body) {
			end = len(body)
		}
		cover := imageURLHint.FindString(body[loc[1]:end])
		if cover == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, catalog.Candidate{ID: id, URL: s.refURL("/items/" + id), CoverURL: cover})
	}
	return out
}

func (s bodyScanner) refURL(path string) string {
	if s.base == nil {
		return path
	}
	return s.base.ResolveReference(&url.URL{Path: path}).String()
}

func objectID(node map[string]any) (string, bool) {
	for _, key := range []string{"id", "item_id", "model_id", "work_id"} {
		switch v := node[key].(type) {
		case float64:
			if v > 0 && v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10), true
			}
		case string:
			if _, err := strconv.ParseInt(v, 10, 64); err == nil && v != "0" {
				return v, true
			}
		}
	}
	return "", false
}
