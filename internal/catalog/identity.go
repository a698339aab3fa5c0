package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// refPath matches the canonical item path on the listing site. The numeric
// capture is the item's native identifier.
var refPath = regexp.MustCompile(`/(?:items|models|works)/(\d+)`)

// CanonicalURL strips query and fragment noise and normalizes the host so
// that the same work always canonicalizes to one URL.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse item url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("item url %q is not absolute", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), nil
}

// IdentityFromURL derives the deterministic item id for a canonical URL.
// URLs carrying the native numeric reference use it directly; anything else
// falls back to a short digest of the canonical form, so the mapping stays
// stable across runs either way.
func IdentityFromURL(raw string) (string, error) {
	canonical, err := CanonicalURL(raw)
	if err != nil {
		return "", err
	}
	if m := refPath.FindStringSubmatch(canonical); m != nil {
		return m[1], nil
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:8]), nil
}

// RefIDs extracts every native item id occurring in a blob of text, in order
// of appearance.
func RefIDs(text string) []string {
	matches := refPath.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return ids
}
