package discovery

import (
	"sort"
	"strings"
)

// Fields are item attributes recovered opportunistically from semi-structured
// API payloads. Zero values mean "not found".
type Fields struct {
	Title     string
	Author    string
	CoverURL  string
	Downloads int
}

// fieldRule binds a key predicate to one Fields slot. apply validates the
// value and reports whether it was accepted. Rules are tried in order and the
// first accepted value per slot wins.
type fieldRule struct {
	match func(key string) bool
	apply func(f *Fields, v any) bool
}

var fieldRules = []fieldRule{
	{
		match: keyOneOf("title", "name", "subject"),
		apply: func(f *Fields, v any) bool {
			s, ok := boundedText(v, 300)
			if !ok || f.Title != "" {
				return false
			}
			f.Title = s
			return true
		},
	},
	{
		match: keyOneOf("author", "creator", "artist", "username", "user_name", "uploader"),
		apply: func(f *Fields, v any) bool {
			s, ok := boundedText(v, 120)
			if !ok || f.Author != "" || strings.HasPrefix(s, "http") {
				return false
			}
			f.Author = s
			return true
		},
	},
	{
		match: keyOneOf("cover", "cover_url", "thumbnail", "thumb", "image", "image_url", "preview"),
		apply: func(f *Fields, v any) bool {
			s, ok := v.(string)
			if !ok || f.CoverURL != "" || !looksLikeImageURL(s) {
				return false
			}
			f.CoverURL = s
			return true
		},
	},
	{
		match: keyOneOf("downloads", "download_count", "dl_count", "download"),
		apply: func(f *Fields, v any) bool {
			n, ok := v.(float64)
			if !ok || f.Downloads != 0 {
				return false
			}
			if n != float64(int(n)) || n < 0 || n > 1e9 {
				return false
			}
			f.Downloads = int(n)
			return true
		},
	},
}

// ScanFields walks a decoded JSON value depth first and fills Fields from the
// first key each rule accepts. Object keys are visited in sorted order so the
// result does not depend on map iteration.
func ScanFields(v any) Fields {
	var f Fields
	walkValue(v, &f)
	return f
}

func walkValue(v any, f *Fields) {
	switch node := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			norm := normalizeKey(k)
			for _, rule := range fieldRules {
				if rule.match(norm) && rule.apply(f, node[k]) {
					break
				}
			}
		}
		for _, k := range keys {
			walkValue(node[k], f)
		}
	case []any:
		for _, item := range node {
			walkValue(item, f)
		}
	}
}

func keyOneOf(names ...string) func(string) bool {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(key string) bool {
		_, ok := set[key]
		return ok
	}
}

func normalizeKey(k string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), "-", "_")
}

func boundedText(v any, max int) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" || len(s) > max {
		return "", false
	}
	return s, true
}

func looksLikeImageURL(s string) bool {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	lower := strings.ToLower(s)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp", ".gif"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
