package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// parsedPage holds everything one DOM pass recovers from an item page.
type parsedPage struct {
	title       string
	author      string
	downloads   int
	images      []string
	description string
	text        string
}

var countPattern = regexp.MustCompile(`(\d[\d,.]*)`)

func parsePage(pageURL string, body []byte) (parsedPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return parsedPage{}, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return parsedPage{}, err
	}

	page := parsedPage{
		title:       findTitle(doc),
		author:      findAuthor(doc),
		downloads:   findDownloads(doc),
		images:      findImages(doc, base),
		description: findDescription(doc),
		text:        doc.Find("body").Text(),
	}
	return page, nil
}

func findTitle(doc *goquery.Document) string {
	if v, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(doc.Find("h1").First().Text()); v != "" {
		return v
	}
	title := strings.TrimSpace(doc.Find("title").Text())
	// Site suffixes ("Name | Site") are noise in the stored title.
	if i := strings.IndexAny(title, "|·—"); i > 0 {
		title = strings.TrimSpace(title[:i])
	}
	return title
}

func findAuthor(doc *goquery.Document) string {
	if v, ok := doc.Find(`meta[name="author"]`).Attr("content"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	for _, sel := range []string{`[rel="author"]`, `[class*="author"] a`, `[class*="creator"] a`, `[class*="author"]`} {
		if v := strings.TrimSpace(doc.Find(sel).First().Text()); v != "" {
			return v
		}
	}
	return ""
}

// findDownloads looks for a count rendered near a download-ish label.
func findDownloads(doc *goquery.Document) int {
	var found int
	doc.Find(`[class*="download"], [data-stat="downloads"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		m := countPattern.FindString(sel.Text())
		if m == "" {
			return true
		}
		m = strings.NewReplacer(",", "", ".", "").Replace(m)
		n, err := strconv.Atoi(m)
		if err != nil || n < 0 {
			return true
		}
		found = n
		return false
	})
	return found
}

func findImages(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if !isImageURL(abs) {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}

	if v, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		add(v)
	}
	doc.Find(`[class*="gallery"] img, [class*="carousel"] img, [class*="media"] img, main img, img`).Each(func(_ int, sel *goquery.Selection) {
		if v, ok := sel.Attr("src"); ok {
			add(v)
		}
		if v, ok := sel.Attr("data-src"); ok {
			add(v)
		}
		if v, ok := sel.Attr("srcset"); ok {
			for _, entry := range strings.Split(v, ",") {
				fields := strings.Fields(entry)
				if len(fields) > 0 {
					add(fields[0])
				}
			}
		}
	})
	return out
}

func findDescription(doc *goquery.Document) string {
	for _, sel := range []string{`meta[property="og:description"]`, `meta[name="description"]`} {
		if v, ok := doc.Find(sel).Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(doc.Find(`[class*="description"]`).First().Text())
}

func isImageURL(s string) bool {
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
