// Package extract turns an item page into a normalized ScrapedItem using a
// plain HTTP fetch and DOM heuristics.
package extract

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/shelfminer/shelfminer/internal/catalog"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	SessionCookie string
	Timeout       time.Duration
}

// Extractor fetches and parses item pages.
type Extractor struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
}

// New builds an Extractor with a pooled transport shared across fetches.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Extractor{
		cfg:           cfg,
		logger:        logger,
		baseCollector: c,
	}
}

// blockStatuses are HTTP statuses anti-automation layers answer with.
var blockStatuses = map[int]bool{
	http.StatusForbidden:       true,
	http.StatusTooManyRequests: true,
}

// Extract fetches the canonical page for rawURL and recovers item fields.
// A challenge interstitial or block status yields catalog.ErrHardBlock.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (catalog.ScrapedItem, error) {
	canonical, err := catalog.CanonicalURL(rawURL)
	if err != nil {
		return catalog.ScrapedItem{}, fmt.Errorf("canonicalize %q: %w", rawURL, err)
	}
	id, err := catalog.IdentityFromURL(canonical)
	if err != nil {
		return catalog.ScrapedItem{}, err
	}

	status, body, err := e.fetch(ctx, canonical)
	if err != nil {
		return catalog.ScrapedItem{}, err
	}
	if blockStatuses[status] {
		return catalog.ScrapedItem{}, fmt.Errorf("status %d for %s: %w", status, canonical, catalog.ErrHardBlock)
	}
	if status != http.StatusOK {
		return catalog.ScrapedItem{}, fmt.Errorf("unexpected status %d for %s", status, canonical)
	}

	page, err := parsePage(canonical, body)
	if err != nil {
		return catalog.ScrapedItem{}, fmt.Errorf("parse %s: %w", canonical, err)
	}
	if marker := matchChallenge(page.text); marker != "" {
		e.logger.Warn("challenge interstitial on item page",
			zap.String("url", canonical), zap.String("marker", marker))
		return catalog.ScrapedItem{}, fmt.Errorf("challenge page (%q): %w", marker, catalog.ErrHardBlock)
	}

	return catalog.ScrapedItem{
		ID:          id,
		URL:         canonical,
		Title:       page.title,
		Author:      page.author,
		Downloads:   page.downloads,
		ImageURLs:   page.images,
		Description: page.description,
	}, nil
}

func (e *Extractor) fetch(ctx context.Context, pageURL string) (int, []byte, error) {
	collector := e.baseCollector.Clone()
	if e.cfg.UserAgent != "" {
		collector.UserAgent = e.cfg.UserAgent
	}
	collector.SetRequestTimeout(e.cfg.Timeout)

	var (
		status   int
		body     []byte
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		if e.cfg.SessionCookie != "" {
			r.Headers.Set("Cookie", e.cfg.SessionCookie)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			status = r.StatusCode
			body = append([]byte(nil), r.Body...)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()
	select {
	case <-ctx.Done():
		return 0, nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return 0, nil, fmt.Errorf("fetch %s: %w", pageURL, fetchErr)
		}
		if status != 0 {
			return status, body, nil
		}
		if err != nil {
			return 0, nil, fmt.Errorf("fetch %s: %w", pageURL, err)
		}
		return status, body, nil
	}
}

var challengeMarkers = []string{
	"verify you are human",
	"just a moment",
	"attention required",
	"access denied",
	"unusual traffic",
	"enable javascript and cookies",
}

func matchChallenge(text string) string {
	lower := strings.ToLower(text)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return marker
		}
	}
	return ""
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
