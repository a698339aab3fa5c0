// Package discovery drives the listing surface with a headless browser and
// feeds candidates to the crawl pipeline through two strategies: intercepted
// API responses and the rendered DOM.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/shelfminer/shelfminer/internal/catalog"
	"github.com/shelfminer/shelfminer/internal/crawl"
	"github.com/shelfminer/shelfminer/internal/metrics"
)

// Config controls the behavior of the headless listing source.
type Config struct {
	UserAgent         string
	SessionCookie     string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
}

// Source opens chromedp-backed listing sessions. It owns one browser
// allocator shared by every session it opens.
type Source struct {
	cfg         Config
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewSource creates a listing source backed by headless Chrome.
func NewSource(cfg Config, logger *zap.Logger) *Source {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 1500 * time.Millisecond
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Source{
		cfg:         cfg,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close tears down the browser allocator.
func (s *Source) Close() {
	s.allocCancel()
}

// Open navigates a fresh tab to the listing and arms the network strategy.
func (s *Source) Open(ctx context.Context, listingURL string) (crawl.ListingSession, error) {
	base, err := url.Parse(listingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(s.allocator)
	sess := &session{
		cfg:       s.cfg,
		logger:    s.logger.With(zap.String("listing", listingURL)),
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		scanner:   bodyScanner{base: base},
	}
	sess.arm()

	navCtx, cancel := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	defer cancel()
	actions := []chromedp.Action{
		sess.networkSetupAction(),
		chromedp.Navigate(listingURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.SettleDelay),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		tabCancel()
		return nil, fmt.Errorf("open listing: %w", err)
	}
	select {
	case <-ctx.Done():
		tabCancel()
		return nil, ctx.Err()
	default:
	}
	return sess, nil
}

// session is one tab over the listing. Network-intercepted candidates pile up
// in pending between Harvest calls; the DOM strategy runs inside Harvest.
type session struct {
	cfg       Config
	logger    *zap.Logger
	tabCtx    context.Context
	tabCancel context.CancelFunc
	scanner   bodyScanner

	mu         sync.Mutex
	pending    []catalog.Candidate
	lastHeight int64
}

// challengeMarkers are phrases anti-automation interstitials render in the
// visible page text.
var challengeMarkers = []string{
	"verify you are human",
	"just a moment",
	"attention required",
	"access denied",
	"unusual traffic",
	"enable javascript and cookies",
}

// CheckAccess reads the rendered page text and reports a hard block when a
// challenge interstitial is showing instead of the listing.
func (s *session) CheckAccess(ctx context.Context) error {
	var text string
	runCtx, cancel := s.runCtx(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("read listing text: %w", err)
	}
	if marker := matchChallenge(text); marker != "" {
		s.logger.Warn("challenge interstitial detected", zap.String("marker", marker))
		return fmt.Errorf("challenge page (%q): %w", marker, catalog.ErrHardBlock)
	}
	return nil
}

// Harvest drains network-strategy candidates accumulated since the last call
// and merges in the current rendered-DOM sweep.
func (s *session) Harvest(ctx context.Context) ([]catalog.Candidate, error) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	domBatch, err := s.sweepDOM(ctx)
	if err != nil {
		return nil, err
	}
	metrics.ObserveCandidates("network", len(batch))
	metrics.ObserveCandidates("dom", len(domBatch))
	return append(batch, domBatch...), nil
}

// Advance scrolls to the bottom, waits for the page to settle, and reports
// whether the document grew.
func (s *session) Advance(ctx context.Context) (bool, error) {
	var height int64
	runCtx, cancel := s.runCtx(ctx)
	defer cancel()
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(s.cfg.SettleDelay),
		chromedp.Evaluate(`document.body.scrollHeight`, &height),
	)
	if err != nil {
		return false, fmt.Errorf("scroll listing: %w", err)
	}
	s.mu.Lock()
	grew := height > s.lastHeight
	s.lastHeight = height
	s.mu.Unlock()
	return grew, nil
}

// Close tears down the tab.
func (s *session) Close(context.Context) error {
	s.tabCancel()
	return nil
}

// arm subscribes the network strategy: every textual API-ish response body is
// fetched and scanned in the background.
func (s *session) arm() {
	chromedp.ListenTarget(s.tabCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Response == nil {
			return
		}
		if !looksLikeAPI(resp.Response.URL) || !textualMIME(resp.Response.MimeType) {
			return
		}
		reqID := resp.RequestID
		go s.scanResponse(reqID)
	})
}

func (s *session) scanResponse(reqID network.RequestID) {
	c := chromedp.FromContext(s.tabCtx)
	if c == nil || c.Target == nil {
		return
	}
	body, err := network.GetResponseBody(reqID).Do(cdp.WithExecutor(s.tabCtx, c.Target))
	if err != nil {
		// Bodies for cached or already-evicted responses are not
		// retrievable; the DOM strategy still covers those items.
		return
	}
	batch := s.scanner.Scan(string(body))
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, batch...)
	s.mu.Unlock()
	s.logger.Debug("network strategy matched", zap.Int("candidates", len(batch)))
}

// collectScript walks every reference anchor, then climbs a few ancestors to
// find a representative cover image and a nearby heading as title.
const collectScript = `(() => {
	const refPattern = /\/(?:items|models|works)\/(\d+)/;
	const out = [];
	const seen = new Set();
	for (const a of document.querySelectorAll('a[href]')) {
		const m = a.href.match(refPattern);
		if (!m || seen.has(m[1])) continue;
		seen.add(m[1]);
		let cover = '', title = '';
		let node = a;
		for (let depth = 0; node && depth < 4; depth++, node = node.parentElement) {
			if (!cover) {
				const img = node.querySelector('img');
				if (img) cover = img.currentSrc || img.src || (img.srcset || '').trim().split(/\s+/)[0] || '';
			}
			if (!cover) {
				const bg = node.style.backgroundImage || getComputedStyle(node).backgroundImage || '';
				const bm = bg.match(/url\(["']?([^"')]+)/);
				if (bm) cover = bm[1];
			}
			if (!title) {
				const h = node.querySelector('h1,h2,h3,h4,[class*="title" i]');
				if (h) title = h.textContent.trim();
			}
			if (cover && title) break;
		}
		out.push({url: a.href, cover: cover, title: title});
	}
	return out;
})()`

type domHit struct {
	URL   string `json:"url"`
	Cover string `json:"cover"`
	Title string `json:"title"`
}

func (s *session) sweepDOM(ctx context.Context) ([]catalog.Candidate, error) {
	var hits []domHit
	runCtx, cancel := s.runCtx(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(collectScript, &hits)); err != nil {
		return nil, fmt.Errorf("evaluate listing anchors: %w", err)
	}
	out := make([]catalog.Candidate, 0, len(hits))
	for _, hit := range hits {
		id, err := catalog.IdentityFromURL(hit.URL)
		if err != nil {
			continue
		}
		out = append(out, catalog.Candidate{
			ID:       id,
			URL:      hit.URL,
			CoverURL: hit.Cover,
			Title:    strings.TrimSpace(hit.Title),
		})
	}
	return out, nil
}

func (s *session) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if s.cfg.SessionCookie != "" {
			headers := network.Headers{"Cookie": s.cfg.SessionCookie}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set session cookie: %w", err)
			}
		}
		return nil
	})
}

// runCtx bounds a browser action: it derives from the tab context (chromedp
// actions must) and stops early when the caller's context ends.
func (s *session) runCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.tabCtx, s.cfg.NavigationTimeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
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

func looksLikeAPI(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, hint := range []string{"/api/", "/v1/", "/v2/", "/graphql", ".json", "/search"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func textualMIME(mime string) bool {
	mime = strings.ToLower(mime)
	return strings.HasPrefix(mime, "application/json") ||
		strings.HasPrefix(mime, "text/")
}
