package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelfminer/shelfminer/internal/catalog"
)

const itemPage = `<!doctype html>
<html><head>
<title>Articulated Dragon | PrintHub</title>
<meta property="og:title" content="Articulated Dragon">
<meta property="og:description" content="A flexi dragon that prints in place.">
<meta property="og:image" content="/media/dragon/cover.jpg">
<meta name="author" content="mira">
</head><body>
<h1>Articulated Dragon</h1>
<div class="stats"><span class="download-count">12,408 downloads</span></div>
<div class="gallery">
  <img src="/media/dragon/cover.jpg">
  <img data-src="/media/dragon/side.png">
  <img srcset="/media/dragon/top-480.webp 480w, /media/dragon/top-960.webp 960w">
</div>
</body></html>`

func newExtractor(cfg Config) *Extractor {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return New(cfg, zap.NewNop())
}

func TestExtract_NormalizesItemPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/items/42", r.URL.Path)
		_, _ = w.Write([]byte(itemPage))
	}))
	defer srv.Close()

	got, err := newExtractor(Config{}).Extract(context.Background(), srv.URL+"/items/42?ref=listing")
	require.NoError(t, err)

	require.Equal(t, "42", got.ID)
	require.Equal(t, srv.URL+"/items/42", got.URL, "query is stripped by canonicalization")
	require.Equal(t, "Articulated Dragon", got.Title)
	require.Equal(t, "mira", got.Author)
	require.Equal(t, 12408, got.Downloads)
	require.Equal(t, "A flexi dragon that prints in place.", got.Description)
	require.Equal(t, []string{
		srv.URL + "/media/dragon/cover.jpg",
		srv.URL + "/media/dragon/side.png",
		srv.URL + "/media/dragon/top-480.webp",
		srv.URL + "/media/dragon/top-960.webp",
	}, got.ImageURLs)
}

func TestExtract_BlockStatusIsHardBlock(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newExtractor(Config{}).Extract(context.Background(), srv.URL+"/items/1")
	require.ErrorIs(t, err, catalog.ErrHardBlock)
}

func TestExtract_ChallengePageIsHardBlock(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h1>Just a moment...</h1>Checking your browser.</body></html>`))
	}))
	defer srv.Close()

	_, err := newExtractor(Config{}).Extract(context.Background(), srv.URL+"/items/1")
	require.ErrorIs(t, err, catalog.ErrHardBlock)
}

func TestExtract_ServerErrorIsOrdinaryFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newExtractor(Config{}).Extract(context.Background(), srv.URL+"/items/1")
	require.Error(t, err)
	require.NotErrorIs(t, err, catalog.ErrHardBlock)
}

func TestExtract_SendsSessionCookie(t *testing.T) {
	t.Parallel()

	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		_, _ = w.Write([]byte(itemPage))
	}))
	defer srv.Close()

	_, err := newExtractor(Config{SessionCookie: "session=abc123"}).Extract(context.Background(), srv.URL+"/items/9")
	require.NoError(t, err)
	require.Equal(t, "session=abc123", gotCookie)
}

func TestParsePage_FallbacksWithoutMeta(t *testing.T) {
	t.Parallel()

	body := `<html><head><title>Benchy Boat | PrintHub</title></head>
	<body><div class="author-line"><a href="/u/sam">sam</a></div></body></html>`
	page, err := parsePage("https://example.com/items/3", []byte(body))
	require.NoError(t, err)
	require.Equal(t, "Benchy Boat", page.title)
	require.Equal(t, "sam", page.author)
	require.Zero(t, page.downloads)
	require.Empty(t, page.images)
}
