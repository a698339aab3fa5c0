package discovery

import (
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testScanner(t *testing.T) bodyScanner {
	t.Helper()
	base, err := url.Parse("https://example.com/explore")
	require.NoError(t, err)
	return bodyScanner{base: base}
}

func TestScan_ReferencePatternDedupesWithinBody(t *testing.T) {
	t.Parallel()

	body := `{"html":"<a href=\"/items/101\">one</a><a href=\"/items/102\">two</a><a href=\"/items/101\">again</a>"}`
	got := testScanner(t).Scan(body)

	require.Len(t, got, 2)
	require.Equal(t, "101", got[0].ID)
	require.Equal(t, "https://example.com/items/101", got[0].URL)
	require.Equal(t, "102", got[1].ID)
}

func TestScan_PairingHeuristicOnParsedJSON(t *testing.T) {
	t.Parallel()

	// No reference paths at all; the listing API returns bare objects.
	body := `{"results":[
		{"id": 555, "name": "Dragon Bust", "creator": "mira", "thumbnail": "https://cdn.example.com/555.webp"},
		{"id": 556, "thumbnail": "https://cdn.example.com/556.jpg"},
		{"id": 557, "name": "no image, skipped"}
	]}`
	got := testScanner(t).Scan(body)

	require.Len(t, got, 2)
	require.Equal(t, "555", got[0].ID)
	require.Equal(t, "https://example.com/items/555", got[0].URL)
	require.Equal(t, "https://cdn.example.com/555.webp", got[0].CoverURL)
	require.Equal(t, "Dragon Bust", got[0].Title)
	require.Equal(t, "mira", got[0].Author)
	require.Equal(t, "556", got[1].ID)
}

func TestScan_PairingHeuristicOnUnparseableText(t *testing.T) {
	t.Parallel()

	// NDJSON-style frames do not parse as one document.
	body := `{"id": 9, "cover": "https://cdn.example.com/9.png"}` + "\n" +
		`{"id": 10, "note": "nothing nearby"}`
	got := testScanner(t).Scan(body)

	require.Len(t, got, 1)
	require.Equal(t, "9", got[0].ID)
	require.Equal(t, "https://cdn.example.com/9.png", got[0].CoverURL)
}

func TestScan_SecondarySkippedWhenPrimaryIsRich(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for i := 0; i < secondaryThreshold; i++ {
		fmt.Fprintf(&sb, `<a href="/items/%d"></a>`, 1000+i)
	}
	// Would be picked up by the pairing heuristic if it ran.
	sb.WriteString(`{"id": 77, "cover": "https://cdn.example.com/77.jpg"}`)

	got := testScanner(t).Scan(sb.String())
	require.Len(t, got, secondaryThreshold)
	for _, c := range got {
		require.NotEqual(t, "77", c.ID)
	}
}

func TestScan_PrimarySightingBlocksSecondaryDuplicate(t *testing.T) {
	t.Parallel()

	body := `<a href="/items/300"></a> {"id": 300, "cover": "https://cdn.example.com/300.jpg"}`
	got := testScanner(t).Scan(body)

	require.Len(t, got, 1)
	require.Equal(t, "300", got[0].ID)
	require.Empty(t, got[0].CoverURL, "primary match emitted first, heuristic must not re-emit")
}

func TestLooksLikeAPI(t *testing.T) {
	t.Parallel()

	require.True(t, looksLikeAPI("https://example.com/api/v3/explore?page=2"))
	require.True(t, looksLikeAPI("https://example.com/search?q=dragon"))
	require.True(t, looksLikeAPI("https://example.com/listing.json"))
	require.False(t, looksLikeAPI("https://cdn.example.com/assets/app.js"))
	require.False(t, looksLikeAPI("https://example.com/items/42"))
}

func TestMatchChallenge(t *testing.T) {
	t.Parallel()

	require.Equal(t, "just a moment", matchChallenge("Just a moment...\nChecking your browser"))
	require.Empty(t, matchChallenge("Explore 3D printable dragons"))
}
