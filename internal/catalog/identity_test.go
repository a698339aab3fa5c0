package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	got, err := CanonicalURL("HTTPS://Example.COM/items/42/?page=3#gallery")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/items/42", got)

	_, err = CanonicalURL("/items/42")
	require.Error(t, err)
}

func TestIdentityFromURL_NativeReference(t *testing.T) {
	t.Parallel()

	id, err := IdentityFromURL("https://example.com/items/99184?ref=feed")
	require.NoError(t, err)
	require.Equal(t, "99184", id)

	again, err := IdentityFromURL("https://EXAMPLE.com/items/99184/")
	require.NoError(t, err)
	require.Equal(t, id, again, "identity must be stable across URL spellings")
}

func TestIdentityFromURL_DigestFallback(t *testing.T) {
	t.Parallel()

	first, err := IdentityFromURL("https://example.com/gallery/some-slug")
	require.NoError(t, err)
	second, err := IdentityFromURL("https://example.com/gallery/some-slug?utm=x")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 16)
}

func TestRefIDs(t *testing.T) {
	t.Parallel()

	body := `{"a":"/items/1","b":"https://x/models/2","c":"/items/1"}`
	require.Equal(t, []string{"1", "2", "1"}, RefIDs(body))
	require.Nil(t, RefIDs("nothing here"))
}

func TestParseGrade(t *testing.T) {
	t.Parallel()

	g, err := ParseGrade("S")
	require.NoError(t, err)
	require.Equal(t, GradeS, g)

	_, err = ParseGrade("F")
	require.Error(t, err)
}
