package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeGenreKnownEntries(t *testing.T) {
	cases := map[string]string{
		"Fiction":          "Fiction",
		"thrillers":        "Thriller",
		"Mystery":          "Mystery",
		"classics":         "Classic Literature",
		"Science Fiction":  "Science Fiction",
		"FANTASY":          "Fantasy",
		"  romance  ":      "Romance",
		"Dystopians":       "Dystopian",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeGenre(in), "input %q", in)
	}
}

func TestNormalizeGenrePreservesUnmapped(t *testing.T) {
	assert.Equal(t, "Steampunk", NormalizeGenre("Steampunk"), "unmapped tags are preserved verbatim")
}

func TestNormalizeGenreIdempotent(t *testing.T) {
	for _, in := range []string{"fiction", "thrillers", "Steampunk", "classics", "  "} {
		once := NormalizeGenre(in)
		twice := NormalizeGenre(once)
		assert.Equal(t, once, twice, "normalize(normalize(%q)) must equal normalize(%q)", in, in)
	}
}

func TestNormalizeGenresDedupesPreservingOrder(t *testing.T) {
	got := NormalizeGenres([]string{"Fiction", "fiction", "Thriller", "fictions"})
	assert.Equal(t, []string{"Fiction", "Thriller"}, got)
}

func TestNormalizeGenresEmptyInput(t *testing.T) {
	assert.Empty(t, NormalizeGenres(nil))
}
