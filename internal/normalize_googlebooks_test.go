package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeGoogleBooksProducesSyntheticWorks(t *testing.T) {
	resp := googleBooksResponse{Items: []googleBooksVolume{{ID: "vol1"}}}
	resp.Items[0].VolumeInfo.Title = "Dune"
	resp.Items[0].VolumeInfo.Authors = []string{"Frank Herbert"}
	resp.Items[0].VolumeInfo.Categories = []string{"Science Fiction", "classics"}
	resp.Items[0].VolumeInfo.PublishedDate = "1965-06-01"
	resp.Items[0].VolumeInfo.PrintType = "BOOK"
	resp.Items[0].VolumeInfo.IndustryIdentifiers = []struct {
		Type       string `json:"type"`
		Identifier string `json:"identifier"`
	}{{Type: "ISBN_13", Identifier: "9780441013593"}}

	out := normalizeGoogleBooks(resp)

	require.Len(t, out.Works, 1)
	w := out.Works[0]
	assert.True(t, w.Synthetic, "a Google Books volume has no separate work record")
	assert.Equal(t, "Dune", w.Title)
	assert.Equal(t, 1965, w.FirstPublicationYear)
	assert.Equal(t, []string{"Science Fiction", "Classic Literature"}, w.SubjectTags)
	assert.Equal(t, "googlebooks", w.PrimaryProvider)
	assert.Equal(t, []string{"vol1"}, w.GoogleBooksVolumeIDs)
	require.Len(t, w.Editions, 1)
	assert.Equal(t, "9780441013593", w.Editions[0].ISBN)
	assert.Equal(t, GenderUnknown, w.Authors[0].Gender, "missing gender is always unknown, never empty")
}

func TestNormalizeGoogleBooksDropsInvalidISBNsWithoutFaking(t *testing.T) {
	resp := googleBooksResponse{Items: []googleBooksVolume{{ID: "vol2"}}}
	resp.Items[0].VolumeInfo.Title = "Some Book"
	resp.Items[0].VolumeInfo.IndustryIdentifiers = []struct {
		Type       string `json:"type"`
		Identifier string `json:"identifier"`
	}{{Type: "ISBN_13", Identifier: "9780439708181"}} // checksum-invalid

	out := normalizeGoogleBooks(resp)
	require.Len(t, out.Works, 1)
	assert.Empty(t, out.Works[0].Editions[0].ISBN, "an invalid ISBN must be dropped, never returned as the primary ISBN")
}

func TestNormalizeGoogleBooksDropsRecordsWithoutTitle(t *testing.T) {
	resp := googleBooksResponse{Items: []googleBooksVolume{{ID: "notitle"}, {ID: "hastitle"}}}
	resp.Items[1].VolumeInfo.Title = "Valid Title"

	out := normalizeGoogleBooks(resp)
	require.Len(t, out.Works, 1, "a record missing its required title is dropped, not faked")
	assert.Equal(t, "Valid Title", out.Works[0].Title)
}
