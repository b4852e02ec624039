package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeISBNdbProducesSyntheticWorks(t *testing.T) {
	resp := isbndbResponse{Books: []isbndbBook{{
		ISBN13:    "9780441013593",
		Title:     "Dune",
		Authors:   []string{"Frank Herbert"},
		Publisher: "Ace Books",
		Synopsis:  "A desert planet epic",
		Subjects:  []string{"Science Fiction"},
		DatePub:   "1965-06-01",
		Binding:   "Paperback",
	}}}

	out := normalizeISBNdb(resp)

	require.Len(t, out.Works, 1)
	w := out.Works[0]
	assert.True(t, w.Synthetic, "ISBNdb is edition-shaped, so its work record is synthetic")
	assert.Equal(t, "Dune", w.Title)
	assert.Equal(t, 1965, w.FirstPublicationYear)
	assert.Equal(t, []string{"9780441013593"}, w.ISBNdbIDs)
	require.Len(t, w.Editions, 1)
	assert.Equal(t, FormatPaperback, w.Editions[0].Format)
	assert.Equal(t, "9780441013593", w.Editions[0].ISBN)
}

func TestNormalizeISBNdbHandlesSingleBookEnvelope(t *testing.T) {
	resp := isbndbResponse{Book: &isbndbBook{Title: "Solo Book", ISBN13: "9780441013593"}}
	out := normalizeISBNdb(resp)
	require.Len(t, out.Works, 1)
	assert.Equal(t, "Solo Book", out.Works[0].Title)
}

func TestNormalizeISBNdbDropsInvalidISBNs(t *testing.T) {
	resp := isbndbResponse{Books: []isbndbBook{{Title: "Bad ISBN Book", ISBN13: "9780439708181"}}}
	out := normalizeISBNdb(resp)
	require.Len(t, out.Works, 1)
	assert.Empty(t, out.Works[0].Editions[0].ISBN, "a checksum-invalid ISBN is dropped, never faked as primary")
}

func TestNormalizeISBNdbDropsRecordsWithoutTitle(t *testing.T) {
	resp := isbndbResponse{Books: []isbndbBook{{Title: ""}, {Title: "Kept"}}}
	out := normalizeISBNdb(resp)
	require.Len(t, out.Works, 1)
	assert.Equal(t, "Kept", out.Works[0].Title)
}

func TestFormatFromBindingMapping(t *testing.T) {
	assert.Equal(t, FormatHardcover, formatFromBinding("Hardcover"))
	assert.Equal(t, FormatPaperback, formatFromBinding("Mass Market Paperback"))
	assert.Equal(t, FormatEbook, formatFromBinding("Kindle Edition"))
	assert.Equal(t, FormatUnknown, formatFromBinding("Audio CD"))
}
