package internal

import (
	"strconv"
	"strings"
)

// googleBooksVolume mirrors the subset of the Google Books "volumes" API
// response this service consumes.
type googleBooksVolume struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title               string   `json:"title"`
		Subtitle            string   `json:"subtitle"`
		Authors             []string `json:"authors"`
		PublishedDate       string   `json:"publishedDate"`
		Description         string   `json:"description"`
		Publisher           string   `json:"publisher"`
		Categories          []string `json:"categories"`
		PrintType           string   `json:"printType"`
		IndustryIdentifiers []struct {
			Type       string `json:"type"`
			Identifier string `json:"identifier"`
		} `json:"industryIdentifiers"`
		ImageLinks struct {
			Thumbnail string `json:"thumbnail"`
		} `json:"imageLinks"`
	} `json:"volumeInfo"`
}

type googleBooksResponse struct {
	TotalItems int                 `json:"totalItems"`
	Items      []googleBooksVolume `json:"items"`
}

// normalizeGoogleBooks maps a raw Google Books response into canonical
// records (§4.1). Google Books volumes are edition-shaped: there is no
// separate "work" record, so every Work produced here is Synthetic.
func normalizeGoogleBooks(resp googleBooksResponse) NormalizedResponse {
	var out NormalizedResponse

	for _, item := range resp.Items {
		info := item.VolumeInfo
		if strings.TrimSpace(info.Title) == "" {
			// A single malformed record is dropped, not faked (§4.1).
			continue
		}

		title := info.Title
		if info.Subtitle != "" {
			title = title + ": " + info.Subtitle
		}

		isbn10, isbn13 := "", ""
		var isbnList []string
		for _, id := range info.IndustryIdentifiers {
			switch id.Type {
			case "ISBN_13":
				isbn13 = id.Identifier
			case "ISBN_10":
				isbn10 = id.Identifier
			}
		}
		if isbn13 != "" && ValidISBN(isbn13) {
			isbnList = append(isbnList, isbn13)
		}
		if isbn10 != "" && ValidISBN(isbn10) {
			isbnList = append(isbnList, isbn10)
		}
		isbnList = FilterValidISBNs(isbnList)

		primary := ""
		if len(isbnList) > 0 {
			primary = isbnList[0]
		}

		edition := Edition{
			ISBN:            primary,
			ISBNList:        isbnList,
			Publisher:       info.Publisher,
			PublicationYear: parseYear(info.PublishedDate),
			Format:          formatFromPrintType(info.PrintType),
			CoverURL:        info.ImageLinks.Thumbnail,
			PrimaryProvider: "googlebooks",
		}

		authors := make([]Author, 0, len(info.Authors))
		for _, name := range info.Authors {
			if strings.TrimSpace(name) == "" {
				continue
			}
			authors = append(authors, Author{
				Name:   name,
				Gender: GenderUnknown,
			})
		}

		work := Work{
			Title:                title,
			SubjectTags:          NormalizeGenres(info.Categories),
			Description:          CleanText(info.Description),
			FirstPublicationYear: edition.PublicationYear,
			Authors:              authors,
			Editions:             []Edition{edition},
			Synthetic:            true,
			PrimaryProvider:      "googlebooks",
			Contributors:         []string{"googlebooks"},
			GoogleBooksVolumeIDs: []string{item.ID},
		}

		out.Works = append(out.Works, work)
		out.Editions = append(out.Editions, edition)
		out.Authors = append(out.Authors, authors...)
	}

	return out
}

func formatFromPrintType(printType string) Format {
	switch strings.ToUpper(printType) {
	case "BOOK":
		return FormatPaperback
	default:
		return FormatUnknown
	}
}

// parseYear extracts a 4-digit year defensively from a loosely-formatted
// date string ("1965", "1965-06", "1965-06-01"); malformed dates yield 0
// rather than a fabricated year.
func parseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}
