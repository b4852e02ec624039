package internal

import "strings"

// isbndbBook mirrors the subset of the ISBNdb "book"/"books" response this
// service consumes. ISBNdb is edition-shaped like Google Books: there is
// no independent work identity, so the produced Work is Synthetic.
type isbndbBook struct {
	ISBN13    string   `json:"isbn13"`
	ISBN      string   `json:"isbn"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Publisher string   `json:"publisher"`
	Synopsis  string   `json:"synopsis"`
	Subjects  []string `json:"subjects"`
	DatePub   string   `json:"date_published"`
	Image     string   `json:"image"`
	Binding   string   `json:"binding"`
}

type isbndbResponse struct {
	Book  *isbndbBook  `json:"book"`
	Books []isbndbBook `json:"books"`
}

func normalizeISBNdb(resp isbndbResponse) NormalizedResponse {
	var out NormalizedResponse

	books := resp.Books
	if resp.Book != nil {
		books = append(books, *resp.Book)
	}

	for _, b := range books {
		if strings.TrimSpace(b.Title) == "" {
			continue
		}

		var isbnList []string
		if b.ISBN13 != "" {
			isbnList = append(isbnList, b.ISBN13)
		}
		if b.ISBN != "" {
			isbnList = append(isbnList, b.ISBN)
		}
		isbnList = FilterValidISBNs(isbnList)
		primary := ""
		if len(isbnList) > 0 {
			primary = isbnList[0]
		}

		edition := Edition{
			ISBN:            primary,
			ISBNList:        isbnList,
			Publisher:       b.Publisher,
			PublicationYear: parseYear(b.DatePub),
			Format:          formatFromBinding(b.Binding),
			CoverURL:        b.Image,
			PrimaryProvider: "isbndb",
		}

		authors := make([]Author, 0, len(b.Authors))
		for _, name := range b.Authors {
			if strings.TrimSpace(name) == "" {
				continue
			}
			authors = append(authors, Author{Name: name, Gender: GenderUnknown})
		}

		work := Work{
			Title:                b.Title,
			SubjectTags:          NormalizeGenres(b.Subjects),
			Description:          CleanText(b.Synopsis),
			FirstPublicationYear: edition.PublicationYear,
			Authors:              authors,
			Editions:             []Edition{edition},
			Synthetic:            true,
			PrimaryProvider:      "isbndb",
			Contributors:         []string{"isbndb"},
			ISBNdbIDs:            nonEmpty(primary),
		}

		out.Works = append(out.Works, work)
		out.Editions = append(out.Editions, edition)
		out.Authors = append(out.Authors, authors...)
	}

	return out
}

func formatFromBinding(binding string) Format {
	switch strings.ToLower(binding) {
	case "hardcover":
		return FormatHardcover
	case "paperback", "mass market paperback", "trade paperback":
		return FormatPaperback
	case "ebook", "kindle edition":
		return FormatEbook
	default:
		return FormatUnknown
	}
}
