package internal

import (
	"strconv"
	"strings"
)

// openLibraryDoc mirrors the subset of OpenLibrary's search.json /
// works.json response this service consumes. OpenLibrary, unlike Google
// Books, does distinguish true works from editions, so these Work records
// are not Synthetic.
type openLibraryDoc struct {
	Key             string   `json:"key"` // "/works/OLxxxxW"
	Title           string   `json:"title"`
	AuthorName      []string `json:"author_name"`
	FirstPublishYear int     `json:"first_publish_year"`
	Subject         []string `json:"subject"`
	ISBN            []string `json:"isbn"`
	Publisher       []string `json:"publisher"`
	CoverI          int      `json:"cover_i"`
	Description     any      `json:"description"` // string or {value: string}
}

type openLibrarySearchResponse struct {
	NumFound int              `json:"numFound"`
	Docs     []openLibraryDoc `json:"docs"`
}

func normalizeOpenLibrary(resp openLibrarySearchResponse) NormalizedResponse {
	var out NormalizedResponse

	for _, doc := range resp.Docs {
		if strings.TrimSpace(doc.Title) == "" {
			continue
		}

		isbns := FilterValidISBNs(doc.ISBN)
		primary := ""
		if len(isbns) > 0 {
			primary = isbns[0]
		}
		publisher := ""
		if len(doc.Publisher) > 0 {
			publisher = doc.Publisher[0]
		}

		coverURL := ""
		if doc.CoverI > 0 {
			coverURL = openLibraryCoverURL(doc.CoverI)
		}

		edition := Edition{
			ISBN:            primary,
			ISBNList:        isbns,
			Publisher:       publisher,
			PublicationYear: doc.FirstPublishYear,
			Format:          FormatUnknown,
			CoverURL:        coverURL,
			PrimaryProvider: "openlibrary",
		}

		authors := make([]Author, 0, len(doc.AuthorName))
		for _, name := range doc.AuthorName {
			if strings.TrimSpace(name) == "" {
				continue
			}
			authors = append(authors, Author{Name: name, Gender: GenderUnknown})
		}

		work := Work{
			Title:                doc.Title,
			SubjectTags:          NormalizeGenres(doc.Subject),
			Description:          CleanText(describeOpenLibrary(doc.Description)),
			FirstPublicationYear: doc.FirstPublishYear,
			Authors:              authors,
			Editions:             []Edition{edition},
			Synthetic:            false,
			PrimaryProvider:      "openlibrary",
			Contributors:         []string{"openlibrary"},
			OpenLibraryWorkIDs:   nonEmpty(doc.Key),
		}

		out.Works = append(out.Works, work)
		out.Editions = append(out.Editions, edition)
		out.Authors = append(out.Authors, authors...)
	}

	return out
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// describeOpenLibrary unwraps OpenLibrary's inconsistently-shaped
// "description" field (sometimes a bare string, sometimes
// {"type":..., "value":...}) defensively: an unrecognized shape yields an
// empty description rather than a panic or garbage text.
func describeOpenLibrary(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case map[string]any:
		if val, ok := v["value"].(string); ok {
			return val
		}
	}
	return ""
}

func openLibraryCoverURL(coverID int) string {
	return "https://covers.openlibrary.org/b/id/" + strconv.Itoa(coverID) + "-L.jpg"
}
