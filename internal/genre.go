package internal

import "strings"

// genreTable maps a normalized (lowercased, trailing-s stripped) genre tag
// to its canonical display form. Unmapped inputs are preserved
// verbatim — this table never drops data, it only canonicalizes known
// entries.
var genreTable = map[string]string{
	"fiction":            "Fiction",
	"nonfiction":         "Nonfiction",
	"non-fiction":        "Nonfiction",
	"thriller":           "Thriller",
	"mystery":            "Mystery",
	"mysterie":           "Mystery",
	"classic":            "Classic Literature",
	"classics":           "Classic Literature",
	"science fiction":    "Science Fiction",
	"sci-fi":             "Science Fiction",
	"scifi":              "Science Fiction",
	"fantasy":            "Fantasy",
	"romance":            "Romance",
	"horror":             "Horror",
	"biography":          "Biography",
	"biographie":         "Biography",
	"memoir":             "Memoir",
	"history":            "History",
	"historie":           "History",
	"historical fiction": "Historical Fiction",
	"poetry":             "Poetry",
	"drama":              "Drama",
	"young adult":        "Young Adult",
	"ya":                 "Young Adult",
	"children":           "Children's",
	"childrens":          "Children's",
	"graphic novel":      "Graphic Novel",
	"comic":              "Graphic Novel",
	"self-help":          "Self-Help",
	"self help":          "Self-Help",
	"philosophy":         "Philosophy",
	"religion":           "Religion",
	"science":            "Science",
	"travel":             "Travel",
	"cookbook":           "Cooking",
	"cooking":            "Cooking",
	"business":           "Business",
	"economics":          "Economics",
	"politics":           "Politics",
	"true crime":         "True Crime",
	"short stories":      "Short Stories",
	"essay":              "Essays",
	"essays":             "Essays",
	"humor":              "Humor",
	"adventure":          "Adventure",
	"dystopia":           "Dystopian",
	"dystopian":          "Dystopian",
}

// NormalizeGenre canonicalizes a single raw tag: lowercase, strip
// one trailing "s" (never more — "classics" intentionally has its own
// table entry since stripping once still leaves "classic"), look up in
// genreTable. Idempotent: NormalizeGenre(NormalizeGenre(g)) == NormalizeGenre(g).
func NormalizeGenre(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	key := strings.ToLower(trimmed)
	key = strings.TrimSuffix(key, "s")
	if canon, ok := genreTable[key]; ok {
		return canon
	}
	// Also try without stripping, in case the table holds the plural form
	// verbatim (e.g. "classics").
	if canon, ok := genreTable[strings.ToLower(trimmed)]; ok {
		return canon
	}
	return trimmed
}

// NormalizeGenres maps a raw tag list through NormalizeGenre, de-duplicating
// while preserving first-seen order.
func NormalizeGenres(raw []string) []string {
	seen := newSet[string]()
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		g := NormalizeGenre(r)
		if g == "" {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
