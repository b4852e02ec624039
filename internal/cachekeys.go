package internal

import "fmt"

// Cache key schema (§4.3, exact):
//
//	search:title:{lower(title)}:{max}
//	search:isbn:{digits(isbn)}
//	search:author:{lower(name)}:{limit}:{offset}
//	book:isbn:{digits(isbn)}
//	enrichment:{digits(isbn)}
//
// "lower" is Unicode case-folding (FoldKey), not ASCII ToLower, so
// non-ASCII titles/names hash consistently (§4.1).

func titleSearchKey(title string, max int) string {
	return fmt.Sprintf("search:title:%s:%d", FoldKey(title), max)
}

func isbnSearchKey(isbn string) string {
	return fmt.Sprintf("search:isbn:%s", DigitsOnly(isbn))
}

func authorSearchKey(name string, limit, offset int) string {
	return fmt.Sprintf("search:author:%s:%d:%d", FoldKey(name), limit, offset)
}

func bookISBNKey(isbn string) string {
	return fmt.Sprintf("book:isbn:%s", DigitsOnly(isbn))
}

func enrichmentKey(isbn string) string {
	return fmt.Sprintf("enrichment:%s", DigitsOnly(isbn))
}
