package internal

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// descriptionPolicy strips all markup from provider-supplied free text.
// GoogleBooks and ISBNdb both sometimes embed <p>/<br> tags in
// "description" fields straight from their own HTML rendering pipeline.
var descriptionPolicy = bluemonday.StrictPolicy()

// CleanText sanitizes HTML out of provider text and unescapes any HTML
// entities left behind (e.g. "&amp;" -> "&"), returning canonical plain
// text suitable for Work.Description / Author.Biography.
func CleanText(raw string) string {
	if raw == "" {
		return ""
	}
	sanitized := descriptionPolicy.Sanitize(raw)
	unescaped := html.UnescapeString(sanitized)
	return strings.TrimSpace(unescaped)
}
