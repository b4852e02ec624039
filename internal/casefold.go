package internal

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// FoldKey Unicode-case-folds and NFC-normalizes s so that cache keys built
// from titles/author names collide correctly across case and
// composed/decomposed accent variants, not just ASCII case.
func FoldKey(s string) string {
	return foldCaser.String(norm.NFC.String(s))
}
