package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// Clean normalises free text supplied by clients before it is persisted: NFC normalisation,
// removal of any markup, and collapsing of whitespace runs into single spaces.
func Clean(value string) string {
	value = norm.NFC.String(value)
	if strings.ContainsAny(value, "<>&") {
		value = html.UnescapeString(strictPolicy.Sanitize(value))
	}
	return collapseSpace(value)
}

// CleanLimit cleans value and truncates it to at most limit runes.
func CleanLimit(value string, limit int) string {
	value = Clean(value)
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit]))
}

// Key normalises identifier-like values such as categories: cleaned and lower-cased.
func Key(value string) string {
	return strings.ToLower(Clean(value))
}

// Phone keeps digits and a leading plus sign.
func Phone(value string) string {
	value = Clean(value)
	var b strings.Builder
	for i, r := range value {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func collapseSpace(value string) string {
	return strings.Join(strings.FieldsFunc(value, unicode.IsSpace), " ")
}
