package tail

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// decode converts raw bytes to text, replacing invalid UTF-8 sequences with
// U+FFFD instead of failing.
func decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return string([]rune(string(b)))
	}
	return string(out)
}
