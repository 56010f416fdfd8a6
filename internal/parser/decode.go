package parser

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Decode converts raw filing bytes to a string. EDGAR submissions are
// UTF-8 today, but pre-2001 filings and some fund administrators still
// emit Windows-1252. Invalid UTF-8 falls back to a 1252 decode, which
// cannot fail (every byte maps).
func Decode(raw []byte) string {
	if utf8.Valid(raw) {
		return stripNUL(string(raw))
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		// Unreachable for 1252, but keep the lossy path safe.
		return stripNUL(strings.ToValidUTF8(string(raw), ""))
	}
	return stripNUL(string(decoded))
}

func stripNUL(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}
