package parser

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ncsr-ingest/internal/model"
)

// ErrIncompatible is returned when content carries neither SGML nor inline
// XBRL markers.
var ErrIncompatible = eris.New("parser: incompatible_content")

// detectWindow bounds how much of the document shape detection inspects.
// Markers sit in the header or the first document's opening tags.
const detectWindow = 256 * 1024

var sgmlMarkers = []string{
	"<SEC-DOCUMENT>",
	"<SEC-HEADER>",
	"ACCESSION-NUMBER:",
	"CONFORMED-SUBMISSION-TYPE:",
	"<DOCUMENT>",
}

var xbrlMarkers = []string{
	"xmlns:ix=",
	"<ix:nonfraction",
	"<ix:nonnumeric",
	"<ix:fraction",
	"inlinexbrl",
	"xbrl.org",
}

// HasSGML reports whether the content looks like an SEC SGML submission.
func HasSGML(text string) bool {
	window := strings.ToUpper(head(text, detectWindow))
	for _, m := range sgmlMarkers {
		if strings.Contains(window, m) {
			return true
		}
	}
	return false
}

// HasXBRL reports whether the content carries inline XBRL markers.
func HasXBRL(text string) bool {
	window := strings.ToLower(head(text, detectWindow))
	for _, m := range xbrlMarkers {
		if strings.Contains(window, m) {
			return true
		}
	}
	return false
}

// DetectStrategy inspects the content and picks the parsing strategy.
func DetectStrategy(text string) (model.ParsingStrategy, error) {
	sgml := HasSGML(text)
	xbrl := HasXBRL(text)

	switch {
	case sgml && xbrl:
		return model.StrategyHybrid, nil
	case sgml:
		return model.StrategySGMLOnly, nil
	case xbrl:
		return model.StrategyXBRLOnly, nil
	default:
		return "", ErrIncompatible
	}
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
