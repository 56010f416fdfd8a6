package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// SGMLResult carries the parsed SEC header and the embedded documents.
type SGMLResult struct {
	Header    map[string]string
	Metadata  *Metadata
	Documents []Document
}

var (
	documentBlockRe = regexp.MustCompile(`(?s)<DOCUMENT>(.*?)</DOCUMENT>`)
	textBlockRe     = regexp.MustCompile(`(?s)<TEXT>(.*?)</TEXT>`)
	docFieldRe      = regexp.MustCompile(`<(TYPE|SEQUENCE|FILENAME|DESCRIPTION)>([^<\r\n]*)`)
	tagLineRe       = regexp.MustCompile(`^<([A-Z][A-Z0-9-]*)>(.*)$`)
)

// headerFields maps canonical header keys to the Metadata fields they
// populate. Everything else is preserved in Additional.
var addressKeys = map[string]bool{
	"street_1": true,
	"street_2": true,
	"city":     true,
	"state":    true,
	"zip":      true,
}

// ParseSGML parses an SEC SGML submission: the <SEC-HEADER> block into a
// canonical key/value map and each <DOCUMENT> block into its parts.
func ParseSGML(text string) (*SGMLResult, error) {
	if !HasSGML(text) {
		return nil, eris.New("parser: content is not SEC SGML")
	}

	header := parseHeader(headerSection(text))
	docs := parseDocuments(text)

	res := &SGMLResult{
		Header:    header,
		Metadata:  metadataFromHeader(header),
		Documents: docs,
	}
	if res.Metadata.DocumentCount == 0 {
		res.Metadata.DocumentCount = len(docs)
	}
	return res, nil
}

// headerSection isolates the SEC header: the <SEC-HEADER> block when
// present, otherwise everything before the first <DOCUMENT>.
func headerSection(text string) string {
	if start := strings.Index(text, "<SEC-HEADER>"); start >= 0 {
		rest := text[start:]
		if end := strings.Index(rest, "</SEC-HEADER>"); end >= 0 {
			return rest[:end]
		}
		return rest
	}
	if end := strings.Index(text, "<DOCUMENT>"); end >= 0 {
		return text[:end]
	}
	return text
}

// parseHeader reads "KEY: value" lines (and <TAG>value lines like
// <ACCEPTANCE-DATETIME>) into a canonical lowercase snake_case map. Address
// blocks (BUSINESS ADDRESS, MAIL ADDRESS) prefix their fields so street
// lines from different blocks do not collide.
func parseHeader(section string) map[string]string {
	header := make(map[string]string)
	blockPrefix := ""

	for _, line := range strings.Split(section, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		stripped := strings.TrimSpace(trimmed)
		if stripped == "" {
			continue
		}

		if m := tagLineRe.FindStringSubmatch(stripped); m != nil {
			if m[2] != "" {
				header[normalizeKey(m[1])] = strings.TrimSpace(m[2])
			}
			continue
		}

		colon := strings.Index(stripped, ":")
		if colon < 0 {
			continue
		}
		key := normalizeKey(stripped[:colon])
		value := strings.TrimSpace(stripped[colon+1:])

		if value == "" {
			// Section headers like "BUSINESS ADDRESS:" open a block whose
			// indented fields we namespace.
			switch key {
			case "business_address", "mail_address", "filer", "company_data", "filing_values", "former_company":
				blockPrefix = key + "."
			default:
				blockPrefix = ""
			}
			continue
		}

		// Indented lines belong to the open block; top-level lines close it.
		if !strings.HasPrefix(trimmed, "\t") && !strings.HasPrefix(trimmed, "  ") {
			blockPrefix = ""
		}

		if blockPrefix != "" && addressKeys[key] {
			header[blockPrefix+key] = value
			continue
		}
		if _, exists := header[key]; !exists {
			header[key] = value
		}
	}
	return header
}

// normalizeKey canonicalizes hyphenated and spaced header keys to
// lowercase snake_case: "CENTRAL INDEX KEY" and "CENTRAL-INDEX-KEY" both
// become central_index_key.
func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.Join(strings.Fields(key), "_")
	return key
}

func metadataFromHeader(header map[string]string) *Metadata {
	md := &Metadata{Additional: make(map[string]string)}

	known := map[string]*string{
		"accession_number":                   &md.AccessionNumber,
		"company_conformed_name":             &md.CompanyName,
		"conformed_submission_type":          &md.FormType,
		"standard_industrial_classification": &md.SIC,
		"state_of_incorporation":             &md.StateOfIncorporation,
		"fiscal_year_end":                    &md.FiscalYearEnd,
		"business_phone":                     &md.BusinessPhone,
	}
	for key, dst := range known {
		if v, ok := header[key]; ok {
			*dst = v
		}
	}

	if v, ok := header["central_index_key"]; ok {
		md.CIK = v
	} else if v, ok := header["cik"]; ok {
		md.CIK = v
	}

	if v, ok := header["filed_as_of_date"]; ok {
		md.FilingDate = parseHeaderDate(v)
	}
	if v, ok := header["conformed_period_of_report"]; ok {
		md.PeriodOfReport = parseHeaderDate(v)
	}
	if v, ok := header["acceptance_datetime"]; ok {
		md.AcceptanceDatetime = parseHeaderDatetime(v)
	}
	if v, ok := header["public_document_count"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			md.DocumentCount = n
		}
	}

	md.BusinessAddress = joinAddress(header, "business_address.")

	consumed := map[string]bool{
		"accession_number": true, "company_conformed_name": true,
		"conformed_submission_type": true, "standard_industrial_classification": true,
		"state_of_incorporation": true, "fiscal_year_end": true,
		"business_phone": true, "central_index_key": true, "cik": true,
		"filed_as_of_date": true, "conformed_period_of_report": true,
		"acceptance_datetime": true, "public_document_count": true,
	}
	for key, value := range header {
		if !consumed[key] && !strings.HasPrefix(key, "business_address.") {
			md.Additional[key] = value
		}
	}
	return md
}

func joinAddress(header map[string]string, prefix string) string {
	var parts []string
	for _, key := range []string{"street_1", "street_2", "city", "state", "zip"} {
		if v, ok := header[prefix+key]; ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

func parseHeaderDate(v string) *time.Time {
	for _, layout := range []string{"20060102", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}

func parseHeaderDatetime(v string) *time.Time {
	for _, layout := range []string{"20060102150405", "20060102"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}

func parseDocuments(text string) []Document {
	var docs []Document
	for _, block := range documentBlockRe.FindAllStringSubmatch(text, -1) {
		doc := Document{}
		for _, field := range docFieldRe.FindAllStringSubmatch(block[1], -1) {
			value := strings.TrimSpace(field[2])
			switch field[1] {
			case "TYPE":
				doc.Type = value
			case "SEQUENCE":
				doc.Sequence, _ = strconv.Atoi(value)
			case "FILENAME":
				doc.Filename = value
			case "DESCRIPTION":
				doc.Description = value
			}
		}
		if body := textBlockRe.FindStringSubmatch(block[1]); body != nil {
			doc.Body = body[1]
		}
		docs = append(docs, doc)
	}
	return docs
}
