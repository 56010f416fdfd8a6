package parser

import (
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ncsr-ingest/internal/model"
)

// xbrlContext is one resolved xbrli:context: a period plus the reporting
// entity's identifier.
type xbrlContext struct {
	PeriodStart      *time.Time
	PeriodEnd        *time.Time
	PeriodInstant    *time.Time
	EntityIdentifier string
}

// factSelector matches inline XBRL fact elements. net/html lowercases tag
// names, so the namespace prefix is matched lowercase with the colon escaped.
const factSelector = `ix\:nonfraction, ix\:nonnumeric, ix\:fraction`

const contextSelector = `xbrli\:context, context`

// ParseXBRL extracts inline XBRL facts from an (X)HTML document. Each fact
// carries its resolved context period and entity, its scale/sign adjusted
// value, and the raw element attributes.
func ParseXBRL(text string) ([]model.XbrlFact, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, eris.Wrap(err, "parser: build xbrl document")
	}

	contexts := parseContexts(doc)

	var facts []model.XbrlFact
	doc.Find(factSelector).Each(func(_ int, sel *goquery.Selection) {
		fact := parseFact(sel, contexts)
		if fact.Concept == "" {
			return
		}
		facts = append(facts, fact)
	})
	return facts, nil
}

func parseContexts(doc *goquery.Document) map[string]xbrlContext {
	contexts := make(map[string]xbrlContext)
	doc.Find(contextSelector).Each(func(_ int, sel *goquery.Selection) {
		id, ok := sel.Attr("id")
		if !ok || id == "" {
			return
		}
		var cx xbrlContext
		cx.PeriodStart = findDate(sel, `xbrli\:startdate, startdate`)
		cx.PeriodEnd = findDate(sel, `xbrli\:enddate, enddate`)
		cx.PeriodInstant = findDate(sel, `xbrli\:instant, instant`)
		cx.EntityIdentifier = strings.TrimSpace(sel.Find(`xbrli\:identifier, identifier`).First().Text())
		contexts[id] = cx
	})
	return contexts
}

func findDate(sel *goquery.Selection, selector string) *time.Time {
	raw := strings.TrimSpace(sel.Find(selector).First().Text())
	if raw == "" {
		return nil
	}
	// XBRL dates may carry a time component.
	if idx := strings.IndexByte(raw, 'T'); idx > 0 {
		raw = raw[:idx]
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil
	}
	return &t
}

func parseFact(sel *goquery.Selection, contexts map[string]xbrlContext) model.XbrlFact {
	fact := model.XbrlFact{
		Concept:    sel.AttrOr("name", ""),
		UnitRef:    sel.AttrOr("unitref", ""),
		ContextRef: sel.AttrOr("contextref", ""),
		Decimals:   sel.AttrOr("decimals", ""),
		Precision:  sel.AttrOr("precision", ""),
	}

	if scale := sel.AttrOr("scale", ""); scale != "" {
		fact.Scale, _ = strconv.Atoi(scale)
	}

	fact.Value = factValue(sel, fact.Scale)

	if cx, ok := contexts[fact.ContextRef]; ok {
		fact.PeriodStart = cx.PeriodStart
		fact.PeriodEnd = cx.PeriodEnd
		fact.PeriodInstant = cx.PeriodInstant
		fact.EntityIdentifier = cx.EntityIdentifier
	}

	attrs := make(map[string]string)
	for _, attr := range sel.Nodes[0].Attr {
		attrs[attr.Key] = attr.Val
	}
	fact.Attrs = attrs
	return fact
}

// factValue normalizes the element text. Numeric values drop commas, apply
// the scale as a power of ten, and flip sign when sign="-" is present.
// Non-numeric text passes through trimmed.
func factValue(sel *goquery.Selection, scale int) string {
	raw := strings.TrimSpace(sel.Text())
	if goquery.NodeName(sel) == "ix:nonnumeric" {
		return raw
	}

	cleaned := strings.ReplaceAll(raw, ",", "")
	cleaned = strings.TrimPrefix(cleaned, "$")
	num, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return raw
	}

	for i := 0; i < scale; i++ {
		num *= 10
	}
	for i := 0; i > scale; i-- {
		num /= 10
	}
	if sel.AttrOr("sign", "") == "-" {
		num = -num
	}
	return strconv.FormatFloat(num, 'f', -1, 64)
}
