package parser

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/ncsr-ingest/internal/model"
)

// Options bounds the pipeline's work per processing tier.
type Options struct {
	HTML     HTMLOptions
	SkipHTML bool // minimal tier: no DOM work at all
}

// Parse runs shape detection and the selected sub-parsers over raw filing
// bytes. Sub-parser failures land in the result's Error field with
// Success=false; the returned error is non-nil only for context
// cancellation, so a tier timeout propagates out of the pipeline.
func Parse(ctx context.Context, raw []byte, opts Options) (*ParseResult, error) {
	text := Decode(raw)

	strategy, err := DetectStrategy(text)
	if err != nil {
		return &ParseResult{Error: "incompatible_content"}, nil
	}

	res := &ParseResult{Strategy: strategy}
	htmlBody := text

	if strategy == model.StrategySGMLOnly || strategy == model.StrategyHybrid {
		start := time.Now()
		sgml, sgmlErr := ParseSGML(text)
		res.SGMLTime = time.Since(start)
		if sgmlErr != nil {
			res.Error = appendError(res.Error, sgmlErr.Error())
		} else {
			res.SGMLParsed = true
			res.Metadata = sgml.Metadata
			res.Documents = sgml.Documents
			htmlBody = joinBodies(sgml.Documents)

			// Detection only inspects the head of the submission; XBRL
			// markers buried in a later document upgrade the strategy.
			if strategy == model.StrategySGMLOnly && HasXBRL(htmlBody) {
				strategy = model.StrategyHybrid
				res.Strategy = strategy
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strategy == model.StrategyXBRLOnly || strategy == model.StrategyHybrid {
		start := time.Now()
		facts, xbrlErr := ParseXBRL(htmlBody)
		res.XBRLTime = time.Since(start)
		if xbrlErr != nil {
			res.Error = appendError(res.Error, xbrlErr.Error())
		} else {
			res.XBRLParsed = true
			res.Facts = append(res.Facts, facts...)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !opts.SkipHTML && htmlBody != "" {
		html, htmlErr := ParseHTML(htmlBody, opts.HTML)
		if htmlErr != nil {
			res.Error = appendError(res.Error, htmlErr.Error())
		} else {
			res.Sections = html.Sections
			res.Tables = html.Tables
		}
	}

	res.Success = res.SGMLParsed || res.XBRLParsed
	if !res.Success && res.Error == "" {
		res.Error = "no sub-parser succeeded"
	}
	return res, ctx.Err()
}

func joinBodies(docs []Document) string {
	var sb strings.Builder
	for _, doc := range docs {
		sb.WriteString(doc.Body)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func appendError(existing, msg string) string {
	if existing == "" {
		return msg
	}
	return existing + "; " + msg
}
