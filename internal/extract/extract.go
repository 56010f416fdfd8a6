// Package extract applies tier gating to a parse result: the standard tier
// keeps nearly everything, the limited tier bounds table work, and the
// minimal tier falls back to direct regex scans over bounded prefixes.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/ncsr-ingest/internal/model"
	"github.com/sells-group/ncsr-ingest/internal/parser"
)

const (
	standardMaxTables    = 20
	standardPatternCap   = 3 // matches admitted per critical-table pattern
	limitedMaxTables     = 10
	limitedPatternCap    = 2
	limitedMaxPriority   = 5
	limitedMinTableRows  = 4 // tables of three or fewer rows are skipped
	limitedMaxTableHTML  = 100 * 1024
	limitedMetadataScan  = 50 * 1024
	minimalMetadataScan  = 20 * 1024
	minimalKeyMetricScan = 200 * 1024
	minimalCriticalScan  = 300 * 1024
)

// Result is the tier-gated content handed to the store.
type Result struct {
	Metadata *parser.Metadata
	Fund     *model.FundMetadata
	Sections []model.Section
	Tables   []model.Table
	Facts    []model.XbrlFact
}

// Apply gates a parse result by tier. text is the decoded filing body used
// for the bounded regex scans; it is never modified.
func Apply(res *parser.ParseResult, tier model.Tier, text string) *Result {
	out := &Result{
		Metadata: res.Metadata,
		Facts:    res.Facts,
	}
	if out.Metadata == nil {
		out.Metadata = &parser.Metadata{Additional: map[string]string{}}
	}

	switch tier {
	case model.TierStandard:
		supplementMetadata(out.Metadata, text, limitedMetadataScan)
		out.Sections = res.Sections
		out.Tables = selectTables(res.Tables, standardMaxTables, standardPatternCap, 0, 0, 0, true)
	case model.TierLimited:
		supplementMetadata(out.Metadata, text, limitedMetadataScan)
		out.Sections = res.Sections
		out.Tables = selectTables(res.Tables, limitedMaxTables, limitedPatternCap,
			limitedMaxPriority, limitedMinTableRows, limitedMaxTableHTML, false)
	case model.TierMinimal:
		supplementMetadata(out.Metadata, text, minimalMetadataScan)
		out.Sections = criticalSections(text)
	}

	out.Fund = buildFundMetadata(out.Metadata, text, tier)
	return out
}

// selectTables runs the prioritized pattern scan over the parsed tables.
// Matched tables take the pattern name as their type, capped per pattern.
// When admitUnmatched is set, unmatched tables with more than three rows
// and more than two columns fill the remaining slots.
func selectTables(tables []model.Table, maxTables, perPattern, maxPriority, minRows, maxHTML int, admitUnmatched bool) []model.Table {
	perName := make(map[string]int)
	var selected []model.Table
	var unmatched []model.Table

	for _, t := range tables {
		if len(selected) >= maxTables {
			break
		}
		if minRows > 0 && t.RowCount < minRows {
			continue
		}
		if maxHTML > 0 && len(t.HTML) > maxHTML {
			continue
		}

		name := parser.ClassifyTableByPattern(t.Caption, tableText(t), maxPriority)
		if name == "" {
			unmatched = append(unmatched, t)
			continue
		}
		if perName[name] >= perPattern {
			continue
		}
		perName[name]++
		t.TableType = name
		selected = append(selected, t)
	}

	if admitUnmatched {
		for _, t := range unmatched {
			if len(selected) >= maxTables {
				break
			}
			if t.RowCount > 3 && t.ColCount > 2 {
				selected = append(selected, t)
			}
		}
	}
	return selected
}

func tableText(t model.Table) string {
	var sb strings.Builder
	for _, r := range t.Rows {
		sb.WriteString(r.ColName)
		sb.WriteByte(' ')
		if r.ColValue != nil {
			sb.WriteString(*r.ColValue)
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

var (
	titleRe  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	cikRe    = regexp.MustCompile(`(?i)cik[:\s]*(\d+)`)
	periodRe = regexp.MustCompile(`(?i)period.*?ended?\s*([A-Za-z]+ \d{1,2},? \d{4})`)
)

// supplementMetadata fills gaps in the header metadata from a bounded scan
// of the body text. Existing header values always win.
func supplementMetadata(md *parser.Metadata, text string, limit int) {
	window := head(text, limit)

	if md.Additional == nil {
		md.Additional = map[string]string{}
	}
	if m := titleRe.FindStringSubmatch(window); m != nil {
		if title := strings.TrimSpace(m[1]); title != "" {
			if _, ok := md.Additional["document_title"]; !ok {
				md.Additional["document_title"] = title
			}
		}
	}
	if md.CIK == "" {
		if m := cikRe.FindStringSubmatch(window); m != nil {
			md.CIK = m[1]
		}
	}
	if md.PeriodOfReport == nil {
		if m := periodRe.FindStringSubmatch(window); m != nil {
			md.PeriodOfReport = parseLongDate(m[1])
		}
	}
}

func parseLongDate(v string) *time.Time {
	v = strings.TrimSpace(v)
	for _, layout := range []string{"January 2, 2006", "January 2 2006"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}

// criticalSections regex-extracts the minimal tier's narrative fallbacks
// from the first 300 KB of text.
func criticalSections(text string) []model.Section {
	window := head(text, minimalCriticalScan)

	var sections []model.Section
	for _, name := range []string{"investment_objective", "fund_summary", "performance_summary"} {
		re := parser.Rules().CriticalSections[name]
		m := re.FindStringSubmatch(window)
		if m == nil {
			continue
		}
		body := strings.Join(strings.Fields(m[1]), " ")
		sections = append(sections, model.Section{
			Name:      name,
			Type:      sectionTypeFor(name),
			TextClean: body,
			WordCount: len(strings.Fields(body)),
		})
	}
	return sections
}

func sectionTypeFor(name string) model.SectionType {
	switch name {
	case "performance_summary":
		return model.SectionPerformance
	default:
		return model.SectionOther
	}
}

// KeyMetrics runs the direct metric regexes over the first 200 KB of text.
func KeyMetrics(text string) map[string]string {
	window := head(text, minimalKeyMetricScan)
	metrics := make(map[string]string)
	for name, re := range parser.Rules().KeyMetrics {
		if m := re.FindStringSubmatch(window); m != nil {
			metrics[name] = m[1]
		}
	}
	return metrics
}

// buildFundMetadata assembles the fund-level row. Fund-name detection via
// the "fund" substring is knowingly lossy; trusts and portfolios without
// the word in their name yield no row unless metrics were found.
func buildFundMetadata(md *parser.Metadata, text string, tier model.Tier) *model.FundMetadata {
	fund := &model.FundMetadata{Raw: map[string]any{}}

	if md.CompanyName != "" && strings.Contains(strings.ToLower(md.CompanyName), "fund") {
		name := md.CompanyName
		fund.FundName = &name
	}

	var metrics map[string]string
	if tier == model.TierMinimal {
		metrics = KeyMetrics(text)
	} else {
		// Larger tiers get the same scan; table data supersedes downstream.
		metrics = KeyMetrics(head(text, minimalKeyMetricScan))
	}
	for name, value := range metrics {
		fund.Raw[name] = value
	}

	fund.NavPerShare = parseMoney(metrics["nav_per_share"])
	fund.TotalNetAssets = parseMoney(metrics["total_assets"])
	fund.ExpenseRatio = parsePercent(metrics["expense_ratio"])
	fund.SharesOutstanding = parseMoney(metrics["shares_outstanding"])
	if md.PeriodOfReport != nil {
		fund.PortfolioDate = md.PeriodOfReport
	}

	if fund.FundName == nil && len(metrics) == 0 {
		return nil
	}
	return fund
}

func parseMoney(v string) *float64 {
	if v == "" {
		return nil
	}
	cleaned := strings.ReplaceAll(strings.TrimPrefix(v, "$"), ",", "")
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parsePercent(v string) *float64 {
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
	if err != nil {
		return nil
	}
	return &f
}

func head(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
