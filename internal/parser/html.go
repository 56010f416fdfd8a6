package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ncsr-ingest/internal/model"
)

// HTMLResult carries the narrative sections and tables pulled from a
// filing's HTML body.
type HTMLResult struct {
	Sections []model.Section
	Tables   []model.Table
}

// HTMLOptions bounds how much DOM work the extractor performs. Zero values
// mean unbounded.
type HTMLOptions struct {
	MaxTables    int
	MaxTableHTML int // skip tables whose serialized HTML exceeds this many bytes
	SkipTables   bool
}

var headerRank = map[string]int{"h1": 1, "h2": 2, "h3": 3, "h4": 4}

// ParseHTML extracts sections and tables from an HTML document body.
func ParseHTML(body string, opts HTMLOptions) (*HTMLResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "parser: build html document")
	}

	res := &HTMLResult{Sections: extractSections(doc)}
	if !opts.SkipTables {
		res.Tables = extractTables(doc, opts)
	}
	return res, nil
}

// extractSections walks h1..h4 headers in document order. Each header opens
// a section whose text is the following siblings up to the next header of
// equal or higher rank.
func extractSections(doc *goquery.Document) []model.Section {
	var sections []model.Section
	doc.Find("h1, h2, h3, h4").Each(func(_ int, header *goquery.Selection) {
		name := strings.TrimSpace(header.Text())
		if name == "" {
			return
		}
		rank := headerRank[goquery.NodeName(header)]

		var sb strings.Builder
		header.NextAll().EachWithBreak(func(_ int, sib *goquery.Selection) bool {
			if r, isHeader := headerRank[goquery.NodeName(sib)]; isHeader && r <= rank {
				return false
			}
			text := strings.TrimSpace(sib.Text())
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte('\n')
				}
				sb.WriteString(text)
			}
			return true
		})

		text := sb.String()
		if text == "" {
			return
		}
		sections = append(sections, model.Section{
			Name:      name,
			Type:      ClassifySection(name),
			TextClean: text,
			WordCount: len(strings.Fields(text)),
		})
	})
	return sections
}

// ClassifySection maps a section heading to a type tag via keyword match.
func ClassifySection(name string) model.SectionType {
	lower := strings.ToLower(name)
	for _, st := range []model.SectionType{
		model.SectionPortfolio, model.SectionPerformance, model.SectionExpenses,
		model.SectionRiskFactors, model.SectionFinancials,
	} {
		for _, kw := range rules.SectionTypes[st] {
			if strings.Contains(lower, kw) {
				return st
			}
		}
	}
	return model.SectionOther
}

func extractTables(doc *goquery.Document, opts HTMLOptions) []model.Table {
	var tables []model.Table
	doc.Find("table").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if opts.MaxTables > 0 && len(tables) >= opts.MaxTables {
			return false
		}

		html, err := goquery.OuterHtml(sel)
		if err != nil {
			return true
		}
		if opts.MaxTableHTML > 0 && len(html) > opts.MaxTableHTML {
			return true
		}

		grid := tableGrid(sel)
		if len(grid) == 0 {
			return true
		}

		table := model.Table{
			Caption:  tableCaption(sel),
			HTML:     html,
			RowCount: len(grid),
			ColCount: maxCols(grid),
		}
		table.TableType = classifyTable(table.Caption, grid[0])
		table.Rows = longFormRows(grid)
		tables = append(tables, table)
		return true
	})
	return tables
}

// tableCaption prefers an explicit <caption>, then the nearest preceding
// header or paragraph.
func tableCaption(sel *goquery.Selection) string {
	if c := strings.TrimSpace(sel.Find("caption").First().Text()); c != "" {
		return c
	}
	prev := sel.PrevAll().Filter("h1, h2, h3, h4, h5, h6, p, b, strong").First()
	return strings.TrimSpace(prev.Text())
}

func tableGrid(sel *goquery.Selection) [][]string {
	var grid [][]string
	sel.Find("tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.Join(strings.Fields(cell.Text()), " "))
		})
		if len(cells) > 0 {
			grid = append(grid, cells)
		}
	})
	return grid
}

func maxCols(grid [][]string) int {
	max := 0
	for _, row := range grid {
		if len(row) > max {
			max = len(row)
		}
	}
	return max
}

// classifyTable tags a table by caption keywords, then by header-row
// keywords when the caption is inconclusive.
func classifyTable(caption string, headerRow []string) string {
	lowerCaption := strings.ToLower(caption)
	for _, name := range []string{"portfolio_holdings", "performance_data", "financial_summary"} {
		for _, kw := range rules.TableCaptions[name] {
			if strings.Contains(lowerCaption, kw) {
				return name
			}
		}
	}
	header := strings.ToLower(strings.Join(headerRow, " "))
	for _, name := range []string{"portfolio_holdings", "performance_data", "financial_summary"} {
		for _, kw := range rules.TableHeaders[name] {
			if kw != "" && strings.Contains(header, kw) {
				return name
			}
		}
	}
	return "unclassified"
}

// ClassifyTableByPattern runs the prioritized critical-table regexes over
// the caption plus table text. maxPriority bounds which patterns are
// scanned; zero scans all of them. Returns the pattern name or "".
func ClassifyTableByPattern(caption, text string, maxPriority int) string {
	haystack := caption + " " + text
	for _, tp := range rules.CriticalTables {
		if maxPriority > 0 && tp.Priority > maxPriority {
			break
		}
		for _, re := range tp.Patterns {
			if re.MatchString(haystack) {
				return tp.Name
			}
		}
	}
	return ""
}

// longFormRows normalizes the data rows (everything after the header row)
// into one scalar record per non-empty cell. Column names come from the
// header row when present.
func longFormRows(grid [][]string) []model.TableRow {
	if len(grid) < 2 {
		return nil
	}
	header := grid[0]

	var rows []model.TableRow
	for i, dataRow := range grid[1:] {
		for j, cell := range dataRow {
			if strings.TrimSpace(cell) == "" {
				continue
			}
			colName := ""
			if j < len(header) {
				colName = strings.TrimSpace(header[j])
			}
			if colName == "" {
				colName = "col_" + strconv.Itoa(j)
			}
			value := cell
			row := model.TableRow{
				RowIndex: i,
				ColName:  colName,
				ColType:  InferCellType(cell),
			}
			if row.ColType != model.ColNull {
				row.ColValue = &value
			}
			rows = append(rows, row)
		}
	}
	return rows
}

var (
	percentRe  = regexp.MustCompile(`^\(?-?[\d,]+\.?\d*\s*%\)?$`)
	currencyRe = regexp.MustCompile(`^\(?[-$€£]\s?[\d,]+\.?\d*\)?$|^\$`)
	numberRe   = regexp.MustCompile(`^\(?-?[\d,]+\.?\d*\)?$`)
	dateRe     = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}$|^[A-Z][a-z]+ \d{1,2},? \d{4}$`)
	nullRe     = regexp.MustCompile(`^(?i:-+|n/a|none|nil)$`)
)

// InferCellType assigns a scalar type to a normalized cell value.
func InferCellType(value string) model.ColType {
	v := strings.TrimSpace(value)
	switch {
	case v == "" || nullRe.MatchString(v):
		return model.ColNull
	case percentRe.MatchString(v):
		return model.ColPercentage
	case currencyRe.MatchString(v):
		return model.ColCurrency
	case dateRe.MatchString(v):
		return model.ColDate
	case numberRe.MatchString(v):
		return model.ColNumber
	default:
		return model.ColText
	}
}
