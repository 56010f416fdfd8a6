// Package discovery lists filings from the SEC daily master indexes.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ncsr-ingest/internal/fetcher"
	"github.com/sells-group/ncsr-ingest/internal/model"
)

// masterIndexHeaderLines is the fixed header of a master.idx file: banner,
// field names, and separator, before the first data row.
const masterIndexHeaderLines = 11

// masterIndexLine matches one pipe-delimited index row:
// CIK|Company Name|Form Type|Date Filed|edgar/data/...
var masterIndexLine = regexp.MustCompile(
	`^(\d+)\|(.+?)\|([-A-Z0-9/ ]+?)\|(\d{4}-\d{2}-\d{2})\|edgar/data/(.*)$`,
)

// Source discovers filing descriptors from EDGAR daily indexes.
type Source struct {
	fetcher fetcher.Fetcher
	baseURL string
	log     *zap.Logger
}

// NewSource creates a discovery source over the given fetcher.
func NewSource(f fetcher.Fetcher, baseURL string) *Source {
	return &Source{
		fetcher: f,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     zap.L().With(zap.String("component", "discovery")),
	}
}

// IndexURL builds the master index URL for a date.
func (s *Source) IndexURL(date time.Time) string {
	quarter := (int(date.Month())-1)/3 + 1
	return fmt.Sprintf("%s/Archives/edgar/daily-index/%d/QTR%d/master.%s.idx",
		s.baseURL, date.Year(), quarter, date.Format("20060102"))
}

// FilingsFor returns descriptors for all filings on the given date whose
// form type is in formTypes (all filings when empty). A missing index (404)
// means no filings that day and returns an empty list, not an error.
func (s *Source) FilingsFor(ctx context.Context, date time.Time, formTypes []string) ([]model.Descriptor, error) {
	url := s.IndexURL(date)
	s.log.Info("downloading master index", zap.String("url", url))

	body, err := s.fetcher.Get(ctx, url)
	if err != nil {
		if errors.Is(err, fetcher.ErrNotFound) {
			s.log.Info("no master index for date", zap.String("date", date.Format("2006-01-02")))
			return nil, nil
		}
		return nil, eris.Wrapf(err, "discovery: fetch master index for %s", date.Format("2006-01-02"))
	}

	descriptors := parseMasterIndex(string(body), formTypes)
	s.log.Info("master index parsed",
		zap.String("date", date.Format("2006-01-02")),
		zap.Int("filings", len(descriptors)),
		zap.Strings("form_types", formTypes),
	)
	return descriptors, nil
}

func parseMasterIndex(content string, formTypes []string) []model.Descriptor {
	wanted := make(map[string]bool, len(formTypes))
	for _, ft := range formTypes {
		wanted[strings.TrimSpace(ft)] = true
	}

	lines := strings.Split(content, "\n")
	if len(lines) > masterIndexHeaderLines {
		lines = lines[masterIndexHeaderLines:]
	} else {
		lines = nil
	}

	var descriptors []model.Descriptor
	for _, line := range lines {
		m := masterIndexLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}

		formType := strings.TrimSpace(m[3])
		if len(wanted) > 0 && !wanted[formType] {
			continue
		}

		filed, err := time.Parse("2006-01-02", m[4])
		if err != nil {
			continue
		}

		// edgar/data/CIK/ACCESSION-NUMBER.txt -> ACCESSION-NUMBER
		path := m[5]
		segment := path[strings.LastIndex(path, "/")+1:]
		accession := strings.TrimSuffix(segment, ".txt")
		if accession == "" {
			continue
		}

		descriptors = append(descriptors, model.Descriptor{
			AccessionNumber: accession,
			CIK:             m[1],
			CompanyName:     strings.TrimSpace(m[2]),
			FormType:        formType,
			FilingDate:      filed,
		})
	}
	return descriptors
}
