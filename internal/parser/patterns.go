package parser

import (
	_ "embed"
	"regexp"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ncsr-ingest/internal/model"
)

//go:embed patterns.yaml
var patternsYAML []byte

// TablePattern is one prioritized table classification rule.
type TablePattern struct {
	Priority int
	Name     string
	Critical bool
	Patterns []*regexp.Regexp
}

// Ruleset holds the compiled classification rules shared by the parser and
// the tier extractors.
type Ruleset struct {
	SectionTypes     map[model.SectionType][]string
	TableCaptions    map[string][]string
	TableHeaders     map[string][]string
	CriticalTables   []TablePattern // sorted by priority ascending
	KeyMetrics       map[string]*regexp.Regexp
	CriticalSections map[string]*regexp.Regexp
}

type rawRuleset struct {
	SectionTypes map[string][]string `yaml:"section_types"`
	TableTypes   map[string]struct {
		Caption []string `yaml:"caption"`
		Headers []string `yaml:"headers"`
	} `yaml:"table_types"`
	CriticalTables []struct {
		Priority int      `yaml:"priority"`
		Name     string   `yaml:"name"`
		Critical bool     `yaml:"critical"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"critical_tables"`
	KeyMetrics       map[string]string `yaml:"key_metrics"`
	CriticalSections map[string]string `yaml:"critical_sections"`
}

var rules = mustLoadRules()

// Rules returns the embedded classification ruleset.
func Rules() *Ruleset { return rules }

func mustLoadRules() *Ruleset {
	rs, err := loadRules(patternsYAML)
	if err != nil {
		panic(err)
	}
	return rs
}

func loadRules(data []byte) (*Ruleset, error) {
	var raw rawRuleset
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "parser: parse patterns.yaml")
	}

	rs := &Ruleset{
		SectionTypes:     make(map[model.SectionType][]string, len(raw.SectionTypes)),
		TableCaptions:    make(map[string][]string, len(raw.TableTypes)),
		TableHeaders:     make(map[string][]string, len(raw.TableTypes)),
		KeyMetrics:       make(map[string]*regexp.Regexp, len(raw.KeyMetrics)),
		CriticalSections: make(map[string]*regexp.Regexp, len(raw.CriticalSections)),
	}
	for name, keywords := range raw.SectionTypes {
		rs.SectionTypes[model.SectionType(name)] = keywords
	}
	for name, tt := range raw.TableTypes {
		rs.TableCaptions[name] = tt.Caption
		rs.TableHeaders[name] = tt.Headers
	}
	for _, ct := range raw.CriticalTables {
		tp := TablePattern{Priority: ct.Priority, Name: ct.Name, Critical: ct.Critical}
		for _, p := range ct.Patterns {
			re, err := regexp.Compile("(?is)" + p)
			if err != nil {
				return nil, eris.Wrapf(err, "parser: table pattern %q", ct.Name)
			}
			tp.Patterns = append(tp.Patterns, re)
		}
		rs.CriticalTables = append(rs.CriticalTables, tp)
	}
	sort.Slice(rs.CriticalTables, func(i, j int) bool {
		return rs.CriticalTables[i].Priority < rs.CriticalTables[j].Priority
	})

	for name, p := range raw.KeyMetrics {
		re, err := regexp.Compile("(?is)" + p)
		if err != nil {
			return nil, eris.Wrapf(err, "parser: key metric %q", name)
		}
		rs.KeyMetrics[name] = re
	}
	for name, p := range raw.CriticalSections {
		re, err := regexp.Compile("(?is)" + p)
		if err != nil {
			return nil, eris.Wrapf(err, "parser: critical section %q", name)
		}
		rs.CriticalSections[name] = re
	}
	return rs, nil
}
