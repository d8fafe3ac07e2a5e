package suppliers

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/facturaIA/invoice-scanner/internal/models"
)

// MatchType tells which tier produced a match
type MatchType string

const (
	MatchTransliteration MatchType = "transliteration"
	MatchExact           MatchType = "exact"
	MatchPartial         MatchType = "partial"
	MatchFuzzy           MatchType = "fuzzy"
	MatchSupplierName    MatchType = "supplier_name"
	MatchKeyword         MatchType = "keyword"
)

// Match is the outcome of a registry lookup. Supplier is empty for keyword hits.
type Match struct {
	Matched    bool
	Supplier   string
	Category   models.SupplierCategory
	Confidence int
	Type       MatchType
}

const (
	confidenceAlias    = 95
	confidenceExact    = 95
	confidencePartial  = 90
	confidenceSupplier = 90
	confidenceKeyword  = 85
)

// quote marks (ASCII, Hebrew geresh/gershayim, typographic) and parentheses
const strippedRunes = "\"'`״׳“”„‘’()"

var legalSuffixes = map[string]bool{
	"בעמ":  true,
	"ltd":  true,
	"inc":  true,
	"llc":  true,
	"co":   true,
	"corp": true,
}

// Normalize lower-cases text, strips quotes and parentheses, drops
// legal-entity suffix tokens and collapses whitespace.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	lower := cases.Lower(language.Und).String(text)
	stripped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(strippedRunes, r) {
			return -1
		}
		return r
	}, lower)

	tokens := strings.Fields(stripped)
	for {
		next := dropLegalTokens(tokens)
		if len(next) == len(tokens) {
			break
		}
		tokens = next
	}
	return strings.Join(tokens, " ")
}

func dropLegalTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		tok := strings.TrimRight(tokens[i], ".,")
		if legalSuffixes[tok] {
			continue
		}
		// "בע מ" is the spaced spelling of the Hebrew Ltd. abbreviation
		if tok == "בע" && i+1 < len(tokens) && strings.TrimRight(tokens[i+1], ".,") == "מ" {
			i++
			continue
		}
		out = append(out, tokens[i])
	}
	return out
}

// LevenshteinDistance is the unit-cost edit distance between a and b, counted in runes.
func LevenshteinDistance(a, b string) int {
	return levenshtein.Distance(a, b, nil)
}

// Similarity is (maxLen - distance) / maxLen, and 1 when both strings are empty.
func Similarity(a, b string) float64 {
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1.0
	}
	return float64(maxLen-LevenshteinDistance(a, b)) / float64(maxLen)
}

type priorityEntry struct {
	name    string
	norm    string
	aliases []string
}

type categoryEntry struct {
	key       models.SupplierCategory
	suppliers []priorityEntry
	keywords  []string
}

// Matcher resolves free-text supplier names against a Registry.
// It holds no mutable state and is safe for concurrent use.
type Matcher struct {
	registry   *Registry
	config     models.MatchConfig
	priority   []priorityEntry
	categories []categoryEntry
}

func NewMatcher(registry *Registry, config models.MatchConfig) *Matcher {
	m := &Matcher{registry: registry, config: config}

	for _, p := range registry.Priority {
		entry := priorityEntry{name: p.Name, norm: Normalize(p.Name)}
		for _, alias := range p.Aliases {
			entry.aliases = append(entry.aliases, Normalize(alias))
		}
		m.priority = append(m.priority, entry)
	}

	for _, c := range registry.Categories {
		entry := categoryEntry{key: c.Key}
		for _, s := range c.Suppliers {
			entry.suppliers = append(entry.suppliers, priorityEntry{name: s, norm: Normalize(s)})
		}
		for _, k := range c.Keywords {
			if n := Normalize(k); n != "" {
				entry.keywords = append(entry.keywords, n)
			}
		}
		m.categories = append(m.categories, entry)
	}
	return m
}

func (m *Matcher) Registry() *Registry {
	return m.registry
}

// FindPriorityMatch looks text up in the priority list using the configured fuzzy threshold.
func (m *Matcher) FindPriorityMatch(text string) Match {
	return m.FindPriorityMatchAbove(text, m.config.FuzzyThreshold)
}

// FindPriorityMatchAbove tries alias, exact, partial and fuzzy matching in
// that order and stops at the first tier that hits. The fuzzy tier accepts
// the most similar name whose similarity exceeds threshold.
func (m *Matcher) FindPriorityMatchAbove(text string, threshold float64) Match {
	norm := Normalize(text)
	if norm == "" {
		return Match{}
	}

	for _, p := range m.priority {
		for _, alias := range p.aliases {
			if strings.Contains(norm, alias) {
				return m.priorityMatch(p, confidenceAlias, MatchTransliteration)
			}
		}
	}

	for _, p := range m.priority {
		if norm == p.norm {
			return m.priorityMatch(p, confidenceExact, MatchExact)
		}
	}

	reverseOK := utf8.RuneCountInString(norm) >= m.config.MinPartialLength
	for _, p := range m.priority {
		if strings.Contains(norm, p.norm) || (reverseOK && strings.Contains(p.norm, norm)) {
			return m.priorityMatch(p, confidencePartial, MatchPartial)
		}
	}

	best := -1
	bestScore := 0.0
	for i, p := range m.priority {
		score := Similarity(norm, p.norm)
		if score > threshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 {
		return m.priorityMatch(m.priority[best], int(math.Round(bestScore*100)), MatchFuzzy)
	}
	return Match{}
}

func (m *Matcher) priorityMatch(p priorityEntry, confidence int, t MatchType) Match {
	return Match{
		Matched:    true,
		Supplier:   p.name,
		Category:   models.CategoryPriority,
		Confidence: confidence,
		Type:       t,
	}
}

// FindCategoryMatch scans categories in declaration order, supplier names
// before keywords. The first hit wins.
func (m *Matcher) FindCategoryMatch(text string) Match {
	norm := Normalize(text)
	if norm == "" {
		return Match{}
	}

	for _, c := range m.categories {
		for _, s := range c.suppliers {
			if s.norm != "" && strings.Contains(norm, s.norm) {
				return Match{
					Matched:    true,
					Supplier:   s.name,
					Category:   c.key,
					Confidence: confidenceSupplier,
					Type:       MatchSupplierName,
				}
			}
		}
		for _, k := range c.keywords {
			if strings.Contains(norm, k) {
				return Match{
					Matched:    true,
					Category:   c.key,
					Confidence: confidenceKeyword,
					Type:       MatchKeyword,
				}
			}
		}
	}
	return Match{}
}
