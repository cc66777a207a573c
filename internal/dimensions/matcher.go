package dimensions

import (
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Kind identifies one dimension namespace in the ledger.
type Kind string

const (
	KindAccount       Kind = "Account"
	KindLocation      Kind = "Location"
	KindClass         Kind = "Class"
	KindVendor        Kind = "Vendor"
	KindPaymentMethod Kind = "Payment Method"
)

// Entry is one canonical ledger dimension: its display name (fully
// qualified for hierarchical kinds) and its ledger ID.
type Entry struct {
	Name string
	ID   string
}

// Sets is the per-client dimension mapping, built once per run from ledger
// queries and read-only afterwards.
type Sets map[Kind][]Entry

const (
	// FuzzyThreshold is the minimum normalized similarity for a fuzzy match.
	FuzzyThreshold = 0.80
	// TieMargin is the minimum lead the best fuzzy candidate must hold over
	// the runner-up; anything closer is ambiguous and resolves to nothing.
	TieMargin = 0.005
	// HierarchyDelimiter separates levels of a qualified dimension name.
	HierarchyDelimiter = ":"
)

// scoreEpsilon absorbs float64 representation error at the two boundaries.
const scoreEpsilon = 1e-9

// Method records how a name resolved.
type Method int

const (
	MethodExact Method = iota + 1
	MethodLeaf
	MethodFuzzy
)

func (m Method) String() string {
	switch m {
	case MethodExact:
		return "exact"
	case MethodLeaf:
		return "leaf"
	case MethodFuzzy:
		return "fuzzy"
	default:
		return "unresolved"
	}
}

// Match is a successful resolution.
type Match struct {
	ID     string
	Name   string // canonical ledger name
	Method Method
	Score  float64 // 1.0 for exact and leaf matches
}

// Matcher resolves free-text dimension names to ledger IDs. Safe for
// concurrent readers once built.
type Matcher struct {
	exact map[Kind]map[string]Entry
	leaf  map[Kind]map[string][]Entry
	names map[Kind][]scoredEntry
}

type scoredEntry struct {
	norm  string
	entry Entry
}

// NewMatcher indexes the given dimension sets.
func NewMatcher(sets Sets) *Matcher {
	m := &Matcher{
		exact: make(map[Kind]map[string]Entry),
		leaf:  make(map[Kind]map[string][]Entry),
		names: make(map[Kind][]scoredEntry),
	}
	for kind, entries := range sets {
		m.exact[kind] = make(map[string]Entry, len(entries))
		m.leaf[kind] = make(map[string][]Entry)
		for _, e := range entries {
			norm := normalize(kind, e.Name)
			if norm == "" {
				continue
			}
			if _, ok := m.exact[kind][norm]; !ok {
				m.exact[kind][norm] = e
			}
			lf := leafOf(norm)
			m.leaf[kind][lf] = append(m.leaf[kind][lf], e)
			m.names[kind] = append(m.names[kind], scoredEntry{norm: norm, entry: e})
		}
	}
	return m
}

// Resolve maps a free-text name to a ledger ID. Priority: exact match, then
// leaf match on the trailing hierarchy segment, then fuzzy similarity. An
// ambiguous leaf or fuzzy outcome resolves to nothing rather than guessing.
func (m *Matcher) Resolve(kind Kind, name string) (Match, bool) {
	norm := normalize(kind, name)
	if norm == "" {
		return Match{}, false
	}

	if e, ok := m.exact[kind][norm]; ok {
		return Match{ID: e.ID, Name: e.Name, Method: MethodExact, Score: 1}, true
	}

	if hits, ok := m.leaf[kind][leafOf(norm)]; ok && len(hits) > 0 {
		if id, unique := uniqueID(hits); unique {
			return Match{ID: id, Name: hits[0].Name, Method: MethodLeaf, Score: 1}, true
		}
		return Match{}, false
	}

	cands := make([]candidate, 0, len(m.names[kind]))
	for _, se := range m.names[kind] {
		cands = append(cands, candidate{
			entry: se.entry,
			score: similarity(norm, se.norm),
		})
	}
	best, ok := pickBest(cands)
	if !ok {
		return Match{}, false
	}
	return Match{ID: best.entry.ID, Name: best.entry.Name, Method: MethodFuzzy, Score: best.score}, true
}

type candidate struct {
	entry Entry
	score float64
}

// pickBest applies the threshold and tie rules to scored candidates:
// the winner must score at least FuzzyThreshold and must lead the best
// differently-identified runner-up by at least TieMargin.
func pickBest(cands []candidate) (candidate, bool) {
	// Collapse duplicate entries for the same ID to their best score so an
	// entity listed twice never ties with itself.
	bestByID := make(map[string]candidate)
	for _, c := range cands {
		if prev, ok := bestByID[c.entry.ID]; !ok || c.score > prev.score {
			bestByID[c.entry.ID] = c
		}
	}

	var best, second candidate
	for _, c := range bestByID {
		switch {
		case c.score > best.score:
			second = best
			best = c
		case c.score > second.score:
			second = c
		}
	}

	if best.entry.ID == "" || best.score+scoreEpsilon < FuzzyThreshold {
		return candidate{}, false
	}
	if second.entry.ID != "" && best.score-second.score+scoreEpsilon < TieMargin {
		return candidate{}, false
	}
	return best, true
}

// similarity is the normalized levenshtein score in [0, 1].
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	return 1 - float64(dist)/float64(maxLen)
}

// normalize lowercases and collapses whitespace. Location names additionally
// rewrite the legacy GRP token to GROUP, matching how the ledger names them.
func normalize(kind Kind, s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	fields := strings.Fields(s)
	if kind == KindLocation {
		for i, f := range fields {
			if f == "grp" {
				fields[i] = "group"
			}
		}
	}
	return strings.Join(fields, " ")
}

// leafOf returns the segment after the last hierarchy delimiter.
func leafOf(s string) string {
	if i := strings.LastIndex(s, HierarchyDelimiter); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

func uniqueID(entries []Entry) (string, bool) {
	id := entries[0].ID
	for _, e := range entries[1:] {
		if e.ID != id {
			return "", false
		}
	}
	return id, true
}
