// Package wakeword detects the assistant's wake phrase inside recognised
// speech and splits off the command that follows it.
//
// Matching is a case-insensitive substring search over a list of accepted
// variants, tried in list order. The first variant found anywhere in the
// text decides where the command starts. An optional phonetic fallback
// accepts misrecognised forms of the assistant's name (such as "jarviz")
// that no variant lists.
package wakeword

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// DefaultVariants are the accepted wake phrases, including common
// misrecognitions of "jarvis" by pt-BR and en recognisers. The bare name is
// listed first so that "hey jarvis abre" yields the command "abre".
var DefaultVariants = []string{
	"jarvis",
	"jarvice",
	"jarves",
	"hey jarvis",
	"ei jarvis",
	"oi jarvis",
	"ok jarvis",
	"ô jarvis",
	"o jarvis",
}

const defaultPhoneticThreshold = 0.80

// Option configures a [Matcher].
type Option func(*Matcher)

// WithVariants replaces the accepted variants. Empty entries are ignored.
func WithVariants(variants ...string) Option {
	return func(m *Matcher) {
		m.variants = m.variants[:0]
		for _, v := range variants {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				m.variants = append(m.variants, v)
			}
		}
	}
}

// WithPhonetic enables the phonetic fallback for single words that sound like
// name. A word matches when it shares a Double Metaphone code with name and
// its Jaro-Winkler similarity is at least threshold; threshold <= 0 selects
// the default of 0.80.
func WithPhonetic(name string, threshold float64) Option {
	return func(m *Matcher) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return
		}
		if threshold <= 0 {
			threshold = defaultPhoneticThreshold
		}
		p, s := matchr.DoubleMetaphone(name)
		m.phonetic = &phoneticName{name: name, primary: p, secondary: s, threshold: threshold}
	}
}

type phoneticName struct {
	name               string
	primary, secondary string
	threshold          float64
}

// Matcher finds wake phrases. It is read-only after construction and safe
// for concurrent use.
type Matcher struct {
	variants []string
	phonetic *phoneticName
}

// New returns a Matcher using [DefaultVariants] unless overridden.
func New(opts ...Option) *Matcher {
	m := &Matcher{variants: append([]string(nil), DefaultVariants...)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Variants returns a copy of the accepted variants in match order.
func (m *Matcher) Variants() []string {
	return append([]string(nil), m.variants...)
}

// Match describes a wake phrase found in a text.
type Match struct {
	// Phrase is the variant (or phonetically matched word) that was found.
	Phrase string

	// Start and End are byte offsets into the original text.
	Start, End int
}

// Find returns the first wake phrase in text.
func (m *Matcher) Find(text string) (Match, bool) {
	for _, v := range m.variants {
		if start, end, ok := indexFold(text, v); ok {
			return Match{Phrase: v, Start: start, End: end}, true
		}
	}
	if m.phonetic != nil {
		return m.findPhonetic(text)
	}
	return Match{}, false
}

// Contains reports whether text contains a wake phrase.
func (m *Matcher) Contains(text string) bool {
	_, ok := m.Find(text)
	return ok
}

// Extract returns the trimmed text following the first wake phrase. ok is
// false when text has no wake phrase; remainder may be empty when the wake
// phrase ends the text. The remainder keeps the original casing.
func (m *Matcher) Extract(text string) (remainder string, ok bool) {
	match, ok := m.Find(text)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(text[match.End:]), true
}

// StripLeading removes a wake phrase that starts text, returning the trimmed
// rest. The longest leading variant wins so that "hey jarvis" is removed as a
// whole. A variant only counts when it ends at a word boundary. ok is false
// when text does not start with a wake phrase.
func (m *Matcher) StripLeading(text string) (rest string, ok bool) {
	trimmed := strings.TrimSpace(text)
	best := -1
	for _, v := range m.variants {
		end, found := prefixFold(trimmed, v)
		if !found || end <= best {
			continue
		}
		if r, _ := utf8.DecodeRuneInString(trimmed[end:]); end < len(trimmed) && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		best = end
	}
	if best < 0 {
		return text, false
	}
	return strings.TrimSpace(trimmed[best:]), true
}

func (m *Matcher) findPhonetic(text string) (Match, bool) {
	pn := m.phonetic
	offset := 0
	for _, field := range strings.FieldsFunc(text, isSeparator) {
		idx := strings.Index(text[offset:], field)
		start := offset + idx
		end := start + len(field)
		offset = end

		word := strings.ToLower(field)
		p, s := matchr.DoubleMetaphone(word)
		if !codesOverlap(p, s, pn.primary, pn.secondary) {
			continue
		}
		if matchr.JaroWinkler(word, pn.name, false) >= pn.threshold {
			return Match{Phrase: word, Start: start, End: end}, true
		}
	}
	return Match{}, false
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}

func codesOverlap(p1, s1, p2, s2 string) bool {
	for _, a := range []string{p1, s1} {
		if a == "" {
			continue
		}
		if a == p2 || a == s2 {
			return true
		}
	}
	return false
}

// indexFold finds the first occurrence of the lower-case needle in s,
// comparing rune-wise under unicode.ToLower so that byte offsets refer to s
// itself.
func indexFold(s, needle string) (start, end int, ok bool) {
	if needle == "" {
		return 0, 0, false
	}
	for i := 0; i < len(s); {
		if e, ok := prefixFold(s[i:], needle); ok {
			return i, i + e, true
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return 0, 0, false
}

func prefixFold(s, needle string) (int, bool) {
	i := 0
	for _, nr := range needle {
		if i >= len(s) {
			return 0, false
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if unicode.ToLower(r) != nr {
			return 0, false
		}
		i += size
	}
	return i, true
}
