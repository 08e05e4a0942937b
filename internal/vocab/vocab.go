// Package vocab corrects recognised text against a user vocabulary.
//
// Speech engines routinely mishear proper nouns and jargon. A [Corrector]
// scans the text with word windows and replaces a window by a vocabulary
// entry when the two sound alike or are spelled alike:
//
//  1. Phonetic match: the Double Metaphone codes of every window token
//     overlap with the codes of the entry token at the same position, and
//     the Jaro-Winkler similarity reaches the phonetic threshold (0.70).
//  2. Fuzzy match: without a phonetic match, the Jaro-Winkler similarity
//     must reach the fuzzy threshold (0.85).
//
// A window of several spoken tokens may also match a single-word entry
// ("kuber netes" → "Kubernetes") when the joined tokens sound like it.
// Longer windows win over shorter ones. Text without any correction is
// returned unchanged.
package vocab

import (
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minTokenLen is the shortest single token considered for correction.
	minTokenLen = 3
)

// Option configures a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matched entry. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for an entry that
// matched on spelling only. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// Correction is one substitution made by [Corrector.Apply].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
	Phonetic   bool
}

type entry struct {
	word   string
	tokens []string
	codes  []map[string]struct{}
	concat string
	whole  map[string]struct{}
}

// Corrector rewrites text towards a fixed vocabulary. It is read-only after
// construction and safe for concurrent use.
type Corrector struct {
	words             []string
	entries           []entry
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a corrector for words. Blank and duplicate words are ignored.
func New(words []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}

	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Join(strings.Fields(w), " ")
		key := strings.ToLower(w)
		if w == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		tokens := strings.Fields(key)
		e := entry{word: w, tokens: tokens, concat: strings.Join(tokens, "")}
		for _, t := range tokens {
			e.codes = append(e.codes, codes(t))
		}
		e.whole = codes(e.concat)
		c.words = append(c.words, w)
		c.entries = append(c.entries, e)
		c.maxWords = max(c.maxWords, len(tokens))
	}
	return c
}

// Words returns the vocabulary.
func (c *Corrector) Words() []string {
	return append([]string(nil), c.words...)
}

// Prompt returns the vocabulary as an engine prompt, or "" when empty.
func (c *Corrector) Prompt() string {
	return strings.Join(c.words, ", ")
}

// Correct returns text with every vocabulary match substituted.
func (c *Corrector) Correct(text string) string {
	out, _ := c.Apply(text)
	return out
}

// Apply corrects text and reports each substitution. When nothing matched,
// text is returned as is.
func (c *Corrector) Apply(text string) (string, []Correction) {
	if len(c.entries) == 0 {
		return text, nil
	}
	raw := strings.Fields(text)
	if len(raw) == 0 {
		return text, nil
	}
	toks := make([]token, len(raw))
	for i, r := range raw {
		toks[i] = split(r)
	}

	var (
		out         []string
		corrections []Correction
	)
	span := c.maxWords + 1
	for i := 0; i < len(toks); {
		n, e, score, phonetic := c.best(toks, i, span)
		if n == 0 {
			out = append(out, raw[i])
			i++
			continue
		}
		original := joinCores(toks[i : i+n])
		out = append(out, toks[i].lead+e.word+toks[i+n-1].trail)
		if original != e.word {
			corrections = append(corrections, Correction{
				Original:   original,
				Corrected:  e.word,
				Confidence: score,
				Phonetic:   phonetic,
			})
		}
		i += n
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// best finds the longest window starting at i that matches an entry.
func (c *Corrector) best(toks []token, i, span int) (n int, e *entry, score float64, phonetic bool) {
	for size := min(span, len(toks)-i); size >= 1; size-- {
		window := toks[i : i+size]
		if !joinable(window) {
			continue
		}
		var (
			bestEntry *entry
			bestScore float64
			bestPhon  bool
		)
		for k := range c.entries {
			cand := &c.entries[k]
			s, ph, ok := c.match(window, cand)
			if !ok {
				continue
			}
			// A phonetic match beats any spelling-only match.
			if bestEntry == nil || (ph && !bestPhon) || (ph == bestPhon && s > bestScore) {
				bestEntry, bestScore, bestPhon = cand, s, ph
			}
		}
		if bestEntry != nil {
			return size, bestEntry, bestScore, bestPhon
		}
	}
	return 0, nil, 0, false
}

// match compares a window with one entry.
func (c *Corrector) match(window []token, e *entry) (score float64, phonetic, ok bool) {
	switch {
	case len(window) == len(e.tokens):
		if len(window) == 1 && len(window[0].core) < minTokenLen {
			return 0, false, false
		}
		full := make([]string, len(window))
		phonetic = true
		for i, t := range window {
			full[i] = t.core
			s := matchr.JaroWinkler(t.core, e.tokens[i], false)
			if len(window) > 1 && s < c.phoneticThreshold {
				// Every word of a phrase must resemble its counterpart.
				return 0, false, false
			}
			if !overlap(codes(t.core), e.codes[i]) {
				phonetic = false
			}
		}
		score = matchr.JaroWinkler(strings.Join(full, " "), strings.Join(e.tokens, " "), false)

	case len(e.tokens) == 1 && len(window) > 1:
		concat := ""
		for _, t := range window {
			concat += t.core
		}
		score = matchr.JaroWinkler(concat, e.concat, false)
		// Joined words must sound like the entry and fit it better than
		// any of them alone, or a neighbouring word would be swallowed.
		if !overlap(codes(concat), e.whole) || score < c.fuzzyThreshold {
			return 0, false, false
		}
		for _, t := range window {
			if matchr.JaroWinkler(t.core, e.concat, false) >= score {
				return 0, false, false
			}
		}
		return score, true, true

	default:
		return 0, false, false
	}

	if phonetic {
		return score, true, score >= c.phoneticThreshold
	}
	return score, false, score >= c.fuzzyThreshold
}

// Live holds a [Corrector] that can be replaced while in use.
type Live struct {
	c atomic.Pointer[Corrector]
}

// NewLive returns a Live holding c.
func NewLive(c *Corrector) *Live {
	l := &Live{}
	l.c.Store(c)
	return l
}

// Replace swaps in c for subsequent calls.
func (l *Live) Replace(c *Corrector) { l.c.Store(c) }

// Correct delegates to the current corrector.
func (l *Live) Correct(text string) string {
	c := l.c.Load()
	if c == nil {
		return text
	}
	return c.Correct(text)
}

// Prompt delegates to the current corrector.
func (l *Live) Prompt() string {
	c := l.c.Load()
	if c == nil {
		return ""
	}
	return c.Prompt()
}

// token is a word split into surrounding punctuation and a lower-cased core.
type token struct {
	lead, trail string
	core        string
	orig        string
}

func split(word string) token {
	start := strings.IndexFunc(word, isWordRune)
	if start < 0 {
		return token{lead: word, orig: word}
	}
	end := strings.LastIndexFunc(word, isWordRune)
	_, size := utf8.DecodeRuneInString(word[end:])
	end += size
	return token{
		lead:  word[:start],
		trail: word[end:],
		core:  strings.ToLower(word[start:end]),
		orig:  word[start:end],
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-'
}

// joinable reports whether the tokens form one phrase: every token has a
// core and only the outer tokens carry punctuation.
func joinable(window []token) bool {
	for i, t := range window {
		if t.core == "" {
			return false
		}
		if i > 0 && t.lead != "" {
			return false
		}
		if i < len(window)-1 && t.trail != "" {
			return false
		}
	}
	return true
}

func joinCores(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.orig
	}
	return strings.Join(parts, " ")
}

// codes returns the Double Metaphone codes of word, skipping empty ones.
func codes(word string) map[string]struct{} {
	set := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		set[p] = struct{}{}
	}
	if s != "" {
		set[s] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
