// Package fingerprint turns raw questions into cache keys.
//
// A Fingerprint carries two views of a question: Hash, an exact-match key over
// the normalized text, and Signature, a token set used to find near-duplicate
// questions when the exact key misses.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidQuestion is returned when a question normalizes to nothing.
var ErrInvalidQuestion = errors.New("invalid question")

// DefaultStopwords are dropped from signatures. "what" and "whats" are dropped
// so that "what is X" and "what's X" share a signature; the other question
// words change the meaning of a question and stay in.
var DefaultStopwords = []string{
	"a", "an", "and", "are", "can", "could", "do", "does", "for", "i", "in",
	"is", "it", "me", "my", "of", "on", "or", "our", "please", "the", "there", "to",
	"what", "whats", "will", "with", "would",
	"you", "your", "s", "re", "ll", "ve", "d", "m", "t",
}

// Fingerprint identifies a question for caching.
type Fingerprint struct {
	Normalized string
	Hash       string
	Signature  Signature
}

// Signature is the sorted, de-duplicated content-token set of a question.
type Signature struct {
	Tokens []string `json:"tokens"`
}

// Options configures normalization.
type Options struct {
	// Language is a BCP 47 tag driving case folding. Empty means "und".
	Language string
	// Stopwords replaces DefaultStopwords when non-empty.
	Stopwords []string
}

// Engine computes fingerprints. It is safe for concurrent use.
type Engine struct {
	lang      language.Tag
	stopwords map[string]struct{}
}

// New builds an Engine.
func New(opts Options) (*Engine, error) {
	tag := language.Und
	if opts.Language != "" {
		parsed, err := language.Parse(opts.Language)
		if err != nil {
			return nil, fmt.Errorf("invalid normalize language %q: %w", opts.Language, err)
		}
		tag = parsed
	}
	words := opts.Stopwords
	if len(words) == 0 {
		words = DefaultStopwords
	}
	stop := make(map[string]struct{}, len(words))
	for _, w := range words {
		stop[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return &Engine{lang: tag, stopwords: stop}, nil
}

// Fingerprint normalizes text and derives its hash and signature.
func (e *Engine) Fingerprint(text string) (Fingerprint, error) {
	normalized := e.Normalize(text)
	if normalized == "" {
		return Fingerprint{}, ErrInvalidQuestion
	}
	sum := sha256.Sum256([]byte(normalized))
	return Fingerprint{
		Normalized: normalized,
		Hash:       hex.EncodeToString(sum[:]),
		Signature:  e.signature(normalized),
	}, nil
}

// Normalize applies NFKC, case folding, whitespace collapsing and trailing
// punctuation stripping.
func (e *Engine) Normalize(text string) string {
	// cases.Caser keeps state and is not safe to share across goroutines.
	lower := cases.Lower(e.lang)
	s := lower.String(norm.NFKC.String(text))
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRightFunc(s, isTrailingNoise)
}

func isTrailingNoise(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '?', '!', '.', ',', ';', ':', '~', '…', '。', '？', '！', '，', '；', '：', '～', '、':
		return true
	}
	return false
}

func (e *Engine) signature(normalized string) Signature {
	seen := make(map[string]struct{})
	for _, tok := range tokenize(normalized) {
		if _, stop := e.stopwords[tok]; stop || isSingleLetter(tok) {
			continue
		}
		seen[tok] = struct{}{}
	}
	tokens := make([]string, 0, len(seen))
	for tok := range seen {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return Signature{Tokens: tokens}
}

// tokenize splits on anything that is not a letter or digit. Runs of CJK
// characters have no word breaks, so they become overlapping bigrams.
func tokenize(s string) []string {
	var out []string
	var word []rune
	var cjk []rune

	flushWord := func() {
		if len(word) > 0 {
			out = append(out, string(word))
			word = word[:0]
		}
	}
	flushCJK := func() {
		switch {
		case len(cjk) == 1:
			out = append(out, string(cjk))
		case len(cjk) > 1:
			for i := 0; i+1 < len(cjk); i++ {
				out = append(out, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range s {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return out
}

// isSingleLetter matches lone non-CJK letters such as contraction leftovers.
func isSingleLetter(tok string) bool {
	r, size := utf8.DecodeRuneInString(tok)
	return size == len(tok) && unicode.IsLetter(r) && !isCJK(r)
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// Similarity is the Jaccard index of two signatures, in [0, 1].
// Two empty signatures are not considered similar.
func Similarity(a, b Signature) float64 {
	if len(a.Tokens) == 0 || len(b.Tokens) == 0 {
		return 0
	}
	i, j, inter := 0, 0, 0
	for i < len(a.Tokens) && j < len(b.Tokens) {
		switch {
		case a.Tokens[i] == b.Tokens[j]:
			inter++
			i++
			j++
		case a.Tokens[i] < b.Tokens[j]:
			i++
		default:
			j++
		}
	}
	union := len(a.Tokens) + len(b.Tokens) - inter
	return float64(inter) / float64(union)
}
