// Package search provides a simple, deterministic, concurrency-safe in-memory
// search index built from a thought's message history. It is intentionally
// small and dependency-free, but engineered with production-grade ergonomics:
//
//   - No logging in the library (callers decide how/what to log)
//   - Clear, documented types and functional options (Option pattern)
//   - Unicode-aware tokenization with optional stop-word removal
//   - Immutable, read-only index after construction (safe for concurrent use)
//   - Deterministic scoring and sorting (stable order for ties)
//   - Sensible defaults (empty-message filtering, result caps)
//
// Scoring uses Jaccard similarity between the query token set and each
// message's token set: score = |Q ∩ M| / |Q ∪ M|.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/thoughtsync/thoughtsync/internal/domain"
)

// Result is a ranked message with its similarity score.
type Result struct {
	MessageID string
	Snippet   string
	CreatedAt int64
	Score     float64
}

// Index is the minimal interface implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Result
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	minMessageRunes int
	stopwords       map[string]struct{}
	maxDocs         int
}

func defaultConfig() config {
	return config{
		minMessageRunes: 1,
		stopwords:       nil,
		maxDocs:         0,
	}
}

func WithMinMessageRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minMessageRunes = n
		}
	}
}

func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type doc struct {
	id        string
	text      string
	createdAt int64
	tokens    map[string]struct{}
	tLen      int
}

type index struct {
	cfg  config
	docs []doc
}

// NewIndexFromMessages builds an Index over the given messages. Messages with
// no indexable tokens (empty, whitespace, or pure punctuation) are skipped.
func NewIndexFromMessages(msgs []domain.Message, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	docs := make([]doc, 0, len(msgs))
	for _, m := range msgs {
		t := strings.TrimSpace(normalizeWhitespace(m.Content))
		if t == "" {
			continue
		}
		if cfg.minMessageRunes > 0 && utf8.RuneCountInString(t) < cfg.minMessageRunes {
			continue
		}
		toks := tokenize(t, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		docs = append(docs, doc{
			id:        m.ID,
			text:      t,
			createdAt: m.CreatedAt,
			tokens:    toks,
			tLen:      len(toks),
		})
		if cfg.maxDocs > 0 && len(docs) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: docs}
}

// TopK returns up to k best-matching messages by Jaccard similarity.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 {
		return nil
	}
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	type scored struct {
		doc      doc
		score    float64
		lenRunes int
	}

	buf := make([]scored, 0, min(k*4, len(i.docs)))
	for _, d := range i.docs {
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + d.tLen - over)
		if union <= 0 {
			continue
		}
		score := float64(over) / union
		if score <= 0 {
			continue
		}
		buf = append(buf, scored{
			doc:      d,
			score:    score,
			lenRunes: utf8.RuneCountInString(d.text),
		})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].doc.createdAt != buf[b].doc.createdAt {
			return buf[a].doc.createdAt > buf[b].doc.createdAt
		}
		if buf[a].lenRunes != buf[b].lenRunes {
			return buf[a].lenRunes < buf[b].lenRunes
		}
		return buf[a].doc.id < buf[b].doc.id
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for i := 0; i < k; i++ {
		out[i] = Result{
			MessageID: buf[i].doc.id,
			Snippet:   buf[i].doc.text,
			CreatedAt: buf[i].doc.createdAt,
			Score:     buf[i].score,
		}
	}
	return out
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
