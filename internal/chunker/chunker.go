// Package chunker splits text into overlapping, token-bounded passages.
//
// A token is a whitespace-delimited word. Counting is approximate by design
// of the embedding models it feeds; only monotonic size control matters.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/ragmcp/internal/domain"
)

// Default limits, in tokens.
const (
	DefaultMaxTokensPerLine      = 128
	DefaultMaxTokensPerParagraph = 512
	DefaultOverlapTokens         = 50
)

// Options bounds line and paragraph sizes.
type Options struct {
	MaxTokensPerLine      int
	MaxTokensPerParagraph int
	OverlapTokens         int
}

// DefaultOptions returns 128 / 512 / 50.
func DefaultOptions() Options {
	return Options{
		MaxTokensPerLine:      DefaultMaxTokensPerLine,
		MaxTokensPerParagraph: DefaultMaxTokensPerParagraph,
		OverlapTokens:         DefaultOverlapTokens,
	}
}

// normalize clamps options into a usable range.
func (o Options) normalize() Options {
	if o.MaxTokensPerParagraph <= 0 {
		o.MaxTokensPerParagraph = DefaultMaxTokensPerParagraph
	}
	if o.MaxTokensPerLine <= 0 || o.MaxTokensPerLine > o.MaxTokensPerParagraph {
		o.MaxTokensPerLine = min(DefaultMaxTokensPerLine, o.MaxTokensPerParagraph)
	}
	if o.OverlapTokens < 0 {
		o.OverlapTokens = 0
	}
	if o.OverlapTokens >= o.MaxTokensPerParagraph {
		o.OverlapTokens = o.MaxTokensPerParagraph - 1
	}
	return o
}

// Splitter applies fixed Options to any number of texts.
type Splitter struct {
	opts Options
}

// New creates a Splitter.
func New(opts Options) *Splitter {
	return &Splitter{opts: opts.normalize()}
}

// Options returns the effective (normalized) options.
func (s *Splitter) Options() Options { return s.opts }

// Split returns the paragraphs of text. Empty or whitespace-only text yields none.
func (s *Splitter) Split(text string) []string {
	return Split(text, s.opts)
}

// Chunks splits text and tags every paragraph with sourcePath.
func (s *Splitter) Chunks(text, sourcePath string) []domain.Chunk {
	paragraphs := s.Split(text)
	chunks := make([]domain.Chunk, len(paragraphs))
	for i, p := range paragraphs {
		chunks[i] = domain.Chunk{Text: p, SourcePath: sourcePath}
	}
	return chunks
}

// Validate reports domain.ErrUnsupportedContent for binary input:
// embedded NUL bytes or invalid UTF-8.
func Validate(text string) error {
	if i := strings.IndexByte(text, 0); i >= 0 {
		return fmt.Errorf("null byte at offset %d: %w", i, domain.ErrUnsupportedContent)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("invalid utf-8: %w", domain.ErrUnsupportedContent)
	}
	return nil
}

// Split runs both passes: lines bounded by MaxTokensPerLine, then paragraphs
// bounded by MaxTokensPerParagraph with OverlapTokens carried forward.
func Split(text string, opts Options) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	opts = opts.normalize()
	lines := SplitLines(text, opts.MaxTokensPerLine)
	return SplitParagraphs(lines, opts.MaxTokensPerParagraph, opts.OverlapTokens)
}

// SplitLines breaks text on newlines and splits every line longer than
// maxTokens, preferring sentence ends and falling back to hard word cuts.
// Blank lines are dropped.
func SplitLines(text string, maxTokens int) []string {
	var out []string
	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		tokens := strings.Fields(raw)
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) <= maxTokens {
			out = append(out, strings.Join(tokens, " "))
			continue
		}
		for _, piece := range packSentences(sentences(tokens), maxTokens) {
			out = append(out, strings.Join(piece, " "))
		}
	}
	return out
}

// SplitParagraphs greedily packs lines into paragraphs of at most maxTokens.
// Each paragraph after the first starts with the last overlap tokens of its
// predecessor; the carried overlap shrinks only when the incoming line would
// otherwise push the paragraph past maxTokens.
func SplitParagraphs(lines []string, maxTokens, overlap int) []string {
	var paragraphs []string
	var current []string
	fresh := 0 // tokens in current that were not carried over

	for _, line := range lines {
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		if fresh > 0 && len(current)+len(tokens) > maxTokens {
			paragraphs = append(paragraphs, strings.Join(current, " "))
			current = carry(current, overlap, maxTokens-len(tokens))
			fresh = 0
		}
		current = append(current, tokens...)
		fresh += len(tokens)
	}
	if fresh > 0 {
		paragraphs = append(paragraphs, strings.Join(current, " "))
	}
	return paragraphs
}

// carry returns a copy of the last min(overlap, room) tokens.
func carry(tokens []string, overlap, room int) []string {
	n := min(overlap, room, len(tokens))
	if n <= 0 {
		return nil
	}
	out := make([]string, n)
	copy(out, tokens[len(tokens)-n:])
	return out
}

// sentences groups tokens into sentences ending at . ! ? ; or :
func sentences(tokens []string) [][]string {
	var out [][]string
	start := 0
	for i, tok := range tokens {
		if strings.ContainsAny(tok[len(tok)-1:], ".!?;:") {
			out = append(out, tokens[start:i+1])
			start = i + 1
		}
	}
	if start < len(tokens) {
		out = append(out, tokens[start:])
	}
	return out
}

// packSentences fills pieces of at most maxTokens with whole sentences,
// cutting a sentence only when it alone exceeds maxTokens.
func packSentences(sents [][]string, maxTokens int) [][]string {
	var pieces [][]string
	var cur []string
	for _, s := range sents {
		if len(cur) > 0 && len(cur)+len(s) > maxTokens {
			pieces = append(pieces, cur)
			cur = nil
		}
		for len(s) > maxTokens {
			if len(cur) > 0 {
				pieces = append(pieces, cur)
				cur = nil
			}
			pieces = append(pieces, s[:maxTokens])
			s = s[maxTokens:]
		}
		cur = append(cur, s...)
	}
	if len(cur) > 0 {
		pieces = append(pieces, cur)
	}
	return pieces
}
