package chunker

import (
	"strings"
)

// Options controls how text is chunked.
type Options struct {
	MaxTokens int
	Overlap   int
}

// Chunk represents a slice of the document text.
type Chunk struct {
	Index      int
	Text       string
	TokenCount int
}

// ChunkText packs whole paragraphs (blank-line separated) into chunks of at
// most MaxTokens words. A paragraph longer than MaxTokens is split with a
// sliding window that repeats Overlap words between consecutive chunks.
// Tokens are approximated by whitespace-delimited words.
func ChunkText(text string, opts Options) []Chunk {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 400
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.MaxTokens {
		opts.Overlap = 0
	}

	var (
		chunks  []Chunk
		pending []string
	)
	emit := func(words []string) {
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       strings.Join(words, " "),
			TokenCount: len(words),
		})
	}
	flush := func() {
		if len(pending) > 0 {
			emit(pending)
			pending = nil
		}
	}

	for _, para := range paragraphs(text) {
		words := strings.Fields(para)
		if len(words) > opts.MaxTokens {
			flush()
			for _, w := range window(words, opts) {
				emit(w)
			}
			continue
		}
		if len(pending)+len(words) > opts.MaxTokens {
			flush()
		}
		pending = append(pending, words...)
	}
	flush()
	return chunks
}

func paragraphs(text string) []string {
	var out []string
	var cur strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func window(words []string, opts Options) [][]string {
	step := opts.MaxTokens - opts.Overlap
	var out [][]string
	for start := 0; start < len(words); start += step {
		end := min(start+opts.MaxTokens, len(words))
		out = append(out, words[start:end])
		if end == len(words) {
			break
		}
	}
	return out
}
