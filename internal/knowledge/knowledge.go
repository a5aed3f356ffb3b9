// Package knowledge turns knowledge-base files into indexed passages.
package knowledge

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"faq-rag/internal/chunker"
	"faq-rag/internal/embeddings"
	"faq-rag/internal/store"
)

// passageNamespace seeds deterministic passage ids, so re-indexing the same
// file upserts instead of duplicating.
var passageNamespace = uuid.MustParse("5b0e4f7e-8f3c-4c1e-9a55-3f1f2b6f7d10")

// DefaultChunkOptions are used for plain text and PDF sources.
var DefaultChunkOptions = chunker.Options{MaxTokens: 400, Overlap: 80}

// Section is one FAQ entry.
type Section struct {
	Question string
	Answer   string
}

// Text renders the section as the passage that gets embedded.
func (s Section) Text() string {
	return fmt.Sprintf("Question: %s\nAnswer: %s", s.Question, s.Answer)
}

// Document is a source file split into passages.
type Document struct {
	SourceID string
	Passages []string
}

// ParseFAQ reads markdown where every "## " heading is a question and the
// lines until the next heading are its answer. Text before the first heading
// is ignored.
func ParseFAQ(r io.Reader) ([]Section, error) {
	var (
		sections []Section
		current  *Section
		answer   strings.Builder
	)
	flush := func() {
		if current != nil {
			current.Answer = strings.TrimSpace(answer.String())
			sections = append(sections, *current)
		}
		answer.Reset()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if q, ok := strings.CutPrefix(line, "## "); ok {
			flush()
			current = &Section{Question: strings.TrimSpace(q)}
			continue
		}
		answer.WriteString(line)
		answer.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return sections, nil
}

// Load reads a knowledge file. Markdown is parsed as an FAQ; .txt and .pdf
// are chunked.
func Load(path string) (Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return Parse(filepath.Base(path), content)
}

// Parse splits content according to the extension of name.
func Parse(name string, content []byte) (Document, error) {
	doc := Document{SourceID: name}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		sections, err := ParseFAQ(bytes.NewReader(content))
		if err != nil {
			return Document{}, fmt.Errorf("parse faq %s: %w", name, err)
		}
		for _, s := range sections {
			doc.Passages = append(doc.Passages, s.Text())
		}
	case ".pdf":
		text, err := extractPDF(content)
		if err != nil {
			return Document{}, fmt.Errorf("extract pdf %s: %w", name, err)
		}
		doc.Passages = chunk(text)
	case ".txt", "":
		doc.Passages = chunk(string(content))
	default:
		return Document{}, fmt.Errorf("unsupported knowledge file type %q", filepath.Ext(name))
	}
	return doc, nil
}

func chunk(text string) []string {
	chunks := chunker.ChunkText(text, DefaultChunkOptions)
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func extractPDF(content []byte) (string, error) {
	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, int64(len(content)))
	if err != nil {
		return "", err
	}

	var textBuilder strings.Builder
	numPages := pdfReader.NumPage()

	for pageNum := 1; pageNum <= numPages; pageNum++ {
		page := pdfReader.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// PassageID is stable for a given source, position and text.
func PassageID(sourceID string, index int, text string) uuid.UUID {
	return uuid.NewSHA1(passageNamespace, []byte(fmt.Sprintf("%s\x00%d\x00%s", sourceID, index, text)))
}

// Index embeds and stores every passage of docs, replacing whatever the
// index held for the same sources. It returns the number of passages stored.
func Index(ctx context.Context, e embeddings.Embedder, s store.Store, docs []Document) (int, error) {
	total := 0
	for _, doc := range docs {
		if len(doc.Passages) == 0 {
			continue
		}
		vectors, err := e.EmbedBatch(ctx, doc.Passages)
		if err != nil {
			return total, fmt.Errorf("embed %s: %w", doc.SourceID, err)
		}
		if len(vectors) != len(doc.Passages) {
			return total, fmt.Errorf("embed %s: expected %d vectors, got %d", doc.SourceID, len(doc.Passages), len(vectors))
		}

		passages := make([]store.Passage, len(doc.Passages))
		for i, text := range doc.Passages {
			passages[i] = store.Passage{
				ID:       PassageID(doc.SourceID, i, text),
				SourceID: doc.SourceID,
				Index:    i,
				Text:     text,
				Vector:   vectors[i],
			}
		}
		if err := s.DeleteSources(ctx, []string{doc.SourceID}); err != nil {
			return total, fmt.Errorf("replace %s: %w", doc.SourceID, err)
		}
		if err := s.Upsert(ctx, passages); err != nil {
			return total, fmt.Errorf("store %s: %w", doc.SourceID, err)
		}
		total += len(passages)
	}
	return total, nil
}
