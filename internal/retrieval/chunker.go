package retrieval

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxSentenceRunes bounds a single sentence so unpunctuated text (common in
// extracted PDFs) still produces chunks an embedding model accepts.
const maxSentenceRunes = 1200

// Chunk is a contiguous run of sentences from one document.
type Chunk struct {
	ID           string
	DocumentID   string
	DocumentName string
	Seq          int
	Text         string
}

// SentenceChunker splits text into sentence-based chunks with overlap.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
	splitter          *regexp.Regexp
}

// NewSentenceChunker returns a chunker emitting sentencesPerChunk sentences
// per chunk, repeating overlapSentences between neighbours.
func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 8
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	if overlapSentences >= sentencesPerChunk {
		overlapSentences = sentencesPerChunk - 1
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
		splitter:          regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
	}
}

// Chunk splits one document's text. Blank text yields no chunks.
func (c *SentenceChunker) Chunk(docID, docName, text string) []Chunk {
	sentences := c.sentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	for i, seq := 0, 0; i < len(sentences); seq++ {
		end := min(i+c.sentencesPerChunk, len(sentences))
		chunks = append(chunks, Chunk{
			ID:           docID + ":" + strconv.Itoa(seq),
			DocumentID:   docID,
			DocumentName: docName,
			Seq:          seq,
			Text:         strings.Join(sentences[i:end], " "),
		})
		if end == len(sentences) {
			break
		}
		i = end - c.overlapSentences
	}
	return chunks
}

// sentences returns the trimmed sentences of text, keeping any trailing
// fragment without terminal punctuation.
func (c *SentenceChunker) sentences(text string) []string {
	var out []string
	add := func(s string) {
		s = strings.Join(strings.Fields(s), " ")
		if s == "" {
			return
		}
		out = append(out, splitLong(s, maxSentenceRunes)...)
	}

	last := 0
	for _, loc := range c.splitter.FindAllStringIndex(text, -1) {
		add(text[loc[0]:loc[1]])
		last = loc[1]
	}
	add(text[last:])
	return out
}

// splitLong breaks s at word boundaries into pieces of at most limit runes.
// A single word longer than limit is kept whole.
func splitLong(s string, limit int) []string {
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}
	var (
		out []string
		sb  strings.Builder
		n   int
	)
	for _, w := range strings.Fields(s) {
		wn := utf8.RuneCountInString(w)
		if n > 0 && n+1+wn > limit {
			out = append(out, sb.String())
			sb.Reset()
			n = 0
		}
		if n > 0 {
			sb.WriteByte(' ')
			n++
		}
		sb.WriteString(w)
		n += wn
	}
	if sb.Len() > 0 {
		out = append(out, sb.String())
	}
	return out
}
