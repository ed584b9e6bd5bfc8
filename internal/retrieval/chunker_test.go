package retrieval

import (
	"strings"
	"testing"
)

func TestChunk_GroupsSentencesWithOverlap(t *testing.T) {
	c := NewSentenceChunker(2, 1)
	chunks := c.Chunk("doc", "doc.txt", "One. Two! Three? Four.")

	want := []string{"One. Two!", "Two! Three?", "Three? Four."}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d: %+v", len(chunks), len(want), chunks)
	}
	for i, w := range want {
		if chunks[i].Text != w {
			t.Errorf("chunks[%d] = %q, want %q", i, chunks[i].Text, w)
		}
		if chunks[i].Seq != i || chunks[i].DocumentID != "doc" || chunks[i].DocumentName != "doc.txt" {
			t.Errorf("chunks[%d] metadata = %+v", i, chunks[i])
		}
	}
	if chunks[0].ID == chunks[1].ID {
		t.Error("chunk IDs must be unique")
	}
}

func TestChunk_KeepsTrailingFragment(t *testing.T) {
	chunks := NewSentenceChunker(8, 1).Chunk("d", "d", "First sentence. trailing words without stop")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Text, "trailing words without stop") {
		t.Errorf("text = %q, trailing fragment lost", chunks[0].Text)
	}
}

func TestChunk_BlankTextYieldsNothing(t *testing.T) {
	if chunks := NewSentenceChunker(8, 1).Chunk("d", "d", "  \n\t "); len(chunks) != 0 {
		t.Errorf("got %d chunks for blank text", len(chunks))
	}
}

func TestChunk_NormalizesWhitespace(t *testing.T) {
	chunks := NewSentenceChunker(8, 0).Chunk("d", "d", "Line\none\n\nstill   one.")
	if len(chunks) != 1 || chunks[0].Text != "Line one still one." {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestChunk_SplitsUnpunctuatedText(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	chunks := NewSentenceChunker(1, 0).Chunk("d", "d", text)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want long text split", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Text) > maxSentenceRunes {
			t.Errorf("chunk of %d runes exceeds limit", len(c.Text))
		}
	}
}

func TestNewSentenceChunker_ClampsOverlap(t *testing.T) {
	c := NewSentenceChunker(2, 5)
	chunks := c.Chunk("d", "d", "A. B. C. D.")
	if len(chunks) == 0 || len(chunks) > 4 {
		t.Errorf("got %d chunks, overlap clamp failed", len(chunks))
	}
}
