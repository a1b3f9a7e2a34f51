package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func mustSplitter(t *testing.T, chunkSize, overlap int) *Splitter {
	t.Helper()
	s, err := NewSplitter(chunkSize, overlap)
	if err != nil {
		t.Fatalf("NewSplitter(%d, %d) error = %v", chunkSize, overlap, err)
	}
	return s
}

func TestNewSplitterValidation(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
		wantErr   bool
	}{
		{"valid", 100, 20, false},
		{"zero overlap", 100, 0, false},
		{"zero chunk size", 0, 0, true},
		{"negative chunk size", -5, 0, true},
		{"negative overlap", 100, -1, true},
		{"overlap equals chunk size", 100, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSplitter(tt.chunkSize, tt.overlap)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSplitter(%d, %d) error = %v, wantErr %v", tt.chunkSize, tt.overlap, err, tt.wantErr)
			}
		})
	}
}

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	s := mustSplitter(t, 100, 20)

	got := s.Split("  hello world  ")
	if len(got) != 1 || got[0] != "hello world" {
		t.Errorf("Split() = %v, want [hello world]", got)
	}
}

func TestSplitEmptyText(t *testing.T) {
	s := mustSplitter(t, 100, 20)

	for _, text := range []string{"", "   ", "\n\n\t"} {
		if got := s.Split(text); got != nil {
			t.Errorf("Split(%q) = %v, want nil", text, got)
		}
	}
}

func TestSplitPrefersParagraphBreaks(t *testing.T) {
	first := strings.Repeat("aaaa ", 8)  // 40 runes
	second := strings.Repeat("bbbb ", 8) // 40 runes
	text := strings.TrimSpace(first) + "\n\n" + strings.TrimSpace(second)

	s := mustSplitter(t, 60, 0)
	got := s.Split(text)

	want := []string{strings.TrimSpace(first), strings.TrimSpace(second)}
	if len(got) != len(want) {
		t.Fatalf("Split() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitFallsBackToSentences(t *testing.T) {
	text := "Alpha beta gamma delta epsilon. Zeta eta theta iota kappa."

	s := mustSplitter(t, 40, 0)
	got := s.Split(text)

	want := []string{
		"Alpha beta gamma delta epsilon.",
		"Zeta eta theta iota kappa.",
	}
	if len(got) != len(want) {
		t.Fatalf("Split() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitHandlesFullwidthSentenceEnds(t *testing.T) {
	text := "这是第一句话。这是第二句话。这是第三句话。"

	s := mustSplitter(t, 20, 0)
	got := s.Split(text)

	want := []string{"这是第一句话。这是第二句话。", "这是第三句话。"}
	if len(got) != len(want) {
		t.Fatalf("Split() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitOverlapCarriesTail(t *testing.T) {
	s := mustSplitter(t, 10, 4)

	got := s.Split("abcdefghij klmnopqrst")
	want := []string{"abcdefghij", "ghij klmno", "lmnopqrst"}
	if len(got) != len(want) {
		t.Fatalf("Split() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitChunksStayWithinWindow(t *testing.T) {
	s := mustSplitter(t, 50, 10)

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)
	got := s.Split(text)
	if len(got) < 2 {
		t.Fatalf("Split() produced %d chunks, want several", len(got))
	}
	for i, chunk := range got {
		if n := utf8.RuneCountInString(chunk); n > 50 {
			t.Errorf("chunk[%d] is %d runes, want <= 50", i, n)
		}
		if chunk != strings.TrimSpace(chunk) {
			t.Errorf("chunk[%d] = %q, want trimmed", i, chunk)
		}
	}
}
