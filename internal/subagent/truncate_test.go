package subagent

import (
	"strings"
	"testing"
)

func TestTruncateContextShort(t *testing.T) {
	if got := TruncateContext("short", 100); got != "short" {
		t.Fatalf("short context must pass through, got %q", got)
	}
}

func TestTruncateContextExactLimit(t *testing.T) {
	input := strings.Repeat("a", 100)
	if got := TruncateContext(input, 100); got != input {
		t.Fatalf("exact-limit context must pass through")
	}
}

func TestTruncateContextOverLimit(t *testing.T) {
	input := strings.Repeat("word ", 100)
	got := TruncateContext(input, 50)
	if !strings.HasSuffix(got, "...(truncated)") {
		t.Fatalf("expected truncation marker, got %q", got)
	}
	if len(got) > 50+len("...(truncated)") {
		t.Fatalf("truncated context too long: %d", len(got))
	}
}

func TestTruncateContextWordBoundary(t *testing.T) {
	got := TruncateContext("hello world foobar", 13)
	if got != "hello world...(truncated)" {
		t.Fatalf("expected break at word boundary, got %q", got)
	}
}

func TestTruncateContextNoSpaces(t *testing.T) {
	input := strings.Repeat("x", 100)
	got := TruncateContext(input, 50)
	if !strings.HasSuffix(got, "...(truncated)") {
		t.Fatalf("expected marker even without spaces")
	}
}

func TestTruncateResultShort(t *testing.T) {
	result := TruncateResult("short text", 100)
	if result.Truncated {
		t.Fatalf("short text must not truncate")
	}
	if result.Text != "short text" {
		t.Fatalf("unexpected text %q", result.Text)
	}
}

func TestTruncateResultPreservesEnds(t *testing.T) {
	head := "BEGINNING OF THE RESPONSE with the key findings. "
	tail := " FINAL CONCLUSION at the very end."
	middle := strings.Repeat("filler words in the middle ", 500)
	input := head + middle + tail

	result := TruncateResult(input, 1000)
	if !result.Truncated {
		t.Fatalf("expected truncation")
	}
	if !strings.Contains(result.Text, "BEGINNING OF THE RESPONSE") {
		t.Fatalf("beginning must survive")
	}
	if !strings.Contains(result.Text, "FINAL CONCLUSION") {
		t.Fatalf("end must survive")
	}
	if !strings.Contains(result.Text, "characters omitted") {
		t.Fatalf("expected omission notice")
	}
	if result.OriginalLen != len(input) {
		t.Fatalf("expected original length recorded")
	}
	if len(result.Text) > 1100 {
		t.Fatalf("truncated result too long: %d", len(result.Text))
	}
}

func TestTruncateResultBudgetSplit(t *testing.T) {
	input := strings.Repeat("a ", 5000)
	result := TruncateResult(input, 1000)

	notice := "characters omitted"
	idx := strings.Index(result.Text, notice)
	if idx < 0 {
		t.Fatalf("missing notice")
	}
	// The front section should be roughly double the tail section.
	front := idx
	tail := len(result.Text) - idx - len(notice)
	if front < tail {
		t.Fatalf("front section (%d) should be larger than tail (%d)", front, tail)
	}
}
