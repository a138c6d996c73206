package telegram

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"
)

var partHeader = regexp.MustCompile(`^\[(\d+)/(\d+)\] `)

func TestSplitAlertShortTextHasNoHeader(t *testing.T) {
	parts := splitAlert("  аккаунт main забанен \n", 40)
	if len(parts) != 1 {
		t.Fatalf("expected single part, got %d", len(parts))
	}
	if parts[0] != "аккаунт main забанен" {
		t.Fatalf("unexpected text: %q", parts[0])
	}
}

func TestSplitAlertNumbersParts(t *testing.T) {
	lines := []string{
		strings.Repeat("а", 20),
		strings.Repeat("б", 20),
		"",
		strings.Repeat("в", 20),
	}
	parts := splitAlert(strings.Join(lines, "\n"), 40)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d: %q", len(parts), parts)
	}

	var body []string
	for i, part := range parts {
		if n := utf8.RuneCountInString(part); n > 40 {
			t.Fatalf("part %d exceeds limit: %d", i, n)
		}
		m := partHeader.FindStringSubmatch(part)
		if m == nil {
			t.Fatalf("part %d has no header: %q", i, part)
		}
		if m[1] != string(rune('1'+i)) || m[2] != "3" {
			t.Fatalf("part %d has header %q", i, m[0])
		}
		body = append(body, strings.TrimPrefix(part, m[0]))
	}
	if body[0] != lines[0] || body[1] != lines[1] || body[2] != lines[3] {
		t.Fatalf("unexpected bodies: %q", body)
	}
}

func TestSplitAlertCutsLongLine(t *testing.T) {
	text := strings.Repeat("x", 75)
	parts := splitAlert(text, 40)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	var joined strings.Builder
	for i, part := range parts {
		if n := utf8.RuneCountInString(part); n > 40 {
			t.Fatalf("part %d exceeds limit: %d", i, n)
		}
		joined.WriteString(partHeader.ReplaceAllString(part, ""))
	}
	if joined.String() != text {
		t.Fatalf("content lost after split")
	}
}

func TestSplitAlertEmpty(t *testing.T) {
	if parts := splitAlert("   \n  ", messageLimit); len(parts) != 0 {
		t.Fatalf("expected no parts for empty input, got %d", len(parts))
	}
}
