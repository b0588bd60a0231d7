package extract

import (
	"strings"
	"testing"
)

func TestText_StripsScripts(t *testing.T) {
	e := New(0)
	got := e.Text(`<html><body><p>hello world</p><script>alert("x")</script></body></html>`)
	if !strings.Contains(got, "hello world") {
		t.Fatalf("lost body text: %q", got)
	}
	if strings.Contains(got, "alert") {
		t.Fatalf("script leaked into content: %q", got)
	}
}

func TestText_Empty(t *testing.T) {
	e := New(0)
	if got := e.Text("   "); got != "" {
		t.Fatalf("blank input: got %q", got)
	}
}

func TestText_CapsLength(t *testing.T) {
	e := New(100)
	long := "<p>" + strings.Repeat("word ", 200) + "</p>"
	got := e.Text(long)
	if n := len([]rune(got)); n > 100 {
		t.Fatalf("content over cap: %d runes", n)
	}
}

func TestText_CollapsesWhitespace(t *testing.T) {
	e := New(0)
	got := e.Text("<p>a\n\n\n   b\t\tc</p>")
	if got != "a b c" {
		t.Fatalf("got %q", got)
	}
}

func TestCap_RuneSafe(t *testing.T) {
	s := strings.Repeat("é", 10)
	got := Cap(s, 4)
	if got != "éééé" {
		t.Fatalf("got %q", got)
	}
	if Cap("short", 100) != "short" {
		t.Fatal("under-cap string must pass through")
	}
}

func TestTitle(t *testing.T) {
	got := Title(`<html><head><title> Example Page </title></head><body></body></html>`)
	if got != "Example Page" {
		t.Fatalf("got %q", got)
	}
	if Title("<p>no title</p>") != "" {
		t.Fatal("missing title must yield empty string")
	}
}
