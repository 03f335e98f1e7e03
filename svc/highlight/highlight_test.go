package highlight

import (
	"context"
	"strings"
	"testing"

	"burnbin/pkg/domain"

	"github.com/pkg/errors"
)

func TestHighlightWithExt(t *testing.T) {
	h := New(Options{Style: "monokai", Workers: 2})
	out, err := h.Highlight(context.Background(), domain.Data{Text: "def f():\n    return 1\n"}, "py")
	if err != nil {
		t.Fatalf("Highlight: %v", err)
	}
	if !strings.Contains(string(out), "chroma") {
		t.Errorf("output lacks chroma classes: %s", out)
	}
	if !strings.Contains(string(out), "def") {
		t.Errorf("output lacks source text: %s", out)
	}
}

func TestHighlightEscapes(t *testing.T) {
	h := New(Options{})
	out, err := h.Highlight(context.Background(), domain.Data{Text: "<script>alert(1)</script>"}, "txt")
	if err != nil {
		t.Fatalf("Highlight: %v", err)
	}
	if strings.Contains(string(out), "<script>") {
		t.Errorf("markup not escaped: %s", out)
	}
}

func TestHighlightWithoutExt(t *testing.T) {
	h := New(Options{})
	out, err := h.Highlight(context.Background(), domain.Data{Text: "hello"}, "")
	if err != nil {
		t.Fatalf("Highlight: %v", err)
	}
	if !strings.Contains(string(out), "hello") {
		t.Errorf("output lacks text: %s", out)
	}
}

func TestHighlightDeterministic(t *testing.T) {
	h := New(Options{})
	data := domain.Data{Text: "package main\n\nfunc main() {}\n"}
	a, err := h.Highlight(context.Background(), data, "go")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := h.Highlight(context.Background(), data, "go")
	if a != b {
		t.Error("same input produced different markup")
	}
}

func TestHighlightUnsupportedExt(t *testing.T) {
	h := New(Options{})
	_, err := h.Highlight(context.Background(), domain.Data{Text: "x"}, "definitely-not-a-language")
	if !errors.Is(err, ErrUnsupportedExt) {
		t.Errorf("err = %v, want ErrUnsupportedExt", err)
	}
}

func TestHighlightTooLarge(t *testing.T) {
	h := New(Options{MaxBytes: 4})
	if _, err := h.Highlight(context.Background(), domain.Data{Text: "too long"}, ""); err != ErrTooLarge {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}

func TestHighlightCancelled(t *testing.T) {
	h := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Highlight(ctx, domain.Data{Text: "x"}, "txt"); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCSS(t *testing.T) {
	h := New(Options{Style: "github"})
	css, err := h.CSS()
	if err != nil {
		t.Fatalf("CSS: %v", err)
	}
	if !strings.Contains(css, ".chroma") {
		t.Errorf("css lacks .chroma selector")
	}
}
