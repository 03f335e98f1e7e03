// Package highlight renders paste text to HTML with chroma.
package highlight

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"burnbin/pkg/domain"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrUnsupportedExt is returned when an extension hint matches no lexer.
	ErrUnsupportedExt = errors.New("unsupported extension")
	ErrTooLarge       = errors.New("paste too large to highlight")
)

// Highlighter turns paste text into markup. At most Workers highlights run
// at once; the rest wait on their context.
type Highlighter struct {
	sem       *semaphore.Weighted
	formatter *html.Formatter
	style     *chroma.Style
	maxBytes  int

	cssOnce sync.Once
	css     string
	cssErr  error
}

type Options struct {
	Style    string
	Workers  int
	MaxBytes int
}

func New(opts Options) *Highlighter {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	style := styles.Get(opts.Style)
	if style == nil {
		style = styles.Fallback
	}
	return &Highlighter{
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		maxBytes: opts.MaxBytes,
		style:    style,
		formatter: html.New(
			html.WithClasses(true),
			html.WithLineNumbers(true),
			html.WithLinkableLineNumbers(true, "L"),
			html.TabWidth(4),
		),
	}
}

// Highlight renders data.Text. ext picks the lexer by name, alias or file
// extension; without it the lexer is guessed from the content.
func (h *Highlighter) Highlight(ctx context.Context, data domain.Data, ext string) (domain.HTML, error) {
	if h.maxBytes > 0 && len(data.Text) > h.maxBytes {
		return "", ErrTooLarge
	}
	lexer, err := h.lexer(data, ext)
	if err != nil {
		return "", err
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	it, err := chroma.Coalesce(lexer).Tokenise(nil, data.Text)
	if err != nil {
		return "", errors.Wrap(err, "tokenise")
	}
	var buf bytes.Buffer
	if err := h.formatter.Format(&buf, h.style, it); err != nil {
		return "", errors.Wrap(err, "format")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return domain.HTML(buf.String()), nil
}

// CSS returns the stylesheet matching the class names Highlight emits.
func (h *Highlighter) CSS() (string, error) {
	h.cssOnce.Do(func() {
		var buf bytes.Buffer
		h.cssErr = h.formatter.WriteCSS(&buf, h.style)
		h.css = buf.String()
	})
	return h.css, h.cssErr
}

func (h *Highlighter) lexer(data domain.Data, ext string) (chroma.Lexer, error) {
	if ext != "" {
		if l := lexers.Get(strings.ToLower(ext)); l != nil {
			return l, nil
		}
		return nil, errors.Wrapf(ErrUnsupportedExt, "%q", ext)
	}
	if data.Title != "" {
		if l := lexers.Match(data.Title); l != nil {
			return l, nil
		}
	}
	if l := lexers.Analyse(data.Text); l != nil {
		return l, nil
	}
	return lexers.Fallback, nil
}
