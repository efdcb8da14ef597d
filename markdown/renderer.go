// Package markdown turns untrusted assistant text into a safe HTML fragment.
//
// The pipeline runs in a fixed order and no stage reinterprets the output of an
// earlier one: fenced code is lifted out first, the remaining text is escaped,
// then inline code, block structure (with emphasis inside each line or list
// item) and paragraphs are applied before the lifted pieces are put back.
package markdown

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// CodeBlock describes one fenced block of a rendered fragment. Code is the raw,
// unescaped body that a copy action should place on the clipboard.
type CodeBlock struct {
	ID       string `json:"id"`
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

// Fragment is the output of a render. HTML references each CodeBlock through a
// data-copy-target attribute equal to the block ID.
type Fragment struct {
	HTML       string      `json:"html"`
	CodeBlocks []CodeBlock `json:"code_blocks,omitempty"`
}

// Renderer holds rendering options. It carries no per-render state and is safe
// for concurrent use.
type Renderer struct {
	highlight bool
	style     string
	idPrefix  string
	policy    *bluemonday.Policy
}

type Option func(*Renderer)

// WithHighlighting colours fenced blocks whose language chroma recognises.
// An empty style selects DefaultHighlightStyle.
func WithHighlighting(style string) Option {
	return func(r *Renderer) {
		r.highlight = true
		if style != "" {
			r.style = style
		}
	}
}

// WithSanitizer runs the rendered HTML through an allow-list policy as a final pass.
func WithSanitizer() Option {
	return func(r *Renderer) {
		r.policy = NewPolicy()
	}
}

// WithBlockIDPrefix changes the prefix of generated code block ids.
func WithBlockIDPrefix(prefix string) Option {
	return func(r *Renderer) {
		if prefix != "" {
			r.idPrefix = prefix
		}
	}
}

func New(opts ...Option) *Renderer {
	r := &Renderer{
		style:    DefaultHighlightStyle,
		idPrefix: "code",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultRenderer = New()

// Render renders text with the default options.
func Render(text string) Fragment {
	return defaultRenderer.Render(text)
}

// Render converts text into a fragment. Code block ids are numbered from zero.
func (r *Renderer) Render(text string) Fragment {
	return r.render(r.idPrefix, text)
}

// RenderScoped renders text with code block ids namespaced by scope, so several
// fragments can share one page without id collisions.
func (r *Renderer) RenderScoped(scope, text string) Fragment {
	if scope == "" {
		return r.Render(text)
	}
	return r.render(r.idPrefix+"-"+scope, text)
}

func (r *Renderer) render(prefix, text string) Fragment {
	if text == "" {
		return Fragment{}
	}

	p := &pass{renderer: r, prefix: prefix}
	// NUL is the placeholder delimiter; the input may not carry it.
	out := strings.ReplaceAll(text, "\x00", "")
	out = strings.ReplaceAll(out, "\r\n", "\n")

	out = p.extractFences(out)
	out = html.EscapeString(out)
	out = p.extractInlineCode(out)
	out = structureLines(out)
	out = paragraphs(out)
	out = p.restore(out)

	if r.policy != nil {
		out = r.policy.Sanitize(out)
	}
	return Fragment{HTML: out, CodeBlocks: p.blocks}
}

// pass holds the placeholders of a single render.
type pass struct {
	renderer *Renderer
	prefix   string
	blocks   []CodeBlock
	held     []string
}

func (p *pass) hold(kind byte, markup string) string {
	token := fmt.Sprintf("\x00%c%d\x00", kind, len(p.held))
	p.held = append(p.held, token, markup)
	return token
}

func (p *pass) restore(s string) string {
	if len(p.held) == 0 {
		return s
	}
	return strings.NewReplacer(p.held...).Replace(s)
}
