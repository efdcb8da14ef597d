package markdown

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	// Group 2 is the line break after the language tag. Without it the tag
	// belongs to the body, as in ```x = 1```.
	fencePattern      = regexp.MustCompile("(?s)```([\\w+#.-]*)([ \\t]*\\n)?(.*?)```")
	strayFencePattern = regexp.MustCompile("`{3,}")
	inlineCodePattern = regexp.MustCompile("`([^`\\n]+)`")

	headingPattern = regexp.MustCompile(`^(#{1,3})\s+(.+?)(?:\s+#+)?\s*$`)
	orderedPattern = regexp.MustCompile(`^\s*(\d{1,9})[.)]\s+(.+)$`)
	bulletPattern  = regexp.MustCompile(`^\s*[-*+]\s+(.+)$`)

	boldPattern   = regexp.MustCompile(`\*\*([^\s*](?:.*?[^\s*])?)\*\*`)
	italicPattern = regexp.MustCompile(`\*([^\s*](?:[^*\n]*?[^\s*])?)\*`)

	blankLinePattern   = regexp.MustCompile(`\n{2,}`)
	codeHolderPattern  = regexp.MustCompile(`^\x00C\d+\x00$`)
	structuralPrefixes = []string{"<h1>", "<h2>", "<h3>", "<ol", "<ul>"}
)

// extractFences lifts fenced code blocks out of the raw text. Every block becomes
// a placeholder on a line of its own.
func (p *pass) extractFences(s string) string {
	s = fencePattern.ReplaceAllStringFunc(s, func(match string) string {
		m := fencePattern.FindStringSubmatch(match)
		lang, brk, body := m[1], m[2], m[3]
		if brk == "" {
			body = lang + body
			lang = ""
		}
		body = strings.TrimRight(strings.TrimLeft(body, "\n"), " \t\n")

		block := CodeBlock{
			ID:       fmt.Sprintf("%s-%d", p.prefix, len(p.blocks)),
			Language: strings.ToLower(lang),
			Code:     body,
		}
		p.blocks = append(p.blocks, block)
		return "\n" + p.hold('C', p.renderer.codeBlockMarkup(block)) + "\n"
	})
	// A fence left without its closing delimiter stays literal text.
	return strayFencePattern.ReplaceAllStringFunc(s, func(run string) string {
		return p.hold('L', run)
	})
}

func (r *Renderer) codeBlockMarkup(b CodeBlock) string {
	var sb strings.Builder
	id := html.EscapeString(b.ID)
	fmt.Fprintf(&sb, `<div class="code-block" id="%s"><div class="code-header">`, id)
	if b.Language != "" {
		fmt.Fprintf(&sb, `<span class="code-lang">%s</span>`, html.EscapeString(b.Language))
	}
	fmt.Fprintf(&sb, `<button type="button" class="copy-btn" data-copy-target="%s">Copy</button></div>`, id)

	body, highlighted := "", false
	if r.highlight && b.Language != "" {
		body, highlighted = highlight(b.Code, b.Language, r.style)
	}
	switch {
	case highlighted:
		fmt.Fprintf(&sb, `<pre><code class="chroma language-%s">%s</code></pre>`, html.EscapeString(b.Language), body)
	case b.Language != "":
		fmt.Fprintf(&sb, `<pre><code class="language-%s">%s</code></pre>`, html.EscapeString(b.Language), html.EscapeString(b.Code))
	default:
		fmt.Fprintf(&sb, `<pre><code>%s</code></pre>`, html.EscapeString(b.Code))
	}
	sb.WriteString(`</div>`)
	return sb.String()
}

// extractInlineCode runs on escaped text, so the span content is already safe.
func (p *pass) extractInlineCode(s string) string {
	return inlineCodePattern.ReplaceAllStringFunc(s, func(match string) string {
		content := match[1 : len(match)-1]
		return p.hold('I', `<code class="inline-code">`+content+`</code>`)
	})
}

type listKind int

const (
	noList listKind = iota
	orderedList
	bulletList
)

// structureLines converts headings and list items. Consecutive items of the same
// marker kind become one list, written on a single line. Emphasis is applied to
// each item, heading and plain line on its own, so a marker pair never spans
// two list items.
func structureLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))

	var (
		kind  listKind
		start string
		items []string
	)
	flush := func() {
		if kind == noList {
			return
		}
		var sb strings.Builder
		if kind == orderedList {
			if start != "" && start != "1" {
				fmt.Fprintf(&sb, `<ol start="%s">`, start)
			} else {
				sb.WriteString("<ol>")
			}
		} else {
			sb.WriteString("<ul>")
		}
		for _, item := range items {
			sb.WriteString("<li>" + item + "</li>")
		}
		if kind == orderedList {
			sb.WriteString("</ol>")
		} else {
			sb.WriteString("</ul>")
		}
		out = append(out, sb.String())
		kind, start, items = noList, "", nil
	}

	for _, line := range lines {
		if m := orderedPattern.FindStringSubmatch(line); m != nil {
			if kind != orderedList {
				flush()
				kind = orderedList
				if n, err := strconv.Atoi(m[1]); err == nil {
					start = strconv.Itoa(n)
				}
			}
			items = append(items, applyEmphasis(strings.TrimSpace(m[2])))
			continue
		}
		if m := bulletPattern.FindStringSubmatch(line); m != nil {
			if kind != bulletList {
				flush()
				kind = bulletList
			}
			items = append(items, applyEmphasis(strings.TrimSpace(m[1])))
			continue
		}
		flush()
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			level := len(m[1])
			out = append(out, fmt.Sprintf("<h%d>%s</h%d>", level, applyEmphasis(m[2]), level))
			continue
		}
		out = append(out, applyEmphasis(line))
	}
	flush()
	return strings.Join(out, "\n")
}

// applyEmphasis handles one line of content. Bold runs before italic.
func applyEmphasis(s string) string {
	s = boldPattern.ReplaceAllString(s, "<strong>$1</strong>")
	return italicPattern.ReplaceAllString(s, "<em>$1</em>")
}

// paragraphs splits on blank lines. Runs of plain lines are wrapped in <p>;
// lists, headings and code blocks pass through unwrapped.
func paragraphs(s string) string {
	var out []string
	for _, block := range blankLinePattern.Split(s, -1) {
		var run []string
		flush := func() {
			if len(run) > 0 {
				out = append(out, "<p>"+strings.Join(run, "<br>")+"</p>")
				run = nil
			}
		}
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				continue
			case isStructural(line):
				flush()
				out = append(out, line)
			default:
				run = append(run, line)
			}
		}
		flush()
	}
	return strings.Join(out, "\n")
}

func isStructural(line string) bool {
	if codeHolderPattern.MatchString(line) {
		return true
	}
	for _, prefix := range structuralPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
