package markdown

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
)

// DefaultHighlightStyle is the chroma style used when none is configured.
const DefaultHighlightStyle = "monokai"

func htmlFormatter() *chromahtml.Formatter {
	return chromahtml.New(
		chromahtml.WithClasses(true),
		chromahtml.PreventSurroundingPre(true),
	)
}

func lookupStyle(name string) *chroma.Style {
	style := chromaStyles.Get(name)
	if style == nil {
		style = chromaStyles.Fallback
	}
	return style
}

// highlight returns class-annotated HTML for code. It reports false when the
// language is unknown or chroma fails, in which case the caller escapes the
// code itself.
func highlight(code, language, styleName string) (string, bool) {
	lexer := lexers.Get(language)
	if lexer == nil {
		return "", false
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", false
	}

	var buf strings.Builder
	if err := htmlFormatter().Format(&buf, lookupStyle(styleName), iterator); err != nil {
		return "", false
	}
	return buf.String(), true
}

// highlightCSS returns the class rules for a chroma style.
func highlightCSS(styleName string) string {
	var buf strings.Builder
	if err := htmlFormatter().WriteCSS(&buf, lookupStyle(styleName)); err != nil {
		return ""
	}
	return buf.String()
}
