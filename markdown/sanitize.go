package markdown

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var (
	classValue = regexp.MustCompile(`^[\w\s#+.-]+$`)
	idValue    = regexp.MustCompile(`^[\w.-]+$`)
	startValue = regexp.MustCompile(`^\d+$`)
)

// NewPolicy returns the allow-list matching exactly the markup the renderer emits.
func NewPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "h1", "h2", "h3", "ol", "ul", "li",
		"strong", "em", "code", "pre", "div", "span", "button")
	p.AllowAttrs("class").Matching(classValue).OnElements("div", "span", "code", "button")
	p.AllowAttrs("id").Matching(idValue).OnElements("div")
	p.AllowAttrs("type").Matching(regexp.MustCompile(`^button$`)).OnElements("button")
	p.AllowAttrs("data-copy-target").Matching(idValue).OnElements("button")
	p.AllowAttrs("start").Matching(startValue).OnElements("ol")
	return p
}
