package markdown

const baseStylesheet = `.ai-response { line-height: 1.7; }
.ai-response h1, .ai-response h2, .ai-response h3 { font-weight: 600; margin: 1rem 0 0.5rem; line-height: 1.3; }
.ai-response h1 { font-size: 1.5rem; border-bottom: 2px solid #e5e7eb; padding-bottom: .3rem; }
.ai-response h2 { font-size: 1.25rem; border-bottom: 1px solid #e5e7eb; padding-bottom: .2rem; }
.ai-response h3 { font-size: 1.1rem; }
.ai-response p { margin: 0.5rem 0; }
.ai-response ul, .ai-response ol { margin: 0.5rem 0; padding-left: 1.5rem; }
.ai-response ul { list-style: disc; }
.ai-response ol { list-style: decimal; }
.ai-response li { margin: 0.25rem 0; }
.ai-response code.inline-code { background: #1e293b; padding: 0.2rem 0.4rem; border-radius: 4px; font-family: "Fira Code", monospace; }
.ai-response .code-block { position: relative; margin: 4px 0; border-radius: 8px; background: #1e293b; color: #f8fafc; }
.ai-response .code-header { display: flex; justify-content: space-between; padding: 4px 8px; font-size: 0.8rem; }
.ai-response .code-block pre { margin: 0; padding: 8px; overflow-x: auto; }
.ai-response .copy-btn { margin-left: auto; background: none; border: none; color: inherit; cursor: pointer; }
`

// Stylesheet returns the CSS for rendered fragments, scoped under .ai-response.
// Highlighting rules are included when the renderer highlights code.
func (r *Renderer) Stylesheet() string {
	if !r.highlight {
		return baseStylesheet
	}
	return baseStylesheet + highlightCSS(r.style)
}
