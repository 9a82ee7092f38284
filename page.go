package main

import (
	_ "embed"
	"html/template"
	"os"
	"strings"
)

//go:embed static/index.html
var embeddedPage string

// pageTemplate is the bootstrap document, read once at startup. The secret is
// substituted on every render and the result is never kept.
type pageTemplate struct {
	source string
	body   string
}

// loadPageTemplate reads the page from path, or uses the embedded page when
// path is empty.
func loadPageTemplate(path string) (*pageTemplate, error) {
	if path == "" {
		return &pageTemplate{source: "embedded", body: embeddedPage}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &TemplateLoadError{Path: path, Err: err}
	}
	return &pageTemplate{source: path, body: string(b)}, nil
}

// render replaces every placeholder with secret. The placeholder sits inside a
// script string literal, so the secret is JS-escaped; a JWT passes unchanged.
func (p *pageTemplate) render(secret string) string {
	return strings.ReplaceAll(p.body, secretPlaceholder, template.JSEscapeString(secret))
}
