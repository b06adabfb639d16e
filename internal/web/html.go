package web

import (
	_ "embed"
	"html"
	"strings"
)

//go:embed style.css
var defaultStyle string

// head opens an HTML document. extra is appended inside <head> as is.
func head(style, title string, extra ...string) *strings.Builder {
	if style == "" {
		style = defaultStyle
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta http-equiv=\"Content-type\" content=\"text/html; charset=UTF-8\">\n")
	b.WriteString("<meta name=\"ROBOTS\" content=\"NOINDEX, NOFOLLOW\">\n")
	b.WriteString("<title>" + html.EscapeString(title) + "</title>\n")
	b.WriteString("<style>\n" + strings.TrimSpace(style) + "\n</style>\n")
	for _, e := range extra {
		b.WriteString(e)
	}
	b.WriteString("</head>\n\n")
	return &b
}

// page renders a document whose body is a single paragraph. body is
// trusted HTML.
func page(style, title, body string, extra ...string) string {
	b := head(style, title, extra...)
	b.WriteString("<body>\n<p>" + body + "</p>\n</body></html>")
	return b.String()
}

// hrefEscape makes a URL safe for an attribute value.
func hrefEscape(u string) string {
	return strings.ReplaceAll(u, "&", "&amp;")
}
