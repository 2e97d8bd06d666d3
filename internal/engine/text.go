package engine

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/docspark/api/internal/model"
)

// TextTransform handles the two conversions that need no external tool:
// html to txt and txt to html.
type TextTransform struct{}

func (TextTransform) Name() string { return "text transform" }

func (t TextTransform) Attempt(_ context.Context, req Request) error {
	var transform func(string) string
	switch {
	case req.Source == model.FormatHTML && req.Target == model.FormatTXT:
		transform = func(in string) string { return HTMLToText(strings.NewReader(in)) }
	case req.Source == model.FormatTXT && req.Target == model.FormatHTML:
		transform = TextToHTML
	default:
		return ErrNotApplicable
	}

	in, err := os.ReadFile(req.InputPath)
	if err != nil {
		return &Error{Engine: t.Name(), Code: CodeExited, Err: errors.Wrap(err, "read input")}
	}

	if err := os.WriteFile(req.OutputPath, []byte(transform(string(in))), 0o644); err != nil {
		return &Error{Engine: t.Name(), Code: CodeExited, Err: errors.Wrap(err, "write output")}
	}
	return nil
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// TextToHTML wraps plain text in a minimal HTML document, escaping the
// three markup-significant characters and keeping line breaks.
func TextToHTML(text string) string {
	var b strings.Builder
	b.WriteString("<!doctype html>\n<html>\n<head><meta charset=\"utf-8\"></head>\n<body>\n<pre>")
	b.WriteString(htmlEscaper.Replace(text))
	b.WriteString("</pre>\n</body>\n</html>\n")
	return b.String()
}

var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Head:     true,
	atom.Noscript: true,
	atom.Template: true,
}

var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Br: true, atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Figcaption: true, atom.Figure: true, atom.Footer: true, atom.Form: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.Li: true, atom.Main: true, atom.Nav: true,
	atom.Ol: true, atom.P: true, atom.Pre: true, atom.Section: true, atom.Table: true,
	atom.Td: true, atom.Th: true, atom.Tr: true, atom.Ul: true,
}

// HTMLToText extracts readable text from an HTML document. Script, style
// and head content is dropped, block elements start a new line, runs of
// whitespace collapse to one space and blank lines are removed.
func HTMLToText(r io.Reader) string {
	z := html.NewTokenizer(r)
	var raw strings.Builder
	skip := 0

loop:
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			break loop
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Body {
				// an unclosed head ends where the body starts
				skip = 0
			}
			if skippedElements[a] && tt == html.StartTagToken {
				skip++
			}
			if blockElements[a] {
				raw.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skippedElements[a] && skip > 0 {
				skip--
			}
			if blockElements[a] {
				raw.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				raw.Write(z.Text())
			}
		}
	}

	lines := strings.Split(raw.String(), "\n")
	ret := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			ret = append(ret, line)
		}
	}
	if len(ret) == 0 {
		return ""
	}
	return strings.Join(ret, "\n") + "\n"
}
