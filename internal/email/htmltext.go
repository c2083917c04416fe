package email

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements whose content never belongs in a readable email body.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.Table: true, atom.Tr: true, atom.Ul: true, atom.Ol: true,
	atom.Blockquote: true, atom.Pre: true,
}

var multiNewline = regexp.MustCompile(`\n{3,}`)

// htmlToText strips an HTML email body to readable plain text.
func htmlToText(raw string) string {
	if raw == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return stripTags(raw)
	}
	var b strings.Builder
	extractText(doc, &b)
	return cleanWhitespace(b.String())
}

func extractText(n *html.Node, w *strings.Builder) {
	if n.Type == html.ElementNode {
		if skipElements[n.DataAtom] {
			return
		}
		if blockElements[n.DataAtom] && w.Len() > 0 {
			w.WriteString("\n")
		}
	}
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			w.WriteString(text)
			w.WriteString(" ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, w)
	}
	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		w.WriteString("\n")
	}
}

// stripTags is the fallback for unparseable HTML.
func stripTags(raw string) string {
	var b strings.Builder
	inTag := false
	for _, r := range raw {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return cleanWhitespace(b.String())
}

func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(multiNewline.ReplaceAllString(s, "\n\n"))
}
