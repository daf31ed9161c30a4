package capability

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var skipElements = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Iframe: true,
	atom.Svg:    true,
}

// PlainText reduces an HTML fragment (feed descriptions, rendered
// markdown) to readable text. Block elements become line breaks.
func PlainText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return collapseWhitespace(fragment)
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return collapseWhitespace(fragment)
	}

	var b strings.Builder
	for _, n := range nodes {
		writeText(n, &b)
	}
	return collapseWhitespace(b.String())
}

func writeText(n *html.Node, w *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		w.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipElements[n.DataAtom] {
			return
		}
		if isBlock(n.DataAtom) {
			w.WriteString("\n")
		}
		if n.DataAtom == atom.Li {
			w.WriteString("- ")
		}
		if n.DataAtom == atom.A {
			writeLink(n, w)
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(c, w)
	}
	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || isBlock(n.DataAtom)) {
		w.WriteString("\n")
	}
}

// writeLink writes the anchor text followed by its target in
// parentheses. Only absolute http(s) targets are kept, and a target that
// is already the visible text is not repeated.
func writeLink(n *html.Node, w *strings.Builder) {
	var text strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(c, &text)
	}
	w.WriteString(text.String())

	href := strings.TrimSpace(attr(n, "href"))
	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return
	}
	if strings.TrimSpace(text.String()) == href {
		return
	}
	if text.Len() > 0 {
		w.WriteString(" ")
	}
	w.WriteString("(" + href + ")")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Li, atom.Ul, atom.Ol, atom.Pre,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Table, atom.Tr, atom.Hr:
		return true
	}
	return false
}

// collapseWhitespace squeezes runs of spaces within lines and drops
// blank lines.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
