package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipped elements contribute no text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
}

// blocks end the current line.
var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Blockquote: true, atom.Pre: true, atom.Title: true, atom.Table: true,
}

func extractHTML(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return htmlText(doc), nil
}

// htmlText flattens the visible text of n, one line per block element.
// Runs of whitespace collapse to one space.
func htmlText(n *html.Node) string {
	var b strings.Builder
	pendingSpace := false
	atLineStart := func() bool { return b.Len() == 0 || strings.HasSuffix(b.String(), "\n") }

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			words := strings.Fields(n.Data)
			if len(words) == 0 {
				pendingSpace = pendingSpace || n.Data != ""
				return
			}
			leading := strings.IndexFunc(n.Data, unicode.IsSpace) == 0
			if !atLineStart() && (pendingSpace || leading) {
				b.WriteByte(' ')
			}
			b.WriteString(strings.Join(words, " "))
			last, _ := utf8.DecodeLastRuneInString(n.Data)
			pendingSpace = unicode.IsSpace(last)
			return
		case html.CommentNode:
			return
		case html.ElementNode:
			if skipped[n.DataAtom] {
				return
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && blocks[n.DataAtom] && !atLineStart() {
			b.WriteByte('\n')
			pendingSpace = false
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
