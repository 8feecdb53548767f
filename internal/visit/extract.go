package visit

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// ValueSeparator joins the values of a selector that matches several nodes.
const ValueSeparator = " | "

// Selector picks text, or an attribute when Attr is set.
type Selector struct {
	CSS  string
	Attr string
	m    goquery.Matcher
}

// ParseSelector accepts "css" or "css@attr", e.g. "ul.gallery img@src".
func ParseSelector(raw string) (Selector, error) {
	raw = strings.TrimSpace(raw)
	var s Selector
	if i := strings.LastIndex(raw, "@"); i > 0 && !strings.ContainsAny(raw[i+1:], " []=>~+") {
		s.CSS, s.Attr = strings.TrimSpace(raw[:i]), strings.TrimSpace(raw[i+1:])
	} else {
		s.CSS = raw
	}
	if s.CSS == "" {
		return Selector{}, errors.New("empty css selector")
	}
	m, err := cascadia.Compile(s.CSS)
	if err != nil {
		return Selector{}, err
	}
	s.m = m
	return s, nil
}

// Extract evaluates every selector against html. Matched values are trimmed,
// de-duplicated in document order and joined with ValueSeparator.
func Extract(html string, selectors map[string]Selector) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(selectors))
	for col, sel := range selectors {
		out[col] = sel.eval(doc.Selection)
	}
	return out, nil
}

func (s Selector) eval(root *goquery.Selection) string {
	var (
		seen = map[string]struct{}{}
		vals []string
	)
	root.FindMatcher(s.m).Each(func(_ int, n *goquery.Selection) {
		var v string
		if s.Attr != "" {
			v, _ = n.Attr(s.Attr)
		} else {
			v = n.Text()
		}
		v = strings.Join(strings.Fields(v), " ")
		if v == "" {
			return
		}
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		vals = append(vals, v)
	})
	return strings.Join(vals, ValueSeparator)
}
