package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
)

// strategy is one way to pull a field out of a document fragment. Each
// field is extracted through an ordered strategy table: a precise
// selector first, then looser fallbacks, so markup drift degrades one
// field instead of raising. Adding a fallback is a data change.
type strategy struct {
	css   string // CSS selector (goquery); empty when xpath is set
	xpath string // XPath expression (htmlquery), tried on the scope's nodes
	attr  string // attribute to read; empty means text content
}

// extractFirst tries the table in order and returns the first non-empty
// value.
func extractFirst(scope *goquery.Selection, table []strategy) (string, bool) {
	for _, st := range table {
		if v, ok := st.apply(scope); ok {
			return v, true
		}
	}
	return "", false
}

func (st strategy) apply(scope *goquery.Selection) (string, bool) {
	if st.xpath != "" {
		return st.applyXPath(scope)
	}
	sel := scope.Find(st.css).First()
	if sel.Length() == 0 {
		return "", false
	}
	var v string
	if st.attr == "" {
		v = strings.TrimSpace(sel.Text())
	} else {
		v, _ = sel.Attr(st.attr)
		v = strings.TrimSpace(v)
	}
	return v, v != ""
}

func (st strategy) applyXPath(scope *goquery.Selection) (string, bool) {
	for _, root := range scope.Nodes {
		node, err := htmlquery.Query(root, st.xpath)
		if err != nil || node == nil {
			continue
		}
		var v string
		if st.attr == "" {
			v = strings.TrimSpace(htmlquery.InnerText(node))
		} else {
			v = strings.TrimSpace(htmlquery.SelectAttr(node, st.attr))
		}
		if v != "" {
			return v, true
		}
	}
	return "", false
}
