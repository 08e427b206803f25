package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ignaciolinari/discogs-SR/internal/types"
)

var profileUsernameTable = []strategy{
	{css: "meta[property='profile:username']", attr: "content"},
	{css: "h1.hide_mobile"},
	{css: "h1[class*='profile']"},
	{xpath: `//h1`},
}

// ParseUserProfile extracts a user page: username, location, join date,
// and the collection/wantlist sizes shown next to their links.
func ParseUserProfile(rawHTML string) (*types.UserProfile, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, &types.ParseError{Err: err}
	}

	profile := &types.UserProfile{}
	if username, ok := extractFirst(doc.Selection, profileUsernameTable); ok {
		profile.Username = username
	}
	if profile.Username == "" {
		if href, ok := doc.Find("a[href*='/user/']").First().Attr("href"); ok {
			profile.Username = usernameFromHref(href)
		}
	}
	profile.UserID = profile.Username

	profile.Location = labeledValue(doc, "location")
	if joined := labeledValue(doc, "joined"); joined != "" {
		profile.JoinDate, _ = coerceDate(joined)
	}

	profile.CollectionSize = linkedCount(doc, "/collection")
	profile.WantlistSize = linkedCount(doc, "/wantlist", "/wants")

	return profile, nil
}

// labeledValue finds a "Location"/"Joined" label element and returns
// the text of the value element that follows it, or the remainder of
// the label's own row when the value is inline.
func labeledValue(doc *goquery.Document, label string) string {
	var value string
	doc.Find("span, strong, dt, div").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		text := strings.TrimSpace(el.Text())
		lower := strings.ToLower(text)
		if lower != label && lower != label+":" {
			if el.Children().Length() == 0 && strings.HasPrefix(lower, label+":") {
				value = strings.TrimSpace(text[len(label)+1:])
				return false
			}
			return true
		}
		next := el.NextAllFiltered("span, dd, div, a").First()
		if next.Length() > 0 {
			value = strings.TrimSpace(next.Text())
			return false
		}
		return true
	})
	return value
}

// linkedCount reads the number shown in or next to a collection or
// wantlist link, e.g. "Collection (1,234)".
func linkedCount(doc *goquery.Document, paths ...string) int {
	count := 0
	doc.Find("a").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		matched := false
		for _, path := range paths {
			if strings.Contains(href, path) {
				matched = true
				break
			}
		}
		if !matched {
			return true
		}
		if n, isNum := coerceInt(extractNumber(link.Text())); isNum && n > 0 {
			count = n
			return false
		}
		if sibling := link.NextFiltered("span").First(); sibling.Length() > 0 {
			if n, isNum := coerceInt(extractNumber(sibling.Text())); isNum {
				count = n
				return false
			}
		}
		return true
	})
	return count
}
