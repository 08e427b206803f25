package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ignaciolinari/discogs-SR/internal/types"
)

// ParseReleaseUserList extracts usernames from a "have"/"want" modal
// fragment. Profile link hrefs are the primary source; data-username
// attributes are consulted only when no links yielded anything. The
// display-cased form is preferred when it matches the href username
// case-insensitively, since hrefs are sometimes lowercased.
func ParseReleaseUserList(rawHTML string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, &types.ParseError{Err: err}
	}

	var usernames []string
	doc.Find("a[href*='/user/'], a[href*='/seller/']").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		fromHref := usernameFromHref(href)
		display := strings.TrimSpace(link.Text())

		switch {
		case fromHref != "" && strings.EqualFold(fromHref, display):
			usernames = append(usernames, display)
		case fromHref != "":
			usernames = append(usernames, fromHref)
		case display != "" && !strings.ContainsAny(display, " /"):
			usernames = append(usernames, display)
		}
	})

	if len(usernames) == 0 {
		doc.Find("[data-username]").Each(func(_ int, el *goquery.Selection) {
			if username, ok := el.Attr("data-username"); ok {
				if username = strings.TrimSpace(username); username != "" {
					usernames = append(usernames, username)
				}
			}
		})
	}

	return uniqueFold(usernames), nil
}
