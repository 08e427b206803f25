package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ignaciolinari/discogs-SR/internal/types"
)

var (
	reReleaseID = regexp.MustCompile(`/release/(\d+)`)
	reMasterID  = regexp.MustCompile(`/master/(\d+)`)
	reUserHref  = regexp.MustCompile(`/(user|seller)/([^/?#]+)`)
	reLabelID   = regexp.MustCompile(`/label/(\d+)`)
)

var searchArtistTable = []strategy{
	{css: ".card-artist"},
	{css: ".card_body .artist"},
	{css: ".search_result_artist"},
	{xpath: `.//*[contains(@class,'artist')]`},
}

var searchYearTable = []strategy{
	{css: ".card-release-year"},
	{css: "[class*='year']"},
	{css: "[class*='Year']"},
}

// ParseSearchResults extracts release summary cards from a search
// results page. Cards without a parseable release id are skipped.
func ParseSearchResults(html string) ([]types.ReleaseSummary, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &types.ParseError{Err: err}
	}

	var releases []types.ReleaseSummary
	doc.Find(".card, .card_large, .search_result").Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a[href*='/release/']").First()
		href, _ := link.Attr("href")
		releaseID := extractID(reReleaseID, href)
		if releaseID == 0 {
			return
		}

		summary := types.ReleaseSummary{
			ReleaseID: releaseID,
			Title:     strings.TrimSpace(link.Text()),
			URL:       href,
		}
		if artists, ok := extractFirst(card, searchArtistTable); ok {
			summary.Artists = artists
		}
		if yearText, ok := extractFirst(card, searchYearTable); ok {
			summary.Year, _ = coerceYear(yearText)
		}

		have, want, avg, count := parseCardStats(card)
		summary.HaveCount = have
		summary.WantCount = want
		summary.AverageRating = avg
		summary.RatingsCount = count

		releases = append(releases, summary)
	})

	return releases, nil
}

// parseCardStats reads the community stats list on a result card. The
// entries are classified by their text because the site has shuffled
// their class names more than once.
func parseCardStats(card *goquery.Selection) (have, want int, avg float64, ratings int) {
	card.Find(".card_stats li, .card-stats li, .stats li, .community_stats li").Each(func(_ int, li *goquery.Selection) {
		text := strings.TrimSpace(li.Text())
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, "have"):
			have, _ = coerceInt(extractNumber(text))
		case strings.Contains(lower, "want"):
			want, _ = coerceInt(extractNumber(text))
		case strings.Contains(lower, "avg") && strings.Contains(lower, "rating"):
			avg, _ = coerceFloat(extractNumber(text))
		case strings.Contains(lower, "rating"):
			ratings, _ = coerceInt(extractNumber(text))
		}
	})

	if avg == 0 {
		rating := card.Find("[data-rating], .rating").First()
		if rating.Length() > 0 {
			raw, _ := rating.Attr("data-rating")
			if raw == "" {
				raw = extractNumber(strings.TrimSpace(rating.Text()))
			}
			avg, _ = coerceFloat(raw)
		}
	}
	return have, want, avg, ratings
}

// extractID applies an id-capturing pattern to an href, returning 0
// when the pattern does not match.
func extractID(re *regexp.Regexp, href string) int {
	m := re.FindStringSubmatch(href)
	if m == nil {
		return 0
	}
	id, err := strconv.Atoi(m[len(m)-1])
	if err != nil {
		return 0
	}
	return id
}

// usernameFromHref pulls the username segment out of a /user/ or
// /seller/ link.
func usernameFromHref(href string) string {
	m := reUserHref.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[2])
}
