package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/ignaciolinari/discogs-SR/internal/types"
)

var reFormatQty = regexp.MustCompile(`^(\d+)\s*[×x]\s*(.+)$`)

var releaseTitleTable = []strategy{
	{css: "#profile_title"},
	{css: "h1[itemprop='name']"},
	{css: "h1.title"},
	{xpath: `//h1`},
}

var releaseArtistTable = []strategy{
	{css: "#profile_title span[itemprop='byArtist']"},
	{css: "h1 span.artist"},
	{css: "h1 .profile"},
}

var releaseImageTable = []strategy{
	{css: "meta[property='og:image']", attr: "content"},
	{css: "#view_images img", attr: "src"},
}

var reviewBodyTable = []strategy{
	{css: ".review_body"},
	{css: ".content"},
	{css: ".body"},
	{css: "[class^='markup_'], [class*=' markup_']"},
	{css: "p"},
}

// ParseReleaseDetail extracts the full release page: identity, profile
// table, genre/style tags, label credits, formats, reviews, and the
// have/want usernames visible in the community section. Missing fields
// stay zero; only a body goquery cannot parse produces an error.
func ParseReleaseDetail(rawHTML string) (*types.ReleaseDetail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, &types.ParseError{Err: err}
	}
	root := doc.Selection

	detail := &types.ReleaseDetail{}
	if title, ok := extractFirst(root, releaseTitleTable); ok {
		detail.Title = title
	}
	detail.ReleaseID = releaseIDFromDoc(doc)

	if artists, ok := extractFirst(root, releaseArtistTable); ok {
		detail.Artists = artists
	}

	if href, ok := doc.Find("a[href*='/master/']").First().Attr("href"); ok {
		detail.MasterID = extractID(reMasterID, href)
	}

	entries := profileEntries(doc)

	detail.Country = entryValue(entries["country"])
	detail.Released = entryValue(entries["released"])
	if detail.Released != "" {
		detail.Year, _ = coerceYear(detail.Released)
	}
	if detail.Year == 0 {
		detail.Year, _ = coerceYear(entryValue(entries["year"]))
	}

	detail.LabelSummary = entryValue(entries["label"])
	detail.Labels = parseLabelEntries(entries["label"])

	detail.Formats, detail.FormatSummary = parseFormats(entries["format"])

	detail.Genres = multiValue(doc, entries["genre"], "Genre", "a[href*='/genre/']")
	detail.Styles = multiValue(doc, entries["style"], "Style", "a[href*='/style/']")

	if img, ok := extractFirst(root, releaseImageTable); ok {
		detail.ImageURL = img
	}

	detail.HaveUsers, detail.WantUsers = parseStatisticsUsers(doc)
	detail.Reviews = parseReviews(doc)

	return detail, nil
}

// releaseIDFromDoc prefers the canonical link, then any release href.
func releaseIDFromDoc(doc *goquery.Document) int {
	if href, ok := doc.Find("link[rel='canonical']").Attr("href"); ok {
		if id := extractID(reReleaseID, href); id != 0 {
			return id
		}
	}
	if href, ok := doc.Find("a[href*='/release/']").First().Attr("href"); ok {
		return extractID(reReleaseID, href)
	}
	return 0
}

// profileEntries collects the "Label: … / Format: … / Country: …" list
// items keyed by their lowercase label. First sighting of a key wins.
func profileEntries(doc *goquery.Document) map[string]*goquery.Selection {
	entries := make(map[string]*goquery.Selection)
	selectors := []string{
		"#profile ul li",
		".profile ul li",
		"#release-information ul li",
		"section.profile ul li",
		"div.profile ul.list li",
	}
	for _, selector := range selectors {
		doc.Find(selector).Each(func(_ int, li *goquery.Selection) {
			key := profileEntryKey(li)
			if key == "" {
				return
			}
			if _, ok := entries[key]; ok {
				return
			}
			entries[key] = li
		})
	}
	return entries
}

func profileEntryKey(li *goquery.Selection) string {
	label := ""
	li.Find("span, strong").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if strings.HasSuffix(text, ":") {
			label = text
			return false
		}
		return true
	})
	if label == "" {
		text := strings.TrimSpace(li.Text())
		if !strings.Contains(text, ":") {
			return ""
		}
		label = strings.SplitN(text, ":", 2)[0]
	}
	label = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(label), ":"))
	return strings.ToLower(label)
}

// entryValue returns the text after the "Key:" prefix of a profile row.
func entryValue(li *goquery.Selection) string {
	if li == nil {
		return ""
	}
	text := strings.Join(strings.Fields(li.Text()), " ")
	if idx := strings.Index(text, ":"); idx >= 0 {
		text = text[idx+1:]
	}
	return strings.TrimSpace(text)
}

// multiValue resolves a multi-valued tag field (genres, styles) with
// three fallbacks: the profile row, a labeled heading block, and bare
// tag links anywhere on the page.
func multiValue(doc *goquery.Document, entry *goquery.Selection, heading, linkSelector string) []string {
	if values := splitProfileList(entry); len(values) > 0 {
		return values
	}
	if values := headingTags(doc, heading); len(values) > 0 {
		return values
	}
	var values []string
	doc.Find(linkSelector).Each(func(_ int, a *goquery.Selection) {
		if text := strings.TrimSpace(a.Text()); text != "" {
			values = append(values, text)
		}
	})
	return uniqueFold(values)
}

func splitProfileList(entry *goquery.Selection) []string {
	text := entryValue(entry)
	if text == "" {
		return nil
	}
	var values []string
	for _, part := range strings.Split(strings.ReplaceAll(text, ";", ","), ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return uniqueFold(values)
}

// headingTags finds a "Genre"/"Style" heading and collects the link
// texts from the block that follows it.
func headingTags(doc *goquery.Document, label string) []string {
	lower := strings.ToLower(label)
	var values []string
	doc.Find("h3, dt, span").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(strings.TrimSpace(h.Text())), lower) {
			return true
		}
		container := h.NextAllFiltered("div, dd, span, p").First()
		if container.Length() == 0 {
			return true
		}
		container.Find("a").Each(func(_ int, a *goquery.Selection) {
			if text := strings.TrimSpace(a.Text()); text != "" {
				values = append(values, text)
			}
		})
		return len(values) == 0
	})
	return values
}

// parseLabelEntries reads label credits from the profile row. When the
// row carries no /label/ links the whole value becomes a single
// nameless credit so the summary is not lost.
func parseLabelEntries(entry *goquery.Selection) []types.LabelCredit {
	if entry == nil {
		return nil
	}
	links := entry.Find("a[href*='/label/']")
	if links.Length() == 0 {
		if summary := entryValue(entry); summary != "" {
			return []types.LabelCredit{{Name: summary}}
		}
		return nil
	}

	var credits []types.LabelCredit
	links.Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		credits = append(credits, types.LabelCredit{
			LabelID:       extractID(reLabelID, href),
			Name:          strings.TrimSpace(link.Text()),
			CatalogNumber: catalogText(link),
		})
	})
	return credits
}

// catalogText walks the raw siblings after a label link up to the next
// label link or line break, collecting the catalog number text.
func catalogText(link *goquery.Selection) string {
	if len(link.Nodes) == 0 {
		return ""
	}
	var parts []string
	for sibling := link.Nodes[0].NextSibling; sibling != nil; sibling = sibling.NextSibling {
		if sibling.Type == html.ElementNode {
			if sibling.Data == "br" {
				break
			}
			if sibling.Data == "a" && strings.HasPrefix(attrValue(sibling, "href"), "/label/") {
				break
			}
		}
		text := strings.TrimSpace(nodeText(sibling))
		text = strings.TrimLeft(text, "-,–— ")
		text = strings.TrimRight(text, ",; ")
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func attrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
	}
	return b.String()
}

// parseFormats splits the format summary into segments ("2 × Vinyl, LP,
// Album; CD, Compilation") and decodes quantity/name/descriptions.
func parseFormats(entry *goquery.Selection) ([]types.FormatInfo, string) {
	summary := entryValue(entry)
	if summary == "" {
		return nil, ""
	}

	var formats []types.FormatInfo
	for _, segment := range strings.FieldsFunc(summary, func(r rune) bool { return r == ';' || r == '\n' }) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if fmtInfo, ok := formatFromSegment(segment); ok {
			formats = append(formats, fmtInfo)
		}
	}
	return formats, summary
}

func formatFromSegment(segment string) (types.FormatInfo, bool) {
	var tokens []string
	for _, token := range strings.Split(segment, ",") {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}
	if len(tokens) == 0 {
		return types.FormatInfo{}, false
	}

	info := types.FormatInfo{Name: tokens[0]}
	if m := reFormatQty.FindStringSubmatch(tokens[0]); m != nil {
		if qty, err := strconv.Atoi(m[1]); err == nil {
			info.Quantity = qty
		}
		info.Name = strings.TrimSpace(m[2])
	}
	if len(tokens) > 1 {
		info.Descriptions = tokens[1:]
	}
	return info, true
}

// parseStatisticsUsers reads the have/want usernames shown inline in the
// community statistics section of the release page.
func parseStatisticsUsers(doc *goquery.Document) (haveUsers, wantUsers []string) {
	section := doc.Find("div[id*='community']").First()
	if section.Length() == 0 {
		section = doc.Find("section[id*='statistics'], section[id*='Statistics']").First()
	}
	if section.Length() == 0 {
		return nil, nil
	}

	section.Find("a[href*='/user/'], a[href*='/seller/']").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		username := usernameFromHref(href)
		if username == "" {
			return
		}
		text := strings.ToLower(strings.TrimSpace(link.Text()))
		label, _ := link.Attr("data-label")
		label = strings.ToLower(label)
		switch {
		case strings.Contains(text, "want") || strings.Contains(label, "want"):
			wantUsers = append(wantUsers, username)
		case strings.Contains(text, "have") || strings.Contains(label, "have"):
			haveUsers = append(haveUsers, username)
		}
	})
	return uniqueFold(haveUsers), uniqueFold(wantUsers)
}

// parseReviews extracts community reviews. Nodes without a resolvable
// username are skipped; ratings are normalized onto the 0-5 scale.
func parseReviews(doc *goquery.Document) []types.Review {
	var reviews []types.Review
	doc.Find(".review, li.review, .community_reviews .card").Each(func(_ int, node *goquery.Selection) {
		userLink := node.Find("a[href*='/user/']").First()
		href, _ := userLink.Attr("href")
		username := usernameFromHref(href)
		if username == "" {
			return
		}

		review := types.Review{Username: username, Rating: reviewRating(node)}
		if body, ok := extractFirst(node, reviewBodyTable); ok {
			review.Text = body
		}

		timeEl := node.Find("time").First()
		if dt, ok := timeEl.Attr("datetime"); ok {
			review.Date, _ = coerceDate(dt)
		}
		if review.Date.IsZero() && timeEl.Length() > 0 {
			review.Date, _ = coerceDate(strings.TrimSpace(timeEl.Text()))
		}

		reviews = append(reviews, review)
	})
	return reviews
}

// reviewRating tries the rating encodings seen in the wild: data
// attributes, aria labels on the element or a descendant, then raw
// text. All of them funnel through normalizeRating.
func reviewRating(node *goquery.Selection) *float64 {
	el := node.Find("[data-rating], [data-value], [aria-label*='rated'], [class*='rating']").First()
	if el.Length() == 0 {
		return nil
	}

	candidates := []string{}
	if v, ok := el.Attr("data-rating"); ok {
		candidates = append(candidates, v)
	}
	if v, ok := el.Attr("data-value"); ok {
		candidates = append(candidates, v)
	}
	if v, ok := el.Attr("aria-label"); ok {
		candidates = append(candidates, extractNumber(v))
	}
	if v, ok := el.Find("[aria-label]").First().Attr("aria-label"); ok {
		candidates = append(candidates, extractNumber(v))
	}
	candidates = append(candidates, extractNumber(strings.TrimSpace(el.Text())))

	for _, raw := range candidates {
		if f, ok := coerceFloat(raw); ok {
			normalized := normalizeRating(f)
			return &normalized
		}
	}
	return nil
}
