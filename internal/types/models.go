package types

import "time"

// LabelCredit is one label line on a release page: the label's catalog id
// (0 when the link carried no numeric id), its display name, and the
// catalog number printed next to it.
type LabelCredit struct {
	LabelID       int
	Name          string
	CatalogNumber string
}

// FormatInfo describes one media format segment, e.g. "2 × Vinyl, LP, Album".
type FormatInfo struct {
	Name         string
	Quantity     int
	Descriptions []string
	Notes        string
}

// ReleaseSummary is a single result card from a search page. Zero values
// mean the field was not present in the markup.
type ReleaseSummary struct {
	ReleaseID     int
	Title         string
	Artists       string
	Year          int
	URL           string
	HaveCount     int
	WantCount     int
	AverageRating float64
	RatingsCount  int
}

// Review is one community review with an optional rating on the 0-5 scale.
// Rating is nil when the review carried no parseable rating.
type Review struct {
	Username string
	Rating   *float64
	Text     string
	Date     time.Time
}

// ReleaseDetail is the full parse of a release page.
type ReleaseDetail struct {
	ReleaseID     int
	Title         string
	Artists       string
	Year          int
	MasterID      int
	Country       string
	Released      string
	Genres        []string
	Styles        []string
	Labels        []LabelCredit
	LabelSummary  string
	Formats       []FormatInfo
	FormatSummary string
	ImageURL      string
	Reviews       []Review
	HaveUsers     []string
	WantUsers     []string
}

// CanonicalID returns the id releases of the same master consolidate
// under: the master id when the page exposed one, otherwise the
// release's own id.
func (d *ReleaseDetail) CanonicalID() int {
	if d.MasterID > 0 {
		return d.MasterID
	}
	return d.ReleaseID
}

// UserProfile holds the fields scraped from a user page. UserID falls
// back to the username when the site exposes no distinct id.
type UserProfile struct {
	Username       string
	UserID         string
	Location       string
	JoinDate       time.Time
	CollectionSize int
	WantlistSize   int
}
