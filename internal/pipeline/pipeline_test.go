package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ignaciolinari/discogs-SR/internal/config"
	"github.com/ignaciolinari/discogs-SR/internal/storage"
	"github.com/ignaciolinari/discogs-SR/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const searchPage1HTML = `<!DOCTYPE html>
<html><body>
<div id="search_results">
	<div class="card">
		<h4><a href="/Some-Artist/release/12345-Album-Title">Album Title</a></h4>
		<p class="card-artist">Some Artist</p>
		<span class="card-release-year">2001</span>
	</div>
	<div class="card">
		<h4><a href="/release/67890">Second Album</a></h4>
		<p class="card-artist">Other Artist</p>
	</div>
</div>
</body></html>`

const emptySearchHTML = `<html><body><p>no results</p></body></html>`

const release12345HTML = `<!DOCTYPE html>
<html>
<head>
	<link rel="canonical" href="https://www.discogs.com/release/12345-Album-Title">
	<meta property="og:image" content="https://img.example.com/album.jpg">
</head>
<body>
	<h1 id="profile_title">Album Title</h1>
	<h1 class="header"><span class="artist">Some Artist</span></h1>
	<a href="/master/54321">More versions</a>
	<div id="profile">
		<ul>
			<li><span>Genre:</span> Electronic</li>
			<li><span>Country:</span> Germany</li>
		</ul>
	</div>
	<div id="release_community_stats">
		<a href="/user/collector1" data-label="have">collector1</a>
		<a href="/user/collector2" data-label="have">collector2</a>
		<a href="/user/wanter1" data-label="want">wanter1</a>
	</div>
	<ul class="review_list">
		<li class="review">
			<a href="/user/reviewer1">reviewer1</a>
			<span class="rating" data-rating="4.5"></span>
			<p class="review_body">Fantastic record.</p>
			<time datetime="2021-05-01">May 1, 2021</time>
		</li>
		<li class="review">
			<a href="/user/reviewer2">reviewer2</a>
			<span class="rating" data-rating="90"></span>
			<p class="review_body">Solid.</p>
		</li>
	</ul>
</body>
</html>`

const release67890HTML = `<!DOCTYPE html>
<html>
<head><link rel="canonical" href="https://www.discogs.com/release/67890"></head>
<body>
	<h1 id="profile_title">Second Album</h1>
	<h1 class="header"><span class="artist">Other Artist</span></h1>
</body>
</html>`

const statsPageHTML = `<!DOCTYPE html>
<html><body>
<div class="modal">
	<a href="/user/NewCollector">NewCollector</a>
	<a href="/user/collector1">collector1</a>
</div>
</body></html>`

// fakeGetter serves canned pages matched by URL substring, standing in
// for the HTTP session.
type fakeGetter struct {
	pages map[string]string
	calls []string
}

func (f *fakeGetter) Get(ctx context.Context, ref string) (*types.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.calls = append(f.calls, ref)
	for key, html := range f.pages {
		if strings.Contains(ref, key) {
			return &types.Response{
				StatusCode: 200,
				Body:       []byte(html),
				URL:        ref,
				FinalURL:   ref,
				FetchedAt:  time.Now(),
			}, nil
		}
	}
	return nil, &types.FetchError{URL: ref, StatusCode: 404}
}

func crawlSite() map[string]string {
	return map[string]string{
		"/search/?page=1": searchPage1HTML,
		"/search/?page=2": emptySearchHTML,
		"/release/12345":  release12345HTML,
		"/release/67890":  release67890HTML,
	}
}

func testCrawlConfig() *config.CrawlConfig {
	return &config.CrawlConfig{
		SearchPath:  "/search/",
		Sort:        "have,desc",
		ReleaseType: "release",
		PerPage:     50,
		MaxPages:    2,
		CommitEvery: 1,
	}
}

func newTestStore(t *testing.T) (*storage.DB, *storage.Store) {
	t.Helper()
	db, err := storage.Open(":memory:", testLogger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db, storage.NewStore(db, testLogger)
}

func TestPipelineRun(t *testing.T) {
	db, store := newTestStore(t)
	getter := &fakeGetter{pages: crawlSite()}
	p := New(testCrawlConfig(), getter, store, testLogger)

	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if stats.ReleasesProcessed != 2 {
		t.Errorf("releases processed = %d, want 2", stats.ReleasesProcessed)
	}
	if stats.ItemsAdded != 2 {
		t.Errorf("items added = %d, want 2", stats.ItemsAdded)
	}
	// collector1, collector2, wanter1, reviewer1, reviewer2.
	if stats.UsersAdded != 5 {
		t.Errorf("users added = %d, want 5", stats.UsersAdded)
	}
	// Two collection edges, one wantlist edge, two ratings.
	if stats.InteractionsAdded != 5 {
		t.Errorf("interactions added = %d, want 5", stats.InteractionsAdded)
	}

	// Release 12345 consolidated under its master, 67890 stands alone.
	var sourceID int
	if err := db.QueryRow(
		"SELECT source_release_id FROM items WHERE item_id = 54321",
	).Scan(&sourceID); err != nil {
		t.Fatalf("read master row: %v", err)
	}
	if sourceID != 12345 {
		t.Errorf("source_release_id = %d, want 12345", sourceID)
	}
	if err := db.QueryRow(
		"SELECT source_release_id FROM items WHERE item_id = 67890",
	).Scan(&sourceID); err != nil {
		t.Fatalf("read standalone row: %v", err)
	}
	if sourceID != 67890 {
		t.Errorf("standalone source_release_id = %d, want 67890", sourceID)
	}

	// Rating edges land on the canonical id with the review payload.
	var rating float64
	var review string
	if err := db.QueryRow(`
		SELECT rating, review_text FROM interactions
		WHERE user_id = 'reviewer1' AND item_id = 54321 AND interaction_type = 'rating'`,
	).Scan(&rating, &review); err != nil {
		t.Fatalf("read rating edge: %v", err)
	}
	if rating != 4.5 || review != "Fantastic record." {
		t.Errorf("rating edge = (%v, %q)", rating, review)
	}
}

func TestPipelineRerunAddsNothing(t *testing.T) {
	_, store := newTestStore(t)
	getter := &fakeGetter{pages: crawlSite()}

	if _, err := New(testCrawlConfig(), getter, store, testLogger).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	stats, err := New(testCrawlConfig(), getter, store, testLogger).Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.ItemsAdded != 0 || stats.UsersAdded != 0 || stats.InteractionsAdded != 0 {
		t.Errorf("second run deltas = %+v, want all zero", stats)
	}
	if stats.TotalItems != 2 || stats.TotalUsers != 5 || stats.TotalInteractions != 5 {
		t.Errorf("second run totals = %+v", stats)
	}
}

func TestPipelineReleaseLimit(t *testing.T) {
	_, store := newTestStore(t)
	getter := &fakeGetter{pages: crawlSite()}
	cfg := testCrawlConfig()
	cfg.ReleaseLimit = 1

	stats, err := New(cfg, getter, store, testLogger).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.ReleasesProcessed != 1 || stats.ItemsAdded != 1 {
		t.Errorf("stats = %+v, want exactly one release", stats)
	}
}

func TestPipelineSkipsFailedRelease(t *testing.T) {
	_, store := newTestStore(t)
	site := crawlSite()
	delete(site, "/release/67890")
	getter := &fakeGetter{pages: site}

	stats, err := New(testCrawlConfig(), getter, store, testLogger).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.ReleasesProcessed != 1 || stats.ItemsAdded != 1 {
		t.Errorf("stats = %+v, want the reachable release only", stats)
	}
}

func TestPipelineSearchFailureStopsRun(t *testing.T) {
	_, store := newTestStore(t)
	getter := &fakeGetter{pages: map[string]string{}}

	stats, err := New(testCrawlConfig(), getter, store, testLogger).Run(context.Background())
	if err == nil {
		t.Fatal("expected an error when the search page cannot be fetched")
	}
	if stats == nil || stats.ReleasesProcessed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPipelineCancelledMidRun(t *testing.T) {
	_, store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The cancel lands while the first search page is in flight, as a
	// signal during a fetch would.
	getter := &cancellingGetter{cancel: cancel}
	_, err := New(testCrawlConfig(), getter, store, testLogger).Run(ctx)
	if !errors.Is(err, types.ErrInterrupted) {
		t.Errorf("err = %v, want ErrInterrupted", err)
	}
}

type cancellingGetter struct {
	cancel context.CancelFunc
}

func (g *cancellingGetter) Get(ctx context.Context, ref string) (*types.Response, error) {
	g.cancel()
	return nil, ctx.Err()
}

func TestPipelineExtendedUsers(t *testing.T) {
	_, store := newTestStore(t)
	site := map[string]string{
		"/search/?page=1": `<div class="card"><h4><a href="/Some-Artist/release/12345-Album-Title">Album Title</a></h4></div>`,
		"/release/12345":  release12345HTML,
		"/release/stats/": statsPageHTML,
	}
	getter := &fakeGetter{pages: site}
	cfg := testCrawlConfig()
	cfg.MaxPages = 1
	cfg.MaxUserPages = 1
	cfg.FetchExtendedUsers = true

	stats, err := New(cfg, getter, store, testLogger).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Page users plus NewCollector from the stats listing.
	if stats.UsersAdded != 6 {
		t.Errorf("users added = %d, want 6", stats.UsersAdded)
	}
	// Base edges (2 have, 1 want, 2 ratings) plus one extended have
	// (NewCollector) and two extended wants (NewCollector, collector1:
	// already a haver, but not yet a wanter).
	if stats.InteractionsAdded != 8 {
		t.Errorf("interactions added = %d, want 8", stats.InteractionsAdded)
	}

	exists, err := store.InteractionExists(context.Background(), "NewCollector", 54321, storage.InteractionCollection)
	if err != nil || !exists {
		t.Errorf("NewCollector collection edge = (%v, %v), want present", exists, err)
	}
}

const release5000WithMasterHTML = `<!DOCTYPE html>
<html>
<head><link rel="canonical" href="https://www.discogs.com/release/5000-Some-Album"></head>
<body>
	<h1 id="profile_title">Some Album</h1>
	<h1 class="header"><span class="artist">Some Artist</span></h1>
	<a href="/master/1000">More versions</a>
</body>
</html>`

const release5000NoMasterHTML = `<!DOCTYPE html>
<html>
<head><link rel="canonical" href="https://www.discogs.com/release/5000-Some-Album"></head>
<body>
	<h1 id="profile_title">Some Album</h1>
	<h1 class="header"><span class="artist">Some Artist</span></h1>
	<div id="release_community_stats">
		<a href="/user/latecomer" data-label="have">latecomer</a>
	</div>
</body>
</html>`

func TestPipelineConsolidationSurvivesMissingMasterLink(t *testing.T) {
	db, store := newTestStore(t)
	search := `<div class="card"><h4><a href="/release/5000-Some-Album">Some Album</a></h4></div>`
	cfg := testCrawlConfig()
	cfg.MaxPages = 1

	getter := &fakeGetter{pages: map[string]string{
		"/search/?page=1": search,
		"/release/5000":   release5000WithMasterHTML,
	}}
	if _, err := New(cfg, getter, store, testLogger).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// The same pressing re-crawled from a page where markup drift hid
	// the master link: it must keep writing to the master's row.
	getter = &fakeGetter{pages: map[string]string{
		"/search/?page=1": search,
		"/release/5000":   release5000NoMasterHTML,
	}}
	if _, err := New(cfg, getter, store, testLogger).Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM items WHERE source_release_id = 5000").Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Fatalf("items rows for release 5000 = %d, want 1 consolidated row", rows)
	}
	var itemID int
	if err := db.QueryRow("SELECT item_id FROM items WHERE source_release_id = 5000").Scan(&itemID); err != nil {
		t.Fatalf("read item: %v", err)
	}
	if itemID != 1000 {
		t.Errorf("item_id = %d, want the master row 1000", itemID)
	}

	// The edge observed on the degraded page lands on the master row.
	exists, err := store.InteractionExists(context.Background(), "latecomer", 1000, storage.InteractionCollection)
	if err != nil || !exists {
		t.Errorf("latecomer edge on master row = (%v, %v), want present", exists, err)
	}
}
