package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/ignaciolinari/discogs-SR/internal/config"
	"github.com/ignaciolinari/discogs-SR/internal/parser"
	"github.com/ignaciolinari/discogs-SR/internal/storage"
	"github.com/ignaciolinari/discogs-SR/internal/types"
)

// interactionSource tags rows written by this crawler, as opposed to
// other producers filling the same tables.
const interactionSource = "scrape"

// Getter is the fetch surface the pipeline needs. The HTTP session
// implements it; tests substitute canned responses.
type Getter interface {
	Get(ctx context.Context, ref string) (*types.Response, error)
}

// Stats summarizes one crawl run: work done, row deltas against the
// pre-run table sizes, and the resulting totals.
type Stats struct {
	ReleasesProcessed int
	ItemsAdded        int
	UsersAdded        int
	InteractionsAdded int
	TotalItems        int
	TotalUsers        int
	TotalInteractions int
}

// Pipeline drives the crawl: search pages to release details to
// persisted items, users, and interactions, with checkpoint commits so
// an interrupted run keeps its progress.
type Pipeline struct {
	cfg      *config.CrawlConfig
	session  Getter
	store    *storage.Store
	resolver *storage.Resolver
	logger   *slog.Logger

	seenReleases map[int]bool
	knownUsers   map[string]bool
	flushCtx     context.Context
}

// New assembles a pipeline. The store must have its schema ensured
// before Run is called.
func New(cfg *config.CrawlConfig, session Getter, store *storage.Store, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:          cfg,
		session:      session,
		store:        store,
		resolver:     storage.NewResolver(store),
		logger:       logger.With("component", "pipeline"),
		seenReleases: map[int]bool{},
		knownUsers:   map[string]bool{},
	}
}

// Run crawls search pages in order until max_pages, the release limit,
// an empty page, or an unrecoverable search failure stops it. Progress
// is committed every commit_every releases and always once more before
// returning, so a cancelled run loses at most the in-flight release.
// Cancellation surfaces as ErrInterrupted after the flush.
func (p *Pipeline) Run(ctx context.Context) (*Stats, error) {
	before, err := p.store.Counts(ctx)
	if err != nil {
		return nil, err
	}

	// The checkpoint transaction is detached from the run context:
	// cancellation must not roll back work that is waiting for the
	// final flush commit.
	p.flushCtx = context.WithoutCancel(ctx)
	if err := p.store.Begin(p.flushCtx); err != nil {
		return nil, err
	}

	processed := 0
	var runErr error

pages:
	for page := 1; page <= p.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			runErr = types.ErrInterrupted
			break
		}
		if p.cfg.ReleaseLimit > 0 && processed >= p.cfg.ReleaseLimit {
			break
		}

		p.logger.Info("fetching search page", "page", page)
		resp, err := p.session.Get(ctx, p.searchURL(page))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				runErr = types.ErrInterrupted
			} else {
				runErr = fmt.Errorf("search page %d: %w", page, err)
			}
			break
		}

		summaries, err := parser.ParseSearchResults(resp.Text())
		if err != nil {
			runErr = fmt.Errorf("search page %d: %w", page, err)
			break
		}
		if len(summaries) == 0 {
			p.logger.Warn("no releases detected on search page, treating as end of results", "page", page)
			p.dumpHTML("search_page", strconv.Itoa(page), resp.Text())
			break
		}

		for _, summary := range summaries {
			if ctx.Err() != nil {
				runErr = types.ErrInterrupted
				break pages
			}
			if p.seenReleases[summary.ReleaseID] {
				continue
			}
			p.seenReleases[summary.ReleaseID] = true

			if p.cfg.ReleaseLimit > 0 && processed >= p.cfg.ReleaseLimit {
				break pages
			}

			detail, err := p.fetchReleaseDetail(ctx, summary)
			if err != nil {
				p.logger.Warn("failed to fetch release, skipping",
					"release_id", summary.ReleaseID,
					"url", summary.URL,
					"error", err,
				)
				continue
			}

			if err := p.persistRelease(ctx, summary, detail); err != nil {
				runErr = err
				break pages
			}
			processed++

			if p.cfg.CommitEvery > 0 && processed%p.cfg.CommitEvery == 0 {
				if err := p.checkpoint(processed); err != nil {
					runErr = err
					break pages
				}
			}
		}
	}

	if err := p.store.Commit(); err != nil && runErr == nil {
		runErr = err
	}

	after, err := p.store.Counts(p.flushCtx)
	if err != nil && runErr == nil {
		runErr = err
	}

	stats := &Stats{
		ReleasesProcessed: processed,
		ItemsAdded:        max(after.Items-before.Items, 0),
		UsersAdded:        max(after.Users-before.Users, 0),
		InteractionsAdded: max(after.Interactions-before.Interactions, 0),
		TotalItems:        after.Items,
		TotalUsers:        after.Users,
		TotalInteractions: after.Interactions,
	}
	return stats, runErr
}

// checkpoint commits buffered work and reopens the transaction.
func (p *Pipeline) checkpoint(processed int) error {
	if err := p.store.Commit(); err != nil {
		return err
	}
	p.logger.Info("checkpoint committed", "releases_processed", processed, "commit_every", p.cfg.CommitEvery)
	return p.store.Begin(p.flushCtx)
}

func (p *Pipeline) searchURL(page int) string {
	params := url.Values{}
	params.Set("sort", p.cfg.Sort)
	params.Set("type", p.cfg.ReleaseType)
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(p.cfg.PerPage))
	return p.cfg.SearchPath + "?" + params.Encode()
}

func (p *Pipeline) fetchReleaseDetail(ctx context.Context, summary types.ReleaseSummary) (*types.ReleaseDetail, error) {
	resp, err := p.session.Get(ctx, summary.URL)
	if err != nil {
		return nil, err
	}
	detail, err := parser.ParseReleaseDetail(resp.Text())
	if err != nil {
		return nil, err
	}
	if detail.ReleaseID == 0 {
		detail.ReleaseID = summary.ReleaseID
	}
	return detail, nil
}

// persistRelease writes the item row under its canonical id, then the
// interaction edges for every user visible on the page.
func (p *Pipeline) persistRelease(ctx context.Context, summary types.ReleaseSummary, detail *types.ReleaseDetail) error {
	sourceID := detail.ReleaseID
	canonical := detail.CanonicalID()

	// A page where the master link failed to parse degrades to the
	// release id; a pressing already consolidated under a master must
	// keep writing to the master's row, not fork a duplicate.
	if canonical == sourceID && sourceID != 0 {
		existing, ok, err := p.resolver.ResolveItemID(ctx, sourceID)
		if err != nil {
			return err
		}
		if ok {
			canonical = existing
		}
	}

	rec := storage.ItemRecord{
		ItemID:          canonical,
		SourceReleaseID: sourceID,
		Title:           firstNonEmpty(detail.Title, summary.Title),
		Artists:         firstNonEmpty(detail.Artists, summary.Artists),
		Year:            detail.Year,
		Genres:          detail.Genres,
		Styles:          detail.Styles,
		ImageURL:        detail.ImageURL,
		Country:         detail.Country,
		Released:        detail.Released,
		FormatSummary:   detail.FormatSummary,
		LabelSummary:    detail.LabelSummary,
		Labels:          detail.Labels,
		Formats:         detail.Formats,
	}
	if rec.Year == 0 {
		rec.Year = summary.Year
	}

	if err := p.store.UpsertItem(ctx, rec); err != nil {
		return err
	}
	p.resolver.Observe(canonical, sourceID)

	for _, username := range detail.HaveUsers {
		if err := p.recordEdge(ctx, username, canonical, storage.InteractionCollection); err != nil {
			return err
		}
	}
	for _, username := range detail.WantUsers {
		if err := p.recordEdge(ctx, username, canonical, storage.InteractionWantlist); err != nil {
			return err
		}
	}
	for _, review := range detail.Reviews {
		if review.Rating == nil {
			continue
		}
		if err := p.recordReview(ctx, review, canonical); err != nil {
			return err
		}
	}

	if p.cfg.FetchExtendedUsers && p.cfg.MaxUserPages > 0 {
		p.ingestExtendedUsers(ctx, sourceID, canonical, detail.HaveUsers, detail.WantUsers)
	}
	return nil
}

func (p *Pipeline) recordEdge(ctx context.Context, username string, itemID int, kind string) error {
	user, err := p.ensureUser(ctx, username)
	if err != nil {
		if errors.Is(err, types.ErrEmptyUsername) {
			return nil
		}
		return err
	}
	return p.store.RecordInteraction(ctx, storage.InteractionRecord{
		UserID: user.UserID,
		ItemID: itemID,
		Type:   kind,
		Source: interactionSource,
	})
}

func (p *Pipeline) recordReview(ctx context.Context, review types.Review, itemID int) error {
	user, err := p.ensureUser(ctx, review.Username)
	if err != nil {
		if errors.Is(err, types.ErrEmptyUsername) {
			return nil
		}
		return err
	}

	dateAdded := ""
	if !review.Date.IsZero() {
		dateAdded = review.Date.Format("2006-01-02")
	}
	return p.store.RecordInteraction(ctx, storage.InteractionRecord{
		UserID:     user.UserID,
		ItemID:     itemID,
		Type:       storage.InteractionRating,
		Rating:     review.Rating,
		DateAdded:  dateAdded,
		Source:     interactionSource,
		ReviewText: review.Text,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
