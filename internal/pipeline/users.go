package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignaciolinari/discogs-SR/internal/parser"
	"github.com/ignaciolinari/discogs-SR/internal/storage"
	"github.com/ignaciolinari/discogs-SR/internal/types"
)

// ensureUser resolves a username to a stored user row, creating it on
// first sight. A profile fetch failure degrades to a stub record with
// the username as id; ingestion never blocks on profile availability.
func (p *Pipeline) ensureUser(ctx context.Context, username string) (*types.UserProfile, error) {
	normalized := strings.TrimSpace(username)
	if normalized == "" {
		return nil, types.ErrEmptyUsername
	}
	key := strings.ToLower(normalized)

	if existing, found, err := p.store.FindUser(ctx, key); err != nil {
		return nil, err
	} else if found {
		p.knownUsers[key] = true
		return existing, nil
	}

	var profile *types.UserProfile
	if p.cfg.FetchUserProfiles {
		profile = p.fetchUserProfile(ctx, normalized)
	}
	if profile == nil {
		profile = &types.UserProfile{Username: normalized, UserID: normalized}
	}

	if err := p.store.UpsertUser(ctx, profile); err != nil {
		return nil, err
	}
	p.knownUsers[key] = true
	if profile.UserID != "" {
		p.knownUsers[strings.ToLower(profile.UserID)] = true
	}
	return profile, nil
}

// fetchUserProfile fetches and parses a user page, returning nil on
// any failure.
func (p *Pipeline) fetchUserProfile(ctx context.Context, username string) *types.UserProfile {
	resp, err := p.session.Get(ctx, "/user/"+username)
	if err != nil {
		p.logger.Warn("could not fetch user profile", "username", username, "error", err)
		return nil
	}

	profile, err := parser.ParseUserProfile(resp.Text())
	if err != nil {
		p.logger.Warn("could not parse user profile", "username", username, "error", err)
		return nil
	}
	if profile.Username == "" {
		profile.Username = username
	}
	if profile.UserID == "" {
		profile.UserID = profile.Username
	}
	return profile
}

// ingestExtendedUsers pulls extra have/want usernames from the release
// statistics pages and records the edges. Failures here only reduce
// coverage, so errors are logged and swallowed.
func (p *Pipeline) ingestExtendedUsers(ctx context.Context, releaseID, itemID int, haveUsers, wantUsers []string) {
	haveSeen := lowerSet(haveUsers)
	for _, username := range p.fetchUserList(ctx, releaseID, "have") {
		key := strings.ToLower(username)
		if haveSeen[key] {
			continue
		}
		if err := p.recordEdge(ctx, username, itemID, storage.InteractionCollection); err != nil {
			p.logger.Warn("recording extended have user failed", "username", username, "error", err)
			continue
		}
		haveSeen[key] = true
	}

	wantSeen := lowerSet(wantUsers)
	for _, username := range p.fetchUserList(ctx, releaseID, "want") {
		key := strings.ToLower(username)
		if wantSeen[key] {
			continue
		}
		if err := p.recordEdge(ctx, username, itemID, storage.InteractionWantlist); err != nil {
			p.logger.Warn("recording extended want user failed", "username", username, "error", err)
			continue
		}
		wantSeen[key] = true
	}
}

// fetchUserList pages through the release statistics listing, up to
// MaxUserPages, stopping on an empty page, a fully duplicate page, or
// a fetch failure. A mostly duplicate page is treated as the end of
// the listing too.
func (p *Pipeline) fetchUserList(ctx context.Context, releaseID int, kind string) []string {
	var collected []string
	seen := map[string]bool{}

	for page := 1; page <= p.cfg.MaxUserPages; page++ {
		target := fmt.Sprintf("/release/stats/%d?page=%d&per_page=50", releaseID, page)
		resp, err := p.session.Get(ctx, target)
		if err != nil {
			p.logger.Warn("failed to fetch release stats page",
				"release_id", releaseID,
				"page", page,
				"error", err,
			)
			break
		}

		usernames, err := parser.ParseReleaseUserList(resp.Text())
		if err != nil || len(usernames) == 0 {
			p.logger.Warn("no usernames on stats page",
				"kind", kind,
				"release_id", releaseID,
				"page", page,
			)
			p.dumpHTML(kind+"_page", fmt.Sprintf("%d_%d", releaseID, page), resp.Text())
			break
		}

		var fresh []string
		for _, username := range usernames {
			if !seen[strings.ToLower(username)] {
				fresh = append(fresh, username)
			}
		}
		if len(fresh) == 0 {
			break
		}

		for _, username := range fresh {
			seen[strings.ToLower(username)] = true
		}
		collected = append(collected, fresh...)
		p.logger.Debug("collected usernames from stats page",
			"kind", kind,
			"release_id", releaseID,
			"page", page,
			"new", len(fresh),
			"total", len(collected),
		)

		if len(fresh) < len(usernames) {
			break
		}
	}
	return collected
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}
