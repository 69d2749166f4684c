// FediFetcher
// Copyright (C) FediFetcher Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package federation

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
)

// bulkConcurrency bounds parallel URL resolution
// against a single server in GetIDs.
const bulkConcurrency = 10

// Interface is the single entry point higher layers use to
// talk to one peer (or the home) server, whatever software
// it runs. Obtained from the Manager, which probes NodeInfo
// exactly once per domain.
type Interface struct {
	domain string
	kind   ffmodel.BackendKind
	api    API

	// failed is set when the peer rejects us outright
	// (auth-gated AP endpoints etc.); every later call
	// short-circuits for the rest of the run.
	failed atomic.Bool
}

// Domain returns the normalized domain this interface fronts.
func (i *Interface) Domain() string { return i.domain }

// Kind returns the detected backend software family.
func (i *Interface) Kind() ffmodel.BackendKind { return i.kind }

// Get imports/resolves a remote post URL on this server,
// returning this server's record of the status.
func (i *Interface) Get(ctx context.Context, statusURL string) (*ffmodel.Status, error) {
	if i.failed.Load() {
		return nil, fferror.Wrapf("%s: %w", i.domain, fferror.ErrUnsupported)
	}
	st, err := i.api.ResolveStatus(ctx, statusURL)
	if err != nil {
		i.noteFailure(err)
		return nil, err
	}
	return st, nil
}

// GetStatus looks up a status by this server's id for it.
func (i *Interface) GetStatus(ctx context.Context, id string) (*ffmodel.Status, error) {
	if i.failed.Load() {
		return nil, fferror.Wrapf("%s: %w", i.domain, fferror.ErrUnsupported)
	}
	return i.api.GetStatus(ctx, id)
}

// GetID returns this server's status id for the given remote
// URL, importing it if needed. The URI cache is consulted and
// updated when non-nil.
func (i *Interface) GetID(ctx context.Context, statusURL string, cache StatusCache) (string, error) {
	if cache != nil {
		cached, err := cache.GetFromCache(ctx, statusURL)
		if err == nil && cached != nil && cached.ID != "" {
			return cached.ID, nil
		}
	}

	st, err := i.Get(ctx, statusURL)
	if err != nil {
		return "", err
	}
	if st == nil || st.ID == "" {
		return "", fferror.Wrapf("%s: %s: %w", i.domain, statusURL, fferror.ErrNotFound)
	}

	if cache != nil {
		if err := cache.CacheStatus(ctx, st); err != nil {
			log.Errorf("error caching status %s: %v", statusURL, err)
		}
	}
	return st.ID, nil
}

// GetIDs is the batched variant of GetID: it resolves each URL
// concurrently (at most bulkConcurrency in flight) and returns
// a url -> id mapping containing only the resolvable URLs.
func (i *Interface) GetIDs(ctx context.Context, urls []string, cache StatusCache) map[string]string {
	ids := make(map[string]string, len(urls))

	var cached map[string]*ffmodel.Status
	if cache != nil {
		var err error
		cached, err = cache.GetDictFromCache(ctx, urls)
		if err != nil {
			log.Errorf("error bulk-reading status cache: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		gate = make(chan struct{}, bulkConcurrency)
	)

	for _, u := range urls {
		if st := cached[u]; st != nil && st.ID != "" {
			ids[u] = st.ID
			continue
		}

		wg.Add(1)
		go func(u string) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case gate <- struct{}{}:
				defer func() { <-gate }()
			}

			id, err := i.GetID(ctx, u, cache)
			if err != nil {
				if !fferror.NotFound(err) {
					log.Warnf("failed to get status id for %s on %s: %v", u, i.domain, err)
				}
				return
			}

			mu.Lock()
			ids[u] = id
			mu.Unlock()
		}(u)
	}

	wg.Wait()
	return ids
}

// GetContext returns the remote URLs making up the thread of
// the status with the given id, sorted by origin host so that
// subsequent traffic groups per peer.
func (i *Interface) GetContext(ctx context.Context, id, statusURL string) ([]string, error) {
	statuses, err := i.contextStatuses(ctx, id, statusURL)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(statuses))
	for _, st := range statuses {
		if st.URL != "" {
			urls = append(urls, st.URL)
		}
	}
	return urls, nil
}

// GetRemoteStatusContext fetches the thread of the given status
// on this (origin) server, resolves every member to a home-server
// id, queues engagement-count updates for each resolved one, and
// returns the thread's URLs (origin-host sorted).
func (i *Interface) GetRemoteStatusContext(
	ctx context.Context,
	id string,
	statusURL string,
	home *Interface,
	cache StatusCache,
	stats StatQueuer,
) ([]string, error) {
	statuses, err := i.contextStatuses(ctx, id, statusURL)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(statuses))
	for _, st := range statuses {
		if st.URL != "" {
			urls = append(urls, st.URL)
		}
	}

	if home != nil && stats != nil {
		ids := home.GetIDs(ctx, urls, cache)
		for _, st := range statuses {
			if localID := ids[st.URL]; localID != "" {
				stats.QueueStatusUpdate(localID, st.ReblogsCount, st.FavouritesCount)
			}
		}
	}

	return urls, nil
}

func (i *Interface) contextStatuses(ctx context.Context, id, statusURL string) ([]*ffmodel.Status, error) {
	if i.failed.Load() {
		return nil, fferror.Wrapf("%s: %w", i.domain, fferror.ErrUnsupported)
	}
	statuses, err := i.api.GetContextStatuses(ctx, id, statusURL)
	if err != nil {
		i.noteFailure(err)
		return nil, err
	}
	sort.SliceStable(statuses, func(a, b int) bool {
		return hostOfURL(statuses[a].URL) < hostOfURL(statuses[b].URL)
	})
	return statuses, nil
}

// GetUserID resolves a username on this server to an id.
func (i *Interface) GetUserID(ctx context.Context, username string) (string, error) {
	if i.failed.Load() {
		return "", fferror.Wrapf("%s: %w", i.domain, fferror.ErrUnsupported)
	}
	return i.api.GetUserID(ctx, username)
}

// GetUserStatuses returns the user's statuses newer than since,
// skipping any whose URL the URI cache already holds.
func (i *Interface) GetUserStatuses(
	ctx context.Context,
	userID string,
	since time.Time,
	limit int,
	cache StatusCache,
) ([]*ffmodel.Status, error) {
	if i.failed.Load() {
		return nil, fferror.Wrapf("%s: %w", i.domain, fferror.ErrUnsupported)
	}
	statuses, err := i.api.GetUserStatuses(ctx, userID, limit)
	if err != nil {
		i.noteFailure(err)
		return nil, err
	}

	keep := statuses[:0]
	for _, st := range statuses {
		if !since.IsZero() && !st.CreatedAt.After(since) {
			continue
		}
		if cache != nil {
			if cached, err := cache.GetFromCache(ctx, st.URL); err == nil && cached != nil {
				continue
			}
		}
		keep = append(keep, st)
	}
	return keep, nil
}

// GetCommunityPosts returns recent posts of a group/community
// actor, for backends that have them.
func (i *Interface) GetCommunityPosts(ctx context.Context, name string) ([]*ffmodel.Status, error) {
	capi, ok := i.api.(CommunityAPI)
	if !ok {
		return nil, fferror.Wrapf("%s: communities: %w", i.domain, fferror.ErrUnsupported)
	}
	return capi.GetCommunityPosts(ctx, name)
}

// Collector operations; these only function against a
// Mastodon-compatible server (in practice: the home server,
// and trending feeds).

func (i *Interface) GetMe(ctx context.Context) (string, error) {
	capi, err := i.collector()
	if err != nil {
		return "", err
	}
	return capi.GetMe(ctx)
}

func (i *Interface) GetHomeTimeline(ctx context.Context, limit int) ([]*ffmodel.Status, error) {
	capi, err := i.collector()
	if err != nil {
		return nil, err
	}
	return capi.GetHomeTimeline(ctx, limit)
}

func (i *Interface) GetNotifications(ctx context.Context, limit int) ([]*ffmodel.Notification, error) {
	capi, err := i.collector()
	if err != nil {
		return nil, err
	}
	return capi.GetNotifications(ctx, limit)
}

func (i *Interface) GetBookmarks(ctx context.Context, limit int) ([]*ffmodel.Status, error) {
	capi, err := i.collector()
	if err != nil {
		return nil, err
	}
	return capi.GetBookmarks(ctx, limit)
}

func (i *Interface) GetFavourites(ctx context.Context, limit int) ([]*ffmodel.Status, error) {
	capi, err := i.collector()
	if err != nil {
		return nil, err
	}
	return capi.GetFavourites(ctx, limit)
}

func (i *Interface) GetFollowRequests(ctx context.Context, limit int) ([]*ffmodel.Account, error) {
	capi, err := i.collector()
	if err != nil {
		return nil, err
	}
	return capi.GetFollowRequests(ctx, limit)
}

func (i *Interface) GetFollowers(ctx context.Context, userID string, limit int) ([]*ffmodel.Account, error) {
	capi, err := i.collector()
	if err != nil {
		return nil, err
	}
	return capi.GetFollowers(ctx, userID, limit)
}

func (i *Interface) GetFollowing(ctx context.Context, userID string, limit int) ([]*ffmodel.Account, error) {
	capi, err := i.collector()
	if err != nil {
		return nil, err
	}
	return capi.GetFollowing(ctx, userID, limit)
}

func (i *Interface) GetTrendingStatuses(ctx context.Context, limit int) ([]*ffmodel.Status, error) {
	capi, err := i.collector()
	if err != nil {
		return nil, err
	}
	return capi.GetTrendingStatuses(ctx, limit)
}

func (i *Interface) GetActiveUserIDs(ctx context.Context, lookback time.Duration) ([]string, error) {
	capi, err := i.collector()
	if err != nil {
		return nil, err
	}
	return capi.GetActiveUserIDs(ctx, lookback)
}

func (i *Interface) collector() (CollectorAPI, error) {
	capi, ok := i.api.(CollectorAPI)
	if !ok {
		return nil, fferror.Wrapf("%s (%s): %w", i.domain, i.kind, fferror.ErrUnsupported)
	}
	if i.failed.Load() {
		return nil, fferror.Wrapf("%s: %w", i.domain, fferror.ErrUnsupported)
	}
	return capi, nil
}

// noteFailure marks this peer failed for the rest of the run
// when it rejects us at the auth level. Some Firefish deploys
// require auth on /api/ap/show; there is no point retrying
// such a peer every thread.
func (i *Interface) noteFailure(err error) {
	switch fferror.StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		if i.failed.CompareAndSwap(false, true) {
			log.Warnf("marking peer %s failed for this run: %v", i.domain, err)
		}
	}
}

func hostOfURL(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	return u.Host
}
