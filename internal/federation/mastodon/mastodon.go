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

// Package mastodon adapts the Mastodon client API, which is
// also the best-effort dialect for Pleroma, Pixelfed and any
// peer whose software we cannot identify.
package mastodon

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
	"github.com/superseriousbusiness/fedifetcher/internal/httpclient"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
)

// pageSize is the item count requested per page;
// the API caps most listings at 40 anyway.
const pageSize = 40

// Mastodon is the adapter for one Mastodon-compatible server.
type Mastodon struct {
	client *httpclient.Client
}

// New returns a Mastodon adapter speaking to the given client.
func New(client *httpclient.Client) *Mastodon {
	return &Mastodon{client: client}
}

// searchResult is the v2 search response; we
// only ever ask for statuses.
type searchResult struct {
	Statuses []*ffmodel.Status `json:"statuses"`
}

// ResolveStatus imports/resolves a remote post URL via the
// server's federated search. The primary import mechanism.
func (m *Mastodon) ResolveStatus(ctx context.Context, statusURL string) (*ffmodel.Status, error) {
	query := url.Values{}
	query.Set("q", statusURL)
	query.Set("resolve", "true")
	query.Set("limit", "1")

	var result searchResult
	if _, err := m.client.Get(ctx, "/api/v2/search", query, &result); err != nil {
		return nil, err
	}

	for _, st := range result.Statuses {
		if st.URL == statusURL || st.URI == statusURL {
			return st, nil
		}
		log.Debugf("%s did not match search result %s", statusURL, st.URL)
	}
	return nil, fferror.Wrapf("%s: %w", statusURL, fferror.ErrNotFound)
}

// GetStatus looks up a status by this server's id.
func (m *Mastodon) GetStatus(ctx context.Context, id string) (*ffmodel.Status, error) {
	var st ffmodel.Status
	if _, err := m.client.Get(ctx, "/api/v1/statuses/"+id, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetContextStatuses returns thread ancestors and descendants
// of the status with the given id.
func (m *Mastodon) GetContextStatuses(ctx context.Context, id, _ string) ([]*ffmodel.Status, error) {
	var sc ffmodel.Context
	if _, err := m.client.Get(ctx, "/api/v1/statuses/"+id+"/context", nil, &sc); err != nil {
		return nil, err
	}
	return append(sc.Ancestors, sc.Descendants...), nil
}

// GetUserID resolves a username to an account id without
// WebFinger, via the lookup endpoint.
func (m *Mastodon) GetUserID(ctx context.Context, username string) (string, error) {
	query := url.Values{}
	query.Set("acct", username)

	var account ffmodel.Account
	if _, err := m.client.Get(ctx, "/api/v1/accounts/lookup", query, &account); err != nil {
		return "", err
	}
	if account.ID == "" || account.Username != username {
		return "", fferror.Wrapf("account %s: %w", username, fferror.ErrNotFound)
	}
	return account.ID, nil
}

// GetUserStatuses returns recent statuses of the given account.
func (m *Mastodon) GetUserStatuses(ctx context.Context, userID string, limit int) ([]*ffmodel.Status, error) {
	return m.pagedStatuses(ctx, "/api/v1/accounts/"+userID+"/statuses", limit)
}

// GetMe returns the id of the token's owner.
func (m *Mastodon) GetMe(ctx context.Context) (string, error) {
	var account ffmodel.Account
	if _, err := m.client.Get(ctx, "/api/v1/accounts/verify_credentials", nil, &account); err != nil {
		return "", err
	}
	if account.ID == "" {
		return "", fferror.Wrapf("verify_credentials: %w", fferror.ErrNotFound)
	}
	return account.ID, nil
}

// GetHomeTimeline returns up to limit posts of the token
// owner's home timeline.
func (m *Mastodon) GetHomeTimeline(ctx context.Context, limit int) ([]*ffmodel.Status, error) {
	return m.pagedStatuses(ctx, "/api/v1/timelines/home", limit)
}

// GetNotifications returns up to limit notifications
// concerning the token owner, newest first.
func (m *Mastodon) GetNotifications(ctx context.Context, limit int) ([]*ffmodel.Notification, error) {
	return paged[*ffmodel.Notification](ctx, m.client, "/api/v1/notifications", limit)
}

// GetBookmarks returns up to limit bookmarked statuses.
func (m *Mastodon) GetBookmarks(ctx context.Context, limit int) ([]*ffmodel.Status, error) {
	return m.pagedStatuses(ctx, "/api/v1/bookmarks", limit)
}

// GetFavourites returns up to limit favourited statuses.
func (m *Mastodon) GetFavourites(ctx context.Context, limit int) ([]*ffmodel.Status, error) {
	return m.pagedStatuses(ctx, "/api/v1/favourites", limit)
}

// GetFollowRequests returns up to limit pending follow requests.
func (m *Mastodon) GetFollowRequests(ctx context.Context, limit int) ([]*ffmodel.Account, error) {
	return paged[*ffmodel.Account](ctx, m.client, "/api/v1/follow_requests", limit)
}

// GetFollowers returns up to limit accounts following the given account.
func (m *Mastodon) GetFollowers(ctx context.Context, userID string, limit int) ([]*ffmodel.Account, error) {
	return paged[*ffmodel.Account](ctx, m.client, "/api/v1/accounts/"+userID+"/followers", limit)
}

// GetFollowing returns up to limit accounts the given account follows.
func (m *Mastodon) GetFollowing(ctx context.Context, userID string, limit int) ([]*ffmodel.Account, error) {
	return paged[*ffmodel.Account](ctx, m.client, "/api/v1/accounts/"+userID+"/following", limit)
}

// GetTrendingStatuses returns up to limit trending statuses.
// The trends endpoint pages by offset, not by Link header.
func (m *Mastodon) GetTrendingStatuses(ctx context.Context, limit int) ([]*ffmodel.Status, error) {
	var all []*ffmodel.Status
	for len(all) < limit {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(pageSize))
		query.Set("offset", strconv.Itoa(len(all)))

		var batch []*ffmodel.Status
		if _, err := m.client.Get(ctx, "/api/v1/trends/statuses", query, &batch); err != nil {
			if len(all) == 0 {
				return nil, err
			}
			break
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		if len(batch) < pageSize {
			break
		}
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// GetActiveUserIDs enumerates local accounts with posting
// activity within the lookback window. Requires the token to
// carry the admin:read:accounts scope.
func (m *Mastodon) GetActiveUserIDs(ctx context.Context, lookback time.Duration) ([]string, error) {
	query := url.Values{}
	query.Set("origin", "local")
	query.Set("status", "active")

	var accounts []*ffmodel.AdminAccount
	if _, err := m.client.Get(ctx, "/api/v2/admin/accounts", query, &accounts); err != nil {
		return nil, err
	}

	since := time.Now().Add(-lookback)
	var ids []string
	for _, admin := range accounts {
		if admin.Account == nil || admin.Account.LastStatusAt == "" {
			continue
		}
		lastActive, err := parseLastStatusAt(admin.Account.LastStatusAt)
		if err != nil {
			continue
		}
		if lastActive.After(since) {
			log.Debugf("found active local user %s", admin.Account.Username)
			ids = append(ids, admin.ID)
		}
	}
	return ids, nil
}

func (m *Mastodon) pagedStatuses(ctx context.Context, path string, limit int) ([]*ffmodel.Status, error) {
	return paged[*ffmodel.Status](ctx, m.client, path, limit)
}

func paged[T any](ctx context.Context, client *httpclient.Client, path string, limit int) ([]T, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(min(limit, pageSize)))
	return httpclient.GetPaged[T](ctx, client, path, query, limit)
}

// parseLastStatusAt handles both the bare-date form modern
// Mastodon serves and full timestamps older versions used.
func parseLastStatusAt(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		// A bare date means "some time that day"; bias to
		// end of day so day-granular activity counts.
		return t.Add(24*time.Hour - time.Second), nil
	}
	return time.Parse(time.RFC3339, s)
}
