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

// Package federation fronts the per-software backend adapters
// behind a single capability set. Higher layers only ever talk
// to an Interface obtained from the Manager; the adapter behind
// it is selected once per peer from NodeInfo.
package federation

import (
	"context"
	"time"

	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
)

// API is the minimum capability set every backend adapter
// provides. All operations return fferror-wrapped errors;
// fferror.ErrNotFound and fferror.ErrUnsupported are the
// variants callers branch on.
type API interface {
	// ResolveStatus imports/resolves a remote post URL on this
	// server, returning the server's record of it. On the home
	// server this is the primary import mechanism (federated
	// search with resolve=true).
	ResolveStatus(ctx context.Context, url string) (*ffmodel.Status, error)

	// GetStatus looks up a status by this server's own id for it.
	GetStatus(ctx context.Context, id string) (*ffmodel.Status, error)

	// GetContextStatuses returns the raw thread context (ancestors
	// and descendants together) of the status with the given id.
	// The url is the status's viewer-facing URL, used by backends
	// whose context endpoint depends on the object kind.
	GetContextStatuses(ctx context.Context, id, url string) ([]*ffmodel.Status, error)

	// GetUserID resolves a bare username on this server to an id.
	GetUserID(ctx context.Context, username string) (string, error)

	// GetUserStatuses returns recent statuses of the given user.
	GetUserStatuses(ctx context.Context, userID string, limit int) ([]*ffmodel.Status, error)
}

// CollectorAPI is the extended capability set used against the
// home server (and, for trending, authenticated peers). Only
// the Mastodon-compatible adapter implements it.
type CollectorAPI interface {
	GetMe(ctx context.Context) (string, error)
	GetHomeTimeline(ctx context.Context, limit int) ([]*ffmodel.Status, error)
	GetNotifications(ctx context.Context, limit int) ([]*ffmodel.Notification, error)
	GetBookmarks(ctx context.Context, limit int) ([]*ffmodel.Status, error)
	GetFavourites(ctx context.Context, limit int) ([]*ffmodel.Status, error)
	GetFollowRequests(ctx context.Context, limit int) ([]*ffmodel.Account, error)
	GetFollowers(ctx context.Context, userID string, limit int) ([]*ffmodel.Account, error)
	GetFollowing(ctx context.Context, userID string, limit int) ([]*ffmodel.Account, error)
	GetTrendingStatuses(ctx context.Context, limit int) ([]*ffmodel.Status, error)
	GetActiveUserIDs(ctx context.Context, lookback time.Duration) ([]string, error)
}

// CommunityAPI is implemented by backends with a concept of
// group/community actors (Lemmy).
type CommunityAPI interface {
	GetCommunityPosts(ctx context.Context, name string) ([]*ffmodel.Status, error)
}

// StatusCache is the slice of the PostgreSQL sidecar the
// federation layer consults: the persistent URI cache. A nil
// StatusCache is valid and behaves as always-empty.
type StatusCache interface {
	GetFromCache(ctx context.Context, url string) (*ffmodel.Status, error)
	GetDictFromCache(ctx context.Context, urls []string) (map[string]*ffmodel.Status, error)
	CacheStatus(ctx context.Context, status *ffmodel.Status) error
}

// StatQueuer buffers engagement-counter updates for statuses
// known to the home server. A nil StatQueuer discards.
type StatQueuer interface {
	QueueStatusUpdate(localID string, reblogsCount, favouritesCount int)
}
