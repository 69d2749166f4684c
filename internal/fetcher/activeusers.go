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

package fetcher

import (
	"context"
	"time"

	"github.com/superseriousbusiness/fedifetcher/internal/federation"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
)

// activeUsers pulls thread context for the recent replies of
// every active local account. Requires the first access token
// to carry the admin:read:accounts scope; without it the mode
// fails (and is logged) without hurting its siblings.
func (f *Fetcher) activeUsers(ctx context.Context) error {
	home := f.manager.Home(f.cfg.AdminToken())
	lookback := time.Duration(f.cfg.ReplyIntervalInHours) * time.Hour

	log.Info("getting active user IDs")
	userIDs, err := home.GetActiveUserIDs(ctx, lookback)
	if err != nil {
		log.Warn("error getting active user IDs. This optional feature requires " +
			"the admin:read:accounts scope to be enabled on the first access token " +
			"provided. Continuing without active user IDs.")
		return err
	}
	log.Debugf("found %d active user IDs", len(userIDs))

	seeds := f.collectReplySeeds(ctx, home, userIDs, lookback)
	log.Info("pulling context toots for replies")
	f.importReplyContext(ctx, home, seeds)
	return nil
}

// collectReplySeeds gathers each user's recent replies that the
// URI cache has not seen yet.
func (f *Fetcher) collectReplySeeds(
	ctx context.Context,
	home *federation.Interface,
	userIDs []string,
	lookback time.Duration,
) []*ffmodel.Status {
	since := time.Now().Add(-lookback)

	var seeds []*ffmodel.Status
	for _, userID := range userIDs {
		statuses, err := home.GetUserStatuses(ctx, userID, since, 40, f.sc)
		if err != nil {
			log.Errorf("error getting user posts for user %s: %v", userID, err)
			continue
		}
		for _, st := range statuses {
			if st.IsReply() {
				seeds = append(seeds, st)
			}
		}
	}
	return seeds
}

// importReplyContext walks both halves of the reply picture:
// the threads of the seeds themselves, and the threads of the
// posts they replied to (resolved on their origin servers).
func (f *Fetcher) importReplyContext(ctx context.Context, home *federation.Interface, seeds []*ffmodel.Status) {
	urls := f.walker.KnownContextURLs(ctx, home, seeds)
	f.importer.AddContextURLs(ctx, home, urls)

	sources := f.walker.RepliedStatusSources(ctx, seeds)
	urls = f.walker.ContextURLs(ctx, home, sources)
	f.importer.AddContextURLs(ctx, home, urls)
}
