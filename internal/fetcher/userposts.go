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
	"strings"

	"github.com/superseriousbusiness/fedifetcher/internal/federation"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
	"github.com/superseriousbusiness/fedifetcher/internal/orderedset"
)

// addUserPosts backfills the recent posts of each given user
// from that user's origin server. A user whose posts all
// import cleanly lands in successSet (and in the per-run known
// set) so later sub-modes and runs skip them.
func (f *Fetcher) addUserPosts(
	ctx context.Context,
	home *federation.Interface,
	users []*ffmodel.Account,
	successSet *orderedset.OrderedSet,
) {
	for _, user := range users {
		if f.allKnownUsers.Contains(user.Acct) {
			continue
		}
		if strings.HasPrefix(user.URL, "https://"+f.manager.HomeDomain()+"/") {
			// Local users' posts are here already.
			successSet.Add(user.Acct)
			f.allKnownUsers.Add(user.Acct)
			continue
		}

		posts, ok := f.userPosts(ctx, user)
		if !ok {
			continue
		}

		var count, failed, alreadyAdded int
		for _, post := range posts {
			if post.Reblog != nil || post.URL == "" {
				continue
			}
			if f.importer.WasImported(post.URL) {
				alreadyAdded++
				continue
			}
			if f.addPostWithContext(ctx, home, post) {
				count++
			} else {
				failed++
			}
		}

		log.Infof("added %d posts for user %s with %d errors and %d already seen",
			count, user.Acct, failed, alreadyAdded)

		if failed == 0 {
			successSet.Add(user.Acct)
			f.allKnownUsers.Add(user.Acct)
		}
	}
}

// userPosts fetches a user's recent posts from their origin
// server, dispatching on the shape of their profile URL.
func (f *Fetcher) userPosts(ctx context.Context, user *ffmodel.Account) ([]*ffmodel.Status, bool) {
	profile := f.parser.Profile(user.URL)
	if profile == nil || profile.Server == f.manager.HomeDomain() {
		f.seen.KnownFollowings.Add(user.Acct)
		f.allKnownUsers.Add(user.Acct)
		return nil, false
	}

	origin, err := f.manager.Peer(ctx, profile.Server)
	if err != nil {
		log.Errorf("error reaching %s for user %s: %v", profile.Server, user.Acct, err)
		return nil, false
	}

	if profile.Community {
		posts, err := origin.GetCommunityPosts(ctx, profile.Username)
		if err != nil {
			log.Errorf("error getting posts for community %s: %v", profile.Username, err)
			return nil, false
		}
		return posts, true
	}

	log.Infof("getting user ID for user %s", user.Acct)
	userID, err := origin.GetUserID(ctx, profile.Username)
	if err != nil {
		log.Errorf("error getting user ID for user %s: %v", user.Acct, err)
		return nil, false
	}

	posts, err := origin.GetUserStatuses(ctx, userID, f.seen.RecentlyChecked.Time(user.Acct), 40, f.sc)
	if err != nil {
		log.Errorf("error getting user posts for user %s: %v", user.Acct, err)
		return nil, false
	}
	return posts, true
}

// addPostWithContext imports a single backfilled post and,
// when enabled, the thread around it.
func (f *Fetcher) addPostWithContext(ctx context.Context, home *federation.Interface, post *ffmodel.Status) bool {
	st, err := home.Get(ctx, post.URL)
	if err != nil || st == nil {
		log.Debugf("failed to add %s to %s", post.URL, f.manager.HomeDomain())
		return false
	}
	if f.sc != nil {
		if cerr := f.sc.CacheStatus(ctx, st); cerr != nil {
			log.Errorf("error caching backfilled status %s: %v", post.URL, cerr)
		}
	}

	if f.cfg.BackfillWithContext > 0 && (post.RepliesCount > 0 || post.IsReply()) {
		urls := f.walker.KnownContextURLs(ctx, home, []*ffmodel.Status{post})
		f.importer.AddContextURLs(ctx, home, urls)
	}
	return true
}
