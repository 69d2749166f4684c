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

// Mentioned-user backfill bounds: at most this many users
// collected before the recency cutoff, and in total for
// posts within the cutoff window.
const (
	mentionedUsersPreCutoff  = 10
	mentionedUsersPostCutoff = 30
	mentionedUsersCutoff     = 60 * time.Minute
)

// tokenPosts runs every per-token sub-mode, each gated by its
// own configured limit.
func (f *Fetcher) tokenPosts(ctx context.Context, token string) error {
	home := f.manager.Home(token)
	log.Info("finding posts for provided token")

	if n := f.cfg.HomeTimelineLength; n > 0 {
		f.homeTimelineContext(ctx, home, n)
	}

	userID, err := home.GetMe(ctx)
	if err != nil {
		log.Debugf("could not get user ID, skipping replies/followings/followers: %v", err)
	} else {
		log.Debugf("got user ID: %s", userID)

		if f.cfg.ReplyIntervalInHours > 0 {
			f.ownReplyContext(ctx, home, userID)
		}

		if n := f.cfg.MaxFollowings; n > 0 {
			log.Infof("getting posts from last %d followings", n)
			users, err := home.GetFollowing(ctx, userID, n)
			if err != nil {
				log.Errorf("error getting followings: %v", err)
			} else {
				f.addUserPosts(ctx, home, f.filterKnownUsers(users), f.seen.KnownFollowings)
			}
		}

		if n := f.cfg.MaxFollowers; n > 0 {
			log.Infof("getting posts from last %d followers", n)
			users, err := home.GetFollowers(ctx, userID, n)
			if err != nil {
				log.Errorf("error getting followers: %v", err)
			} else {
				f.addUserPosts(ctx, home, f.filterKnownUsers(users), f.seen.RecentlyChecked)
			}
		}
	}

	if n := f.cfg.MaxFollowRequests; n > 0 {
		log.Infof("getting posts from last %d follow requests", n)
		users, err := home.GetFollowRequests(ctx, n)
		if err != nil {
			log.Errorf("error getting follow requests: %v", err)
		} else {
			f.addUserPosts(ctx, home, f.filterKnownUsers(users), f.seen.RecentlyChecked)
		}
	}

	if hours := f.cfg.FromNotifications; hours > 0 {
		f.notificationUsers(ctx, home, hours)
	}

	if n := f.cfg.MaxBookmarks; n > 0 {
		log.Infof("pulling replies to the last %d bookmarks", n)
		seeds, err := home.GetBookmarks(ctx, n)
		if err != nil {
			log.Errorf("error getting bookmarks: %v", err)
		} else {
			urls := f.walker.KnownContextURLs(ctx, home, seeds)
			f.importer.AddContextURLs(ctx, home, urls)
		}
	}

	if n := f.cfg.MaxFavourites; n > 0 {
		log.Infof("pulling replies to the last %d favourites", n)
		seeds, err := home.GetFavourites(ctx, n)
		if err != nil {
			log.Errorf("error getting favourites: %v", err)
		} else {
			urls := f.walker.KnownContextURLs(ctx, home, seeds)
			f.importer.AddContextURLs(ctx, home, urls)
		}
	}

	return nil
}

// homeTimelineContext imports thread context for the token
// owner's home timeline, then backfills mentioned users.
func (f *Fetcher) homeTimelineContext(ctx context.Context, home *federation.Interface, limit int) {
	log.Info("pulling context toots for home timeline")
	timeline, err := home.GetHomeTimeline(ctx, limit)
	if err != nil {
		log.Errorf("error getting home timeline: %v", err)
		return
	}
	log.Infof("found %d posts in timeline", len(timeline))

	urls := f.walker.KnownContextURLs(ctx, home, timeline)
	f.importer.AddContextURLs(ctx, home, urls)

	if f.cfg.BackfillMentionedUsers > 0 {
		log.Infof("backfilling posts from mentioned users")
		mentioned := collectMentionedUsers(timeline, f.allKnownUsers.Contains)
		f.addUserPosts(ctx, home, mentioned, f.seen.RecentlyChecked)
	}
}

// collectMentionedUsers picks the authors, mentions and reblog
// parties out of timeline posts, bounded to 10 users from
// arbitrarily old posts and 30 overall for posts within the
// last hour. knownFn filters out users already handled.
func collectMentionedUsers(timeline []*ffmodel.Status, knownFn func(string) bool) []*ffmodel.Account {
	cutoff := time.Now().Add(-mentionedUsersCutoff)

	var (
		users []*ffmodel.Account
		have  = map[string]struct{}{}
	)

	for _, st := range timeline {
		if len(users) >= mentionedUsersPostCutoff {
			break
		}
		if len(users) >= mentionedUsersPreCutoff && !st.CreatedAt.After(cutoff) {
			continue
		}

		var these []*ffmodel.Account
		if st.Account != nil {
			these = append(these, st.Account)
		}
		for i := range st.Mentions {
			these = append(these, mentionAccount(&st.Mentions[i]))
		}
		if st.Reblog != nil {
			if st.Reblog.Account != nil {
				these = append(these, st.Reblog.Account)
			}
			for i := range st.Reblog.Mentions {
				these = append(these, mentionAccount(&st.Reblog.Mentions[i]))
			}
		}

		for _, user := range these {
			if user.Acct == "" || knownFn(user.Acct) {
				continue
			}
			if _, ok := have[user.Acct]; ok {
				continue
			}
			have[user.Acct] = struct{}{}
			users = append(users, user)
		}
	}

	log.Debugf("mentioned users: %d", len(users))
	return users
}

// mentionAccount widens a status mention into the account
// shape the backfiller works on.
func mentionAccount(m *ffmodel.Mention) *ffmodel.Account {
	return &ffmodel.Account{
		ID:       m.ID,
		Username: m.Username,
		Acct:     m.Acct,
		URL:      m.URL,
	}
}

// ownReplyContext pulls the threads of posts the token owner
// recently replied to, from their origin servers.
func (f *Fetcher) ownReplyContext(ctx context.Context, home *federation.Interface, userID string) {
	log.Info("pulling context toots for replies")
	lookback := time.Duration(f.cfg.ReplyIntervalInHours) * time.Hour
	seeds := f.collectReplySeeds(ctx, home, []string{userID}, lookback)
	f.importReplyContext(ctx, home, seeds)
}

// notificationUsers backfills everybody who showed up in the
// token owner's notifications within the lookback window.
func (f *Fetcher) notificationUsers(ctx context.Context, home *federation.Interface, hours int) {
	log.Infof("getting notifications for last %d hours", hours)
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	notifications, err := home.GetNotifications(ctx, 4*40)
	if err != nil {
		log.Errorf("error getting notifications: %v", err)
		return
	}

	var (
		users []*ffmodel.Account
		have  = map[string]struct{}{}
	)
	for _, n := range notifications {
		if n.Account == nil || n.CreatedAt.Before(since) {
			continue
		}
		if _, ok := have[n.Account.Acct]; ok {
			continue
		}
		have[n.Account.Acct] = struct{}{}
		users = append(users, n.Account)
	}

	fresh := f.filterKnownUsers(users)
	log.Infof("found %d users in notifications, %d of which are new", len(users), len(fresh))
	f.addUserPosts(ctx, home, fresh, f.seen.RecentlyChecked)
}

// filterKnownUsers drops users we already handled this run or
// a recent one.
func (f *Fetcher) filterKnownUsers(users []*ffmodel.Account) []*ffmodel.Account {
	fresh := make([]*ffmodel.Account, 0, len(users))
	for _, user := range users {
		if user != nil && !f.allKnownUsers.Contains(user.Acct) {
			fresh = append(fresh, user)
		}
	}
	return fresh
}
