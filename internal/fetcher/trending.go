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

	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
)

// trendingPageLimit is how many trending posts
// are pulled per external feed.
const trendingPageLimit = 40

// trendingPosts fans out across the configured external feeds,
// merges their trending posts by URL, and imports the threads
// of posts whose reply count grew since we last cached them.
func (f *Fetcher) trendingPosts(ctx context.Context) error {
	home := f.manager.Home(f.cfg.AdminToken())

	log.Info("getting trending posts")
	merged := f.fetchTrending(ctx)
	log.Infof("found %d trending posts", len(merged))

	changed := f.selectChangedTrending(ctx, merged)
	log.Infof("found %d trending posts with new replies", len(changed))

	urls := f.walker.KnownContextURLs(ctx, home, changed)
	f.importer.AddContextURLs(ctx, home, urls)
	return nil
}

// fetchTrending unions trending posts across all external
// feeds. A post trending on several feeds keeps one record
// whose reblog and favourite counts are the sums of what each
// feed reported, approximating its fediverse-wide resonance.
func (f *Fetcher) fetchTrending(ctx context.Context) []*ffmodel.Status {
	var (
		order  []string
		merged = map[string]*ffmodel.Status{}
	)

	for _, server := range f.cfg.ExternalFeedServers() {
		feed, err := f.manager.Peer(ctx, server)
		if err != nil {
			log.Errorf("error reaching trending feed %s: %v", server, err)
			continue
		}

		posts, err := feed.GetTrendingStatuses(ctx, trendingPageLimit)
		if err != nil {
			log.Errorf("error getting trending posts from %s: %v", server, err)
			continue
		}
		log.Infof("got %d trending posts from %s", len(posts), server)

		for _, post := range posts {
			if post.URL == "" {
				continue
			}
			if existing, ok := merged[post.URL]; ok {
				existing.ReblogsCount += post.ReblogsCount
				existing.FavouritesCount += post.FavouritesCount
				continue
			}
			merged[post.URL] = post
			order = append(order, post.URL)
		}
	}

	posts := make([]*ffmodel.Status, 0, len(order))
	for _, u := range order {
		if post := merged[u]; post.RepliesCount > 0 {
			posts = append(posts, post)
		}
	}
	return posts
}

// selectChangedTrending keeps the trending posts whose reply
// count exceeds what the URI cache last saw (i.e. there is new
// discussion to fetch), refreshing the cache along the way.
func (f *Fetcher) selectChangedTrending(ctx context.Context, posts []*ffmodel.Status) []*ffmodel.Status {
	urls := make([]string, 0, len(posts))
	for _, post := range posts {
		urls = append(urls, post.URL)
	}

	cached, err := f.sc.GetDictFromCache(ctx, urls)
	if err != nil {
		cached = map[string]*ffmodel.Status{}
	}

	var changed []*ffmodel.Status
	for _, post := range posts {
		record, ok := trendingChanged(post, cached[post.URL])
		if !ok {
			// No new discussion since last time.
			continue
		}
		changed = append(changed, post)
		if err := f.sc.CacheStatus(ctx, record); err != nil {
			log.Errorf("error caching trending post %s: %v", post.URL, err)
		}
	}
	return changed
}

// trendingChanged decides whether a merged trending post has
// new replies over the cached observation, and returns the
// record to cache: the prior record refreshed with the larger
// counters, or the post itself when nothing was cached.
func trendingChanged(post, prior *ffmodel.Status) (*ffmodel.Status, bool) {
	if prior == nil {
		return post, post.RepliesCount > 0
	}
	if post.RepliesCount <= prior.RepliesCount {
		return nil, false
	}
	prior.RepliesCount = post.RepliesCount
	prior.ReblogsCount = max(prior.ReblogsCount, post.ReblogsCount)
	prior.FavouritesCount = max(prior.FavouritesCount, post.FavouritesCount)
	prior.ID = post.ID
	return prior, true
}
