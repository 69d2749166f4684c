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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
)

// A post trending on two feeds: counters summed across feeds,
// but the cached reply count gates the import decision.
func TestTrendingChangedGatedByCachedReplies(t *testing.T) {
	// s1 reported reblogs=3 favs=1, s2 reblogs=5 favs=1;
	// the feed merge summed them before we get here.
	merged := &ffmodel.Status{
		URL:             "https://peer.example/@bob/9",
		RepliesCount:    2,
		ReblogsCount:    8,
		FavouritesCount: 2,
	}
	cached := &ffmodel.Status{
		URL:             "https://peer.example/@bob/9",
		RepliesCount:    2,
		ReblogsCount:    4,
		FavouritesCount: 1,
	}

	// Reply count did not grow past the cached value:
	// nothing new to import this run.
	_, changed := trendingChanged(merged, cached)
	assert.False(t, changed)
}

func TestTrendingChangedNewReplies(t *testing.T) {
	merged := &ffmodel.Status{
		ID:              "9",
		URL:             "https://peer.example/@bob/9",
		RepliesCount:    5,
		ReblogsCount:    8,
		FavouritesCount: 2,
	}
	cached := &ffmodel.Status{
		URL:             "https://peer.example/@bob/9",
		RepliesCount:    2,
		ReblogsCount:    10,
		FavouritesCount: 1,
	}

	record, changed := trendingChanged(merged, cached)
	assert.True(t, changed)
	assert.Equal(t, 5, record.RepliesCount)

	// Counters stay monotonic: merged takes the max side.
	assert.Equal(t, 10, record.ReblogsCount)
	assert.Equal(t, 2, record.FavouritesCount)
	assert.Equal(t, "9", record.ID)
}

func TestTrendingChangedUncached(t *testing.T) {
	post := &ffmodel.Status{URL: "https://peer.example/@bob/9", RepliesCount: 1}
	record, changed := trendingChanged(post, nil)
	assert.True(t, changed)
	assert.Same(t, post, record)

	// A post nobody replied to has no thread to fetch.
	_, changed = trendingChanged(&ffmodel.Status{URL: "u"}, nil)
	assert.False(t, changed)
}
