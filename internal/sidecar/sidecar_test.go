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

package sidecar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
)

func TestQueueStatusUpdateFiltersZeroCounters(t *testing.T) {
	s := &Sidecar{}

	s.QueueStatusUpdate("1", 0, 0)
	assert.Empty(t, s.updates)

	s.QueueStatusUpdate("1", 3, 0)
	s.QueueStatusUpdate("2", 0, 1)
	assert.Len(t, s.updates, 2)

	// Queue order is preserved.
	assert.Equal(t, int64(1), s.updates[0].statusID)
	assert.Equal(t, int64(2), s.updates[1].statusID)
}

func TestQueueStatusUpdateRejectsNonNumericIDs(t *testing.T) {
	s := &Sidecar{}
	s.QueueStatusUpdate("9f4ebc3xyz", 3, 1)
	assert.Empty(t, s.updates)
}

func TestMergeCountersIsMonotonic(t *testing.T) {
	row := &FetchedStatus{RepliesCount: 5, ReblogsCount: 2, FavouritesCount: 9}

	mergeCounters(row, &ffmodel.Status{RepliesCount: 3, ReblogsCount: 4, FavouritesCount: 9})
	assert.Equal(t, 5, row.RepliesCount)
	assert.Equal(t, 4, row.ReblogsCount)
	assert.Equal(t, 9, row.FavouritesCount)

	// Repeated merges of smaller observations change nothing.
	mergeCounters(row, &ffmodel.Status{})
	assert.Equal(t, 5, row.RepliesCount)
	assert.Equal(t, 4, row.ReblogsCount)
	assert.Equal(t, 9, row.FavouritesCount)
}

func TestRowToStatus(t *testing.T) {
	id := int64(42)
	lang := "en"
	inReplyTo := "8"
	created := time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC)

	row := &FetchedStatus{
		URI:                 "https://peer.example/users/bob/statuses/9",
		URL:                 "https://peer.example/@bob/9",
		StatusID:            &id,
		Text:                "<p>hi</p>",
		CreatedAtOriginal:   created,
		RepliesCount:        1,
		ReblogsCount:        2,
		FavouritesCount:     3,
		InReplyToIDOriginal: &inReplyTo,
		Language:            &lang,
	}

	st := row.ToStatus()
	assert.Equal(t, "42", st.ID)
	assert.Equal(t, "https://peer.example/@bob/9", st.URL)
	assert.Equal(t, created, st.CreatedAt)
	assert.Equal(t, "8", st.InReplyToID)
	assert.Equal(t, "en", st.Language)
	assert.True(t, st.IsReply())
}

func TestRowToStatusWithoutLocalID(t *testing.T) {
	row := &FetchedStatus{
		URI: "https://peer.example/users/bob/statuses/9",
		URL: "https://peer.example/@bob/9",
	}
	st := row.ToStatus()
	assert.Empty(t, st.ID)
}

// Nil sidecars stand in for a disabled database and must be
// safe to call everywhere.
func TestNilSidecarIsInert(t *testing.T) {
	var s *Sidecar
	ctx := context.Background()

	s.QueueStatusUpdate("1", 2, 3)
	s.CommitStatusUpdates(ctx)
	s.Close(ctx)

	st, err := s.GetFromCache(ctx, "https://peer.example/@bob/9")
	assert.NoError(t, err)
	assert.Nil(t, st)

	dict, err := s.GetDictFromCache(ctx, []string{"u"})
	assert.NoError(t, err)
	assert.Empty(t, dict)

	assert.NoError(t, s.CacheStatus(ctx, &ffmodel.Status{URI: "u", URL: "u", CreatedAt: time.Now()}))
}
