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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
)

func timelinePost(idx int, createdAt time.Time) *ffmodel.Status {
	return &ffmodel.Status{
		ID:        fmt.Sprintf("%d", idx),
		URL:       fmt.Sprintf("https://home.example/@me/%d", idx),
		CreatedAt: createdAt,
		Account: &ffmodel.Account{
			ID:   fmt.Sprintf("acc%d", idx),
			Acct: fmt.Sprintf("user%d@peer.example", idx),
		},
	}
}

func TestCollectMentionedUsersDedupes(t *testing.T) {
	now := time.Now()
	timeline := []*ffmodel.Status{
		timelinePost(1, now),
		timelinePost(1, now), // same author again
	}
	timeline[0].Mentions = []ffmodel.Mention{
		{ID: "m1", Acct: "friend@peer.example"},
	}

	users := collectMentionedUsers(timeline, func(string) bool { return false })
	assert.Len(t, users, 2)
}

func TestCollectMentionedUsersSkipsKnown(t *testing.T) {
	timeline := []*ffmodel.Status{timelinePost(1, time.Now())}

	users := collectMentionedUsers(timeline, func(acct string) bool {
		return acct == "user1@peer.example"
	})
	assert.Empty(t, users)
}

func TestCollectMentionedUsersIncludesReblogParties(t *testing.T) {
	st := timelinePost(1, time.Now())
	st.Reblog = &ffmodel.Status{
		Account:  &ffmodel.Account{ID: "r", Acct: "booster@peer.example"},
		Mentions: []ffmodel.Mention{{ID: "rm", Acct: "mentioned@peer.example"}},
	}

	users := collectMentionedUsers([]*ffmodel.Status{st}, func(string) bool { return false })
	assert.Len(t, users, 3)
}

// Old posts stop contributing at 10 users; posts within the
// last hour may push the total to 30.
func TestCollectMentionedUsersBounds(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now().Add(-time.Minute)

	var timeline []*ffmodel.Status
	for i := 0; i < 20; i++ {
		timeline = append(timeline, timelinePost(i, old))
	}
	users := collectMentionedUsers(timeline, func(string) bool { return false })
	assert.Len(t, users, mentionedUsersPreCutoff)

	timeline = nil
	for i := 0; i < 50; i++ {
		timeline = append(timeline, timelinePost(i, fresh))
	}
	users = collectMentionedUsers(timeline, func(string) bool { return false })
	assert.Len(t, users, mentionedUsersPostCutoff)
}
