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

package ffmodel_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
)

func TestIsOriginal(t *testing.T) {
	assert.True(t, ffmodel.IsOriginal("https://peer.example/@bob/9", "9"))
	assert.True(t, ffmodel.IsOriginal("https://ck.example/notes/9f4ebc", "9f4ebc"))

	// A home-server record of a remote status reports the
	// local id, which won't match the origin URL.
	assert.False(t, ffmodel.IsOriginal("https://peer.example/@bob/9", "110000000000000001"))
	assert.False(t, ffmodel.IsOriginal("", "9"))
	assert.False(t, ffmodel.IsOriginal("https://peer.example/@bob/9", ""))
}

func TestEffectiveURL(t *testing.T) {
	st := &ffmodel.Status{URL: "https://home.example/@me/1"}
	assert.Equal(t, "https://home.example/@me/1", st.EffectiveURL())

	st.Reblog = &ffmodel.Status{URL: "https://peer.example/@bob/9"}
	assert.Equal(t, "https://peer.example/@bob/9", st.EffectiveURL())
}

func TestParseBackendKind(t *testing.T) {
	assert.Equal(t, ffmodel.BackendMastodon, ffmodel.ParseBackendKind("mastodon"))
	assert.Equal(t, ffmodel.BackendFirefish, ffmodel.ParseBackendKind("calckey"))
	assert.Equal(t, ffmodel.BackendPleroma, ffmodel.ParseBackendKind("akkoma"))
	assert.Equal(t, ffmodel.BackendLemmy, ffmodel.ParseBackendKind("lemmy"))
	assert.Equal(t, ffmodel.BackendPixelfed, ffmodel.ParseBackendKind("pixelfed"))
	assert.Equal(t, ffmodel.BackendUnknown, ffmodel.ParseBackendKind("writefreely"))
}

func TestStatusDecodesMastodonShape(t *testing.T) {
	blob := []byte(`{
		"id": "110000000000000001",
		"uri": "https://peer.example/users/bob/statuses/9",
		"url": "https://peer.example/@bob/9",
		"created_at": "2023-07-01T12:34:56.789Z",
		"in_reply_to_id": "8",
		"in_reply_to_account_id": "77",
		"replies_count": 3,
		"reblogs_count": 5,
		"favourites_count": 7,
		"content": "<p>hello</p>",
		"language": "en",
		"account": {"id": "77", "acct": "bob@peer.example", "username": "bob"},
		"mentions": [{"id": "1", "acct": "alice@home.example"}]
	}`)

	var st ffmodel.Status
	require.NoError(t, json.Unmarshal(blob, &st))

	assert.Equal(t, "110000000000000001", st.ID)
	assert.Equal(t, 2023, st.CreatedAt.Year())
	assert.True(t, st.IsReply())
	assert.Equal(t, 5, st.ReblogsCount)
	assert.Equal(t, "bob@peer.example", st.Account.Acct)
	assert.Len(t, st.Mentions, 1)
	assert.Nil(t, st.EditedAt)
}
