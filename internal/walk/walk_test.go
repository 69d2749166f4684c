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

package walk_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/superseriousbusiness/fedifetcher/internal/federation"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
	"github.com/superseriousbusiness/fedifetcher/internal/state"
	"github.com/superseriousbusiness/fedifetcher/internal/urlparse"
	"github.com/superseriousbusiness/fedifetcher/internal/walk"
)

type WalkTestSuite struct {
	suite.Suite
	origin  *httptest.Server
	manager *federation.Manager
	seen    *state.Seen
	walker  *walk.Walker
}

func (suite *WalkTestSuite) SetupTest() {
	mux := http.NewServeMux()
	mux.HandleFunc("/nodeinfo/2.0", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"software": {"name": "mastodon", "version": "4.2"}}`)
	})
	mux.HandleFunc("/api/v1/statuses/9/context", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"ancestors": [{"id": "8", "url": "https://peer.example/@bob/8"}],
			"descendants": [{"id": "7", "url": "https://home.example/@carol/7"}]
		}`)
	})
	suite.origin = httptest.NewServer(mux)

	suite.manager = federation.NewManager("home.example", nil, 2*time.Second)
	suite.manager.SetBaseURLFunc(func(domain string) string {
		if domain == "peer.example" {
			return suite.origin.URL
		}
		return ""
	})

	var err error
	suite.seen, err = state.Load(suite.T().TempDir())
	suite.Require().NoError(err)

	suite.walker = walk.New(suite.manager, urlparse.NewParser(), suite.seen, nil, nil)
}

func (suite *WalkTestSuite) TearDownTest() {
	suite.origin.Close()
}

// Thread expansion drops URLs the home server already hosts.
func (suite *WalkTestSuite) TestKnownContextURLsDropsLocal() {
	seeds := []*ffmodel.Status{{
		ID:  "9",
		URL: "https://peer.example/@bob/9",
	}}

	urls := suite.walker.KnownContextURLs(context.Background(), nil, seeds)
	suite.Equal([]string{"https://peer.example/@bob/8"}, urls)
}

// A reblog seed walks the boosted status's thread, not the boost's.
func (suite *WalkTestSuite) TestKnownContextURLsUsesReblogURL() {
	seeds := []*ffmodel.Status{{
		ID:  "1234",
		URL: "https://home.example/@me/1234",
		Reblog: &ffmodel.Status{
			ID:  "9",
			URL: "https://peer.example/@bob/9",
		},
	}}

	urls := suite.walker.KnownContextURLs(context.Background(), nil, seeds)
	suite.Equal([]string{"https://peer.example/@bob/8"}, urls)
}

func (suite *WalkTestSuite) TestKnownContextURLsSkipsUnparseable() {
	seeds := []*ffmodel.Status{{
		ID:  "x",
		URL: "https://weird.example/some/deep/unknown/path",
	}}

	urls := suite.walker.KnownContextURLs(context.Background(), nil, seeds)
	suite.Empty(urls)
}

// A previously-resolved reply mapping is reused without any
// HTTP probing; the unresolved sentinel short-circuits too.
func (suite *WalkTestSuite) TestRepliedStatusSourcesFromSeenState() {
	resolved := "https://peer.example/@bob/8,peer.example,8"
	suite.seen.SetReplyMapping("https://home.example/@bob/8", &resolved)
	suite.seen.SetReplyMapping("https://home.example/@dora/55", nil)

	seeds := []*ffmodel.Status{
		{
			ID:                 "10",
			URL:                "https://home.example/@me/10",
			InReplyToID:        "8",
			InReplyToAccountID: "acc-bob",
			Mentions: []ffmodel.Mention{
				{ID: "acc-bob", Acct: "bob", URL: "https://peer.example/@bob"},
			},
		},
		{
			ID:                 "11",
			URL:                "https://home.example/@me/11",
			InReplyToID:        "55",
			InReplyToAccountID: "acc-dora",
			Mentions: []ffmodel.Mention{
				{ID: "acc-dora", Acct: "dora", URL: "https://else.example/@dora"},
			},
		},
		{
			// No mention matching the replied-to account.
			ID:                 "12",
			URL:                "https://home.example/@me/12",
			InReplyToID:        "90",
			InReplyToAccountID: "acc-nobody",
		},
	}

	sources := suite.walker.RepliedStatusSources(context.Background(), seeds)
	suite.Require().Len(sources, 1)
	suite.Equal("peer.example", sources[0].Server)
	suite.Equal("8", sources[0].ID)
	suite.Equal("https://peer.example/@bob/8", sources[0].URL)
}

func (suite *WalkTestSuite) TestContextURLsFromSources() {
	sources := []walk.ReplySource{{
		URL:    "https://peer.example/@bob/9",
		Server: "peer.example",
		ID:     "9",
	}}

	urls := suite.walker.ContextURLs(context.Background(), nil, sources)
	suite.Equal([]string{"https://peer.example/@bob/8"}, urls)
}

func TestWalkTestSuite(t *testing.T) {
	suite.Run(t, &WalkTestSuite{})
}
