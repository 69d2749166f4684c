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

package urlparse

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
)

type ParserTestSuite struct {
	suite.Suite
	parser *Parser
}

func (suite *ParserTestSuite) SetupTest() {
	suite.parser = NewParser()
}

func (suite *ParserTestSuite) TestPostMastodonViewer() {
	post := suite.parser.Post("https://mastodon.social/@alice/110000000000000001")
	suite.NotNil(post)
	suite.Equal(ffmodel.BackendMastodon, post.Backend)
	suite.Equal("mastodon.social", post.Server)
	suite.Equal("110000000000000001", post.ID)
}

func (suite *ParserTestSuite) TestPostMastodonURI() {
	post := suite.parser.Post("https://mastodon.social/users/alice/statuses/110000000000000001")
	suite.NotNil(post)
	suite.Equal(ffmodel.BackendMastodon, post.Backend)
	suite.Equal("110000000000000001", post.ID)
}

func (suite *ParserTestSuite) TestPostPleromaObject() {
	post := suite.parser.Post("https://pleroma.site/objects/abc-def")
	suite.NotNil(post)
	suite.Equal(ffmodel.BackendPleroma, post.Backend)
	suite.Equal("pleroma.site", post.Server)
	suite.Equal("abc-def", post.ID)
}

func (suite *ParserTestSuite) TestPostFirefishNote() {
	post := suite.parser.Post("https://calckey.example/notes/9f4ebc3xyz")
	suite.NotNil(post)
	suite.Equal(ffmodel.BackendFirefish, post.Backend)
	suite.Equal("9f4ebc3xyz", post.ID)
}

func (suite *ParserTestSuite) TestPostPixelfed() {
	post := suite.parser.Post("https://pixelfed.social/p/dansup/1234567")
	suite.NotNil(post)
	suite.Equal(ffmodel.BackendPixelfed, post.Backend)
	suite.Equal("1234567", post.ID)
}

func (suite *ParserTestSuite) TestPostLemmy() {
	for url, id := range map[string]string{
		"https://lemmy.ml/post/123456":   "123456",
		"https://lemmy.ml/comment/98765": "98765",
	} {
		post := suite.parser.Post(url)
		suite.NotNil(post)
		suite.Equal(ffmodel.BackendLemmy, post.Backend)
		suite.Equal(id, post.ID)
	}
}

func (suite *ParserTestSuite) TestPostUnparseable() {
	suite.Nil(suite.parser.Post("https://example.com/some/deep/path/here"))
	suite.Nil(suite.parser.Post("https://example.com/"))
}

func (suite *ParserTestSuite) TestPostNegativeCache() {
	const url = "https://example.com/not/a/post/url/at/all"

	suite.Nil(suite.parser.Post(url))
	before := suite.parser.misses

	// Second parse must come from the negative
	// cache without touching the pattern table.
	suite.Nil(suite.parser.Post(url))
	suite.Equal(before, suite.parser.misses)
}

func (suite *ParserTestSuite) TestPostMemoized() {
	const url = "https://mastodon.social/@alice/123"

	first := suite.parser.Post(url)
	before := suite.parser.misses
	second := suite.parser.Post(url)

	suite.Same(first, second)
	suite.Equal(before, suite.parser.misses)
}

func (suite *ParserTestSuite) TestProfileOrder() {
	// The Mastodon pattern must win over Pixelfed's catch-all.
	profile := suite.parser.Profile("https://mastodon.social/@alice")
	suite.NotNil(profile)
	suite.Equal(ffmodel.BackendMastodon, profile.Backend)
	suite.Equal("alice", profile.Username)

	profile = suite.parser.Profile("https://pleroma.site/users/bob")
	suite.NotNil(profile)
	suite.Equal(ffmodel.BackendPleroma, profile.Backend)

	profile = suite.parser.Profile("https://pixelfed.social/carol")
	suite.NotNil(profile)
	suite.Equal(ffmodel.BackendPixelfed, profile.Backend)
	suite.Equal("carol", profile.Username)
}

func (suite *ParserTestSuite) TestProfileLemmyCommunity() {
	profile := suite.parser.Profile("https://lemmy.ml/c/golang")
	suite.NotNil(profile)
	suite.Equal(ffmodel.BackendLemmy, profile.Backend)
	suite.True(profile.Community)

	profile = suite.parser.Profile("https://lemmy.ml/u/someone")
	suite.NotNil(profile)
	suite.False(profile.Community)
}

func TestParserTestSuite(t *testing.T) {
	suite.Run(t, &ParserTestSuite{})
}
