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

// Package urlparse classifies arbitrary Fediverse URLs into
// (backend, server, object) tuples. Patterns are tried in a
// fixed order, first match wins; Pixelfed's catch-all user
// pattern is deliberately last. Results, including failures,
// are memoized per parser (i.e. per run).
package urlparse

import (
	"regexp"
	"sync"

	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
)

// Post is a parsed post URL.
type Post struct {
	Backend ffmodel.BackendKind
	Server  string
	ID      string
}

// Profile is a parsed account (or Lemmy community) URL.
type Profile struct {
	Backend   ffmodel.BackendKind
	Server    string
	Username  string
	Community bool
}

type postPattern struct {
	backend ffmodel.BackendKind
	re      *regexp.Regexp
}

type profilePattern struct {
	backend ffmodel.BackendKind
	re      *regexp.Regexp
}

// Ordered pattern tables. Order matters: the first
// matching pattern decides, so the most specific
// path shapes come first.
var (
	postPatterns = []postPattern{
		{ffmodel.BackendMastodon, regexp.MustCompile(`^https://(?P<server>[^/]+)/@(?:[^/]+)/(?P<id>[^/?#]+)/?$`)},
		{ffmodel.BackendMastodon, regexp.MustCompile(`^https://(?P<server>[^/]+)/users/(?:[^/]+)/statuses/(?P<id>[^/?#]+)/?$`)},
		{ffmodel.BackendFirefish, regexp.MustCompile(`^https://(?P<server>[^/]+)/notes/(?P<id>[^/?#]+)/?$`)},
		{ffmodel.BackendPixelfed, regexp.MustCompile(`^https://(?P<server>[^/]+)/p/(?:[^/]+)/(?P<id>[^/?#]+)/?$`)},
		{ffmodel.BackendPleroma, regexp.MustCompile(`^https://(?P<server>[^/]+)/objects/(?P<id>[^/?#]+)/?$`)},
		{ffmodel.BackendLemmy, regexp.MustCompile(`^https://(?P<server>[^/]+)/(?:comment|post)/(?P<id>[^/?#]+)/?$`)},
	}

	profilePatterns = []profilePattern{
		{ffmodel.BackendMastodon, regexp.MustCompile(`^https://(?P<server>[^/]+)/@(?P<name>[^/?#]+)/?$`)},
		{ffmodel.BackendPleroma, regexp.MustCompile(`^https://(?P<server>[^/]+)/users/(?P<name>[^/?#]+)/?$`)},
		{ffmodel.BackendLemmy, regexp.MustCompile(`^https://(?P<server>[^/]+)/(?P<kind>u|c)/(?P<name>[^/?#]+)/?$`)},

		// Pixelfed last; this would match almost any profile shape.
		{ffmodel.BackendPixelfed, regexp.MustCompile(`^https://(?P<server>[^/]+)/(?P<name>[^/?#@]+)/?$`)},
	}
)

// Parser memoizes parse results for the lifetime of a run.
// Safe for concurrent use.
type Parser struct {
	mu       sync.Mutex
	posts    map[string]*Post
	profiles map[string]*Profile

	// misses counts pattern-table scans,
	// i.e. cache misses. Used by tests.
	misses int
}

// NewParser returns a new empty Parser.
func NewParser() *Parser {
	return &Parser{
		posts:    make(map[string]*Post),
		profiles: make(map[string]*Profile),
	}
}

// Post parses the given URL as a post URL, returning nil for
// URLs matching no known pattern. Failures are cached: the
// same unparseable URL is only ever matched against the
// pattern table once per run.
func (p *Parser) Post(url string) *Post {
	p.mu.Lock()
	defer p.mu.Unlock()

	if post, ok := p.posts[url]; ok {
		return post
	}

	p.misses++
	post := matchPost(url)
	p.posts[url] = post
	return post
}

// Profile parses the given URL as an account / community URL,
// returning nil for URLs matching no known pattern. Failures
// are cached like Post's.
func (p *Parser) Profile(url string) *Profile {
	p.mu.Lock()
	defer p.mu.Unlock()

	if profile, ok := p.profiles[url]; ok {
		return profile
	}

	p.misses++
	profile := matchProfile(url)
	p.profiles[url] = profile
	return profile
}

func matchPost(url string) *Post {
	for _, pat := range postPatterns {
		m := pat.re.FindStringSubmatch(url)
		if m == nil {
			continue
		}
		return &Post{
			Backend: pat.backend,
			Server:  m[pat.re.SubexpIndex("server")],
			ID:      m[pat.re.SubexpIndex("id")],
		}
	}
	return nil
}

func matchProfile(url string) *Profile {
	for _, pat := range profilePatterns {
		m := pat.re.FindStringSubmatch(url)
		if m == nil {
			continue
		}
		profile := &Profile{
			Backend:  pat.backend,
			Server:   m[pat.re.SubexpIndex("server")],
			Username: m[pat.re.SubexpIndex("name")],
		}
		if idx := pat.re.SubexpIndex("kind"); idx != -1 && m[idx] == "c" {
			profile.Community = true
		}
		return profile
	}
	return nil
}
