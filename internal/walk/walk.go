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

// Package walk expands seed statuses into the remote URLs of
// their threads: parse the seed's URL, visit its origin server,
// pull ancestors and descendants, and keep everything the home
// server doesn't already host.
package walk

import (
	"context"
	"strings"

	"github.com/superseriousbusiness/fedifetcher/internal/federation"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
	"github.com/superseriousbusiness/fedifetcher/internal/httpclient"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
	"github.com/superseriousbusiness/fedifetcher/internal/state"
	"github.com/superseriousbusiness/fedifetcher/internal/urlparse"
)

// Walker fans seed statuses out across their origin servers
// and yields the union of thread URLs worth importing.
type Walker struct {
	manager *federation.Manager
	parser  *urlparse.Parser
	seen    *state.Seen
	cache   federation.StatusCache
	stats   federation.StatQueuer
}

// New returns a Walker using the given collaborators.
func New(
	manager *federation.Manager,
	parser *urlparse.Parser,
	seen *state.Seen,
	cache federation.StatusCache,
	stats federation.StatQueuer,
) *Walker {
	return &Walker{
		manager: manager,
		parser:  parser,
		seen:    seen,
		cache:   cache,
		stats:   stats,
	}
}

// KnownContextURLs walks the thread of every seed whose URL is
// parseable, returning the deduplicated union of remote thread
// URLs. URLs hosted by the home server are dropped; they are
// already present by definition.
func (w *Walker) KnownContextURLs(ctx context.Context, home *federation.Interface, seeds []*ffmodel.Status) []string {
	var (
		out  []string
		have = map[string]struct{}{}
	)

	for _, seed := range seeds {
		if seed == nil {
			continue
		}
		seedURL := seed.EffectiveURL()
		if seedURL == "" {
			log.Error("error accessing URL in the status")
			continue
		}

		parsed := w.parser.Post(seedURL)
		if parsed == nil {
			continue
		}

		urls, err := w.originContext(ctx, parsed.Server, parsed.ID, seedURL, home)
		if err != nil {
			log.Errorf("error getting context for status %s: %v", seedURL, err)
			continue
		}
		if len(urls) > 0 {
			log.Infof("got %d context posts for %s", len(urls), seedURL)
		}

		for _, u := range urls {
			if w.isLocal(u) {
				continue
			}
			if _, ok := have[u]; ok {
				continue
			}
			have[u] = struct{}{}
			out = append(out, u)
		}
	}

	return out
}

// ReplySource is the derived origin address of a post that a
// locally-visible status replied to.
type ReplySource struct {
	URL    string
	Server string
	ID     string
}

// RepliedStatusSources maps reply seeds onto the origin
// (server, id) of the post each replied to, probing HTTP
// redirects to find the canonical origin URL. Results, and
// redirect targets that do not parse as a post, are recorded
// in the seen state so that such a URL is not resolved again;
// a failed redirect probe is not recorded and is probed again
// the next time the URL comes up.
func (w *Walker) RepliedStatusSources(ctx context.Context, seeds []*ffmodel.Status) []ReplySource {
	var sources []ReplySource
	for _, seed := range seeds {
		if seed == nil || !seed.IsReply() {
			continue
		}
		if src := w.repliedStatusSource(ctx, seed); src != nil {
			sources = append(sources, *src)
		}
	}
	return sources
}

func (w *Walker) repliedStatusSource(ctx context.Context, seed *ffmodel.Status) *ReplySource {
	// Find the mention matching the replied-to account; its
	// acct plus the reply id addresses the home server's
	// viewer URL for the replied-to post.
	var acct string
	for _, mention := range seed.Mentions {
		if mention.ID == seed.InReplyToAccountID {
			acct = mention.Acct
			break
		}
	}
	if acct == "" {
		log.Infof("could not find mention for post %s", seed.InReplyToID)
		return nil
	}

	oURL := "https://" + w.manager.HomeDomain() + "/@" + acct + "/" + seed.InReplyToID

	if value, ok := w.seen.ReplyMapping(oURL); ok {
		if value == nil {
			log.Debugf("found %s in replied mapping as unresolved", oURL)
			return nil
		}
		parts := strings.Split(*value, ",")
		if len(parts) >= 3 {
			return &ReplySource{URL: parts[0], Server: parts[len(parts)-2], ID: parts[len(parts)-1]}
		}
		return nil
	}

	// The home server's viewer URL 302s to the canonical
	// origin URL; that is what the parser understands.
	redirect, err := httpclient.ResolveRedirect(ctx, oURL)
	if err != nil {
		log.Errorf("error getting redirect URL for %s: %v", oURL, err)
		return nil
	}

	parsed := w.parser.Post(redirect)
	if parsed == nil || parsed.Server == "" || parsed.ID == "" {
		w.seen.SetReplyMapping(oURL, nil)
		return nil
	}

	value := redirect + "," + parsed.Server + "," + parsed.ID
	w.seen.SetReplyMapping(oURL, &value)
	log.Debugf("added %s to replied mapping as %s, %s", redirect, parsed.Server, parsed.ID)
	return &ReplySource{URL: redirect, Server: parsed.Server, ID: parsed.ID}
}

// ContextURLs walks the threads of pre-resolved reply sources,
// returning the deduplicated union of remote thread URLs.
func (w *Walker) ContextURLs(ctx context.Context, home *federation.Interface, sources []ReplySource) []string {
	var (
		out  []string
		have = map[string]struct{}{}
	)

	for _, src := range sources {
		urls, err := w.originContext(ctx, src.Server, src.ID, src.URL, home)
		if err != nil {
			log.Errorf("error getting context for %s: %v", src.URL, err)
			continue
		}
		for _, u := range urls {
			if w.isLocal(u) {
				continue
			}
			if _, ok := have[u]; ok {
				continue
			}
			have[u] = struct{}{}
			out = append(out, u)
		}
	}

	return out
}

func (w *Walker) originContext(ctx context.Context, server, id, statusURL string, home *federation.Interface) ([]string, error) {
	origin, err := w.manager.Peer(ctx, server)
	if err != nil {
		return nil, err
	}
	return origin.GetRemoteStatusContext(ctx, id, statusURL, home, w.cache, w.stats)
}

func (w *Walker) isLocal(u string) bool {
	return strings.HasPrefix(u, "https://"+w.manager.HomeDomain()+"/")
}
