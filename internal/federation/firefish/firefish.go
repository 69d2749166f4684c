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

// Package firefish adapts Firefish/Calckey-family servers.
// Object resolution uses the Misskey-style POST endpoints;
// thread context rides the Mastodon compatibility layer these
// servers also expose, since their own context endpoint has
// no stable cross-fork shape.
package firefish

import (
	"context"
	"net/url"
	"regexp"
	"time"

	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
	"github.com/superseriousbusiness/fedifetcher/internal/federation/mastodon"
	"github.com/superseriousbusiness/fedifetcher/internal/httpclient"
)

// Firefish is the adapter for one Firefish/Calckey server.
type Firefish struct {
	client *httpclient.Client
	compat *mastodon.Mastodon
}

// New returns a Firefish adapter speaking to the given client.
func New(client *httpclient.Client) *Firefish {
	return &Firefish{
		client: client,
		compat: mastodon.New(client),
	}
}

// note is the subset of a Firefish note we map onto a Status.
type note struct {
	ID          string    `json:"id"`
	URI         string    `json:"uri"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"createdAt"`
	Text        string    `json:"text"`
	ReplyID     string    `json:"replyId,omitempty"`
	RenoteCount int       `json:"renoteCount"`
	RepliesCount int      `json:"repliesCount"`
}

// apShow is the /api/ap/show response: a tagged union
// of Note and User.
type apShow struct {
	Type   string `json:"type"`
	Object note   `json:"object"`
}

// viewerURL matches a Mastodon-style viewer URL, which must be
// rewritten to its /users/.../statuses/... URI form before the
// AP endpoints will resolve it.
var viewerURL = regexp.MustCompile(`^https://([^/]+)/@([^/]+)/([^/?#]+)$`)

// ResolveStatus resolves a remote post URL via the ActivityPub
// show endpoint. Some deployments auth-gate this endpoint and
// answer 401/403; the federation layer then marks the peer
// failed for the rest of the run.
func (f *Firefish) ResolveStatus(ctx context.Context, statusURL string) (*ffmodel.Status, error) {
	uri := statusURL
	if m := viewerURL.FindStringSubmatch(statusURL); m != nil {
		uri = "https://" + m[1] + "/users/" + m[2] + "/statuses/" + m[3]
	}

	var shown apShow
	if err := f.client.Post(ctx, "/api/ap/show", map[string]string{"uri": uri}, &shown); err != nil {
		return nil, err
	}
	if shown.Type != "Note" || shown.Object.ID == "" {
		return nil, fferror.Wrapf("%s: no note behind %s: %w", f.client.Host(), statusURL, fferror.ErrNotFound)
	}
	return noteToStatus(&shown.Object, f.client.Host()), nil
}

// GetStatus fetches a note by this server's note id.
func (f *Firefish) GetStatus(ctx context.Context, id string) (*ffmodel.Status, error) {
	var n note
	if err := f.client.Post(ctx, "/api/notes/show", map[string]string{"noteId": id}, &n); err != nil {
		return nil, err
	}
	if n.ID == "" {
		return nil, fferror.Wrapf("note %s: %w", id, fferror.ErrNotFound)
	}
	return noteToStatus(&n, f.client.Host()), nil
}

// GetContextStatuses resolves the note's Mastodon-compatible id
// via search, then walks the compatibility context endpoint.
func (f *Firefish) GetContextStatuses(ctx context.Context, id, statusURL string) ([]*ffmodel.Status, error) {
	// The note id is not usable against the compat layer;
	// resolve the URL to the compat id first.
	st, err := f.compat.ResolveStatus(ctx, statusURL)
	if err != nil {
		return nil, err
	}
	return f.compat.GetContextStatuses(ctx, st.ID, statusURL)
}

// GetUserID and GetUserStatuses ride the compatibility layer.

func (f *Firefish) GetUserID(ctx context.Context, username string) (string, error) {
	return f.compat.GetUserID(ctx, username)
}

func (f *Firefish) GetUserStatuses(ctx context.Context, userID string, limit int) ([]*ffmodel.Status, error) {
	return f.compat.GetUserStatuses(ctx, userID, limit)
}

func noteToStatus(n *note, host string) *ffmodel.Status {
	st := &ffmodel.Status{
		ID:           n.ID,
		URI:          n.URI,
		URL:          n.URL,
		CreatedAt:    n.CreatedAt,
		Content:      n.Text,
		InReplyToID:  n.ReplyID,
		RepliesCount: n.RepliesCount,
		ReblogsCount: n.RenoteCount,
	}
	if st.URL == "" {
		// Local notes carry no url; the canonical
		// /notes/ form is the viewer URL.
		st.URL = (&url.URL{Scheme: "https", Host: host, Path: "/notes/" + n.ID}).String()
	}
	if st.URI == "" {
		st.URI = st.URL
	}
	return st
}
