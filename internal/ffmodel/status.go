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

package ffmodel

import (
	"strings"
	"time"
)

// Status is the federated post record as returned by a
// Mastodon-compatible API, reduced to the attributes this
// tool reads. The ID is whatever the *queried* server calls
// the status; the URI is the origin-issued global identifier.
type Status struct {
	ID                 string     `json:"id"`
	URI                string     `json:"uri"`
	URL                string     `json:"url"`
	CreatedAt          time.Time  `json:"created_at"`
	EditedAt           *time.Time `json:"edited_at,omitempty"`
	InReplyToID        string     `json:"in_reply_to_id,omitempty"`
	InReplyToAccountID string     `json:"in_reply_to_account_id,omitempty"`
	RepliesCount       int        `json:"replies_count"`
	ReblogsCount       int        `json:"reblogs_count"`
	FavouritesCount    int        `json:"favourites_count"`
	Content            string     `json:"content"`
	SpoilerText        string     `json:"spoiler_text,omitempty"`
	Language           string     `json:"language,omitempty"`
	Account            *Account   `json:"account,omitempty"`
	Mentions           []Mention  `json:"mentions,omitempty"`
	Reblog             *Status    `json:"reblog,omitempty"`
	Poll               *Poll      `json:"poll,omitempty"`
}

// Poll carries the only poll attribute we persist.
type Poll struct {
	ID string `json:"id"`
}

// EffectiveURL returns the URL whose thread context is of
// interest: the reblogged status's URL for boosts, else the
// status's own URL.
func (s *Status) EffectiveURL() string {
	if s.Reblog != nil && s.Reblog.URL != "" {
		return s.Reblog.URL
	}
	return s.URL
}

// IsReply reports whether the status is a reply to another.
func (s *Status) IsReply() bool {
	return s.InReplyToID != ""
}

// Context is the thread context of a status: every
// ancestor and descendant the queried server knows of.
type Context struct {
	Ancestors   []*Status `json:"ancestors"`
	Descendants []*Status `json:"descendants"`
}

// IsOriginal reports whether a status record was served by its
// origin: true iff the reported id equals the last path segment
// of the viewer-facing url.
func IsOriginal(url, id string) bool {
	if url == "" || id == "" {
		return false
	}
	return url[strings.LastIndexByte(url, '/')+1:] == id
}
