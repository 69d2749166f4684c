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
	"strconv"
	"time"

	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
	"github.com/uptrace/bun"
)

// FetchedStatus is the persistent URI-cache row. The table is
// exclusively owned by this tool; it lives alongside the local
// server's own tables so that status_id can be joined against
// public.statuses.
type FetchedStatus struct {
	bun.BaseModel `bun:"table:fetched_statuses"`

	URI                 string     `bun:"uri,pk"`
	URL                 string     `bun:"url"`
	StatusID            *int64     `bun:"status_id"`
	StatusIDOriginal    *string    `bun:"status_id_original"`
	Text                string     `bun:"text"`
	CreatedAtOriginal   time.Time  `bun:"created_at_original"`
	EditedAtOriginal    *time.Time `bun:"edited_at_original"`
	RepliesCount        int        `bun:"replies_count"`
	ReblogsCount        int        `bun:"reblogs_count"`
	FavouritesCount     int        `bun:"favourites_count"`
	InReplyToIDOriginal *string    `bun:"in_reply_to_id_original"`
	ReblogOfIDOriginal  *string    `bun:"reblog_of_id_original"`
	SpoilerText         string     `bun:"spoiler_text"`
	Reply               bool       `bun:"reply"`
	Language            *string    `bun:"language"`
	PollIDOriginal      *string    `bun:"poll_id_original"`
	Original            bool       `bun:"original"`
	CreatedAt           time.Time  `bun:"created_at"`
	UpdatedAt           time.Time  `bun:"updated_at"`
}

// statusStats is the local server's status_stats table;
// we upsert engagement counters into it.
type statusStats struct {
	bun.BaseModel `bun:"table:status_stats"`

	StatusID        int64     `bun:"status_id"`
	ReblogsCount    int       `bun:"reblogs_count"`
	FavouritesCount int       `bun:"favourites_count"`
	CreatedAt       time.Time `bun:"created_at"`
	UpdatedAt       time.Time `bun:"updated_at"`
}

// localStatus is the read-only slice of public.statuses
// used to join remote URIs onto local status ids.
type localStatus struct {
	bun.BaseModel `bun:"table:statuses"`

	ID  int64  `bun:"id"`
	URI string `bun:"uri"`
}

// ToStatus converts a cache row back into the Status shape the
// rest of the pipeline speaks.
func (r *FetchedStatus) ToStatus() *ffmodel.Status {
	st := &ffmodel.Status{
		URI:             r.URI,
		URL:             r.URL,
		CreatedAt:       r.CreatedAtOriginal,
		EditedAt:        r.EditedAtOriginal,
		RepliesCount:    r.RepliesCount,
		ReblogsCount:    r.ReblogsCount,
		FavouritesCount: r.FavouritesCount,
		Content:         r.Text,
		SpoilerText:     r.SpoilerText,
	}
	if r.StatusID != nil {
		st.ID = strconv.FormatInt(*r.StatusID, 10)
	}
	if r.InReplyToIDOriginal != nil {
		st.InReplyToID = *r.InReplyToIDOriginal
	}
	if r.Language != nil {
		st.Language = *r.Language
	}
	if r.PollIDOriginal != nil {
		st.Poll = &ffmodel.Poll{ID: *r.PollIDOriginal}
	}
	return st
}

// mergeCounters applies the counter-monotonicity rule: within
// a run counters never go backwards, so merging always takes
// the maximum of stored and observed values.
func mergeCounters(row *FetchedStatus, st *ffmodel.Status) {
	row.RepliesCount = max(row.RepliesCount, st.RepliesCount)
	row.ReblogsCount = max(row.ReblogsCount, st.ReblogsCount)
	row.FavouritesCount = max(row.FavouritesCount, st.FavouritesCount)
}
