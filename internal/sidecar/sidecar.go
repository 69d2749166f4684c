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

// Package sidecar holds the PostgreSQL-backed halves of the
// crawler's memory: the fetched_statuses URI cache mapping
// remote URIs to local status ids, and the buffered writer of
// engagement counters into the live server's status_stats
// table. Everything here is best-effort enrichment; database
// errors are logged and swallowed, never fatal to a run.
package sidecar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// Config holds PostgreSQL connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Sidecar is the PostgreSQL side table owner. A nil *Sidecar is
// valid everywhere and behaves as an empty cache that discards
// all writes, so callers need no database-enabled special case.
type Sidecar struct {
	db *bun.DB

	mu      sync.Mutex
	updates []statUpdate
}

type statUpdate struct {
	statusID  int64
	reblogs   int
	favourite int
}

// Open connects to PostgreSQL and returns a Sidecar.
func Open(ctx context.Context, cfg Config) (*Sidecar, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
	)

	pgxCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fferror.Wrap(err)
	}

	sqldb := stdlib.OpenDB(*pgxCfg)
	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fferror.Wrap(err)
	}

	log.Infof("connected to postgres at %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	return &Sidecar{db: db}, nil
}

// Close flushes any buffered stat updates and closes the pool.
func (s *Sidecar) Close(ctx context.Context) {
	if s == nil || s.db == nil {
		return
	}
	s.CommitStatusUpdates(ctx)
	if err := s.db.Close(); err != nil {
		log.Errorf("error closing database: %v", err)
	}
}

// QueueStatusUpdate buffers an engagement-counter update for a
// local status. Updates with neither counter positive are not
// worth a row and are dropped.
func (s *Sidecar) QueueStatusUpdate(localID string, reblogsCount, favouritesCount int) {
	if s == nil {
		return
	}
	if reblogsCount <= 0 && favouritesCount <= 0 {
		return
	}
	id, err := strconv.ParseInt(localID, 10, 64)
	if err != nil {
		log.Debugf("non-numeric local status id %q, skipping stat update", localID)
		return
	}

	s.mu.Lock()
	s.updates = append(s.updates, statUpdate{id, reblogsCount, favouritesCount})
	s.mu.Unlock()
}

// CommitStatusUpdates flushes all buffered updates in a single
// transaction: update the status_stats row if one exists, else
// insert one stamped now. Queue order is preserved; duplicate
// ids within a batch are last-write-wins. Errors are logged
// and the buffer discarded; enrichment is best-effort.
func (s *Sidecar) CommitStatusUpdates(ctx context.Context) {
	if s == nil || s.db == nil {
		return
	}

	s.mu.Lock()
	updates := s.updates
	s.updates = nil
	s.mu.Unlock()

	if len(updates) == 0 {
		return
	}

	log.Debugf("updating %d status stats", len(updates))
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		for _, u := range updates {
			exists, err := tx.NewSelect().
				Model((*statusStats)(nil)).
				Where("? = ?", bun.Ident("status_id"), u.statusID).
				Exists(ctx)
			if err != nil {
				return err
			}

			if exists {
				_, err = tx.NewUpdate().
					Model((*statusStats)(nil)).
					Set("? = ?", bun.Ident("reblogs_count"), u.reblogs).
					Set("? = ?", bun.Ident("favourites_count"), u.favourite).
					Set("? = ?", bun.Ident("updated_at"), now).
					Where("? = ?", bun.Ident("status_id"), u.statusID).
					Exec(ctx)
			} else {
				_, err = tx.NewInsert().
					Model(&statusStats{
						StatusID:        u.statusID,
						ReblogsCount:    u.reblogs,
						FavouritesCount: u.favourite,
						CreatedAt:       now,
						UpdatedAt:       now,
					}).
					Exec(ctx)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Errorf("error updating status_stats: %v", err)
		return
	}
	log.Infof("committed %d status stat updates", len(updates))
}

// CacheStatus upserts a status into the fetched_statuses URI
// cache. Origin data wins: a non-original observation never
// overwrites a row marked original. Counters merge by max.
func (s *Sidecar) CacheStatus(ctx context.Context, st *ffmodel.Status) error {
	if s == nil || s.db == nil {
		return nil
	}
	if st == nil || st.URI == "" || st.URL == "" || st.CreatedAt.IsZero() {
		return fferror.New("status missing required uri/url/created_at")
	}

	original := ffmodel.IsOriginal(st.URL, st.ID)
	now := time.Now().UTC()

	row := new(FetchedStatus)
	err := s.db.NewSelect().
		Model(row).
		Where("? = ?", bun.Ident("uri"), st.URI).
		Limit(1).
		Scan(ctx)

	switch {
	case err == nil:
		if !original && row.Original {
			log.Debugf("already have original status for %s, skipping", st.URI)
			return nil
		}
		mergeCounters(row, st)
		s.fillRow(ctx, row, st, original, now)
		if _, err := s.db.NewUpdate().
			Model(row).
			WherePK().
			Exec(ctx); err != nil {
			log.Errorf("error caching status %s: %v", st.URL, err)
			return fferror.Wrap(err)
		}
		log.Debugf("updated cached status %s", st.URL)

	case errors.Is(err, sql.ErrNoRows):
		row = &FetchedStatus{
			URI:             st.URI,
			URL:             st.URL,
			RepliesCount:    st.RepliesCount,
			ReblogsCount:    st.ReblogsCount,
			FavouritesCount: st.FavouritesCount,
			CreatedAt:       now,
		}
		s.fillRow(ctx, row, st, original, now)
		if _, err := s.db.NewInsert().
			Model(row).
			Exec(ctx); err != nil {
			log.Errorf("error caching status %s: %v", st.URL, err)
			return fferror.Wrap(err)
		}
		log.Debugf("inserted cached status %s", st.URL)

	default:
		log.Errorf("error reading status cache for %s: %v", st.URI, err)
		return fferror.Wrap(err)
	}

	return nil
}

// fillRow copies observed attributes onto a cache row, looking
// up the local status id via public.statuses on the way.
func (s *Sidecar) fillRow(ctx context.Context, row *FetchedStatus, st *ffmodel.Status, original bool, now time.Time) {
	row.Text = st.Content
	row.UpdatedAt = now
	row.SpoilerText = st.SpoilerText
	row.Reply = st.IsReply()
	row.Original = original
	row.CreatedAtOriginal = st.CreatedAt
	row.EditedAtOriginal = st.EditedAt

	if st.InReplyToID != "" {
		row.InReplyToIDOriginal = ptr(st.InReplyToID)
	}
	if st.Reblog != nil && st.Reblog.ID != "" {
		row.ReblogOfIDOriginal = ptr(st.Reblog.ID)
	}
	if st.Language != "" {
		row.Language = ptr(st.Language)
	}
	if st.Poll != nil && st.Poll.ID != "" {
		row.PollIDOriginal = ptr(st.Poll.ID)
	}
	if original {
		row.StatusIDOriginal = ptr(st.ID)
	}

	if row.StatusID == nil {
		if id, ok := s.queryLocalStatusID(ctx, st.URI); ok {
			row.StatusID = &id
		}
	}
}

// GetFromCache returns the cached status for the given URL, or
// nil when the cache has no row for it. A row without a local
// id gets one back-filled opportunistically from statuses.
func (s *Sidecar) GetFromCache(ctx context.Context, url string) (*ffmodel.Status, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}

	row := new(FetchedStatus)
	err := s.db.NewSelect().
		Model(row).
		Where("? = ?", bun.Ident("url"), url).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		log.Debugf("status not found in cache: %s", url)
		return nil, nil
	}
	if err != nil {
		log.Errorf("error getting status from cache: %v", err)
		return nil, fferror.Wrap(err)
	}

	s.backfillStatusID(ctx, row)
	return row.ToStatus(), nil
}

// GetDictFromCache is the batched GetFromCache: one query for
// the whole URL list, returning a map of the rows found.
func (s *Sidecar) GetDictFromCache(ctx context.Context, urls []string) (map[string]*ffmodel.Status, error) {
	if s == nil || s.db == nil || len(urls) == 0 {
		return map[string]*ffmodel.Status{}, nil
	}

	var rows []*FetchedStatus
	err := s.db.NewSelect().
		Model(&rows).
		Where("? IN (?)", bun.Ident("url"), bun.In(urls)).
		Scan(ctx)
	if err != nil {
		log.Errorf("error getting statuses from cache: %v", err)
		return nil, fferror.Wrap(err)
	}

	statuses := make(map[string]*ffmodel.Status, len(rows))
	for _, row := range rows {
		if row.URL == "" {
			continue
		}
		s.backfillStatusID(ctx, row)
		statuses[row.URL] = row.ToStatus()
	}
	return statuses, nil
}

// backfillStatusID patches a cache row that predates the local
// server importing the status: once statuses has the uri, the
// id is copied into the cache row.
func (s *Sidecar) backfillStatusID(ctx context.Context, row *FetchedStatus) {
	if row.StatusID != nil {
		return
	}
	id, ok := s.queryLocalStatusID(ctx, row.URI)
	if !ok {
		log.Debugf("status %s not yet in statuses", row.URL)
		return
	}
	row.StatusID = &id
	if _, err := s.db.NewUpdate().
		Model(row).
		Column("status_id").
		WherePK().
		Exec(ctx); err != nil {
		log.Errorf("error backfilling status id for %s: %v", row.URL, err)
	}
}

func (s *Sidecar) queryLocalStatusID(ctx context.Context, uri string) (int64, bool) {
	var local localStatus
	err := s.db.NewSelect().
		Model(&local).
		Column("id").
		Where("? = ?", bun.Ident("uri"), uri).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Errorf("error querying statuses for %s: %v", uri, err)
		}
		return 0, false
	}
	return local.ID, true
}

func ptr[T any](v T) *T { return &v }
