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

// Package fetcher is the orchestrator: it owns the run
// lifecycle (lock, state, webhooks, parachute) and executes
// each enabled collection mode through the shared
// produce -> walk -> import pipeline.
package fetcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/superseriousbusiness/fedifetcher/internal/config"
	"github.com/superseriousbusiness/fedifetcher/internal/federation"
	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
	"github.com/superseriousbusiness/fedifetcher/internal/ffcontext"
	"github.com/superseriousbusiness/fedifetcher/internal/httpclient"
	"github.com/superseriousbusiness/fedifetcher/internal/importer"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
	"github.com/superseriousbusiness/fedifetcher/internal/orderedset"
	"github.com/superseriousbusiness/fedifetcher/internal/sidecar"
	"github.com/superseriousbusiness/fedifetcher/internal/state"
	"github.com/superseriousbusiness/fedifetcher/internal/urlparse"
	"github.com/superseriousbusiness/fedifetcher/internal/walk"
)

// Fetcher runs one crawl: collecting seeds, walking thread
// context on origin servers, and importing what's missing.
type Fetcher struct {
	cfg      *config.Config
	manager  *federation.Manager
	parser   *urlparse.Parser
	seen     *state.Seen
	sc       *sidecar.Sidecar
	walker   *walk.Walker
	importer *importer.Importer

	// allKnownUsers is the per-run union of known followings
	// and recently checked users; anybody in it is skipped
	// by the user-backfill sub-modes.
	allKnownUsers *orderedset.OrderedSet
}

// New returns a Fetcher for the given configuration.
func New(cfg *config.Config) *Fetcher {
	return &Fetcher{
		cfg: cfg,
		manager: federation.NewManager(
			cfg.Server,
			cfg.ExternalTokens,
			time.Duration(cfg.HTTPTimeout)*time.Second,
		),
		parser: urlparse.NewParser(),
	}
}

// Run executes a full crawl. The returned error is non-nil only
// for pre-flight failures (lock contention, unreadable state) or
// an orchestrator-level panic; per-mode errors are logged and
// swallowed so sibling modes still run.
func (f *Fetcher) Run(ctx context.Context) error {
	start := time.Now()
	runID := uuid.NewString()
	ctx = ffcontext.SetRunID(ctx, runID)

	log.Infof("starting FediFetcher, run %s", runID)
	f.ping(ctx, f.cfg.OnStart, runID)

	lock, err := state.AcquireLock(f.cfg.LockFile, time.Duration(f.cfg.LockHours)*time.Hour)
	if err != nil {
		log.Errorf("cannot acquire run lock: %v", err)
		f.ping(ctx, f.cfg.OnFail, runID)
		return err
	}

	seen, err := state.Load(f.cfg.StateDir)
	if err != nil {
		log.Errorf("cannot load state: %v", err)
		lock.Release()
		f.ping(ctx, f.cfg.OnFail, runID)
		return err
	}
	f.seen = seen
	f.seen.ExpireRecentlyChecked(time.Duration(f.cfg.RememberUsersForHours) * time.Hour)

	f.allKnownUsers = orderedset.New()
	f.allKnownUsers.AddAll(f.seen.KnownFollowings.Items())
	f.allKnownUsers.AddAll(f.seen.RecentlyChecked.Items())

	if f.cfg.DBEnabled() {
		sc, err := sidecar.Open(ctx, sidecar.Config{
			Host:     f.cfg.DBHost,
			Port:     f.cfg.DBPort,
			User:     f.cfg.DBUser,
			Password: f.cfg.PGPassword,
			Database: f.cfg.DBName,
		})
		if err != nil {
			// Enrichment is best-effort; run on without it.
			log.Errorf("cannot connect to postgres, continuing without the sidecar: %v", err)
		} else {
			f.sc = sc
			defer f.sc.Close(ctx)
		}
	}

	f.walker = walk.New(f.manager, f.parser, f.seen, f.sc, f.sc)
	f.importer = importer.New(f.sc)

	if err := f.crawl(ctx); err != nil {
		// Parachute: keep whatever state we accumulated so
		// the next run resumes cleanly, then fail the run.
		log.Errorf("error running FediFetcher: %v", err)
		if serr := f.seen.Save(); serr != nil {
			log.Errorf("error writing seen files: %v", serr)
		}
		lock.Release()
		log.Warnf("job failed after %s", time.Since(start))
		f.ping(ctx, f.cfg.OnFail, runID)
		return err
	}

	log.Info("writing seen files")
	if err := f.seen.Save(); err != nil {
		log.Errorf("error writing seen files: %v", err)
	}

	lock.Release()
	f.ping(ctx, f.cfg.OnDone, runID)
	log.Infof("processing finished in %s", time.Since(start))
	return nil
}

// crawl executes the enabled modes in order. A panic inside a
// mode is caught by runMode; a panic outside the modes becomes
// the orchestrator failure handled by Run.
func (f *Fetcher) crawl(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fferror.Newf("panic during run: %v", r)
		}
	}()

	f.runMode("active_users", func() error {
		if f.cfg.ReplyIntervalInHours <= 0 {
			return nil
		}
		return f.activeUsers(ctx)
	})

	for idx, token := range f.cfg.AccessToken {
		log.Infof("getting posts for token %d of %d", idx+1, len(f.cfg.AccessToken))
		f.runMode("token_posts", func() error {
			return f.tokenPosts(ctx, token)
		})
	}

	f.runMode("trending", func() error {
		if len(f.cfg.ExternalFeedServers()) == 0 {
			return nil
		}
		return f.trendingPosts(ctx)
	})

	return nil
}

// runMode runs one mode, catching its error (and panic) at the
// mode boundary so that sibling modes still get their turn.
func (f *Fetcher) runMode(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("mode %s panicked: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		log.Errorf("error running mode %s: %v", name, err)
	}
}

// ping fires a webhook notification, errors logged and ignored.
func (f *Fetcher) ping(ctx context.Context, url, runID string) {
	if url == "" {
		return
	}
	if err := httpclient.Ping(ctx, url+"?rid="+runID); err != nil {
		log.Errorf("error getting callback url: %v", err)
	}
}
