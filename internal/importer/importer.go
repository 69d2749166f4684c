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

// Package importer feeds remote URLs through the home server's
// federated search, caching each imported status and flushing
// queued engagement updates at the batch boundary.
package importer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/superseriousbusiness/fedifetcher/internal/concurrency"
	"github.com/superseriousbusiness/fedifetcher/internal/federation"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
)

// importConcurrency is the fan-out width per batch; the home
// client's own request gate provides the hard bound.
const importConcurrency = 10

// Cache is the persistent URI cache plus its commit hook.
type Cache interface {
	federation.StatusCache
	CommitStatusUpdates(ctx context.Context)
}

// Importer imports remote URLs into the home server. It keeps
// a per-run seen set so that a URL is imported at most once per
// run no matter how many modes surface it.
type Importer struct {
	cache Cache

	mu   sync.Mutex
	seen map[string]struct{}
}

// New returns an Importer over the given URI cache.
func New(cache Cache) *Importer {
	return &Importer{
		cache: cache,
		seen:  make(map[string]struct{}),
	}
}

type task struct {
	url  string
	home *federation.Interface
}

// AddContextURLs resolves each URL on the home server via
// federated search. Already-cached and already-imported URLs
// are skipped; failures are counted, never fatal. Buffered
// stat updates are committed at the end of the batch.
func (imp *Importer) AddContextURLs(ctx context.Context, home *federation.Interface, urls []string) {
	if len(urls) == 0 {
		return
	}
	log.Debugf("adding %d context URLs", len(urls))

	var (
		added        atomic.Int64
		failed       atomic.Int64
		alreadyAdded int64
		toFetch      []string
	)

	cached, err := imp.cache.GetDictFromCache(ctx, urls)
	if err != nil {
		cached = nil
	}

	for _, u := range urls {
		if imp.wasSeen(u) {
			alreadyAdded++
			continue
		}
		if st := cached[u]; st != nil && st.ID != "" {
			imp.markSeen(u)
			alreadyAdded++
			continue
		}
		toFetch = append(toFetch, u)
	}

	if len(toFetch) > 0 {
		var wg sync.WaitGroup

		pool := concurrency.NewWorkerPool[task](importConcurrency, 10)
		pool.SetProcessor(func(ctx context.Context, t task) error {
			defer wg.Done()

			st, err := t.home.Get(ctx, t.url)
			if err != nil || st == nil {
				// Terminal for this run; no other mode
				// retries a URL that just failed.
				imp.markSeen(t.url)
				failed.Add(1)
				return nil
			}

			imp.markSeen(t.url)
			added.Add(1)
			if err := imp.cache.CacheStatus(ctx, st); err != nil {
				log.Errorf("error caching imported status %s: %v", t.url, err)
			}
			return nil
		})
		if err := pool.Start(); err != nil {
			log.Errorf("error starting import workers: %v", err)
			return
		}

		for _, u := range toFetch {
			wg.Add(1)
			pool.Queue(task{url: u, home: home})
		}
		wg.Wait()

		if err := pool.Stop(); err != nil {
			log.Errorf("error stopping import workers: %v", err)
		}
	}

	imp.cache.CommitStatusUpdates(ctx)

	log.Infof("added %d new statuses (with %d failures, %d already seen)",
		added.Load(), failed.Load(), alreadyAdded)
}

// WasImported reports whether the URL was imported, found
// cached, or failed to import earlier in this run.
func (imp *Importer) WasImported(url string) bool {
	return imp.wasSeen(url)
}

func (imp *Importer) wasSeen(url string) bool {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	_, ok := imp.seen[url]
	return ok
}

func (imp *Importer) markSeen(url string) {
	imp.mu.Lock()
	imp.seen[url] = struct{}{}
	imp.mu.Unlock()
}
