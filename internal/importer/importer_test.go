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

package importer_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
	"github.com/superseriousbusiness/fedifetcher/internal/federation"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
	"github.com/superseriousbusiness/fedifetcher/internal/importer"
)

// fakeHomeAPI resolves any URL to a status, counting calls.
type fakeHomeAPI struct {
	resolves atomic.Int64
	fail     bool
}

func (a *fakeHomeAPI) ResolveStatus(_ context.Context, url string) (*ffmodel.Status, error) {
	a.resolves.Add(1)
	if a.fail {
		return nil, fferror.Wrapf("%s: %w", url, fferror.ErrNotFound)
	}
	return &ffmodel.Status{ID: "42", URI: url, URL: url}, nil
}

func (a *fakeHomeAPI) GetStatus(context.Context, string) (*ffmodel.Status, error) {
	return nil, fferror.ErrNotFound
}

func (a *fakeHomeAPI) GetContextStatuses(context.Context, string, string) ([]*ffmodel.Status, error) {
	return nil, nil
}

func (a *fakeHomeAPI) GetUserID(context.Context, string) (string, error) {
	return "", fferror.ErrNotFound
}

func (a *fakeHomeAPI) GetUserStatuses(context.Context, string, int) ([]*ffmodel.Status, error) {
	return nil, nil
}

// memCache is an in-memory stand-in for the URI cache.
type memCache struct {
	mu      sync.Mutex
	rows    map[string]*ffmodel.Status
	commits int
	upserts int
}

func newMemCache() *memCache {
	return &memCache{rows: map[string]*ffmodel.Status{}}
}

func (c *memCache) GetFromCache(_ context.Context, url string) (*ffmodel.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows[url], nil
}

func (c *memCache) GetDictFromCache(_ context.Context, urls []string) (map[string]*ffmodel.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*ffmodel.Status, len(urls))
	for _, u := range urls {
		if st := c.rows[u]; st != nil {
			out[u] = st
		}
	}
	return out, nil
}

func (c *memCache) CacheStatus(_ context.Context, st *ffmodel.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserts++
	c.rows[st.URL] = st
	return nil
}

func (c *memCache) CommitStatusUpdates(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
}

func TestAddContextURLsImportsAndCaches(t *testing.T) {
	api := &fakeHomeAPI{}
	home := federation.Wrap("home.example", ffmodel.BackendMastodon, api)
	cache := newMemCache()
	imp := importer.New(cache)

	urls := []string{
		"https://peer.example/@bob/1",
		"https://peer.example/@bob/2",
	}
	imp.AddContextURLs(context.Background(), home, urls)

	assert.Equal(t, int64(2), api.resolves.Load())
	assert.Equal(t, 2, cache.upserts)
	assert.Equal(t, 1, cache.commits)
	assert.True(t, imp.WasImported(urls[0]))
}

// Importing the same URL twice within a run must hit the home
// server exactly once and upsert exactly once.
func TestAddContextURLsIdempotentWithinRun(t *testing.T) {
	api := &fakeHomeAPI{}
	home := federation.Wrap("home.example", ffmodel.BackendMastodon, api)
	cache := newMemCache()
	imp := importer.New(cache)

	const url = "https://peer.example/@bob/9"

	imp.AddContextURLs(context.Background(), home, []string{url})
	imp.AddContextURLs(context.Background(), home, []string{url, url})

	assert.Equal(t, int64(1), api.resolves.Load())
	assert.Equal(t, 1, cache.upserts)
}

func TestAddContextURLsSkipsCached(t *testing.T) {
	api := &fakeHomeAPI{}
	home := federation.Wrap("home.example", ffmodel.BackendMastodon, api)
	cache := newMemCache()

	const url = "https://peer.example/@bob/9"
	require.NoError(t, cache.CacheStatus(context.Background(), &ffmodel.Status{ID: "7", URL: url}))
	cache.upserts = 0

	imp := importer.New(cache)
	imp.AddContextURLs(context.Background(), home, []string{url})

	assert.Equal(t, int64(0), api.resolves.Load())
	assert.Equal(t, 0, cache.upserts)
	assert.True(t, imp.WasImported(url))
}

func TestAddContextURLsFailureIsNotFatal(t *testing.T) {
	api := &fakeHomeAPI{fail: true}
	home := federation.Wrap("home.example", ffmodel.BackendMastodon, api)
	cache := newMemCache()
	imp := importer.New(cache)

	imp.AddContextURLs(context.Background(), home, []string{
		"https://peer.example/@bob/1",
		"https://peer.example/@bob/2",
	})

	assert.Equal(t, int64(2), api.resolves.Load())
	assert.Equal(t, 0, cache.upserts)

	// A failed import is terminal for the run; a second
	// batch must not retry it.
	imp.AddContextURLs(context.Background(), home, []string{"https://peer.example/@bob/1"})
	assert.Equal(t, int64(2), api.resolves.Load())
}
