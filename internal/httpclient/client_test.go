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

package httpclient_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
	"github.com/superseriousbusiness/fedifetcher/internal/httpclient"
)

func newTestClient(ts *httptest.Server) *httpclient.Client {
	return httpclient.New(httpclient.Config{
		Host:    "peer.example",
		Token:   "token-123",
		Timeout: 5 * time.Second,
		BaseURL: ts.URL,
	})
}

// pastReset is an x-ratelimit-reset value already in the past,
// so rate-limited tests retry without actually sleeping.
func pastReset() string {
	return time.Now().UTC().Add(-5 * time.Second).Format(time.RFC3339)
}

func TestGetDecodesJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("User-Agent"), "FediFetcher")
		fmt.Fprint(w, `{"id": "42"}`)
	}))
	defer ts.Close()

	var out struct {
		ID string `json:"id"`
	}
	_, err := newTestClient(ts).Get(context.Background(), "/api/v1/thing", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "42", out.ID)
}

func TestRateLimitRetryThenSuccess(t *testing.T) {
	var hits atomic.Int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.Header().Set("x-ratelimit-reset", pastReset())
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer ts.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	_, err := newTestClient(ts).Get(context.Background(), "/api/v1/thing", nil, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)

	// Two rate-limited attempts, then the success.
	assert.Equal(t, int64(3), hits.Load())
}

func TestRateLimitGivesUpAfterFiveRetries(t *testing.T) {
	var hits atomic.Int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("x-ratelimit-reset", pastReset())
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := newTestClient(ts).Get(context.Background(), "/api/v1/thing", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, fferror.ErrRateLimited)

	// The initial attempt plus five retries, no more.
	assert.Equal(t, int64(6), hits.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	_, err := newTestClient(ts).Get(context.Background(), "/api/v1/thing", nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, fferror.StatusCode(err))
	assert.Equal(t, int64(1), hits.Load())
}

func TestNotFoundMatchesSentinel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := newTestClient(ts).Get(context.Background(), "/api/v1/thing", nil, nil)
	require.Error(t, err)
	assert.True(t, fferror.NotFound(err))
}

func TestPaginationFollowsLinkHeader(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/items":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/items2>; rel="next"`, ts.URL))
			fmt.Fprint(w, `[{"id":"1"},{"id":"2"}]`)
		case "/api/v1/items2":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/items3>; rel="next"`, ts.URL))
			fmt.Fprint(w, `[{"id":"3"}]`)
		default:
			// Terminal page: no next link, no items.
			fmt.Fprint(w, `[]`)
		}
	}))
	defer ts.Close()

	type item struct {
		ID string `json:"id"`
	}
	items, err := httpclient.GetPaged[item](context.Background(), newTestClient(ts), "/api/v1/items", nil, 10)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, "3", items[2].ID)
}

func TestPaginationStopsAtLimit(t *testing.T) {
	var pages atomic.Int64

	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		// Endless pagination; the limit must stop us.
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/items>; rel="next"`, ts.URL))
		fmt.Fprint(w, `[{"id":"a"},{"id":"b"}]`)
	}))
	defer ts.Close()

	type item struct {
		ID string `json:"id"`
	}
	items, err := httpclient.GetPaged[item](context.Background(), newTestClient(ts), "/api/v1/items", nil, 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, int64(2), pages.Load())
}

func TestPaginationTerminatesWithoutNext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"only"}]`)
	}))
	defer ts.Close()

	type item struct {
		ID string `json:"id"`
	}
	items, err := httpclient.GetPaged[item](context.Background(), newTestClient(ts), "/api/v1/items", nil, 40)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestResolveRedirect(t *testing.T) {
	target := "https://peer.example/@bob/12345"

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		switch r.URL.Path {
		case "/redirect":
			w.Header().Set("Location", target)
			w.WriteHeader(http.StatusFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer ts.Close()

	got, err := httpclient.ResolveRedirect(context.Background(), ts.URL+"/redirect")
	require.NoError(t, err)
	assert.Equal(t, target, got)

	got, err = httpclient.ResolveRedirect(context.Background(), ts.URL+"/plain")
	require.NoError(t, err)
	assert.Equal(t, ts.URL+"/plain", got)
}
