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

package federation_test

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
	"github.com/superseriousbusiness/fedifetcher/internal/federation"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
)

// newManager wires a Manager whose "peers" resolve to local
// test servers instead of the open fediverse.
func newManager(servers map[string]*httptest.Server) *federation.Manager {
	m := federation.NewManager("home.example", nil, 2*time.Second)
	m.SetBaseURLFunc(func(domain string) string {
		if ts, ok := servers[domain]; ok {
			return ts.URL
		}
		return ""
	})
	return m
}

func nodeinfoHandler(software string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/nodeinfo/2.0" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"software": {"name": "%s", "version": "1.0"}}`, software)
	}
}

func TestNormalizeDomain(t *testing.T) {
	for in, want := range map[string]string{
		"https://mstdn.example":        "mstdn.example",
		"https://mstdn.example/":       "mstdn.example",
		"https://mstdn.example/@user":  "mstdn.example",
		"MSTDN.example":                "mstdn.example",
		"mstdn.example/path/elsewhere": "mstdn.example",
	} {
		assert.Equal(t, want, federation.NormalizeDomain(in))
	}
}

func TestPeerDetectsMastodon(t *testing.T) {
	ts := httptest.NewServer(nodeinfoHandler("mastodon"))
	defer ts.Close()

	m := newManager(map[string]*httptest.Server{"peer.example": ts})
	iface, err := m.Peer(context.Background(), "peer.example")
	require.NoError(t, err)
	assert.Equal(t, ffmodel.BackendMastodon, iface.Kind())
	assert.Equal(t, "peer.example", iface.Domain())
}

func TestPeerDetectsFirefish(t *testing.T) {
	ts := httptest.NewServer(nodeinfoHandler("calckey"))
	defer ts.Close()

	m := newManager(map[string]*httptest.Server{"ck.example": ts})
	iface, err := m.Peer(context.Background(), "ck.example")
	require.NoError(t, err)
	assert.Equal(t, ffmodel.BackendFirefish, iface.Kind())
}

func TestPeerWellKnownFallback(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/nodeinfo":
			fmt.Fprintf(w, `{"links": [{"rel": "http://nodeinfo.diaspora.software/ns/schema/2.0", "href": "%s/nodeinfo/2.0.json"}]}`, ts.URL)
		case "/nodeinfo/2.0.json":
			fmt.Fprint(w, `{"software": {"name": "pleroma", "version": "2.5"}}`)
		default:
			// The direct probe 404s so the
			// fallback is exercised.
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	m := newManager(map[string]*httptest.Server{"pl.example": ts})
	iface, err := m.Peer(context.Background(), "pl.example")
	require.NoError(t, err)
	assert.Equal(t, ffmodel.BackendPleroma, iface.Kind())
}

func TestPeerMemoized(t *testing.T) {
	var probes atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/nodeinfo/2.0" {
			probes.Add(1)
			fmt.Fprint(w, `{"software": {"name": "mastodon", "version": "4.2"}}`)
			return
		}
		http.NotFound(w, r)
	}))
	defer ts.Close()

	m := newManager(map[string]*httptest.Server{"peer.example": ts})

	first, err := m.Peer(context.Background(), "peer.example")
	require.NoError(t, err)
	second, err := m.Peer(context.Background(), "https://peer.example/")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), probes.Load())
}

func TestUnknownSoftwareFallsBackToMastodonDialect(t *testing.T) {
	ts := httptest.NewServer(nodeinfoHandler("something-novel"))
	defer ts.Close()

	m := newManager(map[string]*httptest.Server{"odd.example": ts})
	iface, err := m.Peer(context.Background(), "odd.example")
	require.NoError(t, err)
	assert.Equal(t, ffmodel.BackendUnknown, iface.Kind())
}

func TestHomeNeedsNoProbe(t *testing.T) {
	m := newManager(nil)
	home := m.Home("token")
	assert.Equal(t, ffmodel.BackendMastodon, home.Kind())
	assert.Equal(t, "home.example", home.Domain())

	// Same token, same interface.
	assert.Same(t, home, m.Home("token"))
}

// failingAPI refuses everything with 403-shaped errors, like a
// Firefish deployment that auth-gates its AP endpoints.
type failingAPI struct {
	calls atomic.Int64
}

func (a *failingAPI) err() error {
	a.calls.Add(1)
	return fferror.WithStatusCode(fferror.New("forbidden"), http.StatusForbidden)
}

func (a *failingAPI) ResolveStatus(context.Context, string) (*ffmodel.Status, error) {
	return nil, a.err()
}

func (a *failingAPI) GetStatus(context.Context, string) (*ffmodel.Status, error) {
	return nil, a.err()
}

func (a *failingAPI) GetContextStatuses(context.Context, string, string) ([]*ffmodel.Status, error) {
	return nil, a.err()
}

func (a *failingAPI) GetUserID(context.Context, string) (string, error) {
	return "", a.err()
}

func (a *failingAPI) GetUserStatuses(context.Context, string, int) ([]*ffmodel.Status, error) {
	return nil, a.err()
}

func TestAuthRejectionMarksPeerFailed(t *testing.T) {
	api := &failingAPI{}
	iface := federation.Wrap("grumpy.example", ffmodel.BackendFirefish, api)

	_, err := iface.Get(context.Background(), "https://grumpy.example/notes/1")
	require.Error(t, err)
	assert.Equal(t, int64(1), api.calls.Load())

	// Second call short-circuits without touching the adapter.
	_, err = iface.Get(context.Background(), "https://grumpy.example/notes/2")
	require.Error(t, err)
	assert.ErrorIs(t, err, fferror.ErrUnsupported)
	assert.Equal(t, int64(1), api.calls.Load())
}

func TestCollectorUnsupportedOnPlainAPI(t *testing.T) {
	iface := federation.Wrap("grumpy.example", ffmodel.BackendFirefish, &failingAPI{})
	_, err := iface.GetHomeTimeline(context.Background(), 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, fferror.ErrUnsupported)
}
