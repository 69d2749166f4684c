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

package federation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
	"github.com/superseriousbusiness/fedifetcher/internal/ffmodel"
	"github.com/superseriousbusiness/fedifetcher/internal/federation/firefish"
	"github.com/superseriousbusiness/fedifetcher/internal/federation/lemmy"
	"github.com/superseriousbusiness/fedifetcher/internal/federation/mastodon"
	"github.com/superseriousbusiness/fedifetcher/internal/httpclient"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
)

// Manager owns one Interface per domain for the lifetime of a
// run. Peers are created lazily on first use and never torn
// down before the run ends; NodeInfo is probed exactly once
// per domain, including probe failures.
type Manager struct {
	homeDomain string
	tokens     map[string]string
	timeout    time.Duration

	// baseURL overrides "https://<domain>"
	// client bases; used by tests.
	baseURL func(domain string) string

	mu    sync.Mutex
	home  map[string]*Interface // keyed by token
	peers map[string]*Interface
	errs  map[string]error
}

// NewManager returns a Manager for the given home domain.
// externalTokens provides optional bearer tokens per peer.
func NewManager(homeDomain string, externalTokens map[string]string, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	tokens := make(map[string]string, len(externalTokens))
	for server, token := range externalTokens {
		tokens[NormalizeDomain(server)] = token
	}
	return &Manager{
		homeDomain: NormalizeDomain(homeDomain),
		tokens:     tokens,
		timeout:    timeout,
		home:       make(map[string]*Interface),
		peers:      make(map[string]*Interface),
		errs:       make(map[string]error),
	}
}

// SetBaseURLFunc installs a domain -> base URL override,
// letting tests route "peer" domains at local listeners.
func (m *Manager) SetBaseURLFunc(fn func(domain string) string) {
	m.baseURL = fn
}

// HomeDomain returns the normalized home server domain.
func (m *Manager) HomeDomain() string {
	return m.homeDomain
}

// Home returns the interface to the home server authenticated
// with the given token. The home server is Mastodon-compatible
// by contract, so no NodeInfo probe happens; its client is
// opened wider for bulk URL resolution.
func (m *Manager) Home(token string) *Interface {
	m.mu.Lock()
	defer m.mu.Unlock()

	if iface, ok := m.home[token]; ok {
		return iface
	}

	client := httpclient.New(httpclient.Config{
		Host:         m.homeDomain,
		Token:        token,
		Timeout:      60 * time.Second,
		MaxOpenConns: bulkConcurrency,
		BaseURL:      m.base(m.homeDomain),
	})
	iface := &Interface{
		domain: m.homeDomain,
		kind:   ffmodel.BackendMastodon,
		api:    mastodon.New(client),
	}
	m.home[token] = iface
	return iface
}

// Peer returns the interface for the given peer domain,
// creating (and NodeInfo-probing) it on first use. Probe
// failures are remembered; re-asking for a dead domain is
// cheap for the rest of the run.
func (m *Manager) Peer(ctx context.Context, domain string) (*Interface, error) {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return nil, fferror.New("empty peer domain")
	}
	if domain == m.homeDomain {
		return m.Home(m.tokens[domain]), nil
	}

	m.mu.Lock()
	if iface, ok := m.peers[domain]; ok {
		m.mu.Unlock()
		return iface, nil
	}
	if err, ok := m.errs[domain]; ok {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	// Probe outside the lock; peers can be slow and other
	// domains shouldn't queue behind this one.
	iface, err := m.createPeer(ctx, domain)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.errs[domain] = err
		return nil, err
	}
	if existing, ok := m.peers[domain]; ok {
		// Lost a race; keep the first one.
		return existing, nil
	}
	m.peers[domain] = iface
	return iface, nil
}

func (m *Manager) createPeer(ctx context.Context, domain string) (*Interface, error) {
	probe := httpclient.New(httpclient.Config{
		Host:    domain,
		Timeout: m.timeout,
		BaseURL: m.base(domain),
	})

	kind, canonical, err := probeNodeInfo(ctx, probe, domain)
	if err != nil {
		log.Debugf("nodeinfo probe failed for %s: %v", domain, err)
		// Unknown software still gets the Mastodon-compatible
		// treatment for the cross-software-safe endpoints.
		kind, canonical = ffmodel.BackendUnknown, domain
	}

	client := httpclient.New(httpclient.Config{
		Host:    canonical,
		Token:   m.tokens[canonical],
		Timeout: m.timeout,
		BaseURL: m.base(canonical),
	})

	var api API
	switch kind {
	case ffmodel.BackendFirefish:
		api = firefish.New(client)
	case ffmodel.BackendLemmy:
		api = lemmy.New(client)
	default:
		// Mastodon, Pleroma, Pixelfed and anything unknown all
		// speak enough of the Mastodon client API for our needs.
		api = mastodon.New(client)
	}

	log.WithField("software", kind.String()).Infof("created federation interface for %s", canonical)
	return &Interface{domain: canonical, kind: kind, api: api}, nil
}

func (m *Manager) base(domain string) string {
	if m.baseURL == nil {
		return ""
	}
	return m.baseURL(domain)
}

// Wrap fronts a raw adapter with an Interface, bypassing
// NodeInfo detection. Useful to tests and tooling wiring a
// known backend directly.
func Wrap(domain string, kind ffmodel.BackendKind, api API) *Interface {
	return &Interface{domain: NormalizeDomain(domain), kind: kind, api: api}
}

// NormalizeDomain reduces a server name, URL or URL-ish string
// to a bare lowercase hostname: scheme, path and trailing
// slashes are stripped.
func NormalizeDomain(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		s = s[:idx]
	}
	return strings.ToLower(s)
}
