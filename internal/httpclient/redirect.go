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

package httpclient

import (
	"context"
	"net/http"
	"time"

	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
)

// probeClient issues redirect probes. Short timeout, and it
// must NOT follow redirects: the Location header IS the result.
var probeClient = http.Client{
	Timeout:   5 * time.Second,
	Transport: transport,
	CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

// Ping fires a bare GET at the given URL, caring only that it
// was deliverable. Used for webhook notifications.
func Ping(ctx context.Context, rawurl string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return fferror.Wrap(err)
	}
	req.Header.Set("User-Agent", UserAgent)

	rsp, err := probeClient.Do(req)
	if err != nil {
		return fferror.Wrap(err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode >= 400 {
		return fferror.NewFromResponse(rsp)
	}
	return nil
}

// ResolveRedirect issues a HEAD request to rawurl and returns
// the redirect target if the server answers 301 or 302, or rawurl
// itself on a plain 200. Anything else is an error.
func ResolveRedirect(ctx context.Context, rawurl string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawurl, nil)
	if err != nil {
		return "", fferror.Wrap(err)
	}
	req.Header.Set("User-Agent", UserAgent)

	rsp, err := probeClient.Do(req)
	if err != nil {
		return "", fferror.Wrap(err)
	}
	defer rsp.Body.Close()

	switch rsp.StatusCode {
	case http.StatusOK:
		return rawurl, nil
	case http.StatusFound, http.StatusMovedPermanently:
		loc := rsp.Header.Get("Location")
		if loc == "" {
			return "", fferror.New("redirect with no location")
		}
		return loc, nil
	default:
		return "", fferror.NewFromResponse(rsp)
	}
}
