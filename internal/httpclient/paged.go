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
	"net/url"

	"github.com/superseriousbusiness/fedifetcher/internal/log"
)

// GetPaged collects up to limit items from a paginated listing
// endpoint, following Link rel="next" URLs. It terminates when
// the limit is reached, a page comes back empty, or the server
// stops sending a next link. An error on the first page is
// returned; an error mid-pagination yields what was collected.
func GetPaged[T any](ctx context.Context, c *Client, path string, query url.Values, limit int) ([]T, error) {
	var (
		out   []T
		batch []T
	)

	pg, err := c.Get(ctx, path, query, &batch)
	if err != nil {
		return nil, err
	}

	for {
		out = append(out, batch...)

		if len(batch) == 0 || len(out) >= limit || pg.Next == "" {
			break
		}

		batch = nil
		pg, err = c.GetURL(ctx, pg.Next, &batch)
		if err != nil {
			// Keep what we have; pagination is best-effort
			// beyond the first page.
			log.Warnf("pagination aborted for %s%s after %d items: %v", c.host, path, len(out), err)
			break
		}
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
