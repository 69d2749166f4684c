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

package fferror

import (
	"errors"
	"net/http"
)

// Sentinel errors covering the result variants that callers
// branch on. These are recovered from wrapped errors using
// the errors.Is() stdlib machinery.
var (
	// ErrNotFound: the requested object does not exist on
	// the target server, or federated search could not
	// resolve it. Recoverable at the single-URL scope.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited: the target server returned 429 on
	// every permitted retry attempt.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnsupported: the operation is not available on the
	// target server's software, or the peer has been marked
	// failed for the remainder of the run.
	ErrUnsupported = errors.New("unsupported by this server")
)

// statusError wraps an error
// with an HTTP status code.
type statusError struct {
	err  error
	code int
}

func (se *statusError) Error() string {
	return se.err.Error()
}

func (se *statusError) Unwrap() error {
	return se.err
}

// WithStatusCode wraps the given error to also carry an
// HTTP status code, retrievable with StatusCode(). A 404
// additionally matches ErrNotFound and a 429 matches
// ErrRateLimited via errors.Is().
func WithStatusCode(err error, code int) error {
	return &statusError{err: err, code: code}
}

// StatusCode returns the HTTP status code carried by any
// error in err's chain, or 0 when none is set.
func StatusCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

func (se *statusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return se.code == http.StatusNotFound
	case ErrRateLimited:
		return se.code == http.StatusTooManyRequests
	default:
		return false
	}
}

// NotFound returns whether the given error indicates a
// missing object rather than a failure to communicate.
func NotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
