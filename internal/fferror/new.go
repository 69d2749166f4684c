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
	"fmt"
	"io"
	"net/http"

	"github.com/superseriousbusiness/fedifetcher/internal/log"
)

// New returns a new error,
// prepended with calling function. It
// functions similarly to errors.New().
//
//go:noinline
func New(msg string) error {
	return &cerror{
		c: log.Caller(3),
		e: errors.New(msg),
	}
}

// Newf returns a new formatted error,
// prepended with calling function. It
// functions similarly to fmt.Errorf().
//
//go:noinline
func Newf(msgf string, args ...any) error {
	return &cerror{
		c: log.Caller(3),
		e: fmt.Errorf(msgf, args...),
	}
}

// Wrap returns a new wrapped error,
// prepended with calling function.
//
//go:noinline
func Wrap(err error) error {
	return &cerror{
		c: log.Caller(3),
		e: err,
	}
}

// Wrapf returns a new formatted wrapped
// error, prepended with calling function.
// The format string must contain a '%w'.
//
//go:noinline
func Wrapf(msgf string, args ...any) error {
	return &cerror{
		c: log.Caller(3),
		e: fmt.Errorf(msgf, args...),
	}
}

// NewFromResponse crafts an error from provided HTTP response
// including the method, status and body (if any provided). This
// will also wrap the returned error using WithStatusCode() and
// will include the caller function name as a prefix.
//
//go:noinline
func NewFromResponse(rsp *http.Response) error {
	// Build error with message without
	// using "fmt", as chances are this will
	// be used in a hot code path and we
	// know all the incoming types involved.
	err := &cerror{
		c: log.Caller(3),
		e: errors.New("" +
			rsp.Request.Method +
			" request to " +
			rsp.Request.URL.String() +
			" failed: status=\"" +
			rsp.Status +
			"\" body=\"" +
			drainBody(rsp.Body, 256) +
			"\"",
		),
	}

	// Wrap error to provide status code.
	return WithStatusCode(err, rsp.StatusCode)
}

// cerror wraps an error with a string
// prefix of the caller function name.
type cerror struct {
	c string
	e error
}

func (ce *cerror) Error() string {
	msg := ce.e.Error()
	return ce.c + ": " + msg
}

func (ce *cerror) Unwrap() error {
	return ce.e
}

// drainBody drains up to limit bytes of given body as a string.
func drainBody(body io.ReadCloser, limit int64) string {
	b, err := io.ReadAll(io.LimitReader(body, limit))
	if err != nil || len(b) == 0 {
		return ""
	}
	return string(b)
}
