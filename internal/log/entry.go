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

package log

import (
	"fmt"

	"codeberg.org/gruf/go-kv"
)

// Entry wraps a set of key-value log fields,
// providing the same levelled output functions
// as the package itself.
type Entry struct {
	kvs []kv.Field
}

// WithField returns a new Entry{} with given key-value field appended.
func (e Entry) WithField(key string, value interface{}) Entry {
	return e.WithFields(kv.Field{K: key, V: value})
}

// WithFields returns a new Entry{} with given key-value fields appended.
func (e Entry) WithFields(fields ...kv.Field) Entry {
	kvs := make([]kv.Field, len(e.kvs), len(e.kvs)+len(fields))
	copy(kvs, e.kvs)
	return Entry{kvs: append(kvs, fields...)}
}

func (e Entry) Trace(a ...interface{}) { logf(3, TRACE, e.kvs, args(len(a)), a...) }

func (e Entry) Tracef(s string, a ...interface{}) { logf(3, TRACE, e.kvs, s, a...) }

func (e Entry) Debug(a ...interface{}) { logf(3, DEBUG, e.kvs, args(len(a)), a...) }

func (e Entry) Debugf(s string, a ...interface{}) { logf(3, DEBUG, e.kvs, s, a...) }

func (e Entry) Info(a ...interface{}) { logf(3, INFO, e.kvs, args(len(a)), a...) }

func (e Entry) Infof(s string, a ...interface{}) { logf(3, INFO, e.kvs, s, a...) }

func (e Entry) Warn(a ...interface{}) { logf(3, WARN, e.kvs, args(len(a)), a...) }

func (e Entry) Warnf(s string, a ...interface{}) { logf(3, WARN, e.kvs, s, a...) }

func (e Entry) Error(a ...interface{}) { logf(3, ERROR, e.kvs, args(len(a)), a...) }

func (e Entry) Errorf(s string, a ...interface{}) { logf(3, ERROR, e.kvs, s, a...) }

func (e Entry) Panic(a ...interface{}) {
	defer panic(fmt.Sprint(a...))
	logf(3, PANIC, e.kvs, args(len(a)), a...)
}

func (e Entry) Panicf(s string, a ...interface{}) {
	defer panic(fmt.Sprintf(s, a...))
	logf(3, PANIC, e.kvs, s, a...)
}
