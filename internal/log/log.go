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
	"os"
	"strings"
	"sync/atomic"
	"time"

	"codeberg.org/gruf/go-byteutil"
	"codeberg.org/gruf/go-kv"
)

// timefmt is the formatting used for log entry timestamps.
const timefmt = "2006-01-02 15:04:05.000"

// loglvl is the currently set logging level.
var loglvl atomic.Uint32

// Level returns the currently set log level.
func Level() LEVEL {
	return LEVEL(loglvl.Load())
}

// SetLevel sets the max logging level.
func SetLevel(lvl LEVEL) {
	loglvl.Store(uint32(lvl))
}

func init() {
	// Default to INFO until configuration is parsed.
	SetLevel(INFO)
}

// WithField returns a new prepared Entry{} with key-value field.
func WithField(key string, value interface{}) Entry {
	return Entry{kvs: []kv.Field{{K: key, V: value}}}
}

// WithFields returns a new prepared Entry{} with key-value fields.
func WithFields(fields ...kv.Field) Entry {
	return Entry{kvs: fields}
}

func Trace(a ...interface{}) { logf(3, TRACE, nil, args(len(a)), a...) }

func Tracef(s string, a ...interface{}) { logf(3, TRACE, nil, s, a...) }

func Debug(a ...interface{}) { logf(3, DEBUG, nil, args(len(a)), a...) }

func Debugf(s string, a ...interface{}) { logf(3, DEBUG, nil, s, a...) }

func Info(a ...interface{}) { logf(3, INFO, nil, args(len(a)), a...) }

func Infof(s string, a ...interface{}) { logf(3, INFO, nil, s, a...) }

func Warn(a ...interface{}) { logf(3, WARN, nil, args(len(a)), a...) }

func Warnf(s string, a ...interface{}) { logf(3, WARN, nil, s, a...) }

func Error(a ...interface{}) { logf(3, ERROR, nil, args(len(a)), a...) }

func Errorf(s string, a ...interface{}) { logf(3, ERROR, nil, s, a...) }

func Panic(a ...interface{}) {
	defer panic(fmt.Sprint(a...))
	logf(3, PANIC, nil, args(len(a)), a...)
}

func Panicf(s string, a ...interface{}) {
	defer panic(fmt.Sprintf(s, a...))
	logf(3, PANIC, nil, s, a...)
}

// logf is the core log writer, called by all public functions
// with appropriate calldepth. Fields are formatted by go-kv.
func logf(depth int, lvl LEVEL, fields []kv.Field, s string, a ...interface{}) {
	if lvl > Level() {
		return
	}

	var out *os.File

	// Split errors to stderr.
	if lvl <= ERROR {
		out = os.Stderr
	} else {
		out = os.Stdout
	}

	buf := byteutil.Buffer{B: make([]byte, 0, 256)}

	// Append formatted timestamp.
	buf.B = append(buf.B, `timestamp="`...)
	buf.B = append(buf.B, time.Now().Format(timefmt)...)
	buf.B = append(buf.B, `" `...)

	// Append formatted caller func.
	buf.B = append(buf.B, `func=`...)
	buf.B = append(buf.B, Caller(depth+1)...)
	buf.B = append(buf.B, ' ')

	// Append formatted level string.
	buf.B = append(buf.B, `level=`...)
	buf.B = append(buf.B, lvl.String()...)
	buf.B = append(buf.B, ' ')

	if s != "" {
		// Append message to log fields.
		fields = append(fields, kv.Field{
			K: "msg", V: fmt.Sprintf(s, a...),
		})
	}

	// Write all fields.
	kv.Fields(fields).AppendFormat(&buf, false)

	if buf.B[len(buf.B)-1] != '\n' {
		// Ensure a final newline.
		buf.B = append(buf.B, '\n')
	}

	_, _ = out.Write(buf.B)
}

// args returns an args format string of given length.
func args(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("%v ", n), " ")
}
