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

package state

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
)

// ErrLocked is returned by AcquireLock when another run's
// lock file exists and has not outlived the given max age.
var ErrLocked = errors.New("another run holds the lock")

// Lock is a held run lock backed by a timestamp file.
type Lock struct {
	path string
}

// AcquireLock takes the run lock at path, breaking a stale
// lock older than maxAge. A fresh foreign lock returns
// ErrLocked; an unreadable lock timestamp is also fatal,
// mirroring the caution of the original scheduler contract.
func AcquireLock(path string, maxAge time.Duration) (*Lock, error) {
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		stamp, perr := parseLockStamp(string(b))
		if perr != nil {
			return nil, fferror.Newf("cannot read age of lock file %s: %w", path, perr)
		}
		age := time.Since(stamp)
		if age < maxAge {
			log.Infof("lock file age is %s - below maximum of %s", age, maxAge)
			return nil, ErrLocked
		}
		log.Info("lock file has expired, removing")
		if err := os.Remove(path); err != nil {
			return nil, fferror.Wrap(err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fferror.Wrap(err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fferror.Wrap(err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := os.WriteFile(path, []byte(stamp), 0o644); err != nil {
		return nil, fferror.Wrap(err)
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file. Safe to call once only.
func (l *Lock) Release() {
	if err := os.Remove(l.path); err != nil {
		log.Errorf("error removing lock file: %v", err)
	}
}

// parseLockStamp accepts the RFC3339 stamps we write, plus
// the "2006-01-02 15:04:05.999999+00:00" isoformat written
// by earlier versions of this tool.
func parseLockStamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05.999999-07:00", s)
}
