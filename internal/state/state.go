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

// Package state persists the little memory this tool keeps
// between runs: which accounts we already follow, which users
// we checked recently, and which reply URLs we already resolved
// to their origin. One file per collection in the state dir.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/superseriousbusiness/fedifetcher/internal/fferror"
	"github.com/superseriousbusiness/fedifetcher/internal/log"
	"github.com/superseriousbusiness/fedifetcher/internal/orderedset"
)

const (
	fileKnownFollowings = "known_followings"
	fileReplyMappings   = "replied_toot_server_ids"
	fileRecentlyChecked = "recently_checked_users"

	// maxEntries bounds each persisted collection;
	// only the most recently added entries survive.
	maxEntries = 50000
)

// Seen is the on-disk tuple of reply mappings, known
// followings and recently checked users. Mutations are
// serialized; modes run in sequence but fan-out workers
// may record reply mappings concurrently.
type Seen struct {
	dir string

	mu            sync.Mutex
	replyMappings map[string]*string
	replyOrder    []string

	// KnownFollowings holds user@domain handles whose posts
	// have been backfilled completely at least once.
	KnownFollowings *orderedset.OrderedSet

	// RecentlyChecked holds user@domain handles checked for
	// new posts recently, with the time of that check.
	RecentlyChecked *orderedset.OrderedSet
}

// Load reads seen-state files from dir. Files that do not
// exist yield empty collections; anything else unreadable
// is an error (the caller treats it as fatal pre-flight).
func Load(dir string) (*Seen, error) {
	s := &Seen{
		dir:             dir,
		replyMappings:   make(map[string]*string),
		KnownFollowings: orderedset.New(),
		RecentlyChecked: orderedset.New(),
	}

	// Known followings: LF-delimited handles.
	b, err := readFile(filepath.Join(dir, fileKnownFollowings))
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(string(b), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			s.KnownFollowings.Add(line)
		}
	}

	// Reply mappings: JSON object, file order preserved.
	b, err = readFile(filepath.Join(dir, fileReplyMappings))
	if err != nil {
		return nil, err
	}
	if len(b) > 0 {
		if err := decodeOrderedObject(b, func(k string, v *string) {
			s.setReplyMappingLocked(k, v)
		}); err != nil {
			return nil, fferror.Newf("malformed %s: %w", fileReplyMappings, err)
		}
	}

	// Recently checked users: JSON object handle -> timestamp.
	b, err = readFile(filepath.Join(dir, fileRecentlyChecked))
	if err != nil {
		return nil, err
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, s.RecentlyChecked); err != nil {
			return nil, fferror.Newf("malformed %s: %w", fileRecentlyChecked, err)
		}
	}

	log.WithField("dir", dir).Debugf("loaded state: %d followings, %d reply mappings, %d recent users",
		s.KnownFollowings.Len(), len(s.replyMappings), s.RecentlyChecked.Len())
	return s, nil
}

// Save writes all collections back to the state dir, each
// truncated to its most recent maxEntries entries.
func (s *Seen) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.KnownFollowings.Truncate(maxEntries)
	s.RecentlyChecked.Truncate(maxEntries)
	s.truncateReplyMappingsLocked(maxEntries)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fferror.Wrap(err)
	}

	lines := strings.Join(s.KnownFollowings.Items(), "\n")
	if err := os.WriteFile(filepath.Join(s.dir, fileKnownFollowings), []byte(lines), 0o644); err != nil {
		return fferror.Wrap(err)
	}

	b, err := s.encodeReplyMappingsLocked()
	if err != nil {
		return fferror.Wrap(err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, fileReplyMappings), b, 0o644); err != nil {
		return fferror.Wrap(err)
	}

	b, err = json.Marshal(s.RecentlyChecked)
	if err != nil {
		return fferror.Wrap(err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, fileRecentlyChecked), b, 0o644); err != nil {
		return fferror.Wrap(err)
	}

	return nil
}

// ReplyMapping looks up the resolved (or unresolved-sentinel)
// mapping for the given reply URL. The second return reports
// whether any mapping is recorded at all; a recorded nil means
// "tried before, unresolvable".
func (s *Seen) ReplyMapping(url string) (*string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.replyMappings[url]
	return v, ok
}

// SetReplyMapping records the mapping for the given reply URL.
// Pass nil to record the unresolved sentinel. Once recorded, a
// mapping is never overwritten within a run.
func (s *Seen) SetReplyMapping(url string, value *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.replyMappings[url]; ok {
		return
	}
	s.setReplyMappingLocked(url, value)
}

// ReplyMappingsLen returns the number of recorded mappings.
func (s *Seen) ReplyMappingsLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replyMappings)
}

// ExpireRecentlyChecked drops recently-checked entries whose
// timestamp is older than the given horizon.
func (s *Seen) ExpireRecentlyChecked(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for _, user := range s.RecentlyChecked.Items() {
		if s.RecentlyChecked.Time(user).Before(cutoff) {
			log.Debugf("dropping %s from recently checked users", user)
			s.RecentlyChecked.Remove(user)
		}
	}
}

func (s *Seen) setReplyMappingLocked(url string, value *string) {
	if _, ok := s.replyMappings[url]; !ok {
		s.replyOrder = append(s.replyOrder, url)
	}
	s.replyMappings[url] = value
}

func (s *Seen) truncateReplyMappingsLocked(n int) {
	if n >= len(s.replyOrder) {
		return
	}
	drop := s.replyOrder[:len(s.replyOrder)-n]
	for _, url := range drop {
		delete(s.replyMappings, url)
	}
	s.replyOrder = append([]string{}, s.replyOrder[len(s.replyOrder)-n:]...)
}

func (s *Seen) encodeReplyMappingsLocked() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, url := range s.replyOrder {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(url)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(s.replyMappings[url])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeOrderedObject decodes a flat JSON object of string ->
// string|null, calling fn for each member in file order (which
// encoding/json's map decoding would throw away).
func decodeOrderedObject(b []byte, fn func(k string, v *string)) error {
	dec := json.NewDecoder(bytes.NewReader(b))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("expected JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return errors.New("expected string key")
		}
		var val *string
		if err := dec.Decode(&val); err != nil {
			return err
		}
		fn(key, val)
	}

	_, err = dec.Token() // closing '}'
	return err
}

func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fferror.Wrap(err)
	}
	return b, nil
}
