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

package orderedset

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// OrderedSet is an insertion-ordered set of strings, each
// entry carrying the timestamp at which it was first added.
// Re-adding an existing entry changes neither its position
// nor its timestamp. The zero value is not usable; call New.
type OrderedSet struct {
	index map[string]time.Time
	order []string
}

// New returns a new OrderedSet containing the given items,
// in order, stamped with the current time.
func New(items ...string) *OrderedSet {
	s := &OrderedSet{index: make(map[string]time.Time, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add adds item to the set stamped with the current time.
func (s *OrderedSet) Add(item string) {
	s.AddAt(item, time.Now().UTC())
}

// AddAt adds item to the set stamped with the given time.
func (s *OrderedSet) AddAt(item string, t time.Time) {
	if _, ok := s.index[item]; ok {
		return
	}
	s.index[item] = t
	s.order = append(s.order, item)
}

// AddAll adds each given item stamped with the current time.
func (s *OrderedSet) AddAll(items []string) {
	for _, item := range items {
		s.Add(item)
	}
}

// Contains returns whether item is in the set.
func (s *OrderedSet) Contains(item string) bool {
	_, ok := s.index[item]
	return ok
}

// Time returns the timestamp item was added at,
// or the zero time if item is not in the set.
func (s *OrderedSet) Time(item string) time.Time {
	return s.index[item]
}

// Remove removes item from the set, if present.
func (s *OrderedSet) Remove(item string) {
	if _, ok := s.index[item]; !ok {
		return
	}
	delete(s.index, item)
	for i, v := range s.order {
		if v == item {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries in the set.
func (s *OrderedSet) Len() int {
	return len(s.order)
}

// Items returns all entries in insertion order. The returned
// slice is a copy and safe for the caller to modify.
func (s *OrderedSet) Items() []string {
	items := make([]string, len(s.order))
	copy(items, s.order)
	return items
}

// Tail returns the last n entries in insertion order,
// or all entries when the set holds fewer than n.
func (s *OrderedSet) Tail(n int) []string {
	if n >= len(s.order) {
		return s.Items()
	}
	items := make([]string, n)
	copy(items, s.order[len(s.order)-n:])
	return items
}

// Truncate drops the oldest entries until
// at most n remain (by insertion order).
func (s *OrderedSet) Truncate(n int) {
	if n >= len(s.order) {
		return
	}
	drop := s.order[:len(s.order)-n]
	for _, item := range drop {
		delete(s.index, item)
	}
	s.order = append([]string{}, s.order[len(s.order)-n:]...)
}

// MarshalJSON encodes the set as a JSON object mapping each
// entry to its RFC3339 timestamp, in insertion order.
func (s *OrderedSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, item := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(s.index[item].Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of entry -> timestamp.
// JSON objects carry no ordering, so entries are re-inserted
// ordered by their timestamps, oldest first.
func (s *OrderedSet) UnmarshalJSON(b []byte) error {
	raw := make(map[string]string)
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	type entry struct {
		item string
		t    time.Time
	}

	entries := make([]entry, 0, len(raw))
	for item, ts := range raw {
		t, err := parseTimestamp(ts)
		if err != nil {
			// A mangled timestamp shouldn't lose
			// the entry itself; treat it as old.
			t = time.Time{}
		}
		entries = append(entries, entry{item, t})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].t.Before(entries[j].t)
	})

	if s.index == nil {
		s.index = make(map[string]time.Time, len(entries))
	}
	for _, e := range entries {
		s.AddAt(e.item, e.t)
	}
	return nil
}

// parseTimestamp accepts the RFC3339 forms we write plus the
// python-isoformat variant ("2006-01-02 15:04:05.999999+00:00")
// found in state files written by earlier versions.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05.999999-07:00", s)
}
