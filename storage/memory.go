// Copyright (C) 2022 Sneller, Inc.
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

package storage

import (
	"sync"

	"github.com/axiomhq/fsst"
)

// MemoryStore is a process-local Store. Serialized Noun values retrieved
// from the agent all look structurally alike (the same handful of
// opcode/tag bytes repeated across many entries), so an fsst.Table
// trained once on the first value stored gives cheap compression for
// everything that follows without per-entry training overhead.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	table *fsst.Table
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(key []byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	compressed, ok := s.data[string(key)]
	if !ok {
		return nil, false
	}
	if s.table == nil {
		// Put trains the table before it stores anything, so this branch
		// is not reached while s.data holds entries; it returns the
		// stored bytes unchanged.
		out := make([]byte, len(compressed))
		copy(out, compressed)
		return out, true
	}
	return s.table.DecodeAll(compressed), true
}

func (s *MemoryStore) Put(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table == nil {
		s.table = fsst.Train([][]byte{value})
	}
	stored := make([]byte, len(key))
	copy(stored, key)
	s.data[string(stored)] = s.table.EncodeAll(value)
}
