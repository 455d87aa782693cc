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
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FilesystemStore persists each entry as one file under root, sharded by
// the key's first byte (the first two hex characters of the hex-encoded
// key) to keep any one directory small
// (grounded on the filesystem storage driver's path layout). Writes go
// through a temp file and an atomic rename so a crash mid-write never
// leaves a half-written value behind.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore returns a Store rooted at dir, creating it if
// necessary.
func NewFilesystemStore(dir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &FilesystemStore{root: dir}, nil
}

func (s *FilesystemStore) path(key []byte) string {
	h := hex.EncodeToString(key)
	if len(h) < 2 {
		return filepath.Join(s.root, h)
	}
	return filepath.Join(s.root, h[:2], h)
}

func (s *FilesystemStore) Get(key []byte) ([]byte, bool) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, false
	}
	return b, true
}

func (s *FilesystemStore) Put(key, value []byte) {
	full := s.path(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o777); err != nil {
		return
	}
	tmp := full + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, value, 0o666); err != nil {
		os.Remove(tmp)
		return
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
	}
}
