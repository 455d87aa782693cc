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

// Package storage holds concrete key/value backends for vm.Effector's
// Load/Store half (spec §4.5, §6.3): an in-memory map and a filesystem
// tree, both addressed by the raw bytes STORE_BY_HASH/STORE_BY_KEY
// already tag and hash.
package storage

// Store is the narrow persistence surface an agent composes into a full
// vm.Effector (mesh.Agent does the composing; this package only holds
// the two concrete backends).
type Store interface {
	Get(key []byte) ([]byte, bool)
	Put(key, value []byte)
}
