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

package mesh

import (
	"github.com/google/uuid"

	"github.com/nounrt/nounrt/noun"
)

// Task is one decoded, authenticated payload waiting to be evaluated
// (spec §5: "handle_packet enqueues a Task(requestor_identity,
// program_noun) onto a task queue owned by the agent environment").
// Its ID mirrors cmd/snellerd's per-request UUIDs, giving callers a
// stable handle for logging and for matching a later result back to
// the request that produced it.
type Task struct {
	ID        uuid.UUID
	Requestor Identity
	Program   noun.Noun
}

func newTask(requestor Identity, program noun.Noun) Task {
	return Task{ID: uuid.New(), Requestor: requestor, Program: program}
}
