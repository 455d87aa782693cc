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
	"encoding/binary"

	"github.com/dchest/siphash"
)

// ExpectedPacket is one candidate decrypt context a received identifier
// might map to (spec §4.8: "A mapping from 64-bit identifier to the
// list of (stream_key, packet_number, peer_identity) triples that would
// cause that identifier to be emitted").
type ExpectedPacket struct {
	StreamKey    [32]byte
	PacketNumber uint64
	Peer         Identity
}

// expectedPacketShards is the number of top-level buckets the
// identifier space is split across before the per-bucket map lookup, a
// hash-then-shard split in the same place vm/interphash.go and
// splitter.go put theirs: reduce the odds of many live streams
// colliding in one Go map's bucket chain, rather than protecting
// against concurrent access (the agent owning this set runs on a
// single control thread per spec §5).
const expectedPacketShards = 16

// ExpectedPacketSet is the receive-side lookup table described in spec
// §4.8: incoming packets carry an opaque 64-bit identifier, and this
// set is how the agent recovers which stream/packet-number/peer
// produced it without the identifier itself revealing anything about
// the stream key.
type ExpectedPacketSet struct {
	shardKey0, shardKey1 uint64
	shards               [expectedPacketShards]map[uint64][]ExpectedPacket
}

// NewExpectedPacketSet builds an empty set. shardKey0/shardKey1 seed
// the SipHash-2-4 used to pick a shard for a given identifier; any
// fixed, agent-local pair is sufficient since shard selection need
// only distribute load, not resist an adversary (the identifier is
// already opaque before it reaches this set).
func NewExpectedPacketSet(shardKey0, shardKey1 uint64) *ExpectedPacketSet {
	s := &ExpectedPacketSet{shardKey0: shardKey0, shardKey1: shardKey1}
	for i := range s.shards {
		s.shards[i] = make(map[uint64][]ExpectedPacket)
	}
	return s
}

func (s *ExpectedPacketSet) shardFor(identifier uint64) map[uint64][]ExpectedPacket {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], identifier)
	h := siphash.Hash(s.shardKey0, s.shardKey1, buf[:])
	return s.shards[h%expectedPacketShards]
}

// Add registers candidate as a possible match for identifier.
func (s *ExpectedPacketSet) Add(identifier uint64, candidate ExpectedPacket) {
	shard := s.shardFor(identifier)
	shard[identifier] = append(shard[identifier], candidate)
}

// Remove discards every candidate registered under identifier, called
// once a candidate has matched and been consumed, or once the window
// has advanced past it unseen (spec §4.8 receive-window advance: "Thus
// identifiers for packets never received are still eventually
// retired").
func (s *ExpectedPacketSet) Remove(identifier uint64) {
	delete(s.shardFor(identifier), identifier)
}

// Candidates returns the candidates registered under identifier, or
// nil if there are none.
func (s *ExpectedPacketSet) Candidates(identifier uint64) []ExpectedPacket {
	return s.shardFor(identifier)[identifier]
}

// Count reports the total number of live identifier registrations
// across every shard, used by tests to check the "approximately 64
// entries per stream" invariant (spec §8 invariant 10).
func (s *ExpectedPacketSet) Count() int {
	n := 0
	for _, shard := range s.shards {
		n += len(shard)
	}
	return n
}

// ReceiveWindow tracks, for one stream, which of the next 64 expected
// packet numbers remain unseen (spec §4.8 receive-window advance). It
// is bound to one stream's key and direction for its whole lifetime,
// since those parameters never change without the stream itself being
// replaced (a key rotation creates a new stream, and a new window,
// rather than mutating an existing one).
type ReceiveWindow struct {
	streamKey             [32]byte
	peer                  Identity
	neighborIsLexicoLater bool

	// mask bit i (0 = least significant) is set while packet number
	// base+i is still expected.
	mask uint64
	base uint64
	// nextBatch is the index of the next identifier batch to mint
	// when the window needs to grow (batches are 8 identifiers wide,
	// one batch per byte of mask). NewReceiveWindow mints batches 0
	// through 7, covering packet numbers [0,64), up front.
	nextBatch uint64
}

// NewReceiveWindow starts a window awaiting packet numbers [0, 64),
// seeding one batch of identifiers per byte of the mask (packet numbers
// [0,64)) into set so every packet the window expects has something to
// match against.
func NewReceiveWindow(set *ExpectedPacketSet, streamKey [32]byte, peer Identity, neighborIsLexicoLater bool) (*ReceiveWindow, error) {
	w := &ReceiveWindow{
		streamKey:             streamKey,
		peer:                  peer,
		neighborIsLexicoLater: neighborIsLexicoLater,
		mask:                  ^uint64(0),
	}
	for i := 0; i < 64/identifierBatchSize; i++ {
		if _, err := w.mintBatch(set); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Base is the packet number bit 0 of the mask currently represents.
func (w *ReceiveWindow) Base() uint64 { return w.base }

func (w *ReceiveWindow) mintBatch(set *ExpectedPacketSet) ([identifierBatchSize]uint64, error) {
	batch, err := generateIdentifierBatch(w.streamKey, Incoming, w.neighborIsLexicoLater, w.nextBatch)
	if err != nil {
		return batch, err
	}
	batchBase := w.nextBatch * identifierBatchSize
	for i, identifier := range batch {
		set.Add(identifier, ExpectedPacket{
			StreamKey:    w.streamKey,
			PacketNumber: batchBase + uint64(i),
			Peer:         w.peer,
		})
	}
	w.nextBatch++
	return batch, nil
}

// markSeen clears the bit for packetNumber if it falls within the
// current window; packet numbers outside the window (already retired,
// or implausibly far ahead) are left alone.
func (w *ReceiveWindow) markSeen(packetNumber uint64) {
	if packetNumber < w.base || packetNumber >= w.base+64 {
		return
	}
	w.mask &^= 1 << (packetNumber - w.base)
}

// Advance clears the bit for the just-received packetNumber, then
// mints and registers a fresh batch of identifiers — advancing the
// window by one byte (8 packet numbers) — whenever either (a) the next
// run of 8 packet numbers has now all been received, or (b) the top 16
// bits show a gap, meaning the receiver is peeking far ahead of a slow
// sender and the window must grow to keep up (spec §4.8). Any
// expectations left in the retiring low byte were never received and
// are removed from set so it does not grow without bound.
func (w *ReceiveWindow) Advance(set *ExpectedPacketSet, packetNumber uint64) error {
	w.markSeen(packetNumber)

	lowByteClear := w.mask&0xFF == 0
	topBitsGapped := w.mask&0xFFFF000000000000 != 0xFFFF000000000000
	if !lowByteClear && !topBitsGapped {
		return nil
	}

	if w.mask&0xFF != 0 {
		// The retiring byte's batch is the one about to be shifted
		// out: its identifiers were minted identifierBatchSize
		// positions ago and never matched.
		retiring, err := regenerateIdentifierBatch(w, w.base/identifierBatchSize)
		if err != nil {
			return err
		}
		for i, identifier := range retiring {
			if w.mask&(1<<uint(i)) != 0 {
				set.Remove(identifier)
			}
		}
	}

	if _, err := w.mintBatch(set); err != nil {
		return err
	}

	w.mask = (w.mask >> 8) | (uint64(0xFF) << 56)
	w.base += 8
	return nil
}

func regenerateIdentifierBatch(w *ReceiveWindow, batchIndex uint64) ([identifierBatchSize]uint64, error) {
	return generateIdentifierBatch(w.streamKey, Incoming, w.neighborIsLexicoLater, batchIndex)
}
