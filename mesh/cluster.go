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

import "errors"

// Stream is one leg of a cluster: a symmetric key plus the independent
// bookkeeping needed to generate outgoing identifiers and to track
// which incoming packet numbers remain expected (spec §4.8).
type Stream struct {
	key                   [32]byte
	neighborIsLexicoLater bool

	outgoingBatch      [identifierBatchSize]uint64
	outgoingBatchIndex uint64
	outgoingPos        int // next unused slot in outgoingBatch, 0 means "mint a batch first"

	window *ReceiveWindow
}

// newStream derives a stream's key via X25519 exchange and seeds its
// receive window.
func newStream(ownPrivate, neighborPublic [32]byte, neighborIsLexicoLater bool, set *ExpectedPacketSet, peer Identity) (*Stream, error) {
	key, err := exchange(ownPrivate, neighborPublic)
	if err != nil {
		return nil, err
	}
	window, err := NewReceiveWindow(set, key, peer, neighborIsLexicoLater)
	if err != nil {
		return nil, err
	}
	return &Stream{key: key, neighborIsLexicoLater: neighborIsLexicoLater, window: window}, nil
}

// NextOutgoing produces the next (identifier, packet_number) pair for
// a payload about to be sent on this stream, minting a fresh batch of
// 8 identifiers every 8th call (spec §4.8: "batches of 8 identifiers
// are produced at a time").
func (s *Stream) NextOutgoing() (identifier, packetNumber uint64, err error) {
	if s.outgoingPos == 0 {
		s.outgoingBatch, err = generateIdentifierBatch(s.key, Outgoing, s.neighborIsLexicoLater, s.outgoingBatchIndex)
		if err != nil {
			return 0, 0, err
		}
	}
	packetNumber = s.outgoingBatchIndex*identifierBatchSize + uint64(s.outgoingPos)
	identifier = s.outgoingBatch[s.outgoingPos]
	s.outgoingPos++
	if s.outgoingPos == identifierBatchSize {
		s.outgoingPos = 0
		s.outgoingBatchIndex++
	}
	return identifier, packetNumber, nil
}

// AEADNonce computes the ChaCha20-Poly1305 nonce for packetNumber on
// this stream: packet_number*2 + ordering_offset, with ordering_offset
// chosen so the two endpoints of a stream never reuse a nonce under
// the same key (spec §4.8).
func (s *Stream) AEADNonce(packetNumber uint64) uint64 {
	offset := uint64(0)
	if s.neighborIsLexicoLater {
		offset = 1
	}
	return packetNumber*2 + offset
}

// IncomingAEADNonce computes the nonce the peer would have used to
// encrypt packetNumber on this stream: the complement of the offset
// AEADNonce uses for our own outgoing traffic, since exactly one
// endpoint sees the other as lexicographically later (spec §4.8:
// "Nonce for the AEAD is packet_number*2 + ordering_offset ... to
// guarantee endpoint-disjoint nonces").
func (s *Stream) IncomingAEADNonce(packetNumber uint64) uint64 {
	offset := uint64(1)
	if s.neighborIsLexicoLater {
		offset = 0
	}
	return packetNumber*2 + offset
}

// Key returns the stream's symmetric key.
func (s *Stream) Key() [32]byte { return s.key }

// Window returns the stream's receive-side window; newStream gives every
// stream one, and this accessor exists for read-only inspection in tests.
func (s *Stream) Window() *ReceiveWindow { return s.window }

// clusterSlot names one of the four own×neighbor epoch combinations a
// Cluster maintains concurrently during key rotation (spec §4.8, §9
// "Four-way stream cluster").
type clusterSlot int

const (
	ownCurrentNeighborCurrent clusterSlot = iota
	ownCurrentNeighborPrevious
	ownPreviousNeighborCurrent
	ownPreviousNeighborPrevious
	clusterSlotCount
)

// Cluster tracks, for one neighbor, up to four live streams — the
// cross product of {own_current, own_previous} × {neighbor_current,
// neighbor_previous} — so that an in-flight ephemeral-key rotation on
// either side never drops a packet (spec §9: "Maintaining all four
// combinations ... guarantees no dropped packets at rotation
// boundaries").
type Cluster struct {
	self Identity
	peer Identity
	set  *ExpectedPacketSet

	neighborIsLexicoLater bool

	ownCurrentPrivate, ownCurrentPublic   [32]byte
	ownPreviousPrivate, ownPreviousPublic [32]byte
	haveOwnCurrent, haveOwnPrevious       bool

	neighborCurrentPublic, neighborPreviousPublic [32]byte
	haveNeighborCurrent, haveNeighborPrevious     bool

	streams                [clusterSlotCount]*Stream
	ownCurrentAcknowledged bool
}

// NewCluster starts an empty cluster for communicating with peer. self
// is this agent's own permanent identity, used only to derive the
// nonce-parity ordering (spec §4.8's "neighbor_is_lexicographically_later").
func NewCluster(self, peer Identity, set *ExpectedPacketSet) (*Cluster, error) {
	later, err := peer.IsGreaterThan(self)
	if err != nil {
		return nil, err
	}
	return &Cluster{self: self, peer: peer, set: set, neighborIsLexicoLater: later}, nil
}

// RotateOwnEphemeral installs a freshly generated own ephemeral keypair
// (derived from seed), retiring the previous "current" to "previous",
// and recomputes any streams now derivable. ownCurrentAcknowledged is
// reset: the new current key has not yet been confirmed reachable.
func (c *Cluster) RotateOwnEphemeral(seed [32]byte) error {
	private, public := ephemeralKeypair(seed)
	if c.haveOwnCurrent {
		c.ownPreviousPrivate, c.ownPreviousPublic = c.ownCurrentPrivate, c.ownCurrentPublic
		c.haveOwnPrevious = true
		c.streams[ownPreviousNeighborCurrent] = c.streams[ownCurrentNeighborCurrent]
		c.streams[ownPreviousNeighborPrevious] = c.streams[ownCurrentNeighborPrevious]
		c.streams[ownCurrentNeighborCurrent], c.streams[ownCurrentNeighborPrevious] = nil, nil
	}
	c.ownCurrentPrivate, c.ownCurrentPublic = private, public
	c.haveOwnCurrent = true
	c.ownCurrentAcknowledged = false
	return c.rebuildStreams()
}

// SetNeighborEphemeral installs a newly observed neighbor ephemeral
// public key (from an initiation packet or rotation notice), retiring
// the previous "current" to "previous".
func (c *Cluster) SetNeighborEphemeral(public [32]byte) error {
	if c.haveNeighborCurrent {
		c.neighborPreviousPublic = c.neighborCurrentPublic
		c.haveNeighborPrevious = true
		c.streams[ownCurrentNeighborPrevious] = c.streams[ownCurrentNeighborCurrent]
		c.streams[ownPreviousNeighborPrevious] = c.streams[ownPreviousNeighborCurrent]
		c.streams[ownCurrentNeighborCurrent], c.streams[ownPreviousNeighborCurrent] = nil, nil
	}
	c.neighborCurrentPublic = public
	c.haveNeighborCurrent = true
	return c.rebuildStreams()
}

func (c *Cluster) rebuildStreams() error {
	type combo struct {
		slot           clusterSlot
		ownPrivate     [32]byte
		haveOwn        bool
		neighborPublic [32]byte
		haveNeighbor   bool
	}
	combos := [clusterSlotCount]combo{
		ownCurrentNeighborCurrent:  {ownCurrentNeighborCurrent, c.ownCurrentPrivate, c.haveOwnCurrent, c.neighborCurrentPublic, c.haveNeighborCurrent},
		ownCurrentNeighborPrevious: {ownCurrentNeighborPrevious, c.ownCurrentPrivate, c.haveOwnCurrent, c.neighborPreviousPublic, c.haveNeighborPrevious},
		ownPreviousNeighborCurrent: {ownPreviousNeighborCurrent, c.ownPreviousPrivate, c.haveOwnPrevious, c.neighborCurrentPublic, c.haveNeighborCurrent},
		ownPreviousNeighborPrevious: {
			ownPreviousNeighborPrevious, c.ownPreviousPrivate, c.haveOwnPrevious, c.neighborPreviousPublic, c.haveNeighborPrevious,
		},
	}
	for _, combo := range combos {
		if c.streams[combo.slot] != nil || !combo.haveOwn || !combo.haveNeighbor {
			continue
		}
		stream, err := newStream(combo.ownPrivate, combo.neighborPublic, c.neighborIsLexicoLater, c.set, c.peer)
		if err != nil {
			return err
		}
		c.streams[combo.slot] = stream
	}
	return nil
}

var errNoOutgoingStream = errors.New("mesh: no outgoing stream available yet (awaiting key exchange)")

// SelectOutgoing picks the stream a new outgoing payload should use:
// own_current × neighbor_current once own_current has been
// acknowledged by an inbound packet, otherwise own_previous ×
// neighbor_current as a rotation-safe fallback (spec §4.8).
func (c *Cluster) SelectOutgoing() (*Stream, error) {
	if c.ownCurrentAcknowledged {
		if s := c.streams[ownCurrentNeighborCurrent]; s != nil {
			return s, nil
		}
	}
	if s := c.streams[ownPreviousNeighborCurrent]; s != nil {
		return s, nil
	}
	if s := c.streams[ownCurrentNeighborCurrent]; s != nil {
		return s, nil
	}
	return nil, errNoOutgoingStream
}

// AcknowledgeOwnCurrent records that some inbound packet has
// successfully authenticated against a stream keyed by our own current
// ephemeral key, meaning the peer has adopted it; SelectOutgoing can
// now prefer the own_current × neighbor_current stream.
func (c *Cluster) AcknowledgeOwnCurrent() { c.ownCurrentAcknowledged = true }

// StreamForKey returns the live stream whose symmetric key matches key,
// used when a received packet's identifier has resolved to a candidate
// stream key and the cluster needs the full Stream (with its window)
// to finish processing it.
func (c *Cluster) StreamForKey(key [32]byte) *Stream {
	for _, s := range c.streams {
		if s != nil && s.key == key {
			return s
		}
	}
	return nil
}

// IsOwnCurrentStream reports whether stream is keyed by this cluster's
// current own ephemeral key, used to decide whether a successful
// decrypt should call AcknowledgeOwnCurrent.
func (c *Cluster) IsOwnCurrentStream(stream *Stream) bool {
	for _, slot := range [2]clusterSlot{ownCurrentNeighborCurrent, ownCurrentNeighborPrevious} {
		if c.streams[slot] == stream {
			return true
		}
	}
	return false
}
