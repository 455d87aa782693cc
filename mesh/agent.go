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
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"

	"github.com/klauspost/compress/s2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/nounrt/nounrt/noun"
	"github.com/nounrt/nounrt/storage"
	"github.com/nounrt/nounrt/vm"
)

var _ vm.Effector = (*Agent)(nil)

// HandleErrorKind enumerates the agent's packet-handling failure
// domain, the mesh-package counterpart of vm.ErrorKind: a closed set of
// reasons handle_packet may decline a packet without ever panicking
// (spec §7: "Transport failures ... are logged and dropped; they never
// kill the agent").
type HandleErrorKind int

const (
	UnrecognizedPacket HandleErrorKind = iota
	UnrecognizedNeighbor
	BadChecksum
	BadSignature
	BadTimestamp
	CannotStreamWithSelf
	NoOutgoingStream
)

var handleErrorNames = map[HandleErrorKind]string{
	UnrecognizedPacket:   "unrecognized packet",
	UnrecognizedNeighbor: "unrecognized neighbor",
	BadChecksum:          "bad checksum",
	BadSignature:         "bad signature",
	BadTimestamp:         "initiation timestamp outside freshness window",
	CannotStreamWithSelf: "cannot stream with self",
	NoOutgoingStream:     "no outgoing stream available",
}

// HandleError is the mesh package's error type, mirroring vm.EvalError:
// a closed Kind plus an optional wrapped cause.
type HandleError struct {
	Kind  HandleErrorKind
	Cause error
}

func (e *HandleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", handleErrorNames[e.Kind], e.Cause)
	}
	return handleErrorNames[e.Kind]
}

func (e *HandleError) Unwrap() error { return e.Cause }

func errHandle(kind HandleErrorKind, cause error) error { return &HandleError{Kind: kind, Cause: cause} }

// initiationTimestampToleranceSeconds is the symmetric freshness window
// for an initiation packet's timestamp (spec §9 open question (b):
// "choose a symmetric tolerance (e.g. ±60 s)").
const initiationTimestampToleranceSeconds = 60

// Transport is the agent's only outbound I/O dependency: handing a
// fully formed packet to whatever sends UDP datagrams in the embedding
// program (out of scope for this package per spec §1).
type Transport interface {
	SendPacket(dest Identity, packet []byte)
}

// neighborState tracks one peer: its cluster of streams plus enough
// bookkeeping to answer a first-contact knock or rotate keys.
type neighborState struct {
	cluster *Cluster
}

// Agent composes storage, the stream cluster machinery, and packet
// codecs into a full vm.Effector, and turns authenticated inbound
// payloads into queued Tasks (spec §4.5, §5, §4.8). Its maps are
// confined to a single owning goroutine, matching spec §5's "mutation
// of its maps is confined to a single owning thread per agent".
type Agent struct {
	identity       Identity
	signingPrivate ed25519.PrivateKey
	// staticDHPrivate/Public is a long-term X25519 keypair distinct
	// from the Ed25519 signing key: every inbound initiation packet, first
	// contact or reply, is opened against it, and its public half travels
	// in outbound ones (see mesh/initiation.go's BuildInitiationPacket
	// doc comment on recipientDH).
	staticDHPrivate, staticDHPublic [32]byte
	secret                          [32]byte

	store     storage.Store
	transport Transport
	now       func() uint64

	neighbors map[Identity]*neighborState
	set       *ExpectedPacketSet

	tasks chan Task
}

// NewAgent derives a full identity (signing keypair, static DH
// keypair, and effector secret) from a single 32-byte seed, the same
// "one seed, one identity" shape as original_source's
// `Agent::new(identity_seed, ...)`.
func NewAgent(seed [32]byte, store storage.Store, transport Transport, now func() uint64) (*Agent, error) {
	signingPrivate := ed25519.NewKeyFromSeed(seed[:])
	identity, err := IdentityFromBytes(signingPrivate.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	// The static DH keypair is derived from a domain-separated hash of
	// seed rather than seed itself: ephemeralKeypair's RFC 7748 clamp
	// exposes its input almost unchanged as the private scalar, so using
	// seed directly would let anyone who recovers staticDHPrivate
	// recover the same seed ed25519.NewKeyFromSeed uses for the signing
	// key above.
	dhSeed := blake2b.Sum256(append(append([]byte{}, seed[:]...), 's', 't', 'a', 't', 'i', 'c', '-', 'd', 'h'))
	dhPrivate, dhPublic := ephemeralKeypair(dhSeed)
	secret := blake2b.Sum256(append(append([]byte{}, seed[:]...), 's', 'e', 'c', 'r', 'e', 't'))

	return &Agent{
		identity:         identity,
		signingPrivate:   signingPrivate,
		staticDHPrivate:  dhPrivate,
		staticDHPublic:   dhPublic,
		secret:           secret,
		store:            store,
		transport:        transport,
		now:              now,
		neighbors:        make(map[Identity]*neighborState),
		set:              NewExpectedPacketSet(binary.LittleEndian.Uint64(secret[:8]), binary.LittleEndian.Uint64(secret[8:16])),
		tasks:            make(chan Task, 64),
	}, nil
}

// Identity returns the agent's permanent address on the mesh.
func (a *Agent) Identity() Identity { return a.identity }

// StaticDHPublic returns the agent's long-term X25519 public key, the
// value a peer needs out of band to send this agent a first-contact
// initiation packet.
func (a *Agent) StaticDHPublic() [32]byte { return a.staticDHPublic }

// Tasks returns the channel handle_packet enqueues onto; the
// embedding program drains it to drive evaluation (spec §5:
// "the environment is responsible for scheduling evaluation").
func (a *Agent) Tasks() <-chan Task { return a.tasks }

// --- vm.Effector ---

func (a *Agent) Random(into []byte) {
	if _, err := rand.Read(into); err != nil {
		panic(err)
	}
}

func (a *Agent) Load(key []byte) ([]byte, bool) { return a.store.Get(key) }

func (a *Agent) Store(key, value []byte) { a.store.Put(key, value) }

func (a *Agent) Send(destination [32]byte, message []byte, localCost uint64) {
	dest := Identity(destination)
	if err := a.SendTo(dest, message); err != nil {
		log.Printf("mesh: send to %x dropped: %v", dest, err)
	}
}

func (a *Agent) NearestNeighbor(near [32]byte) [32]byte {
	var best Identity
	bestSet := false
	var bestDistance [32]byte
	for id := range a.neighbors {
		var distance [32]byte
		for i := range distance {
			distance[i] = id[i] ^ near[i]
		}
		if !bestSet || lessBytes(distance[:], bestDistance[:]) {
			best, bestDistance, bestSet = id, distance, true
		}
	}
	return best
}

func lessBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func (a *Agent) Secret() [32]byte { return a.secret }

// --- stream lifecycle ---

func (a *Agent) neighbor(peer Identity) (*neighborState, bool) {
	n, ok := a.neighbors[peer]
	return n, ok
}

func (a *Agent) neighborOrCreate(peer Identity) (*neighborState, error) {
	if n, ok := a.neighbors[peer]; ok {
		return n, nil
	}
	cluster, err := NewCluster(a.identity, peer, a.set)
	if err != nil {
		return nil, err
	}
	n := &neighborState{cluster: cluster}
	a.neighbors[peer] = n
	return n, nil
}

func (a *Agent) freshSeed() ([32]byte, error) {
	var seed [32]byte
	_, err := rand.Read(seed[:])
	return seed, err
}

// InitiateStreamWith sends a first-contact initiation packet to peer,
// whose static DH public key (learned out of band, spec §1) is
// peerStaticDH.
func (a *Agent) InitiateStreamWith(peer Identity, peerStaticDH [32]byte) error {
	n, err := a.neighborOrCreate(peer)
	if err != nil {
		return err
	}
	seed, err := a.freshSeed()
	if err != nil {
		return err
	}
	if err := n.cluster.RotateOwnEphemeral(seed); err != nil {
		return err
	}
	packet, _, err := BuildInitiationPacket(a.identity, a.signingPrivate, a.staticDHPublic, peer, peerStaticDH, seed, a.now())
	if err != nil {
		return err
	}
	a.transport.SendPacket(peer, packet)
	return nil
}

// HandlePacket dispatches an inbound packet per spec §6.4's size-based
// split: anything at least ContentfulPacketThreshold bytes is a
// content packet, anything smaller is an initiation packet.
func (a *Agent) HandlePacket(packet []byte) error {
	if len(packet) >= ContentfulPacketThreshold {
		return a.handleContentfulPacket(packet)
	}
	return a.handleInitiationPacket(packet)
}

func (a *Agent) handleInitiationPacket(packet []byte) error {
	sender, senderStaticDH, _, keyMaterial, timestamp, err := OpenInitiationPacket(a.identity, a.staticDHPrivate, packet)
	if err != nil {
		switch err {
		case errBadChecksum:
			return errHandle(BadChecksum, err)
		case errBadSignature:
			return errHandle(BadSignature, err)
		default:
			return errHandle(UnrecognizedPacket, err)
		}
	}
	if sender == a.identity {
		return errHandle(CannotStreamWithSelf, nil)
	}
	if !a.checkTimestamp(timestamp) {
		return errHandle(BadTimestamp, nil)
	}

	_, existed := a.neighbor(sender)
	n, err := a.neighborOrCreate(sender)
	if err != nil {
		return err
	}
	if err := n.cluster.SetNeighborEphemeral(keyMaterial); err != nil {
		return err
	}
	if existed {
		// A rotation notice from an already-known peer: adopt its new
		// ephemeral key and rotate our own in lockstep, but there is no
		// need to reply with a fresh initiation packet of our own.
		seed, err := a.freshSeed()
		if err != nil {
			return err
		}
		return n.cluster.RotateOwnEphemeral(seed)
	}

	seed, err := a.freshSeed()
	if err != nil {
		return err
	}
	if err := n.cluster.RotateOwnEphemeral(seed); err != nil {
		return err
	}
	// Reply against the sender's own static DH key, carried in the
	// packet's inner block, exactly mirroring the direction
	// BuildInitiationPacket's caller-facing doc comment describes: no
	// directory lookup needed, since the sender just told us its
	// static DH key itself.
	packet, _, err = BuildInitiationPacket(a.identity, a.signingPrivate, a.staticDHPublic, sender, senderStaticDH, seed, a.now())
	if err != nil {
		return err
	}
	a.transport.SendPacket(sender, packet)
	return nil
}

// checkTimestamp enforces the symmetric freshness window (spec §9 open
// question (b)).
func (a *Agent) checkTimestamp(timestamp uint64) bool {
	now := a.now()
	var diff uint64
	if now > timestamp {
		diff = now - timestamp
	} else {
		diff = timestamp - now
	}
	return diff <= initiationTimestampToleranceSeconds
}

func (a *Agent) handleContentfulPacket(packet []byte) error {
	cp, err := DecodeContentPacket(packet)
	if err != nil {
		return errHandle(UnrecognizedPacket, err)
	}

	for _, candidate := range a.set.Candidates(cp.Identifier) {
		n, ok := a.neighbor(candidate.Peer)
		if !ok {
			continue
		}
		stream := n.cluster.StreamForKey(candidate.StreamKey)
		if stream == nil {
			continue
		}
		plaintext, ok := openContentPayload(stream, candidate.PacketNumber, cp)
		if !ok {
			continue
		}

		a.set.Remove(cp.Identifier)
		if err := stream.window.Advance(a.set, candidate.PacketNumber); err != nil {
			return err
		}
		if n.cluster.IsOwnCurrentStream(stream) {
			n.cluster.AcknowledgeOwnCurrent()
		}

		padded, err := UnpadPlaintext(plaintext)
		if err != nil {
			return errHandle(UnrecognizedPacket, err)
		}
		payload, err := s2.Decode(nil, padded)
		if err != nil {
			return errHandle(UnrecognizedPacket, err)
		}
		program, err := noun.Deserialize(payload)
		if err != nil {
			return errHandle(UnrecognizedPacket, err)
		}
		a.tasks <- newTask(candidate.Peer, program)
		return nil
	}
	return errHandle(UnrecognizedPacket, nil)
}

func openContentPayload(stream *Stream, packetNumber uint64, cp ContentPacket) ([]byte, bool) {
	aead, err := chacha20poly1305.New(stream.Key()[:])
	if err != nil {
		return nil, false
	}
	nonce := nonceBytes(stream.IncomingAEADNonce(packetNumber))
	sealed := append(append([]byte{}, cp.Ciphertext...), cp.Tag[:]...)
	plaintext, err := aead.Open(nil, nonce[:], sealed, nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

// SendTo encrypts payload for peer on the cluster's preferred outgoing
// stream and hands the resulting content packet to the transport (spec
// §4.8 "Outgoing payload").
func (a *Agent) SendTo(peer Identity, payload []byte) error {
	n, ok := a.neighbor(peer)
	if !ok {
		return errHandle(UnrecognizedNeighbor, nil)
	}
	stream, err := n.cluster.SelectOutgoing()
	if err != nil {
		return errHandle(NoOutgoingStream, err)
	}

	compressed := s2.Encode(nil, payload)
	serialized, err := PadPlaintext(compressed)
	if err != nil {
		return err
	}
	identifier, packetNumber, err := stream.NextOutgoing()
	if err != nil {
		return err
	}

	aead, err := chacha20poly1305.New(stream.Key()[:])
	if err != nil {
		return err
	}
	nonce := nonceBytes(stream.AEADNonce(packetNumber))
	sealed := aead.Seal(nil, nonce[:], serialized, nil)
	ciphertext, tag := sealed[:len(sealed)-16], sealed[len(sealed)-16:]

	var tagArr [16]byte
	copy(tagArr[:], tag)

	totalSize := ContentfulPacketThreshold
	if needed := payloadStartPlus(len(ciphertext)); needed > totalSize {
		totalSize = needed
	}
	packet, err := EncodeContentPacket(identifier, tagArr, ciphertext, totalSize)
	if err != nil {
		return err
	}
	a.transport.SendPacket(peer, packet)
	return nil
}

func payloadStartPlus(ciphertextLen int) int { return payloadStart + ciphertextLen }

// nonceBytes expands a 64-bit AEAD nonce value into the 12-byte nonce
// golang.org/x/crypto/chacha20poly1305 requires, matching the
// zero-extension convention vm/crypto.go's seal/open use for its own
// 8-byte nonces.
func nonceBytes(v uint64) [chacha20poly1305.NonceSize]byte {
	var out [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(out[:8], v)
	return out
}
