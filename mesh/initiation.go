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
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// Wire layout of an initiation packet (spec §4.8, §6.4): 32-byte
// ephemeral public key, a 136-byte AEAD-encrypted inner block, and a
// 16-byte tag.
const (
	innerSenderLen    = 32
	innerStaticDHLen  = 32
	innerTimestampLen = 8
	innerSignatureLen = 64
	innerLen          = innerSenderLen + innerStaticDHLen + innerTimestampLen + innerSignatureLen // 136

	outerEphemeralLen = 32
	outerTagLen       = 16
	// InitiationPacketLen is the full wire size of an initiation packet.
	// original_source's 152-byte packet carries only a 104-byte inner
	// block because it reuses the sender's permanent identity as its own
	// DH point; this module keeps the Ed25519 identity and the X25519 DH
	// key separate (see BuildInitiationPacket), so the inner block also
	// carries the sender's static DH public key, growing the packet to
	// 184 bytes.
	InitiationPacketLen = outerEphemeralLen + innerLen + outerTagLen
)

// initiationNonce is the AEAD nonce fixed at all-0xFF for every
// initiation packet (spec §4.8: "The inner-AEAD key is the exchange
// output with the nonce fixed at 0xFF×8"); reuse is safe only because
// each initiation packet's symmetric key comes from a freshly generated
// ephemeral keypair, so the (key, nonce) pair is never reused.
// golang.org/x/crypto/chacha20poly1305 requires a 12-byte nonce where
// the spec's prose fixes 8; the extra 4 bytes extend the same all-0xFF
// constant, matching the padding used for mesh/identifier.go's nonce.
var initiationNonce = [chacha20poly1305.NonceSize]byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
}

// InitiationOuter is a decoded initiation packet before the inner block
// has been decrypted and verified.
type InitiationOuter struct {
	EphemeralPublicKey [32]byte
	InnerCiphertext    [innerLen]byte
	Tag                [16]byte
}

var errInitiationPacketTooShort = errors.New("mesh: initiation packet shorter than the wire format")

// DecodeInitiationOuter parses packet's outer envelope without touching
// its encrypted contents.
func DecodeInitiationOuter(packet []byte) (InitiationOuter, error) {
	if len(packet) < InitiationPacketLen {
		return InitiationOuter{}, errInitiationPacketTooShort
	}
	var out InitiationOuter
	copy(out.EphemeralPublicKey[:], packet[:outerEphemeralLen])
	copy(out.InnerCiphertext[:], packet[outerEphemeralLen:outerEphemeralLen+innerLen])
	copy(out.Tag[:], packet[outerEphemeralLen+innerLen:InitiationPacketLen])
	return out, nil
}

// Open decrypts the inner block using the shared symmetric key derived
// from the X25519 exchange between the recipient's static private key
// and the sender's ephemeral public key.
func (o InitiationOuter) Open(symmetricKey [32]byte) ([innerLen]byte, bool) {
	var inner [innerLen]byte
	aead, err := chacha20poly1305.New(symmetricKey[:])
	if err != nil {
		return inner, false
	}
	sealed := make([]byte, 0, innerLen+outerTagLen)
	sealed = append(sealed, o.InnerCiphertext[:]...)
	sealed = append(sealed, o.Tag[:]...)
	plaintext, err := aead.Open(nil, initiationNonce[:], sealed, nil)
	if err != nil {
		return inner, false
	}
	copy(inner[:], plaintext)
	return inner, true
}

// sealInitiationInner encrypts inner under symmetricKey with the fixed
// initiation nonce, splitting the sealed output into ciphertext and tag
// the way InitiationOuter expects them.
func sealInitiationInner(symmetricKey [32]byte, inner [innerLen]byte) ([innerLen]byte, [16]byte, error) {
	var ciphertext [innerLen]byte
	var tag [16]byte
	aead, err := chacha20poly1305.New(symmetricKey[:])
	if err != nil {
		return ciphertext, tag, err
	}
	sealed := aead.Seal(nil, initiationNonce[:], inner[:], nil)
	copy(ciphertext[:], sealed[:innerLen])
	copy(tag[:], sealed[innerLen:])
	return ciphertext, tag, nil
}

// innerParams is the plaintext that sits behind the inner AEAD seal:
// the sender's identity, the sender's long-term static DH public key
// (so the recipient can address a reply without a directory lookup),
// a freshness timestamp, and a signature over the Signable buffer below
// (spec §4.8).
type innerParams struct {
	Sender         Identity
	SenderStaticDH [32]byte
	Timestamp      uint64
	Signature      [64]byte
}

func (p innerParams) asBytes() [innerLen]byte {
	var out [innerLen]byte
	off := 0
	off += copy(out[off:], p.Sender[:])
	off += copy(out[off:], p.SenderStaticDH[:])
	binary.LittleEndian.PutUint64(out[off:off+innerTimestampLen], p.Timestamp)
	off += innerTimestampLen
	copy(out[off:], p.Signature[:])
	return out
}

func decodeInnerParams(bs [innerLen]byte) innerParams {
	var p innerParams
	off := 0
	copy(p.Sender[:], bs[off:off+innerSenderLen])
	off += innerSenderLen
	copy(p.SenderStaticDH[:], bs[off:off+innerStaticDHLen])
	off += innerStaticDHLen
	p.Timestamp = binary.LittleEndian.Uint64(bs[off : off+innerTimestampLen])
	off += innerTimestampLen
	copy(p.Signature[:], bs[off:])
	return p
}

// signable is the 136-byte buffer the sender's Ed25519 key signs over:
// key_material ‖ symmetric_key ‖ sender ‖ recipient ‖ timestamp (spec
// §4.8: "Signature covers key_material ‖ symmetric_key ‖ sender ‖
// recipient ‖ timestamp").
type signable struct {
	KeyMaterial  [32]byte
	SymmetricKey [32]byte
	Sender       Identity
	Recipient    Identity
	Timestamp    uint64
}

func (s signable) asBytes() [136]byte {
	var out [136]byte
	off := 0
	off += copy(out[off:], s.KeyMaterial[:])
	off += copy(out[off:], s.SymmetricKey[:])
	off += copy(out[off:], s.Sender[:])
	off += copy(out[off:], s.Recipient[:])
	binary.LittleEndian.PutUint64(out[off:], s.Timestamp)
	return out
}

// BuildInitiationPacket forms an initiation packet from self to
// recipient, deriving a fresh ephemeral X25519 keypair from ownSeed and
// signing the result with self's permanent Ed25519 private key (spec
// §4.8). now is the sender's current Unix timestamp.
//
// recipientDH is the X25519 point the fresh ephemeral key is exchanged
// against: the recipient's long-term static DH public key, always
// (original_source's form_initiation_packet always exchanges against
// the recipient's stable key, which in that implementation is the
// recipient's identity bytes reused as an X25519 point). For a
// first-contact "knock" this is learned out of band (spec §1 treats
// identity/address resolution as an external contract); for a reply to
// an initiation packet just received, it is the peer's static DH key
// carried in that packet's inner block (selfStaticDH below), so no
// directory lookup is needed either way.
//
// selfStaticDH is self's own long-term static DH public key, carried in
// the inner block so a recipient who has never looked self up can still
// address a reply (see innerParams.SenderStaticDH).
func BuildInitiationPacket(self Identity, selfPrivate ed25519.PrivateKey, selfStaticDH [32]byte, recipient Identity, recipientDH [32]byte, ownSeed [32]byte, now uint64) ([]byte, [32]byte, error) {
	streamPrivate, streamPublic := ephemeralKeypair(ownSeed)
	symmetricKey, err := exchange(streamPrivate, recipientDH)
	if err != nil {
		return nil, [32]byte{}, err
	}

	toSign := signable{
		KeyMaterial:  streamPublic,
		SymmetricKey: symmetricKey,
		Sender:       self,
		Recipient:    recipient,
		Timestamp:    now,
	}.asBytes()
	signature := ed25519.Sign(selfPrivate, toSign[:])

	var sig [64]byte
	copy(sig[:], signature)
	inner := innerParams{Sender: self, SenderStaticDH: selfStaticDH, Timestamp: now, Signature: sig}.asBytes()

	ciphertext, tag, err := sealInitiationInner(symmetricKey, inner)
	if err != nil {
		return nil, [32]byte{}, err
	}

	packet := make([]byte, 0, InitiationPacketLen)
	packet = append(packet, streamPublic[:]...)
	packet = append(packet, ciphertext[:]...)
	packet = append(packet, tag[:]...)
	return packet, symmetricKey, nil
}

// OpenInitiationPacket decrypts and verifies an incoming initiation
// packet against the recipient's own static X25519 private key
// (recipientDHPrivate), matching original_source's handle_initiation_packet,
// which always opens against self.private_key regardless of whether the
// packet is a first contact or a reply. Returns the sender's identity,
// the sender's static DH public key (so the caller can address a reply
// without a directory lookup), the negotiated symmetric key, the
// sender's fresh ephemeral public key (key material), and the inner
// timestamp for the caller's freshness check (spec §9 open question (b)).
func OpenInitiationPacket(recipient Identity, recipientDHPrivate [32]byte, packet []byte) (sender Identity, senderStaticDH [32]byte, symmetricKey [32]byte, keyMaterial [32]byte, timestamp uint64, err error) {
	outer, err := DecodeInitiationOuter(packet)
	if err != nil {
		return Identity{}, [32]byte{}, [32]byte{}, [32]byte{}, 0, err
	}
	symmetricKey, err = exchange(recipientDHPrivate, outer.EphemeralPublicKey)
	if err != nil {
		return Identity{}, [32]byte{}, [32]byte{}, [32]byte{}, 0, err
	}
	innerBytes, ok := outer.Open(symmetricKey)
	if !ok {
		return Identity{}, [32]byte{}, [32]byte{}, [32]byte{}, 0, errBadChecksum
	}
	inner := decodeInnerParams(innerBytes)

	toVerify := signable{
		KeyMaterial:  outer.EphemeralPublicKey,
		SymmetricKey: symmetricKey,
		Sender:       inner.Sender,
		Recipient:    recipient,
		Timestamp:    inner.Timestamp,
	}.asBytes()
	if !ed25519.Verify(ed25519.PublicKey(inner.Sender[:]), toVerify[:], inner.Signature[:]) {
		return Identity{}, [32]byte{}, [32]byte{}, [32]byte{}, 0, errBadSignature
	}

	return inner.Sender, inner.SenderStaticDH, symmetricKey, outer.EphemeralPublicKey, inner.Timestamp, nil
}

var (
	errBadChecksum  = errors.New("mesh: initiation packet failed authentication")
	errBadSignature = errors.New("mesh: initiation packet signature did not verify")
)
