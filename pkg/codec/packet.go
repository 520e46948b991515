// Copyright 2025 Certen Protocol
//
// Package codec implements the version-1 LayerZero V2 packet wire format shared by
// the DVN and Executor workers and the on-chain contracts they drive.
package codec

import (
	"encoding/binary"
	"errors"
)

const (
	// Version is the only packet version this codec understands.
	Version uint8 = 1

	// HeaderSize is the length in bytes of the packet header (version + nonce + path).
	HeaderSize = 81

	versionOffset  = 0
	nonceOffset    = 1
	srcEidOffset   = 9
	senderOffset   = 13
	dstEidOffset   = 45
	receiverOffset = 49
	guidOffset     = 81
	messageOffset  = 113
)

// ErrShortPacket is returned when a byte slice is too short to contain the
// field being accessed.
var ErrShortPacket = errors.New("codec: packet shorter than claimed field offset")

// Packet is the decoded view of a version-1 LayerZero V2 packet.
type Packet struct {
	Nonce    uint64
	SrcEid   uint32
	Sender   [32]byte
	DstEid   uint32
	Receiver [32]byte
	GUID     [32]byte
	Message  []byte
}

// Encode serializes p into its exact on-wire representation.
func Encode(p Packet) []byte {
	buf := make([]byte, messageOffset+len(p.Message))
	buf[versionOffset] = Version
	binary.BigEndian.PutUint64(buf[nonceOffset:], p.Nonce)
	binary.BigEndian.PutUint32(buf[srcEidOffset:], p.SrcEid)
	copy(buf[senderOffset:dstEidOffset], p.Sender[:])
	binary.BigEndian.PutUint32(buf[dstEidOffset:], p.DstEid)
	copy(buf[receiverOffset:guidOffset], p.Receiver[:])
	copy(buf[guidOffset:messageOffset], p.GUID[:])
	copy(buf[messageOffset:], p.Message)
	return buf
}

// EncodeHeader serializes only the first HeaderSize bytes of p.
func EncodeHeader(p Packet) []byte {
	return Encode(p)[:HeaderSize]
}

// Decode parses a raw byte slice into a Packet. It fails if the slice is
// shorter than the fixed-size portion of the packet.
func Decode(raw []byte) (Packet, error) {
	if len(raw) < HeaderSize+32 {
		return Packet{}, ErrShortPacket
	}
	p := Packet{
		Nonce:  Nonce(raw),
		SrcEid: SrcEid(raw),
		DstEid: DstEid(raw),
	}
	copy(p.Sender[:], raw[senderOffset:dstEidOffset])
	copy(p.Receiver[:], raw[receiverOffset:guidOffset])
	copy(p.GUID[:], raw[guidOffset:messageOffset])
	p.Message = append([]byte(nil), raw[messageOffset:]...)
	return p, nil
}

// Header returns the 81-byte prefix of raw that participates in the header hash.
func Header(raw []byte) ([]byte, error) {
	if len(raw) < HeaderSize {
		return nil, ErrShortPacket
	}
	return raw[:HeaderSize], nil
}

// PacketVersion returns the version byte of raw.
func PacketVersion(raw []byte) (uint8, error) {
	if len(raw) < versionOffset+1 {
		return 0, ErrShortPacket
	}
	return raw[versionOffset], nil
}

// Nonce returns the big-endian nonce field of raw.
func Nonce(raw []byte) uint64 {
	return binary.BigEndian.Uint64(raw[nonceOffset:])
}

// SrcEid returns the source endpoint id field of raw.
func SrcEid(raw []byte) uint32 {
	return binary.BigEndian.Uint32(raw[srcEidOffset:])
}

// Sender returns the left-padded sender address field of raw.
func Sender(raw []byte) []byte {
	return raw[senderOffset:dstEidOffset]
}

// DstEid returns the destination endpoint id field of raw.
func DstEid(raw []byte) uint32 {
	return binary.BigEndian.Uint32(raw[dstEidOffset:])
}

// Receiver returns the left-padded receiver address field of raw.
func Receiver(raw []byte) []byte {
	return raw[receiverOffset:guidOffset]
}

// GUID returns the globally unique id field of raw.
func GUID(raw []byte) ([]byte, error) {
	if len(raw) < messageOffset {
		return nil, ErrShortPacket
	}
	return raw[guidOffset:messageOffset], nil
}

// Message returns the opaque payload that follows the guid.
func Message(raw []byte) ([]byte, error) {
	if len(raw) < messageOffset {
		return nil, ErrShortPacket
	}
	return raw[messageOffset:], nil
}

// Payload returns guid||message, i.e. everything after the header.
func Payload(raw []byte) ([]byte, error) {
	if len(raw) < HeaderSize {
		return nil, ErrShortPacket
	}
	return raw[guidOffset:], nil
}

// SenderAddress returns the low 20 bytes of the left-padded sender field,
// i.e. the EVM address the sender field encodes.
func SenderAddress(raw []byte) []byte {
	s := Sender(raw)
	return s[12:]
}

// ReceiverAddress returns the low 20 bytes of the left-padded receiver field.
func ReceiverAddress(raw []byte) []byte {
	r := Receiver(raw)
	return r[12:]
}
