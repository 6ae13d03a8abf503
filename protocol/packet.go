/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package protocol implements the wire format of the NTPv4 client/server
// packet used by a unicast client, per RFC 5905.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketSizeBytes is the size in bytes of an NTPv4 packet on the wire.
const PacketSizeBytes = 48

// Leap indicator values.
const (
	LeapNoWarning     uint8 = 0
	LeapInsertSecond  uint8 = 1
	LeapDeleteSecond  uint8 = 2
	LeapNotSynced     uint8 = 3 // NOSYNC
)

// Protocol mode values.
const (
	ModeReserved  uint8 = 0
	ModeSymActive uint8 = 1
	ModeSymPasv   uint8 = 2
	ModeClient    uint8 = 3
	ModeServer    uint8 = 4
	ModeBroadcast uint8 = 5
)

// RFC 5905 constants used by a unicast client.
const (
	Version     uint8 = 4
	MaxStratum  uint8 = 16 // MAXSTRAT, unspecified/unsynchronized
	MinPoll     int8  = 6  // MINPOLL
	Precision   int8  = -18
	MaxDispSecs       = 16 // MAXDISP, seconds
)

// Packet is an NTPv4 packet, 48 bytes on the wire, big-endian.
//
// The first word (LI/VN/Mode/Stratum/Poll/Precision) is transported as a
// packed byte plus three scalar fields; word-0 bit-packing lives entirely
// in Encode/Decode, never in the struct itself.
type Packet struct {
	LI        uint8 // leap indicator, 2 bits
	VN        uint8 // version number, 3 bits
	Mode      uint8 // mode, 3 bits
	Stratum   uint8
	Poll      int8
	Precision int8

	RootDelay      int32  // 16.16 fixed point, signed
	RootDispersion uint32 // 16.16 fixed point, unsigned
	ReferenceID    uint32 // 4 ASCII chars (stratum 1) or IPv4 address

	ReferenceTime uint64 // 32.32 NTP fixed point
	OriginTime    uint64
	ReceiveTime   uint64
	TransmitTime  uint64
}

// NewClientPacket builds a client-mode request packet as specified for
// this engine: LI=NOSYNC, VN=4, Mode=client, Stratum=MAXSTRAT,
// Poll=MINPOLL, Precision=-18, zero root delay/dispersion, ref-id "NTPS",
// ReferenceTime set to lastSyncNTP (0 if there has been no sync yet), and
// OriginTime/ReceiveTime left at zero. TransmitTime is filled in by the
// caller immediately before sending, to minimize the gap between stamping
// and the actual send syscall.
func NewClientPacket(lastSyncNTP uint64) *Packet {
	return &Packet{
		LI:             LeapNotSynced,
		VN:             Version,
		Mode:           ModeClient,
		Stratum:        MaxStratum,
		Poll:           MinPoll,
		Precision:      Precision,
		RootDelay:      0,
		RootDispersion: 0,
		ReferenceID:    refIDNTPS,
		ReferenceTime:  lastSyncNTP,
	}
}

// refIDNTPS is the ASCII literal "NTPS" read as a big-endian uint32, the
// same way the wire encoding of ReferenceID treats any 4-char stratum-1
// reference ID.
const refIDNTPS = uint32('N')<<24 | uint32('T')<<16 | uint32('P')<<8 | uint32('S')

// word0 packs LI/VN/Mode/Stratum/Poll/Precision into the first 32-bit
// word of the wire packet.
type word0 struct {
	LIVNMode  uint8
	Stratum   uint8
	Poll      int8
	Precision int8
}

func packWord0(p *Packet) word0 {
	return word0{
		LIVNMode:  (p.LI&0x03)<<6 | (p.VN&0x07)<<3 | (p.Mode & 0x07),
		Stratum:   p.Stratum,
		Poll:      p.Poll,
		Precision: p.Precision,
	}
}

func unpackWord0(w word0, p *Packet) {
	p.LI = (w.LIVNMode >> 6) & 0x03
	p.VN = (w.LIVNMode >> 3) & 0x07
	p.Mode = w.LIVNMode & 0x07
	p.Stratum = w.Stratum
	p.Poll = w.Poll
	p.Precision = w.Precision
}

// wirePacket mirrors the exact 48-byte on-the-wire layout, so Encode/Decode
// can lean on encoding/binary instead of hand-rolled shifting.
type wirePacket struct {
	Word0          word0
	RootDelay      int32
	RootDispersion uint32
	ReferenceID    uint32
	ReferenceTime  uint64
	OriginTime     uint64
	ReceiveTime    uint64
	TransmitTime   uint64
}

// Encode serializes the packet to its 48-byte wire representation.
func (p *Packet) Encode() ([]byte, error) {
	w := wirePacket{
		Word0:          packWord0(p),
		RootDelay:      p.RootDelay,
		RootDispersion: p.RootDispersion,
		ReferenceID:    p.ReferenceID,
		ReferenceTime:  p.ReferenceTime,
		OriginTime:     p.OriginTime,
		ReceiveTime:    p.ReceiveTime,
		TransmitTime:   p.TransmitTime,
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, &w); err != nil {
		return nil, fmt.Errorf("encoding ntp packet: %w", err)
	}
	if buf.Len() != PacketSizeBytes {
		return nil, fmt.Errorf("encoded ntp packet is %d bytes, want %d", buf.Len(), PacketSizeBytes)
	}
	return buf.Bytes(), nil
}

// Decode parses a 48-byte wire buffer into a Packet.
func Decode(b []byte) (*Packet, error) {
	if len(b) != PacketSizeBytes {
		return nil, fmt.Errorf("ntp packet is %d bytes, want %d", len(b), PacketSizeBytes)
	}
	var w wirePacket
	if err := binary.Read(bytes.NewReader(b), binary.BigEndian, &w); err != nil {
		return nil, fmt.Errorf("decoding ntp packet: %w", err)
	}
	p := &Packet{
		RootDelay:      w.RootDelay,
		RootDispersion: w.RootDispersion,
		ReferenceID:    w.ReferenceID,
		ReferenceTime:  w.ReferenceTime,
		OriginTime:     w.OriginTime,
		ReceiveTime:    w.ReceiveTime,
		TransmitTime:   w.TransmitTime,
	}
	unpackWord0(w.Word0, p)
	return p, nil
}

// RefIDString renders ReferenceID as its 4 ASCII characters, the way a
// stratum-1 server's ref-id is meant to be read.
func (p *Packet) RefIDString() string {
	b := []byte{
		byte(p.ReferenceID >> 24),
		byte(p.ReferenceID >> 16),
		byte(p.ReferenceID >> 8),
		byte(p.ReferenceID),
	}
	return string(b)
}

// String renders a packet for debug-level logging, the Go analogue of the
// original NtpSync.c pretty-printer.
func (p *Packet) String() string {
	return fmt.Sprintf(
		"NTP packet: LI=%d VN=%d Mode=%d Stratum=%d Poll=%d Precision=%d RootDelay=%d RootDispersion=%d RefID=%q Reference=%d Origin=%d Receive=%d Transmit=%d",
		p.LI, p.VN, p.Mode, p.Stratum, p.Poll, p.Precision,
		p.RootDelay, p.RootDispersion, p.RefIDString(),
		p.ReferenceTime, p.OriginTime, p.ReceiveTime, p.TransmitTime,
	)
}
