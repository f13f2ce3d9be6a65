// Package relay builds the binary packets the gateway pushes to world
// servers and forwards record-update notices onto the cluster sync channel.
//
// Packets use the cluster's little-endian wire layout: u16 opcodes, s32
// client IDs, and length-prefixed UTF-8 strings. Relay envelopes wrap a
// nested application packet and address it to every client in a world or to
// an explicit client list.
package relay

import (
	"bytes"
	"encoding/binary"
)

// Opcode identifies a packet type on the world link.
type Opcode uint16

// Internal opcodes.
const (
	OpAccountLogout Opcode = 0x1001
	OpRelay         Opcode = 0x1002
)

// Application opcodes nested inside relay envelopes.
const (
	OpChat        Opcode = 0x0014
	OpSystemMsg   Opcode = 0x0021
	OpCashBalance Opcode = 0x015C
)

// Mode selects how a relay envelope is addressed.
type Mode uint8

const (
	// RelayAll delivers to every client in the target world.
	RelayAll Mode = 1
	// RelayCIDs delivers to an explicit client ID list.
	RelayCIDs Mode = 2
)

// Packet is an append-only binary packet.
type Packet struct {
	buf bytes.Buffer
}

// NewPacket begins a packet with its opcode.
func NewPacket(opcode Opcode) *Packet {
	p := &Packet{}
	p.WriteU16(uint16(opcode))
	return p
}

// WriteU8 appends one byte.
func (p *Packet) WriteU8(v uint8) {
	p.buf.WriteByte(v)
}

// WriteU16 appends a little-endian uint16.
func (p *Packet) WriteU16(v uint16) {
	var scratch [2]byte
	binary.LittleEndian.PutUint16(scratch[:], v)
	p.buf.Write(scratch[:])
}

// WriteU32 appends a little-endian uint32.
func (p *Packet) WriteU32(v uint32) {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], v)
	p.buf.Write(scratch[:])
}

// WriteS32 appends a little-endian int32.
func (p *Packet) WriteS32(v int32) {
	p.WriteU32(uint32(v))
}

// WriteS64 appends a little-endian int64.
func (p *Packet) WriteS64(v int64) {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(v))
	p.buf.Write(scratch[:])
}

// WriteString appends a u16 length prefix followed by the UTF-8 bytes.
func (p *Packet) WriteString(s string) {
	p.WriteU16(uint16(len(s)))
	p.buf.WriteString(s)
}

// Append embeds an already-built packet, nested opcode included.
func (p *Packet) Append(nested *Packet) {
	p.buf.Write(nested.Bytes())
}

// Bytes returns the wire form.
func (p *Packet) Bytes() []byte {
	return p.buf.Bytes()
}

// Len returns the current packet size in bytes.
func (p *Packet) Len() int {
	return p.buf.Len()
}

// NewRelayAll begins a relay envelope addressed to every client in the
// target world. The nested application packet is appended by the caller.
func NewRelayAll(sourceCID int32) *Packet {
	p := NewPacket(OpRelay)
	p.WriteS32(sourceCID)
	p.WriteU8(uint8(RelayAll))
	return p
}

// NewRelayTargets begins a relay envelope addressed to an explicit client ID
// list.
func NewRelayTargets(sourceCID int32, cids []int32) *Packet {
	p := NewPacket(OpRelay)
	p.WriteS32(sourceCID)
	p.WriteU8(uint8(RelayCIDs))
	p.WriteU16(uint16(len(cids)))
	for _, cid := range cids {
		p.WriteS32(cid)
	}
	return p
}

// AccountLogoutPacket orders a world to disconnect an account. Kick levels
// above zero escalate from a polite logout to an immediate drop.
func AccountLogoutPacket(username string, kickLevel uint8) *Packet {
	p := NewPacket(OpAccountLogout)
	p.WriteString(username)
	p.WriteU8(kickLevel)
	return p
}

// WorldMessageBroadcast builds a relay envelope delivering an operator
// message to every client in a world. Ticker messages scroll on screen;
// others land in the chat console.
func WorldMessageBroadcast(message string, ticker bool) *Packet {
	nested := NewPacket(OpChat)
	if ticker {
		nested = NewPacket(OpSystemMsg)
	}
	nested.WriteString(message)

	p := NewRelayAll(-1)
	p.Append(nested)
	return p
}

// CashBalancePacket tells one connected client its new CP balance.
func CashBalancePacket(cid int32, balance int64) *Packet {
	nested := NewPacket(OpCashBalance)
	nested.WriteS64(balance)

	p := NewRelayTargets(-1, []int32{cid})
	p.Append(nested)
	return p
}
