// Package protocol implements the beacon wire format: a 12-byte position
// packet, AES-128-ECB encrypted, hex encoded into a one-line GET request.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

const PacketSize = 12

var signature = [2]byte{'B', '@'}

type Packet struct {
	ID  int16
	Lat float32
	Lon float32
}

// InvalidPacket is what Decode yields for anything that is not a packet.
var InvalidPacket = Packet{ID: -1}

func (p Packet) Valid() bool { return p != InvalidPacket }

func (p Packet) String() string {
	return fmt.Sprintf("%d -> %g, %g", p.ID, p.Lat, p.Lon)
}

// Encode lays the packet out big-endian behind the signature.
func (p Packet) Encode() []byte {
	b := make([]byte, PacketSize)
	b[0], b[1] = signature[0], signature[1]
	binary.BigEndian.PutUint16(b[2:], uint16(p.ID))
	binary.BigEndian.PutUint32(b[4:], math.Float32bits(p.Lat))
	binary.BigEndian.PutUint32(b[8:], math.Float32bits(p.Lon))
	return b
}

// Decode never fails: a buffer of the wrong size or without the signature
// yields InvalidPacket.
func Decode(b []byte) Packet {
	if len(b) != PacketSize || b[0] != signature[0] || b[1] != signature[1] {
		return InvalidPacket
	}
	return Packet{
		ID:  int16(binary.BigEndian.Uint16(b[2:])),
		Lat: math.Float32frombits(binary.BigEndian.Uint32(b[4:])),
		Lon: math.Float32frombits(binary.BigEndian.Uint32(b[8:])),
	}
}
