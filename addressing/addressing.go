// addressing.go - wire encoding of mix node routing addresses.
// Copyright (C) 2017  David Anthony Stainton, Yawning Angel
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package addressing encodes and decodes the routing addresses carried in
// Sphinx headers: the entry/exit gateway socket address that rides
// alongside every mix packet, and the Recipient a SURB-ack or forward
// fragment addresses.
package addressing

import (
	"encoding/binary"
	"errors"
	"net"
)

// NodeAddressLength is the fixed width, in bytes, that a routing address
// occupies once zero-padded for inclusion in a Sphinx header field.
const NodeAddressLength = 32

var (
	// ErrInsufficientBytes is returned when too few bytes are supplied to
	// decode an address.
	ErrInsufficientBytes = errors.New("addressing: insufficient bytes to decode routing address")

	// ErrInvalidIPVersion is returned when the leading version byte is
	// neither 4 nor 6.
	ErrInvalidIPVersion = errors.New("addressing: invalid ip version byte")

	// ErrOversizedAddress is returned when an address, once encoded,
	// would not fit within NodeAddressLength.
	ErrOversizedAddress = errors.New("addressing: address too large to fit in node address field")
)

// NymNodeRoutingAddress wraps a net.TCPAddr (or any net.Addr providing an
// IP and port) so it can be serialized into the fixed-width field Sphinx
// headers reserve for next-hop routing information.
//
// Wire layout: version(1) || port(2, big-endian) || octets(4 or 16).
// addr_type_as_u8 is 4 for an IPv4 address and 6 for IPv6.
type NymNodeRoutingAddress net.TCPAddr

// FromTCPAddr wraps addr.
func FromTCPAddr(addr *net.TCPAddr) *NymNodeRoutingAddress {
	a := NymNodeRoutingAddress(*addr)
	return &a
}

// AddrTypeAsU8 returns the single byte IP-version discriminant.
func (a *NymNodeRoutingAddress) AddrTypeAsU8() byte {
	if a.IP.To4() != nil {
		return 4
	}
	return 6
}

// BytesMinLen is the minimum number of bytes required to represent self,
// before zero-padding to NodeAddressLength.
func (a *NymNodeRoutingAddress) BytesMinLen() int {
	if a.AddrTypeAsU8() == 4 {
		return 7
	}
	return 19
}

// AsBytes returns the unpadded wire representation of self.
func (a *NymNodeRoutingAddress) AsBytes() []byte {
	typ := a.AddrTypeAsU8()
	out := make([]byte, 0, a.BytesMinLen())
	out = append(out, typ)

	var portBytes [2]byte
	binary.BigEndian.PutUint16(portBytes[:], uint16(a.Port))
	out = append(out, portBytes[:]...)

	if typ == 4 {
		out = append(out, a.IP.To4()...)
	} else {
		ip := a.IP.To16()
		if ip == nil {
			ip = make(net.IP, 16)
		}
		out = append(out, ip...)
	}
	return out
}

// ToNodeAddressBytes zero-pads AsBytes() out to NodeAddressLength, the
// fixed width a Sphinx header field reserves for routing information.
func (a *NymNodeRoutingAddress) ToNodeAddressBytes() ([NodeAddressLength]byte, error) {
	var out [NodeAddressLength]byte
	if a.BytesMinLen() > NodeAddressLength {
		return out, ErrOversizedAddress
	}
	copy(out[:], a.AsBytes())
	return out, nil
}

// FromBytes recovers a NymNodeRoutingAddress from its wire representation.
// It does not care whether the input is zero-padded past the address's own
// length.
func FromBytes(b []byte) (*NymNodeRoutingAddress, error) {
	if len(b) < 7 {
		return nil, ErrInsufficientBytes
	}

	version := b[0]
	port := binary.BigEndian.Uint16(b[1:3])

	var ip net.IP
	switch version {
	case 4:
		ip = net.IPv4(b[3], b[4], b[5], b[6])
	case 6:
		if len(b) < 19 {
			return nil, ErrInsufficientBytes
		}
		ip = make(net.IP, 16)
		copy(ip, b[3:19])
	default:
		return nil, ErrInvalidIPVersion
	}

	return &NymNodeRoutingAddress{IP: ip, Port: int(port)}, nil
}

// FromNodeAddressBytes is the inverse of ToNodeAddressBytes.
func FromNodeAddressBytes(b [NodeAddressLength]byte) (*NymNodeRoutingAddress, error) {
	return FromBytes(b[:])
}

// TCPAddr returns self as a *net.TCPAddr.
func (a *NymNodeRoutingAddress) TCPAddr() *net.TCPAddr {
	addr := net.TCPAddr(*a)
	return &addr
}
