package wire

import "encoding/binary"

// The wire format is big-endian regardless of the host architecture. The
// conversion primitives below start from the host's native byte order and
// reverse only when it differs from the wire order, which keeps the
// contract testable independent of the machine running the tests.

var hostBigEndian = func() bool {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], 0x0102)
	return b[0] == 0x01
}()

// ToWire16 encodes v in wire (big-endian) byte order.
func ToWire16(v uint16) [2]byte {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], v)
	if !hostBigEndian {
		b[0], b[1] = b[1], b[0]
	}
	return b
}

// ToWire32 encodes v in wire (big-endian) byte order.
func ToWire32(v uint32) [4]byte {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], v)
	if !hostBigEndian {
		reverse(b[:])
	}
	return b
}

// ToWire64 encodes v in wire (big-endian) byte order.
func ToWire64(v uint64) [8]byte {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], v)
	if !hostBigEndian {
		reverse(b[:])
	}
	return b
}

// FromWire16 decodes a wire-order value into host representation.
func FromWire16(b [2]byte) uint16 {
	if !hostBigEndian {
		b[0], b[1] = b[1], b[0]
	}
	return binary.NativeEndian.Uint16(b[:])
}

// FromWire32 decodes a wire-order value into host representation.
func FromWire32(b [4]byte) uint32 {
	if !hostBigEndian {
		reverse(b[:])
	}
	return binary.NativeEndian.Uint32(b[:])
}

// FromWire64 decodes a wire-order value into host representation.
func FromWire64(b [8]byte) uint64 {
	if !hostBigEndian {
		reverse(b[:])
	}
	return binary.NativeEndian.Uint64(b[:])
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
