package pe

import "encoding/binary"

// Checksum computes the PE image checksum of b, whose stored CheckSum field
// is at off. The field is excluded from the sum; an off outside b excludes
// nothing.
func Checksum(b []byte, off uint64) uint32 {
	var sum uint32
	n := len(b) &^ 1
	for i := 0; i < n; i += 2 {
		sum += uint32(binary.LittleEndian.Uint16(b[i:]))
		sum = (sum & 0xffff) + (sum >> 16)
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1])
		sum = (sum & 0xffff) + (sum >> 16)
	}
	sum = (sum & 0xffff) + (sum >> 16)

	if off+4 <= uint64(len(b)) {
		for _, w := range []uint32{
			uint32(binary.LittleEndian.Uint16(b[off:])),
			uint32(binary.LittleEndian.Uint16(b[off+2:])),
		} {
			if sum < w {
				sum--
			}
			sum = (sum - w) & 0xffff
		}
	}
	return sum + uint32(len(b))
}
