// Package varint implements the handful of variable-length integer
// encodings used by the on-disk git formats. The packfile object
// header/size, the OFS_DELTA backward offset, and the reftable block
// integers all share the same "continuation bit" trick (the high bit
// of a byte says whether another byte follows) but disagree on byte
// order and on whether each chunk is stored off-by-one, so each gets
// its own pair of Encode/Decode functions built on the same bit
// primitives.
package varint

import "errors"

// ErrOverflow is returned when a buffer runs out before the
// continuation bit clears, or when decoding would overflow a uint64.
var ErrOverflow = errors.New("varint: overflow")

// IsMSBSet reports whether the most significant bit of b is set.
func IsMSBSet(b byte) bool {
	return b >= 0b_1000_0000
}

// UnsetMSB clears the most significant bit of b.
func UnsetMSB(b byte) byte {
	return b & 0b_0111_1111
}

// SetMSB sets the most significant bit of b.
func SetMSB(b byte) byte {
	return b | 0b_1000_0000
}

// DecodeLE7 decodes a little-endian, 7-bit-per-byte continuation
// varint: this is the encoding used for the remaining bytes of a
// packfile object's inflated size, after the first header byte.
func DecodeLE7(data []byte) (value uint64, bytesRead int, err error) {
	for i, b := range data {
		bytesRead++
		chunk := UnsetMSB(b)
		value |= uint64(chunk) << (uint(i) * 7)
		if !IsMSBSet(b) {
			return value, bytesRead, nil
		}
	}
	return 0, 0, ErrOverflow
}

// EncodeLE7 encodes value using the little-endian 7-bit continuation
// scheme described in DecodeLE7.
func EncodeLE7(value uint64) []byte {
	out := []byte{}
	for {
		chunk := byte(value & 0x7f)
		value >>= 7
		if value > 0 {
			out = append(out, SetMSB(chunk))
		} else {
			out = append(out, chunk)
			break
		}
	}
	return out
}

// DecodeOfsDeltaOffset decodes a packfile OFS_DELTA backward offset:
// big-endian 7-bit chunks, continuation bit set on every byte but the
// last, with every non-final chunk stored off-by-one (added back
// during decode).
func DecodeOfsDeltaOffset(data []byte) (offset uint64, bytesRead int, err error) {
	for _, b := range data {
		bytesRead++
		chunk := UnsetMSB(b)
		if IsMSBSet(b) {
			chunk++
		}
		offset = offset<<7 | uint64(chunk)
		if !IsMSBSet(b) {
			return offset, bytesRead, nil
		}
	}
	return 0, 0, ErrOverflow
}

// EncodeOfsDeltaOffset encodes offset using the scheme described in
// DecodeOfsDeltaOffset.
func EncodeOfsDeltaOffset(offset uint64) []byte {
	// Build the big-endian 7-bit chunks from least to most significant,
	// then reverse and apply the off-by-one/continuation-bit encoding.
	chunks := []byte{byte(offset & 0x7f)}
	offset >>= 7
	for offset > 0 {
		offset--
		chunks = append(chunks, byte(offset&0x7f))
		offset >>= 7
	}
	out := make([]byte, len(chunks))
	for i, c := range chunks {
		out[len(chunks)-1-i] = c
	}
	for i := 0; i < len(out)-1; i++ {
		out[i] = SetMSB(out[i])
	}
	return out
}

// DecodeUvarint decodes a plain big-endian, 7-bit-per-byte
// continuation varint with no off-by-one adjustment: the scheme used
// by reftable for block lengths, restart offsets, and key/value
// lengths.
func DecodeUvarint(data []byte) (value uint64, bytesRead int, err error) {
	for _, b := range data {
		bytesRead++
		if bytesRead > 10 {
			return 0, 0, ErrOverflow
		}
		value = value<<7 | uint64(UnsetMSB(b))
		if !IsMSBSet(b) {
			return value, bytesRead, nil
		}
	}
	return 0, 0, ErrOverflow
}

// EncodeUvarint encodes value using the scheme described in
// DecodeUvarint.
func EncodeUvarint(value uint64) []byte {
	chunks := []byte{byte(value & 0x7f)}
	value >>= 7
	for value > 0 {
		chunks = append(chunks, byte(value&0x7f))
		value >>= 7
	}
	out := make([]byte, len(chunks))
	for i, c := range chunks {
		out[len(chunks)-1-i] = c
	}
	for i := 0; i < len(out)-1; i++ {
		out[i] = SetMSB(out[i])
	}
	return out
}
