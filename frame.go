// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rtu

import "encoding/binary"

// putU16BE packs v as ADD_HI:ADD_LO / NB_HI:NB_LO, the big-endian 16-bit
// word convention used throughout the wire format.
func putU16BE(b []byte, v uint16) {
	binary.BigEndian.PutUint16(b, v)
}

func getU16BE(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// buildExceptionFrame writes an exception response into frame: the ID byte
// is preserved, 0x80 is OR-ed into the function byte, the exception code
// goes at offset 2, and the returned length is 3 (CRC is appended later by
// the send path).
func buildExceptionFrame(frame []byte, stationID, function byte, code ProtocolError) int {
	frame[fieldID] = stationID
	frame[fieldFunc] = function | 0x80
	frame[2] = byte(code)
	return 3
}

// appendCRC computes the CRC-16/Modbus over frame[:n] and appends it low
// byte first, high byte last, returning the new length.
func appendCRC(frame []byte, n int) int {
	sum := crc16(frame[:n])
	frame[n] = byte(sum)
	frame[n+1] = byte(sum >> 8)
	return n + 2
}

// packBits packs values LSB-first into dst starting at byte 0, the way FC
// 1/2 responses and FC 15 requests encode coil/discrete-input status.
func packBits(dst []byte, values []bool) {
	for i, v := range values {
		if v {
			dst[i/8] |= 1 << uint(i%8)
		}
	}
}

// unpackBits extracts n bits LSB-first from src.
func unpackBits(src []byte, n int) []bool {
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = src[i/8]&(1<<uint(i%8)) != 0
	}
	return out
}
