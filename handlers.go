// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rtu

// dispatch runs the function-code handler for a validated request and
// writes the response (without CRC) into frame, returning its length.
// Callers hold the instance mutex for the duration, per §4.7 step 5: the
// handler both reads and mutates banks.
//
// Each function code has its own switch case below rather than a shared
// "Database" selector, which sidesteps the source's suspected bug (see
// DESIGN.md "Open Questions") where FC 1 special-cased coils with no else
// branch for discrete inputs: FC 1 and FC 2 share handleReadBits but each
// case passes its own bank explicitly, so there is nothing to fall through.
func dispatch(frame []byte, banks *RegisterBanks) int {
	fc := frame[fieldFunc]
	switch fc {
	case FuncReadCoils:
		return handleReadBits(frame, banks.Coils)
	case FuncReadDiscreteInputs:
		return handleReadBits(frame, banks.DiscreteInputs)
	case FuncReadHoldingRegisters:
		return handleReadRegisters(frame, banks.HoldingRegs)
	case FuncReadInputRegisters:
		return handleReadRegisters(frame, banks.InputRegs)
	case FuncWriteSingleCoil:
		return handleWriteSingleCoil(frame, banks.Coils)
	case FuncWriteSingleRegister:
		return handleWriteSingleRegister(frame, banks.HoldingRegs)
	case FuncWriteMultipleCoils:
		return handleWriteMultipleCoils(frame, banks.Coils)
	case FuncWriteMultipleRegisters:
		return handleWriteMultipleRegisters(frame, banks.HoldingRegs)
	default:
		// Unreachable: ValidateRequest already rejected unknown codes.
		return buildExceptionFrame(frame, frame[fieldID], fc, ExceptionIllegalFunction)
	}
}

// handleReadBits serves FC 1 (coils) and FC 2 (discrete inputs): response
// is byte-count followed by the addressed bits, packed LSB-first.
func handleReadBits(frame []byte, bank []uint16) int {
	start := getU16BE(frame[2:4])
	qty := getU16BE(frame[4:6])

	bits := make([]bool, qty)
	for i := uint16(0); i < qty; i++ {
		bits[i] = bitAt(bank, start+i)
	}

	byteCount := ceilDiv(int(qty), 8)
	frame[2] = byte(byteCount)
	for i := range frame[3 : 3+byteCount] {
		frame[3+i] = 0
	}
	packBits(frame[3:3+byteCount], bits)
	return 3 + byteCount
}

// handleReadRegisters serves FC 3 (holding) and FC 4 (input): response is
// byte-count followed by big-endian words.
func handleReadRegisters(frame []byte, bank []uint16) int {
	start := getU16BE(frame[2:4])
	qty := getU16BE(frame[4:6])

	frame[2] = byte(qty * 2)
	for i := uint16(0); i < qty; i++ {
		putU16BE(frame[3+i*2:], bank[start+i])
	}
	return 3 + int(qty)*2
}

// handleWriteSingleCoil serves FC 5: 0xFF00 sets the coil, 0x0000 clears
// it; the response echoes the request verbatim (6 bytes: ID, FUNC,
// address, value).
func handleWriteSingleCoil(frame []byte, bank []uint16) int {
	addr := getU16BE(frame[2:4])
	value := getU16BE(frame[4:6])
	setBitAt(bank, addr, value == 0xFF00)
	return 6
}

// handleWriteSingleRegister serves FC 6: response echoes the request.
func handleWriteSingleRegister(frame []byte, bank []uint16) int {
	addr := getU16BE(frame[2:4])
	value := getU16BE(frame[4:6])
	bank[addr] = value
	return 6
}

// handleWriteMultipleCoils serves FC 15: response echoes start address and
// quantity (6 bytes).
func handleWriteMultipleCoils(frame []byte, bank []uint16) int {
	start := getU16BE(frame[2:4])
	qty := getU16BE(frame[4:6])
	byteCount := int(frame[6])
	bits := unpackBits(frame[7:7+byteCount], int(qty))
	for i, v := range bits {
		setBitAt(bank, start+uint16(i), v)
	}
	putU16BE(frame[2:4], start)
	putU16BE(frame[4:6], qty)
	return 6
}

// handleWriteMultipleRegisters serves FC 16: response echoes start address
// and quantity (6 bytes).
func handleWriteMultipleRegisters(frame []byte, bank []uint16) int {
	start := getU16BE(frame[2:4])
	qty := getU16BE(frame[4:6])
	for i := uint16(0); i < qty; i++ {
		bank[start+i] = getU16BE(frame[7+i*2:])
	}
	putU16BE(frame[2:4], start)
	putU16BE(frame[4:6], qty)
	return 6
}
