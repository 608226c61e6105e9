// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rtu

// ValidateRequest runs the slave-side checks of §4.4 against a raw RTU
// frame (ID|FUNC|data, CRC not yet stripped) and the bank sizes it will be
// dispatched against. It returns nil on success, a ProtocolError when the
// slave should answer with an exception, or ErrBadCRC (silent, no
// exception response per §7).
//
// frame must be at least 7 bytes; callers (slave.go) enforce that before
// calling ValidateRequest, matching the loop's own BadSize check.
func ValidateRequest(frame []byte, banks *RegisterBanks) error {
	n := len(frame)
	wireCRC := uint16(frame[n-2]) | uint16(frame[n-1])<<8
	if crc16(frame[:n-2]) != wireCRC {
		return ErrBadCRC
	}

	fc := frame[fieldFunc]
	if !supportedFunction(fc) {
		return ExceptionIllegalFunction
	}

	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncWriteMultipleCoils:
		start := getU16BE(frame[2:4])
		qty := getU16BE(frame[4:6])
		bank := BankCoils
		if fc == FuncReadDiscreteInputs {
			bank = BankDiscreteInputs
		}
		if int(start)/16+ceilDiv(int(qty), 16) > banks.size(bank) {
			return ExceptionIllegalDataAddress
		}
		if ceilDiv(int(qty), 8)+5 > maxFrameSize {
			return ExceptionIllegalDataValue
		}

	case FuncWriteSingleCoil:
		start := getU16BE(frame[2:4])
		if ceilDiv(int(start)+1, 16) > banks.size(BankCoils) {
			return ExceptionIllegalDataAddress
		}

	case FuncWriteSingleRegister:
		start := getU16BE(frame[2:4])
		if int(start) >= banks.size(BankHoldingRegisters) {
			return ExceptionIllegalDataAddress
		}

	case FuncReadHoldingRegisters, FuncReadInputRegisters, FuncWriteMultipleRegisters:
		start := getU16BE(frame[2:4])
		qty := getU16BE(frame[4:6])
		bank := BankHoldingRegisters
		if fc == FuncReadInputRegisters {
			bank = BankInputRegisters
		}
		if int(start)+int(qty) > banks.size(bank) {
			return ExceptionIllegalDataAddress
		}
		if int(qty)*2+5 > maxFrameSize {
			return ExceptionIllegalDataValue
		}
	}
	return nil
}

// ValidateAnswer runs the master-side checks of §4.4 against a raw RTU
// response frame. It returns nil on success, ErrException if the slave
// signalled an exception (bit 0x80 of FUNC), ErrBadCRC, or
// ExceptionIllegalFunction if the function code is not one of the eight
// supported.
func ValidateAnswer(frame []byte) error {
	n := len(frame)
	wireCRC := uint16(frame[n-2]) | uint16(frame[n-1])<<8
	if crc16(frame[:n-2]) != wireCRC {
		return ErrBadCRC
	}
	fc := frame[fieldFunc]
	if fc&0x80 != 0 {
		return ErrException
	}
	if !supportedFunction(fc) {
		return ExceptionIllegalFunction
	}
	return nil
}

func supportedFunction(fc byte) bool {
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters,
		FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		return true
	default:
		return false
	}
}
