// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rtu

import "testing"

func framed(body ...byte) []byte {
	f := make([]byte, len(body)+2)
	copy(f, body)
	return f[:appendCRC(f, len(body))]
}

func testBanks() *RegisterBanks {
	return &RegisterBanks{
		Coils:          make([]uint16, 10),  // 160 addressable bits
		DiscreteInputs: make([]uint16, 10),
		HoldingRegs:    make([]uint16, 20),
		InputRegs:      make([]uint16, 20),
	}
}

func TestValidateRequestBadCRC(t *testing.T) {
	f := framed(0x11, FuncReadHoldingRegisters, 0x00, 0x00, 0x00, 0x01)
	f[len(f)-1] ^= 0xFF
	if err := ValidateRequest(f, testBanks()); err != ErrBadCRC {
		t.Fatalf("ValidateRequest() = %v, want ErrBadCRC", err)
	}
}

func TestValidateRequestIllegalFunction(t *testing.T) {
	f := framed(0x11, 0x99, 0x00, 0x00)
	if err := ValidateRequest(f, testBanks()); err != ExceptionIllegalFunction {
		t.Fatalf("ValidateRequest() = %v, want ExceptionIllegalFunction", err)
	}
}

func TestValidateRequestReadHoldingOK(t *testing.T) {
	f := framed(0x11, FuncReadHoldingRegisters, 0x00, 0x00, 0x00, 0x0A)
	if err := ValidateRequest(f, testBanks()); err != nil {
		t.Fatalf("ValidateRequest() = %v, want nil", err)
	}
}

func TestValidateRequestReadHoldingOutOfRange(t *testing.T) {
	f := framed(0x11, FuncReadHoldingRegisters, 0x00, 0x0F, 0x00, 0x0A) // start 15, qty 10 > size 20
	if err := ValidateRequest(f, testBanks()); err != ExceptionIllegalDataAddress {
		t.Fatalf("ValidateRequest() = %v, want ExceptionIllegalDataAddress", err)
	}
}

func TestValidateRequestWriteSingleCoilBoundary(t *testing.T) {
	banks := testBanks() // 10 words = 160 coils, addresses 0..159
	f := framed(0x11, FuncWriteSingleCoil, 0x00, 159, 0xFF, 0x00)
	if err := ValidateRequest(f, banks); err != nil {
		t.Fatalf("ValidateRequest() at last valid coil = %v, want nil", err)
	}
	f2 := framed(0x11, FuncWriteSingleCoil, 0x00, 160, 0xFF, 0x00)
	if err := ValidateRequest(f2, banks); err != ExceptionIllegalDataAddress {
		t.Fatalf("ValidateRequest() one past the last coil = %v, want ExceptionIllegalDataAddress", err)
	}
}

func TestValidateRequestWriteSingleRegister(t *testing.T) {
	banks := testBanks()
	ok := framed(0x11, FuncWriteSingleRegister, 0x00, 19, 0x00, 0x42)
	if err := ValidateRequest(ok, banks); err != nil {
		t.Fatalf("ValidateRequest() = %v, want nil", err)
	}
	bad := framed(0x11, FuncWriteSingleRegister, 0x00, 20, 0x00, 0x42)
	if err := ValidateRequest(bad, banks); err != ExceptionIllegalDataAddress {
		t.Fatalf("ValidateRequest() = %v, want ExceptionIllegalDataAddress", err)
	}
}

func TestValidateAnswerException(t *testing.T) {
	f := make([]byte, 5)
	f[fieldID] = 0x11
	f[fieldFunc] = FuncReadHoldingRegisters | 0x80
	f[2] = byte(ExceptionIllegalDataAddress)
	n := appendCRC(f, 3)
	if err := ValidateAnswer(f[:n]); err != ErrException {
		t.Fatalf("ValidateAnswer() = %v, want ErrException", err)
	}
}

func TestValidateAnswerOK(t *testing.T) {
	f := framed(0x11, FuncReadHoldingRegisters, 0x02, 0x00, 0x2A)
	if err := ValidateAnswer(f); err != nil {
		t.Fatalf("ValidateAnswer() = %v, want nil", err)
	}
}
