// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rtu

import (
	"net"
	"testing"
	"time"
)

func TestRegisterNamesNilSafe(t *testing.T) {
	var names *RegisterNames
	if got := names.name(BankHoldingRegisters, 0); got != "" {
		t.Fatalf("nil *RegisterNames: name = %q, want empty", got)
	}
}

func TestRegisterNamesLookup(t *testing.T) {
	names := &RegisterNames{
		HoldingRegs: map[uint16]string{3: "setpoint"},
		Coils:       map[uint16]string{1: "pump"},
	}
	if got := names.name(BankHoldingRegisters, 3); got != "setpoint" {
		t.Fatalf("HoldingRegs[3] = %q, want %q", got, "setpoint")
	}
	if got := names.name(BankCoils, 1); got != "pump" {
		t.Fatalf("Coils[1] = %q, want %q", got, "pump")
	}
	if got := names.name(BankHoldingRegisters, 4); got != "" {
		t.Fatalf("unconfigured address = %q, want empty", got)
	}
}

func TestDelayConfigSetNilSafe(t *testing.T) {
	var ds *DelayConfigSet
	if !ds.apply(BankHoldingRegisters, 0, false) {
		t.Fatal("nil *DelayConfigSet must always answer")
	}
}

func TestDelayConfigSetAddressOverridesGlobal(t *testing.T) {
	ds := &DelayConfigSet{
		Global:      map[BankKind]DelayConfig{BankHoldingRegisters: {TimeoutProbability: 0}},
		HoldingRegs: map[uint16]DelayConfig{5: {TimeoutProbability: 1}},
	}
	if ds.apply(BankHoldingRegisters, 5, false) {
		t.Fatal("address override with TimeoutProbability 1 must never answer")
	}
	if !ds.apply(BankHoldingRegisters, 6, false) {
		t.Fatal("address 6 falls back to Global, which has TimeoutProbability 0")
	}
}

func TestDelayConfigSetDisableTimeoutStillApplies(t *testing.T) {
	ds := &DelayConfigSet{
		Global: map[BankKind]DelayConfig{
			BankHoldingRegisters: {TimeoutProbability: 1, Delay: time.Millisecond},
		},
	}
	start := time.Now()
	if !ds.apply(BankHoldingRegisters, 0, true) {
		t.Fatal("disableTimeout=true must suppress TimeoutProbability")
	}
	if elapsed := time.Since(start); elapsed < time.Millisecond {
		t.Fatalf("Delay was not applied: elapsed %v", elapsed)
	}
}

// TestSlaveInjectedTimeoutStaysSilent exercises the end-to-end wiring in
// onFrameBoundary: a request whose bank/address matches a DelayConfigSet
// entry with TimeoutProbability 1 gets no response at all.
func TestSlaveInjectedTimeoutStaysSilent(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	banks := &RegisterBanks{HoldingRegs: []uint16{0x1111}}
	s, err := NewSlave(SlaveConfig{
		StationID: 0x11,
		Port:      serverConn,
		Banks:     banks,
		Delays: &DelayConfigSet{
			Global: map[BankKind]DelayConfig{BankHoldingRegisters: {TimeoutProbability: 1}},
		},
		SilenceInterval: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	req := framed(0x11, FuncReadHoldingRegisters, 0x00, 0x00, 0x00, 0x01)
	go clientConn.Write(req)

	clientConn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	resp := make([]byte, maxFrameSize)
	if _, err := clientConn.Read(resp); err == nil {
		t.Fatal("expected no response from a slave with an injected timeout")
	}
}

func TestRequestTarget(t *testing.T) {
	cases := []struct {
		frame   []byte
		wantK   BankKind
		wantAdr uint16
	}{
		{framed(0x01, FuncReadCoils, 0x00, 0x05, 0x00, 0x01), BankCoils, 5},
		{framed(0x01, FuncReadDiscreteInputs, 0x00, 0x02, 0x00, 0x01), BankDiscreteInputs, 2},
		{framed(0x01, FuncReadHoldingRegisters, 0x00, 0x03, 0x00, 0x01), BankHoldingRegisters, 3},
		{framed(0x01, FuncReadInputRegisters, 0x00, 0x04, 0x00, 0x01), BankInputRegisters, 4},
		{framed(0x01, FuncWriteSingleCoil, 0x00, 0x07, 0xFF, 0x00), BankCoils, 7},
		{framed(0x01, FuncWriteSingleRegister, 0x00, 0x08, 0x12, 0x34), BankHoldingRegisters, 8},
	}
	for _, c := range cases {
		k, addr := requestTarget(c.frame)
		if k != c.wantK || addr != c.wantAdr {
			t.Errorf("requestTarget(fc=%#x) = (%d, %d), want (%d, %d)", c.frame[fieldFunc], k, addr, c.wantK, c.wantAdr)
		}
	}
}
