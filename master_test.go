// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rtu

import (
	"io"
	"net"
	"testing"
	"time"
)

type capturingOriginator struct {
	ch chan error
}

func newCapturingOriginator() *capturingOriginator {
	return &capturingOriginator{ch: make(chan error, 1)}
}

func (o *capturingOriginator) Notify(result error) { o.ch <- result }

func (o *capturingOriginator) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-o.ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Originator.Notify was never called")
		return nil
	}
}

func TestMasterTimeout(t *testing.T) {
	serverConn, slaveSide := net.Pipe()
	// Consume the request (a net.Pipe write blocks until it is read), but
	// nothing ever answers.
	go io.Copy(io.Discard, slaveSide)
	m, err := NewMaster(MasterConfig{
		Port:            serverConn,
		ResponseTimeout: 20 * time.Millisecond,
		SilenceInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	m.Start()
	defer m.Stop()

	orig := newCapturingOriginator()
	tg := &Telegram{
		StationID:  0x11,
		Function:   FuncReadHoldingRegisters,
		Address:    0,
		Quantity:   2,
		Words:      make([]uint16, 2),
		Originator: orig,
	}
	if err := m.Query(tg); err != nil {
		t.Fatal(err)
	}
	if got := orig.wait(t); got != ErrTimeout {
		t.Fatalf("Notify() = %v, want ErrTimeout", got)
	}
	if stats := m.Stats(); stats.ErrCount == 0 {
		t.Fatal("expected ErrCount to be incremented on timeout")
	}
}

func TestMasterReadHoldingRegisters(t *testing.T) {
	serverConn, slaveSide := net.Pipe()
	m, err := NewMaster(MasterConfig{
		Port:            serverConn,
		ResponseTimeout: time.Second,
		SilenceInterval: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	m.Start()
	defer m.Stop()

	// Stand in for a slave: echo back a canned response once a request
	// arrives.
	go func() {
		buf := make([]byte, maxFrameSize)
		n, err := slaveSide.Read(buf)
		if err != nil {
			return
		}
		_ = n
		resp := framed(0x11, FuncReadHoldingRegisters, 0x04, 0xBE, 0xEF, 0xCA, 0xFE)
		slaveSide.Write(resp)
	}()

	orig := newCapturingOriginator()
	tg := &Telegram{
		StationID:  0x11,
		Function:   FuncReadHoldingRegisters,
		Address:    0,
		Quantity:   2,
		Words:      make([]uint16, 2),
		Originator: orig,
	}
	if err := m.Query(tg); err != nil {
		t.Fatal(err)
	}
	if got := orig.wait(t); got != ErrOKQuery {
		t.Fatalf("Notify() = %v, want ErrOKQuery", got)
	}
	if tg.Words[0] != 0xBEEF || tg.Words[1] != 0xCAFE {
		t.Fatalf("Words = %04X, want [BEEF CAFE]", tg.Words)
	}
}

func TestMasterBadSlaveIDNotifiesOriginator(t *testing.T) {
	serverConn, _ := net.Pipe()
	m, err := NewMaster(MasterConfig{Port: serverConn})
	if err != nil {
		t.Fatal(err)
	}
	m.Start()
	defer m.Stop()

	orig := newCapturingOriginator()
	tg := &Telegram{StationID: 0, Function: FuncReadHoldingRegisters, Quantity: 1, Words: make([]uint16, 1), Originator: orig}
	if err := m.Query(tg); err != nil {
		t.Fatal(err)
	}
	if got := orig.wait(t); got != ErrBadSlaveID {
		t.Fatalf("Notify() = %v, want ErrBadSlaveID", got)
	}
}
