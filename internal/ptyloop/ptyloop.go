// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build darwin dragonfly freebsd linux netbsd openbsd solaris

// Package ptyloop provides a pseudo-terminal-backed loopback bus for tests:
// a master and a slave instance can exchange real RTU frames over two file
// descriptors without any physical UART, the same way the source's
// in-repo simulator stands in for hardware.
package ptyloop

import (
	"fmt"
	"os"
	"sync"

	"github.com/creack/pty"
)

// Pair is one pty-backed serial bus. MasterSide is handed to a *rtu.Master's
// Port, SlaveSide to a *rtu.Slave's Port; bytes written to one side are read
// from the other, exactly like two ends of an RS-485 cable.
type Pair struct {
	mu         sync.Mutex
	masterFile *os.File
	slaveFile  *os.File
	SlavePath  string
}

// New opens a fresh pty pair.
func New() (*Pair, error) {
	m, s, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("ptyloop: open: %w", err)
	}
	return &Pair{masterFile: m, slaveFile: s, SlavePath: s.Name()}, nil
}

// MasterSide returns the endpoint to hand to a *rtu.Master or *rtu.Slave
// Port field.
func (p *Pair) MasterSide() *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.masterFile
}

// SlaveSide returns the other endpoint of the bus.
func (p *Pair) SlaveSide() *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slaveFile
}

// Close closes both endpoints.
func (p *Pair) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.masterFile != nil {
		if e := p.masterFile.Close(); e != nil && err == nil {
			err = e
		}
		p.masterFile = nil
	}
	if p.slaveFile != nil {
		if e := p.slaveFile.Close(); e != nil && err == nil {
			err = e
		}
		p.slaveFile = nil
	}
	return err
}
