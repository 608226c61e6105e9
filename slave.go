// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rtu

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const notifySilence uint32 = 0

// SlaveConfig configures one RTU slave (server) instance.
type SlaveConfig struct {
	StationID       byte // 1..247
	Port            Port
	Direction       DirectionSetter // optional RS-485 direction GPIO
	Banks           *RegisterBanks
	Names           *RegisterNames  // optional, for diagnostic logging only
	Delays          *DelayConfigSet // optional artificial latency/timeout injection
	SilenceInterval time.Duration   // T3.5; defaults to defaultSilenceInterval
	BufferCapacity  int             // MAX_BUFFER; defaults to MinBufferCapacity
	Logger          *log.Logger     // optional
}

// Slave is one Modbus RTU server instance: receive -> validate -> dispatch
// -> respond, per §4.7. A Slave owns exactly one worker goroutine and one
// reader goroutine; there is no intra-instance parallelism.
type Slave struct {
	cfg SlaveConfig

	mu    sync.Mutex // guards banks + frame, per §5
	frame [maxFrameSize]byte

	ring *RingBuffer
	t35  *time.Timer
	notify notifyChan

	stopCh chan struct{}
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// NewSlave validates role/station-id and bank presence (§3 lifecycle: a
// slave requires at least the holding-register bank) and returns an
// unstarted instance.
func NewSlave(cfg SlaveConfig) (*Slave, error) {
	if err := validateStationID(cfg.StationID); err != nil {
		return nil, err
	}
	if cfg.Port == nil {
		return nil, fmt.Errorf("modbus: slave requires a Port")
	}
	if cfg.Banks == nil || len(cfg.Banks.HoldingRegs) == 0 {
		return nil, fmt.Errorf("modbus: slave requires at least the holding-register bank")
	}
	if cfg.SilenceInterval <= 0 {
		cfg.SilenceInterval = defaultSilenceInterval
	}
	s := &Slave{
		cfg:    cfg,
		ring:   NewRingBuffer(cfg.BufferCapacity),
		notify: newNotifyChan(),
		stopCh: make(chan struct{}),
	}
	s.t35 = time.AfterFunc(cfg.SilenceInterval, func() { s.notify.post(notifySilence) })
	s.t35.Stop()
	return s, nil
}

// Start arms reception and launches the reader and worker goroutines.
func (s *Slave) Start() {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		rxLoop(s.cfg.Port, s.ring, s.t35, s.cfg.SilenceInterval, s.stopCh)
	}()
	go func() {
		defer s.wg.Done()
		s.run()
	}()
}

// Stop signals both goroutines to exit and waits for them. Closing the port
// unblocks the reader goroutine's pending Read, per transport.go's
// closePort.
func (s *Slave) Stop() {
	close(s.stopCh)
	s.t35.Stop()
	closePort(s.cfg.Port)
	s.wg.Wait()
}

// Stats returns a snapshot of the instance's counters and last error.
func (s *Slave) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Slave) recordError(err error) {
	s.statsMu.Lock()
	s.stats.ErrCount++
	s.stats.LastError = err
	s.statsMu.Unlock()
	s.logf("modbus: slave %d: %v", s.cfg.StationID, err)
}

func (s *Slave) logf(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, args...)
	}
}

// run is the worker goroutine: it blocks on the T3.5 notification and,
// on wake, drains the ring buffer and processes one frame, per §4.7.
func (s *Slave) run() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.notify:
			s.onFrameBoundary()
		}
	}
}

func (s *Slave) onFrameBoundary() {
	// Read the overflow flag before draining: a drain that empties the
	// ring clears it.
	overflow := s.ring.Overflow()
	n := s.ring.Drain(s.frame[:])
	if overflow {
		s.recordError(ErrBufferOverflow)
		return
	}
	if n < 7 {
		s.recordError(ErrBadSize)
		return
	}
	if s.frame[fieldID] != s.cfg.StationID {
		return // not addressed to us; not an error
	}

	s.mu.Lock()
	err := ValidateRequest(s.frame[:n], s.cfg.Banks)
	switch e := err.(type) {
	case nil:
		kind, address := requestTarget(s.frame[:n])
		if name := s.cfg.Names.name(kind, address); name != "" {
			s.logf("modbus: slave %d: fc %#x -> %s", s.cfg.StationID, s.frame[fieldFunc], name)
		}
		// An injected timeout leaves the request undispatched and the
		// slave silent, as if it had never answered, per SPEC_FULL.md §5.
		if s.cfg.Delays.apply(kind, address, false) {
			respLen := dispatch(s.frame[:n], s.cfg.Banks)
			s.send(respLen)
		}
	case ProtocolError:
		s.recordError(err)
		respLen := buildExceptionFrame(s.frame[:], s.cfg.StationID, s.frame[fieldFunc]&0x7F, e)
		s.send(respLen)
	default:
		// BAD_CRC (and any other silent failure): no exception
		// response, per §7 — a corrupt frame may not be addressed
		// to us.
		s.recordError(err)
	}
	s.mu.Unlock()

	s.statsMu.Lock()
	s.stats.InCount++
	s.statsMu.Unlock()
}

// send appends the CRC and transmits frame[:n], per §4.6. Caller holds mu.
func (s *Slave) send(n int) {
	sent, err := transmit(s.cfg.Port, s.cfg.Direction, s.frame[:], n)
	if err != nil {
		s.recordError(err)
		return
	}
	_ = sent
	s.statsMu.Lock()
	s.stats.OutCount++
	s.statsMu.Unlock()
}
