// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rtu

import (
	"log"
	"sync"
	"time"
)

const notifyTimeout uint32 = 1

type comState int

const (
	comIdle comState = iota
	comWaiting
)

// MasterConfig configures one RTU master (client) instance.
type MasterConfig struct {
	Port            Port
	Direction       DirectionSetter // optional RS-485 direction GPIO
	ResponseTimeout time.Duration   // defaults to 1s
	SilenceInterval time.Duration   // T3.5; defaults to defaultSilenceInterval
	BufferCapacity  int             // MAX_BUFFER; defaults to MinBufferCapacity
	QueueDepth      int             // MAX_TELEGRAMS; defaults to DefaultMaxTelegrams
	Logger          *log.Logger     // optional
}

const defaultResponseTimeout = time.Second

// Master is one Modbus RTU client instance: dequeue telegram -> transmit
// -> await response or timeout -> parse -> notify caller, per §4.8. A
// Master owns exactly one worker goroutine and one reader goroutine;
// telegrams are strictly sequential (§5), never more than one outstanding.
type Master struct {
	cfg MasterConfig

	mu    sync.Mutex // guards frame + state, per §5
	frame [maxFrameSize]byte
	state comState

	ring         *RingBuffer
	t35          *time.Timer
	timeoutTimer *time.Timer
	notify       notifyChan

	queue  *telegramQueue
	stopCh chan struct{}
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// NewMaster returns an unstarted master instance.
func NewMaster(cfg MasterConfig) (*Master, error) {
	if cfg.Port == nil {
		return nil, errMasterRequiresPort
	}
	if cfg.SilenceInterval <= 0 {
		cfg.SilenceInterval = defaultSilenceInterval
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	m := &Master{
		cfg:    cfg,
		ring:   NewRingBuffer(cfg.BufferCapacity),
		notify: newNotifyChan(),
		queue:  newTelegramQueue(cfg.QueueDepth),
		stopCh: make(chan struct{}),
	}
	m.t35 = time.AfterFunc(cfg.SilenceInterval, func() {
		// T3.5 expiry additionally cancels the response-timeout timer,
		// because the master only cares about T3.5 when a response is
		// actually arriving, per §4.2.
		m.timeoutTimer.Stop()
		m.notify.post(notifySilence)
	})
	m.t35.Stop()
	m.timeoutTimer = time.AfterFunc(cfg.ResponseTimeout, func() { m.notify.post(notifyTimeout) })
	m.timeoutTimer.Stop()
	return m, nil
}

// Start arms reception and launches the reader and worker goroutines.
func (m *Master) Start() {
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		rxLoop(m.cfg.Port, m.ring, m.t35, m.cfg.SilenceInterval, m.stopCh)
	}()
	go func() {
		defer m.wg.Done()
		m.run()
	}()
}

// Stop signals both goroutines to exit, closes the telegram queue, and
// waits for shutdown. Closing the port unblocks the reader goroutine's
// pending Read, per transport.go's closePort.
func (m *Master) Stop() {
	close(m.stopCh)
	m.queue.Close()
	m.t35.Stop()
	m.timeoutTimer.Stop()
	closePort(m.cfg.Port)
	m.wg.Wait()
}

// Query enqueues t at the tail of the telegram queue (§4.9 normal path),
// blocking while the queue is full.
func (m *Master) Query(t *Telegram) error {
	if !m.queue.Enqueue(t) {
		return errMasterStopped
	}
	return nil
}

// QueryInject clears the telegram queue and enqueues t at the head, for
// urgent polls that must jump ahead of whatever is already queued.
func (m *Master) QueryInject(t *Telegram) error {
	if !m.queue.Inject(t) {
		return errMasterStopped
	}
	return nil
}

// Stats returns a snapshot of the instance's counters and last error.
func (m *Master) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

func (m *Master) logf(format string, args ...interface{}) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Printf(format, args...)
	}
}

// run is the worker goroutine: it blocks on the telegram queue and, on
// dequeue, calls sendQuery followed by awaitResponse, per §4.8.
func (m *Master) run() {
	for {
		t, ok := m.queue.Dequeue()
		if !ok {
			return
		}
		if err := m.sendQuery(t); err != nil {
			m.recordError(err)
			t.Originator.Notify(err)
			continue
		}
		m.awaitResponse(t)
	}
}

// sendQuery implements §4.8 step 1-3. Its refusal codes (POLLING,
// BAD_SLAVE_ID) are the synchronous return values described in §7 — they
// describe this internal call, not the host-facing Query/QueryInject,
// which only ever fail when the master has been stopped. NOT_MASTER is
// kept as an exported sentinel for API symmetry with the source's single
// polymorphic instance handle; it is unreachable through *Master's Go API
// since there is no way to construct a Master with a non-master role.
func (m *Master) sendQuery(t *Telegram) error {
	if err := validateStationID(t.StationID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != comIdle {
		return ErrPolling
	}

	// Discard any stale T3.5/timeout notification left over from bus
	// noise observed while idle; only post-transmit traffic matters now.
	select {
	case <-m.notify:
	default:
	}
	m.ring.Clear()

	n := m.buildRequest(t)
	if _, err := transmit(m.cfg.Port, m.cfg.Direction, m.frame[:], n); err != nil {
		return err
	}
	m.statsMu.Lock()
	m.stats.OutCount++
	m.statsMu.Unlock()

	m.state = comWaiting
	m.timeoutTimer.Reset(m.cfg.ResponseTimeout)
	return nil
}

// buildRequest packs t into m.frame[0:n) (ID, FUNC, data — CRC is appended
// by transmit) and returns n.
func (m *Master) buildRequest(t *Telegram) int {
	f := m.frame[:]
	f[fieldID] = t.StationID
	f[fieldFunc] = t.Function

	switch t.Function {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		putU16BE(f[2:4], t.Address)
		putU16BE(f[4:6], t.Quantity)
		return 6

	case FuncWriteSingleCoil:
		putU16BE(f[2:4], t.Address)
		value := uint16(0x0000)
		if len(t.Bits) > 0 && t.Bits[0] {
			value = 0xFF00
		}
		putU16BE(f[4:6], value)
		return 6

	case FuncWriteSingleRegister:
		putU16BE(f[2:4], t.Address)
		var value uint16
		if len(t.Words) > 0 {
			value = t.Words[0]
		}
		putU16BE(f[4:6], value)
		return 6

	case FuncWriteMultipleCoils:
		putU16BE(f[2:4], t.Address)
		putU16BE(f[4:6], t.Quantity)
		byteCount := ceilDiv(int(t.Quantity), 8)
		f[6] = byte(byteCount)
		for i := range f[7 : 7+byteCount] {
			f[7+i] = 0
		}
		packBits(f[7:7+byteCount], t.Bits)
		return 7 + byteCount

	case FuncWriteMultipleRegisters:
		putU16BE(f[2:4], t.Address)
		putU16BE(f[4:6], t.Quantity)
		byteCount := int(t.Quantity) * 2
		f[6] = byte(byteCount)
		for i, w := range t.Words {
			putU16BE(f[7+i*2:], w)
		}
		return 7 + byteCount
	}
	return 6
}

// awaitResponse blocks on the task-notification, per the master state
// machine of §4.8: a timeout notification returns to COM_IDLE and reports
// ErrTimeout; a T3.5 notification parses the accumulated frame and
// reports ErrOKQuery or the validation failure.
func (m *Master) awaitResponse(t *Telegram) {
	select {
	case <-m.stopCh:
		return
	case v := <-m.notify:
		switch v {
		case notifyTimeout:
			m.mu.Lock()
			m.state = comIdle
			m.mu.Unlock()
			m.recordError(ErrTimeout)
			t.Originator.Notify(ErrTimeout)

		case notifySilence:
			err := m.handleAnswer(t)
			m.mu.Lock()
			m.state = comIdle
			m.mu.Unlock()
			if err != ErrOKQuery {
				m.recordError(err)
			} else {
				m.statsMu.Lock()
				m.stats.InCount++
				m.statsMu.Unlock()
			}
			t.Originator.Notify(err)
		}
	}
}

// handleAnswer drains the ring buffer, validates the response, and copies
// its payload into the telegram's bound Bits/Words slice, per §4.8's third
// bullet. The timeout timer has already been stopped by the T3.5 callback
// itself (§4.2).
func (m *Master) handleAnswer(t *Telegram) error {
	n := m.ring.Drain(m.frame[:])
	if n < 6 {
		return ErrBadSize
	}
	if err := ValidateAnswer(m.frame[:n]); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch t.Function {
	case FuncReadCoils, FuncReadDiscreteInputs:
		byteCount := int(m.frame[2])
		bits := unpackBits(m.frame[3:3+byteCount], int(t.Quantity))
		copy(t.Bits, bits)
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		for i := 0; i < int(t.Quantity); i++ {
			t.Words[i] = getU16BE(m.frame[3+i*2:])
		}
	}
	return ErrOKQuery
}

func (m *Master) recordError(err error) {
	m.statsMu.Lock()
	m.stats.ErrCount++
	m.stats.LastError = err
	m.statsMu.Unlock()
	m.logf("modbus: master: %v", err)
}
