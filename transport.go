// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rtu

import (
	"errors"
	"io"
	"os"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of go.bug.st/serial.Port (or a plain loopback device
// such as a pty, see internal/ptyloop) the engine needs to exchange RTU
// frames. hw_mode (byte-at-a-time vs DMA idle-line) is not a distinct code
// path here: both converge on whatever Read returns, unified behind the
// single RingBuffer handoff point recommended in the design notes.
type Port interface {
	io.Reader
	io.Writer
}

// Drainer is implemented by ports that can block until the last
// transmitted byte has actually left the shift register; go.bug.st/serial's
// Port does, via Drain. The send path calls it when available, standing in
// for the spec's busy-wait on the hardware TC status bit: releasing an
// RS-485 transceiver before the shift register drains truncates the last
// character on the wire.
type Drainer interface {
	Drain() error
}

// DirectionSetter is the host's RS-485 transceiver-direction GPIO.
// SetDirection(true) asserts transmit direction before a frame is sent;
// SetDirection(false) returns the line to receive once the frame has
// drained. A nil DirectionSetter means no direction line is configured
// (full-duplex wiring, or a transceiver with automatic direction control).
type DirectionSetter interface {
	SetDirection(transmit bool) error
}

// OpenSerial opens a real UART with go.bug.st/serial, 8 data bits, one
// stop bit, no parity — the framing every RTU instance in this engine
// assumes; callers needing even parity or two stop bits build their own
// serial.Mode and call serial.Open directly.
func OpenSerial(device string, baud int) (serial.Port, error) {
	return serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	})
}

// transmit appends the CRC to frame[:n], optionally toggles the direction
// line, writes the frame, and drains the port before releasing the
// direction line, per §4.6. It returns the transmitted length (including
// CRC).
func transmit(port Port, dir DirectionSetter, frame []byte, n int) (int, error) {
	n = appendCRC(frame, n)

	if dir != nil {
		if err := dir.SetDirection(true); err != nil {
			return 0, err
		}
	}

	_, err := port.Write(frame[:n])
	if d, ok := port.(Drainer); ok && err == nil {
		err = d.Drain()
	}

	if dir != nil {
		if dirErr := dir.SetDirection(false); dirErr != nil && err == nil {
			err = dirErr
		}
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// rxLoop is the reader goroutine shared by Master and Slave: it blocks on
// port.Read, pushes whatever bytes arrive into ring, and resets the T3.5
// timer — unifying the per-byte-interrupt and DMA-idle-line hardware modes
// behind the single ring-buffer handoff point the design notes call for.
// It returns when stop is closed or the port is closed out from under it.
func rxLoop(port Port, ring *RingBuffer, t35 *time.Timer, silence time.Duration, stop <-chan struct{}) {
	buf := make([]byte, ring.Capacity())
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := port.Read(buf)
		if n > 0 {
			for i := 0; i < n; i++ {
				ring.Push(buf[i])
			}
			t35.Reset(silence)
		}
		if err != nil {
			if isClosedErr(err) {
				return
			}
			// Transient read error (e.g. a configured read-deadline
			// timeout used only so this loop can observe stop):
			// keep receiving.
			continue
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed)
}

// closePort closes port if it implements io.Closer, best-effort. Stop calls
// this so rxLoop's blocking Read returns instead of leaking its goroutine:
// stop being closed is only checked between Read calls, not during one.
func closePort(port Port) {
	if c, ok := port.(io.Closer); ok {
		c.Close()
	}
}
