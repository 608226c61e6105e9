// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package rtu

import (
	"math/rand/v2"
	"time"
)

// RegisterNames holds an optional human-readable name per address in each
// bank, for diagnostics — adapted from the teacher simulator's
// coilNames/discreteInputNames/holdingRegNames/inputRegNames maps, seeded
// from the same JSON config file as a bank's initial values rather than
// from simulator-only seed data.
type RegisterNames struct {
	Coils          map[uint16]string
	DiscreteInputs map[uint16]string
	HoldingRegs    map[uint16]string
	InputRegs      map[uint16]string
}

// name looks up the configured name of address in bank k, returning ""
// when names is nil or the address has none.
func (names *RegisterNames) name(k BankKind, address uint16) string {
	if names == nil {
		return ""
	}
	var table map[uint16]string
	switch k {
	case BankCoils:
		table = names.Coils
	case BankDiscreteInputs:
		table = names.DiscreteInputs
	case BankHoldingRegisters:
		table = names.HoldingRegs
	case BankInputRegisters:
		table = names.InputRegs
	}
	return table[address]
}

// DelayConfig describes an artificial response delay and/or timeout
// injected before a slave answers a request for one bank or one address,
// generalized from the teacher simulator's DelayConfig — useful for
// exercising a master's TIMEOUT path without real hardware flakiness.
type DelayConfig struct {
	// Delay is the added latency; zero means none. cmd/rtu-slave parses
	// it from a JSON string with time.ParseDuration (e.g. "50ms").
	Delay time.Duration
	// Jitter is a percentage (0-100) of Delay applied as uniform random
	// skew in both directions.
	Jitter int
	// TimeoutProbability, in [0,1], is the chance this request is
	// answered with silence instead of a response.
	TimeoutProbability float64
}

// DelayConfigSet is a SlaveConfig's optional table of DelayConfig, keyed
// per-bank (Global) with optional per-address overrides — the same
// two-level shape as the teacher simulator's DelayConfigSet, with
// RegisterType's four string constants replaced by this engine's own
// BankKind enum.
type DelayConfigSet struct {
	Global         map[BankKind]DelayConfig
	Coils          map[uint16]DelayConfig
	DiscreteInputs map[uint16]DelayConfig
	HoldingRegs    map[uint16]DelayConfig
	InputRegs      map[uint16]DelayConfig
}

// configFor returns the DelayConfig that applies to address in bank k: an
// address-specific override takes precedence over the bank's Global entry.
func (ds *DelayConfigSet) configFor(k BankKind, address uint16) (DelayConfig, bool) {
	var table map[uint16]DelayConfig
	switch k {
	case BankCoils:
		table = ds.Coils
	case BankDiscreteInputs:
		table = ds.DiscreteInputs
	case BankHoldingRegisters:
		table = ds.HoldingRegs
	case BankInputRegisters:
		table = ds.InputRegs
	}
	if cfg, ok := table[address]; ok {
		return cfg, true
	}
	if cfg, ok := ds.Global[k]; ok {
		return cfg, true
	}
	return DelayConfig{}, false
}

// apply sleeps for the configured (optionally jittered) delay and reports
// whether the slave should still answer, or stay silent to simulate a
// timeout — a nil-safe, BankKind-keyed port of the teacher simulator's
// ApplyDelayWithOptions. disableTimeout suppresses the timeout-probability
// check while still applying Delay/Jitter, mirroring the simulator's own
// parameter (used there to let PTY integration tests exercise latency
// without flaking on injected timeouts).
func (ds *DelayConfigSet) apply(k BankKind, address uint16, disableTimeout bool) bool {
	if ds == nil {
		return true
	}
	cfg, ok := ds.configFor(k, address)
	if !ok {
		return true
	}
	if !disableTimeout && cfg.TimeoutProbability > 0 {
		if rand.Float64() < cfg.TimeoutProbability {
			return false
		}
	}
	if cfg.Delay > 0 {
		delay := cfg.Delay
		if cfg.Jitter > 0 && cfg.Jitter <= 100 {
			jitterRange := float64(cfg.Delay) * (float64(cfg.Jitter) / 100.0)
			jitterAmount := (rand.Float64()*2 - 1) * jitterRange
			delay = cfg.Delay + time.Duration(jitterAmount)
			if delay < 0 {
				delay = 0
			}
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}
	return true
}

// requestTarget derives which bank and address a validated request frame
// addresses, for delay-injection lookups and name-aware logging. Every
// function code this engine supports places its target address at
// frame[2:4].
func requestTarget(frame []byte) (BankKind, uint16) {
	address := getU16BE(frame[2:4])
	switch frame[fieldFunc] {
	case FuncReadCoils, FuncWriteSingleCoil, FuncWriteMultipleCoils:
		return BankCoils, address
	case FuncReadDiscreteInputs:
		return BankDiscreteInputs, address
	case FuncReadInputRegisters:
		return BankInputRegisters, address
	default: // FuncReadHoldingRegisters, FuncWriteSingleRegister, FuncWriteMultipleRegisters
		return BankHoldingRegisters, address
	}
}
