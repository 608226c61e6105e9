// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	rtu "github.com/lumberbarons/rtu-modbus"
)

// bankConfig is the JSON shape a slave's initial register values, optional
// per-address names, and optional response-delay/timeout injection are
// loaded from. A bank omitted from the file stays absent, except the
// holding-register bank, which defaults to 100 zeroed registers.
// The Named*/Delays sections mirror the teacher simulator's DataStoreConfig
// (RegisterConfig/CoilConfig/DelayConfigSet), adapted from a
// simulator-owned DataStore to this engine's host-owned RegisterBanks.
type bankConfig struct {
	Coils          []uint16 `json:"coils"`
	DiscreteInputs []uint16 `json:"discrete_inputs"`
	HoldingRegs    []uint16 `json:"holding_registers"`
	InputRegs      []uint16 `json:"input_registers"`

	NamedCoils          map[uint16]namedBit `json:"named_coils,omitempty"`
	NamedDiscreteInputs map[uint16]namedBit `json:"named_discrete_inputs,omitempty"`
	NamedHoldingRegs    map[uint16]namedReg `json:"named_holding_registers,omitempty"`
	NamedInputRegs      map[uint16]namedReg `json:"named_input_registers,omitempty"`

	Delays *delayConfigSet `json:"delays,omitempty"`
}

// namedReg and namedBit mirror the teacher simulator's RegisterConfig and
// CoilConfig: a name plus the address's initial value, so a single map
// entry both seeds a bank address and labels it for diagnostics.
type namedReg struct {
	Name  string `json:"name"`
	Value uint16 `json:"value"`
}

type namedBit struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

// delayJSON is one bank or address's artificial-latency/timeout settings,
// the JSON form of rtu.DelayConfig (whose Delay is a parsed time.Duration,
// not a string).
type delayJSON struct {
	Delay              string  `json:"delay,omitempty"`
	Jitter             int     `json:"jitter,omitempty"`
	TimeoutProbability float64 `json:"timeoutProbability,omitempty"`
}

func (d delayJSON) toConfig() (rtu.DelayConfig, error) {
	cfg := rtu.DelayConfig{Jitter: d.Jitter, TimeoutProbability: d.TimeoutProbability}
	if d.Delay != "" {
		dur, err := time.ParseDuration(d.Delay)
		if err != nil {
			return rtu.DelayConfig{}, fmt.Errorf("parse delay %q: %w", d.Delay, err)
		}
		cfg.Delay = dur
	}
	return cfg, nil
}

// delayConfigSet is the JSON shape of rtu.DelayConfigSet: a Global entry
// per bank name plus optional per-address overrides, adapted from the
// teacher simulator's DelayConfigSet (whose bank keys are RegisterType
// string constants; here they are the same four JSON bank names used
// above).
type delayConfigSet struct {
	Global         map[string]delayJSON `json:"global,omitempty"`
	Coils          map[uint16]delayJSON `json:"coils,omitempty"`
	DiscreteInputs map[uint16]delayJSON `json:"discrete_inputs,omitempty"`
	HoldingRegs    map[uint16]delayJSON `json:"holding_registers,omitempty"`
	InputRegs      map[uint16]delayJSON `json:"input_registers,omitempty"`
}

func bankKindByName(name string) (rtu.BankKind, bool) {
	switch name {
	case "coils":
		return rtu.BankCoils, true
	case "discrete_inputs":
		return rtu.BankDiscreteInputs, true
	case "holding_registers":
		return rtu.BankHoldingRegisters, true
	case "input_registers":
		return rtu.BankInputRegisters, true
	default:
		return 0, false
	}
}

func (s *delayConfigSet) toRTU() (*rtu.DelayConfigSet, error) {
	if s == nil {
		return nil, nil
	}
	out := &rtu.DelayConfigSet{}
	if len(s.Global) > 0 {
		out.Global = make(map[rtu.BankKind]rtu.DelayConfig, len(s.Global))
		for name, dj := range s.Global {
			kind, ok := bankKindByName(name)
			if !ok {
				return nil, fmt.Errorf("unknown bank %q in delays.global", name)
			}
			cfg, err := dj.toConfig()
			if err != nil {
				return nil, err
			}
			out.Global[kind] = cfg
		}
	}
	convertAddrs := func(m map[uint16]delayJSON) (map[uint16]rtu.DelayConfig, error) {
		if len(m) == 0 {
			return nil, nil
		}
		result := make(map[uint16]rtu.DelayConfig, len(m))
		for addr, dj := range m {
			cfg, err := dj.toConfig()
			if err != nil {
				return nil, err
			}
			result[addr] = cfg
		}
		return result, nil
	}

	var err error
	if out.Coils, err = convertAddrs(s.Coils); err != nil {
		return nil, err
	}
	if out.DiscreteInputs, err = convertAddrs(s.DiscreteInputs); err != nil {
		return nil, err
	}
	if out.HoldingRegs, err = convertAddrs(s.HoldingRegs); err != nil {
		return nil, err
	}
	if out.InputRegs, err = convertAddrs(s.InputRegs); err != nil {
		return nil, err
	}
	return out, nil
}

func main() {
	device := flag.String("device", "", "Serial device (e.g. /dev/ttyUSB0)")
	baud := flag.Int("baud", 19200, "Baud rate")
	slaveID := flag.Int("slave-id", 1, "Slave id (1-247)")
	configFile := flag.String("config", "", "JSON file with initial register values, names, and delays")
	flag.Parse()

	if *device == "" {
		log.Fatal("-device is required")
	}
	if *slaveID < 1 || *slaveID > 247 {
		log.Fatalf("invalid slave id %d: must be between 1 and 247", *slaveID)
	}

	banks, names, delays, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	port, err := rtu.OpenSerial(*device, *baud)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *device, err)
	}

	slave, err := rtu.NewSlave(rtu.SlaveConfig{
		StationID: byte(*slaveID),
		Port:      port,
		Banks:     banks,
		Names:     names,
		Delays:    delays,
		Logger:    log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to create slave: %v", err)
	}
	slave.Start()

	fmt.Printf("Modbus RTU slave running on %s\n", *device)
	fmt.Printf("Slave ID: %d, baud rate: %d\n", *slaveID, *baud)
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	slave.Stop()
	stats := slave.Stats()
	fmt.Printf("in=%d out=%d err=%d last=%v\n", stats.InCount, stats.OutCount, stats.ErrCount, stats.LastError)
}

// loadConfig reads filename (if non-empty) and builds the register banks,
// their optional name tables, and optional delay/timeout injection rules.
// Named entries grow their bank as needed so a sparse named register can be
// configured without also specifying the bank's full size.
func loadConfig(filename string) (*rtu.RegisterBanks, *rtu.RegisterNames, *rtu.DelayConfigSet, error) {
	cfg := bankConfig{
		HoldingRegs: make([]uint16, 100),
	}
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("read file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, nil, nil, fmt.Errorf("parse JSON: %w", err)
		}
	}

	banks := &rtu.RegisterBanks{
		Coils:          cfg.Coils,
		DiscreteInputs: cfg.DiscreteInputs,
		HoldingRegs:    cfg.HoldingRegs,
		InputRegs:      cfg.InputRegs,
	}
	var names *rtu.RegisterNames

	if len(cfg.NamedCoils) > 0 {
		names = ensureNames(names)
		names.Coils = make(map[uint16]string, len(cfg.NamedCoils))
		for addr, nb := range cfg.NamedCoils {
			banks.Coils = growBits(banks.Coils, addr)
			setBit(banks.Coils, addr, nb.Value)
			names.Coils[addr] = nb.Name
		}
	}
	if len(cfg.NamedDiscreteInputs) > 0 {
		names = ensureNames(names)
		names.DiscreteInputs = make(map[uint16]string, len(cfg.NamedDiscreteInputs))
		for addr, nb := range cfg.NamedDiscreteInputs {
			banks.DiscreteInputs = growBits(banks.DiscreteInputs, addr)
			setBit(banks.DiscreteInputs, addr, nb.Value)
			names.DiscreteInputs[addr] = nb.Name
		}
	}
	if len(cfg.NamedHoldingRegs) > 0 {
		names = ensureNames(names)
		names.HoldingRegs = make(map[uint16]string, len(cfg.NamedHoldingRegs))
		for addr, nr := range cfg.NamedHoldingRegs {
			banks.HoldingRegs = growWords(banks.HoldingRegs, addr)
			banks.HoldingRegs[addr] = nr.Value
			names.HoldingRegs[addr] = nr.Name
		}
	}
	if len(cfg.NamedInputRegs) > 0 {
		names = ensureNames(names)
		names.InputRegs = make(map[uint16]string, len(cfg.NamedInputRegs))
		for addr, nr := range cfg.NamedInputRegs {
			banks.InputRegs = growWords(banks.InputRegs, addr)
			banks.InputRegs[addr] = nr.Value
			names.InputRegs[addr] = nr.Name
		}
	}

	delays, err := cfg.Delays.toRTU()
	if err != nil {
		return nil, nil, nil, err
	}
	return banks, names, delays, nil
}

func ensureNames(names *rtu.RegisterNames) *rtu.RegisterNames {
	if names == nil {
		return &rtu.RegisterNames{}
	}
	return names
}

// growWords grows a word-per-address bank (holding/input registers) so
// index address is addressable.
func growWords(bank []uint16, address uint16) []uint16 {
	need := int(address) + 1
	if len(bank) >= need {
		return bank
	}
	grown := make([]uint16, need)
	copy(grown, bank)
	return grown
}

// growBits grows a bit-packed bank (coils/discrete inputs, 16 bits/word) so
// bit address is addressable.
func growBits(bank []uint16, address uint16) []uint16 {
	need := int(address)/16 + 1
	if len(bank) >= need {
		return bank
	}
	grown := make([]uint16, need)
	copy(grown, bank)
	return grown
}

func setBit(bank []uint16, address uint16, v bool) {
	if v {
		bank[address/16] |= 1 << (address % 16)
	} else {
		bank[address/16] &^= 1 << (address % 16)
	}
}
