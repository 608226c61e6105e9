// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	rtu "github.com/lumberbarons/rtu-modbus"
)

func main() {
	app := &cli.App{
		Name:  "rtu-master",
		Usage: "One-shot Modbus RTU master queries",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "device",
				Aliases:  []string{"d"},
				Usage:    "Serial device (e.g. /dev/ttyUSB0)",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "baud",
				Usage: "Baud rate",
				Value: 19200,
			},
			&cli.IntFlag{
				Name:     "slave-id",
				Aliases:  []string{"s"},
				Usage:    "Target slave id (1-247)",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Response timeout",
				Value: time.Second,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "read-coils",
				Usage: "Read coils (function code 1)",
				Flags: addressFlags(),
				Action: readAction(rtu.FuncReadCoils),
			},
			{
				Name:  "read-discrete-inputs",
				Usage: "Read discrete inputs (function code 2)",
				Flags: addressFlags(),
				Action: readAction(rtu.FuncReadDiscreteInputs),
			},
			{
				Name:  "read-holding-registers",
				Usage: "Read holding registers (function code 3)",
				Flags: addressFlags(),
				Action: readAction(rtu.FuncReadHoldingRegisters),
			},
			{
				Name:  "read-input-registers",
				Usage: "Read input registers (function code 4)",
				Flags: addressFlags(),
				Action: readAction(rtu.FuncReadInputRegisters),
			},
			{
				Name:  "write-coil",
				Usage: "Write a single coil (function code 5)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "address", Required: true},
					&cli.BoolFlag{Name: "value"},
				},
				Action: writeSingleCoilAction,
			},
			{
				Name:  "write-register",
				Usage: "Write a single register (function code 6)",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "address", Required: true},
					&cli.UintFlag{Name: "value", Required: true},
				},
				Action: writeSingleRegisterAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func addressFlags() []cli.Flag {
	return []cli.Flag{
		&cli.UintFlag{Name: "start", Usage: "Starting address", Required: true},
		&cli.UintFlag{Name: "count", Usage: "Quantity to read", Required: true},
	}
}

// syncOriginator blocks the CLI's goroutine until the master notifies
// completion of exactly one telegram.
type syncOriginator chan error

func (s syncOriginator) Notify(result error) { s <- result }

func newMaster(c *cli.Context) (*rtu.Master, error) {
	port, err := rtu.OpenSerial(c.String("device"), c.Int("baud"))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.String("device"), err)
	}
	m, err := rtu.NewMaster(rtu.MasterConfig{
		Port:            port,
		ResponseTimeout: c.Duration("timeout"),
	})
	if err != nil {
		return nil, err
	}
	m.Start()
	return m, nil
}

func readAction(function byte) cli.ActionFunc {
	return func(c *cli.Context) error {
		m, err := newMaster(c)
		if err != nil {
			return err
		}
		defer m.Stop()

		start := uint16(c.Uint("start"))
		count := uint16(c.Uint("count"))
		done := make(syncOriginator, 1)
		tg := &rtu.Telegram{
			StationID:  byte(c.Int("slave-id")),
			Function:   function,
			Address:    start,
			Quantity:   count,
			Originator: done,
		}
		switch function {
		case rtu.FuncReadCoils, rtu.FuncReadDiscreteInputs:
			tg.Bits = make([]bool, count)
		default:
			tg.Words = make([]uint16, count)
		}

		if err := m.Query(tg); err != nil {
			return err
		}
		if err := <-done; err != rtu.ErrOKQuery {
			return fmt.Errorf("query failed: %w", err)
		}

		if tg.Bits != nil {
			for i, v := range tg.Bits {
				fmt.Printf("0x%04X: %v\n", start+uint16(i), v)
			}
		} else {
			for i, v := range tg.Words {
				fmt.Printf("0x%04X: 0x%04X\n", start+uint16(i), v)
			}
		}
		return nil
	}
}

func writeSingleCoilAction(c *cli.Context) error {
	m, err := newMaster(c)
	if err != nil {
		return err
	}
	defer m.Stop()

	done := make(syncOriginator, 1)
	tg := &rtu.Telegram{
		StationID:  byte(c.Int("slave-id")),
		Function:   rtu.FuncWriteSingleCoil,
		Address:    uint16(c.Uint("address")),
		Quantity:   1,
		Bits:       []bool{c.Bool("value")},
		Originator: done,
	}
	if err := m.Query(tg); err != nil {
		return err
	}
	if err := <-done; err != rtu.ErrOKQuery {
		return fmt.Errorf("query failed: %w", err)
	}
	fmt.Println("ok")
	return nil
}

func writeSingleRegisterAction(c *cli.Context) error {
	m, err := newMaster(c)
	if err != nil {
		return err
	}
	defer m.Stop()

	done := make(syncOriginator, 1)
	tg := &rtu.Telegram{
		StationID:  byte(c.Int("slave-id")),
		Function:   rtu.FuncWriteSingleRegister,
		Address:    uint16(c.Uint("address")),
		Quantity:   1,
		Words:      []uint16{uint16(c.Uint("value"))},
		Originator: done,
	}
	if err := m.Query(tg); err != nil {
		return err
	}
	if err := <-done; err != rtu.ErrOKQuery {
		return fmt.Errorf("query failed: %w", err)
	}
	fmt.Println("ok")
	return nil
}
