// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package serialport opens the byte link to the amplifier.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/OpenPSG/adsrecorder/internal/ads"
	"github.com/OpenPSG/adsrecorder/internal/simulator"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultBaudRate is the speed of the amplifier's USB radio receiver.
	DefaultBaudRate = 460800

	// PortMock opens a simulated 8 channel device instead of a serial port.
	PortMock = "MOCK"
	// PortMock2 opens a simulated 2 channel device.
	PortMock2 = "MOCK2"
)

var (
	ErrPortBusy     = errors.New("port busy")
	ErrPortNotFound = errors.New("port not found")
)

// Open opens the named port in 8N1 mode. The mock port names return a
// simulated device.
func Open(name string, baudRate int) (io.ReadWriteCloser, error) {
	switch strings.ToUpper(name) {
	case PortMock:
		return simulator.New(ads.Type8Channel), nil
	case PortMock2:
		return simulator.New(ads.Type2Channel), nil
	}

	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, classify(err)
	}

	return port, nil
}

// Opener returns an Open function bound to a baud rate.
func Opener(baudRate int) func(name string) (io.ReadWriteCloser, error) {
	return func(name string) (io.ReadWriteCloser, error) {
		return Open(name, baudRate)
	}
}

// classify wraps serial library errors so that busy and missing ports can be
// told apart with errors.Is.
func classify(err error) error {
	var code serial.PortErrorCode
	var ptrErr *serial.PortError
	var valErr serial.PortError
	switch {
	case errors.As(err, &ptrErr):
		code = ptrErr.Code()
	case errors.As(err, &valErr):
		code = valErr.Code()
	default:
		return err
	}

	switch code {
	case serial.PortBusy:
		return fmt.Errorf("%w: %w", ErrPortBusy, err)
	case serial.PortNotFound:
		return fmt.Errorf("%w: %w", ErrPortNotFound, err)
	default:
		return err
	}
}

// PortInfo describes a serial port present on the system.
type PortInfo struct {
	Name         string
	USB          bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// List returns the serial ports present on the system, sorted by name.
func List() ([]PortInfo, error) {
	var ports []PortInfo

	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		for _, p := range details {
			ports = append(ports, PortInfo{
				Name:         p.Name,
				USB:          p.IsUSB,
				VID:          p.VID,
				PID:          p.PID,
				SerialNumber: p.SerialNumber,
				Product:      p.Product,
			})
		}
	} else {
		// Detailed enumeration is not available everywhere.
		names, err := serial.GetPortsList()
		if err != nil {
			return nil, fmt.Errorf("error listing ports: %w", err)
		}
		for _, name := range names {
			ports = append(ports, PortInfo{Name: name})
		}
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}
