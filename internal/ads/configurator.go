// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ads

import (
	"errors"
	"fmt"
)

// Configuration command layout:
//
//	F0 | length | F1 type rate div[0..n) flags | F2 addr count regs... | [F2 addr count regs...] | FE
//
// The F1 section drives the device controller (frame assembly), each F2
// section is a burst write of consecutive ADS registers and FE starts the
// acquisition.
const (
	cmdConfigure   byte = 0xF0
	sectController byte = 0xF1
	sectRegisters  byte = 0xF2
	cmdStart       byte = 0xFE
)

const (
	flagAccelerometer byte = 1 << 0
	flagAccOneChannel byte = 1 << 1
	flagBattery       byte = 1 << 2
	flagLeadOff       byte = 1 << 3

	channelPowerDown byte = 1 << 7
	muxNormal        byte = 0x00
	muxShorted       byte = 0x01
	muxTestSignal    byte = 0x05
	gainCodeShift         = 4
)

var errMalformedCommand = errors.New("malformed configuration command")

// Configurator builds the configuration command of a device type.
type Configurator interface {
	ConfigurationCommand(cfg DeviceConfig) ([]byte, error)
}

// ConfiguratorFor returns the configurator for the given device type.
func ConfiguratorFor(t DeviceType) (Configurator, error) {
	switch t {
	case Type2Channel:
		return configurator2Ch{}, nil
	case Type8Channel:
		return configurator8Ch{}, nil
	default:
		return nil, ErrUnknownDeviceType
	}
}

// ConfigurationCommand validates cfg and builds the command for its device type.
func ConfigurationCommand(cfg DeviceConfig) ([]byte, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := ConfiguratorFor(cfg.DeviceType)
	if err != nil {
		return nil, err
	}
	return c.ConfigurationCommand(cfg)
}

func sampleRateCode(r SampleRate) byte {
	for i, sr := range sampleRates {
		if sr == r {
			return byte(i)
		}
	}
	return 0
}

// gainCode maps a gain to the 3 bit PGA code shared by ADS1292 and ADS1298.
func gainCode(g Gain) byte {
	switch g {
	case 6:
		return 0
	case 1:
		return 1
	case 2:
		return 2
	case 3:
		return 3
	case 4:
		return 4
	case 8:
		return 5
	case 12:
		return 6
	default:
		return 0
	}
}

// channelSet builds a CHnSET register value.
func channelSet(ch ChannelConfig) byte {
	if !ch.Enabled {
		return channelPowerDown | muxShorted
	}
	v := gainCode(ch.Gain) << gainCodeShift
	switch ch.InputMode {
	case InputShort:
		v |= muxShorted
	case InputTestSignal:
		v |= muxTestSignal
	default:
		v |= muxNormal
	}
	return v
}

func anyTestSignal(cfg DeviceConfig) bool {
	for _, ch := range cfg.Channels {
		if ch.Enabled && ch.InputMode == InputTestSignal {
			return true
		}
	}
	return false
}

func anyRLDSense(cfg DeviceConfig) bool {
	for _, ch := range cfg.Channels {
		if ch.Enabled && ch.RLDSenseEnabled {
			return true
		}
	}
	return false
}

// controllerSection encodes the frame assembly parameters.
func controllerSection(cfg DeviceConfig) []byte {
	sect := []byte{sectController, byte(cfg.DeviceType), sampleRateCode(cfg.SampleRate)}
	for _, ch := range cfg.Channels {
		if ch.Enabled {
			sect = append(sect, byte(ch.Divider))
		} else {
			sect = append(sect, 0)
		}
	}

	var flags byte
	if cfg.Accelerometer.Enabled {
		flags |= flagAccelerometer
		if cfg.Accelerometer.OneChannelMode {
			flags |= flagAccOneChannel
		}
	}
	if cfg.BatteryMeasurementEnabled {
		flags |= flagBattery
	}
	if cfg.LeadOffEnabled() {
		flags |= flagLeadOff
	}
	return append(sect, flags)
}

func registerSection(addr byte, values ...byte) []byte {
	return append([]byte{sectRegisters, addr, byte(len(values))}, values...)
}

func assemble(sections ...[]byte) []byte {
	cmd := []byte{cmdConfigure, 0}
	for _, s := range sections {
		cmd = append(cmd, s...)
	}
	cmd = append(cmd, cmdStart)
	cmd[1] = byte(len(cmd))
	return cmd
}

// ParseConfigurationCommand recovers the frame layout parameters from a
// configuration command. Register sections are skipped, so gains, input modes
// and names are not restored. The result is enough to size and decode data
// frames.
func ParseConfigurationCommand(cmd []byte) (DeviceConfig, error) {
	var cfg DeviceConfig
	if len(cmd) < 6 || cmd[0] != cmdConfigure || int(cmd[1]) != len(cmd) || cmd[len(cmd)-1] != cmdStart {
		return cfg, errMalformedCommand
	}
	sect := cmd[2:]
	if sect[0] != sectController {
		return cfg, errMalformedCommand
	}

	cfg.DeviceType = DeviceType(sect[1])
	n := cfg.DeviceType.ChannelCount()
	if n == 0 {
		return cfg, fmt.Errorf("%w: %w", errMalformedCommand, ErrUnknownDeviceType)
	}
	if len(sect) < 4+n || int(sect[2]) >= len(sampleRates) {
		return cfg, errMalformedCommand
	}
	cfg.SampleRate = sampleRates[sect[2]]
	cfg.NoiseDivider = 1

	leadOff := sect[3+n]&flagLeadOff != 0
	for i := 0; i < n; i++ {
		div := Divider(sect[3+i])
		ch := ChannelConfig{Name: fmt.Sprintf("Channel %d", i+1), Divider: div, Gain: 1, Enabled: div != 0, LeadOffEnabled: leadOff}
		if !ch.Enabled {
			ch.Divider = MaxDivider
		}
		cfg.Channels = append(cfg.Channels, ch)
	}

	flags := sect[3+n]
	cfg.Accelerometer = AccelerometerConfig{
		Enabled:        flags&flagAccelerometer != 0,
		Divider:        MaxDivider,
		OneChannelMode: flags&flagAccOneChannel != 0,
	}
	cfg.BatteryMeasurementEnabled = flags&flagBattery != 0

	return cfg, cfg.Validate()
}

// IsConfigurationCommand reports whether b starts a configuration command.
func IsConfigurationCommand(b byte) bool {
	return b == cmdConfigure
}
