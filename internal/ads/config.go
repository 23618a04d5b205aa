// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package ads describes the ADS bio-signal amplifier: its configuration,
// wire protocol and the byte-stream frame decoder.
package ads

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// MaxDivider is the largest channel divider. It fixes the number of samples
// the fastest channel contributes to one data frame and therefore the
// duration of a frame.
const MaxDivider Divider = 10

var (
	// ErrUnknownDeviceType is returned for a device type other than 2 or 8 channels.
	ErrUnknownDeviceType = errors.New("unknown device type")

	// ErrNothingEnabled is returned when every channel and the accelerometer are disabled.
	ErrNothingEnabled = errors.New("all channels and accelerometer are disabled")
)

// DeviceType identifies the amplifier variant.
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = 0
	Type2Channel      DeviceType = 2
	Type8Channel      DeviceType = 8
)

// ChannelCount returns the number of ADS channels of the device type.
func (t DeviceType) ChannelCount() int {
	switch t {
	case Type2Channel, Type8Channel:
		return int(t)
	default:
		return 0
	}
}

func (t DeviceType) String() string {
	switch t {
	case Type2Channel:
		return "ads2"
	case Type8Channel:
		return "ads8"
	default:
		return "unknown"
	}
}

func (t DeviceType) MarshalText() ([]byte, error) {
	if t.ChannelCount() == 0 {
		return nil, ErrUnknownDeviceType
	}
	return []byte(t.String()), nil
}

func (t *DeviceType) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "ads2", "2":
		*t = Type2Channel
	case "ads8", "8":
		*t = Type8Channel
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDeviceType, string(text))
	}
	return nil
}

// SampleRate is the sampling frequency of the fastest channel, in samples per second.
type SampleRate int

const (
	SampleRate500  SampleRate = 500
	SampleRate1000 SampleRate = 1000
	SampleRate2000 SampleRate = 2000
)

var sampleRates = []SampleRate{SampleRate500, SampleRate1000, SampleRate2000}

func (r SampleRate) Valid() bool {
	return slices.Contains(sampleRates, r)
}

// Divider reduces a channel sample rate relative to the device sample rate.
type Divider int

var dividers = []Divider{1, 2, 5, 10}

func (d Divider) Valid() bool {
	return slices.Contains(dividers, d)
}

// Gain is the programmable amplifier gain of an ADS channel.
type Gain int

var gains = []Gain{1, 2, 3, 4, 6, 8, 12}

func (g Gain) Valid() bool {
	return slices.Contains(gains, g)
}

// InputMode selects what an ADS channel is connected to.
type InputMode int

const (
	InputNormal InputMode = iota
	InputShort
	InputTestSignal
)

func (m InputMode) String() string {
	switch m {
	case InputNormal:
		return "input"
	case InputShort:
		return "short"
	case InputTestSignal:
		return "test"
	default:
		return fmt.Sprintf("InputMode(%d)", int(m))
	}
}

func (m InputMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *InputMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "input", "":
		*m = InputNormal
	case "short":
		*m = InputShort
	case "test":
		*m = InputTestSignal
	default:
		return fmt.Errorf("unknown input mode %q", string(text))
	}
	return nil
}

// ChannelConfig is the configuration of a single ADS channel.
type ChannelConfig struct {
	Name            string    `yaml:"name"`
	Enabled         bool      `yaml:"enabled"`
	Divider         Divider   `yaml:"divider"`
	Gain            Gain      `yaml:"gain"`
	InputMode       InputMode `yaml:"inputMode"`
	LeadOffEnabled  bool      `yaml:"leadOff"`
	RLDSenseEnabled bool      `yaml:"rldSense"`
	Filter50Hz      bool      `yaml:"filter50Hz"` // Applied by the recorder, not by the device
}

// AccelerometerConfig configures the built-in three axis accelerometer.
type AccelerometerConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Divider        Divider `yaml:"divider"`
	OneChannelMode bool    `yaml:"oneChannelMode"` // Sum of axis movement instead of three axes
}

// DeviceConfig is the configuration sent to the device when a recording starts.
type DeviceConfig struct {
	DeviceType                DeviceType          `yaml:"deviceType"`
	SampleRate                SampleRate          `yaml:"sampleRate"`
	Channels                  []ChannelConfig     `yaml:"channels"`
	Accelerometer             AccelerometerConfig `yaml:"accelerometer"`
	BatteryMeasurementEnabled bool                `yaml:"batteryMeasurement"`
	NoiseDivider              int                 `yaml:"noiseDivider"`
}

// DefaultConfig returns a configuration with every channel enabled at the
// device sample rate.
func DefaultConfig(t DeviceType) DeviceConfig {
	cfg := DeviceConfig{
		DeviceType: t,
		SampleRate: SampleRate500,
		Accelerometer: AccelerometerConfig{
			Enabled:        true,
			Divider:        MaxDivider,
			OneChannelMode: true,
		},
		BatteryMeasurementEnabled: true,
		NoiseDivider:              2,
	}
	for i := 0; i < t.ChannelCount(); i++ {
		cfg.Channels = append(cfg.Channels, ChannelConfig{
			Name:       fmt.Sprintf("Channel %d", i+1),
			Enabled:    true,
			Divider:    1,
			Gain:       6,
			InputMode:  InputNormal,
			Filter50Hz: true,
		})
	}
	return cfg
}

// Clone returns a deep copy of the configuration.
func (c DeviceConfig) Clone() DeviceConfig {
	c.Channels = slices.Clone(c.Channels)
	return c
}

// Validate checks the configuration against the device constraints.
func (c DeviceConfig) Validate() error {
	n := c.DeviceType.ChannelCount()
	if n == 0 {
		return ErrUnknownDeviceType
	}
	if len(c.Channels) != n {
		return fmt.Errorf("expected %d channels for %s, got %d", n, c.DeviceType, len(c.Channels))
	}
	if !c.SampleRate.Valid() {
		return fmt.Errorf("unsupported sample rate: %d", c.SampleRate)
	}
	if c.NoiseDivider < 1 {
		return fmt.Errorf("noise divider must be positive, got %d", c.NoiseDivider)
	}

	anyEnabled := c.Accelerometer.Enabled
	for i, ch := range c.Channels {
		if !ch.Divider.Valid() {
			return fmt.Errorf("channel %d: unsupported divider: %d", i, ch.Divider)
		}
		if !ch.Gain.Valid() {
			return fmt.Errorf("channel %d: unsupported gain: %d", i, ch.Gain)
		}
		anyEnabled = anyEnabled || ch.Enabled
	}
	if d := c.Accelerometer.Divider; c.Accelerometer.Enabled && d != 0 && d != MaxDivider {
		return fmt.Errorf("accelerometer divider must be %d, got %d", MaxDivider, c.Accelerometer.Divider)
	}
	if !anyEnabled {
		return ErrNothingEnabled
	}

	return nil
}

// LeadOffEnabled reports whether any enabled channel has lead-off detection on.
func (c DeviceConfig) LeadOffEnabled() bool {
	for _, ch := range c.Channels {
		if ch.Enabled && ch.LeadOffEnabled {
			return true
		}
	}
	return false
}

// FrameDuration is the time covered by one data frame.
func (c DeviceConfig) FrameDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(MaxDivider) * time.Second / time.Duration(c.SampleRate)
}

// ChannelSampleRate returns the sample rate of ADS channel i.
func (c DeviceConfig) ChannelSampleRate(i int) int {
	return int(c.SampleRate) / int(c.Channels[i].Divider)
}

// SamplesPerFrame returns how many samples ADS channel i contributes to a frame.
func (c DeviceConfig) SamplesPerFrame(i int) int {
	return int(MaxDivider / c.Channels[i].Divider)
}
