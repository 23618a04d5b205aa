// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ads

// DataRecord is one decoded data frame: per enabled ADS channel samples,
// then accelerometer, battery and lead-off words, as described by Layout.
type DataRecord []int

// SignalKind tells what a signal of a data record carries.
type SignalKind int

const (
	SignalADS SignalKind = iota
	SignalAccelerometer
	SignalBattery
	SignalLeadOff
)

func (k SignalKind) String() string {
	switch k {
	case SignalADS:
		return "ads"
	case SignalAccelerometer:
		return "accelerometer"
	case SignalBattery:
		return "battery"
	case SignalLeadOff:
		return "lead-off"
	default:
		return "unknown"
	}
}

// SignalSlot locates one signal inside a DataRecord.
type SignalSlot struct {
	Kind    SignalKind
	Index   int // ADS channel number or accelerometer axis
	Offset  int // Position of the first sample in the record
	Samples int // Number of consecutive samples
}

// Layout is the ordered list of signals of a DataRecord.
type Layout struct {
	Signals []SignalSlot
	Size    int // Total number of ints in a record
}

// Layout computes the record layout produced by the decoder for this configuration.
func (c DeviceConfig) Layout() Layout {
	var l Layout
	add := func(kind SignalKind, index, samples int) {
		l.Signals = append(l.Signals, SignalSlot{Kind: kind, Index: index, Offset: l.Size, Samples: samples})
		l.Size += samples
	}

	for i, ch := range c.Channels {
		if ch.Enabled {
			add(SignalADS, i, c.SamplesPerFrame(i))
		}
	}
	if c.Accelerometer.Enabled {
		if c.Accelerometer.OneChannelMode {
			add(SignalAccelerometer, 0, 1)
		} else {
			for axis := 0; axis < 3; axis++ {
				add(SignalAccelerometer, axis, 1)
			}
		}
	}
	if c.BatteryMeasurementEnabled {
		add(SignalBattery, 0, 1)
	}
	if c.LeadOffEnabled() {
		add(SignalLeadOff, 0, 1)
	}

	return l
}

// Find returns the position in Signals of the first signal of the given kind, or -1.
func (l Layout) Find(kind SignalKind) int {
	for i, s := range l.Signals {
		if s.Kind == kind {
			return i
		}
	}
	return -1
}

// FrameSize returns the number of bytes of a data frame on the wire,
// markers included.
func (c DeviceConfig) FrameSize() int {
	size := 2 // start markers
	size += 2 // frame counter
	for i, ch := range c.Channels {
		if ch.Enabled {
			size += sampleBytes * c.SamplesPerFrame(i)
		}
	}
	if c.Accelerometer.Enabled {
		size += 3 * 2
	}
	if c.BatteryMeasurementEnabled {
		size += 2
	}
	if c.LeadOffEnabled() {
		size += c.leadOffBytes()
	}
	size++ // stop marker
	return size
}

func (c DeviceConfig) leadOffBytes() int {
	if c.DeviceType == Type8Channel {
		return 2
	}
	return 1
}
