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
	"fmt"
)

// Frame markers.
const (
	StartMarker   byte = 0xAA
	MessageMarker byte = 0xA5
	StopMarker    byte = 0x55
)

// Message type markers, found at offset 3 of a message frame.
const (
	markerHello          byte = 0xA0
	markerFirmware       byte = 0xA1
	markerTxFail         byte = 0xA2
	markerLowBattery     byte = 0xA3
	markerHardwareConfig byte = 0xA4
	markerStopRecording  byte = 0xA5
)

// Single byte commands understood by the device.
const (
	CmdHardwareRequest byte = 0xFA
	CmdPing            byte = 0xFB
	CmdHello           byte = 0xFD
	CmdStop            byte = 0xFF
)

const (
	sampleBytes = 3

	// MaxMessageSize is the largest message frame, markers included.
	MaxMessageSize = 7
	minMessageSize = 5

	// FrameCounterWrap is the modulus of the 2-byte data frame counter.
	FrameCounterWrap = 1 << 16
)

// Battery voltage levels, in raw device units, mapped to 0% and 100%.
const (
	BatteryLowLevel  = 5800
	BatteryFullLevel = 8000
)

// MessageType classifies a message frame.
type MessageType int

const (
	MessageUnknown MessageType = iota
	MessageHello
	MessageStopRecording
	MessageLowBattery
	MessageDeviceType
	MessageFirmware
	MessageTxFail
	MessageFrameBroken
)

func (t MessageType) String() string {
	switch t {
	case MessageHello:
		return "hello"
	case MessageStopRecording:
		return "stop-recording"
	case MessageLowBattery:
		return "low-battery"
	case MessageDeviceType:
		return "device-type"
	case MessageFirmware:
		return "firmware"
	case MessageTxFail:
		return "tx-fail"
	case MessageFrameBroken:
		return "frame-broken"
	default:
		return "unknown"
	}
}

// Message is a decoded non-data frame.
type Message struct {
	Type       MessageType
	DeviceType DeviceType // Set for MessageDeviceType
	Info       string
	Raw        []byte
}

// FrameSyncError describes a malformed byte sequence. The decoder reports it
// inside a MessageFrameBroken message and resynchronizes.
type FrameSyncError struct {
	Reason string
	Index  int  // Position within the frame
	Byte   byte // Offending byte
}

func (e *FrameSyncError) Error() string {
	return fmt.Sprintf("%s: byte 0x%02X at frame index %d", e.Reason, e.Byte, e.Index)
}

// LeadOffBitMask expands the lead-off word of a data record to one flag per
// electrode. For channel i, element 2i is the positive electrode and 2i+1 the
// negative one; true means the electrode is off.
//
// The 2 channel device reports bits in that order. The 8 channel device
// reports negative electrodes in the low byte and positive electrodes in the
// high byte.
func LeadOffBitMask(value int, channels int) []bool {
	mask := make([]bool, 2*channels)
	for k := range mask {
		if (value>>k)&1 == 0 {
			continue
		}
		switch {
		case channels != 8:
			mask[k] = true
		case k < 8:
			mask[2*k+1] = true
		default:
			mask[2*(k-8)] = true
		}
	}
	return mask
}

// BatteryPercent converts a raw battery sample to a charge level in percent.
func BatteryPercent(raw int) int {
	p := (raw - BatteryLowLevel) * 100 / (BatteryFullLevel - BatteryLowLevel)
	return max(0, min(100, p))
}

// EncodeMessage builds a message frame with the given type marker and payload.
func EncodeMessage(marker byte, payload ...byte) []byte {
	size := 4 + len(payload) + 1
	frame := make([]byte, 0, size)
	frame = append(frame, StartMarker, MessageMarker, byte(size), marker)
	frame = append(frame, payload...)
	return append(frame, StopMarker)
}

// EncodeDeviceTypeMessage builds the reply to a hardware request.
func EncodeDeviceTypeMessage(t DeviceType) []byte {
	return EncodeMessage(markerHardwareConfig, byte(t), 0x01)
}

// EncodeLowBatteryMessage builds the low battery notification.
func EncodeLowBatteryMessage() []byte {
	return EncodeMessage(markerLowBattery, 0x00, 0x01)
}

// EncodeHelloMessage builds the reply to a hello command.
func EncodeHelloMessage() []byte {
	return EncodeMessage(markerHello)
}

// EncodeStopRecordingMessage builds the acknowledgement of a stop command.
func EncodeStopRecordingMessage() []byte {
	return EncodeMessage(markerStopRecording)
}

// FrameValues holds the raw values carried by one data frame.
type FrameValues struct {
	Counter  uint16
	Channels [][]int // Per enabled ADS channel, 24-bit values before noise division
	Accel    [3]int
	Battery  int
	LeadOff  int
}

// EncodeDataFrame serializes a data frame exactly as the device sends it.
func EncodeDataFrame(cfg DeviceConfig, fd FrameValues) ([]byte, error) {
	frame := make([]byte, 0, cfg.FrameSize())
	frame = append(frame, StartMarker, StartMarker, byte(fd.Counter), byte(fd.Counter>>8))

	enabled := 0
	for i, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		if enabled >= len(fd.Channels) {
			return nil, fmt.Errorf("missing samples for channel %d", i)
		}
		samples := fd.Channels[enabled]
		if len(samples) != cfg.SamplesPerFrame(i) {
			return nil, fmt.Errorf("channel %d: expected %d samples, got %d", i, cfg.SamplesPerFrame(i), len(samples))
		}
		for _, s := range samples {
			frame = append(frame, byte(s), byte(s>>8), byte(s>>16))
		}
		enabled++
	}
	if cfg.Accelerometer.Enabled {
		for _, a := range fd.Accel {
			frame = append(frame, byte(a), byte(a>>8))
		}
	}
	if cfg.BatteryMeasurementEnabled {
		frame = append(frame, byte(fd.Battery), byte(fd.Battery>>8))
	}
	if cfg.LeadOffEnabled() {
		frame = append(frame, byte(fd.LeadOff))
		if cfg.leadOffBytes() == 2 {
			frame = append(frame, byte(fd.LeadOff>>8))
		}
	}

	return append(frame, StopMarker), nil
}

// int24 decodes a little-endian signed 24-bit value.
func int24(b []byte) int {
	v := int(b[0]) | int(b[1])<<8 | int(b[2])<<16
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v
}

// uint16le decodes a little-endian unsigned 16-bit value.
func uint16le(b []byte) int {
	return int(b[0]) | int(b[1])<<8
}
