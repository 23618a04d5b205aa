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
	"slices"
)

// FrameKind tells whether a decoded frame carries samples or a message.
type FrameKind int

const (
	FrameData FrameKind = iota
	FrameMessage
)

// Frame is the result of decoding one complete frame.
type Frame struct {
	Kind    FrameKind
	Record  DataRecord // Set for FrameData
	Counter uint16     // Frame counter of a data frame
	Lost    int        // Data frames missed since the previous one
	Message Message    // Set for FrameMessage
}

// Decoder is a byte-at-a-time state machine that splits the device stream
// into frames. It is not safe for concurrent use: exactly one goroutine may
// feed it.
type Decoder struct {
	cfg        *DeviceConfig
	dataSize   int
	recordSize int

	frame []byte
	size  int // Expected size of the frame in progress

	accPrev     [3]int
	prevCounter int
}

// NewDecoder creates a decoder for the given configuration. A nil
// configuration yields a decoder that understands message frames only, as
// used while the device is not recording.
func NewDecoder(cfg *DeviceConfig) *Decoder {
	d := &Decoder{
		frame:       make([]byte, 0, MaxMessageSize),
		prevCounter: -1,
	}
	if cfg != nil {
		c := cfg.Clone()
		d.cfg = &c
		d.dataSize = c.FrameSize()
		d.recordSize = c.Layout().Size
		d.frame = make([]byte, 0, max(d.dataSize, MaxMessageSize))
	}
	return d
}

// DataFrameSize returns the expected byte length of a data frame, or 0 when
// the decoder has no configuration.
func (d *Decoder) DataFrameSize() int {
	return d.dataSize
}

// Reset drops any frame in progress and forgets the frame counter and
// accelerometer history.
func (d *Decoder) Reset() {
	d.frame = d.frame[:0]
	d.size = 0
	d.prevCounter = -1
	d.accPrev = [3]int{}
}

// Feed consumes one byte. It returns a frame when the byte completes one.
// Malformed input never stops the decoder: the frame in progress is dropped
// and a MessageFrameBroken message is returned.
func (d *Decoder) Feed(b byte) (Frame, bool) {
	idx := len(d.frame)
	switch {
	case idx == 0:
		if b == StartMarker {
			d.frame = append(d.frame, b)
		}
		return Frame{}, false

	case idx == 1:
		switch b {
		case StartMarker:
			if d.cfg == nil {
				return d.broken("data frame while not configured", idx, b)
			}
			d.size = d.dataSize
		case MessageMarker:
			d.size = 0 // Known after the length byte
		default:
			return d.broken("unexpected frame type", idx, b)
		}
		d.frame = append(d.frame, b)
		return Frame{}, false

	case idx == 2 && d.frame[1] == MessageMarker:
		size := int(b)
		if size < minMessageSize || size > MaxMessageSize {
			return d.broken(fmt.Sprintf("invalid message size %d", size), idx, b)
		}
		d.size = size
		d.frame = append(d.frame, b)
		return Frame{}, false

	case idx < d.size-1:
		d.frame = append(d.frame, b)
		return Frame{}, false
	}

	// Last byte of the frame.
	if b != StopMarker {
		return d.broken("no stop marker", idx, b)
	}
	d.frame = append(d.frame, b)
	defer d.clear()

	if d.frame[1] == MessageMarker {
		return Frame{Kind: FrameMessage, Message: decodeMessage(d.frame)}, true
	}
	return d.decodeData(), true
}

func (d *Decoder) clear() {
	d.frame = d.frame[:0]
	d.size = 0
}

func (d *Decoder) broken(reason string, idx int, b byte) (Frame, bool) {
	err := &FrameSyncError{Reason: reason, Index: idx, Byte: b}
	raw := slices.Clone(d.frame)
	d.clear()
	return Frame{
		Kind: FrameMessage,
		Message: Message{
			Type: MessageFrameBroken,
			Info: err.Error(),
			Raw:  raw,
		},
	}, true
}

func decodeMessage(frame []byte) Message {
	msg := Message{Type: MessageUnknown, Raw: slices.Clone(frame)}
	at := func(i int) byte {
		if i < len(frame)-1 {
			return frame[i]
		}
		return 0
	}

	switch frame[3] {
	case markerHardwareConfig:
		switch DeviceType(at(4)) {
		case Type2Channel:
			msg.Type, msg.DeviceType = MessageDeviceType, Type2Channel
		case Type8Channel:
			msg.Type, msg.DeviceType = MessageDeviceType, Type8Channel
		default:
			msg.Info = fmt.Sprintf("unknown device type 0x%02X", at(4))
		}
	case markerLowBattery:
		if at(5) == 0x01 {
			msg.Type = MessageLowBattery
		}
	case markerHello:
		msg.Type = MessageHello
	case markerFirmware:
		msg.Type = MessageFirmware
	case markerTxFail:
		if at(5) == 0x04 {
			msg.Type = MessageTxFail
		}
	case markerStopRecording:
		msg.Type = MessageStopRecording
	}

	if msg.Type == MessageUnknown && msg.Info == "" {
		msg.Info = fmt.Sprintf("unknown message % X", frame)
	}
	return msg
}

func (d *Decoder) decodeData() Frame {
	cfg := d.cfg
	rec := make(DataRecord, 0, d.recordSize)
	p := d.frame[4:]

	for i, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		for j := 0; j < cfg.SamplesPerFrame(i); j++ {
			rec = append(rec, int24(p)/cfg.NoiseDivider)
			p = p[sampleBytes:]
		}
	}

	if cfg.Accelerometer.Enabled {
		var acc [3]int
		for i := range acc {
			acc[i] = uint16le(p)
			p = p[2:]
		}
		if cfg.Accelerometer.OneChannelMode {
			sum := 0
			for i := range acc {
				sum += abs(acc[i] - d.accPrev[i])
			}
			rec = append(rec, sum)
		} else {
			rec = append(rec, acc[:]...)
		}
		d.accPrev = acc
	}

	if cfg.BatteryMeasurementEnabled {
		rec = append(rec, uint16le(p))
		p = p[2:]
	}

	if cfg.LeadOffEnabled() {
		if cfg.leadOffBytes() == 2 {
			rec = append(rec, uint16le(p))
		} else {
			rec = append(rec, int(p[0]))
		}
	}

	counter := uint16(uint16le(d.frame[2:4]))
	return Frame{
		Kind:    FrameData,
		Record:  rec,
		Counter: counter,
		Lost:    d.lostFrames(int(counter)),
	}
}

// lostFrames returns how many counters were skipped since the previous frame.
func (d *Decoder) lostFrames(counter int) int {
	prev := d.prevCounter
	d.prevCounter = counter
	if prev < 0 {
		return 0
	}
	return max(0, (counter-prev+FrameCounterWrap)%FrameCounterWrap-1)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
