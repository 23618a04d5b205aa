// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ads_test

import (
	"testing"

	"github.com/OpenPSG/adsrecorder/internal/ads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(d *ads.Decoder, data []byte) []ads.Frame {
	var frames []ads.Frame
	for _, b := range data {
		if f, ok := d.Feed(b); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

// frameData builds a frame where every sample is distinct and fits 24 bits.
func frameValues(cfg ads.DeviceConfig, counter uint16) ads.FrameValues {
	fd := ads.FrameValues{
		Counter: counter,
		Accel:   [3]int{10000 + int(counter), 11000, 12000 + 2*int(counter)},
		Battery: 7000,
		LeadOff: 0x0102,
	}
	v := -4000
	for i, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		samples := make([]int, cfg.SamplesPerFrame(i))
		for j := range samples {
			samples[j] = v
			v += 1237
		}
		fd.Channels = append(fd.Channels, samples)
	}
	if cfg.DeviceType == ads.Type2Channel {
		fd.LeadOff = 0x05
	}
	return fd
}

func allConfigs() []ads.DeviceConfig {
	var configs []ads.DeviceConfig
	for _, t := range []ads.DeviceType{ads.Type2Channel, ads.Type8Channel} {
		for mask := 0; mask < 16; mask++ {
			for _, div := range []ads.Divider{1, 2, 5, 10} {
				cfg := ads.DefaultConfig(t)
				cfg.Accelerometer.Enabled = mask&1 != 0
				cfg.Accelerometer.OneChannelMode = mask&2 != 0
				cfg.BatteryMeasurementEnabled = mask&4 != 0
				for i := range cfg.Channels {
					cfg.Channels[i].Divider = div
					cfg.Channels[i].LeadOffEnabled = mask&8 != 0
					cfg.Channels[i].Enabled = i%3 != 1
				}
				configs = append(configs, cfg)
			}
		}
	}
	return configs
}

func TestDecoderFrameSizeMatchesConsumedBytes(t *testing.T) {
	for _, cfg := range allConfigs() {
		require.NoError(t, cfg.Validate())

		raw, err := ads.EncodeDataFrame(cfg, frameValues(cfg, 7))
		require.NoError(t, err)
		require.Len(t, raw, cfg.FrameSize())

		d := ads.NewDecoder(&cfg)
		require.Equal(t, cfg.FrameSize(), d.DataFrameSize())

		for i, b := range raw {
			f, ok := d.Feed(b)
			if i < len(raw)-1 {
				require.False(t, ok, "frame completed early at byte %d", i)
				continue
			}
			require.True(t, ok)
			require.Equal(t, ads.FrameData, f.Kind)
			require.Len(t, f.Record, cfg.Layout().Size)
		}
	}
}

func TestDecoderRoundTrip(t *testing.T) {
	cfg := ads.DefaultConfig(ads.Type8Channel)
	cfg.NoiseDivider = 3
	cfg.Accelerometer.OneChannelMode = false
	cfg.Channels[2].Divider = 5
	cfg.Channels[3].Enabled = false
	cfg.Channels[0].LeadOffEnabled = true

	fd := frameValues(cfg, 42)
	raw, err := ads.EncodeDataFrame(cfg, fd)
	require.NoError(t, err)

	frames := feedAll(ads.NewDecoder(&cfg), raw)
	require.Len(t, frames, 1)
	require.Equal(t, uint16(42), frames[0].Counter)

	var expected ads.DataRecord
	for _, samples := range fd.Channels {
		for _, s := range samples {
			expected = append(expected, s/cfg.NoiseDivider)
		}
	}
	expected = append(expected, fd.Accel[:]...)
	expected = append(expected, fd.Battery, fd.LeadOff)

	assert.Equal(t, expected, frames[0].Record)
}

func TestDecoderNegativeSamples(t *testing.T) {
	cfg := ads.DefaultConfig(ads.Type2Channel)
	cfg.NoiseDivider = 1
	cfg.Accelerometer.Enabled = false
	cfg.BatteryMeasurementEnabled = false
	for i := range cfg.Channels {
		cfg.Channels[i].Divider = ads.MaxDivider
	}

	raw, err := ads.EncodeDataFrame(cfg, ads.FrameValues{Channels: [][]int{{-8388608}, {8388607}}})
	require.NoError(t, err)

	frames := feedAll(ads.NewDecoder(&cfg), raw)
	require.Len(t, frames, 1)
	assert.Equal(t, ads.DataRecord{-8388608, 8388607}, frames[0].Record)
}

func TestDecoderAccelerometerOneChannelMode(t *testing.T) {
	cfg := ads.DefaultConfig(ads.Type2Channel)
	cfg.BatteryMeasurementEnabled = false
	cfg.Channels[0].Enabled = false
	cfg.Channels[1].Enabled = false
	cfg.Accelerometer.OneChannelMode = true

	d := ads.NewDecoder(&cfg)

	first, err := ads.EncodeDataFrame(cfg, ads.FrameValues{Counter: 0, Accel: [3]int{100, 200, 300}})
	require.NoError(t, err)
	second, err := ads.EncodeDataFrame(cfg, ads.FrameValues{Counter: 1, Accel: [3]int{110, 190, 300}})
	require.NoError(t, err)

	frames := feedAll(d, append(first, second...))
	require.Len(t, frames, 2)
	assert.Equal(t, ads.DataRecord{600}, frames[0].Record)
	assert.Equal(t, ads.DataRecord{20}, frames[1].Record)
}

func TestDecoderLostFrames(t *testing.T) {
	cfg := ads.DefaultConfig(ads.Type2Channel)
	d := ads.NewDecoder(&cfg)

	var stream []byte
	for _, counter := range []uint16{0, 1, 3} {
		raw, err := ads.EncodeDataFrame(cfg, frameValues(cfg, counter))
		require.NoError(t, err)
		stream = append(stream, raw...)
	}

	frames := feedAll(d, stream)
	require.Len(t, frames, 3)
	assert.Equal(t, 0, frames[0].Lost)
	assert.Equal(t, 0, frames[1].Lost)
	assert.Equal(t, 1, frames[2].Lost)
	assert.Equal(t, uint16(3), frames[2].Counter)
}

func TestDecoderLostFramesWrap(t *testing.T) {
	cfg := ads.DefaultConfig(ads.Type2Channel)
	d := ads.NewDecoder(&cfg)

	var stream []byte
	for _, counter := range []uint16{65534, 65535, 0, 2, 2} {
		raw, err := ads.EncodeDataFrame(cfg, frameValues(cfg, counter))
		require.NoError(t, err)
		stream = append(stream, raw...)
	}

	frames := feedAll(d, stream)
	require.Len(t, frames, 5)
	lost := make([]int, len(frames))
	for i, f := range frames {
		lost[i] = f.Lost
	}
	assert.Equal(t, []int{0, 0, 0, 1, 0}, lost)
}

func TestDecoderResynchronizes(t *testing.T) {
	cfg := ads.DefaultConfig(ads.Type2Channel)
	d := ads.NewDecoder(&cfg)

	good, err := ads.EncodeDataFrame(cfg, frameValues(cfg, 1))
	require.NoError(t, err)

	corrupt := append([]byte{}, good...)
	corrupt[len(corrupt)-1] = 0x00 // Missing stop marker

	var stream []byte
	stream = append(stream, 0x01, 0x02)       // Noise before the first marker
	stream = append(stream, 0xAA, 0x13)       // Unknown frame type
	stream = append(stream, corrupt...)       // Broken data frame
	stream = append(stream, good...)          // Recovers on the next frame
	stream = append(stream, ads.EncodeHelloMessage()...)

	frames := feedAll(d, stream)
	require.Len(t, frames, 4)

	assert.Equal(t, ads.MessageFrameBroken, frames[0].Message.Type)
	assert.Contains(t, frames[0].Message.Info, "unexpected frame type")
	assert.Equal(t, ads.MessageFrameBroken, frames[1].Message.Type)
	assert.Contains(t, frames[1].Message.Info, "no stop marker")
	assert.Equal(t, ads.FrameData, frames[2].Kind)
	assert.Equal(t, ads.MessageHello, frames[3].Message.Type)
}

func TestDecoderMessages(t *testing.T) {
	tests := []struct {
		name       string
		raw        []byte
		typ        ads.MessageType
		deviceType ads.DeviceType
	}{
		{"ads2", ads.EncodeDeviceTypeMessage(ads.Type2Channel), ads.MessageDeviceType, ads.Type2Channel},
		{"ads8", ads.EncodeDeviceTypeMessage(ads.Type8Channel), ads.MessageDeviceType, ads.Type8Channel},
		{"hello", ads.EncodeHelloMessage(), ads.MessageHello, 0},
		{"low battery", ads.EncodeLowBatteryMessage(), ads.MessageLowBattery, 0},
		{"stop", ads.EncodeStopRecordingMessage(), ads.MessageStopRecording, 0},
		{"firmware", ads.EncodeMessage(0xA1, 0x01), ads.MessageFirmware, 0},
		{"tx fail", ads.EncodeMessage(0xA2, 0x00, 0x04), ads.MessageTxFail, 0},
		{"battery not low", ads.EncodeMessage(0xA3, 0x00, 0x00), ads.MessageUnknown, 0},
		{"unknown device", ads.EncodeMessage(0xA4, 0x05, 0x01), ads.MessageUnknown, 0},
		{"unknown marker", ads.EncodeMessage(0xB0), ads.MessageUnknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Messages are understood without a data configuration.
			frames := feedAll(ads.NewDecoder(nil), tt.raw)
			require.Len(t, frames, 1)
			require.Equal(t, ads.FrameMessage, frames[0].Kind)
			assert.Equal(t, tt.typ, frames[0].Message.Type)
			assert.Equal(t, tt.deviceType, frames[0].Message.DeviceType)
			if tt.typ == ads.MessageUnknown {
				assert.NotEmpty(t, frames[0].Message.Info)
			}
		})
	}
}

func TestDecoderRejectsOversizedMessage(t *testing.T) {
	d := ads.NewDecoder(nil)
	frames := feedAll(d, []byte{0xAA, 0xA5, 0x09})
	require.Len(t, frames, 1)
	assert.Equal(t, ads.MessageFrameBroken, frames[0].Message.Type)

	frames = feedAll(d, ads.EncodeDeviceTypeMessage(ads.Type8Channel))
	require.Len(t, frames, 1)
	assert.Equal(t, ads.MessageDeviceType, frames[0].Message.Type)
}

func TestDecoderWithoutConfigDropsDataFrames(t *testing.T) {
	cfg := ads.DefaultConfig(ads.Type2Channel)
	raw, err := ads.EncodeDataFrame(cfg, frameValues(cfg, 1))
	require.NoError(t, err)

	frames := feedAll(ads.NewDecoder(nil), raw)
	for _, f := range frames {
		assert.NotEqual(t, ads.FrameData, f.Kind)
	}
}

func TestDecoderReset(t *testing.T) {
	cfg := ads.DefaultConfig(ads.Type2Channel)
	d := ads.NewDecoder(&cfg)

	for _, counter := range []uint16{10, 20} {
		if counter == 20 {
			d.Reset()
		}
		raw, err := ads.EncodeDataFrame(cfg, frameValues(cfg, counter))
		require.NoError(t, err)
		frames := feedAll(d, raw)
		require.Len(t, frames, 1)
		assert.Equal(t, 0, frames[0].Lost)
	}
}
