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
	"time"

	"github.com/OpenPSG/adsrecorder/internal/ads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeadOffBitMask8Channel(t *testing.T) {
	// Low byte bit 1 (negative electrode of channel 1), high byte bit 0
	// (positive electrode of channel 0).
	mask := ads.LeadOffBitMask(0b00000001_00000010, 8)
	require.Len(t, mask, 16)

	for i, off := range mask {
		switch i {
		case 0, 3:
			assert.True(t, off, "electrode %d", i)
		default:
			assert.False(t, off, "electrode %d", i)
		}
	}
}

func TestLeadOffBitMask8ChannelAllBits(t *testing.T) {
	for k := 0; k < 16; k++ {
		mask := ads.LeadOffBitMask(1<<k, 8)
		want := 2*k + 1
		if k >= 8 {
			want = 2 * (k - 8)
		}
		for i, off := range mask {
			assert.Equal(t, i == want, off, "bit %d electrode %d", k, i)
		}
	}
}

func TestLeadOffBitMask2Channel(t *testing.T) {
	assert.Equal(t, []bool{true, false, true, false}, ads.LeadOffBitMask(0b0101, 2))
	assert.Equal(t, []bool{false, true, false, true}, ads.LeadOffBitMask(0b1010, 2))
	assert.Equal(t, []bool{false, false, false, false}, ads.LeadOffBitMask(0, 2))
}

func TestBatteryPercent(t *testing.T) {
	assert.Equal(t, 0, ads.BatteryPercent(0))
	assert.Equal(t, 0, ads.BatteryPercent(ads.BatteryLowLevel))
	assert.Equal(t, 50, ads.BatteryPercent((ads.BatteryLowLevel+ads.BatteryFullLevel)/2))
	assert.Equal(t, 100, ads.BatteryPercent(ads.BatteryFullLevel))
	assert.Equal(t, 100, ads.BatteryPercent(65535))
}

func TestDeviceConfigValidate(t *testing.T) {
	cfg := ads.DefaultConfig(ads.Type8Channel)
	require.NoError(t, cfg.Validate())

	bad := cfg.Clone()
	bad.SampleRate = 750
	assert.Error(t, bad.Validate())

	bad = cfg.Clone()
	bad.Channels[3].Divider = 3
	assert.Error(t, bad.Validate())

	bad = cfg.Clone()
	bad.Channels[0].Gain = 5
	assert.Error(t, bad.Validate())

	bad = cfg.Clone()
	bad.Channels = bad.Channels[:2]
	assert.Error(t, bad.Validate())

	bad = cfg.Clone()
	bad.NoiseDivider = 0
	assert.Error(t, bad.Validate())

	bad = cfg.Clone()
	bad.Accelerometer.Enabled = false
	for i := range bad.Channels {
		bad.Channels[i].Enabled = false
	}
	assert.ErrorIs(t, bad.Validate(), ads.ErrNothingEnabled)

	bad = cfg.Clone()
	bad.DeviceType = ads.DeviceTypeUnknown
	assert.ErrorIs(t, bad.Validate(), ads.ErrUnknownDeviceType)
}

func TestDeviceConfigClone(t *testing.T) {
	cfg := ads.DefaultConfig(ads.Type2Channel)
	clone := cfg.Clone()
	clone.Channels[0].Enabled = false
	assert.True(t, cfg.Channels[0].Enabled)
}

func TestDeviceConfigDerived(t *testing.T) {
	cfg := ads.DefaultConfig(ads.Type2Channel)
	assert.False(t, cfg.LeadOffEnabled())

	cfg.Channels[1].LeadOffEnabled = true
	assert.True(t, cfg.LeadOffEnabled())

	cfg.Channels[1].Enabled = false
	assert.False(t, cfg.LeadOffEnabled())

	cfg.SampleRate = ads.SampleRate1000
	assert.Equal(t, 10*time.Millisecond, cfg.FrameDuration())

	cfg.Channels[0].Divider = 5
	assert.Equal(t, 200, cfg.ChannelSampleRate(0))
	assert.Equal(t, 2, cfg.SamplesPerFrame(0))
}

func TestLayout(t *testing.T) {
	cfg := ads.DefaultConfig(ads.Type2Channel)
	cfg.Channels[0].Divider = 2
	cfg.Channels[1].LeadOffEnabled = true
	cfg.Accelerometer.OneChannelMode = false

	l := cfg.Layout()
	require.Len(t, l.Signals, 7)
	assert.Equal(t, 5+10+3+1+1, l.Size)

	assert.Equal(t, ads.SignalSlot{Kind: ads.SignalADS, Index: 0, Offset: 0, Samples: 5}, l.Signals[0])
	assert.Equal(t, ads.SignalSlot{Kind: ads.SignalADS, Index: 1, Offset: 5, Samples: 10}, l.Signals[1])
	assert.Equal(t, ads.SignalSlot{Kind: ads.SignalAccelerometer, Index: 2, Offset: 17, Samples: 1}, l.Signals[4])
	assert.Equal(t, 5, l.Find(ads.SignalBattery))
	assert.Equal(t, 6, l.Find(ads.SignalLeadOff))

	cfg.BatteryMeasurementEnabled = false
	assert.Equal(t, -1, cfg.Layout().Find(ads.SignalBattery))
}

func TestDeviceTypeText(t *testing.T) {
	var dt ads.DeviceType
	require.NoError(t, dt.UnmarshalText([]byte("ADS8")))
	assert.Equal(t, ads.Type8Channel, dt)
	assert.Equal(t, 8, dt.ChannelCount())

	require.NoError(t, dt.UnmarshalText([]byte("2")))
	assert.Equal(t, ads.Type2Channel, dt)

	assert.ErrorIs(t, dt.UnmarshalText([]byte("ads4")), ads.ErrUnknownDeviceType)

	_, err := ads.DeviceTypeUnknown.MarshalText()
	assert.Error(t, err)
}
