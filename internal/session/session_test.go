// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package session_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/OpenPSG/adsrecorder/internal/ads"
	"github.com/OpenPSG/adsrecorder/internal/serialport"
	"github.com/OpenPSG/adsrecorder/internal/session"
	"github.com/OpenPSG/adsrecorder/internal/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func fastTiming() session.Timing {
	return session.Timing{
		Tick:            5 * time.Millisecond,
		MonitorPeriod:   20 * time.Millisecond,
		PingPeriod:      20 * time.Millisecond,
		HardwareRequest: 20 * time.Millisecond,
		StartTimeout:    300 * time.Millisecond,
		ActiveWindow:    200 * time.Millisecond,
		DataTimeout:     100 * time.Millisecond,
	}
}

func connect(t *testing.T, dev *simulator.Device) *session.Session {
	t.Helper()

	s := session.New(
		session.WithTiming(fastTiming()),
		session.WithOpener(func(string) (io.ReadWriteCloser, error) { return dev, nil }),
	)
	require.NoError(t, s.Connect(context.Background(), "sim"))
	t.Cleanup(s.Close)

	return s
}

func waitDeviceType(t *testing.T, s *session.Session, want ads.DeviceType) {
	t.Helper()
	require.Eventually(t, func() bool { return s.DeviceType() == want }, waitFor, 5*time.Millisecond)
}

func waitEvent(t *testing.T, ch chan interface{}, typ session.EventType) session.Event {
	t.Helper()

	timeout := time.After(waitFor)
	for {
		select {
		case msg, ok := <-ch:
			require.True(t, ok, "subscription closed")
			if ev := msg.(session.Event); ev.Type == typ {
				return ev
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for event", string(typ))
		}
	}
}

type collector struct {
	mu      sync.Mutex
	records []ads.DataRecord
}

func (c *collector) handle(rec ads.DataRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *collector) get() []ads.DataRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ads.DataRecord(nil), c.records...)
}

func counterGenerator(counter uint16, channel, sample int) int {
	return int(counter)*100 + channel*10 + sample
}

func TestConnectMonitorsDevice(t *testing.T) {
	dev := simulator.New(ads.Type8Channel)
	s := connect(t, dev)

	require.Equal(t, session.StateStopped, s.State())
	require.Equal(t, "sim", s.PortName())

	waitDeviceType(t, s, ads.Type8Channel)
	require.True(t, s.IsActive())
	require.False(t, s.IsRecording())

	require.Eventually(t, func() bool {
		return dev.CountCommand(ads.CmdHardwareRequest) >= 3
	}, waitFor, 5*time.Millisecond)
	require.Zero(t, dev.CountCommand(ads.CmdPing))
}

func TestConnectErrors(t *testing.T) {
	tests := []struct {
		err  error
		kind session.ConnectionErrorKind
	}{
		{fmt.Errorf("%w: in use", serialport.ErrPortBusy), session.ConnectionBusy},
		{fmt.Errorf("%w: gone", serialport.ErrPortNotFound), session.ConnectionNotFound},
		{io.ErrUnexpectedEOF, session.ConnectionOther},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			s := session.New(session.WithOpener(func(string) (io.ReadWriteCloser, error) { return nil, tt.err }))
			t.Cleanup(s.Close)

			err := s.Connect(context.Background(), "/dev/ttyUSB9")

			var cerr *session.ConnectionError
			require.ErrorAs(t, err, &cerr)
			require.Equal(t, tt.kind, cerr.Kind)
			require.Equal(t, "/dev/ttyUSB9", cerr.Port)
			require.ErrorIs(t, err, tt.err)
			require.Equal(t, session.StateUndefined, s.State())
		})
	}
}

func TestStartAndStopRecording(t *testing.T) {
	dev := simulator.New(ads.Type8Channel, simulator.WithFramePeriod(2*time.Millisecond))
	s := connect(t, dev)
	waitDeviceType(t, s, ads.Type8Channel)

	var c collector
	s.SetDataHandler(c.handle)
	events := s.Subscribe(session.EventRecordingStarted, session.EventRecordingStopped)

	cfg := ads.DefaultConfig(ads.Type8Channel)
	res, err := s.StartRecording(cfg)
	require.NoError(t, err)
	require.Equal(t, session.StartSuccess, res)

	waitEvent(t, events, session.EventRecordingStarted)
	require.Equal(t, session.StateRecording, s.State())
	require.True(t, s.IsRecording())

	require.Eventually(t, func() bool { return c.len() >= 10 }, waitFor, 5*time.Millisecond)
	for _, rec := range c.get() {
		require.Len(t, rec, cfg.Layout().Size)
	}

	require.Eventually(t, func() bool {
		return dev.CountCommand(ads.CmdPing) >= 2
	}, waitFor, 5*time.Millisecond)

	res, err = s.StartRecording(cfg)
	require.NoError(t, err)
	require.Equal(t, session.StartAlreadyRecording, res)

	require.True(t, s.StopRecording())
	waitEvent(t, events, session.EventRecordingStopped)
	require.Equal(t, session.StateStopped, s.State())
	require.Eventually(t, func() bool { return !dev.Streaming() }, waitFor, 5*time.Millisecond)

	// A stop precedes the configuration, which is sent exactly once.
	cmd, err := ads.ConfigurationCommand(cfg)
	require.NoError(t, err)

	var configs, stopBefore int
	for _, sent := range dev.Commands() {
		switch {
		case len(sent) > 1:
			require.Equal(t, cmd, sent)
			configs++
		case sent[0] == ads.CmdStop && configs == 0:
			stopBefore++
		}
	}
	require.Equal(t, 1, configs)
	require.Equal(t, 1, stopBefore)
}

func TestStartBeforeDeviceTypeKnown(t *testing.T) {
	dev := simulator.New(ads.Type2Channel, simulator.WithFramePeriod(2*time.Millisecond))
	s := connect(t, dev)
	events := s.Subscribe(session.EventRecordingStarted)

	res, err := s.StartRecording(ads.DefaultConfig(ads.Type2Channel))
	require.NoError(t, err)
	require.Equal(t, session.StartSuccess, res)

	waitEvent(t, events, session.EventRecordingStarted)
	require.Equal(t, ads.Type2Channel, s.DeviceType())
}

func TestStartTimeout(t *testing.T) {
	dev := simulator.New(ads.Type8Channel, simulator.WithoutHardwareReply())
	s := connect(t, dev)
	events := s.Subscribe(session.EventStartCancelled, session.EventRecordingStarted)

	res, err := s.StartRecording(ads.DefaultConfig(ads.Type8Channel))
	require.NoError(t, err)
	require.Equal(t, session.StartSuccess, res)
	require.Equal(t, session.StateStarting, s.State())

	ev := waitEvent(t, events, session.EventStartCancelled)
	require.ErrorIs(t, ev.Err, session.ErrStartTimeout)
	require.Equal(t, session.StateStopped, s.State())

	// Hardware requests were repeated while waiting.
	require.GreaterOrEqual(t, dev.CountCommand(ads.CmdHardwareRequest), 3)

	// Nothing else follows.
	select {
	case msg := <-events:
		require.FailNow(t, "unexpected event", "%+v", msg)
	case <-time.After(3 * fastTiming().StartTimeout):
	}
	require.Equal(t, session.StateStopped, s.State())
}

func TestStartWrongDeviceType(t *testing.T) {
	dev := simulator.New(ads.Type2Channel)
	s := connect(t, dev)
	waitDeviceType(t, s, ads.Type2Channel)

	res, err := s.StartRecording(ads.DefaultConfig(ads.Type8Channel))
	require.ErrorIs(t, err, session.ErrWrongDeviceType)
	require.Equal(t, session.StartWrongDeviceType, res)
	require.Equal(t, session.StateStopped, s.State())
	require.Zero(t, dev.CountCommand(ads.CmdStop))
}

func TestStartInvalidConfiguration(t *testing.T) {
	dev := simulator.New(ads.Type8Channel)
	s := connect(t, dev)

	cfg := ads.DefaultConfig(ads.Type8Channel)
	cfg.SampleRate = 123

	res, err := s.StartRecording(cfg)
	require.Error(t, err)
	require.Equal(t, session.StartFailedToSendCommand, res)
	require.Equal(t, session.StateStopped, s.State())
}

func TestStartNotConnected(t *testing.T) {
	s := session.New()
	t.Cleanup(s.Close)

	res, err := s.StartRecording(ads.DefaultConfig(ads.Type8Channel))
	require.ErrorIs(t, err, session.ErrNotConnected)
	require.Equal(t, session.StartFailedToSendCommand, res)
	require.False(t, s.StopRecording())
}

func TestStopWhileStarting(t *testing.T) {
	dev := simulator.New(ads.Type8Channel, simulator.WithoutHardwareReply())
	s := connect(t, dev)
	events := s.Subscribe(session.EventStartCancelled)

	_, err := s.StartRecording(ads.DefaultConfig(ads.Type8Channel))
	require.NoError(t, err)

	require.True(t, s.StopRecording())
	ev := waitEvent(t, events, session.EventStartCancelled)
	require.ErrorIs(t, ev.Err, session.ErrStartCancelled)
	require.Equal(t, session.StateStopped, s.State())
}

func TestDisconnectWhileStarting(t *testing.T) {
	dev := simulator.New(ads.Type8Channel, simulator.WithoutHardwareReply())
	s := connect(t, dev)
	events := s.Subscribe(session.EventStartCancelled)

	result, err := s.StartRecording(ads.DefaultConfig(ads.Type8Channel))
	require.NoError(t, err)
	require.Equal(t, session.StartSuccess, result)
	require.Equal(t, session.StateStarting, s.State())

	require.True(t, s.Disconnect())
	ev := waitEvent(t, events, session.EventStartCancelled)
	require.ErrorIs(t, ev.Err, session.ErrNotConnected)
	require.Equal(t, session.StateUndefined, ev.State)
	require.Equal(t, session.StateUndefined, s.State())
}

func TestLostFramesReplayed(t *testing.T) {
	dev := simulator.New(ads.Type8Channel,
		simulator.WithFramePeriod(2*time.Millisecond),
		simulator.WithFrameLimit(4),
		simulator.WithSkippedCounters(2),
		simulator.WithGenerator(counterGenerator),
	)
	s := connect(t, dev)
	waitDeviceType(t, s, ads.Type8Channel)

	var c collector
	s.SetDataHandler(c.handle)

	cfg := ads.DefaultConfig(ads.Type8Channel)
	cfg.NoiseDivider = 1
	_, err := s.StartRecording(cfg)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.len() == 5 }, waitFor, 5*time.Millisecond)

	records := c.get()
	first := func(rec ads.DataRecord) int { return rec[0] }
	assert.Equal(t, 0, first(records[0]))
	assert.Equal(t, 100, first(records[1]))
	assert.Equal(t, 300, first(records[2]))
	assert.Equal(t, 300, first(records[3]))
	assert.Equal(t, 400, first(records[4]))
	assert.Equal(t, records[2], records[3])
}

func TestTelemetrySnapshots(t *testing.T) {
	dev := simulator.New(ads.Type8Channel,
		simulator.WithFramePeriod(2*time.Millisecond),
		simulator.WithBattery(6900),
		simulator.WithLeadOff(0x0102),
	)
	s := connect(t, dev)
	waitDeviceType(t, s, ads.Type8Channel)
	events := s.Subscribe(session.EventLeadOff, session.EventBattery)

	_, ok := s.Battery()
	require.False(t, ok)

	cfg := ads.DefaultConfig(ads.Type8Channel)
	cfg.Channels[0].LeadOffEnabled = true
	_, err := s.StartRecording(cfg)
	require.NoError(t, err)

	ev := waitEvent(t, events, session.EventLeadOff)
	require.Len(t, ev.LeadOff, 16)

	require.Eventually(t, func() bool {
		_, ok := s.Battery()
		return ok
	}, waitFor, 5*time.Millisecond)

	level, _ := s.Battery()
	require.Equal(t, 50, level)

	mask := s.LeadOff()
	for i, off := range mask {
		require.Equal(t, i == 0 || i == 3, off, "electrode %d", i)
	}
}

func TestLowBatteryEvent(t *testing.T) {
	dev := simulator.New(ads.Type8Channel)
	s := connect(t, dev)
	waitDeviceType(t, s, ads.Type8Channel)
	events := s.Subscribe(session.EventLowBattery)

	dev.SendLowBattery()
	ev := waitEvent(t, events, session.EventLowBattery)
	require.Equal(t, ads.MessageLowBattery, ev.Message.Type)
}

func TestConnectionLost(t *testing.T) {
	dev := simulator.New(ads.Type8Channel,
		simulator.WithFramePeriod(2*time.Millisecond),
		simulator.WithFrameLimit(3),
	)
	s := connect(t, dev)
	waitDeviceType(t, s, ads.Type8Channel)
	events := s.Subscribe(session.EventConnectionLost)

	_, err := s.StartRecording(ads.DefaultConfig(ads.Type8Channel))
	require.NoError(t, err)

	ev := waitEvent(t, events, session.EventConnectionLost)
	require.Equal(t, session.StateRecording, ev.State)
}

func TestPortClosedByDevice(t *testing.T) {
	links := []*simulator.Device{simulator.New(ads.Type8Channel), simulator.New(ads.Type8Channel)}
	var opened int
	s := session.New(
		session.WithTiming(fastTiming()),
		session.WithOpener(func(string) (io.ReadWriteCloser, error) {
			dev := links[opened]
			opened++
			return dev, nil
		}),
	)
	t.Cleanup(s.Close)
	require.NoError(t, s.Connect(context.Background(), "sim"))
	waitDeviceType(t, s, ads.Type8Channel)
	events := s.Subscribe(session.EventConnectionLost)

	require.NoError(t, links[0].Close())

	ev := waitEvent(t, events, session.EventConnectionLost)
	require.ErrorIs(t, ev.Err, io.EOF)
	require.Equal(t, session.StateUndefined, ev.State)
	require.Equal(t, session.StateUndefined, s.State())
	require.False(t, s.IsActive())

	result, err := s.StartRecording(ads.DefaultConfig(ads.Type8Channel))
	require.Equal(t, session.StartFailedToSendCommand, result)
	require.ErrorIs(t, err, session.ErrNotConnected)
	require.False(t, s.Disconnect())

	require.NoError(t, s.Connect(context.Background(), "sim"))
	require.Equal(t, session.StateStopped, s.State())
	waitDeviceType(t, s, ads.Type8Channel)
}

func TestDisconnect(t *testing.T) {
	dev := simulator.New(ads.Type8Channel)
	s := connect(t, dev)

	require.True(t, s.Disconnect())
	require.False(t, s.Disconnect())
	require.Equal(t, session.StateUndefined, s.State())
	require.False(t, s.IsActive())

	_, err := dev.Write([]byte{ads.CmdHello})
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestUnsubscribeAfterClose(t *testing.T) {
	s := session.New()
	ch := s.Subscribe()
	s.Close()

	s.Unsubscribe(ch)
	_, ok := <-s.Subscribe()
	require.False(t, ok)
}
