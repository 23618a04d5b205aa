// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package session

import (
	"context"
	"time"

	"github.com/OpenPSG/adsrecorder/internal/ads"
)

// supervise runs every periodic duty of the session: hardware requests while
// stopped, the start handshake, pings while recording and detection of a
// silent device.
func (s *Session) supervise(ctx context.Context) {
	ticker := time.NewTicker(s.timing.Tick)
	defer ticker.Stop()

	for {
		s.step(time.Now())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// step performs whatever duty is due at now.
func (s *Session) step(now time.Time) {
	var (
		send   []byte
		events []Event
		onFail func(err error)
	)

	s.mu.Lock()
	if s.port == nil {
		s.mu.Unlock()
		return
	}

	switch s.state {
	case StateStopped:
		if now.Sub(s.lastMonitor) >= s.timing.MonitorPeriod {
			s.lastMonitor = now
			send = []byte{ads.CmdHardwareRequest}
		}

	case StateStarting:
		attempt := s.starting
		switch {
		case now.After(attempt.deadline):
			s.log.WithField("device_type", attempt.cfg.DeviceType).Warn("Device did not start in time")
			events = s.cancelStart(ErrStartTimeout)
			send = []byte{ads.CmdStop}

		case !attempt.ready:
			// StartRecording is still writing.

		case attempt.configSent:
			// Waiting for the first data frame.

		case s.deviceType == attempt.cfg.DeviceType:
			attempt.configSent = true
			send = attempt.command
			onFail = func(err error) {
				s.abortStart(attempt, err)
			}

		case s.deviceType != ads.DeviceTypeUnknown:
			s.log.WithField("device_type", s.deviceType).Warn("Connected device does not match the configuration")
			events = s.cancelStart(ErrWrongDeviceType)

		case now.Sub(attempt.lastRequest) >= s.timing.HardwareRequest:
			attempt.lastRequest = now
			send = []byte{ads.CmdHardwareRequest}
		}

	case StateRecording:
		if now.Sub(s.lastPing) >= s.timing.PingPeriod {
			s.lastPing = now
			send = []byte{ads.CmdPing}
		}
		if !s.lostSignal && now.Sub(s.lastData) >= s.timing.DataTimeout {
			s.lostSignal = true
			s.log.WithField("silence", now.Sub(s.lastData)).Error("No data from device")
			events = append(events, Event{Type: EventConnectionLost, State: StateRecording})
		}
	}
	s.mu.Unlock()

	if len(send) > 0 {
		if err := s.write(send...); err != nil {
			s.log.WithError(err).Warn("Failed to send command")
			if onFail != nil {
				onFail(err)
			}
		}
	}

	s.publish(events...)
}

// cancelStart abandons the start handshake. It must be called with mu held
// and returns the events to publish once it is released.
func (s *Session) cancelStart(err error) []Event {
	s.starting = nil
	s.decoder = ads.NewDecoder(nil)
	s.setState(StateStopped)
	return []Event{
		{Type: EventStartCancelled, State: StateStopped, Err: err},
		{Type: EventStateChanged, State: StateStopped},
	}
}
