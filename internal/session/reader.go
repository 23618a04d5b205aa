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
	"errors"
	"io"
	"slices"
	"time"

	"github.com/OpenPSG/adsrecorder/internal/ads"
	"github.com/sirupsen/logrus"
)

// readLoop feeds every byte from the port into the current decoder until the
// port is closed.
func (s *Session) readLoop(ctx context.Context, port io.ReadWriteCloser) {
	buf := make([]byte, 1024)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			s.mu.Lock()
			dec := s.decoder
			s.mu.Unlock()

			for _, b := range buf[:n] {
				if frame, ok := dec.Feed(b); ok {
					s.handleFrame(frame)
				}
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				s.log.Warn("Port closed by device")
			} else {
				s.log.WithError(err).Error("Error reading from port")
			}
			s.dropLink(port, err)
			return
		}
	}
}

// dropLink closes a port that failed underneath the session and returns the
// session to the undefined state.
func (s *Session) dropLink(port io.ReadWriteCloser, err error) {
	s.mu.Lock()
	if s.port != port {
		s.mu.Unlock()
		return
	}
	cancel, name := s.cancel, s.portName
	s.port = nil
	s.cancel = nil
	s.starting = nil
	s.decoder = ads.NewDecoder(nil)
	s.setState(StateUndefined)
	s.mu.Unlock()

	cancel()
	if cerr := port.Close(); cerr != nil {
		s.log.WithError(cerr).Debug("Error closing failed port")
	}

	s.log.WithField("port", name).Warn("Connection lost")
	s.publish(
		Event{Type: EventConnectionLost, State: StateUndefined, Err: err},
		Event{Type: EventStateChanged, State: StateUndefined},
	)
}

func (s *Session) handleFrame(frame ads.Frame) {
	now := time.Now()
	switch frame.Kind {
	case ads.FrameMessage:
		s.handleMessage(frame.Message, now)
	case ads.FrameData:
		s.handleData(frame, now)
	}
}

func (s *Session) handleMessage(msg ads.Message, now time.Time) {
	var events []Event

	s.mu.Lock()
	if msg.Type != ads.MessageFrameBroken {
		s.lastEvent = now
	}

	switch msg.Type {
	case ads.MessageDeviceType:
		if s.deviceType != msg.DeviceType {
			s.log.WithField("device_type", msg.DeviceType).Info("Device detected")
			events = append(events, Event{Type: EventDeviceType, DeviceType: msg.DeviceType, State: s.state})
		}
		s.deviceType = msg.DeviceType
		if s.state == StateStarting {
			defer s.wakeSupervisor()
		}

	case ads.MessageLowBattery:
		s.log.Warn("Device battery is low")
		events = append(events, Event{Type: EventLowBattery, State: s.state, Message: msg})

	case ads.MessageFrameBroken:
		s.log.WithFields(logrus.Fields{"reason": msg.Info, "state": s.state}).Debug("Frame dropped")

	case ads.MessageUnknown:
		s.log.WithField("frame", msg.Info).Warn("Unknown message")

	case ads.MessageTxFail:
		s.log.Warn("Device reports a radio transmission failure")
		events = append(events, Event{Type: EventMessage, State: s.state, Message: msg})

	default:
		s.log.WithField("message", msg.Type).Debug("Message received")
		events = append(events, Event{Type: EventMessage, State: s.state, Message: msg})
	}
	s.mu.Unlock()

	s.publish(events...)
}

func (s *Session) handleData(frame ads.Frame, now time.Time) {
	var events []Event

	s.mu.Lock()
	s.lastEvent = now
	s.lastData = now

	if s.state == StateStarting && s.starting != nil && s.starting.configSent {
		s.starting = nil
		s.lastPing = now
		s.setState(StateRecording)
		s.log.Info("Recording started")
		events = append(events,
			Event{Type: EventRecordingStarted, State: StateRecording},
			Event{Type: EventStateChanged, State: StateRecording},
		)
	}
	if s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	if s.lostSignal {
		s.lostSignal = false
		s.log.Info("Data flow resumed")
	}

	if i := s.layout.Find(ads.SignalBattery); i >= 0 {
		percent := ads.BatteryPercent(frame.Record[s.layout.Signals[i].Offset])
		if percent != s.battery {
			s.battery = percent
			events = append(events, Event{Type: EventBattery, State: s.state, Battery: percent})
		}
	}
	if i := s.layout.Find(ads.SignalLeadOff); i >= 0 {
		mask := ads.LeadOffBitMask(frame.Record[s.layout.Signals[i].Offset], s.channels)
		if !slices.Equal(mask, s.leadOff) {
			s.leadOff = mask
			events = append(events, Event{Type: EventLeadOff, State: s.state, LeadOff: slices.Clone(mask)})
		}
	}

	handler := s.onData
	s.mu.Unlock()

	s.publish(events...)

	if frame.Lost > 0 {
		s.log.WithFields(logrus.Fields{"counter": frame.Counter, "lost": frame.Lost}).Warn("Data frames lost")
	}
	if handler == nil {
		return
	}

	// Lost frames are replaced by copies of the record that follows them.
	for i := 0; i < frame.Lost; i++ {
		handler(slices.Clone(frame.Record))
	}
	handler(frame.Record)
}
