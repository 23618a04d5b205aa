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
	"github.com/OpenPSG/adsrecorder/internal/ads"
)

// EventType identifies a session event. It doubles as the pubsub topic.
type EventType string

const (
	EventStateChanged     EventType = "state"
	EventDeviceType       EventType = "device-type"
	EventLeadOff          EventType = "lead-off"
	EventBattery          EventType = "battery"
	EventLowBattery       EventType = "low-battery"
	EventMessage          EventType = "message"
	EventStartCancelled   EventType = "start-cancelled"
	EventRecordingStarted EventType = "recording-started"
	EventRecordingStopped EventType = "recording-stopped"
	EventConnectionLost   EventType = "connection-lost"
)

var allEvents = []EventType{
	EventStateChanged,
	EventDeviceType,
	EventLeadOff,
	EventBattery,
	EventLowBattery,
	EventMessage,
	EventStartCancelled,
	EventRecordingStarted,
	EventRecordingStopped,
	EventConnectionLost,
}

// Event is published to subscribers. Only the fields relevant to the type are set.
type Event struct {
	Type       EventType
	State      State
	DeviceType ads.DeviceType
	LeadOff    []bool
	Battery    int
	Message    ads.Message
	Err        error
}

func topics(types []EventType) []string {
	if len(types) == 0 {
		types = allEvents
	}
	t := make([]string, len(types))
	for i, typ := range types {
		t[i] = string(typ)
	}
	return t
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none is given. Values received are of type Event. Slow
// subscribers miss events instead of blocking the session.
func (s *Session) Subscribe(types ...EventType) chan interface{} {
	s.brokerMu.RLock()
	defer s.brokerMu.RUnlock()
	if s.brokerClosed {
		ch := make(chan interface{})
		close(ch)
		return ch
	}
	return s.broker.Sub(topics(types)...)
}

// Unsubscribe stops delivery to a channel returned by Subscribe and closes it.
func (s *Session) Unsubscribe(ch chan interface{}) {
	s.brokerMu.RLock()
	defer s.brokerMu.RUnlock()
	if s.brokerClosed {
		return
	}

	go func() {
		for range ch {
		}
	}()
	s.broker.Unsub(ch)
}

func (s *Session) publish(events ...Event) {
	s.brokerMu.RLock()
	defer s.brokerMu.RUnlock()
	if s.brokerClosed {
		return
	}
	for _, ev := range events {
		s.broker.TryPub(ev, string(ev.Type))
	}
}
