// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package session drives the amplifier over its serial link: connection,
// device monitoring, the start handshake, keep-alive pings and the decoding
// of incoming frames.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/OpenPSG/adsrecorder/internal/ads"
	"github.com/OpenPSG/adsrecorder/internal/logging"
	"github.com/OpenPSG/adsrecorder/internal/serialport"
	"github.com/cskr/pubsub"
	"github.com/sirupsen/logrus"
)

// Opener opens the byte link to the device.
type Opener func(name string) (io.ReadWriteCloser, error)

// DataHandler receives the decoded data records while recording. It is
// called on the goroutine reading the link and must not block for long.
type DataHandler func(rec ads.DataRecord)

// Timing holds the periods of the session watchdogs.
type Timing struct {
	Tick            time.Duration // Resolution of the supervisor
	MonitorPeriod   time.Duration // Hardware requests while stopped
	PingPeriod      time.Duration // Keep-alive while recording
	HardwareRequest time.Duration // Hardware requests while starting
	StartTimeout    time.Duration // Deadline for the start handshake
	ActiveWindow    time.Duration // Recent traffic that makes the device active
	DataTimeout     time.Duration // Silence that means the device is lost while recording
}

// DefaultTiming returns the watchdog periods used with real hardware.
func DefaultTiming() Timing {
	return Timing{
		Tick:            50 * time.Millisecond,
		MonitorPeriod:   500 * time.Millisecond,
		PingPeriod:      time.Second,
		HardwareRequest: time.Second,
		StartTimeout:    20 * time.Second,
		ActiveWindow:    time.Second,
		DataTimeout:     2 * time.Second,
	}
}

// WithLogger sets the logger for the session
func WithLogger(log *logrus.Entry) func(s *Session) {
	return func(s *Session) {
		s.log = log.WithField("component", "session")
	}
}

// WithOpener replaces the serial port opener.
func WithOpener(o Opener) func(s *Session) {
	return func(s *Session) {
		s.opener = o
	}
}

// WithTiming overrides the watchdog periods.
func WithTiming(t Timing) func(s *Session) {
	return func(s *Session) {
		s.timing = t
	}
}

// Session is the connection to one device.
type Session struct {
	log    *logrus.Entry
	opener Opener
	timing Timing

	broker       *pubsub.PubSub
	brokerMu     sync.RWMutex
	brokerClosed bool

	writeMu sync.Mutex

	// Guarded by mu.
	mu          sync.Mutex
	state       State
	port        io.ReadWriteCloser
	portName    string
	decoder     *ads.Decoder
	layout      ads.Layout
	channels    int
	onData      DataHandler
	deviceType  ads.DeviceType
	lastEvent   time.Time
	lastData    time.Time
	leadOff     []bool
	battery     int
	starting    *startAttempt
	lastMonitor time.Time
	lastPing    time.Time
	lostSignal  bool

	cancel context.CancelFunc
	wake   chan struct{}
	wg     sync.WaitGroup
}

// startAttempt tracks the start handshake.
type startAttempt struct {
	cfg         ads.DeviceConfig
	command     []byte
	deadline    time.Time
	lastRequest time.Time
	ready       bool // Initial commands written
	configSent  bool
}

// New creates a disconnected session.
func New(options ...func(s *Session)) *Session {
	s := &Session{
		log:     logging.Discard(),
		opener:  serialport.Opener(serialport.DefaultBaudRate),
		timing:  DefaultTiming(),
		broker:  pubsub.New(32),
		battery: -1,
		wake:    make(chan struct{}, 1),
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// SetDataHandler installs the receiver of data records. A nil handler
// removes it.
func (s *Session) SetDataHandler(h DataHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onData = h
}

// Connect opens the named port and starts monitoring the device.
func (s *Session) Connect(ctx context.Context, name string) error {
	s.Disconnect()

	port, err := s.opener(name)
	if err != nil {
		cerr := &ConnectionError{Kind: ConnectionOther, Port: name, Err: err}
		switch {
		case errors.Is(err, serialport.ErrPortBusy):
			cerr.Kind = ConnectionBusy
		case errors.Is(err, serialport.ErrPortNotFound):
			cerr.Kind = ConnectionNotFound
		}
		s.log.WithField("port", name).WithError(err).Error("Failed to open port")
		return cerr
	}

	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.port = port
	s.portName = name
	s.decoder = ads.NewDecoder(nil)
	s.deviceType = ads.DeviceTypeUnknown
	s.leadOff = nil
	s.battery = -1
	s.lastEvent = time.Time{}
	s.lastMonitor = time.Time{}
	s.cancel = cancel
	s.setState(StateStopped)
	s.mu.Unlock()

	s.log.WithField("port", name).Info("Connected")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.readLoop(ctx, port)
	}()
	go func() {
		defer s.wg.Done()
		s.supervise(ctx)
	}()

	return nil
}

// Disconnect stops the watchdogs and closes the port. It returns false when
// the session was not connected.
func (s *Session) Disconnect() bool {
	s.mu.Lock()
	if s.port == nil {
		s.mu.Unlock()
		// The link may have dropped on its own, its goroutines can still be exiting.
		s.wg.Wait()
		return false
	}
	port, cancel, name := s.port, s.cancel, s.portName
	prev := s.state
	s.port = nil
	s.cancel = nil
	s.starting = nil
	s.setState(StateUndefined)
	s.mu.Unlock()

	cancel()
	if err := port.Close(); err != nil {
		s.log.WithError(err).Warn("Error closing port")
	}
	s.wg.Wait()

	switch prev {
	case StateStarting:
		s.publish(Event{Type: EventStartCancelled, State: StateUndefined, Err: ErrNotConnected})
	case StateRecording:
		s.publish(Event{Type: EventRecordingStopped, State: StateUndefined})
	}
	s.log.WithField("port", name).Info("Disconnected")
	return true
}

// Close disconnects and releases the event broker. Subscriber channels are closed.
func (s *Session) Close() {
	s.Disconnect()

	s.brokerMu.Lock()
	defer s.brokerMu.Unlock()
	if !s.brokerClosed {
		s.brokerClosed = true
		s.broker.Shutdown()
	}
}

// StartRecording configures the device and waits in the background for it
// to stream. A nil error accompanies StartSuccess and StartAlreadyRecording.
func (s *Session) StartRecording(cfg ads.DeviceConfig) (StartResult, error) {
	cfg = cfg.Clone()

	s.mu.Lock()
	switch {
	case s.port == nil:
		s.mu.Unlock()
		return StartFailedToSendCommand, ErrNotConnected
	case s.state == StateRecording || s.state == StateStarting:
		s.mu.Unlock()
		return StartAlreadyRecording, nil
	case s.deviceType != ads.DeviceTypeUnknown && s.deviceType != cfg.DeviceType:
		known := s.deviceType
		s.mu.Unlock()
		return StartWrongDeviceType, fmt.Errorf("%w: connected %s, configured %s", ErrWrongDeviceType, known, cfg.DeviceType)
	}

	cmd, err := ads.ConfigurationCommand(cfg)
	if err != nil {
		s.mu.Unlock()
		return StartFailedToSendCommand, fmt.Errorf("invalid configuration: %w", err)
	}

	now := time.Now()
	typeKnown := s.deviceType == cfg.DeviceType
	attempt := &startAttempt{
		cfg:         cfg,
		command:     cmd,
		deadline:    now.Add(s.timing.StartTimeout),
		lastRequest: now,
		configSent:  typeKnown,
	}
	s.starting = attempt
	s.decoder = ads.NewDecoder(&cfg)
	s.layout = cfg.Layout()
	s.channels = cfg.DeviceType.ChannelCount()
	s.lostSignal = false
	s.setState(StateStarting)
	s.mu.Unlock()

	log := s.log.WithField("device_type", cfg.DeviceType)
	log.Info("Starting recording")
	s.publish(Event{Type: EventStateChanged, State: StateStarting})

	// Stop first, the device may still stream from an earlier session.
	send := [][]byte{{ads.CmdStop}}
	if typeKnown {
		send = append(send, cmd)
	} else {
		// The supervisor sends the configuration once the type is confirmed.
		send = append(send, []byte{ads.CmdHardwareRequest})
	}
	for _, b := range send {
		if err := s.write(b...); err != nil {
			s.abortStart(attempt, err)
			return StartFailedToSendCommand, err
		}
	}

	s.mu.Lock()
	attempt.ready = true
	s.mu.Unlock()
	s.wakeSupervisor()

	return StartSuccess, nil
}

// abortStart reverts a failed start to the stopped state.
func (s *Session) abortStart(attempt *startAttempt, err error) {
	s.mu.Lock()
	if s.starting != attempt {
		s.mu.Unlock()
		return
	}
	s.starting = nil
	s.decoder = ads.NewDecoder(nil)
	s.setState(StateStopped)
	s.mu.Unlock()

	s.log.WithError(err).Error("Failed to send start commands")
	s.publish(Event{Type: EventStateChanged, State: StateStopped})
}

// StopRecording stops the device and returns to monitoring. It reports
// whether the stop command was sent.
func (s *Session) StopRecording() bool {
	s.mu.Lock()
	if s.port == nil {
		s.mu.Unlock()
		return false
	}
	prev := s.state
	s.starting = nil
	s.decoder = ads.NewDecoder(nil)
	s.setState(StateStopped)
	s.mu.Unlock()

	err := s.write(ads.CmdStop)
	if err != nil {
		s.log.WithError(err).Error("Failed to send stop command")
	}

	switch prev {
	case StateStarting:
		s.publish(Event{Type: EventStartCancelled, State: StateStopped, Err: ErrStartCancelled})
	case StateRecording:
		s.publish(Event{Type: EventRecordingStopped, State: StateStopped})
	}
	if prev != StateStopped {
		s.log.Info("Recording stopped")
		s.publish(Event{Type: EventStateChanged, State: StateStopped})
	}

	return err == nil
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRecording reports whether data frames are being received.
func (s *Session) IsRecording() bool {
	return s.State() == StateRecording
}

// IsActive reports whether the device sent anything recently.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil && !s.lastEvent.IsZero() && time.Since(s.lastEvent) <= s.timing.ActiveWindow
}

// DeviceType returns the type reported by the device, if known yet.
func (s *Session) DeviceType() ads.DeviceType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceType
}

// LeadOff returns the latest lead-off mask, nil before any was received.
func (s *Session) LeadOff() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.leadOff)
}

// Battery returns the latest battery level in percent.
func (s *Session) Battery() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battery, s.battery >= 0
}

// PortName returns the name of the port last connected to.
func (s *Session) PortName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portName
}

// setState must be called with mu held.
func (s *Session) setState(state State) {
	if s.state != state {
		s.log.WithField("state", state).Debug("State changed")
	}
	s.state = state
}

func (s *Session) write(b ...byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := port.Write(b); err != nil {
		return fmt.Errorf("error writing to port: %w", err)
	}
	return nil
}

// wakeSupervisor makes the supervisor run before its next tick.
func (s *Session) wakeSupervisor() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
