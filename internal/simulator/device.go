// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package simulator provides an in-process amplifier that speaks the device
// wire protocol. It stands in for the serial link in tests and for the MOCK
// port.
package simulator

import (
	"context"
	"io"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/OpenPSG/adsrecorder/internal/ads"
	"github.com/OpenPSG/adsrecorder/internal/logging"
	"github.com/sirupsen/logrus"
)

// Generator returns the raw 24-bit value of one ADS sample.
type Generator func(counter uint16, channel, sample int) int

// SineGenerator produces a 10 Hz sine on every channel, shifted by channel.
func SineGenerator(sampleRate int) Generator {
	return func(counter uint16, channel, sample int) int {
		n := float64(int(counter)*int(ads.MaxDivider) + sample)
		phase := 2 * math.Pi * 10 * n / float64(sampleRate)
		return int(100000 * math.Sin(phase+float64(channel)))
	}
}

// Option configures a Device.
type Option func(d *Device)

// WithLogger sets the logger of the device.
func WithLogger(log *logrus.Entry) Option {
	return func(d *Device) {
		d.log = log.WithField("component", "simulator")
	}
}

// WithFramePeriod overrides the interval between data frames, which otherwise
// follows the configured sample rate.
func WithFramePeriod(period time.Duration) Option {
	return func(d *Device) {
		d.framePeriod = period
	}
}

// WithFrameLimit stops streaming after n data frames.
func WithFrameLimit(n int) Option {
	return func(d *Device) {
		d.frameLimit = n
	}
}

// WithSkippedCounters drops the data frames with the given counters, as a
// lossy radio link would.
func WithSkippedCounters(counters ...uint16) Option {
	return func(d *Device) {
		d.skip = append(d.skip, counters...)
	}
}

// WithoutHardwareReply makes the device ignore hardware requests.
func WithoutHardwareReply() Option {
	return func(d *Device) {
		d.mute = true
	}
}

// WithGenerator sets the source of ADS sample values.
func WithGenerator(g Generator) Option {
	return func(d *Device) {
		d.gen = g
	}
}

// WithBattery sets the raw battery value reported in data frames.
func WithBattery(raw int) Option {
	return func(d *Device) {
		d.battery = raw
	}
}

// WithLeadOff sets the raw lead-off word reported in data frames.
func WithLeadOff(value int) Option {
	return func(d *Device) {
		d.leadOff = value
	}
}

// Device is the host end of a simulated link. Bytes written to it are device
// commands, bytes read from it are device frames.
type Device struct {
	deviceType  ads.DeviceType
	log         *logrus.Entry
	framePeriod time.Duration
	frameLimit  int
	skip        []uint16
	mute        bool
	gen         Generator
	battery     int
	leadOff     int

	out     chan []byte
	pending []byte
	done    chan struct{}

	mu       sync.Mutex
	cmd      []byte
	commands [][]byte
	frames   int
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

// New creates a simulated device of the given type.
func New(t ads.DeviceType, options ...Option) *Device {
	d := &Device{
		deviceType: t,
		log:        logging.Discard(),
		battery:    7000,
		out:        make(chan []byte, 1024),
		done:       make(chan struct{}),
	}

	for _, option := range options {
		option(d)
	}

	return d
}

// Read returns the next bytes sent by the device. It blocks until the device
// sends something or the link is closed.
func (d *Device) Read(p []byte) (int, error) {
	if len(d.pending) == 0 {
		select {
		case b := <-d.out:
			d.pending = b
		case <-d.done:
			return 0, io.EOF
		}
	}

	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// Write delivers host commands to the device.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, io.ErrClosedPipe
	}

	for _, b := range p {
		if d.cmd != nil {
			d.cmd = append(d.cmd, b)
			if len(d.cmd) >= 2 && len(d.cmd) >= int(d.cmd[1]) {
				d.configure(d.cmd)
				d.cmd = nil
			}
			continue
		}

		switch {
		case b == ads.CmdHardwareRequest:
			d.record(b)
			if !d.mute {
				d.send(ads.EncodeDeviceTypeMessage(d.deviceType))
			}
		case b == ads.CmdPing:
			d.record(b)
		case b == ads.CmdHello:
			d.record(b)
			d.send(ads.EncodeHelloMessage())
		case b == ads.CmdStop:
			d.record(b)
			d.stopStreaming()
			d.send(ads.EncodeStopRecordingMessage())
		case ads.IsConfigurationCommand(b):
			d.cmd = []byte{b}
		default:
			d.log.WithField("byte", b).Warn("Unknown command")
		}
	}

	return len(p), nil
}

// Close shuts the link down. Pending reads return io.EOF.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.stopStreaming()
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}

// Commands returns every command received so far. Configuration commands
// appear as one entry.
func (d *Device) Commands() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmds := make([][]byte, len(d.commands))
	for i, c := range d.commands {
		cmds[i] = slices.Clone(c)
	}
	return cmds
}

// CountCommand returns how many times a single byte command was received.
func (d *Device) CountCommand(b byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var n int
	for _, c := range d.commands {
		if len(c) == 1 && c[0] == b {
			n++
		}
	}
	return n
}

// FramesSent returns the number of data frames written to the link.
func (d *Device) FramesSent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Streaming reports whether the device is sending data frames.
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// SendLowBattery emits a low battery notification.
func (d *Device) SendLowBattery() {
	d.Inject(ads.EncodeLowBatteryMessage())
}

// Inject sends raw bytes to the host as if the device had produced them.
func (d *Device) Inject(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.send(slices.Clone(b))
}

func (d *Device) record(b ...byte) {
	d.commands = append(d.commands, slices.Clone(b))
}

// send must be called with mu held.
func (d *Device) send(b []byte) {
	if d.closed {
		return
	}
	select {
	case d.out <- b:
	default:
		d.log.Warn("Output buffer full, dropping frame")
	}
}

// configure must be called with mu held.
func (d *Device) configure(cmd []byte) {
	d.record(cmd...)

	cfg, err := ads.ParseConfigurationCommand(cmd)
	if err != nil {
		d.log.WithError(err).Warn("Rejected configuration command")
		return
	}
	if cfg.DeviceType != d.deviceType {
		d.log.WithField("device_type", cfg.DeviceType).Warn("Configuration for another device type")
		return
	}

	d.stopStreaming()

	period := d.framePeriod
	if period == 0 {
		period = cfg.FrameDuration()
	}
	gen := d.gen
	if gen == nil {
		gen = SineGenerator(int(cfg.SampleRate))
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.stream(ctx, cfg, period, gen)
	}()
}

// stopStreaming must be called with mu held.
func (d *Device) stopStreaming() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Device) stream(ctx context.Context, cfg ads.DeviceConfig, period time.Duration, gen Generator) {
	d.log.WithField("period", period).Info("Streaming started")
	defer d.log.Info("Streaming stopped")

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var counter uint16
	var sent int
	accel := [3]int{12000, 12000, 12000}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if d.frameLimit > 0 && sent >= d.frameLimit {
			return
		}

		c := counter
		counter++
		if slices.Contains(d.skip, c) {
			continue
		}

		fd := ads.FrameValues{Counter: c, Battery: d.battery, LeadOff: d.leadOff}
		for i, chCfg := range cfg.Channels {
			if !chCfg.Enabled {
				continue
			}
			samples := make([]int, cfg.SamplesPerFrame(i))
			for s := range samples {
				samples[s] = gen(c, i, s)
			}
			fd.Channels = append(fd.Channels, samples)
		}
		accel[int(c)%3] += 10
		fd.Accel = accel

		frame, err := ads.EncodeDataFrame(cfg, fd)
		if err != nil {
			d.log.WithError(err).Error("Failed to encode data frame")
			return
		}

		d.mu.Lock()
		if ctx.Err() != nil {
			d.mu.Unlock()
			return
		}
		d.send(frame)
		d.frames++
		d.mu.Unlock()
		sent++
	}
}
