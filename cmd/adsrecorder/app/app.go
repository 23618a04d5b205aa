// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/OpenPSG/adsrecorder/internal/config"
	"github.com/OpenPSG/adsrecorder/internal/journal"
	"github.com/OpenPSG/adsrecorder/internal/recorder"
	"github.com/OpenPSG/adsrecorder/internal/serialport"
	"github.com/OpenPSG/adsrecorder/internal/session"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// RecordOptions controls a command line recording.
type RecordOptions struct {
	For     time.Duration // Stop after this long, zero records until cancelled
	Confirm recorder.ConfirmFunc
	Out     io.Writer
	// Session options applied after the serial port opener.
	Session []func(s *session.Session)
}

// Record connects to the configured port and records until ctx is
// cancelled, opts.For elapses or the recording ends on its own.
func Record(ctx context.Context, cfg *config.Config, log *logrus.Entry, opts RecordOptions) error {
	s, err := connect(ctx, cfg, log, opts.Session)
	if err != nil {
		return err
	}
	defer s.Close()

	options := []func(r *recorder.Recorder){
		recorder.WithLogger(log),
		recorder.WithConfirm(opts.Confirm),
		recorder.WithStatusHandler(func(st recorder.Status) {
			log.WithFields(logrus.Fields{
				"state":   st.State,
				"battery": st.Battery,
				"records": humanize.Comma(st.Records),
				"elapsed": st.Elapsed.Round(time.Second),
			}).Info("Recording")
		}),
	}
	if cfg.Journal.Enabled {
		j := journal.New(cfg.Journal.Path)
		defer func() {
			if err := j.Close(); err != nil {
				log.WithError(err).Warn("Failed to close journal")
			}
		}()
		options = append(options, recorder.WithJournal(j))
	}

	r := recorder.New(s, cfg.Recording, options...)
	defer func() {
		_ = r.Close()
	}()

	path, err := r.Start(cfg.Device)
	if err != nil {
		return err
	}
	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Recording to %s\n", path)
	}

	var deadline <-chan time.Time
	if opts.For > 0 {
		timer := time.NewTimer(opts.For)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-ctx.Done():
		log.Info("Interrupted")
	case <-deadline:
	case <-r.Done():
		return r.Err()
	}

	if err := r.Stop(); err != nil {
		return err
	}

	if opts.Out != nil {
		st := r.Status()
		fmt.Fprintf(opts.Out, "Saved %s\n", path)
		if st.State == session.StateUndefined {
			fmt.Fprintln(opts.Out, "Device disconnected")
		}
	}

	return nil
}

// CheckContacts streams lead-off telemetry without writing a file and prints
// the electrodes that are off until ctx is cancelled.
func CheckContacts(ctx context.Context, cfg *config.Config, log *logrus.Entry, out io.Writer, sessionOptions ...func(s *session.Session)) error {
	s, err := connect(ctx, cfg, log, sessionOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	r := recorder.New(s, cfg.Recording,
		recorder.WithLogger(log),
		recorder.WithStatusHandler(func(st recorder.Status) {
			fmt.Fprintln(out, contactSummary(st))
		}),
	)
	defer func() {
		_ = r.Close()
	}()

	if err := r.CheckContacts(cfg.Device); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return r.Stop()
	case <-r.Done():
		return r.Err()
	}
}

func connect(ctx context.Context, cfg *config.Config, log *logrus.Entry, sessionOptions []func(s *session.Session)) (*session.Session, error) {
	options := append([]func(s *session.Session){
		session.WithLogger(log),
		session.WithOpener(serialport.Opener(cfg.Serial.BaudRate)),
	}, sessionOptions...)

	// The link must outlive ctx so an interrupted run can still stop the device.
	s := session.New(options...)
	if err := s.Connect(context.WithoutCancel(ctx), cfg.Serial.Port); err != nil {
		return nil, err
	}

	return s, nil
}

func contactSummary(st recorder.Status) string {
	if st.LeadOff == nil {
		return "Waiting for lead-off data"
	}

	var off []string
	for i, v := range st.LeadOff {
		if v {
			off = append(off, fmt.Sprintf("%d", i+1))
		}
	}
	if len(off) == 0 {
		return "All electrodes connected"
	}
	return "Electrodes off: " + strings.Join(off, ", ")
}

// Confirm returns a ConfirmFunc asking on out and reading the answer from in.
// With yes set every question is accepted without asking.
func Confirm(in io.Reader, out io.Writer, yes bool) recorder.ConfirmFunc {
	scanner := bufio.NewScanner(in)
	return func(question string) bool {
		if yes {
			return true
		}

		fmt.Fprintf(out, "%s [y/N] ", question)
		if !scanner.Scan() {
			return false
		}

		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "y", "yes":
			return true
		default:
			return false
		}
	}
}
