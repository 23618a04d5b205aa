// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package recorder turns the data records of a device session into files.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenPSG/adsrecorder/edf"
	"github.com/OpenPSG/adsrecorder/internal/ads"
	"github.com/OpenPSG/adsrecorder/internal/config"
	"github.com/OpenPSG/adsrecorder/internal/journal"
	"github.com/OpenPSG/adsrecorder/internal/logging"
	"github.com/OpenPSG/adsrecorder/internal/pipeline"
	"github.com/OpenPSG/adsrecorder/internal/session"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ConfirmFunc asks the user a yes or no question.
type ConfirmFunc func(question string) bool

// Status is a snapshot of the device and the running recording.
type Status struct {
	State    session.State
	Active   bool
	Battery  int    // Percent, -1 when unknown
	LeadOff  []bool // Electrode off flags, nil when not reported
	Checking bool   // Contact check without a file
	Path     string
	Frames   int64 // Data records received from the device
	Records  int64 // Data records written to the file
	Elapsed  time.Duration
}

// WithLogger sets the logger for the recorder
func WithLogger(log *logrus.Entry) func(r *Recorder) {
	return func(r *Recorder) {
		r.log = log.WithField("component", "recorder")
	}
}

// WithJournal catalogs every recording in j.
func WithJournal(j *journal.Journal) func(r *Recorder) {
	return func(r *Recorder) {
		r.journal = j
	}
}

// WithConfirm sets the question asked before creating a missing recording
// directory. Without it the directory is never created.
func WithConfirm(confirm ConfirmFunc) func(r *Recorder) {
	return func(r *Recorder) {
		r.confirm = confirm
	}
}

// WithStatusHandler receives a Status every notify period while a recording
// or contact check runs.
func WithStatusHandler(h func(Status)) func(r *Recorder) {
	return func(r *Recorder) {
		r.onStatus = h
	}
}

// WithAlertHandler receives the reason of every recording that ended on its own.
func WithAlertHandler(h func(err error)) func(r *Recorder) {
	return func(r *Recorder) {
		r.onAlert = h
	}
}

// Recorder writes the records of a device session to files.
type Recorder struct {
	log      *logrus.Entry
	session  *session.Session
	settings config.RecordingConfig
	journal  *journal.Journal
	confirm  ConfirmFunc
	onStatus func(Status)
	onAlert  func(err error)
	now      func() time.Time

	// Guards the file of the current recording.
	mu      sync.Mutex
	current *recording
	last    *recording

	wg sync.WaitGroup
}

type recording struct {
	id        string
	journaled bool
	cfg       ads.DeviceConfig
	chain     *pipeline.Chain
	file      *edf.File // Nil when checking contacts
	started   time.Time

	frames  atomic.Int64
	records atomic.Int64
	stopped atomic.Bool

	finishOnce sync.Once
	err        error
	done       chan struct{}
}

// New creates a recorder fed by s. It installs itself as the data handler of s.
func New(s *session.Session, settings config.RecordingConfig, options ...func(r *Recorder)) *Recorder {
	r := &Recorder{
		log:      logging.Discard(),
		session:  s,
		settings: settings,
		now:      time.Now,
	}

	for _, option := range options {
		option(r)
	}

	s.SetDataHandler(r.handleRecord)

	return r
}

// Start creates the recording file and starts the device. It returns the
// path of the file.
func (r *Recorder) Start(cfg ads.DeviceConfig) (string, error) {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid device configuration: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return "", ErrAlreadyRecording
	}

	plan, err := NewPlan(cfg, r.settings.RecordDuration.Std(), r.settings.UniformSamples)
	if err != nil {
		return "", fmt.Errorf("invalid recording configuration: %w", err)
	}

	if err := r.ensureDirectory(); err != nil {
		return "", err
	}

	rec := &recording{
		id:      uuid.NewString(),
		cfg:     cfg,
		chain:   plan.Chain,
		started: r.now(),
		done:    make(chan struct{}),
	}

	recordingID := r.settings.RecordingID
	if recordingID == "" {
		recordingID = rec.id
	}
	hdr := plan.Header(cfg, r.settings.FileFormat, r.settings.PatientID, recordingID, rec.started)

	path := FileName(r.settings.Directory, r.settings.Name, rec.started, r.settings.FileFormat)
	if rec.file, err = edf.CreateFile(path, hdr); err != nil {
		return "", &IOError{Op: "create", Path: path, Err: err}
	}

	log := r.log.WithField("file", path)

	if r.journal != nil {
		if _, err := r.journal.Begin(context.Background(), rec.id, path, cfg.DeviceType.String(), rec.started, cfg); err != nil {
			log.WithError(err).Warn("Failed to add recording to journal")
		} else {
			rec.journaled = true
		}
	}

	if err := r.begin(rec); err != nil {
		r.discard(rec)
		return "", err
	}

	log.WithFields(logrus.Fields{
		"signals":  len(hdr.Signals),
		"duration": hdr.DataRecordDuration,
		"format":   r.settings.FileFormat,
	}).Info("Recording")

	return path, nil
}

// CheckContacts starts the device with lead-off detection on every enabled
// channel and nothing else. No file is written, the lead-off mask is
// reported through Status.
func (r *Recorder) CheckContacts(cfg ads.DeviceConfig) error {
	cfg = cfg.Clone()
	cfg.Accelerometer.Enabled = false
	cfg.BatteryMeasurementEnabled = false
	for i := range cfg.Channels {
		if cfg.Channels[i].Enabled {
			cfg.Channels[i].LeadOffEnabled = true
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid device configuration: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return ErrAlreadyRecording
	}

	rec := &recording{
		cfg:     cfg,
		started: r.now(),
		done:    make(chan struct{}),
	}
	if err := r.begin(rec); err != nil {
		close(rec.done)
		return err
	}

	r.log.Info("Checking contacts")
	return nil
}

// Stop ends the running recording or contact check and closes its file. It
// returns the error that ended the recording, if it ended on its own, joined
// with any error closing the file.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	rec := r.current
	r.mu.Unlock()
	if rec == nil {
		return nil
	}

	r.finish(rec, nil)
	return rec.err
}

// Close stops any recording and waits for the background work to end.
func (r *Recorder) Close() error {
	err := r.Stop()
	r.wg.Wait()
	return err
}

// Done returns a channel closed when the current recording ends.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.current != nil:
		return r.current.done
	case r.last != nil:
		return r.last.done
	default:
		done := make(chan struct{})
		close(done)
		return done
	}
}

// Err returns why the last recording ended, nil when it was stopped normally.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last == nil {
		return nil
	}
	return r.last.err
}

// Status returns a snapshot of the device and the running recording.
func (r *Recorder) Status() Status {
	st := Status{
		State:   r.session.State(),
		Active:  r.session.IsActive(),
		Battery: -1,
		LeadOff: r.session.LeadOff(),
	}
	if level, ok := r.session.Battery(); ok {
		st.Battery = level
	}

	r.mu.Lock()
	rec := r.current
	r.mu.Unlock()

	if rec != nil {
		st.Checking = rec.file == nil
		if rec.file != nil {
			st.Path = rec.file.Path()
		}
		st.Frames = rec.frames.Load()
		st.Records = rec.records.Load()
		st.Elapsed = r.now().Sub(rec.started)
	}

	return st
}

// begin starts the device for rec. It must be called with mu held.
func (r *Recorder) begin(rec *recording) error {
	events := r.session.Subscribe(
		session.EventRecordingStarted,
		session.EventRecordingStopped,
		session.EventStartCancelled,
		session.EventLowBattery,
		session.EventConnectionLost,
	)

	res, err := r.session.StartRecording(rec.cfg)
	if res != session.StartSuccess {
		r.session.Unsubscribe(events)
		return &StartError{Result: res, Err: err}
	}

	r.current = rec

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.watch(rec, events)
	}()

	if period := r.settings.NotifyPeriod.Std(); period > 0 && r.onStatus != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.notify(rec, period)
		}()
	}

	return nil
}

// discard removes the file of a recording that never started. It must be
// called with mu held.
func (r *Recorder) discard(rec *recording) {
	if err := rec.file.Close(); err != nil {
		r.log.WithError(err).Warn("Failed to remove unused file")
	}
	if rec.journaled {
		if err := r.journal.Finish(context.Background(), rec.id, 0, r.now(), journal.StatusFailed); err != nil {
			r.log.WithError(err).Warn("Failed to update journal")
		}
	}
	close(rec.done)
}

// handleRecord runs on the session read goroutine.
func (r *Recorder) handleRecord(raw ads.DataRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.current
	if rec == nil || rec.stopped.Load() {
		return
	}
	rec.frames.Add(1)
	if rec.file == nil {
		return
	}

	split, err := pipeline.Split(raw, rec.chain.InputLayout())
	if err != nil {
		r.log.WithError(err).Error("Unexpected record layout")
		return
	}

	out, ok := rec.chain.Process(split)
	if !ok {
		return
	}
	if err := rec.file.WriteRecord(out); err != nil {
		rec.stopped.Store(true)
		ioErr := &IOError{Op: "write", Path: rec.file.Path(), Err: err}
		go r.finish(rec, ioErr)
		return
	}
	rec.records.Add(1)
}

// watch ends rec when the session reports a condition that stops it.
func (r *Recorder) watch(rec *recording, events chan interface{}) {
	defer r.session.Unsubscribe(events)

	for {
		select {
		case <-rec.done:
			return
		case msg, ok := <-events:
			if !ok {
				r.finish(rec, session.ErrNotConnected)
				return
			}

			ev := msg.(session.Event)
			switch ev.Type {
			case session.EventRecordingStarted:
				r.log.Debug("Device is streaming")
			case session.EventLowBattery:
				r.finish(rec, ErrLowBattery)
			case session.EventConnectionLost:
				r.finish(rec, ErrConnectionLost)
			case session.EventStartCancelled:
				switch {
				case errors.Is(ev.Err, session.ErrStartCancelled):
					r.finish(rec, nil)
				case errors.Is(ev.Err, session.ErrNotConnected):
					r.finish(rec, session.ErrNotConnected)
				default:
					r.finish(rec, &StartError{Result: session.StartFailedToSendCommand, Err: ev.Err})
				}
			case session.EventRecordingStopped:
				if ev.State == session.StateUndefined {
					r.finish(rec, session.ErrNotConnected)
				} else {
					r.finish(rec, nil)
				}
			}
		}
	}
}

func (r *Recorder) notify(rec *recording, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-rec.done:
			return
		case <-ticker.C:
			r.onStatus(r.Status())
		}
	}
}

// finish ends rec once. cause is nil when the recording was stopped on request.
func (r *Recorder) finish(rec *recording, cause error) {
	rec.finishOnce.Do(func() {
		rec.stopped.Store(true)
		r.session.StopRecording()

		// Waits for a record being written.
		r.mu.Lock()
		if r.current == rec {
			r.current = nil
		}
		r.mu.Unlock()

		err := cause
		log := r.log
		if rec.file != nil {
			log = log.WithField("file", rec.file.Path())
			err = errors.Join(err, r.closeFile(rec))
		}

		if rec.journaled {
			status := journal.StatusCompleted
			if cause != nil {
				status = journal.StatusFailed
			}
			if jerr := r.journal.Finish(context.Background(), rec.id, rec.records.Load(), r.now(), status); jerr != nil {
				log.WithError(jerr).Warn("Failed to update journal")
			}
		}

		if cause != nil {
			log.WithError(cause).Error("Recording ended")
			if r.onAlert != nil {
				r.onAlert(cause)
			}
		}

		r.mu.Lock()
		rec.err = err
		r.last = rec
		r.mu.Unlock()
		close(rec.done)
	})
}

func (r *Recorder) closeFile(rec *recording) error {
	log := r.log.WithField("file", rec.file.Path())

	for _, out := range rec.chain.Flush() {
		if err := rec.file.WriteRecord(out); err != nil {
			log.WithError(err).Error("Failed to write final record")
			break
		}
		rec.records.Add(1)
	}

	if err := rec.file.Close(); err != nil {
		return &IOError{Op: "close", Path: rec.file.Path(), Err: err}
	}

	if rec.file.Removed() {
		log.Warn("No data recorded, file removed")
		return nil
	}

	log.WithFields(logrus.Fields{
		"records": rec.records.Load(),
		"size":    humanize.Bytes(uint64(rec.file.Size())),
		"elapsed": r.now().Sub(rec.started).Round(time.Millisecond),
	}).Info("Recording saved")
	return nil
}

// ensureDirectory creates the recording directory once the user agrees.
func (r *Recorder) ensureDirectory() error {
	dir := r.settings.Directory

	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return &IOError{Op: "use", Path: dir, Err: errors.New("not a directory")}
	case !errors.Is(err, fs.ErrNotExist):
		return &IOError{Op: "access", Path: dir, Err: err}
	}

	question := fmt.Sprintf("Directory %s does not exist. Create it?", dir)
	if r.confirm == nil || !r.confirm(question) {
		return fmt.Errorf("%w: %s", ErrDirectoryNotConfirmed, dir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "create", Path: dir, Err: err}
	}
	r.log.WithField("directory", dir).Info("Created recording directory")
	return nil
}
