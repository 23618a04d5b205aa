// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package pipeline implements the streaming transforms applied to data
// records between the device and the file writer.
package pipeline

import (
	"fmt"
	"time"
)

// Layout describes the records flowing out of (or into) a stage.
type Layout struct {
	Samples  []int         // Samples per record for each signal
	Duration time.Duration // Duration of one record
}

// SignalCount returns the number of signals.
func (l Layout) SignalCount() int {
	return len(l.Samples)
}

// Size returns the total number of samples in a record.
func (l Layout) Size() int {
	var n int
	for _, s := range l.Samples {
		n += s
	}
	return n
}

// Clone returns a copy that does not share the samples slice.
func (l Layout) Clone() Layout {
	l.Samples = append([]int(nil), l.Samples...)
	return l
}

// Record holds one block of samples per signal.
type Record [][]int

// Split cuts a flat record into per-signal blocks following the layout.
func Split(flat []int, l Layout) (Record, error) {
	if len(flat) != l.Size() {
		return nil, fmt.Errorf("expected %d samples, got %d", l.Size(), len(flat))
	}
	rec := make(Record, len(l.Samples))
	for i, n := range l.Samples {
		rec[i] = flat[:n:n]
		flat = flat[n:]
	}
	return rec, nil
}

// ConfigError is returned when a stage cannot accept its input layout.
type ConfigError struct {
	Stage  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
}

func configErrorf(stage, format string, args ...any) *ConfigError {
	return &ConfigError{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

// Stage is one transform of the pipeline. Configure is called once with the
// layout of the records the stage will receive and returns the layout it
// produces. Process consumes a record and returns an output record once a
// full one is ready. A stage takes ownership of the records passed to it.
type Stage interface {
	Configure(in Layout) (Layout, error)
	Process(rec Record) (Record, bool)
}

// Flusher is implemented by stages that buffer records. Flush returns the
// buffered data as a complete record, if there is any.
type Flusher interface {
	Flush() (Record, bool)
}

// Chain runs records through a fixed sequence of stages.
type Chain struct {
	stages []Stage
	in     Layout
	out    Layout
}

// NewChain configures the stages in order, starting from the given input layout.
func NewChain(in Layout, stages ...Stage) (*Chain, error) {
	c := &Chain{stages: stages, in: in.Clone()}

	l := in.Clone()
	for _, s := range stages {
		var err error
		if l, err = s.Configure(l); err != nil {
			return nil, err
		}
	}
	c.out = l

	return c, nil
}

// InputLayout returns the layout the chain expects.
func (c *Chain) InputLayout() Layout {
	return c.in
}

// Layout returns the layout of the records produced by the chain.
func (c *Chain) Layout() Layout {
	return c.out
}

// Process feeds one record through every stage.
func (c *Chain) Process(rec Record) (Record, bool) {
	return c.process(rec, c.stages)
}

// Flush drains the buffering stages at the end of a recording and returns
// the records still pending, in order.
func (c *Chain) Flush() []Record {
	var out []Record
	for i, s := range c.stages {
		f, ok := s.(Flusher)
		if !ok {
			continue
		}
		if rec, ok := f.Flush(); ok {
			if rec, ok = c.process(rec, c.stages[i+1:]); ok {
				out = append(out, rec)
			}
		}
	}
	return out
}

func (c *Chain) process(rec Record, stages []Stage) (Record, bool) {
	for _, s := range stages {
		var ok bool
		if rec, ok = s.Process(rec); !ok {
			return nil, false
		}
	}
	return rec, true
}
