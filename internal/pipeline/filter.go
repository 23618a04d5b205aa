// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package pipeline

import (
	"fmt"
	"math"
	"sort"
)

// MainsFrequency is the power line frequency suppressed by the notch filter.
const MainsFrequency = 50

// Filter is a stateful single sample filter.
type Filter interface {
	Filter(v int) int
	Name() string
}

// MovingAverage averages the last n samples. Before n samples have been
// seen it averages over the samples available.
type MovingAverage struct {
	buf    []int
	pos    int
	filled int
	sum    int
}

// NewMovingAverage creates a moving average over n samples.
func NewMovingAverage(n int) *MovingAverage {
	return &MovingAverage{buf: make([]int, max(n, 1))}
}

// NotchWindow returns the moving average length that cancels the mains
// frequency for a signal sampled at sampleRate.
func NotchWindow(sampleRate int) int {
	return max(1, sampleRate/MainsFrequency)
}

func (m *MovingAverage) Filter(v int) int {
	if m.filled == len(m.buf) {
		m.sum -= m.buf[m.pos]
	} else {
		m.filled++
	}
	m.buf[m.pos] = v
	m.sum += v
	m.pos = (m.pos + 1) % len(m.buf)
	return int(math.Round(float64(m.sum) / float64(m.filled)))
}

func (m *MovingAverage) Name() string {
	return fmt.Sprintf("MovAvg:%d", len(m.buf))
}

// ChannelFilter applies per-signal filters to every sample, keeping record
// boundaries. Filter state carries over from one record to the next.
type ChannelFilter struct {
	filters map[int][]Filter
}

// NewChannelFilter creates an empty filter stage.
func NewChannelFilter() *ChannelFilter {
	return &ChannelFilter{filters: make(map[int][]Filter)}
}

// Add appends a filter to the chain of the given signal.
func (c *ChannelFilter) Add(signal int, f Filter) *ChannelFilter {
	c.filters[signal] = append(c.filters[signal], f)
	return c
}

// Filters returns the filters attached to a signal.
func (c *ChannelFilter) Filters(signal int) []Filter {
	return c.filters[signal]
}

func (c *ChannelFilter) Configure(in Layout) (Layout, error) {
	signals := make([]int, 0, len(c.filters))
	for s := range c.filters {
		signals = append(signals, s)
	}
	sort.Ints(signals)
	for _, s := range signals {
		if s < 0 || s >= in.SignalCount() {
			return Layout{}, configErrorf("channel filter", "signal %d out of range [0, %d)", s, in.SignalCount())
		}
	}
	return in.Clone(), nil
}

func (c *ChannelFilter) Process(rec Record) (Record, bool) {
	for s, filters := range c.filters {
		block := rec[s]
		for i, v := range block {
			for _, f := range filters {
				v = f.Filter(v)
			}
			block[i] = v
		}
	}
	return rec, true
}
