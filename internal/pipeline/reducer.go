// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package pipeline

import "math"

// FrequencyReducer brings every signal to the same number of samples per
// record. Faster signals are averaged over groups of consecutive samples,
// slower ones have each sample repeated.
type FrequencyReducer struct {
	target int
	down   []int // Group size per signal, 1 if unchanged
	up     []int // Repeat count per signal, 1 if unchanged
}

// NewFrequencyReducer creates a reducer producing target samples per signal.
// A target of 0 selects the smallest sample count of the input layout.
func NewFrequencyReducer(target int) *FrequencyReducer {
	return &FrequencyReducer{target: target}
}

func (r *FrequencyReducer) Configure(in Layout) (Layout, error) {
	if in.SignalCount() == 0 {
		return Layout{}, configErrorf("frequency reducer", "no signals")
	}

	target := r.target
	if target == 0 {
		target = math.MaxInt
		for _, n := range in.Samples {
			target = min(target, n)
		}
	}
	if target < 1 {
		return Layout{}, configErrorf("frequency reducer", "target must be positive, got %d", target)
	}

	r.down = make([]int, in.SignalCount())
	r.up = make([]int, in.SignalCount())
	out := Layout{Samples: make([]int, in.SignalCount()), Duration: in.Duration}
	for i, n := range in.Samples {
		r.down[i], r.up[i] = 1, 1
		switch {
		case n >= target && n%target == 0:
			r.down[i] = n / target
		case n < target && n > 0 && target%n == 0:
			r.up[i] = target / n
		default:
			return Layout{}, configErrorf("frequency reducer", "signal %d: %d samples cannot be scaled to %d by an integer factor", i, n, target)
		}
		out.Samples[i] = target
	}

	return out, nil
}

func (r *FrequencyReducer) Process(rec Record) (Record, bool) {
	for i, block := range rec {
		switch {
		case r.down[i] > 1:
			rec[i] = average(block, r.down[i])
		case r.up[i] > 1:
			rec[i] = repeat(block, r.up[i])
		}
	}
	return rec, true
}

func average(block []int, group int) []int {
	out := make([]int, 0, len(block)/group)
	for i := 0; i+group <= len(block); i += group {
		var sum int
		for _, v := range block[i : i+group] {
			sum += v
		}
		out = append(out, int(math.Round(float64(sum)/float64(group))))
	}
	return out
}

func repeat(block []int, times int) []int {
	out := make([]int, 0, len(block)*times)
	for _, v := range block {
		for k := 0; k < times; k++ {
			out = append(out, v)
		}
	}
	return out
}
